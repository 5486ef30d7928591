/*
handlers.go - HTTP API handlers for the bulk payment engine

PURPOSE:
  Exposes batch, schedule and analytics operations via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  services.

ENDPOINTS:
  Batches:
    POST   /api/bulk-payment/batch                  Create draft batch
    POST   /api/bulk-payment/batch/{batchId}/process Start background processing
    GET    /api/bulk-payment/batch/{batchId}        Batch with items (polling)
    GET    /api/bulk-payment/batch/{batchId}/payments Payments the batch created
    GET    /api/bulk-payment/batches                List batches, most recent first

  Schedules:
    POST   /api/bulk-payment/schedule               Create schedule
    GET    /api/bulk-payment/schedule/{scheduleId}  Schedule with payment log
    GET    /api/bulk-payment/schedule/{scheduleId}/payments Payments the schedule created
    GET    /api/bulk-payment/schedules              List schedules, soonest due first
    POST   /api/bulk-payment/process-scheduled      Run due schedules now
    GET    /api/bulk-payment/schedule-runs          Recent runs

  Analytics:
    GET    /api/bulk-payment/analytics              Revenue rollup and recent activity

  Scenarios:
    GET    /api/scenarios                           List demo scenarios
    POST   /api/scenarios/load                      Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies. Every request carries the caller
  identity (see server.go); handlers never read organization IDs from the
  body or URL.

REQUEST FLOW:
  1. Decode JSON body
  2. Validate DTO (go-playground/validator)
  3. Convert to service input
  4. Call domain service
  5. Wrap result in the success envelope

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input (details list the fields)
  - 404: Resource not found
  - 409: Conflict (batch no longer draft)
  - 500: Internal errors (logged, never echoed)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/analytics"
	"github.com/warp/rent-engine/bulkpay"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/recurring"
	"github.com/warp/rent-engine/rental"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Batches   *bulkpay.Service
	Schedules *recurring.Service
	Processor *recurring.Processor
	Analytics *analytics.Service
	Seed      ScenarioStore

	validate *validator.Validate
	now      func() time.Time
	log      *logrus.Entry
}

// NewHandler creates a handler. seed may be nil, which disables scenario loading.
func NewHandler(
	batches *bulkpay.Service,
	schedules *recurring.Service,
	processor *recurring.Processor,
	dashboards *analytics.Service,
	seed ScenarioStore,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		Batches:   batches,
		Schedules: schedules,
		Processor: processor,
		Analytics: dashboards,
		Seed:      seed,
		validate:  newValidator(),
		now:       time.Now,
		log:       logger.WithField("component", "api"),
	}
}

// WithClock replaces the wall clock used for manual runs, for tests.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// CreateBatch expands the filters and stores a draft batch.
// POST /api/bulk-payment/batch
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	in, err := req.toInput()
	if err != nil {
		h.fail(w, r, "Invalid batch request", err)
		return
	}

	batch, err := h.Batches.CreateBatch(r.Context(), identityFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, "Failed to create batch", err)
		return
	}

	writeSuccess(w, http.StatusCreated, toBatchDTO(*batch), "Batch created")
}

// ProcessBatch starts background processing and returns immediately.
// POST /api/bulk-payment/batch/{batchId}/process
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Batches.StartProcessing(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "batchId"))
	if err != nil {
		h.fail(w, r, "Failed to start batch processing", err)
		return
	}

	writeSuccess(w, http.StatusAccepted, toBatchDTO(*batch), "Batch processing started")
}

// GetBatch returns one batch with its items.
// GET /api/bulk-payment/batch/{batchId}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	batch, err := h.Batches.GetBatch(r.Context(), id.OrganizationID, chi.URLParam(r, "batchId"))
	if err != nil {
		h.fail(w, r, "Failed to get batch", err)
		return
	}

	writeSuccess(w, http.StatusOK, toBatchDTO(*batch), "")
}

// ListBatchPayments returns the payments a batch created, oldest first.
// GET /api/bulk-payment/batch/{batchId}/payments
func (h *Handler) ListBatchPayments(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	payments, err := h.Batches.Payments(r.Context(), id.OrganizationID, chi.URLParam(r, "batchId"))
	if err != nil {
		h.fail(w, r, "Failed to list batch payments", err)
		return
	}

	writeSuccess(w, http.StatusOK, toPaymentDTOs(payments), "")
}

// ListBatches returns batches most recent first.
// GET /api/bulk-payment/batches?status=&limit=
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, "Invalid query", err)
		return
	}
	status := bulkpay.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		h.fail(w, r, "Invalid query", &generic.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)})
		return
	}

	id := identityFrom(r.Context())
	batches, err := h.Batches.ListBatches(r.Context(), id.OrganizationID, bulkpay.ListQuery{Status: status, Limit: limit})
	if err != nil {
		h.fail(w, r, "Failed to list batches", err)
		return
	}

	writeSuccess(w, http.StatusOK, toBatchDTOs(batches), "")
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// CreateSchedule stores a new active schedule.
// POST /api/bulk-payment/schedule
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	in, err := req.toInput()
	if err != nil {
		h.fail(w, r, "Invalid schedule request", err)
		return
	}

	sched, err := h.Schedules.CreateSchedule(r.Context(), identityFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, "Failed to create schedule", err)
		return
	}

	writeSuccess(w, http.StatusCreated, toScheduleDTO(*sched), "Schedule created")
}

// GetSchedule returns one schedule with its payment log.
// GET /api/bulk-payment/schedule/{scheduleId}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	sched, err := h.Schedules.GetSchedule(r.Context(), id.OrganizationID, chi.URLParam(r, "scheduleId"))
	if err != nil {
		h.fail(w, r, "Failed to get schedule", err)
		return
	}

	writeSuccess(w, http.StatusOK, toScheduleDTO(*sched), "")
}

// ListSchedulePayments returns the payments a schedule created, oldest first.
// GET /api/bulk-payment/schedule/{scheduleId}/payments
func (h *Handler) ListSchedulePayments(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	payments, err := h.Schedules.Payments(r.Context(), id.OrganizationID, chi.URLParam(r, "scheduleId"))
	if err != nil {
		h.fail(w, r, "Failed to list schedule payments", err)
		return
	}

	writeSuccess(w, http.StatusOK, toPaymentDTOs(payments), "")
}

// ListSchedules returns schedules soonest due first.
// GET /api/bulk-payment/schedules?tenantId=&status=&limit=
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, "Invalid query", err)
		return
	}

	q := r.URL.Query()
	id := identityFrom(r.Context())
	schedules, err := h.Schedules.ListSchedules(r.Context(), id.OrganizationID, recurring.ListQuery{
		TenantID: q.Get("tenantId"),
		Status:   recurring.Status(q.Get("status")),
		Limit:    limit,
	})
	if err != nil {
		h.fail(w, r, "Failed to list schedules", err)
		return
	}

	dtos := make([]ScheduleDTO, len(schedules))
	for i, s := range schedules {
		dtos[i] = toScheduleDTO(s)
	}
	writeSuccess(w, http.StatusOK, dtos, "")
}

// ProcessScheduled runs the caller's due schedules synchronously.
// POST /api/bulk-payment/process-scheduled
func (h *Handler) ProcessScheduled(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	result, err := h.Processor.ProcessDue(r.Context(), id.OrganizationID, h.now())
	if err != nil {
		h.fail(w, r, "Failed to process scheduled payments", err)
		return
	}

	writeSuccess(w, http.StatusOK, ProcessScheduledDTO{
		ProcessedPayments: toPaymentDTOs(result.Payments),
		Count:             result.Count,
		Run:               toRunDTO(result.Run),
	}, fmt.Sprintf("Processed %d scheduled payments", result.Count))
}

// ListScheduleRuns returns recent processing runs.
// GET /api/bulk-payment/schedule-runs?limit=
func (h *Handler) ListScheduleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, "Invalid query", err)
		return
	}

	id := identityFrom(r.Context())
	runs, err := h.Schedules.ListRuns(r.Context(), id.OrganizationID, limit)
	if err != nil {
		h.fail(w, r, "Failed to list schedule runs", err)
		return
	}

	dtos := make([]ScheduleRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeSuccess(w, http.StatusOK, dtos, "")
}

// =============================================================================
// ANALYTICS HANDLERS
// =============================================================================

// GetAnalytics returns the dashboard rollup for a trailing window.
// GET /api/bulk-payment/analytics?period=week|month|quarter|year|all
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	period := generic.PeriodType(r.URL.Query().Get("period"))

	dashboard, err := h.Analytics.Dashboard(r.Context(), id.OrganizationID, period)
	if err != nil {
		h.fail(w, r, "Failed to load analytics", err)
		return
	}

	writeSuccess(w, http.StatusOK, toAnalyticsDTO(dashboard), "")
}

// =============================================================================
// REQUEST CONVERSION
// =============================================================================

func (req CreateBatchRequest) toInput() (bulkpay.CreateBatchInput, error) {
	due, err := generic.ParseDate(req.PaymentDetails.DueDate)
	if err != nil {
		return bulkpay.CreateBatchInput{}, &generic.ValidationError{Field: "paymentDetails.dueDate", Reason: "must be YYYY-MM-DD or RFC3339"}
	}

	in := bulkpay.CreateBatchInput{
		Name: strings.TrimSpace(req.BatchName),
		Type: bulkpay.BatchType(req.BatchType),
		Filters: bulkpay.Filters{
			PropertyIDs:     req.Filters.PropertyIDs,
			TenantIDs:       req.Filters.TenantIDs,
			PaymentStatuses: req.Filters.PaymentStatus,
		},
		Details: bulkpay.PaymentDetails{
			Description: req.PaymentDetails.Description,
			Method:      rental.PaymentMethod(req.PaymentDetails.PaymentMethod),
			DueDate:     due,
			AutoProcess: req.PaymentDetails.AutoProcess,
		},
	}
	if req.PaymentDetails.Amount != nil {
		in.Details.Amount = decimal.NewNullDecimal(generic.NewMoney(*req.PaymentDetails.Amount))
	}

	if dr := req.Filters.DateRange; dr != nil {
		in.Filters.DateRange = &bulkpay.DateRange{}
		if dr.Start != "" {
			if in.Filters.DateRange.Start, err = generic.ParseDate(dr.Start); err != nil {
				return bulkpay.CreateBatchInput{}, &generic.ValidationError{Field: "filters.dateRange.start", Reason: "must be YYYY-MM-DD or RFC3339"}
			}
		}
		if dr.End != "" {
			if in.Filters.DateRange.End, err = generic.ParseDate(dr.End); err != nil {
				return bulkpay.CreateBatchInput{}, &generic.ValidationError{Field: "filters.dateRange.end", Reason: "must be YYYY-MM-DD or RFC3339"}
			}
		}
	}
	return in, nil
}

func (req CreateScheduleRequest) toInput() (recurring.CreateScheduleInput, error) {
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		return recurring.CreateScheduleInput{}, &generic.ValidationError{Field: "startDate", Reason: "must be YYYY-MM-DD or RFC3339"}
	}

	in := recurring.CreateScheduleInput{
		TenantID:    req.TenantID,
		PropertyID:  req.PropertyID,
		UnitID:      req.UnitID,
		Type:        recurring.ScheduleType(req.ScheduleType),
		Frequency:   generic.Frequency(req.Frequency),
		Method:      rental.PaymentMethod(req.PaymentMethod),
		StartDate:   start,
		AutoProcess: req.AutoProcess,
	}
	if req.EndDate != "" {
		end, err := generic.ParseDate(req.EndDate)
		if err != nil {
			return recurring.CreateScheduleInput{}, &generic.ValidationError{Field: "endDate", Reason: "must be YYYY-MM-DD or RFC3339"}
		}
		in.EndDate = &end
	}
	if req.Amount != nil {
		in.Amount = decimal.NewNullDecimal(generic.NewMoney(*req.Amount))
	}
	if rem := req.Reminders; rem != nil {
		in.Reminders = recurring.Reminders{Enabled: rem.Enabled, DaysBefore: rem.DaysBefore, Methods: rem.Methods}
	}
	if p := req.InstallmentPlan; p != nil {
		in.Installment = &recurring.InstallmentInput{
			TotalAmount:        generic.NewMoney(p.TotalAmount),
			Installments:       p.Installments,
			CurrentInstallment: p.CurrentInstallment,
		}
	}
	return in, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. On failure it writes the response
// and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_request", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Validation failed", "validation_error", fieldErrors(verrs))
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_request", nil)
		return false
	}
	return true
}

func fieldErrors(verrs validator.ValidationErrors) []FieldErrorDTO {
	details := make([]FieldErrorDTO, len(verrs))
	for i, fe := range verrs {
		// Namespace is "CreateBatchRequest.paymentDetails.amount"; drop the struct name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		details[i] = FieldErrorDTO{Field: field, Reason: reason}
	}
	return details
}

// fail maps a service error to a status code and writes it. Internal errors
// are logged and replaced with a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	var verr *generic.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "Validation failed", "validation_error",
			[]FieldErrorDTO{{Field: verr.Field, Reason: verr.Reason}})
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request", nil)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), "not_found", nil)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), "conflict", nil)
	default:
		h.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, "internal_error", nil)
	}
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, &generic.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
	}
	return limit, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, SuccessResponse{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
