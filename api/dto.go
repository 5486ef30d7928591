/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Envelope and complex response wrappers

TYPES:
  Batches:
    CreateBatchRequest, BatchDTO, BatchItemDTO, BatchSummaryDTO

  Schedules:
    CreateScheduleRequest, ScheduleDTO, ScheduleRunDTO, ProcessScheduledDTO

  Analytics:
    AnalyticsDTO, PaymentDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags. Handlers run the
  validator first, then convert; conversion errors (unparseable dates)
  are reported the same way.

AMOUNTS:
  Amounts cross the wire as JSON numbers and are converted to decimals at
  the edge. They are never summed as floats.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/rent-engine/analytics"
	"github.com/warp/rent-engine/bulkpay"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/recurring"
	"github.com/warp/rent-engine/rental"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// SuccessResponse wraps every successful response.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// FieldErrorDTO describes one invalid request field.
type FieldErrorDTO struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// =============================================================================
// BATCHES
// =============================================================================

// CreateBatchRequest is the body of POST /api/bulk-payment/batch.
type CreateBatchRequest struct {
	BatchName      string                `json:"batchName" validate:"required,max=200"`
	BatchType      string                `json:"batchType" validate:"required,oneof=rent_collection late_fees deposits custom"`
	Filters        BatchFiltersDTO       `json:"filters"`
	PaymentDetails PaymentDetailsRequest `json:"paymentDetails"`
}

type BatchFiltersDTO struct {
	PropertyIDs   []string      `json:"propertyIds,omitempty" validate:"omitempty,dive,required"`
	TenantIDs     []string      `json:"tenantIds,omitempty" validate:"omitempty,dive,required"`
	PaymentStatus []string      `json:"paymentStatus,omitempty"`
	DateRange     *DateRangeDTO `json:"dateRange,omitempty"`
}

type DateRangeDTO struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type PaymentDetailsRequest struct {
	Amount        *float64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Description   string   `json:"description" validate:"max=500"`
	PaymentMethod string   `json:"paymentMethod" validate:"omitempty,oneof=bank_transfer cash check credit_card ach online"`
	DueDate       string   `json:"dueDate" validate:"required"`
	AutoProcess   bool     `json:"autoProcess"`
}

// BatchDTO represents a batch in API responses. Items are omitted in listings.
type BatchDTO struct {
	ID                  string            `json:"id"`
	BatchName           string            `json:"batchName"`
	BatchType           string            `json:"batchType"`
	Status              string            `json:"status"`
	Filters             BatchFiltersDTO   `json:"filters"`
	PaymentDetails      PaymentDetailsDTO `json:"paymentDetails"`
	Items               []BatchItemDTO    `json:"items,omitempty"`
	TotalAmount         float64           `json:"totalAmount"`
	TotalPayments       int               `json:"totalPayments"`
	ProcessedPayments   int               `json:"processedPayments"`
	SuccessfulPayments  int               `json:"successfulPayments"`
	FailedPayments      int               `json:"failedPayments"`
	Summary             BatchSummaryDTO   `json:"summary"`
	CreatedBy           string            `json:"createdBy"`
	CreatedAt           string            `json:"createdAt"`
	UpdatedAt           string            `json:"updatedAt"`
	ProcessingStarted   *string           `json:"processingStarted,omitempty"`
	ProcessingCompleted *string           `json:"processingCompleted,omitempty"`
}

type PaymentDetailsDTO struct {
	Amount        *float64 `json:"amount,omitempty"`
	Description   string   `json:"description"`
	PaymentMethod string   `json:"paymentMethod"`
	DueDate       string   `json:"dueDate"`
	AutoProcess   bool     `json:"autoProcess"`
}

type BatchItemDTO struct {
	TenantID     string  `json:"tenantId"`
	PropertyID   string  `json:"propertyId"`
	UnitID       string  `json:"unitId,omitempty"`
	Amount       float64 `json:"amount"`
	Status       string  `json:"status"`
	PaymentID    string  `json:"paymentId,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	ProcessedAt  *string `json:"processedAt,omitempty"`
}

type BatchSummaryDTO struct {
	TotalTenants     int     `json:"totalTenants"`
	TotalProperties  int     `json:"totalProperties"`
	AvgPaymentAmount float64 `json:"avgPaymentAmount"`
	SuccessRate      float64 `json:"successRate"`
}

// =============================================================================
// SCHEDULES
// =============================================================================

// CreateScheduleRequest is the body of POST /api/bulk-payment/schedule.
type CreateScheduleRequest struct {
	TenantID        string                  `json:"tenantId" validate:"required"`
	PropertyID      string                  `json:"propertyId"`
	UnitID          string                  `json:"unitId"`
	ScheduleType    string                  `json:"scheduleType" validate:"required,oneof=recurring installment custom"`
	Frequency       string                  `json:"frequency" validate:"required,oneof=weekly monthly quarterly yearly"`
	Amount          *float64                `json:"amount,omitempty" validate:"omitempty,gt=0"`
	PaymentMethod   string                  `json:"paymentMethod" validate:"omitempty,oneof=bank_transfer cash check credit_card ach online"`
	StartDate       string                  `json:"startDate" validate:"required"`
	EndDate         string                  `json:"endDate,omitempty"`
	AutoProcess     bool                    `json:"autoProcess"`
	Reminders       *RemindersDTO           `json:"reminders,omitempty"`
	InstallmentPlan *InstallmentPlanRequest `json:"installmentPlan,omitempty"`
}

type RemindersDTO struct {
	Enabled    bool     `json:"enabled"`
	DaysBefore []int    `json:"daysBefore" validate:"omitempty,dive,min=0,max=90"`
	Methods    []string `json:"methods" validate:"omitempty,dive,oneof=email sms push"`
}

type InstallmentPlanRequest struct {
	TotalAmount        float64 `json:"totalAmount" validate:"gt=0"`
	Installments       int     `json:"installments" validate:"min=1,max=600"`
	CurrentInstallment int     `json:"currentInstallment" validate:"omitempty,min=1"`
}

type InstallmentPlanDTO struct {
	TotalAmount        float64 `json:"totalAmount"`
	Installments       int     `json:"installments"`
	CurrentInstallment int     `json:"currentInstallment"`
	InstallmentAmount  float64 `json:"installmentAmount"`
}

type ScheduleDTO struct {
	ID                string                `json:"id"`
	TenantID          string                `json:"tenantId"`
	PropertyID        string                `json:"propertyId"`
	UnitID            string                `json:"unitId,omitempty"`
	ScheduleType      string                `json:"scheduleType"`
	Frequency         string                `json:"frequency"`
	Amount            float64               `json:"amount"`
	PaymentMethod     string                `json:"paymentMethod"`
	StartDate         string                `json:"startDate"`
	EndDate           *string               `json:"endDate,omitempty"`
	NextDueDate       string                `json:"nextDueDate"`
	UpcomingDueDates  []string              `json:"upcomingDueDates"`
	Status            string                `json:"status"`
	AutoProcess       bool                  `json:"autoProcess"`
	Reminders         RemindersDTO          `json:"reminders"`
	InstallmentPlan   *InstallmentPlanDTO   `json:"installmentPlan,omitempty"`
	ProcessedPayments []ProcessedPaymentDTO `json:"processedPayments"`
	CreatedBy         string                `json:"createdBy"`
	CreatedAt         string                `json:"createdAt"`
	UpdatedAt         string                `json:"updatedAt"`
}

type ProcessedPaymentDTO struct {
	PaymentID     string  `json:"paymentId"`
	ProcessedDate string  `json:"processedDate"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
}

// ProcessScheduledDTO is the result of POST /api/bulk-payment/process-scheduled.
type ProcessScheduledDTO struct {
	ProcessedPayments []PaymentDTO   `json:"processedPayments"`
	Count             int            `json:"count"`
	Run               ScheduleRunDTO `json:"run"`
}

type ScheduleRunDTO struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Processed   int     `json:"processed"`
	Failed      int     `json:"failed"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"startedAt"`
	CompletedAt *string `json:"completedAt,omitempty"`
}

// =============================================================================
// PAYMENTS & ANALYTICS
// =============================================================================

type PaymentDTO struct {
	ID            string  `json:"id"`
	TenantID      string  `json:"tenantId"`
	PropertyID    string  `json:"propertyId"`
	UnitID        string  `json:"unitId,omitempty"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	PaymentDate   string  `json:"paymentDate"`
	Description   string  `json:"description"`
	PaymentMethod string  `json:"paymentMethod"`
	SourceType    string  `json:"sourceType"`
	SourceID      string  `json:"sourceId"`
	CreatedAt     string  `json:"createdAt"`
}

type AnalyticsDTO struct {
	Period          string       `json:"period"`
	From            *string      `json:"from,omitempty"`
	To              string       `json:"to"`
	TotalRevenue    float64      `json:"totalRevenue"`
	TotalPayments   int          `json:"totalPayments"`
	AveragePayment  float64      `json:"averagePayment"`
	ActiveSchedules int          `json:"activeSchedules"`
	RecentBatches   []BatchDTO   `json:"recentBatches"`
	RecentActivity  []PaymentDTO `json:"recentActivity"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toBatchDTO(b bulkpay.Batch) BatchDTO {
	dto := BatchDTO{
		ID:        b.ID,
		BatchName: b.Name,
		BatchType: string(b.Type),
		Status:    string(b.Status),
		Filters: BatchFiltersDTO{
			PropertyIDs:   b.Filters.PropertyIDs,
			TenantIDs:     b.Filters.TenantIDs,
			PaymentStatus: b.Filters.PaymentStatuses,
		},
		PaymentDetails: PaymentDetailsDTO{
			Description:   b.Details.Description,
			PaymentMethod: string(b.Details.Method),
			DueDate:       formatTime(b.Details.DueDate),
			AutoProcess:   b.Details.AutoProcess,
		},
		TotalAmount:        generic.ToFloat(b.TotalAmount),
		TotalPayments:      b.TotalPayments,
		ProcessedPayments:  b.ProcessedPayments,
		SuccessfulPayments: b.SuccessfulPayments,
		FailedPayments:     b.FailedPayments,
		Summary: BatchSummaryDTO{
			TotalTenants:     b.Summary.TotalTenants,
			TotalProperties:  b.Summary.TotalProperties,
			AvgPaymentAmount: generic.ToFloat(b.Summary.AvgPaymentAmount),
			SuccessRate:      generic.ToFloat(b.Summary.SuccessRate),
		},
		CreatedBy:           string(b.CreatedBy),
		CreatedAt:           formatTime(b.CreatedAt),
		UpdatedAt:           formatTime(b.UpdatedAt),
		ProcessingStarted:   formatTimePtr(b.ProcessingStarted),
		ProcessingCompleted: formatTimePtr(b.ProcessingCompleted),
	}
	if b.Details.Amount.Valid {
		amount := generic.ToFloat(b.Details.Amount.Decimal)
		dto.PaymentDetails.Amount = &amount
	}
	if dr := b.Filters.DateRange; dr != nil {
		dto.Filters.DateRange = &DateRangeDTO{}
		if !dr.Start.IsZero() {
			dto.Filters.DateRange.Start = dr.Start.Format(generic.DateLayout)
		}
		if !dr.End.IsZero() {
			dto.Filters.DateRange.End = dr.End.Format(generic.DateLayout)
		}
	}
	if b.Items != nil {
		dto.Items = make([]BatchItemDTO, len(b.Items))
		for i, item := range b.Items {
			dto.Items[i] = BatchItemDTO{
				TenantID:     item.TenantID,
				PropertyID:   item.PropertyID,
				UnitID:       item.UnitID,
				Amount:       generic.ToFloat(item.Amount),
				Status:       string(item.Status),
				PaymentID:    item.PaymentID,
				ErrorMessage: item.ErrorMessage,
				ProcessedAt:  formatTimePtr(item.ProcessedAt),
			}
		}
	}
	return dto
}

func toBatchDTOs(batches []bulkpay.Batch) []BatchDTO {
	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	return dtos
}

// upcomingPreview is how many due dates a schedule response previews.
const upcomingPreview = 3

func toScheduleDTO(s recurring.Schedule) ScheduleDTO {
	dto := ScheduleDTO{
		ID:            s.ID,
		TenantID:      s.TenantID,
		PropertyID:    s.PropertyID,
		UnitID:        s.UnitID,
		ScheduleType:  string(s.Type),
		Frequency:     string(s.Frequency),
		Amount:        generic.ToFloat(s.Amount),
		PaymentMethod: string(s.Method),
		StartDate:     formatTime(s.StartDate),
		EndDate:       formatTimePtr(s.EndDate),
		NextDueDate:   formatTime(s.NextDueDate),
		Status:        string(s.Status),
		AutoProcess:   s.AutoProcess,
		Reminders: RemindersDTO{
			Enabled:    s.Reminders.Enabled,
			DaysBefore: s.Reminders.DaysBefore,
			Methods:    s.Reminders.Methods,
		},
		ProcessedPayments: make([]ProcessedPaymentDTO, len(s.ProcessedPayments)),
		UpcomingDueDates:  []string{},
		CreatedBy:         string(s.CreatedBy),
		CreatedAt:         formatTime(s.CreatedAt),
		UpdatedAt:         formatTime(s.UpdatedAt),
	}
	if p := s.InstallmentPlan; p != nil {
		dto.InstallmentPlan = &InstallmentPlanDTO{
			TotalAmount:        generic.ToFloat(p.TotalAmount),
			Installments:       p.Installments,
			CurrentInstallment: p.CurrentInstallment,
			InstallmentAmount:  generic.ToFloat(p.InstallmentAmount),
		}
	}
	for _, d := range s.UpcomingDueDates(upcomingPreview) {
		dto.UpcomingDueDates = append(dto.UpcomingDueDates, formatTime(d))
	}
	for i, e := range s.ProcessedPayments {
		dto.ProcessedPayments[i] = ProcessedPaymentDTO{
			PaymentID:     e.PaymentID,
			ProcessedDate: formatTime(e.ProcessedDate),
			Amount:        generic.ToFloat(e.Amount),
			Status:        e.Status,
		}
	}
	return dto
}

func toRunDTO(r recurring.Run) ScheduleRunDTO {
	return ScheduleRunDTO{
		ID:          r.ID,
		Status:      string(r.Status),
		Processed:   r.Processed,
		Failed:      r.Failed,
		Error:       r.Error,
		StartedAt:   formatTime(r.StartedAt),
		CompletedAt: formatTimePtr(r.CompletedAt),
	}
}

func toPaymentDTOs(payments []rental.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = PaymentDTO{
			ID:            p.ID,
			TenantID:      p.TenantID,
			PropertyID:    p.PropertyID,
			UnitID:        p.UnitID,
			Amount:        generic.ToFloat(p.Amount),
			Status:        string(p.Status),
			PaymentDate:   formatTime(p.PaymentDate),
			Description:   p.Description,
			PaymentMethod: string(p.Method),
			SourceType:    string(p.SourceType),
			SourceID:      p.SourceID,
			CreatedAt:     formatTime(p.CreatedAt),
		}
	}
	return dtos
}

func toAnalyticsDTO(d *analytics.Dashboard) AnalyticsDTO {
	dto := AnalyticsDTO{
		Period:          string(d.Period),
		To:              formatTime(d.Window.End),
		TotalRevenue:    generic.ToFloat(d.TotalRevenue),
		TotalPayments:   d.TotalPayments,
		AveragePayment:  generic.ToFloat(d.AveragePayment),
		ActiveSchedules: d.ActiveSchedules,
		RecentBatches:   toBatchDTOs(d.RecentBatches),
		RecentActivity:  toPaymentDTOs(d.RecentActivity),
	}
	if !d.Window.Unbounded() {
		from := formatTime(d.Window.Start)
		dto.From = &from
	}
	return dto
}
