/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through logrus (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Identity:   X-Organization-ID / X-User-ID required on /api (401 otherwise)

ROUTE GROUPS:
  /health                 Liveness probe (no identity)
  /api/bulk-payment/*     Batches, schedules, analytics
  /api/scenarios/*        Demo scenarios (dev only)

SECURITY NOTE:
  Authentication happens upstream. The identity headers are trusted as
  set by the gateway; this service only refuses requests without them.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/generic"
)

const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderUserID         = "X-User-ID"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	AllowedOrigins []string
	Logger         *logrus.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderOrganizationID, HeaderUserID},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(requireIdentity)

		r.Route("/bulk-payment", func(r chi.Router) {
			r.Post("/batch", h.CreateBatch)
			r.Get("/batch/{batchId}", h.GetBatch)
			r.Get("/batch/{batchId}/payments", h.ListBatchPayments)
			r.Post("/batch/{batchId}/process", h.ProcessBatch)
			r.Get("/batches", h.ListBatches)

			r.Post("/schedule", h.CreateSchedule)
			r.Get("/schedule/{scheduleId}", h.GetSchedule)
			r.Get("/schedule/{scheduleId}/payments", h.ListSchedulePayments)
			r.Get("/schedules", h.ListSchedules)
			r.Post("/process-scheduled", h.ProcessScheduled)
			r.Get("/schedule-runs", h.ListScheduleRuns)

			r.Get("/analytics", h.GetAnalytics)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type identityKey struct{}

// requireIdentity rejects requests without both identity headers.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := strings.TrimSpace(r.Header.Get(HeaderOrganizationID))
		user := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if org == "" || user == "" {
			writeError(w, http.StatusUnauthorized, "Missing caller identity", "unauthorized", nil)
			return
		}

		id := generic.Identity{OrganizationID: generic.OrganizationID(org), UserID: generic.UserID(user)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// identityFrom returns the identity set by requireIdentity.
func identityFrom(ctx context.Context) generic.Identity {
	id, _ := ctx.Value(identityKey{}).(generic.Identity)
	return id
}

// requestLogger logs one line per request through logrus.
func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				entry := log.WithFields(logrus.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
				})
				if ww.Status() >= http.StatusInternalServerError {
					entry.Warn("Request failed")
					return
				}
				entry.Info("Request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
