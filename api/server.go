/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the office frontend

ROUTE GROUPS:
  /api/school-years/*      School years
  /api/students/*          Students, scholarships, recurring charges
  /api/tuition-types/*     Tuition type configuration
  /api/bills/*             Bills, payments, edits, generation
  /api/transactions/*      Recent ledger entries, payment reversal
  /api/admin/*             Late-fee sweeps
  /api/scenarios/*         Demo scenarios
  /healthz                 Liveness and database ping

SECURITY NOTE:
  No authentication middleware. All endpoints are public; put the service
  behind the school's gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configures cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/school-years", func(r chi.Router) {
			r.Get("/", h.ListSchoolYears)
			r.Post("/", h.CreateSchoolYear)
		})

		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/{id}", h.GetStudent)
			r.Get("/{id}/scholarship", h.GetScholarship)
			r.Put("/{id}/scholarship", h.PutScholarship)
			r.Get("/{id}/recurring-charges", h.ListRecurringCharges)
			r.Post("/{id}/recurring-charges", h.CreateRecurringCharge)
			r.Get("/{id}/bills", h.GetStudentBills)
		})

		r.Delete("/recurring-charges/{id}", h.DeleteRecurringCharge)

		r.Route("/tuition-types", func(r chi.Router) {
			r.Get("/", h.ListTuitionTypes)
			r.Post("/", h.CreateTuitionType)
			r.Get("/{id}", h.GetTuitionType)
		})

		r.Route("/bills", func(r chi.Router) {
			r.Get("/", h.ListBills)
			r.Post("/generate", h.GenerateBills)
			r.Get("/{id}", h.GetBill)
			r.Delete("/{id}", h.DeleteBill)
			r.Post("/{id}/partial-payments", h.RecordPartialPayment)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Get("/{id}/transactions", h.GetBillTransactions)
			r.Get("/{id}/ledger", h.GetBillLedger)
			r.Post("/{id}/adjustments", h.AddAdjustment)
			r.Delete("/{id}/adjustments/{index}", h.RemoveAdjustment)
			r.Post("/{id}/extra-charges", h.AddExtraCharge)
			r.Put("/{id}/status", h.SetBillStatus)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListRecentTransactions)
			r.Delete("/{id}", h.ReversePayment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/late-fees/apply", h.ApplyLateFees)
			r.Get("/late-fees/runs", h.ListLateFeeRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.fail(w, r, err, "Database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
