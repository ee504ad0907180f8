/*
handlers.go - HTTP API handlers for the tuition billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the billing package.

ENDPOINTS:
  School setup:
    GET    /api/school-years                      List school years
    POST   /api/school-years                      Create school year
    GET    /api/students                          List students
    POST   /api/students                          Create student
    GET    /api/students/{id}                     Get student
    GET    /api/students/{id}/scholarship         Get scholarship
    PUT    /api/students/{id}/scholarship         Set or clear scholarship
    GET    /api/students/{id}/recurring-charges   List recurring charges
    POST   /api/students/{id}/recurring-charges   Add recurring charge
    DELETE /api/recurring-charges/{id}            Remove recurring charge
    GET    /api/students/{id}/bills               Bills of one student

  Tuition types:
    GET    /api/tuition-types                     List tuition types
    POST   /api/tuition-types                     Create or update from JSON
    GET    /api/tuition-types/{id}                Get tuition type

  Bills:
    GET    /api/bills                             List with breakdown
    GET    /api/bills/{id}                        Bill with breakdown
    DELETE /api/bills/{id}                        Delete a bill with no ledger history
    POST   /api/bills/generate                    Generate a month of bills
    POST   /api/bills/{id}/partial-payments       Record partial payment
    POST   /api/bills/{id}/payments               Pay remaining balance
    GET    /api/bills/{id}/transactions           Payment history
    GET    /api/bills/{id}/ledger                 Paid amount vs. ledger balance
    POST   /api/bills/{id}/adjustments            Add discount adjustment
    DELETE /api/bills/{id}/adjustments/{index}    Remove discount adjustment
    POST   /api/bills/{id}/extra-charges          Add extra charge
    PUT    /api/bills/{id}/status                 Change bill status
    GET    /api/transactions                      Newest ledger entries
    DELETE /api/transactions/{id}                 Reverse a payment

  Admin:
    POST   /api/admin/late-fees/apply             Run the late-fee sweep now
    GET    /api/admin/late-fees/runs              Past sweeps

REQUEST FLOW:
  1. Parse and validate the HTTP request
  2. Call the cashier (mutations) or the store (reads)
  3. Attach the breakdown as of today
  4. Serialize response

ERROR HANDLING:
  See errors.go. Every failure goes through Handler.fail, which maps the
  error to 400/404/409/500 and logs internal errors.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/factory"
	"github.com/warp/tuition-engine/generic"
	"github.com/warp/tuition-engine/store/sqlite"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Cashier      *billing.Cashier
	TuitionTypes *factory.TuitionTypeFactory
	Ledger       generic.Ledger
	Logger       *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. A nil logger discards everything.
func NewHandler(store *sqlite.Store, cashier *billing.Cashier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:        store,
		Cashier:      cashier,
		TuitionTypes: factory.NewTuitionTypeFactory(),
		Ledger:       generic.NewLedger(store),
		Logger:       logger,
	}
}

func (h *Handler) newID(id string) string {
	if id != "" {
		return id
	}
	return h.Cashier.NewID()
}

func actorOf(r *http.Request, actor string) string {
	if actor != "" {
		return actor
	}
	if v := r.Header.Get("X-Actor"); v != "" {
		return v
	}
	return "api"
}

// =============================================================================
// SCHOOL YEAR HANDLERS
// =============================================================================

// ListSchoolYears returns all school years.
func (h *Handler) ListSchoolYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.Store.ListSchoolYears(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to list school years")
		return
	}

	dtos := make([]SchoolYearDTO, len(years))
	for i, y := range years {
		dtos[i] = toSchoolYearDTO(y)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSchoolYear creates or replaces a school year.
func (h *Handler) CreateSchoolYear(w http.ResponseWriter, r *http.Request) {
	var req CreateSchoolYearRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	start, err := dateField("start_date", req.StartDate)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	end, err := dateField("end_date", req.EndDate)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	if _, err := generic.NewPeriod(start, end); err != nil {
		h.fail(w, r, err, "")
		return
	}

	year := sqlite.SchoolYear{
		ID:        h.newID(req.ID),
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
		Active:    req.Active == nil || *req.Active,
	}
	if err := h.Store.SaveSchoolYear(r.Context(), year); err != nil {
		h.fail(w, r, err, "Failed to create school year")
		return
	}

	saved, err := h.Store.GetSchoolYear(r.Context(), year.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to create school year")
		return
	}
	writeJSON(w, http.StatusCreated, toSchoolYearDTO(*saved))
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns students, optionally filtered by ?school_year_id.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Store.ListStudents(r.Context(), r.URL.Query().Get("school_year_id"))
	if err != nil {
		h.fail(w, r, err, "Failed to list students")
		return
	}

	dtos := make([]StudentDTO, len(students))
	for i, st := range students {
		dtos[i] = toStudentDTO(st)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStudent returns a single student.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.GetStudent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Failed to get student")
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*st))
}

// CreateStudent creates or replaces a student. The school year and tuition
// type must exist.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	ctx := r.Context()
	if _, err := h.Store.GetSchoolYear(ctx, req.SchoolYearID); err != nil {
		h.fail(w, r, referenceError("school_year_id", err), "Failed to create student")
		return
	}
	if _, err := h.Store.GetTuitionType(ctx, req.TuitionTypeID); err != nil {
		h.fail(w, r, referenceError("tuition_type_id", err), "Failed to create student")
		return
	}

	st := sqlite.Student{
		ID:            h.newID(req.ID),
		Name:          req.Name,
		SchoolYearID:  req.SchoolYearID,
		TuitionTypeID: req.TuitionTypeID,
		Active:        req.Active == nil || *req.Active,
	}
	if err := h.Store.SaveStudent(ctx, st); err != nil {
		h.fail(w, r, err, "Failed to create student")
		return
	}

	saved, err := h.Store.GetStudent(ctx, st.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to create student")
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(*saved))
}

// referenceError turns a missing referenced record into a field error.
func referenceError(field string, err error) error {
	if generic.IsNotFound(err) {
		return badRequest(field, "refers to an unknown record")
	}
	return err
}

// GetStudentBills returns all bills of one student, newest first.
func (h *Handler) GetStudentBills(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetStudent(r.Context(), id); err != nil {
		h.fail(w, r, err, "Failed to get student")
		return
	}

	bills, err := h.Store.ListBills(r.Context(), billing.BillFilter{StudentID: id})
	if err != nil {
		h.fail(w, r, err, "Failed to list bills")
		return
	}
	writeJSON(w, http.StatusOK, h.toBillDTOs(bills))
}

// =============================================================================
// SCHOLARSHIP HANDLERS
// =============================================================================

// GetScholarship returns the student's scholarship. A student without one
// gets nulls for type and value.
func (h *Handler) GetScholarship(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetStudent(r.Context(), id); err != nil {
		h.fail(w, r, err, "Failed to get student")
		return
	}

	sch, err := h.Store.GetScholarship(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "Failed to get scholarship")
		return
	}
	writeJSON(w, http.StatusOK, toScholarshipDTO(sch))
}

// PutScholarship sets or clears the student's scholarship. Sending no
// scholarshipType removes the scholarship, value included.
func (h *Handler) PutScholarship(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in billing.ScholarshipInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err, "")
		return
	}
	if err := in.Validate(); err != nil {
		h.fail(w, r, err, "")
		return
	}

	ctx := r.Context()
	if _, err := h.Store.GetStudent(ctx, id); err != nil {
		h.fail(w, r, err, "Failed to get student")
		return
	}

	sch := in.Normalize().Apply(id, h.Cashier.Now())
	if err := h.Store.SaveScholarship(ctx, sch); err != nil {
		h.fail(w, r, err, "Failed to save scholarship")
		return
	}
	writeJSON(w, http.StatusOK, toScholarshipDTO(&sch))
}

// =============================================================================
// RECURRING CHARGE HANDLERS
// =============================================================================

// ListRecurringCharges returns the student's recurring charges.
func (h *Handler) ListRecurringCharges(w http.ResponseWriter, r *http.Request) {
	charges, err := h.Store.ListRecurringCharges(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Failed to list recurring charges")
		return
	}

	dtos := make([]RecurringChargeDTO, len(charges))
	for i, c := range charges {
		dtos[i] = toRecurringChargeDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRecurringCharge adds a recurring charge. It is picked up by bills
// generated from now on.
func (h *Handler) CreateRecurringCharge(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")

	var req CreateRecurringChargeRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	charge := billing.RecurringCharge{
		ID:          h.newID(req.ID),
		StudentID:   studentID,
		Description: req.Description,
		Amount:      req.Amount,
		CreatedAt:   h.Cashier.Now(),
	}
	starts, err := dateField("starts_on", req.StartsOn)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	charge.StartsOn = starts
	if req.EndsOn != "" {
		ends, err := dateField("ends_on", req.EndsOn)
		if err != nil {
			h.fail(w, r, err, "")
			return
		}
		charge.EndsOn = &ends
	}
	if err := charge.Validate(); err != nil {
		h.fail(w, r, err, "")
		return
	}

	ctx := r.Context()
	if _, err := h.Store.GetStudent(ctx, studentID); err != nil {
		h.fail(w, r, err, "Failed to get student")
		return
	}
	if err := h.Store.SaveRecurringCharge(ctx, charge); err != nil {
		h.fail(w, r, err, "Failed to create recurring charge")
		return
	}
	writeJSON(w, http.StatusCreated, toRecurringChargeDTO(charge))
}

// DeleteRecurringCharge removes a recurring charge. Bills already issued
// keep it.
func (h *Handler) DeleteRecurringCharge(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteRecurringCharge(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err, "Failed to delete recurring charge")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TUITION TYPE HANDLERS
// =============================================================================

// ListTuitionTypes returns all tuition types.
func (h *Handler) ListTuitionTypes(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListTuitionTypes(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to list tuition types")
		return
	}

	dtos := make([]TuitionTypeDTO, 0, len(records))
	for _, rec := range records {
		dto, err := toTuitionTypeDTO(rec)
		if err != nil {
			h.Logger.Warn("skipping unreadable tuition type", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTuitionType returns a single tuition type.
func (h *Handler) GetTuitionType(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetTuitionType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Failed to get tuition type")
		return
	}
	dto, err := toTuitionTypeDTO(*rec)
	if err != nil {
		h.fail(w, r, err, "Failed to read tuition type")
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateTuitionType creates or updates a tuition type from its JSON config.
// Updating bumps the version; bills already issued are not touched.
func (h *Handler) CreateTuitionType(w http.ResponseWriter, r *http.Request) {
	var req factory.TuitionTypeJSON
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	tt, err := h.TuitionTypes.FromJSON(req)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	config, err := h.TuitionTypes.ToJSON(*tt)
	if err != nil {
		h.fail(w, r, err, "Failed to encode tuition type")
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveTuitionType(ctx, sqlite.TuitionTypeRecord{ID: tt.ID, Name: tt.Name, ConfigJSON: config}); err != nil {
		h.fail(w, r, err, "Failed to save tuition type")
		return
	}

	rec, err := h.Store.GetTuitionType(ctx, tt.ID)
	if err != nil {
		h.fail(w, r, err, "Failed to save tuition type")
		return
	}
	dto, err := toTuitionTypeDTO(*rec)
	if err != nil {
		h.fail(w, r, err, "Failed to read tuition type")
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// loadTuitionType reads and parses a stored tuition type.
func (h *Handler) loadTuitionType(ctx context.Context, id string) (*billing.TuitionType, error) {
	rec, err := h.Store.GetTuitionType(ctx, id)
	if err != nil {
		return nil, err
	}
	return h.TuitionTypes.ParseTuitionType(rec.ConfigJSON)
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// ListBills returns bills filtered by ?student_id, ?school_year_id,
// ?payment_status, ?unpaid=true, ?limit and ?offset.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	filter, err := billFilterFromQuery(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	bills, err := h.Store.ListBills(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err, "Failed to list bills")
		return
	}
	writeJSON(w, http.StatusOK, h.toBillDTOs(bills))
}

func billFilterFromQuery(r *http.Request) (billing.BillFilter, error) {
	q := r.URL.Query()
	filter := billing.BillFilter{
		StudentID:    q.Get("student_id"),
		SchoolYearID: q.Get("school_year_id"),
	}

	if s := q.Get("payment_status"); s != "" {
		status := billing.PaymentStatus(s)
		if !status.Valid() {
			return filter, badRequest("payment_status", "must be one of pending, delayed, partial_payment, paid")
		}
		filter.PaymentStatus = status
	}
	if s := q.Get("unpaid"); s != "" {
		unpaid, err := strconv.ParseBool(s)
		if err != nil {
			return filter, badRequest("unpaid", "must be true or false")
		}
		filter.OnlyUnpaid = unpaid
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

// dateField parses a YYYY-MM-DD request field.
func dateField(name, s string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, badRequest(name, "must be a date (YYYY-MM-DD)")
	}
	return tp, nil
}

func intParam(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, badRequest(name, "must be a non-negative integer")
	}
	return n, nil
}

// GetBill returns a bill with its breakdown as of today.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Failed to get bill")
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(rec, h.Cashier.Breakdown(rec)))
}

func (h *Handler) toBillDTOs(bills []billing.BillingRecord) []BillDTO {
	dtos := make([]BillDTO, len(bills))
	for i := range bills {
		dtos[i] = toBillDTO(&bills[i], h.Cashier.Breakdown(&bills[i]))
	}
	return dtos
}

// GetBillTransactions returns the payment history of a bill.
func (h *Handler) GetBillTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.Store.GetBill(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Failed to get bill")
		return
	}

	txs, err := h.Store.Load(ctx, rec.EntityID(), rec.AccountID())
	if err != nil {
		h.fail(w, r, err, "Failed to get transactions")
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx, txs)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBillLedger reconciles the cached paid amount against the ledger.
func (h *Handler) GetBillLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.Store.GetBill(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Failed to get bill")
		return
	}

	paid, err := h.Ledger.Balance(ctx, rec.EntityID(), rec.AccountID(), rec.Currency)
	if err != nil {
		h.fail(w, r, err, "Failed to read ledger")
		return
	}
	fees, err := h.Ledger.Balance(ctx, rec.EntityID(), rec.AccountID(), rec.Currency, generic.TxLateFee)
	if err != nil {
		h.fail(w, r, err, "Failed to read ledger")
		return
	}

	writeJSON(w, http.StatusOK, BillLedgerDTO{
		BillID:       rec.ID,
		Currency:     string(rec.Currency),
		RecordedPaid: money(rec.Paid()),
		LedgerPaid:   money(paid.Value),
		LateFees:     money(fees.Value),
		InSync:       paid.Value.Equal(rec.Paid()),
	})
}

// DeleteBill removes a bill that has no ledger history.
func (h *Handler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteBill(r.Context(), id); err != nil {
		h.fail(w, r, err, "Failed to delete bill")
		return
	}
	h.Logger.Info("bill deleted", zap.String("bill_id", id), zap.String("actor", actorOf(r, "")))
	w.WriteHeader(http.StatusNoContent)
}

// ListRecentTransactions returns the newest ledger entries across all bills
// (?limit, default 50).
func (h *Handler) ListRecentTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	if limit == 0 {
		limit = 50
	}

	txs, err := h.Store.RecentTransactions(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err, "Failed to list transactions")
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx, txs)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPartialPayment takes part of the remaining balance.
func (h *Handler) RecordPartialPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	billID := chi.URLParam(r, "id")

	var req PartialPaymentRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	rec, err := h.Store.GetBill(ctx, billID)
	if err != nil {
		h.fail(w, r, err, "Failed to get bill")
		return
	}
	amount, err := billing.ParsePaymentAmount(string(req.Amount), rec.Currency)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	receipt, err := h.Cashier.RecordPartialPayment(ctx, billID, amount.Value, req.IdempotencyKey, actorOf(r, req.Actor))
	if err != nil {
		h.fail(w, r, err, "Failed to record payment")
		return
	}
	h.Logger.Info("partial payment recorded",
		zap.String("bill_id", billID),
		zap.String("amount", money(amount.Value)),
		zap.String("remaining", money(receipt.Breakdown.RemainingAmount)),
	)
	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// RecordPayment settles the whole remaining balance. The body is optional.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	billID := chi.URLParam(r, "id")

	var req PaymentRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.fail(w, r, err, "")
			return
		}
	}

	receipt, err := h.Cashier.RecordPayment(r.Context(), billID, req.IdempotencyKey, actorOf(r, req.Actor))
	if err != nil {
		h.fail(w, r, err, "Failed to record payment")
		return
	}
	h.Logger.Info("bill paid", zap.String("bill_id", billID))
	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// ReversePayment reverses a payment transaction. ?bill_id is optional and
// looked up from the transaction when missing; ?reason is recorded.
func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")
	q := r.URL.Query()

	billID := q.Get("bill_id")
	if billID == "" {
		tx, err := h.Store.GetTransaction(ctx, txID)
		if err != nil {
			h.fail(w, r, err, "Failed to get transaction")
			return
		}
		billID = string(tx.AccountID)
	}

	reason := q.Get("reason")
	if reason == "" {
		reason = "payment reversed"
	}
	receipt, err := h.Cashier.ReversePayment(ctx, billID, generic.TransactionID(txID), reason, actorOf(r, q.Get("actor")))
	if err != nil {
		h.fail(w, r, err, "Failed to reverse payment")
		return
	}
	h.Logger.Info("payment reversed", zap.String("bill_id", billID), zap.String("transaction_id", txID))
	writeJSON(w, http.StatusOK, toReceiptDTO(receipt))
}

func toReceiptDTO(rc *billing.Receipt) ReceiptDTO {
	dto := ReceiptDTO{Bill: toBillDTO(&rc.Bill, rc.Breakdown)}
	if rc.Transaction != nil {
		tx := toTransactionDTO(*rc.Transaction, nil)
		dto.Transaction = &tx
	}
	return dto
}

// =============================================================================
// BILL EDIT HANDLERS
// =============================================================================

// AddAdjustment adds a discount adjustment to an unpaid bill.
func (h *Handler) AddAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	adj := billing.DiscountAdjustment{
		Type:        billing.AdjustmentType(req.Type),
		Value:       req.Value,
		Description: req.Description,
	}
	rec, err := h.Cashier.AddDiscountAdjustment(r.Context(), chi.URLParam(r, "id"), adj)
	if err != nil {
		h.fail(w, r, err, "Failed to add adjustment")
		return
	}
	writeJSON(w, http.StatusCreated, toBillDTO(rec, h.Cashier.Breakdown(rec)))
}

// RemoveAdjustment removes the adjustment at {index}.
func (h *Handler) RemoveAdjustment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.fail(w, r, badRequest("index", "must be an integer"), "")
		return
	}

	rec, err := h.Cashier.RemoveDiscountAdjustment(r.Context(), chi.URLParam(r, "id"), index)
	if err != nil {
		h.fail(w, r, err, "Failed to remove adjustment")
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(rec, h.Cashier.Breakdown(rec)))
}

// AddExtraCharge adds an extra charge to an unpaid bill.
func (h *Handler) AddExtraCharge(w http.ResponseWriter, r *http.Request) {
	var req ExtraChargeRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	charge := billing.ExtraCharge{Amount: req.Amount, Description: req.Description}
	rec, err := h.Cashier.AddExtraCharge(r.Context(), chi.URLParam(r, "id"), charge)
	if err != nil {
		h.fail(w, r, err, "Failed to add extra charge")
		return
	}
	writeJSON(w, http.StatusCreated, toBillDTO(rec, h.Cashier.Breakdown(rec)))
}

// SetBillStatus changes whether the bill is required or was sent.
func (h *Handler) SetBillStatus(w http.ResponseWriter, r *http.Request) {
	var req BillStatusRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	rec, err := h.Cashier.SetBillStatus(r.Context(), chi.URLParam(r, "id"), billing.BillStatus(req.BillStatus))
	if err != nil {
		h.fail(w, r, err, "Failed to update bill status")
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(rec, h.Cashier.Breakdown(rec)))
}

// =============================================================================
// BILL GENERATION
// =============================================================================

// GenerateBills issues one month of bills for every active student of a
// school year. Students already billed for the month are skipped.
func (h *Handler) GenerateBills(w http.ResponseWriter, r *http.Request) {
	var req GenerateBillsRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	first, err := generic.ParseDate(req.Month + "-01")
	if err != nil {
		h.fail(w, r, badRequest("month", "must be YYYY-MM"), "")
		return
	}

	resp, err := h.generateMonth(r.Context(), req.SchoolYearID, first)
	if err != nil {
		h.fail(w, r, err, "Failed to generate bills")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// generateMonth bills every active student of the school year for the month
// starting at first. The month is clipped to the school year.
func (h *Handler) generateMonth(ctx context.Context, schoolYearID string, first generic.TimePoint) (*GenerateBillsResponse, error) {
	year, err := h.Store.GetSchoolYear(ctx, schoolYearID)
	if err != nil {
		return nil, err
	}
	month, ok := monthOfYear(year.Period(), first)
	if !ok {
		return nil, badRequest("month", fmt.Sprintf("is outside school year %s", year.Period()))
	}

	students, err := h.Store.ListStudents(ctx, schoolYearID)
	if err != nil {
		return nil, err
	}

	resp := &GenerateBillsResponse{
		SchoolYearID: schoolYearID,
		Period:       month.String(),
		Created:      []BillDTO{},
		Skipped:      []string{},
	}
	tuitionTypes := map[string]*billing.TuitionType{}

	for _, st := range students {
		if !st.Active {
			continue
		}
		rec, err := h.generateStudentBill(ctx, st, month, tuitionTypes)
		switch {
		case errors.Is(err, generic.ErrConflict):
			resp.Skipped = append(resp.Skipped, st.ID)
		case err != nil:
			if resp.Errors == nil {
				resp.Errors = map[string]string{}
			}
			resp.Errors[st.ID] = err.Error()
		default:
			resp.Created = append(resp.Created, toBillDTO(rec, h.Cashier.Breakdown(rec)))
		}
	}

	h.Logger.Info("bills generated",
		zap.String("school_year_id", schoolYearID),
		zap.String("period", month.String()),
		zap.Int("created", len(resp.Created)),
		zap.Int("skipped", len(resp.Skipped)),
		zap.Int("errors", len(resp.Errors)),
	)
	return resp, nil
}

func (h *Handler) generateStudentBill(ctx context.Context, st sqlite.Student, month generic.Period, cache map[string]*billing.TuitionType) (*billing.BillingRecord, error) {
	tt, ok := cache[st.TuitionTypeID]
	if !ok {
		var err error
		if tt, err = h.loadTuitionType(ctx, st.TuitionTypeID); err != nil {
			return nil, err
		}
		cache[st.TuitionTypeID] = tt
	}

	sch, err := h.Store.GetScholarship(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	charges, err := h.Store.ListRecurringCharges(ctx, st.ID)
	if err != nil {
		return nil, err
	}

	rec, err := billing.GenerateBill(billing.BillInput{
		ID:               h.Cashier.NewID(),
		StudentID:        st.ID,
		SchoolYearID:     st.SchoolYearID,
		TuitionType:      *tt,
		Scholarship:      sch,
		RecurringCharges: charges,
		Month:            month,
		Now:              h.Cashier.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := h.Store.SaveBill(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// monthOfYear returns the billing month of year that contains first.
func monthOfYear(year generic.Period, first generic.TimePoint) (generic.Period, bool) {
	for _, m := range year.Months() {
		if m.Start.Year() == first.Year() && m.Start.Month() == first.Month() {
			return m, true
		}
	}
	return generic.Period{}, false
}

// =============================================================================
// LATE FEE HANDLERS
// =============================================================================

// ApplyLateFees runs the late-fee sweep now, as of today or ?as_of.
func (h *Handler) ApplyLateFees(w http.ResponseWriter, r *http.Request) {
	var req ApplyLateFeesRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.fail(w, r, err, "")
			return
		}
	}

	asOf := h.Cashier.Today()
	if req.AsOf != "" {
		parsed, err := dateField("as_of", req.AsOf)
		if err != nil {
			h.fail(w, r, err, "")
			return
		}
		asOf = parsed
	}

	run, err := h.runLateFees(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err, "Late-fee sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, toLateFeeRunDTO(run))
}

// runLateFees sweeps and records the run, failed runs included.
func (h *Handler) runLateFees(ctx context.Context, asOf generic.TimePoint) (billing.LateFeeRun, error) {
	run, err := h.Cashier.ApplyLateFees(ctx, asOf)
	if saveErr := h.Store.SaveLateFeeRun(context.WithoutCancel(ctx), run); saveErr != nil {
		h.Logger.Error("failed to record late-fee run", zap.String("run_id", run.ID), zap.Error(saveErr))
	}
	if err != nil {
		return run, err
	}

	h.Logger.Info("late-fee sweep completed",
		zap.String("run_id", run.ID),
		zap.String("as_of", asOf.String()),
		zap.Int("examined", run.Examined),
		zap.Int("applied", run.Applied),
		zap.String("total", money(run.Total.Value)),
		zap.Int("errors", len(run.Errors)),
	)
	return run, nil
}

// ListLateFeeRuns returns past sweeps, newest first (?limit, default 50).
func (h *Handler) ListLateFeeRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	runs, err := h.Store.ListLateFeeRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err, "Failed to list late-fee runs")
		return
	}

	dtos := make([]LateFeeRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toLateFeeRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}
