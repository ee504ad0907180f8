/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates a school year around today,
	tuition types, students with scholarships and recurring charges, and
	bills in the state the scenario is about.

AVAILABLE SCENARIOS:

	fresh-month:      Bills for the current month, nothing paid yet
	overdue-bills:    Last month unpaid and overdue, late fees swept
	partial-payments: Installments, a settled bill and a reversed payment

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create tuition types via factory presets
 3. Create school year, students, scholarships, recurring charges
 4. Generate bills for one or more months
 5. Optionally record payments or run the late-fee sweep

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overdue-bills"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: GenerateBills and payment handlers
  - factory/tuition.go: Tuition type presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/factory"
	"github.com/warp/tuition-engine/generic"
	"github.com/warp/tuition-engine/store/sqlite"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-month",
		Name:        "Fresh Month",
		Description: "Bills generated for the current month with scholarships and a bus charge",
	},
	{
		ID:          "overdue-bills",
		Name:        "Overdue Bills",
		Description: "Last month left unpaid; the late-fee sweep locks in fixed and percentage fees",
	},
	{
		ID:          "partial-payments",
		Name:        "Partial Payments",
		Description: "Installments against open bills, one bill settled and one payment reversed",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.fail(w, r, err, "Failed to load scenario")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, err, "Failed to reset database")
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "fresh-month":
		load = h.loadFreshMonthScenario
	case "overdue-bills":
		load = h.loadOverdueBillsScenario
	case "partial-payments":
		load = h.loadPartialPaymentsScenario
	default:
		return generic.NewNotFound("scenario", id)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Logger.Info("scenario loaded", zap.String("scenario_id", id))
	return nil
}

// =============================================================================
// SHARED SETUP
// =============================================================================

const (
	demoYearID = "sy-demo"

	demoMonthly  = "monthly-standard"
	demoBilingue = "monthly-bilingual"
)

// demoSchool holds the months the demo school year is made of.
type demoSchool struct {
	previous generic.TimePoint
	current  generic.TimePoint
}

// seedSchool creates a school year running from two months before today,
// two tuition types and four students.
func (h *Handler) seedSchool(ctx context.Context) (demoSchool, error) {
	today := h.Cashier.Today()
	current := generic.StartOfMonth(today.Year(), today.Month())
	start := current.AddMonths(-2)
	end := current.AddMonths(9).AddDays(-1)

	presets := []string{
		factory.FixedLateFeeTuitionJSON(demoMonthly, "Monthly Standard", "500", 10, "25"),
		factory.PercentageLateFeeTuitionJSON(demoBilingue, "Monthly Bilingual", "800", 5, "5"),
	}
	for _, preset := range presets {
		if err := h.createTuitionTypeFromJSON(ctx, preset); err != nil {
			return demoSchool{}, err
		}
	}

	if err := h.Store.SaveSchoolYear(ctx, sqlite.SchoolYear{
		ID:        demoYearID,
		Name:      fmt.Sprintf("%d-%d", start.Year(), end.Year()),
		StartDate: start,
		EndDate:   end,
		Active:    true,
	}); err != nil {
		return demoSchool{}, err
	}

	students := []sqlite.Student{
		{ID: "st-ana", Name: "Ana García", TuitionTypeID: demoMonthly},
		{ID: "st-luis", Name: "Luis Pérez", TuitionTypeID: demoMonthly},
		{ID: "st-maya", Name: "Maya Chen", TuitionTypeID: demoBilingue},
		{ID: "st-omar", Name: "Omar Haddad", TuitionTypeID: demoBilingue},
	}
	for _, st := range students {
		st.SchoolYearID = demoYearID
		st.Active = true
		if err := h.Store.SaveStudent(ctx, st); err != nil {
			return demoSchool{}, err
		}
	}

	now := h.Cashier.Now()
	pct, fixed := billing.ScholarshipPercentage, billing.ScholarshipFixed
	fifty := decimal.NewFromInt(50)
	for _, in := range []struct {
		student string
		input   billing.ScholarshipInput
	}{
		{"st-luis", billing.ScholarshipInput{TuitionTypeID: demoMonthly, ScholarshipType: &fixed, ScholarshipValue: &fifty}},
		{"st-maya", billing.ScholarshipInput{TuitionTypeID: demoBilingue, ScholarshipType: &pct, ScholarshipValue: &fifty}},
	} {
		if err := in.input.Validate(); err != nil {
			return demoSchool{}, err
		}
		if err := h.Store.SaveScholarship(ctx, in.input.Normalize().Apply(in.student, now)); err != nil {
			return demoSchool{}, err
		}
	}

	if err := h.Store.SaveRecurringCharge(ctx, billing.RecurringCharge{
		ID:          "rc-bus-ana",
		StudentID:   "st-ana",
		Description: "School bus",
		Amount:      decimal.NewFromInt(40),
		StartsOn:    start,
		CreatedAt:   now,
	}); err != nil {
		return demoSchool{}, err
	}

	return demoSchool{previous: current.AddMonths(-1), current: current}, nil
}

func (h *Handler) createTuitionTypeFromJSON(ctx context.Context, jsonStr string) error {
	tt, err := h.TuitionTypes.ParseTuitionType(jsonStr)
	if err != nil {
		return err
	}
	config, err := h.TuitionTypes.ToJSON(*tt)
	if err != nil {
		return err
	}
	return h.Store.SaveTuitionType(ctx, sqlite.TuitionTypeRecord{ID: tt.ID, Name: tt.Name, ConfigJSON: config})
}

// billsByStudent generates a month and indexes the new bills by student.
func (h *Handler) billsByStudent(ctx context.Context, first generic.TimePoint) (map[string]string, error) {
	resp, err := h.generateMonth(ctx, demoYearID, first)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("generate %s: %v", first.Time.Format("2006-01"), resp.Errors)
	}
	ids := make(map[string]string, len(resp.Created))
	for _, b := range resp.Created {
		ids[b.StudentID] = b.ID
	}
	return ids, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFreshMonthScenario(ctx context.Context) error {
	school, err := h.seedSchool(ctx)
	if err != nil {
		return err
	}
	bills, err := h.billsByStudent(ctx, school.current)
	if err != nil {
		return err
	}

	// one bill is not sent to the family this month
	_, err = h.Cashier.SetBillStatus(ctx, bills["st-omar"], billing.BillNotRequired)
	return err
}

func (h *Handler) loadOverdueBillsScenario(ctx context.Context) error {
	school, err := h.seedSchool(ctx)
	if err != nil {
		return err
	}
	previous, err := h.billsByStudent(ctx, school.previous)
	if err != nil {
		return err
	}
	if _, err := h.billsByStudent(ctx, school.current); err != nil {
		return err
	}

	// Luis settles last month, everyone else stays overdue
	if _, err := h.Cashier.RecordPayment(ctx, previous["st-luis"], "demo:luis-prev", "office"); err != nil {
		return err
	}
	if _, err := h.Cashier.AddDiscountAdjustment(ctx, previous["st-maya"], billing.DiscountAdjustment{
		Type:        billing.AdjustmentPercentage,
		Value:       decimal.NewFromInt(10),
		Description: "Sibling discount",
	}); err != nil {
		return err
	}

	_, err = h.runLateFees(ctx, h.Cashier.Today())
	return err
}

func (h *Handler) loadPartialPaymentsScenario(ctx context.Context) error {
	school, err := h.seedSchool(ctx)
	if err != nil {
		return err
	}
	bills, err := h.billsByStudent(ctx, school.current)
	if err != nil {
		return err
	}

	// Ana pays in two installments
	for i, amount := range []string{"200", "150.50"} {
		if _, err := h.Cashier.RecordPartialPayment(ctx, bills["st-ana"], decimal.RequireFromString(amount),
			fmt.Sprintf("demo:ana-%d", i+1), "office"); err != nil {
			return err
		}
	}

	// Maya settles the bill
	if _, err := h.Cashier.RecordPayment(ctx, bills["st-maya"], "demo:maya", "office"); err != nil {
		return err
	}

	// Luis pays, then the bank returns the payment
	receipt, err := h.Cashier.RecordPartialPayment(ctx, bills["st-luis"], decimal.NewFromInt(300), "demo:luis", "office")
	if err != nil {
		return err
	}
	_, err = h.Cashier.ReversePayment(ctx, bills["st-luis"], receipt.Transaction.ID, "returned by bank", "office")
	return err
}
