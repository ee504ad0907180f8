package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/generic"
)

// =============================================================================
// TUITION TYPE STORE
// =============================================================================

// TuitionTypeRecord is a stored tuition type with its JSON config.
type TuitionTypeRecord struct {
	ID         string
	Name       string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveTuitionType upserts a tuition type. Bills already issued keep the
// late-fee terms they were created with.
func (s *Store) SaveTuitionType(ctx context.Context, tt TuitionTypeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO tuition_types (id, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = tuition_types.version + 1,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, query, tt.ID, tt.Name, tt.ConfigJSON, now, now)
	return err
}

// GetTuitionType retrieves a tuition type by ID.
func (s *Store) GetTuitionType(ctx context.Context, id string) (*TuitionTypeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tt TuitionTypeRecord
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, config_json, version, created_at, updated_at FROM tuition_types WHERE id = ?",
		id,
	).Scan(&tt.ID, &tt.Name, &tt.ConfigJSON, &tt.Version, &createdAt, &updatedAt)

	if isNoRows(err) {
		return nil, generic.NewNotFound("tuition type", id)
	}
	if err != nil {
		return nil, err
	}

	tt.CreatedAt = parseTime(createdAt)
	tt.UpdatedAt = parseTime(updatedAt)
	return &tt, nil
}

// ListTuitionTypes returns all tuition types.
func (s *Store) ListTuitionTypes(ctx context.Context) ([]TuitionTypeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, config_json, version, created_at, updated_at FROM tuition_types ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []TuitionTypeRecord
	for rows.Next() {
		var tt TuitionTypeRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&tt.ID, &tt.Name, &tt.ConfigJSON, &tt.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		tt.CreatedAt = parseTime(createdAt)
		tt.UpdatedAt = parseTime(updatedAt)
		types = append(types, tt)
	}
	return types, rows.Err()
}

// =============================================================================
// SCHOOL YEAR STORE
// =============================================================================

// SchoolYear is an academic year bills are generated for.
type SchoolYear struct {
	ID        string
	Name      string
	StartDate generic.TimePoint
	EndDate   generic.TimePoint
	Active    bool
	CreatedAt time.Time
}

// Period returns the span of the school year.
func (y SchoolYear) Period() generic.Period {
	return generic.Period{Start: y.StartDate, End: y.EndDate}
}

// SaveSchoolYear upserts a school year.
func (s *Store) SaveSchoolYear(ctx context.Context, y SchoolYear) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO school_years (id, name, start_date, end_date, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query,
		y.ID, y.Name, y.StartDate.String(), y.EndDate.String(), y.Active,
		formatTime(time.Now()),
	)
	return err
}

// GetSchoolYear retrieves a school year by ID.
func (s *Store) GetSchoolYear(ctx context.Context, id string) (*SchoolYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	years, err := s.querySchoolYears(ctx,
		"SELECT id, name, start_date, end_date, active, created_at FROM school_years WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(years) == 0 {
		return nil, generic.NewNotFound("school year", id)
	}
	return &years[0], nil
}

// ListSchoolYears returns all school years, most recent first.
func (s *Store) ListSchoolYears(ctx context.Context) ([]SchoolYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySchoolYears(ctx,
		"SELECT id, name, start_date, end_date, active, created_at FROM school_years ORDER BY start_date DESC")
}

func (s *Store) querySchoolYears(ctx context.Context, query string, args ...any) ([]SchoolYear, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var years []SchoolYear
	for rows.Next() {
		var y SchoolYear
		var start, end, createdAt string
		if err := rows.Scan(&y.ID, &y.Name, &start, &end, &y.Active, &createdAt); err != nil {
			return nil, err
		}
		y.StartDate = parseDate(start)
		y.EndDate = parseDate(end)
		y.CreatedAt = parseTime(createdAt)
		years = append(years, y)
	}
	return years, rows.Err()
}

// =============================================================================
// STUDENT STORE
// =============================================================================

// Student represents a student record.
type Student struct {
	ID            string
	Name          string
	SchoolYearID  string
	TuitionTypeID string
	Active        bool
	CreatedAt     time.Time
}

// SaveStudent upserts a student.
func (s *Store) SaveStudent(ctx context.Context, st Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO students (id, name, school_year_id, tuition_type_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			school_year_id = excluded.school_year_id,
			tuition_type_id = excluded.tuition_type_id,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query,
		st.ID, st.Name, nullString(st.SchoolYearID), nullString(st.TuitionTypeID), st.Active,
		formatTime(time.Now()),
	)
	return err
}

// GetStudent retrieves a student by ID.
func (s *Store) GetStudent(ctx context.Context, id string) (*Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	students, err := s.queryStudents(ctx,
		"SELECT id, name, school_year_id, tuition_type_id, active, created_at FROM students WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, generic.NewNotFound("student", id)
	}
	return &students[0], nil
}

// ListStudents returns students, optionally limited to one school year.
func (s *Store) ListStudents(ctx context.Context, schoolYearID string) ([]Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if schoolYearID != "" {
		return s.queryStudents(ctx,
			"SELECT id, name, school_year_id, tuition_type_id, active, created_at FROM students WHERE school_year_id = ? ORDER BY name",
			schoolYearID)
	}
	return s.queryStudents(ctx,
		"SELECT id, name, school_year_id, tuition_type_id, active, created_at FROM students ORDER BY name")
}

func (s *Store) queryStudents(ctx context.Context, query string, args ...any) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		var schoolYearID, tuitionTypeID sql.NullString
		var createdAt string
		if err := rows.Scan(&st.ID, &st.Name, &schoolYearID, &tuitionTypeID, &st.Active, &createdAt); err != nil {
			return nil, err
		}
		st.SchoolYearID = schoolYearID.String
		st.TuitionTypeID = tuitionTypeID.String
		st.CreatedAt = parseTime(createdAt)
		students = append(students, st)
	}
	return students, rows.Err()
}

// =============================================================================
// SCHOLARSHIP STORE
// =============================================================================

// SaveScholarship writes the student's scholarship. A cleared update is
// stored with NULL type and value so the removal is explicit.
func (s *Store) SaveScholarship(ctx context.Context, sch billing.Scholarship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var typ, value sql.NullString
	if sch.Type != nil {
		typ = sql.NullString{String: string(*sch.Type), Valid: true}
	}
	if sch.Value != nil {
		value = sql.NullString{String: sch.Value.String(), Valid: true}
	}
	updatedAt := sch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO scholarships (student_id, tuition_type_id, scholarship_type, scholarship_value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(student_id) DO UPDATE SET
			tuition_type_id = excluded.tuition_type_id,
			scholarship_type = excluded.scholarship_type,
			scholarship_value = excluded.scholarship_value,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		sch.StudentID, nullString(sch.TuitionTypeID), typ, value, formatTime(updatedAt))
	if err != nil {
		return fmt.Errorf("failed to save scholarship for %s: %w", sch.StudentID, err)
	}
	return nil
}

// GetScholarship returns the student's scholarship. A student without one
// gets an inactive scholarship, not an error.
func (s *Store) GetScholarship(ctx context.Context, studentID string) (*billing.Scholarship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		tuitionTypeID, typ, value sql.NullString
		updatedAt                 string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT tuition_type_id, scholarship_type, scholarship_value, updated_at FROM scholarships WHERE student_id = ?",
		studentID,
	).Scan(&tuitionTypeID, &typ, &value, &updatedAt)
	if isNoRows(err) {
		return &billing.Scholarship{StudentID: studentID}, nil
	}
	if err != nil {
		return nil, err
	}

	sch := &billing.Scholarship{
		StudentID:     studentID,
		TuitionTypeID: tuitionTypeID.String,
		UpdatedAt:     parseTime(updatedAt),
	}
	if typ.Valid {
		t := billing.ScholarshipType(typ.String)
		sch.Type = &t
	}
	if value.Valid {
		d, err := decimal.NewFromString(value.String)
		if err != nil {
			return nil, fmt.Errorf("scholarship of %s: bad value %q: %w", studentID, value.String, err)
		}
		sch.Value = &d
	}
	return sch, nil
}

// =============================================================================
// RECURRING CHARGE STORE
// =============================================================================

// SaveRecurringCharge upserts a recurring charge.
func (s *Store) SaveRecurringCharge(ctx context.Context, c billing.RecurringCharge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var endsOn sql.NullString
	if c.EndsOn != nil {
		endsOn = sql.NullString{String: c.EndsOn.String(), Valid: true}
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO recurring_charges (id, student_id, description, amount, starts_on, ends_on, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			amount = excluded.amount,
			starts_on = excluded.starts_on,
			ends_on = excluded.ends_on
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.StudentID, nullString(c.Description), c.Amount.String(),
		c.StartsOn.String(), endsOn, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save recurring charge: %w", err)
	}
	return nil
}

// ListRecurringCharges returns a student's recurring charges.
func (s *Store) ListRecurringCharges(ctx context.Context, studentID string) ([]billing.RecurringCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, description, amount, starts_on, ends_on, created_at
		FROM recurring_charges
		WHERE student_id = ?
		ORDER BY starts_on, created_at
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []billing.RecurringCharge
	for rows.Next() {
		var (
			c                         billing.RecurringCharge
			description, endsOn       sql.NullString
			amount, startsOn, created string
		)
		if err := rows.Scan(&c.ID, &c.StudentID, &description, &amount, &startsOn, &endsOn, &created); err != nil {
			return nil, err
		}
		c.Description = description.String
		c.Amount = generic.MustParseDecimal(amount)
		c.StartsOn = parseDate(startsOn)
		if endsOn.Valid {
			tp := parseDate(endsOn.String)
			c.EndsOn = &tp
		}
		c.CreatedAt = parseTime(created)
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

// DeleteRecurringCharge removes a recurring charge. Bills already generated
// keep the extra charge it produced.
func (s *Store) DeleteRecurringCharge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM recurring_charges WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NewNotFound("recurring charge", id)
	}
	return nil
}

// =============================================================================
// LATE FEE RUNS
// =============================================================================

// SaveLateFeeRun upserts the summary of a late-fee sweep.
func (s *Store) SaveLateFeeRun(ctx context.Context, r billing.LateFeeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errorsJSON, err := json.Marshal(nonNil(r.Errors))
	if err != nil {
		return err
	}
	totals := make([]runTotal, len(r.Totals))
	for i, a := range r.Totals {
		totals[i] = runTotal{Amount: a.Value.String(), Currency: string(a.Currency)}
	}
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*r.CompletedAt), Valid: true}
	}

	query := `
		INSERT INTO late_fee_runs (id, as_of, status, examined, applied, total, currency,
			totals_json, errors_json, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			examined = excluded.examined,
			applied = excluded.applied,
			total = excluded.total,
			currency = excluded.currency,
			totals_json = excluded.totals_json,
			errors_json = excluded.errors_json,
			completed_at = excluded.completed_at
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.AsOf.String(), r.Status, r.Examined, r.Applied,
		r.Total.Value.String(), r.Total.Currency, string(totalsJSON), string(errorsJSON),
		formatTime(r.StartedAt), completedAt,
	)
	return err
}

// runTotal is one element of late_fee_runs.totals_json.
type runTotal struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// ListLateFeeRuns returns the most recent sweeps first.
func (s *Store) ListLateFeeRuns(ctx context.Context, limit int) ([]billing.LateFeeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, as_of, status, examined, applied, total, currency, totals_json, errors_json,
			started_at, completed_at
		FROM late_fee_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []billing.LateFeeRun
	for rows.Next() {
		var (
			r                                   billing.LateFeeRun
			asOf, total, currency               string
			startedAt                           string
			totalsJSON, errorsJSON, completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &asOf, &r.Status, &r.Examined, &r.Applied, &total, &currency,
			&totalsJSON, &errorsJSON, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.AsOf = parseDate(asOf)
		r.Total = parseAmount(total, currency)
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		if errorsJSON.Valid {
			if err := decodeJSON(errorsJSON.String, &r.Errors); err != nil {
				return nil, fmt.Errorf("late fee run %s: errors: %w", r.ID, err)
			}
		}
		if totalsJSON.Valid {
			var totals []runTotal
			if err := decodeJSON(totalsJSON.String, &totals); err != nil {
				return nil, fmt.Errorf("late fee run %s: totals: %w", r.ID, err)
			}
			for _, t := range totals {
				r.Totals = append(r.Totals, parseAmount(t.Amount, t.Currency))
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
