/*
Package sqlite provides the SQLite-backed Store implementation.

PURPOSE:
  Implements timeoff.Store using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences (SELECT FOR
  UPDATE instead of the connection-level write mutex).

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch ledger_entries. Corrections are
  opposite-signed entries. The idempotency tuple is a UNIQUE index
  (source_type, source_id, entry_type) enforced atomically with the
  insert, so duplicate detection survives process restarts.

KEY TABLES:
  ledger_entries:    Immutable ledger of all balance changes
  balance_snapshots: Cached accrued/used/held per balance key
  policies:          Policy identity
  policy_versions:   Immutable effective-dated configuration snapshots
  requests:          Time-off request lifecycle
  assignments:       Employee-to-policy enrollment intervals
  employees:         Directory lookups (schedule, timezone, hire date)
  holidays:          Company holiday calendar

CONCURRENCY:
  SQLite allows one writer at a time; WithTx takes the store-level write
  lock for the duration of the transaction, which also realizes the
  exclusive snapshot-row lock the engine's discipline requires.
  SQLITE_BUSY surfaces as timeoff.ErrConcurrencyConflict so callers can
  retry.

WAL MODE:
  Opened with WAL so readers do not block behind the writer.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  defer store.Close()

SEE ALSO:
  - timeoff/store.go: Interface contract
  - timeoff/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/leave-ledger/timeoff"
)

// Store implements timeoff.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the in-memory database coherent and
	// matches the one-writer model.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema. Idempotent.
func (s *Store) Migrate() error {
	schema := `
	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		policy_version_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount_minutes INTEGER NOT NULL,
		effective_at TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency
		ON ledger_entries(source_type, source_id, entry_type);
	CREATE INDEX IF NOT EXISTS idx_ledger_balance_key
		ON ledger_entries(company_id, employee_id, policy_id, effective_at);

	-- Balance snapshots (derived cache)
	CREATE TABLE IF NOT EXISTS balance_snapshots (
		company_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		accrued_minutes INTEGER NOT NULL,
		used_minutes INTEGER NOT NULL,
		held_minutes INTEGER NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (company_id, employee_id, policy_id)
	);

	-- Policies and versions
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_policies_company ON policies(company_id);

	CREATE TABLE IF NOT EXISTS policy_versions (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		version INTEGER NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		settings_json TEXT NOT NULL,
		created_by TEXT,
		change_reason TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (policy_id, version)
	);

	-- Requests
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		state TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		requested_minutes INTEGER NOT NULL,
		note TEXT,
		reviewer_note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_balance_key
		ON requests(company_id, employee_id, policy_id, state);

	-- Assignments
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_employee
		ON assignments(company_id, employee_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_policy
		ON assignments(policy_id);

	-- Directory and calendar
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		timezone TEXT,
		workday_minutes INTEGER NOT NULL DEFAULT 0,
		workday_start INTEGER NOT NULL DEFAULT 0,
		hire_date TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS holidays (
		company_id TEXT NOT NULL,
		date TEXT NOT NULL,
		name TEXT,
		UNIQUE (company_id, date)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside one database transaction, holding the store
// write lock so writers to any balance key are fully serialized.
func (s *Store) WithTx(ctx context.Context, fn func(tx timeoff.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteError(err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapSQLiteError(err)
	}
	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query below
// works inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txStore is the in-transaction view. A nested WithTx joins.
type txStore struct {
	q *sql.Tx
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx timeoff.Store) error) error {
	return fn(t)
}

func mapSQLiteError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrConstraint:
			return timeoff.ErrDuplicateIdempotencyKey
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return timeoff.ErrConcurrencyConflict
		}
	}
	return err
}

// =============================================================================
// LEDGER
// =============================================================================

func appendEntry(ctx context.Context, q dbtx, e timeoff.LedgerEntry) error {
	metadataJSON, _ := json.Marshal(e.Metadata)
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, company_id, employee_id, policy_id, policy_version_id, entry_type,
		 amount_minutes, effective_at, source_type, source_id, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CompanyID, e.EmployeeID, e.PolicyID, e.PolicyVersionID, e.EntryType,
		e.AmountMinutes, fmtTime(e.EffectiveAt), e.SourceType, e.SourceID,
		string(metadataJSON), fmtTime(e.CreatedAt),
	)
	if err != nil {
		return mapSQLiteError(err)
	}
	return nil
}

const entryColumns = `id, company_id, employee_id, policy_id, policy_version_id, entry_type,
	amount_minutes, effective_at, source_type, source_id, metadata_json, created_at`

func listEntries(ctx context.Context, q dbtx, key timeoff.BalanceKey, filter timeoff.LedgerFilter) ([]timeoff.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE company_id = ? AND employee_id = ? AND policy_id = ?`
	args := []any{key.CompanyID, key.EmployeeID, key.PolicyID}
	if !filter.From.IsZero() {
		query += ` AND effective_at >= ?`
		args = append(args, fmtTime(filter.From))
	}
	if !filter.To.IsZero() {
		query += ` AND effective_at < ?`
		args = append(args, fmtTime(filter.To))
	}
	query += ` ORDER BY effective_at ASC, created_at ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []timeoff.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func findEntryBySource(ctx context.Context, q dbtx, st timeoff.SourceType, id string, et timeoff.EntryType) (*timeoff.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+entryColumns+`
		FROM ledger_entries WHERE source_type = ? AND source_id = ? AND entry_type = ?`,
		st, id, et)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, timeoff.ErrNotFound
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntry(rows *sql.Rows) (timeoff.LedgerEntry, error) {
	var (
		e            timeoff.LedgerEntry
		effectiveAt  string
		createdAt    string
		metadataJSON sql.NullString
	)
	err := rows.Scan(&e.ID, &e.CompanyID, &e.EmployeeID, &e.PolicyID, &e.PolicyVersionID,
		&e.EntryType, &e.AmountMinutes, &effectiveAt, &e.SourceType, &e.SourceID,
		&metadataJSON, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.EffectiveAt = parseTime(effectiveAt)
	e.CreatedAt = parseTime(createdAt)
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
	}
	return e, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func getSnapshot(ctx context.Context, q dbtx, key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	var (
		snap      timeoff.BalanceSnapshot
		updatedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT company_id, employee_id, policy_id, accrued_minutes, used_minutes,
		       held_minutes, version, updated_at
		FROM balance_snapshots
		WHERE company_id = ? AND employee_id = ? AND policy_id = ?`,
		key.CompanyID, key.EmployeeID, key.PolicyID,
	).Scan(&snap.CompanyID, &snap.EmployeeID, &snap.PolicyID, &snap.AccruedMinutes,
		&snap.UsedMinutes, &snap.HeldMinutes, &snap.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, timeoff.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	snap.UpdatedAt = parseTime(updatedAt)
	return &snap, nil
}

func putSnapshot(ctx context.Context, q dbtx, snap timeoff.BalanceSnapshot) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO balance_snapshots
		(company_id, employee_id, policy_id, accrued_minutes, used_minutes,
		 held_minutes, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, employee_id, policy_id) DO UPDATE SET
			accrued_minutes = excluded.accrued_minutes,
			used_minutes = excluded.used_minutes,
			held_minutes = excluded.held_minutes,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		snap.CompanyID, snap.EmployeeID, snap.PolicyID, snap.AccruedMinutes,
		snap.UsedMinutes, snap.HeldMinutes, snap.Version, fmtTime(snap.UpdatedAt))
	return mapNil(err)
}

// =============================================================================
// POLICIES AND VERSIONS
// =============================================================================

func createPolicy(ctx context.Context, q dbtx, p timeoff.Policy) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO policies (id, company_id, name, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.CompanyID, p.Name, fmtTime(p.CreatedAt))
	return mapNil(err)
}

func getPolicy(ctx context.Context, q dbtx, id timeoff.PolicyID) (*timeoff.Policy, error) {
	var (
		p         timeoff.Policy
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, company_id, name, created_at FROM policies WHERE id = ?`, id,
	).Scan(&p.ID, &p.CompanyID, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, timeoff.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func listPolicies(ctx context.Context, q dbtx, companyID timeoff.CompanyID) ([]timeoff.Policy, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, company_id, name, created_at FROM policies WHERE company_id = ? ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []timeoff.Policy
	for rows.Next() {
		var (
			p         timeoff.Policy
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func listCompanyIDs(ctx context.Context, q dbtx) ([]timeoff.CompanyID, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT company_id FROM policies ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []timeoff.CompanyID
	for rows.Next() {
		var id timeoff.CompanyID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertPolicyVersion(ctx context.Context, q dbtx, v timeoff.PolicyVersion) error {
	settingsJSON, err := json.Marshal(v.Settings)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO policy_versions
		(id, policy_id, version, effective_from, effective_to, settings_json,
		 created_by, change_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.PolicyID, v.Version, fmtTime(v.EffectiveFrom), fmtTimePtr(v.EffectiveTo),
		string(settingsJSON), v.CreatedBy, v.ChangeReason, fmtTime(v.CreatedAt))
	return mapNil(err)
}

func listPolicyVersions(ctx context.Context, q dbtx, policyID timeoff.PolicyID) ([]timeoff.PolicyVersion, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, policy_id, version, effective_from, effective_to, settings_json,
		       created_by, change_reason, created_at
		FROM policy_versions WHERE policy_id = ? ORDER BY version ASC`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []timeoff.PolicyVersion
	for rows.Next() {
		var (
			v             timeoff.PolicyVersion
			effectiveFrom string
			effectiveTo   sql.NullString
			settingsJSON  string
			createdBy     sql.NullString
			changeReason  sql.NullString
			createdAt     string
		)
		err := rows.Scan(&v.ID, &v.PolicyID, &v.Version, &effectiveFrom, &effectiveTo,
			&settingsJSON, &createdBy, &changeReason, &createdAt)
		if err != nil {
			return nil, err
		}
		v.EffectiveFrom = parseTime(effectiveFrom)
		if effectiveTo.Valid {
			t := parseTime(effectiveTo.String)
			v.EffectiveTo = &t
		}
		if err := json.Unmarshal([]byte(settingsJSON), &v.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings for version %s: %w", v.ID, err)
		}
		v.CreatedBy = createdBy.String
		v.ChangeReason = changeReason.String
		v.CreatedAt = parseTime(createdAt)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func closePolicyVersion(ctx context.Context, q dbtx, id timeoff.PolicyVersionID, to time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE policy_versions SET effective_to = ? WHERE id = ? AND effective_to IS NULL`,
		fmtTime(to), id)
	if err != nil {
		return mapSQLiteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return timeoff.ErrNotFound
	}
	return nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func createRequest(ctx context.Context, q dbtx, r timeoff.TimeOffRequest) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO requests
		(id, company_id, employee_id, policy_id, state, start_at, end_at,
		 requested_minutes, note, reviewer_note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CompanyID, r.EmployeeID, r.PolicyID, r.State, fmtTime(r.StartAt),
		fmtTime(r.EndAt), r.RequestedMinutes, r.Note, r.ReviewerNote,
		fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	return mapNil(err)
}

func getRequest(ctx context.Context, q dbtx, id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
	rows, err := q.QueryContext(ctx, requestSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, timeoff.ErrNotFound
	}
	r, err := scanRequest(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func updateRequest(ctx context.Context, q dbtx, r timeoff.TimeOffRequest) error {
	res, err := q.ExecContext(ctx, `
		UPDATE requests SET state = ?, reviewer_note = ?, requested_minutes = ?,
		       start_at = ?, end_at = ?, updated_at = ?
		WHERE id = ?`,
		r.State, r.ReviewerNote, r.RequestedMinutes, fmtTime(r.StartAt),
		fmtTime(r.EndAt), fmtTime(r.UpdatedAt), r.ID)
	if err != nil {
		return mapSQLiteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return timeoff.ErrNotFound
	}
	return nil
}

const requestSelect = `SELECT id, company_id, employee_id, policy_id, state, start_at,
	end_at, requested_minutes, note, reviewer_note, created_at, updated_at FROM requests`

func listRequests(ctx context.Context, q dbtx, key timeoff.BalanceKey, states []timeoff.RequestState) ([]timeoff.TimeOffRequest, error) {
	query := requestSelect + ` WHERE company_id = ? AND employee_id = ? AND policy_id = ?`
	args := []any{key.CompanyID, key.EmployeeID, key.PolicyID}
	if len(states) > 0 {
		query += ` AND state IN (?` + repeat(",?", len(states)-1) + `)`
		for _, st := range states {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []timeoff.TimeOffRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func scanRequest(rows *sql.Rows) (timeoff.TimeOffRequest, error) {
	var (
		r            timeoff.TimeOffRequest
		startAt      string
		endAt        string
		note         sql.NullString
		reviewerNote sql.NullString
		createdAt    string
		updatedAt    string
	)
	err := rows.Scan(&r.ID, &r.CompanyID, &r.EmployeeID, &r.PolicyID, &r.State,
		&startAt, &endAt, &r.RequestedMinutes, &note, &reviewerNote, &createdAt, &updatedAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan request: %w", err)
	}
	r.StartAt = parseTime(startAt)
	r.EndAt = parseTime(endAt)
	r.Note = note.String
	r.ReviewerNote = reviewerNote.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func createAssignment(ctx context.Context, q dbtx, a timeoff.Assignment) error {
	// Overlapping same-policy assignments are a modelling error; checked
	// here because the constraint spans an interval, not a column.
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM assignments
		WHERE employee_id = ? AND policy_id = ?
		  AND (effective_to IS NULL OR effective_to > ?)
		  AND (? IS NULL OR effective_from < ?)`,
		a.EmployeeID, a.PolicyID, fmtTime(a.EffectiveFrom),
		fmtTimePtr(a.EffectiveTo), fmtTimePtrOrMax(a.EffectiveTo),
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return &timeoff.ValidationError{Field: "effectiveFrom", Message: "overlapping assignment for the same policy"}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO assignments
		(id, company_id, employee_id, policy_id, effective_from, effective_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CompanyID, a.EmployeeID, a.PolicyID, fmtTime(a.EffectiveFrom),
		fmtTimePtr(a.EffectiveTo), fmtTime(a.CreatedAt))
	return mapNil(err)
}

const assignmentSelect = `SELECT id, company_id, employee_id, policy_id,
	effective_from, effective_to, created_at FROM assignments`

func listAssignmentsByEmployee(ctx context.Context, q dbtx, companyID timeoff.CompanyID, employeeID timeoff.EmployeeID) ([]timeoff.Assignment, error) {
	return queryAssignments(ctx, q, assignmentSelect+` WHERE company_id = ? AND employee_id = ?`, companyID, employeeID)
}

func listAssignmentsByPolicy(ctx context.Context, q dbtx, policyID timeoff.PolicyID) ([]timeoff.Assignment, error) {
	return queryAssignments(ctx, q, assignmentSelect+` WHERE policy_id = ?`, policyID)
}

func queryAssignments(ctx context.Context, q dbtx, query string, args ...any) ([]timeoff.Assignment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []timeoff.Assignment
	for rows.Next() {
		var (
			a             timeoff.Assignment
			effectiveFrom string
			effectiveTo   sql.NullString
			createdAt     string
		)
		err := rows.Scan(&a.ID, &a.CompanyID, &a.EmployeeID, &a.PolicyID,
			&effectiveFrom, &effectiveTo, &createdAt)
		if err != nil {
			return nil, err
		}
		a.EffectiveFrom = parseTime(effectiveFrom)
		if effectiveTo.Valid {
			t := parseTime(effectiveTo.String)
			a.EffectiveTo = &t
		}
		a.CreatedAt = parseTime(createdAt)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// =============================================================================
// DIRECTORY AND CALENDAR
// =============================================================================

func putEmployee(ctx context.Context, q dbtx, e timeoff.Employee) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO employees (id, company_id, name, timezone, workday_minutes, workday_start, hire_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			timezone = excluded.timezone,
			workday_minutes = excluded.workday_minutes,
			workday_start = excluded.workday_start,
			hire_date = excluded.hire_date`,
		e.ID, e.CompanyID, e.Name, e.Timezone, e.WorkdayMinutes, e.WorkdayStart,
		fmtTime(e.HireDate))
	return mapNil(err)
}

func getEmployee(ctx context.Context, q dbtx, id timeoff.EmployeeID) (*timeoff.Employee, error) {
	var (
		e        timeoff.Employee
		timezone sql.NullString
		hireDate string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, company_id, name, timezone, workday_minutes, workday_start, hire_date
		FROM employees WHERE id = ?`, id,
	).Scan(&e.ID, &e.CompanyID, &e.Name, &timezone, &e.WorkdayMinutes, &e.WorkdayStart, &hireDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, timeoff.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Timezone = timezone.String
	e.HireDate = parseTime(hireDate)
	return &e, nil
}

func listEmployees(ctx context.Context, q dbtx, companyID timeoff.CompanyID) ([]timeoff.Employee, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, company_id, name, timezone, workday_minutes, workday_start, hire_date
		FROM employees WHERE company_id = ? ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []timeoff.Employee
	for rows.Next() {
		var (
			e        timeoff.Employee
			timezone sql.NullString
			hireDate string
		)
		err := rows.Scan(&e.ID, &e.CompanyID, &e.Name, &timezone, &e.WorkdayMinutes,
			&e.WorkdayStart, &hireDate)
		if err != nil {
			return nil, err
		}
		e.Timezone = timezone.String
		e.HireDate = parseTime(hireDate)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func putHoliday(ctx context.Context, q dbtx, h timeoff.Holiday) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO holidays (company_id, date, name) VALUES (?, ?, ?)
		ON CONFLICT (company_id, date) DO UPDATE SET name = excluded.name`,
		h.CompanyID, fmtTime(h.Date), h.Name)
	return mapNil(err)
}

func listHolidays(ctx context.Context, q dbtx, companyID timeoff.CompanyID, from, to time.Time) ([]timeoff.Holiday, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT company_id, date, name FROM holidays
		WHERE company_id = ? AND date >= ? AND date <= ? ORDER BY date`,
		companyID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []timeoff.Holiday
	for rows.Next() {
		var (
			h    timeoff.Holiday
			date string
			name sql.NullString
		)
		if err := rows.Scan(&h.CompanyID, &date, &name); err != nil {
			return nil, err
		}
		h.Date = parseTime(date)
		h.Name = name.String
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// fmtTimePtrOrMax substitutes a far-future bound for open-ended
// intervals in overlap comparisons.
func fmtTimePtrOrMax(t *time.Time) string {
	if t == nil {
		return "9999-12-31T00:00:00Z"
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func mapNil(err error) error {
	if err != nil {
		return mapSQLiteError(err)
	}
	return nil
}
