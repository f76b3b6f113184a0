/*
Package sqlite provides a SQLite-backed implementation of the approval store interfaces.

PURPOSE:
  Implements every persistence interface the billing service needs
  (approval.Store) using SQLite. The PostgreSQL store in store/postgres
  follows the same layout with JSONB instead of TEXT for documents.

INTERFACES IMPLEMENTED:
  approval.RuleStore:          Approval rules, insertion ordered
  approval.BillStore:          Bills with history
  approval.FlowStore:          Status-label flows
  approval.EmployeeStore:      Approvers
  approval.AuditLog:           Append-only action log
  approval.EscalationRunStore: Escalation sweep history
  approval.Resetter:           Wipe for demo scenarios

KEY TABLES:
  approval_rules:   One row per rule, levels in levels_json
  bills:            One row per bill, history in history_json
  approval_flows:   One row per flow, steps in steps_json
  employees:        Approvers
  audit_log:        Append-only, never updated
  escalation_runs:  One row per sweep

RULE ORDER:
  approval_rules.seq is an AUTOINCREMENT key assigned on first insert.
  Upserts go through ON CONFLICT(id) DO UPDATE, which keeps seq, so
  ListRules (ORDER BY seq) returns rules in first-saved order. The router
  relies on that order for first-match-wins.

MONEY:
  Amounts are stored as decimal strings, never REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging): readers don't
  block the single writer. ":memory:" databases are pinned to one
  connection, since each connection would otherwise get its own empty
  database.

USAGE:
  store, err := sqlite.New("./data/approvals.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := billing.NewService(store)

SEE ALSO:
  - approval/store.go: Interface definitions
  - approval/store/memory.go: In-memory implementation for testing
  - store/records/records.go: JSON column layout
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/store/records"
)

// Store implements approval.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ approval.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = dbPath + "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Approval rules (seq gives first-saved order)
	CREATE TABLE IF NOT EXISTS approval_rules (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		min_amount TEXT NOT NULL,
		max_amount TEXT NOT NULL,
		effective_date TEXT,
		levels_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Bills
	CREATE TABLE IF NOT EXISTS bills (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		bill_number TEXT NOT NULL,
		vendor_name TEXT,
		bill_date TEXT,
		due_date TEXT,
		total_payable_amount TEXT NOT NULL,
		approval_status TEXT NOT NULL DEFAULT 'Pending',
		history_json TEXT NOT NULL DEFAULT '[]',
		current_approver_id TEXT NOT NULL DEFAULT '',
		escalated_to TEXT NOT NULL DEFAULT '',
		flow_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bills_status
		ON bills(approval_status);
	CREATE INDEX IF NOT EXISTS idx_bills_current_approver
		ON bills(current_approver_id) WHERE current_approver_id != '';
	CREATE INDEX IF NOT EXISTS idx_bills_escalated_to
		ON bills(escalated_to) WHERE escalated_to != '';

	-- Approval flows
	CREATE TABLE IF NOT EXISTS approval_flows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		steps_json TEXT NOT NULL DEFAULT '[]'
	);

	-- Employees (approvers)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		designation TEXT,
		created_at TEXT NOT NULL
	);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		bill_id TEXT NOT NULL DEFAULT '',
		rule_id TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_audit_bill
		ON audit_log(bill_id) WHERE bill_id != '';
	CREATE INDEX IF NOT EXISTS idx_audit_rule
		ON audit_log(rule_id) WHERE rule_id != '';

	-- Escalation runs (scheduler history)
	CREATE TABLE IF NOT EXISTS escalation_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		escalated INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_escalation_runs_started
		ON escalation_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RULE STORE (approval.RuleStore interface)
// =============================================================================

// SaveRule inserts or updates a rule. Updating keeps the rule's position.
func (s *Store) SaveRule(ctx context.Context, rule approval.ApprovalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	levels, err := records.EncodeLevels(rule.ApproverLevels)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_rules (id, name, min_amount, max_amount, effective_date, levels_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			min_amount = excluded.min_amount,
			max_amount = excluded.max_amount,
			effective_date = excluded.effective_date,
			levels_json = excluded.levels_json,
			updated_at = excluded.updated_at
	`

	var effective sql.NullString
	if rule.EffectiveDate != nil {
		effective = sql.NullString{String: records.FormatTime(*rule.EffectiveDate), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, query,
		string(rule.ID), rule.Name,
		rule.MinAmount.String(), rule.MaxAmount.String(),
		effective, string(levels),
		records.FormatTime(rule.CreatedAt), records.FormatTime(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

const ruleColumns = `id, name, min_amount, max_amount, effective_date, levels_json, created_at, updated_at`

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id approval.RuleID) (*approval.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM approval_rules WHERE id = ?", string(id))
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListRules returns all rules in first-saved order.
func (s *Store) ListRules(ctx context.Context) ([]approval.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+ruleColumns+" FROM approval_rules ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []approval.ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id approval.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM approval_rules WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return approval.ErrRuleNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (approval.ApprovalRule, error) {
	var r approval.ApprovalRule
	var id, minAmount, maxAmount, levels, createdAt, updatedAt string
	var effective sql.NullString

	if err := row.Scan(&id, &r.Name, &minAmount, &maxAmount, &effective, &levels, &createdAt, &updatedAt); err != nil {
		return r, err
	}

	var err error
	r.ID = approval.RuleID(id)
	if r.MinAmount, err = decimal.NewFromString(minAmount); err != nil {
		return r, fmt.Errorf("rule %s: bad min_amount %q: %w", id, minAmount, err)
	}
	if r.MaxAmount, err = decimal.NewFromString(maxAmount); err != nil {
		return r, fmt.Errorf("rule %s: bad max_amount %q: %w", id, maxAmount, err)
	}
	if effective.Valid && effective.String != "" {
		t := records.ParseTime(effective.String)
		r.EffectiveDate = &t
	}
	if r.ApproverLevels, err = records.DecodeLevels([]byte(levels)); err != nil {
		return r, fmt.Errorf("rule %s: %w", id, err)
	}
	r.CreatedAt = records.ParseTime(createdAt)
	r.UpdatedAt = records.ParseTime(updatedAt)
	return r, nil
}

// =============================================================================
// BILL STORE (approval.BillStore interface)
// =============================================================================

// SaveBill inserts or replaces a bill.
func (s *Store) SaveBill(ctx context.Context, bill approval.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := records.EncodeHistory(bill.ApprovalHistory)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bills (id, bill_number, vendor_name, bill_date, due_date, total_payable_amount,
			approval_status, history_json, current_approver_id, escalated_to, flow_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bill_number = excluded.bill_number,
			vendor_name = excluded.vendor_name,
			bill_date = excluded.bill_date,
			due_date = excluded.due_date,
			total_payable_amount = excluded.total_payable_amount,
			approval_status = excluded.approval_status,
			history_json = excluded.history_json,
			current_approver_id = excluded.current_approver_id,
			escalated_to = excluded.escalated_to,
			flow_id = excluded.flow_id,
			updated_at = excluded.updated_at
	`

	var due sql.NullString
	if bill.DueDate != nil {
		due = sql.NullString{String: records.FormatTime(*bill.DueDate), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, query,
		string(bill.ID), bill.BillNumber, bill.VendorName,
		records.FormatTime(bill.BillDate), due,
		bill.TotalPayableAmount.String(),
		bill.ApprovalStatus.String(), string(history),
		string(bill.CurrentApproverID), string(bill.EscalatedTo), string(bill.FlowID),
		records.FormatTime(bill.CreatedAt), records.FormatTime(bill.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save bill: %w", err)
	}
	return nil
}

const billColumns = `id, bill_number, vendor_name, bill_date, due_date, total_payable_amount,
	approval_status, history_json, current_approver_id, escalated_to, flow_id, created_at, updated_at`

// GetBill retrieves a bill by ID.
func (s *Store) GetBill(ctx context.Context, id approval.BillID) (*approval.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+billColumns+" FROM bills WHERE id = ?", string(id))
	bill, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.ErrBillNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// ListBills returns bills matching filter in insertion order.
func (s *Store) ListBills(ctx context.Context, filter approval.BillFilter) ([]approval.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.Status != nil {
		where = append(where, "approval_status = ?")
		args = append(args, filter.Status.String())
	}
	if filter.ApproverID != "" {
		where = append(where, "(current_approver_id = ? OR escalated_to = ?)")
		args = append(args, string(filter.ApproverID), string(filter.ApproverID))
	}

	query := "SELECT " + billColumns + " FROM bills"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []approval.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

func scanBill(row scanner) (approval.Bill, error) {
	var b approval.Bill
	var id, amount, status, history, current, escalated, flow, createdAt, updatedAt string
	var vendor, billDate, due sql.NullString

	if err := row.Scan(&id, &b.BillNumber, &vendor, &billDate, &due, &amount,
		&status, &history, &current, &escalated, &flow, &createdAt, &updatedAt); err != nil {
		return b, err
	}

	var err error
	b.ID = approval.BillID(id)
	b.VendorName = vendor.String
	b.BillDate = records.ParseTime(billDate.String)
	if due.Valid && due.String != "" {
		t := records.ParseTime(due.String)
		b.DueDate = &t
	}
	if b.TotalPayableAmount, err = decimal.NewFromString(amount); err != nil {
		return b, fmt.Errorf("bill %s: bad amount %q: %w", id, amount, err)
	}
	b.ApprovalStatus = approval.ParseStatus(status)
	if b.ApprovalHistory, err = records.DecodeHistory([]byte(history)); err != nil {
		return b, fmt.Errorf("bill %s: %w", id, err)
	}
	b.CurrentApproverID = approval.EmployeeID(current)
	b.EscalatedTo = approval.EmployeeID(escalated)
	b.FlowID = approval.FlowID(flow)
	b.CreatedAt = records.ParseTime(createdAt)
	b.UpdatedAt = records.ParseTime(updatedAt)
	return b, nil
}

// =============================================================================
// FLOW STORE
// =============================================================================

func (s *Store) SaveFlow(ctx context.Context, flow approval.ApprovalFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, err := records.EncodeSteps(flow.Steps)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_flows (id, name, steps_json) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, steps_json = excluded.steps_json
	`, string(flow.ID), flow.Name, string(steps))
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

func (s *Store) GetFlow(ctx context.Context, id approval.FlowID) (*approval.ApprovalFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f approval.ApprovalFlow
	var fid, steps string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, steps_json FROM approval_flows WHERE id = ?", string(id),
	).Scan(&fid, &f.Name, &steps)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	f.ID = approval.FlowID(fid)
	if f.Steps, err = records.DecodeSteps([]byte(steps)); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) ListFlows(ctx context.Context) ([]approval.ApprovalFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, steps_json FROM approval_flows ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []approval.ApprovalFlow
	for rows.Next() {
		var f approval.ApprovalFlow
		var fid, steps string
		if err := rows.Scan(&fid, &f.Name, &steps); err != nil {
			return nil, err
		}
		f.ID = approval.FlowID(fid)
		if f.Steps, err = records.DecodeSteps([]byte(steps)); err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// SaveEmployee saves an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp approval.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, designation, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			designation = excluded.designation
	`

	_, err := s.db.ExecContext(ctx, query,
		string(emp.ID), emp.Name, emp.Email, emp.Designation,
		records.FormatTime(emp.CreatedAt),
	)
	return err
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id approval.EmployeeID) (*approval.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, designation, created_at FROM employees WHERE id = ?", string(id))
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.ErrEmployeeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

// ListEmployees returns all employees ordered by ID.
func (s *Store) ListEmployees(ctx context.Context) ([]approval.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, designation, created_at FROM employees ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []approval.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func scanEmployee(row scanner) (approval.Employee, error) {
	var e approval.Employee
	var id, createdAt string
	var email, designation sql.NullString
	if err := row.Scan(&id, &e.Name, &email, &designation, &createdAt); err != nil {
		return e, err
	}
	e.ID = approval.EmployeeID(id)
	e.Email = email.String
	e.Designation = designation.String
	e.CreatedAt = records.ParseTime(createdAt)
	return e, nil
}

// =============================================================================
// AUDIT LOG (approval.AuditLog interface)
// =============================================================================

// AppendAudit adds an entry. Entries are never updated.
func (s *Store) AppendAudit(ctx context.Context, entry approval.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := records.EncodePayload(entry.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, bill_id, rule_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, records.FormatTime(entry.Timestamp), string(entry.ActorID), string(entry.Action),
		string(entry.BillID), string(entry.RuleID), string(payload))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("audit entry %s: %w", entry.ID, approval.ErrDuplicateID)
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries, oldest first.
func (s *Store) QueryAudit(ctx context.Context, filter approval.AuditFilter) ([]approval.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.BillID != nil {
		where = append(where, "bill_id = ?")
		args = append(args, string(*filter.BillID))
	}
	if filter.RuleID != nil {
		where = append(where, "rule_id = ?")
		args = append(args, string(*filter.RuleID))
	}
	if filter.ActorID != nil {
		where = append(where, "actor_id = ?")
		args = append(args, string(*filter.ActorID))
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT id, ts, actor_id, action, bill_id, rule_id, payload_json FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []approval.AuditEntry
	for rows.Next() {
		var e approval.AuditEntry
		var ts, actor, action, bill, rule, payload string
		if err := rows.Scan(&e.ID, &ts, &actor, &action, &bill, &rule, &payload); err != nil {
			return nil, err
		}
		e.Timestamp = records.ParseTime(ts)
		e.ActorID = approval.EmployeeID(actor)
		e.Action = approval.AuditAction(action)
		e.BillID = approval.BillID(bill)
		e.RuleID = approval.RuleID(rule)
		if e.Payload, err = records.DecodePayload([]byte(payload)); err != nil {
			return nil, err
		}
		// Time bounds are applied on parsed values; text comparison would
		// break across time zones.
		if filter.From != nil && e.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Timestamp.After(*filter.To) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ESCALATION RUNS (approval.EscalationRunStore interface)
// =============================================================================

// SaveEscalationRun inserts or updates a run.
func (s *Store) SaveEscalationRun(ctx context.Context, run approval.EscalationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed sql.NullString
	if run.CompletedAt != nil {
		completed = sql.NullString{String: records.FormatTime(*run.CompletedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_runs (id, started_at, completed_at, escalated, status, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			escalated = excluded.escalated,
			status = excluded.status,
			error = excluded.error
	`, run.ID, records.FormatTime(run.StartedAt), completed, run.Escalated, string(run.Status), run.Error)
	return err
}

// ListEscalationRuns returns the newest runs first. limit <= 0 means all.
func (s *Store) ListEscalationRuns(ctx context.Context, limit int) ([]approval.EscalationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, started_at, completed_at, escalated, status, error FROM escalation_runs ORDER BY started_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []approval.EscalationRun
	for rows.Next() {
		var r approval.EscalationRun
		var started, status string
		var completed sql.NullString
		if err := rows.Scan(&r.ID, &started, &completed, &r.Escalated, &status, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = records.ParseTime(started)
		if completed.Valid {
			t := records.ParseTime(completed.String)
			r.CompletedAt = &t
		}
		r.Status = approval.EscalationRunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"bills", "approval_rules", "approval_flows", "employees", "audit_log", "escalation_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
