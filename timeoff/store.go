/*
store.go - Persistence interfaces for the ledger engine

PURPOSE:
  One Store interface covers everything the engine persists, implemented
  by store/sqlite (durable) and timeoff/store (in-memory, for tests).

TRANSACTION MODEL:
  WithTx runs the given function against a transactional view of the
  store. Every balance-mutating operation in this package follows the
  same discipline inside WithTx:

    1. LockSnapshot on the target (company, employee, policy) key,
       creating it by folding the ledger if absent
    2. Build and validate the candidate entries against the locked state
    3. AppendEntry each one (duplicates reported, not written)
    4. PutSnapshot with the applied deltas and Version+1
    5. Return nil to commit; any error rolls everything back

  This serializes all writers to a key and makes the snapshot/ledger
  identity hold by construction.

IDEMPOTENCY:
  AppendEntry must enforce (SourceType, SourceID, EntryType) uniqueness
  atomically with the insert and return ErrDuplicateIdempotencyKey on
  replay. Application-level dedup caches would not survive restarts.
*/
package timeoff

import (
	"context"
	"time"
)

// LedgerFilter narrows ListEntries. Zero values mean unbounded.
type LedgerFilter struct {
	From time.Time
	To   time.Time
}

// Store is the full persistence surface. Implementations must support
// exclusive row locking within a transaction (LockSnapshot) and a
// uniqueness constraint enforced atomically with insert (AppendEntry).
type Store interface {
	// WithTx runs fn against a transactional store. Nesting is allowed;
	// an inner WithTx joins the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// ----- Ledger (append-only) -----

	// AppendEntry inserts a write-once entry. Returns
	// ErrDuplicateIdempotencyKey if (SourceType, SourceID, EntryType)
	// already exists.
	AppendEntry(ctx context.Context, entry LedgerEntry) error
	ListEntries(ctx context.Context, key BalanceKey, filter LedgerFilter) ([]LedgerEntry, error)
	// FindEntryBySource returns the entry for an idempotency tuple, or
	// ErrNotFound.
	FindEntryBySource(ctx context.Context, sourceType SourceType, sourceID string, entryType EntryType) (*LedgerEntry, error)

	// ----- Balance snapshots -----

	// GetSnapshot returns the cached snapshot, or ErrNotFound if never
	// materialized.
	GetSnapshot(ctx context.Context, key BalanceKey) (*BalanceSnapshot, error)
	// LockSnapshot acquires the exclusive per-key lock for the enclosing
	// transaction and returns the locked row, or ErrNotFound if absent
	// (callers then materialize one by folding the ledger). Only valid
	// inside WithTx.
	LockSnapshot(ctx context.Context, key BalanceKey) (*BalanceSnapshot, error)
	// PutSnapshot inserts or replaces the snapshot row.
	PutSnapshot(ctx context.Context, snapshot BalanceSnapshot) error

	// ----- Policies and versions -----

	CreatePolicy(ctx context.Context, policy Policy) error
	GetPolicy(ctx context.Context, id PolicyID) (*Policy, error)
	ListPolicies(ctx context.Context, companyID CompanyID) ([]Policy, error)
	// ListCompanyIDs returns every company with at least one policy,
	// for schedulers that fan out per company.
	ListCompanyIDs(ctx context.Context) ([]CompanyID, error)
	InsertPolicyVersion(ctx context.Context, version PolicyVersion) error
	ListPolicyVersions(ctx context.Context, policyID PolicyID) ([]PolicyVersion, error)
	// ClosePolicyVersion sets EffectiveTo on a previously open version.
	// The single mutation policy versions ever receive.
	ClosePolicyVersion(ctx context.Context, id PolicyVersionID, effectiveTo time.Time) error

	// ----- Requests -----

	CreateRequest(ctx context.Context, request TimeOffRequest) error
	GetRequest(ctx context.Context, id RequestID) (*TimeOffRequest, error)
	UpdateRequest(ctx context.Context, request TimeOffRequest) error
	// ListRequests returns the employee's requests on a policy in any of
	// the given states (all states if empty).
	ListRequests(ctx context.Context, key BalanceKey, states []RequestState) ([]TimeOffRequest, error)

	// ----- Assignments -----

	CreateAssignment(ctx context.Context, assignment Assignment) error
	ListAssignmentsByEmployee(ctx context.Context, companyID CompanyID, employeeID EmployeeID) ([]Assignment, error)
	ListAssignmentsByPolicy(ctx context.Context, policyID PolicyID) ([]Assignment, error)

	// ----- Directory and calendar (read-mostly lookups) -----

	PutEmployee(ctx context.Context, employee Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context, companyID CompanyID) ([]Employee, error)
	PutHoliday(ctx context.Context, holiday Holiday) error
	ListHolidays(ctx context.Context, companyID CompanyID, from, to time.Time) ([]Holiday, error)
}
