/*
Package timeoff implements the leave balance ledger engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking
  employee paid-time-off balances: an append-only ledger of every
  balance-affecting event, a derived balance snapshot per
  (company, employee, policy), effective-dated policy versions, accrual
  computation, and the request hold/release lifecycle.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerEntry: An immutable fact recording a signed minute delta
  - BalanceSnapshot: The cached accrued/used/held aggregate (never truth)
  - TimeOffRequest: A request with a finite lifecycle (draft -> terminal)
  - Assignment: Links an employee to a policy over a date interval
  - Employee/Holiday: Read-only directory and calendar records

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never updated or deleted.
     Corrections are new entries with an opposite-signed amount.
  2. Idempotency: (SourceType, SourceID, EntryType) is unique. A replayed
     write is detected at the store and treated as a successful no-op.
  3. Minutes everywhere: All amounts are whole signed minutes. No floats
     touch a balance.
  4. The snapshot is a cache: it can always be rebuilt by folding the
     ledger for its key.

SEE ALSO:
  - policy.go: Policy versions and the settings variant
  - projector.go: Snapshot locking and invariant enforcement
  - request.go: Request state machine and its ledger postings
*/
package timeoff

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type EmployeeID string
type PolicyID string
type PolicyVersionID string
type AssignmentID string
type RequestID string
type EntryID string

// BalanceKey identifies one balance: every snapshot, lock scope, and
// ledger fold is keyed by this tuple.
type BalanceKey struct {
	CompanyID  CompanyID
	EmployeeID EmployeeID
	PolicyID   PolicyID
}

// =============================================================================
// LEDGER ENTRY - Atomic change to a balance
// =============================================================================

type EntryType string

const (
	EntryAccrual     EntryType = "accrual"      // Scheduled or payroll-driven credit
	EntryHold        EntryType = "hold"         // Reservation for a submitted request
	EntryHoldRelease EntryType = "hold_release" // Release of a prior hold
	EntryUsage       EntryType = "usage"        // Consumption by an approved request
	EntryAdjustment  EntryType = "adjustment"   // Manual admin correction
	EntryExpiration  EntryType = "expiration"   // Forfeiture (cap excess, aging)
	EntryCarryover   EntryType = "carryover"    // Year-boundary rollover marker
)

type SourceType string

const (
	SourceRequest SourceType = "request"
	SourcePayroll SourceType = "payroll"
	SourceAdmin   SourceType = "admin"
	SourceSystem  SourceType = "system"
)

// LedgerEntry is a write-once fact. AmountMinutes is signed: positive
// credits the balance, negative debits it. (SourceType, SourceID,
// EntryType) is the idempotency key enforced by the store.
type LedgerEntry struct {
	ID              EntryID
	CompanyID       CompanyID
	EmployeeID      EmployeeID
	PolicyID        PolicyID
	PolicyVersionID PolicyVersionID
	EntryType       EntryType
	AmountMinutes   int64
	EffectiveAt     time.Time
	SourceType      SourceType
	SourceID        string
	Metadata        map[string]string
	CreatedAt       time.Time
}

// Key returns the balance this entry belongs to.
func (e LedgerEntry) Key() BalanceKey {
	return BalanceKey{CompanyID: e.CompanyID, EmployeeID: e.EmployeeID, PolicyID: e.PolicyID}
}

// =============================================================================
// BALANCE SNAPSHOT - Derived cache, never the source of truth
// =============================================================================

// BalanceSnapshot caches the fold of the ledger for one key. Version is a
// monotonic counter bumped on every write, used for optimistic-lock
// detection. Invariant: AccruedMinutes - UsedMinutes - HeldMinutes equals
// the sum of all ledger amounts for the key.
type BalanceSnapshot struct {
	CompanyID      CompanyID
	EmployeeID     EmployeeID
	PolicyID       PolicyID
	AccruedMinutes int64
	UsedMinutes    int64
	HeldMinutes    int64
	Version        int64
	UpdatedAt      time.Time
}

func (s BalanceSnapshot) Key() BalanceKey {
	return BalanceKey{CompanyID: s.CompanyID, EmployeeID: s.EmployeeID, PolicyID: s.PolicyID}
}

// Available is accrued minus used minus held. For unlimited policies the
// caller treats this as meaningless and reports no available figure.
func (s BalanceSnapshot) Available() int64 {
	return s.AccruedMinutes - s.UsedMinutes - s.HeldMinutes
}

// Apply folds one entry into the snapshot aggregates. The mapping is the
// single place entry types translate into accrued/used/held movements:
//
//	Accrual/Adjustment/Carryover/Expiration  accrued += amount (signed)
//	Hold                                     held   += -amount
//	HoldRelease                              held   -= amount
//	Usage                                    used   += -amount
//
// Holds and usage are posted as negative amounts, so held/used grow by the
// negated amount and the balance identity holds by construction.
func (s *BalanceSnapshot) Apply(e LedgerEntry) {
	switch e.EntryType {
	case EntryAccrual, EntryAdjustment, EntryCarryover, EntryExpiration:
		s.AccruedMinutes += e.AmountMinutes
	case EntryHold:
		s.HeldMinutes += -e.AmountMinutes
	case EntryHoldRelease:
		s.HeldMinutes -= e.AmountMinutes
	case EntryUsage:
		s.UsedMinutes += -e.AmountMinutes
	}
}

// =============================================================================
// TIME-OFF REQUEST
// =============================================================================

type RequestState string

const (
	StateDraft     RequestState = "draft"
	StateSubmitted RequestState = "submitted"
	StateApproved  RequestState = "approved"
	StateDenied    RequestState = "denied"
	StateCancelled RequestState = "cancelled"
)

// Terminal reports whether no further transitions are legal.
func (s RequestState) Terminal() bool {
	return s == StateApproved || s == StateDenied || s == StateCancelled
}

type TimeOffRequest struct {
	ID               RequestID
	CompanyID        CompanyID
	EmployeeID       EmployeeID
	PolicyID         PolicyID
	State            RequestState
	StartAt          time.Time
	EndAt            time.Time
	RequestedMinutes int64
	Note             string
	ReviewerNote     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// =============================================================================
// ASSIGNMENT - Employee enrolled in a policy over an interval
// =============================================================================

// Assignment links an employee to a policy over [EffectiveFrom,
// EffectiveTo). A nil EffectiveTo means open-ended. Overlapping
// assignments of the same policy for the same employee are disallowed at
// creation.
type Assignment struct {
	ID            AssignmentID
	CompanyID     CompanyID
	EmployeeID    EmployeeID
	PolicyID      PolicyID
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	CreatedAt     time.Time
}

// Covers reports whether the assignment is active on the given date.
func (a Assignment) Covers(on time.Time) bool {
	if on.Before(a.EffectiveFrom) {
		return false
	}
	return a.EffectiveTo == nil || on.Before(*a.EffectiveTo)
}

// =============================================================================
// DIRECTORY AND CALENDAR RECORDS (read-only collaborators)
// =============================================================================

// Employee carries the schedule fields the engine reads: timezone for
// duration math, workday shape for clipping, hire date for tenure tiers.
type Employee struct {
	ID             EmployeeID
	CompanyID      CompanyID
	Name           string
	Timezone       string
	WorkdayMinutes int64 // Length of a working day; 0 means the 480 default
	WorkdayStart   int64 // Minutes from midnight; 0 means the 09:00 default
	HireDate       time.Time
}

type Holiday struct {
	CompanyID CompanyID
	Date      time.Time // Midnight, date-only semantics
	Name      string
}

// DateKey normalizes a time to its calendar date in the given location,
// for holiday set membership.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
