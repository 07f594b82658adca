/*
Package store provides the in-memory Store implementation, used by tests
and by :memory: development runs.

TRANSACTION MODEL:
  One mutex serializes all transactions. WithTx snapshots the state
  before running the function and restores it on error, giving the same
  all-or-nothing semantics as the SQLite store. Because transactions are
  fully serialized, LockSnapshot reduces to a read under the
  transaction's exclusivity.
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.Mutex
	st *state
}

type sourceKey struct {
	SourceType timeoff.SourceType
	SourceID   string
	EntryType  timeoff.EntryType
}

type state struct {
	entries     []timeoff.LedgerEntry
	bySource    map[sourceKey]int
	snapshots   map[timeoff.BalanceKey]timeoff.BalanceSnapshot
	policies    map[timeoff.PolicyID]timeoff.Policy
	versions    map[timeoff.PolicyID][]timeoff.PolicyVersion
	requests    map[timeoff.RequestID]timeoff.TimeOffRequest
	assignments []timeoff.Assignment
	employees   map[timeoff.EmployeeID]timeoff.Employee
	holidays    []timeoff.Holiday
}

func newState() *state {
	return &state{
		bySource:  make(map[sourceKey]int),
		snapshots: make(map[timeoff.BalanceKey]timeoff.BalanceSnapshot),
		policies:  make(map[timeoff.PolicyID]timeoff.Policy),
		versions:  make(map[timeoff.PolicyID][]timeoff.PolicyVersion),
		requests:  make(map[timeoff.RequestID]timeoff.TimeOffRequest),
		employees: make(map[timeoff.EmployeeID]timeoff.Employee),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.entries = append([]timeoff.LedgerEntry(nil), s.entries...)
	for k, v := range s.bySource {
		c.bySource[k] = v
	}
	for k, v := range s.snapshots {
		c.snapshots[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	for k, v := range s.versions {
		c.versions[k] = append([]timeoff.PolicyVersion(nil), v...)
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	c.assignments = append([]timeoff.Assignment(nil), s.assignments...)
	for k, v := range s.employees {
		c.employees[k] = v
	}
	c.holidays = append([]timeoff.Holiday(nil), s.holidays...)
	return c
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var _ timeoff.Store = (*Memory)(nil)

// WithTx serializes on the store mutex, runs fn against a transactional
// view, and restores the pre-transaction state on error.
func (m *Memory) WithTx(ctx context.Context, fn func(tx timeoff.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := m.st.clone()
	if err := fn(&txMemory{st: m.st}); err != nil {
		m.st = backup
		return err
	}
	return nil
}

// txMemory is the in-transaction view. The enclosing WithTx holds the
// mutex, so methods touch state directly; a nested WithTx joins.
type txMemory struct {
	st *state
}

var _ timeoff.Store = (*txMemory)(nil)

func (t *txMemory) WithTx(ctx context.Context, fn func(tx timeoff.Store) error) error {
	return fn(t)
}

// =============================================================================
// STATE OPERATIONS - Shared by both views
// =============================================================================

func (s *state) appendEntry(entry timeoff.LedgerEntry) error {
	k := sourceKey{SourceType: entry.SourceType, SourceID: entry.SourceID, EntryType: entry.EntryType}
	if _, exists := s.bySource[k]; exists {
		return timeoff.ErrDuplicateIdempotencyKey
	}
	s.entries = append(s.entries, entry)
	s.bySource[k] = len(s.entries) - 1
	return nil
}

func (s *state) listEntries(key timeoff.BalanceKey, filter timeoff.LedgerFilter) []timeoff.LedgerEntry {
	var out []timeoff.LedgerEntry
	for _, e := range s.entries {
		if e.Key() != key {
			continue
		}
		if !filter.From.IsZero() && e.EffectiveAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !e.EffectiveAt.Before(filter.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveAt.Before(out[j].EffectiveAt)
	})
	return out
}

func (s *state) findEntryBySource(st timeoff.SourceType, id string, et timeoff.EntryType) (*timeoff.LedgerEntry, error) {
	if i, ok := s.bySource[sourceKey{SourceType: st, SourceID: id, EntryType: et}]; ok {
		e := s.entries[i]
		return &e, nil
	}
	return nil, timeoff.ErrNotFound
}

func (s *state) getSnapshot(key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	if snap, ok := s.snapshots[key]; ok {
		return &snap, nil
	}
	return nil, timeoff.ErrNotFound
}

func (s *state) createPolicy(p timeoff.Policy) error {
	if _, exists := s.policies[p.ID]; exists {
		return timeoff.ErrDuplicateIdempotencyKey
	}
	s.policies[p.ID] = p
	return nil
}

func (s *state) getPolicy(id timeoff.PolicyID) (*timeoff.Policy, error) {
	if p, ok := s.policies[id]; ok {
		return &p, nil
	}
	return nil, timeoff.ErrNotFound
}

func (s *state) listPolicies(companyID timeoff.CompanyID) []timeoff.Policy {
	var out []timeoff.Policy
	for _, p := range s.policies {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) listCompanyIDs() []timeoff.CompanyID {
	seen := make(map[timeoff.CompanyID]struct{})
	var out []timeoff.CompanyID
	for _, p := range s.policies {
		if _, ok := seen[p.CompanyID]; !ok {
			seen[p.CompanyID] = struct{}{}
			out = append(out, p.CompanyID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *state) listVersions(policyID timeoff.PolicyID) []timeoff.PolicyVersion {
	return append([]timeoff.PolicyVersion(nil), s.versions[policyID]...)
}

func (s *state) closeVersion(id timeoff.PolicyVersionID, to time.Time) error {
	for policyID, versions := range s.versions {
		for i := range versions {
			if versions[i].ID == id {
				end := to
				versions[i].EffectiveTo = &end
				s.versions[policyID] = versions
				return nil
			}
		}
	}
	return timeoff.ErrNotFound
}

func (s *state) getRequest(id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
	if r, ok := s.requests[id]; ok {
		return &r, nil
	}
	return nil, timeoff.ErrNotFound
}

func (s *state) listRequests(key timeoff.BalanceKey, states []timeoff.RequestState) []timeoff.TimeOffRequest {
	match := func(st timeoff.RequestState) bool {
		if len(states) == 0 {
			return true
		}
		for _, want := range states {
			if st == want {
				return true
			}
		}
		return false
	}
	var out []timeoff.TimeOffRequest
	for _, r := range s.requests {
		if r.CompanyID == key.CompanyID && r.EmployeeID == key.EmployeeID && r.PolicyID == key.PolicyID && match(r.State) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *state) listAssignmentsByEmployee(companyID timeoff.CompanyID, employeeID timeoff.EmployeeID) []timeoff.Assignment {
	var out []timeoff.Assignment
	for _, a := range s.assignments {
		if a.CompanyID == companyID && a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	return out
}

func (s *state) listAssignmentsByPolicy(policyID timeoff.PolicyID) []timeoff.Assignment {
	var out []timeoff.Assignment
	for _, a := range s.assignments {
		if a.PolicyID == policyID {
			out = append(out, a)
		}
	}
	return out
}

func (s *state) createAssignment(a timeoff.Assignment) error {
	for _, existing := range s.assignments {
		if existing.EmployeeID != a.EmployeeID || existing.PolicyID != a.PolicyID {
			continue
		}
		if overlaps(existing, a) {
			return &timeoff.ValidationError{Field: "effectiveFrom", Message: "overlapping assignment for the same policy"}
		}
	}
	s.assignments = append(s.assignments, a)
	return nil
}

func overlaps(a, b timeoff.Assignment) bool {
	aEnd := a.EffectiveTo
	bEnd := b.EffectiveTo
	if aEnd != nil && !aEnd.After(b.EffectiveFrom) {
		return false
	}
	if bEnd != nil && !bEnd.After(a.EffectiveFrom) {
		return false
	}
	return true
}

func (s *state) listHolidays(companyID timeoff.CompanyID, from, to time.Time) []timeoff.Holiday {
	var out []timeoff.Holiday
	for _, h := range s.holidays {
		if h.CompanyID != companyID {
			continue
		}
		if h.Date.Before(from) || h.Date.After(to) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (s *state) listEmployees(companyID timeoff.CompanyID) []timeoff.Employee {
	var out []timeoff.Employee
	for _, e := range s.employees {
		if e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// MEMORY - Locked delegation
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, entry timeoff.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendEntry(entry)
}

func (m *Memory) ListEntries(_ context.Context, key timeoff.BalanceKey, filter timeoff.LedgerFilter) ([]timeoff.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listEntries(key, filter), nil
}

func (m *Memory) FindEntryBySource(_ context.Context, st timeoff.SourceType, id string, et timeoff.EntryType) (*timeoff.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.findEntryBySource(st, id, et)
}

func (m *Memory) GetSnapshot(_ context.Context, key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getSnapshot(key)
}

// LockSnapshot outside a transaction is a plain read; the Projector only
// calls it inside WithTx where the mutex already serializes writers.
func (m *Memory) LockSnapshot(ctx context.Context, key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	return m.GetSnapshot(ctx, key)
}

func (m *Memory) PutSnapshot(_ context.Context, snap timeoff.BalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.snapshots[snap.Key()] = snap
	return nil
}

func (m *Memory) CreatePolicy(_ context.Context, p timeoff.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createPolicy(p)
}

func (m *Memory) GetPolicy(_ context.Context, id timeoff.PolicyID) (*timeoff.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getPolicy(id)
}

func (m *Memory) ListPolicies(_ context.Context, companyID timeoff.CompanyID) ([]timeoff.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listPolicies(companyID), nil
}

func (m *Memory) ListCompanyIDs(_ context.Context) ([]timeoff.CompanyID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listCompanyIDs(), nil
}

func (m *Memory) InsertPolicyVersion(_ context.Context, v timeoff.PolicyVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.versions[v.PolicyID] = append(m.st.versions[v.PolicyID], v)
	return nil
}

func (m *Memory) ListPolicyVersions(_ context.Context, policyID timeoff.PolicyID) ([]timeoff.PolicyVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listVersions(policyID), nil
}

func (m *Memory) ClosePolicyVersion(_ context.Context, id timeoff.PolicyVersionID, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.closeVersion(id, to)
}

func (m *Memory) CreateRequest(_ context.Context, r timeoff.TimeOffRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.requests[r.ID] = r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getRequest(id)
}

func (m *Memory) UpdateRequest(_ context.Context, r timeoff.TimeOffRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.requests[r.ID]; !ok {
		return timeoff.ErrNotFound
	}
	m.st.requests[r.ID] = r
	return nil
}

func (m *Memory) ListRequests(_ context.Context, key timeoff.BalanceKey, states []timeoff.RequestState) ([]timeoff.TimeOffRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listRequests(key, states), nil
}

func (m *Memory) CreateAssignment(_ context.Context, a timeoff.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createAssignment(a)
}

func (m *Memory) ListAssignmentsByEmployee(_ context.Context, companyID timeoff.CompanyID, employeeID timeoff.EmployeeID) ([]timeoff.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listAssignmentsByEmployee(companyID, employeeID), nil
}

func (m *Memory) ListAssignmentsByPolicy(_ context.Context, policyID timeoff.PolicyID) ([]timeoff.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listAssignmentsByPolicy(policyID), nil
}

func (m *Memory) PutEmployee(_ context.Context, e timeoff.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id timeoff.EmployeeID) (*timeoff.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.st.employees[id]; ok {
		return &e, nil
	}
	return nil, timeoff.ErrNotFound
}

func (m *Memory) ListEmployees(_ context.Context, companyID timeoff.CompanyID) ([]timeoff.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listEmployees(companyID), nil
}

func (m *Memory) PutHoliday(_ context.Context, h timeoff.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.holidays = append(m.st.holidays, h)
	return nil
}

func (m *Memory) ListHolidays(_ context.Context, companyID timeoff.CompanyID, from, to time.Time) ([]timeoff.Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listHolidays(companyID, from, to), nil
}

// =============================================================================
// TX VIEW - Unlocked delegation (mutex held by WithTx)
// =============================================================================

func (t *txMemory) AppendEntry(_ context.Context, entry timeoff.LedgerEntry) error {
	return t.st.appendEntry(entry)
}

func (t *txMemory) ListEntries(_ context.Context, key timeoff.BalanceKey, filter timeoff.LedgerFilter) ([]timeoff.LedgerEntry, error) {
	return t.st.listEntries(key, filter), nil
}

func (t *txMemory) FindEntryBySource(_ context.Context, st timeoff.SourceType, id string, et timeoff.EntryType) (*timeoff.LedgerEntry, error) {
	return t.st.findEntryBySource(st, id, et)
}

func (t *txMemory) GetSnapshot(_ context.Context, key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	return t.st.getSnapshot(key)
}

func (t *txMemory) LockSnapshot(_ context.Context, key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	return t.st.getSnapshot(key)
}

func (t *txMemory) PutSnapshot(_ context.Context, snap timeoff.BalanceSnapshot) error {
	t.st.snapshots[snap.Key()] = snap
	return nil
}

func (t *txMemory) CreatePolicy(_ context.Context, p timeoff.Policy) error {
	return t.st.createPolicy(p)
}

func (t *txMemory) GetPolicy(_ context.Context, id timeoff.PolicyID) (*timeoff.Policy, error) {
	return t.st.getPolicy(id)
}

func (t *txMemory) ListPolicies(_ context.Context, companyID timeoff.CompanyID) ([]timeoff.Policy, error) {
	return t.st.listPolicies(companyID), nil
}

func (t *txMemory) ListCompanyIDs(_ context.Context) ([]timeoff.CompanyID, error) {
	return t.st.listCompanyIDs(), nil
}

func (t *txMemory) InsertPolicyVersion(_ context.Context, v timeoff.PolicyVersion) error {
	t.st.versions[v.PolicyID] = append(t.st.versions[v.PolicyID], v)
	return nil
}

func (t *txMemory) ListPolicyVersions(_ context.Context, policyID timeoff.PolicyID) ([]timeoff.PolicyVersion, error) {
	return t.st.listVersions(policyID), nil
}

func (t *txMemory) ClosePolicyVersion(_ context.Context, id timeoff.PolicyVersionID, to time.Time) error {
	return t.st.closeVersion(id, to)
}

func (t *txMemory) CreateRequest(_ context.Context, r timeoff.TimeOffRequest) error {
	t.st.requests[r.ID] = r
	return nil
}

func (t *txMemory) GetRequest(_ context.Context, id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
	return t.st.getRequest(id)
}

func (t *txMemory) UpdateRequest(_ context.Context, r timeoff.TimeOffRequest) error {
	if _, ok := t.st.requests[r.ID]; !ok {
		return timeoff.ErrNotFound
	}
	t.st.requests[r.ID] = r
	return nil
}

func (t *txMemory) ListRequests(_ context.Context, key timeoff.BalanceKey, states []timeoff.RequestState) ([]timeoff.TimeOffRequest, error) {
	return t.st.listRequests(key, states), nil
}

func (t *txMemory) CreateAssignment(_ context.Context, a timeoff.Assignment) error {
	return t.st.createAssignment(a)
}

func (t *txMemory) ListAssignmentsByEmployee(_ context.Context, companyID timeoff.CompanyID, employeeID timeoff.EmployeeID) ([]timeoff.Assignment, error) {
	return t.st.listAssignmentsByEmployee(companyID, employeeID), nil
}

func (t *txMemory) ListAssignmentsByPolicy(_ context.Context, policyID timeoff.PolicyID) ([]timeoff.Assignment, error) {
	return t.st.listAssignmentsByPolicy(policyID), nil
}

func (t *txMemory) PutEmployee(_ context.Context, e timeoff.Employee) error {
	t.st.employees[e.ID] = e
	return nil
}

func (t *txMemory) GetEmployee(_ context.Context, id timeoff.EmployeeID) (*timeoff.Employee, error) {
	if e, ok := t.st.employees[id]; ok {
		return &e, nil
	}
	return nil, timeoff.ErrNotFound
}

func (t *txMemory) ListEmployees(_ context.Context, companyID timeoff.CompanyID) ([]timeoff.Employee, error) {
	return t.st.listEmployees(companyID), nil
}

func (t *txMemory) PutHoliday(_ context.Context, h timeoff.Holiday) error {
	t.st.holidays = append(t.st.holidays, h)
	return nil
}

func (t *txMemory) ListHolidays(_ context.Context, companyID timeoff.CompanyID, from, to time.Time) ([]timeoff.Holiday, error) {
	return t.st.listHolidays(companyID, from, to), nil
}
