/*
methods.go - timeoff.Store delegation for Store and txStore

PURPOSE:
  Both views delegate to the shared query functions in sqlite.go. The
  root Store guards reads with the read lock and writes with the write
  lock; txStore runs lock-free because WithTx already holds the write
  lock for the whole transaction.
*/
package sqlite

import (
	"context"
	"time"

	"github.com/warp/leave-ledger/timeoff"
)

var (
	_ timeoff.Store = (*Store)(nil)
	_ timeoff.Store = (*txStore)(nil)
)

// =============================================================================
// ROOT STORE
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e timeoff.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func (s *Store) ListEntries(ctx context.Context, key timeoff.BalanceKey, filter timeoff.LedgerFilter) ([]timeoff.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(ctx, s.db, key, filter)
}

func (s *Store) FindEntryBySource(ctx context.Context, st timeoff.SourceType, id string, et timeoff.EntryType) (*timeoff.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findEntryBySource(ctx, s.db, st, id, et)
}

func (s *Store) GetSnapshot(ctx context.Context, key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSnapshot(ctx, s.db, key)
}

// LockSnapshot on the root store is a plain read; the exclusive lock the
// engine relies on only exists inside WithTx.
func (s *Store) LockSnapshot(ctx context.Context, key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	return s.GetSnapshot(ctx, key)
}

func (s *Store) PutSnapshot(ctx context.Context, snap timeoff.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putSnapshot(ctx, s.db, snap)
}

func (s *Store) CreatePolicy(ctx context.Context, p timeoff.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createPolicy(ctx, s.db, p)
}

func (s *Store) GetPolicy(ctx context.Context, id timeoff.PolicyID) (*timeoff.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPolicy(ctx, s.db, id)
}

func (s *Store) ListPolicies(ctx context.Context, companyID timeoff.CompanyID) ([]timeoff.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPolicies(ctx, s.db, companyID)
}

func (s *Store) ListCompanyIDs(ctx context.Context) ([]timeoff.CompanyID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCompanyIDs(ctx, s.db)
}

func (s *Store) InsertPolicyVersion(ctx context.Context, v timeoff.PolicyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPolicyVersion(ctx, s.db, v)
}

func (s *Store) ListPolicyVersions(ctx context.Context, policyID timeoff.PolicyID) ([]timeoff.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPolicyVersions(ctx, s.db, policyID)
}

func (s *Store) ClosePolicyVersion(ctx context.Context, id timeoff.PolicyVersionID, to time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return closePolicyVersion(ctx, s.db, id, to)
}

func (s *Store) CreateRequest(ctx context.Context, r timeoff.TimeOffRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRequest(ctx, s.db, r)
}

func (s *Store) GetRequest(ctx context.Context, id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func (s *Store) UpdateRequest(ctx context.Context, r timeoff.TimeOffRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRequest(ctx, s.db, r)
}

func (s *Store) ListRequests(ctx context.Context, key timeoff.BalanceKey, states []timeoff.RequestState) ([]timeoff.TimeOffRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, key, states)
}

func (s *Store) CreateAssignment(ctx context.Context, a timeoff.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAssignment(ctx, s.db, a)
}

func (s *Store) ListAssignmentsByEmployee(ctx context.Context, companyID timeoff.CompanyID, employeeID timeoff.EmployeeID) ([]timeoff.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAssignmentsByEmployee(ctx, s.db, companyID, employeeID)
}

func (s *Store) ListAssignmentsByPolicy(ctx context.Context, policyID timeoff.PolicyID) ([]timeoff.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAssignmentsByPolicy(ctx, s.db, policyID)
}

func (s *Store) PutEmployee(ctx context.Context, e timeoff.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putEmployee(ctx, s.db, e)
}

func (s *Store) GetEmployee(ctx context.Context, id timeoff.EmployeeID) (*timeoff.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, id)
}

func (s *Store) ListEmployees(ctx context.Context, companyID timeoff.CompanyID) ([]timeoff.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEmployees(ctx, s.db, companyID)
}

func (s *Store) PutHoliday(ctx context.Context, h timeoff.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putHoliday(ctx, s.db, h)
}

func (s *Store) ListHolidays(ctx context.Context, companyID timeoff.CompanyID, from, to time.Time) ([]timeoff.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listHolidays(ctx, s.db, companyID, from, to)
}

// =============================================================================
// TX VIEW
// =============================================================================

func (t *txStore) AppendEntry(ctx context.Context, e timeoff.LedgerEntry) error {
	return appendEntry(ctx, t.q, e)
}

func (t *txStore) ListEntries(ctx context.Context, key timeoff.BalanceKey, filter timeoff.LedgerFilter) ([]timeoff.LedgerEntry, error) {
	return listEntries(ctx, t.q, key, filter)
}

func (t *txStore) FindEntryBySource(ctx context.Context, st timeoff.SourceType, id string, et timeoff.EntryType) (*timeoff.LedgerEntry, error) {
	return findEntryBySource(ctx, t.q, st, id, et)
}

func (t *txStore) GetSnapshot(ctx context.Context, key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	return getSnapshot(ctx, t.q, key)
}

// LockSnapshot inside WithTx is exclusive: the store write lock is held
// until commit, so no other writer can read or move this row.
func (t *txStore) LockSnapshot(ctx context.Context, key timeoff.BalanceKey) (*timeoff.BalanceSnapshot, error) {
	return getSnapshot(ctx, t.q, key)
}

func (t *txStore) PutSnapshot(ctx context.Context, snap timeoff.BalanceSnapshot) error {
	return putSnapshot(ctx, t.q, snap)
}

func (t *txStore) CreatePolicy(ctx context.Context, p timeoff.Policy) error {
	return createPolicy(ctx, t.q, p)
}

func (t *txStore) GetPolicy(ctx context.Context, id timeoff.PolicyID) (*timeoff.Policy, error) {
	return getPolicy(ctx, t.q, id)
}

func (t *txStore) ListPolicies(ctx context.Context, companyID timeoff.CompanyID) ([]timeoff.Policy, error) {
	return listPolicies(ctx, t.q, companyID)
}

func (t *txStore) ListCompanyIDs(ctx context.Context) ([]timeoff.CompanyID, error) {
	return listCompanyIDs(ctx, t.q)
}

func (t *txStore) InsertPolicyVersion(ctx context.Context, v timeoff.PolicyVersion) error {
	return insertPolicyVersion(ctx, t.q, v)
}

func (t *txStore) ListPolicyVersions(ctx context.Context, policyID timeoff.PolicyID) ([]timeoff.PolicyVersion, error) {
	return listPolicyVersions(ctx, t.q, policyID)
}

func (t *txStore) ClosePolicyVersion(ctx context.Context, id timeoff.PolicyVersionID, to time.Time) error {
	return closePolicyVersion(ctx, t.q, id, to)
}

func (t *txStore) CreateRequest(ctx context.Context, r timeoff.TimeOffRequest) error {
	return createRequest(ctx, t.q, r)
}

func (t *txStore) GetRequest(ctx context.Context, id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
	return getRequest(ctx, t.q, id)
}

func (t *txStore) UpdateRequest(ctx context.Context, r timeoff.TimeOffRequest) error {
	return updateRequest(ctx, t.q, r)
}

func (t *txStore) ListRequests(ctx context.Context, key timeoff.BalanceKey, states []timeoff.RequestState) ([]timeoff.TimeOffRequest, error) {
	return listRequests(ctx, t.q, key, states)
}

func (t *txStore) CreateAssignment(ctx context.Context, a timeoff.Assignment) error {
	return createAssignment(ctx, t.q, a)
}

func (t *txStore) ListAssignmentsByEmployee(ctx context.Context, companyID timeoff.CompanyID, employeeID timeoff.EmployeeID) ([]timeoff.Assignment, error) {
	return listAssignmentsByEmployee(ctx, t.q, companyID, employeeID)
}

func (t *txStore) ListAssignmentsByPolicy(ctx context.Context, policyID timeoff.PolicyID) ([]timeoff.Assignment, error) {
	return listAssignmentsByPolicy(ctx, t.q, policyID)
}

func (t *txStore) PutEmployee(ctx context.Context, e timeoff.Employee) error {
	return putEmployee(ctx, t.q, e)
}

func (t *txStore) GetEmployee(ctx context.Context, id timeoff.EmployeeID) (*timeoff.Employee, error) {
	return getEmployee(ctx, t.q, id)
}

func (t *txStore) ListEmployees(ctx context.Context, companyID timeoff.CompanyID) ([]timeoff.Employee, error) {
	return listEmployees(ctx, t.q, companyID)
}

func (t *txStore) PutHoliday(ctx context.Context, h timeoff.Holiday) error {
	return putHoliday(ctx, t.q, h)
}

func (t *txStore) ListHolidays(ctx context.Context, companyID timeoff.CompanyID, from, to time.Time) ([]timeoff.Holiday, error) {
	return listHolidays(ctx, t.q, companyID, from, to)
}
