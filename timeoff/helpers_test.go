package timeoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/timeoff"
	"github.com/warp/leave-ledger/timeoff/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testEnv wires the full service graph over the in-memory store, the way
// the server does at startup.
type testEnv struct {
	store       *store.Memory
	policies    *timeoff.PolicyService
	projector   *timeoff.Projector
	requests    *timeoff.RequestService
	accruals    *timeoff.AccrualEngine
	carryover   *timeoff.CarryoverProcessor
	adjustments *timeoff.AdjustmentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	policies := timeoff.NewPolicyService(st)
	projector := timeoff.NewProjector(st)
	return &testEnv{
		store:       st,
		policies:    policies,
		projector:   projector,
		requests:    timeoff.NewRequestService(st, policies, projector),
		accruals:    timeoff.NewAccrualEngine(st, policies, projector),
		carryover:   timeoff.NewCarryoverProcessor(st, policies, projector),
		adjustments: timeoff.NewAdjustmentService(st, policies, projector),
	}
}

const testCompany = timeoff.CompanyID("acme")

// Policy effective dates sit far in the past so "current version" lookups
// that use the wall clock always resolve.
var policyEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

func monthlySettings(rate int64) timeoff.PolicySettings {
	return timeoff.PolicySettings{
		Kind: timeoff.KindTimeAccrual,
		TimeAccrual: &timeoff.TimeAccrualSettings{
			RateMinutes: rate,
			Frequency:   timeoff.FrequencyMonthly,
			Timing:      timeoff.TimingPeriodEnd,
			Proration:   timeoff.ProrationNone,
		},
	}
}

func (e *testEnv) seedPolicy(t *testing.T, settings timeoff.PolicySettings) (*timeoff.Policy, *timeoff.PolicyVersion) {
	t.Helper()
	policy, version, err := e.policies.CreatePolicy(context.Background(),
		testCompany, "Vacation", settings, policyEpoch, "test", "initial")
	require.NoError(t, err)
	return policy, version
}

func (e *testEnv) seedEmployee(t *testing.T, id timeoff.EmployeeID, hireDate time.Time) timeoff.Employee {
	t.Helper()
	employee := timeoff.Employee{
		ID:        id,
		CompanyID: testCompany,
		Name:      "Test Employee",
		HireDate:  hireDate,
	}
	require.NoError(t, e.store.PutEmployee(context.Background(), employee))
	return employee
}

func (e *testEnv) seedAssignment(t *testing.T, employeeID timeoff.EmployeeID, policyID timeoff.PolicyID, from time.Time) timeoff.Assignment {
	t.Helper()
	assignment := timeoff.Assignment{
		ID:            timeoff.AssignmentID(uuid.NewString()),
		CompanyID:     testCompany,
		EmployeeID:    employeeID,
		PolicyID:      policyID,
		EffectiveFrom: from,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, e.store.CreateAssignment(context.Background(), assignment))
	return assignment
}

// seedBalance credits minutes through the normal adjustment path so the
// snapshot and ledger stay consistent.
func (e *testEnv) seedBalance(t *testing.T, key timeoff.BalanceKey, minutes int64) {
	t.Helper()
	_, err := e.adjustments.PostAdjustment(context.Background(), key, minutes,
		uuid.NewString(), "test seed", "test")
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, key timeoff.BalanceKey) timeoff.BalanceSnapshot {
	t.Helper()
	snap, err := e.projector.GetBalance(context.Background(), key)
	require.NoError(t, err)
	return *snap
}

func key(employeeID timeoff.EmployeeID, policyID timeoff.PolicyID) timeoff.BalanceKey {
	return timeoff.BalanceKey{CompanyID: testCompany, EmployeeID: employeeID, PolicyID: policyID}
}

// fullDay returns [00:00, 00:00+24h) UTC for a date, one default workday.
func fullDay(y int, m time.Month, d int) (time.Time, time.Time) {
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
