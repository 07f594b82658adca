package timeoff_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/timeoff"
)

// requestFixture seeds a policy, employee, assignment, and a funded
// balance, and returns a draft request for one full workday.
func requestFixture(t *testing.T, env *testEnv, balanceMinutes int64) (*timeoff.TimeOffRequest, timeoff.BalanceKey) {
	t.Helper()
	policy, _ := env.seedPolicy(t, monthlySettings(480))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)

	k := key("emp-1", policy.ID)
	if balanceMinutes > 0 {
		env.seedBalance(t, k, balanceMinutes)
	}

	// Monday March 2, 2026: one default 480 minute workday.
	start, end := fullDay(2026, time.March, 2)
	request, err := env.requests.CreateDraft(context.Background(),
		testCompany, "emp-1", policy.ID, start, end, "vacation")
	require.NoError(t, err)
	require.Equal(t, timeoff.StateDraft, request.State)
	require.Equal(t, int64(480), request.RequestedMinutes)
	return request, k
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestRequest_SubmitThenApprove_ConvertsHoldToUsage(t *testing.T) {
	// GIVEN: A funded balance and a submitted one-day request
	// WHEN: The request is approved
	// THEN: The hold is released and the usage posted atomically:
	//       held returns to zero, used carries the full amount

	env := newTestEnv(t)
	request, k := requestFixture(t, env, 960)
	ctx := context.Background()

	submitted, err := env.requests.Submit(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StateSubmitted, submitted.State)

	afterSubmit := env.balance(t, k)
	assert.Equal(t, int64(480), afterSubmit.HeldMinutes)
	assert.Equal(t, int64(480), afterSubmit.Available())

	approved, err := env.requests.Approve(ctx, request.ID, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, timeoff.StateApproved, approved.State)
	assert.Equal(t, "enjoy", approved.ReviewerNote)

	final := env.balance(t, k)
	assert.Equal(t, int64(0), final.HeldMinutes)
	assert.Equal(t, int64(480), final.UsedMinutes)
	assert.Equal(t, int64(480), final.Available())
}

func TestRequest_Deny_ReleasesHoldWithoutUsage(t *testing.T) {
	// GIVEN: A submitted request holding 480 minutes
	// WHEN: The request is denied
	// THEN: The hold is released; used stays zero and the balance is whole

	env := newTestEnv(t)
	request, k := requestFixture(t, env, 960)
	ctx := context.Background()

	_, err := env.requests.Submit(ctx, request.ID)
	require.NoError(t, err)

	denied, err := env.requests.Deny(ctx, request.ID, "coverage gap")
	require.NoError(t, err)
	assert.Equal(t, timeoff.StateDenied, denied.State)

	final := env.balance(t, k)
	assert.Equal(t, int64(0), final.HeldMinutes)
	assert.Equal(t, int64(0), final.UsedMinutes)
	assert.Equal(t, int64(960), final.Available())
}

func TestRequest_CancelFromSubmitted_ReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	request, k := requestFixture(t, env, 960)
	ctx := context.Background()

	_, err := env.requests.Submit(ctx, request.ID)
	require.NoError(t, err)

	cancelled, err := env.requests.Cancel(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StateCancelled, cancelled.State)
	assert.Equal(t, int64(0), env.balance(t, k).HeldMinutes)
}

func TestRequest_CancelFromDraft_PostsNothing(t *testing.T) {
	// GIVEN: A draft request, never submitted
	// WHEN: Cancelling it
	// THEN: The request closes with zero ledger entries for its source

	env := newTestEnv(t)
	request, k := requestFixture(t, env, 960)
	ctx := context.Background()

	cancelled, err := env.requests.Cancel(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StateCancelled, cancelled.State)

	entries, err := env.store.ListEntries(ctx, k, timeoff.LedgerFilter{})
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, timeoff.SourceRequest, e.SourceType)
	}
}

func TestRequest_TerminalStates_RejectFurtherTransitions(t *testing.T) {
	// GIVEN: An approved request
	// WHEN: Approving, denying, or cancelling it again
	// THEN: Every transition fails with an invalid-transition error and the
	//       balance does not move twice

	env := newTestEnv(t)
	request, k := requestFixture(t, env, 960)
	ctx := context.Background()

	_, err := env.requests.Submit(ctx, request.ID)
	require.NoError(t, err)
	_, err = env.requests.Approve(ctx, request.ID, "")
	require.NoError(t, err)

	_, err = env.requests.Approve(ctx, request.ID, "")
	assert.ErrorIs(t, err, timeoff.ErrInvalidTransition)
	_, err = env.requests.Deny(ctx, request.ID, "")
	assert.ErrorIs(t, err, timeoff.ErrInvalidTransition)
	_, err = env.requests.Cancel(ctx, request.ID)
	assert.ErrorIs(t, err, timeoff.ErrInvalidTransition)

	final := env.balance(t, k)
	assert.Equal(t, int64(480), final.UsedMinutes, "usage must post exactly once")
}

func TestRequest_ApproveFromDraft_Rejected(t *testing.T) {
	env := newTestEnv(t)
	request, _ := requestFixture(t, env, 960)

	_, err := env.requests.Approve(context.Background(), request.ID, "")
	require.Error(t, err)
	var te *timeoff.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, timeoff.StateDraft, te.From)
	assert.Equal(t, timeoff.StateApproved, te.To)
}

// =============================================================================
// SUBMIT VALIDATION
// =============================================================================

func TestRequest_Submit_InsufficientBalance_NothingWritten(t *testing.T) {
	// GIVEN: 100 minutes available and a 480 minute request
	// WHEN: Submitting
	// THEN: InsufficientBalance with the shortfall detail; the request
	//       stays in draft and no hold exists

	env := newTestEnv(t)
	request, k := requestFixture(t, env, 100)
	ctx := context.Background()

	_, err := env.requests.Submit(ctx, request.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, timeoff.ErrInsufficientBalance)

	var ib *timeoff.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, int64(100), ib.Available)
	assert.Equal(t, int64(480), ib.Requested)

	stored, err := env.store.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StateDraft, stored.State)
	assert.Equal(t, int64(0), env.balance(t, k).HeldMinutes)
}

func TestRequest_Submit_NoActiveAssignment_Rejected(t *testing.T) {
	// GIVEN: A draft whose start date falls outside every assignment
	// WHEN: Submitting
	// THEN: ErrNoActiveAssignment, no hold placed

	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, monthlySettings(480))
	env.seedEmployee(t, "emp-1", policyEpoch)
	// Assignment begins after the requested day.
	env.seedAssignment(t, "emp-1", policy.ID, time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC))
	env.seedBalance(t, key("emp-1", policy.ID), 960)

	start, end := fullDay(2026, time.March, 2)
	request, err := env.requests.CreateDraft(context.Background(), testCompany, "emp-1", policy.ID, start, end, "")
	require.NoError(t, err)

	_, err = env.requests.Submit(context.Background(), request.ID)
	assert.ErrorIs(t, err, timeoff.ErrNoActiveAssignment)
}

func TestRequest_Submit_OverlappingSubmitted_Rejected(t *testing.T) {
	// GIVEN: A submitted request for March 2-4
	// WHEN: Submitting a second request for March 3-5 on the same policy
	// THEN: ErrOverlappingRequest

	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, monthlySettings(480))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	env.seedBalance(t, key("emp-1", policy.ID), 4800)
	ctx := context.Background()

	first, err := env.requests.CreateDraft(ctx, testCompany, "emp-1", policy.ID,
		time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	_, err = env.requests.Submit(ctx, first.ID)
	require.NoError(t, err)

	second, err := env.requests.CreateDraft(ctx, testCompany, "emp-1", policy.ID,
		time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	_, err = env.requests.Submit(ctx, second.ID)
	assert.ErrorIs(t, err, timeoff.ErrOverlappingRequest)
}

func TestRequest_Submit_AdjacentRanges_NotOverlapping(t *testing.T) {
	// GIVEN: A submitted request ending exactly where the next one starts
	// WHEN: Submitting the second (half-open intervals)
	// THEN: Both succeed

	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, monthlySettings(480))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	env.seedBalance(t, key("emp-1", policy.ID), 4800)
	ctx := context.Background()

	boundary := time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)

	first, err := env.requests.CreateDraft(ctx, testCompany, "emp-1", policy.ID,
		time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), boundary, "")
	require.NoError(t, err)
	_, err = env.requests.Submit(ctx, first.ID)
	require.NoError(t, err)

	second, err := env.requests.CreateDraft(ctx, testCompany, "emp-1", policy.ID,
		boundary, time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	_, err = env.requests.Submit(ctx, second.ID)
	assert.NoError(t, err)
}

func TestRequest_Submit_AllowOverlap_SkipsCheck(t *testing.T) {
	env := newTestEnv(t)
	env.requests.AllowOverlap = true
	policy, _ := env.seedPolicy(t, monthlySettings(480))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	env.seedBalance(t, key("emp-1", policy.ID), 4800)
	ctx := context.Background()

	start, end := fullDay(2026, time.March, 2)
	for i := 0; i < 2; i++ {
		request, err := env.requests.CreateDraft(ctx, testCompany, "emp-1", policy.ID, start, end, "")
		require.NoError(t, err)
		_, err = env.requests.Submit(ctx, request.ID)
		require.NoError(t, err)
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRequest_ConcurrentSubmits_NoDoubleSpend(t *testing.T) {
	// GIVEN: 480 minutes available and five non-overlapping one-day drafts
	//        of 480 minutes each
	// WHEN: All five are submitted concurrently
	// THEN: Exactly one hold lands; the rest fail with InsufficientBalance
	//       and the held total never exceeds the balance

	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, monthlySettings(480))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	k := key("emp-1", policy.ID)
	env.seedBalance(t, k, 480)
	ctx := context.Background()

	// Monday through Friday of one week, one draft per day.
	ids := make([]timeoff.RequestID, 0, 5)
	for day := 2; day <= 6; day++ {
		start, end := fullDay(2026, time.March, day)
		request, err := env.requests.CreateDraft(ctx, testCompany, "emp-1", policy.ID, start, end, "")
		require.NoError(t, err)
		ids = append(ids, request.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id timeoff.RequestID) {
			defer wg.Done()
			_, errs[i] = env.requests.Submit(ctx, id)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, timeoff.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one submit may win the balance")

	final := env.balance(t, k)
	assert.Equal(t, int64(480), final.HeldMinutes)
	assert.Equal(t, int64(0), final.Available())
}
