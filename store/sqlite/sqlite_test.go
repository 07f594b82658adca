package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/store/sqlite"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testKey() timeoff.BalanceKey {
	return timeoff.BalanceKey{CompanyID: "acme", EmployeeID: "emp-1", PolicyID: "pol-1"}
}

func testEntry(id, sourceID string, entryType timeoff.EntryType, amount int64) timeoff.LedgerEntry {
	k := testKey()
	return timeoff.LedgerEntry{
		ID:              timeoff.EntryID(id),
		CompanyID:       k.CompanyID,
		EmployeeID:      k.EmployeeID,
		PolicyID:        k.PolicyID,
		PolicyVersionID: "ver-1",
		EntryType:       entryType,
		AmountMinutes:   amount,
		EffectiveAt:     time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC),
		SourceType:      timeoff.SourceSystem,
		SourceID:        sourceID,
		Metadata:        map[string]string{"k": "v"},
		CreatedAt:       time.Now().UTC(),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func TestSQLite_AppendEntry_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	// GIVEN: An accrual entry for a source id
	// WHEN: Appending a second entry with the same
	//       (sourceType, sourceId, entryType)
	// THEN: The unique index surfaces ErrDuplicateIdempotencyKey

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendEntry(ctx, testEntry("e-1", "accrual:a:2026-06", timeoff.EntryAccrual, 480)))

	err := store.AppendEntry(ctx, testEntry("e-2", "accrual:a:2026-06", timeoff.EntryAccrual, 480))
	assert.ErrorIs(t, err, timeoff.ErrDuplicateIdempotencyKey)

	entries, err := store.ListEntries(ctx, testKey(), timeoff.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLite_AppendEntry_SameSourceDifferentEntryType_Allowed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendEntry(ctx, testEntry("e-1", "req-1", timeoff.EntryHoldRelease, 480)))
	require.NoError(t, store.AppendEntry(ctx, testEntry("e-2", "req-1", timeoff.EntryUsage, -480)))

	entries, err := store.ListEntries(ctx, testKey(), timeoff.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLite_ListEntries_FilterAndRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	early := testEntry("e-1", "a-1", timeoff.EntryAccrual, 480)
	early.EffectiveAt = time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	late := testEntry("e-2", "a-2", timeoff.EntryAccrual, 480)
	late.EffectiveAt = time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendEntry(ctx, early))
	require.NoError(t, store.AppendEntry(ctx, late))

	entries, err := store.ListEntries(ctx, testKey(), timeoff.LedgerFilter{
		From: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, timeoff.EntryID("e-2"), entries[0].ID)
	assert.Equal(t, map[string]string{"k": "v"}, entries[0].Metadata)
	assert.True(t, entries[0].EffectiveAt.Equal(late.EffectiveAt))
}

func TestSQLite_FindEntryBySource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendEntry(ctx, testEntry("e-1", "marker-1", timeoff.EntryCarryover, 0)))

	found, err := store.FindEntryBySource(ctx, timeoff.SourceSystem, "marker-1", timeoff.EntryCarryover)
	require.NoError(t, err)
	assert.Equal(t, timeoff.EntryID("e-1"), found.ID)

	_, err = store.FindEntryBySource(ctx, timeoff.SourceSystem, "missing", timeoff.EntryCarryover)
	assert.ErrorIs(t, err, timeoff.ErrNotFound)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTx_ErrorRollsBackAllWrites(t *testing.T) {
	// GIVEN: A transaction that appends an entry and a snapshot
	// WHEN: The transaction function returns an error
	// THEN: Neither write survives

	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx timeoff.Store) error {
		if err := tx.AppendEntry(ctx, testEntry("e-1", "a-1", timeoff.EntryAccrual, 480)); err != nil {
			return err
		}
		if err := tx.PutSnapshot(ctx, timeoff.BalanceSnapshot{
			CompanyID: "acme", EmployeeID: "emp-1", PolicyID: "pol-1",
			AccruedMinutes: 480, Version: 1, UpdatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries, err := store.ListEntries(ctx, testKey(), timeoff.LedgerFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = store.GetSnapshot(ctx, testKey())
	assert.ErrorIs(t, err, timeoff.ErrNotFound)
}

func TestSQLite_WithTx_CommitPersists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx timeoff.Store) error {
		return tx.AppendEntry(ctx, testEntry("e-1", "a-1", timeoff.EntryAccrual, 480))
	})
	require.NoError(t, err)

	entries, err := store.ListEntries(ctx, testKey(), timeoff.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestSQLite_Snapshot_UpsertAndNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetSnapshot(ctx, testKey())
	assert.ErrorIs(t, err, timeoff.ErrNotFound)

	snap := timeoff.BalanceSnapshot{
		CompanyID: "acme", EmployeeID: "emp-1", PolicyID: "pol-1",
		AccruedMinutes: 480, Version: 1, UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.PutSnapshot(ctx, snap))

	snap.AccruedMinutes = 960
	snap.Version = 2
	require.NoError(t, store.PutSnapshot(ctx, snap))

	got, err := store.GetSnapshot(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, int64(960), got.AccruedMinutes)
	assert.Equal(t, int64(2), got.Version)
}

// =============================================================================
// POLICY VERSIONS
// =============================================================================

func TestSQLite_PolicyVersion_CloseAndSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePolicy(ctx, timeoff.Policy{
		ID: "pol-1", CompanyID: "acme", Name: "Vacation", CreatedAt: time.Now().UTC(),
	}))

	capMinutes := int64(15000)
	v1 := timeoff.PolicyVersion{
		ID: "ver-1", PolicyID: "pol-1", Version: 1,
		EffectiveFrom: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		Settings: timeoff.PolicySettings{
			Kind: timeoff.KindTimeAccrual,
			TimeAccrual: &timeoff.TimeAccrualSettings{
				RateMinutes: 480,
				Frequency:   timeoff.FrequencyMonthly,
				Timing:      timeoff.TimingPeriodEnd,
				Proration:   timeoff.ProrationDaysActive,
			},
			BankCapMinutes: &capMinutes,
		},
		CreatedBy: "admin", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.InsertPolicyVersion(ctx, v1))

	july1 := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.ClosePolicyVersion(ctx, "ver-1", july1))

	// Closing an already-closed version matches no open row.
	err := store.ClosePolicyVersion(ctx, "ver-1", july1)
	assert.ErrorIs(t, err, timeoff.ErrNotFound)

	versions, err := store.ListPolicyVersions(ctx, "pol-1")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	got := versions[0]
	require.NotNil(t, got.EffectiveTo)
	assert.True(t, got.EffectiveTo.Equal(july1))
	require.NotNil(t, got.Settings.TimeAccrual)
	assert.Equal(t, int64(480), got.Settings.TimeAccrual.RateMinutes)
	assert.Equal(t, timeoff.ProrationDaysActive, got.Settings.TimeAccrual.Proration)
	require.NotNil(t, got.Settings.BankCapMinutes)
	assert.Equal(t, int64(15000), *got.Settings.BankCapMinutes)
}

// =============================================================================
// REQUESTS AND ASSIGNMENTS
// =============================================================================

func TestSQLite_Requests_StateFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mk := func(id string, state timeoff.RequestState, day int) timeoff.TimeOffRequest {
		return timeoff.TimeOffRequest{
			ID: timeoff.RequestID(id), CompanyID: "acme", EmployeeID: "emp-1", PolicyID: "pol-1",
			State:   state,
			StartAt: time.Date(2026, time.March, day, 0, 0, 0, 0, time.UTC),
			EndAt:   time.Date(2026, time.March, day+1, 0, 0, 0, 0, time.UTC),
			RequestedMinutes: 480,
			CreatedAt:        time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
	}
	require.NoError(t, store.CreateRequest(ctx, mk("r-1", timeoff.StateDraft, 2)))
	require.NoError(t, store.CreateRequest(ctx, mk("r-2", timeoff.StateSubmitted, 3)))
	require.NoError(t, store.CreateRequest(ctx, mk("r-3", timeoff.StateApproved, 4)))

	active, err := store.ListRequests(ctx, testKey(),
		[]timeoff.RequestState{timeoff.StateSubmitted, timeoff.StateApproved})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := store.ListRequests(ctx, testKey(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLite_UpdateRequest_MissingRow_NotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateRequest(context.Background(), timeoff.TimeOffRequest{
		ID: "ghost", CompanyID: "acme", EmployeeID: "emp-1", PolicyID: "pol-1",
		State: timeoff.StateCancelled, UpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, timeoff.ErrNotFound)
}

func TestSQLite_CreateAssignment_OverlapRejected(t *testing.T) {
	// GIVEN: An open-ended assignment for a policy
	// WHEN: Creating a second assignment of the same policy for the
	//       same employee
	// THEN: The overlap is rejected

	store := newTestStore(t)
	ctx := context.Background()

	first := timeoff.Assignment{
		ID: "as-1", CompanyID: "acme", EmployeeID: "emp-1", PolicyID: "pol-1",
		EffectiveFrom: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateAssignment(ctx, first))

	second := first
	second.ID = "as-2"
	second.EffectiveFrom = time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	err := store.CreateAssignment(ctx, second)
	require.Error(t, err)
	var ve *timeoff.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSQLite_Directory_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	employee := timeoff.Employee{
		ID: "emp-1", CompanyID: "acme", Name: "Sam",
		Timezone: "America/New_York", WorkdayMinutes: 360, WorkdayStart: 480,
		HireDate: time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutEmployee(ctx, employee))

	got, err := store.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", got.Timezone)
	assert.Equal(t, int64(360), got.WorkdayMinutes)
	assert.True(t, got.HireDate.Equal(employee.HireDate))

	_, err = store.GetEmployee(ctx, "ghost")
	assert.ErrorIs(t, err, timeoff.ErrNotFound)

	require.NoError(t, store.PutHoliday(ctx, timeoff.Holiday{
		CompanyID: "acme",
		Date:      time.Date(2026, time.July, 4, 0, 0, 0, 0, time.UTC),
		Name:      "Independence Day",
	}))
	holidays, err := store.ListHolidays(ctx, "acme",
		time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, holidays, 1)
}
