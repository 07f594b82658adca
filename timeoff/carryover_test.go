package timeoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/timeoff"
)

func carryoverSettings(capMinutes int64, expiresAfterDays int) timeoff.PolicySettings {
	settings := monthlySettings(480)
	settings.Carryover = &timeoff.CarryoverRule{
		CapMinutes:       capMinutes,
		ExpiresAfterDays: expiresAfterDays,
	}
	return settings
}

// =============================================================================
// CARRYOVER
// =============================================================================

func TestCarryover_ExcessAboveCap_Expires(t *testing.T) {
	// GIVEN: 6000 minutes available and a 4800 minute carryover cap
	// WHEN: Running carryover on January 1
	// THEN: 1200 minutes expire, 4800 survive, and the marker records the
	//       carried amount in the ledger

	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, carryoverSettings(4800, 0))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	k := key("emp-1", policy.ID)
	env.seedBalance(t, k, 6000)
	ctx := context.Background()

	jan1 := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	summary, err := env.carryover.RunCarryover(ctx, testCompany, jan1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Carryovers)
	assert.Equal(t, 0, summary.Errors)

	assert.Equal(t, int64(4800), env.balance(t, k).Available())

	marker, err := env.store.FindEntryBySource(ctx, timeoff.SourceSystem,
		"carryover:"+string(policy.ID)+":emp-1:2026:marker", timeoff.EntryCarryover)
	require.NoError(t, err)
	assert.Equal(t, int64(0), marker.AmountMinutes)
	assert.Equal(t, "4800", marker.Metadata["carried_minutes"])
	assert.Equal(t, "1200", marker.Metadata["expired_minutes"])
}

func TestCarryover_Rerun_IsNoOp(t *testing.T) {
	// GIVEN: A completed January 1 carryover
	// WHEN: Running it again for the same date
	// THEN: Nothing applies and the balance is unchanged

	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, carryoverSettings(4800, 0))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	k := key("emp-1", policy.ID)
	env.seedBalance(t, k, 6000)
	ctx := context.Background()

	jan1 := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	_, err := env.carryover.RunCarryover(ctx, testCompany, jan1)
	require.NoError(t, err)

	replay, err := env.carryover.RunCarryover(ctx, testCompany, jan1)
	require.NoError(t, err)
	assert.Equal(t, 0, replay.Carryovers)
	assert.Equal(t, 1, replay.Skipped)
	assert.Equal(t, int64(4800), env.balance(t, k).Available())
}

func TestCarryover_UnderCap_NothingExpires(t *testing.T) {
	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, carryoverSettings(4800, 0))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	k := key("emp-1", policy.ID)
	env.seedBalance(t, k, 3000)

	summary, err := env.carryover.RunCarryover(context.Background(), testCompany,
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	// The marker still posts, so the run counts as applied.
	assert.Equal(t, 1, summary.Carryovers)
	assert.Equal(t, int64(3000), env.balance(t, k).Available())
}

func TestCarryover_OutsideJanuaryFirst_NoOp(t *testing.T) {
	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, carryoverSettings(4800, 0))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	env.seedBalance(t, key("emp-1", policy.ID), 6000)

	summary, err := env.carryover.RunCarryover(context.Background(), testCompany,
		time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
}

// =============================================================================
// EXPIRATION
// =============================================================================

func TestExpiration_CarriedBalance_ExpiresAfterConfiguredDays(t *testing.T) {
	// GIVEN: 4800 carried minutes expiring 90 days into the year
	// WHEN: Running expiration on April 1 (Jan 1 + 90 days)
	// THEN: The carried minutes expire; a re-run applies nothing

	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, carryoverSettings(4800, 90))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	k := key("emp-1", policy.ID)
	env.seedBalance(t, k, 6000)
	ctx := context.Background()

	_, err := env.carryover.RunCarryover(ctx, testCompany,
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(4800), env.balance(t, k).Available())

	apr1 := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	summary, err := env.carryover.RunExpiration(ctx, testCompany, apr1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, int64(0), env.balance(t, k).Available())

	replay, err := env.carryover.RunExpiration(ctx, testCompany, apr1)
	require.NoError(t, err)
	assert.Equal(t, 0, replay.Expired)
	assert.Equal(t, 1, replay.Skipped)
}

func TestExpiration_CarryoverExpiry_CappedByRemainingBalance(t *testing.T) {
	// GIVEN: 4800 carried minutes, 4000 of which were spent before the
	//        expiry date
	// WHEN: Running the expiry
	// THEN: Only the remaining 800 expire; the balance never goes negative

	env := newTestEnv(t)
	policy, version := env.seedPolicy(t, carryoverSettings(4800, 90))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	k := key("emp-1", policy.ID)
	env.seedBalance(t, k, 4800)
	ctx := context.Background()

	_, err := env.carryover.RunCarryover(ctx, testCompany,
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Spend 4000 of the carried minutes.
	_, err = env.projector.Post(ctx, k, version.Settings, func(locked timeoff.BalanceSnapshot) ([]timeoff.LedgerEntry, error) {
		return []timeoff.LedgerEntry{{
			CompanyID: k.CompanyID, EmployeeID: k.EmployeeID, PolicyID: k.PolicyID,
			PolicyVersionID: version.ID,
			EntryType:       timeoff.EntryUsage,
			AmountMinutes:   -4000,
			EffectiveAt:     time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC),
			SourceType:      timeoff.SourceRequest,
			SourceID:        "req-feb",
		}}, nil
	})
	require.NoError(t, err)

	summary, err := env.carryover.RunExpiration(ctx, testCompany,
		time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, int64(0), env.balance(t, k).Available())
}

func TestExpiration_CalendarDate_ForfeitsFullBalance(t *testing.T) {
	// GIVEN: A policy forfeiting everything on June 30
	// WHEN: Running expiration on June 30
	// THEN: The full available balance expires

	settings := monthlySettings(480)
	settings.Expiration = &timeoff.CalendarExpirationRule{Month: 6, Day: 30}

	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, settings)
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	k := key("emp-1", policy.ID)
	env.seedBalance(t, k, 1000)

	summary, err := env.carryover.RunExpiration(context.Background(), testCompany,
		time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, int64(0), env.balance(t, k).Available())
}

func TestExpiration_NoRuleDueOnDate_NothingProcessed(t *testing.T) {
	settings := monthlySettings(480)
	settings.Expiration = &timeoff.CalendarExpirationRule{Month: 6, Day: 30}

	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, settings)
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	env.seedBalance(t, key("emp-1", policy.ID), 1000)

	summary, err := env.carryover.RunExpiration(context.Background(), testCompany,
		time.Date(2026, time.June, 29, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
}
