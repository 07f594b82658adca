package timeoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// SETTINGS VALIDATION
// =============================================================================

func TestPolicySettings_Validate(t *testing.T) {
	capMinutes := int64(-1)
	cases := []struct {
		name     string
		settings timeoff.PolicySettings
		wantErr  bool
	}{
		{
			name:     "unlimited is valid bare",
			settings: timeoff.PolicySettings{Kind: timeoff.KindUnlimited},
		},
		{
			name: "unlimited rejects accrual settings",
			settings: timeoff.PolicySettings{
				Kind:        timeoff.KindUnlimited,
				TimeAccrual: &timeoff.TimeAccrualSettings{},
			},
			wantErr: true,
		},
		{
			name:     "time accrual requires its settings",
			settings: timeoff.PolicySettings{Kind: timeoff.KindTimeAccrual},
			wantErr:  true,
		},
		{
			name:     "valid monthly accrual",
			settings: monthlySettings(480),
		},
		{
			name: "unknown frequency rejected",
			settings: timeoff.PolicySettings{
				Kind: timeoff.KindTimeAccrual,
				TimeAccrual: &timeoff.TimeAccrualSettings{
					RateMinutes: 480,
					Frequency:   "fortnightly",
					Timing:      timeoff.TimingPeriodEnd,
					Proration:   timeoff.ProrationNone,
				},
			},
			wantErr: true,
		},
		{
			name: "tiers must strictly increase",
			settings: func() timeoff.PolicySettings {
				s := monthlySettings(480)
				s.TimeAccrual.TenureTiers = []timeoff.TenureTier{
					{AfterMonths: 12, RateMinutes: 600},
					{AfterMonths: 12, RateMinutes: 700},
				}
				return s
			}(),
			wantErr: true,
		},
		{
			name: "hours worked requires positive denominator",
			settings: timeoff.PolicySettings{
				Kind:        timeoff.KindHoursWorkedAccrual,
				HoursWorked: &timeoff.HoursWorkedSettings{AccrueMinutes: 60, PerWorkedMinutes: 0},
			},
			wantErr: true,
		},
		{
			name: "negative bank cap rejected",
			settings: func() timeoff.PolicySettings {
				s := monthlySettings(480)
				s.BankCapMinutes = &capMinutes
				return s
			}(),
			wantErr: true,
		},
		{
			name: "expiration month out of range",
			settings: func() timeoff.PolicySettings {
				s := monthlySettings(480)
				s.Expiration = &timeoff.CalendarExpirationRule{Month: 13, Day: 1}
				return s
			}(),
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.settings.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicySettings_Floor(t *testing.T) {
	floor, bounded := timeoff.PolicySettings{Kind: timeoff.KindUnlimited}.Floor()
	assert.False(t, bounded)
	_ = floor

	floor, bounded = monthlySettings(480).Floor()
	assert.True(t, bounded)
	assert.Equal(t, int64(0), floor)

	negative := monthlySettings(480)
	negative.AllowNegative = true
	negative.NegativeLimitMinutes = 960
	floor, bounded = negative.Floor()
	assert.True(t, bounded)
	assert.Equal(t, int64(-960), floor)
}

// =============================================================================
// VERSION CHAIN
// =============================================================================

func TestPolicy_CreateVersion_EndDatesPriorAndResolvesByDate(t *testing.T) {
	// GIVEN: A policy at v1 effective 2020-01-01
	// WHEN: Appending v2 effective 2026-07-01
	// THEN: v1 closes at the boundary, dates before it resolve to v1,
	//       the boundary and later resolve to v2

	env := newTestEnv(t)
	policy, v1 := env.seedPolicy(t, monthlySettings(480))
	ctx := context.Background()

	july1 := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	v2, err := env.policies.CreateVersion(ctx, policy.ID, monthlySettings(600), july1, "admin", "rate bump")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Nil(t, v2.EffectiveTo)

	versions, err := env.store.ListPolicyVersions(ctx, policy.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	for _, v := range versions {
		if v.ID == v1.ID {
			require.NotNil(t, v.EffectiveTo)
			assert.True(t, v.EffectiveTo.Equal(july1))
		}
	}

	before, err := env.policies.ResolveEffective(ctx, policy.ID, july1.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, v1.ID, before.ID)

	onBoundary, err := env.policies.ResolveEffective(ctx, policy.ID, july1)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, onBoundary.ID, "intervals are half-open; the boundary belongs to the new version")
}

func TestPolicy_CreateVersion_RegressingEffectiveDate_Rejected(t *testing.T) {
	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, monthlySettings(480))

	_, err := env.policies.CreateVersion(context.Background(), policy.ID,
		monthlySettings(600), policyEpoch.AddDate(-1, 0, 0), "admin", "backdate")
	require.Error(t, err)
	assert.ErrorIs(t, err, timeoff.ErrInvalidEffectiveDate)

	var ede *timeoff.EffectiveDateError
	require.ErrorAs(t, err, &ede)
	assert.Equal(t, policy.ID, ede.PolicyID)
}

func TestPolicy_ResolveEffective_BeforeFirstVersion_NoEffectiveVersion(t *testing.T) {
	env := newTestEnv(t)
	policy, _ := env.seedPolicy(t, monthlySettings(480))

	_, err := env.policies.ResolveEffective(context.Background(), policy.ID,
		policyEpoch.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, timeoff.ErrNoEffectiveVersion)
}

func TestPolicy_CreatePolicy_InvalidSettings_NothingPersisted(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.policies.CreatePolicy(context.Background(), testCompany, "Broken",
		timeoff.PolicySettings{Kind: "bogus"}, policyEpoch, "admin", "")
	require.Error(t, err)

	policies, lerr := env.store.ListPolicies(context.Background(), testCompany)
	require.NoError(t, lerr)
	assert.Empty(t, policies)
}

// =============================================================================
// HISTORICAL ENTRIES KEEP THEIR VERSION
// =============================================================================

func TestPolicy_VersionChange_DoesNotRewriteHistory(t *testing.T) {
	// GIVEN: An accrual posted under v1
	// WHEN: v2 supersedes v1
	// THEN: The historical entry still references v1

	env := newTestEnv(t)
	policy, v1 := env.seedPolicy(t, monthlySettings(480))
	env.seedEmployee(t, "emp-1", policyEpoch)
	env.seedAssignment(t, "emp-1", policy.ID, policyEpoch)
	ctx := context.Background()

	_, err := env.accruals.RunAccruals(ctx, testCompany,
		time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = env.policies.CreateVersion(ctx, policy.ID, monthlySettings(600),
		time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC), "admin", "rate bump")
	require.NoError(t, err)

	entries, err := env.store.ListEntries(ctx, key("emp-1", policy.ID), timeoff.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, v1.ID, entries[0].PolicyVersionID)
}
