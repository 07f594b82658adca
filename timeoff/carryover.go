/*
carryover.go - Year-end carryover and calendar-driven expiration

PURPOSE:
  Runs once per calendar day per company (the scheduler tick or an admin
  trigger). Two passes share the locking and idempotency discipline of
  every other balance mutation:

  Carryover (January 1):
    carried = min(available, carryover cap). The excess above the cap is
    posted as a negative Expiration entry, and a zero-amount Carryover
    marker records the carried minutes in metadata. The marker is what
    later makes expiresAfterDays replayable: the expiry pass reads the
    carried amount back from the ledger, not from mutable state.

  Expiration (daily):
    - calendar-date rules forfeit the full available balance on the
      configured month/day
    - carried balances expire expiresAfterDays after January 1

  Deterministic source ids keyed by (policy, employee, year, rule) make
  repeated runs for the same date no-ops:
    carryover:{policyId}:{employeeId}:{year}           excess expiration
    carryover:{policyId}:{employeeId}:{year}:marker    marker entry
    expiration:{policyId}:{employeeId}:{year}:{MM-DD}  calendar rule
    carryover_expiry:{policyId}:{employeeId}:{year}    aged carryover
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// CarryoverSummary reports one carryover run.
type CarryoverSummary struct {
	Processed  int      `json:"processed"`
	Carryovers int      `json:"carryovers"`
	Skipped    int      `json:"skipped"`
	Errors     int      `json:"errors"`
	Failures   []string `json:"failures,omitempty"`
}

// ExpirationSummary reports one expiration run.
type ExpirationSummary struct {
	Processed int      `json:"processed"`
	Expired   int      `json:"expired"`
	Skipped   int      `json:"skipped"`
	Errors    int      `json:"errors"`
	Failures  []string `json:"failures,omitempty"`
}

type CarryoverProcessor struct {
	store     Store
	policies  *PolicyService
	projector *Projector
	now       func() time.Time
}

func NewCarryoverProcessor(store Store, policies *PolicyService, projector *Projector) *CarryoverProcessor {
	return &CarryoverProcessor{store: store, policies: policies, projector: projector, now: time.Now}
}

// RunCarryover performs the year-boundary rollover for every assignment
// on a carryover-enabled policy. Outside January 1 it is a no-op.
func (p *CarryoverProcessor) RunCarryover(ctx context.Context, companyID CompanyID, target time.Time) (*CarryoverSummary, error) {
	target = dateOf(target, time.UTC)
	summary := &CarryoverSummary{}
	if target.Month() != time.January || target.Day() != 1 {
		return summary, nil
	}
	year := target.Year()

	policies, err := p.store.ListPolicies(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, policy := range policies {
		version, err := p.policies.ResolveEffective(ctx, policy.ID, target)
		if err != nil {
			if IsSkip(err) {
				continue
			}
			summary.Errors++
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", policy.ID, err))
			continue
		}
		rule := version.Settings.Carryover
		if rule == nil || version.Settings.Kind == KindUnlimited {
			continue
		}

		assignments, err := p.store.ListAssignmentsByPolicy(ctx, policy.ID)
		if err != nil {
			summary.Errors++
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", policy.ID, err))
			continue
		}
		for _, assignment := range assignments {
			if !assignment.Covers(target) {
				continue
			}
			summary.Processed++
			applied, err := p.carryoverOne(ctx, assignment, version, *rule, year)
			switch {
			case err != nil:
				summary.Errors++
				summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", assignment.ID, err))
			case applied:
				summary.Carryovers++
			default:
				summary.Skipped++
			}
		}
	}
	return summary, nil
}

func (p *CarryoverProcessor) carryoverOne(ctx context.Context, assignment Assignment, version *PolicyVersion, rule CarryoverRule, year int) (bool, error) {
	key := BalanceKey{CompanyID: assignment.CompanyID, EmployeeID: assignment.EmployeeID, PolicyID: assignment.PolicyID}
	base := fmt.Sprintf("carryover:%s:%s:%d", key.PolicyID, key.EmployeeID, year)
	effectiveAt := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

	result, err := p.projector.Post(ctx, key, version.Settings, func(locked BalanceSnapshot) ([]LedgerEntry, error) {
		available := locked.Available()
		if available < 0 {
			available = 0
		}
		carried := available
		if carried > rule.CapMinutes {
			carried = rule.CapMinutes
		}
		excess := available - carried

		entries := []LedgerEntry{{
			CompanyID:       key.CompanyID,
			EmployeeID:      key.EmployeeID,
			PolicyID:        key.PolicyID,
			PolicyVersionID: version.ID,
			EntryType:       EntryCarryover,
			AmountMinutes:   0,
			EffectiveAt:     effectiveAt,
			SourceType:      SourceSystem,
			SourceID:        base + ":marker",
			Metadata: map[string]string{
				"carried_minutes": strconv.FormatInt(carried, 10),
				"expired_minutes": strconv.FormatInt(excess, 10),
				"year":            strconv.Itoa(year),
			},
		}}
		if excess > 0 {
			entries = append(entries, LedgerEntry{
				CompanyID:       key.CompanyID,
				EmployeeID:      key.EmployeeID,
				PolicyID:        key.PolicyID,
				PolicyVersionID: version.ID,
				EntryType:       EntryExpiration,
				AmountMinutes:   -excess,
				EffectiveAt:     effectiveAt,
				SourceType:      SourceSystem,
				SourceID:        base,
				Metadata:        map[string]string{"reason": "carryover_cap", "year": strconv.Itoa(year)},
			})
		}
		return entries, nil
	})
	if err != nil {
		return false, err
	}
	return len(result.Applied) > 0, nil
}

// RunExpiration applies calendar-date forfeits and aged-carryover expiry
// due on the target date.
func (p *CarryoverProcessor) RunExpiration(ctx context.Context, companyID CompanyID, target time.Time) (*ExpirationSummary, error) {
	target = dateOf(target, time.UTC)
	summary := &ExpirationSummary{}

	policies, err := p.store.ListPolicies(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, policy := range policies {
		version, err := p.policies.ResolveEffective(ctx, policy.ID, target)
		if err != nil {
			if IsSkip(err) {
				continue
			}
			summary.Errors++
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", policy.ID, err))
			continue
		}
		settings := version.Settings
		if settings.Kind == KindUnlimited {
			continue
		}

		calendarDue := settings.Expiration != nil &&
			int(target.Month()) == settings.Expiration.Month && target.Day() == settings.Expiration.Day
		carryoverDue := settings.Carryover != nil && settings.Carryover.ExpiresAfterDays > 0 &&
			target.Equal(time.Date(target.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, settings.Carryover.ExpiresAfterDays))
		if !calendarDue && !carryoverDue {
			continue
		}

		assignments, err := p.store.ListAssignmentsByPolicy(ctx, policy.ID)
		if err != nil {
			summary.Errors++
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", policy.ID, err))
			continue
		}
		for _, assignment := range assignments {
			if !assignment.Covers(target) {
				continue
			}
			summary.Processed++
			applied, err := p.expireOne(ctx, assignment, version, target, calendarDue, carryoverDue)
			switch {
			case err != nil:
				summary.Errors++
				summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", assignment.ID, err))
			case applied:
				summary.Expired++
			default:
				summary.Skipped++
			}
		}
	}
	return summary, nil
}

func (p *CarryoverProcessor) expireOne(ctx context.Context, assignment Assignment, version *PolicyVersion, target time.Time, calendarDue, carryoverDue bool) (bool, error) {
	key := BalanceKey{CompanyID: assignment.CompanyID, EmployeeID: assignment.EmployeeID, PolicyID: assignment.PolicyID}
	year := target.Year()

	// The carried amount comes from the marker entry, not from any
	// mutable state, so re-running after a crash reads the same figure.
	var carriedMinutes int64
	if carryoverDue {
		marker, err := p.store.FindEntryBySource(ctx, SourceSystem,
			fmt.Sprintf("carryover:%s:%s:%d:marker", key.PolicyID, key.EmployeeID, year), EntryCarryover)
		switch {
		case err == nil:
			carriedMinutes, _ = strconv.ParseInt(marker.Metadata["carried_minutes"], 10, 64)
		case errors.Is(err, ErrNotFound):
			carryoverDue = false
		default:
			return false, err
		}
	}

	result, err := p.projector.Post(ctx, key, version.Settings, func(locked BalanceSnapshot) ([]LedgerEntry, error) {
		available := locked.Available()
		var entries []LedgerEntry

		if calendarDue && available > 0 {
			entries = append(entries, LedgerEntry{
				CompanyID:       key.CompanyID,
				EmployeeID:      key.EmployeeID,
				PolicyID:        key.PolicyID,
				PolicyVersionID: version.ID,
				EntryType:       EntryExpiration,
				AmountMinutes:   -available,
				EffectiveAt:     target,
				SourceType:      SourceSystem,
				SourceID:        fmt.Sprintf("expiration:%s:%s:%d:%s", key.PolicyID, key.EmployeeID, year, target.Format("01-02")),
				Metadata:        map[string]string{"reason": "calendar_date"},
			})
			available = 0
		}

		if carryoverDue && carriedMinutes > 0 && available > 0 {
			amount := carriedMinutes
			if amount > available {
				amount = available
			}
			entries = append(entries, LedgerEntry{
				CompanyID:       key.CompanyID,
				EmployeeID:      key.EmployeeID,
				PolicyID:        key.PolicyID,
				PolicyVersionID: version.ID,
				EntryType:       EntryExpiration,
				AmountMinutes:   -amount,
				EffectiveAt:     target,
				SourceType:      SourceSystem,
				SourceID:        fmt.Sprintf("carryover_expiry:%s:%s:%d", key.PolicyID, key.EmployeeID, year),
				Metadata:        map[string]string{"reason": "carryover_expiry"},
			})
		}
		return entries, nil
	})
	if err != nil {
		return false, err
	}
	return len(result.Applied) > 0, nil
}
