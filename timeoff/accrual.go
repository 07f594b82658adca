/*
accrual.go - Scheduled and payroll-driven accrual computation

PURPOSE:
  Computes the minutes an assignment earns and posts them through the
  Projector. Two accrual kinds:

  Time-based (sourceType system):
    rate from the tenure tier in effect on the accrual date, prorated by
    days active when the assignment started mid-period, then clamped so
    the resulting balance never exceeds the bank cap.

  Hours-worked (sourceType payroll):
    floor(workedMinutes * accrueMinutes / perWorkedMinutes), same cap
    clamp, driven by payroll webhook payloads.

  Both use deterministic source ids so reprocessing a date or replaying
  a webhook appends nothing new:
    accrual:{assignmentId}:{periodKey}
    payroll:{payrollRunId}:{employeeId}:{policyId}

ROUNDING:
  Proration rounds half-up at whole minutes (decimal.DivRound, scale 0);
  the hours-worked ratio floors. Applied uniformly, covered by tests.

BATCH SEMANTICS:
  RunAccruals never aborts on one assignment's failure. Unlimited and
  uncovered-date assignments count as skipped; genuine failures are
  collected and counted.
*/
package timeoff

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RUN SUMMARY - Outcome counts for batch operations
// =============================================================================

// RunSummary accumulates per-item outcomes of a batch run. Accrued counts
// entries actually applied; replays and not-accruable items land in
// Skipped.
type RunSummary struct {
	Processed int      `json:"processed"`
	Accrued   int      `json:"accrued"`
	Skipped   int      `json:"skipped"`
	Errors    int      `json:"errors"`
	Failures  []string `json:"failures,omitempty"`
}

func (s *RunSummary) fail(subject string, err error) {
	s.Errors++
	s.Failures = append(s.Failures, fmt.Sprintf("%s: %v", subject, err))
}

// =============================================================================
// PAYROLL PAYLOAD
// =============================================================================

type PayrollEntry struct {
	EmployeeID    EmployeeID `json:"employeeId"`
	WorkedMinutes int64      `json:"workedMinutes"`
}

// PayrollRun is the webhook payload. PayrollRunID anchors idempotency:
// replaying an identical payload appends zero entries and reports the
// same counts.
type PayrollRun struct {
	PayrollRunID string         `json:"payrollRunId"`
	CompanyID    CompanyID      `json:"companyId"`
	PeriodStart  time.Time      `json:"periodStart"`
	PeriodEnd    time.Time      `json:"periodEnd"`
	Entries      []PayrollEntry `json:"entries"`
}

// =============================================================================
// ACCRUAL ENGINE
// =============================================================================

type AccrualEngine struct {
	store     Store
	policies  *PolicyService
	projector *Projector
	now       func() time.Time
}

func NewAccrualEngine(store Store, policies *PolicyService, projector *Projector) *AccrualEngine {
	return &AccrualEngine{store: store, policies: policies, projector: projector, now: time.Now}
}

// RunAccruals processes time-based accruals for every assignment in the
// company on the target date. Hours-worked policies are payroll-driven
// and count as skipped here.
func (e *AccrualEngine) RunAccruals(ctx context.Context, companyID CompanyID, target time.Time) (*RunSummary, error) {
	target = dateOf(target, time.UTC)
	summary := &RunSummary{}

	policies, err := e.store.ListPolicies(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, policy := range policies {
		assignments, err := e.store.ListAssignmentsByPolicy(ctx, policy.ID)
		if err != nil {
			summary.fail(string(policy.ID), err)
			continue
		}
		for _, assignment := range assignments {
			if !assignment.Covers(target) {
				continue
			}
			if err := e.accrueOne(ctx, assignment, target, summary); err != nil {
				if IsSkip(err) {
					summary.Processed++
					summary.Skipped++
					continue
				}
				summary.fail(string(assignment.ID), err)
			}
		}
	}
	return summary, nil
}

func (e *AccrualEngine) accrueOne(ctx context.Context, assignment Assignment, target time.Time, summary *RunSummary) error {
	version, err := e.policies.ResolveEffective(ctx, assignment.PolicyID, target)
	if err != nil {
		return err
	}
	switch version.Settings.Kind {
	case KindTimeAccrual:
	case KindHoursWorkedAccrual, KindUnlimited:
		return ErrNotAccruable
	default:
		return ErrNotAccruable
	}

	settings := version.Settings.TimeAccrual
	if !accruesOn(settings.Frequency, settings.Timing, target) {
		// Not an accrual date for this frequency; not an outcome at all.
		return nil
	}
	summary.Processed++

	employee, err := e.store.GetEmployee(ctx, assignment.EmployeeID)
	if err != nil {
		return err
	}

	increment := timeAccrualIncrement(*settings, employee.HireDate, assignment.EffectiveFrom, target)
	key := BalanceKey{CompanyID: assignment.CompanyID, EmployeeID: assignment.EmployeeID, PolicyID: assignment.PolicyID}
	sourceID := fmt.Sprintf("accrual:%s:%s", assignment.ID, periodKey(settings.Frequency, target))

	result, err := e.projector.Post(ctx, key, version.Settings, func(locked BalanceSnapshot) ([]LedgerEntry, error) {
		amount := clampToCap(increment, locked.AccruedMinutes, version.Settings.BankCapMinutes)
		if amount <= 0 {
			return nil, nil
		}
		return []LedgerEntry{{
			CompanyID:       key.CompanyID,
			EmployeeID:      key.EmployeeID,
			PolicyID:        key.PolicyID,
			PolicyVersionID: version.ID,
			EntryType:       EntryAccrual,
			AmountMinutes:   amount,
			EffectiveAt:     target,
			SourceType:      SourceSystem,
			SourceID:        sourceID,
			Metadata: map[string]string{
				"assignment_id": string(assignment.ID),
				"period":        periodKey(settings.Frequency, target),
			},
		}}, nil
	})
	if err != nil {
		return err
	}
	switch {
	case len(result.Applied) > 0:
		summary.Accrued++
	default:
		// Replay, cap-exhausted, or zero increment.
		summary.Skipped++
	}
	return nil
}

// ProcessPayroll converts worked minutes into accruals for every
// hours-worked policy the employee is assigned to during the period.
func (e *AccrualEngine) ProcessPayroll(ctx context.Context, run PayrollRun) (*RunSummary, error) {
	if run.PayrollRunID == "" {
		return nil, &ValidationError{Field: "payrollRunId", Message: "required"}
	}
	if !run.PeriodEnd.After(run.PeriodStart) {
		return nil, &ValidationError{Field: "periodEnd", Message: "must follow periodStart"}
	}

	summary := &RunSummary{}
	for _, item := range run.Entries {
		if item.WorkedMinutes < 0 {
			summary.fail(string(item.EmployeeID), &ValidationError{Field: "workedMinutes", Message: "must be non-negative"})
			continue
		}
		assignments, err := e.store.ListAssignmentsByEmployee(ctx, run.CompanyID, item.EmployeeID)
		if err != nil {
			summary.fail(string(item.EmployeeID), err)
			continue
		}
		for _, assignment := range assignments {
			if !assignment.Covers(run.PeriodEnd.Add(-time.Nanosecond)) {
				continue
			}
			summary.Processed++
			if err := e.payrollOne(ctx, run, item, assignment, summary); err != nil {
				if IsSkip(err) {
					summary.Skipped++
					continue
				}
				summary.fail(fmt.Sprintf("%s/%s", item.EmployeeID, assignment.PolicyID), err)
			}
		}
	}
	return summary, nil
}

func (e *AccrualEngine) payrollOne(ctx context.Context, run PayrollRun, item PayrollEntry, assignment Assignment, summary *RunSummary) error {
	version, err := e.policies.ResolveEffective(ctx, assignment.PolicyID, run.PeriodEnd.Add(-time.Nanosecond))
	if err != nil {
		return err
	}
	if version.Settings.Kind != KindHoursWorkedAccrual {
		return ErrNotAccruable
	}

	hw := version.Settings.HoursWorked
	increment := hoursWorkedIncrement(item.WorkedMinutes, hw.AccrueMinutes, hw.PerWorkedMinutes)
	key := BalanceKey{CompanyID: run.CompanyID, EmployeeID: item.EmployeeID, PolicyID: assignment.PolicyID}
	sourceID := fmt.Sprintf("payroll:%s:%s:%s", run.PayrollRunID, item.EmployeeID, assignment.PolicyID)

	result, err := e.projector.Post(ctx, key, version.Settings, func(locked BalanceSnapshot) ([]LedgerEntry, error) {
		amount := clampToCap(increment, locked.AccruedMinutes, version.Settings.BankCapMinutes)
		if amount <= 0 {
			return nil, nil
		}
		return []LedgerEntry{{
			CompanyID:       key.CompanyID,
			EmployeeID:      key.EmployeeID,
			PolicyID:        key.PolicyID,
			PolicyVersionID: version.ID,
			EntryType:       EntryAccrual,
			AmountMinutes:   amount,
			EffectiveAt:     run.PeriodEnd,
			SourceType:      SourcePayroll,
			SourceID:        sourceID,
			Metadata: map[string]string{
				"payroll_run_id": run.PayrollRunID,
				"worked_minutes": fmt.Sprintf("%d", item.WorkedMinutes),
			},
		}}, nil
	})
	if err != nil {
		return err
	}
	switch {
	case len(result.Applied) > 0:
		summary.Accrued++
	default:
		summary.Skipped++
	}
	return nil
}

// =============================================================================
// ACCRUAL ARITHMETIC (pure)
// =============================================================================

// timeAccrualIncrement computes the pre-cap increment for one accrual
// date: tenure-tier rate, prorated by days active in the period when the
// assignment began mid-period.
func timeAccrualIncrement(settings TimeAccrualSettings, hireDate, assignmentStart, target time.Time) int64 {
	rate := tierRate(settings, hireDate, target)

	if settings.Proration != ProrationDaysActive {
		return rate
	}
	periodStart, periodEnd := periodBounds(settings.Frequency, target)
	activeFrom := dateOf(assignmentStart, time.UTC)
	if !activeFrom.After(periodStart) {
		return rate
	}
	if activeFrom.After(periodEnd) {
		return 0
	}
	periodDays := daysInclusive(periodStart, periodEnd)
	activeDays := daysInclusive(activeFrom, periodEnd)
	return prorate(rate, activeDays, periodDays)
}

// tierRate resolves the rate in effect given tenure. Tiers are validated
// strictly increasing by afterMonths, so the last qualifying tier is the
// highest one.
func tierRate(settings TimeAccrualSettings, hireDate, on time.Time) int64 {
	rate := settings.RateMinutes
	tenure := monthsBetween(hireDate, on)
	for _, tier := range settings.TenureTiers {
		if tenure >= tier.AfterMonths {
			rate = tier.RateMinutes
		}
	}
	return rate
}

// prorate computes rate * active / period rounded half-up to a whole
// minute. DivRound rounds halves away from zero; amounts are
// non-negative here so that is half-up.
func prorate(rate, activeDays, periodDays int64) int64 {
	if periodDays <= 0 {
		return 0
	}
	return decimal.NewFromInt(rate).
		Mul(decimal.NewFromInt(activeDays)).
		DivRound(decimal.NewFromInt(periodDays), 0).
		IntPart()
}

// hoursWorkedIncrement is floor(worked * accrue / per).
func hoursWorkedIncrement(workedMinutes, accrueMinutes, perWorkedMinutes int64) int64 {
	if perWorkedMinutes <= 0 {
		return 0
	}
	return decimal.NewFromInt(workedMinutes).
		Mul(decimal.NewFromInt(accrueMinutes)).
		Div(decimal.NewFromInt(perWorkedMinutes)).
		Floor().
		IntPart()
}

// clampToCap limits the increment to the headroom left under the bank
// cap. The cap bounds the balance, not the increment; a full bank accrues
// zero, never negative.
func clampToCap(increment, accrued int64, capMinutes *int64) int64 {
	if capMinutes == nil {
		return increment
	}
	headroom := *capMinutes - accrued
	if headroom <= 0 {
		return 0
	}
	if increment > headroom {
		return headroom
	}
	return increment
}

// =============================================================================
// PERIOD ARITHMETIC (pure)
// =============================================================================

// accruesOn reports whether the date is an accrual date for the frequency
// and timing. Daily policies accrue every day regardless of timing.
func accruesOn(frequency AccrualFrequency, timing AccrualTiming, on time.Time) bool {
	switch frequency {
	case FrequencyDaily:
		return true
	case FrequencyMonthly:
		if timing == TimingPeriodStart {
			return on.Day() == 1
		}
		return on.Day() == lastDayOfMonth(on)
	case FrequencyYearly:
		if timing == TimingPeriodStart {
			return on.Month() == time.January && on.Day() == 1
		}
		return on.Month() == time.December && on.Day() == 31
	}
	return false
}

// periodBounds returns the first and last date (inclusive) of the period
// containing the given date.
func periodBounds(frequency AccrualFrequency, on time.Time) (time.Time, time.Time) {
	y, m, d := on.Date()
	switch frequency {
	case FrequencyDaily:
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return day, day
	case FrequencyMonthly:
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return start, time.Date(y, m, lastDayOfMonth(on), 0, 0, 0, 0, time.UTC)
	case FrequencyYearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return day, day
}

// periodKey is the deterministic period fragment of accrual source ids.
func periodKey(frequency AccrualFrequency, on time.Time) string {
	switch frequency {
	case FrequencyDaily:
		return on.Format("2006-01-02")
	case FrequencyMonthly:
		return on.Format("2006-01")
	case FrequencyYearly:
		return on.Format("2006")
	}
	return on.Format("2006-01-02")
}

func lastDayOfMonth(on time.Time) int {
	y, m, _ := on.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func daysInclusive(from, to time.Time) int64 {
	return int64(to.Sub(from).Hours()/24) + 1
}

// monthsBetween counts whole months from hire to the given date.
func monthsBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
