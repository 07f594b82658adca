/*
policy.go - Effective-dated policy versions and the settings variant

PURPOSE:
  Policies are never edited in place. Every configuration change appends
  an immutable PolicyVersion with a half-open effective interval; the
  prior current version is end-dated atomically in the same transaction.
  Ledger entries reference the version that produced them permanently, so
  historical entries stay explainable after the policy changes.

KEY CONCEPTS:
  - PolicySettings: A closed variant (Unlimited | TimeAccrual |
    HoursWorkedAccrual) validated at construction, not an untyped map.
  - Resolution: effectiveFrom <= on < effectiveTo (null = open), ties
    broken by highest version number.

SEE ALSO:
  - accrual.go: Consumes the resolved version's accrual settings
  - projector.go: Consumes the floor (allow-negative) settings
*/
package timeoff

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SETTINGS VARIANT
// =============================================================================

type PolicyKind string

const (
	KindUnlimited          PolicyKind = "unlimited"
	KindTimeAccrual        PolicyKind = "time_accrual"
	KindHoursWorkedAccrual PolicyKind = "hours_worked_accrual"
)

type AccrualFrequency string

const (
	FrequencyDaily   AccrualFrequency = "daily"
	FrequencyMonthly AccrualFrequency = "monthly"
	FrequencyYearly  AccrualFrequency = "yearly"
)

type AccrualTiming string

const (
	TimingPeriodStart AccrualTiming = "period_start"
	TimingPeriodEnd   AccrualTiming = "period_end"
)

type ProrationPolicy string

const (
	ProrationNone       ProrationPolicy = "none"
	ProrationDaysActive ProrationPolicy = "days_active"
)

// TenureTier overrides the base rate once the employee has been hired for
// at least AfterMonths months. The highest qualifying tier wins.
type TenureTier struct {
	AfterMonths int   `json:"afterMonths"`
	RateMinutes int64 `json:"rateMinutes"`
}

// CarryoverRule governs the January 1 rollover. Available balance above
// CapMinutes expires; the carried remainder optionally expires again
// ExpiresAfterDays into the new year.
type CarryoverRule struct {
	CapMinutes       int64 `json:"capMinutes"`
	ExpiresAfterDays int   `json:"expiresAfterDays,omitempty"`
}

// CalendarExpirationRule forfeits the entire available balance on a fixed
// calendar date each year (e.g. fiscal year end).
type CalendarExpirationRule struct {
	Month int `json:"month"`
	Day   int `json:"day"`
}

type TimeAccrualSettings struct {
	RateMinutes int64            `json:"rateMinutes"`
	Frequency   AccrualFrequency `json:"frequency"`
	Timing      AccrualTiming    `json:"timing"`
	Proration   ProrationPolicy  `json:"proration"`
	TenureTiers []TenureTier     `json:"tenureTiers,omitempty"`
}

type HoursWorkedSettings struct {
	AccrueMinutes    int64 `json:"accrueMinutes"`
	PerWorkedMinutes int64 `json:"perWorkedMinutes"`
}

// PolicySettings is the tagged union. Exactly the variant field matching
// Kind is set; Validate enforces this and the numeric domains.
type PolicySettings struct {
	Kind        PolicyKind           `json:"kind"`
	TimeAccrual *TimeAccrualSettings `json:"timeAccrual,omitempty"`
	HoursWorked *HoursWorkedSettings `json:"hoursWorked,omitempty"`

	AllowNegative        bool                    `json:"allowNegative,omitempty"`
	NegativeLimitMinutes int64                   `json:"negativeLimitMinutes,omitempty"`
	BankCapMinutes       *int64                  `json:"bankCapMinutes,omitempty"`
	Carryover            *CarryoverRule          `json:"carryover,omitempty"`
	Expiration           *CalendarExpirationRule `json:"expiration,omitempty"`
}

// Validate checks the variant shape and numeric domains. Called at every
// construction site; settings never reach the store unvalidated.
func (s PolicySettings) Validate() error {
	switch s.Kind {
	case KindUnlimited:
		if s.TimeAccrual != nil || s.HoursWorked != nil {
			return &ValidationError{Field: "kind", Message: "unlimited policies carry no accrual settings"}
		}
	case KindTimeAccrual:
		if s.TimeAccrual == nil {
			return &ValidationError{Field: "timeAccrual", Message: "required for time_accrual policies"}
		}
		if s.HoursWorked != nil {
			return &ValidationError{Field: "hoursWorked", Message: "not allowed for time_accrual policies"}
		}
		ta := s.TimeAccrual
		if ta.RateMinutes < 0 {
			return &ValidationError{Field: "timeAccrual.rateMinutes", Message: "must be non-negative"}
		}
		switch ta.Frequency {
		case FrequencyDaily, FrequencyMonthly, FrequencyYearly:
		default:
			return &ValidationError{Field: "timeAccrual.frequency", Message: "unknown frequency"}
		}
		switch ta.Timing {
		case TimingPeriodStart, TimingPeriodEnd:
		default:
			return &ValidationError{Field: "timeAccrual.timing", Message: "unknown timing"}
		}
		switch ta.Proration {
		case ProrationNone, ProrationDaysActive:
		default:
			return &ValidationError{Field: "timeAccrual.proration", Message: "unknown proration policy"}
		}
		prev := -1
		for _, tier := range ta.TenureTiers {
			if tier.AfterMonths <= prev {
				return &ValidationError{Field: "timeAccrual.tenureTiers", Message: "tiers must be strictly increasing by afterMonths"}
			}
			if tier.RateMinutes < 0 {
				return &ValidationError{Field: "timeAccrual.tenureTiers", Message: "tier rates must be non-negative"}
			}
			prev = tier.AfterMonths
		}
	case KindHoursWorkedAccrual:
		if s.HoursWorked == nil {
			return &ValidationError{Field: "hoursWorked", Message: "required for hours_worked_accrual policies"}
		}
		if s.TimeAccrual != nil {
			return &ValidationError{Field: "timeAccrual", Message: "not allowed for hours_worked_accrual policies"}
		}
		if s.HoursWorked.AccrueMinutes < 0 {
			return &ValidationError{Field: "hoursWorked.accrueMinutes", Message: "must be non-negative"}
		}
		if s.HoursWorked.PerWorkedMinutes <= 0 {
			return &ValidationError{Field: "hoursWorked.perWorkedMinutes", Message: "must be positive"}
		}
	default:
		return &ValidationError{Field: "kind", Message: "unknown policy kind"}
	}

	if s.NegativeLimitMinutes < 0 {
		return &ValidationError{Field: "negativeLimitMinutes", Message: "must be non-negative"}
	}
	if s.BankCapMinutes != nil && *s.BankCapMinutes < 0 {
		return &ValidationError{Field: "bankCapMinutes", Message: "must be non-negative"}
	}
	if s.Carryover != nil && s.Carryover.CapMinutes < 0 {
		return &ValidationError{Field: "carryover.capMinutes", Message: "must be non-negative"}
	}
	if s.Carryover != nil && s.Carryover.ExpiresAfterDays < 0 {
		return &ValidationError{Field: "carryover.expiresAfterDays", Message: "must be non-negative"}
	}
	if s.Expiration != nil {
		if s.Expiration.Month < 1 || s.Expiration.Month > 12 {
			return &ValidationError{Field: "expiration.month", Message: "must be 1..12"}
		}
		if s.Expiration.Day < 1 || s.Expiration.Day > 31 {
			return &ValidationError{Field: "expiration.day", Message: "must be 1..31"}
		}
	}
	return nil
}

// Floor returns the lowest permitted available balance and whether a floor
// applies at all. Unlimited policies have no floor.
func (s PolicySettings) Floor() (int64, bool) {
	if s.Kind == KindUnlimited {
		return 0, false
	}
	if s.AllowNegative {
		return -s.NegativeLimitMinutes, true
	}
	return 0, true
}

// =============================================================================
// POLICY AND POLICY VERSION
// =============================================================================

type Policy struct {
	ID        PolicyID
	CompanyID CompanyID
	Name      string
	CreatedAt time.Time
}

// PolicyVersion is an immutable configuration snapshot. The only field
// ever touched after insert is EffectiveTo, set once when the next version
// supersedes it.
type PolicyVersion struct {
	ID            PolicyVersionID
	PolicyID      PolicyID
	Version       int
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Settings      PolicySettings
	CreatedBy     string
	ChangeReason  string
	CreatedAt     time.Time
}

// InEffect reports whether the version covers the given date.
func (v PolicyVersion) InEffect(on time.Time) bool {
	if on.Before(v.EffectiveFrom) {
		return false
	}
	return v.EffectiveTo == nil || on.Before(*v.EffectiveTo)
}

// =============================================================================
// VERSION SERVICE
// =============================================================================

// PolicyService creates policies and versions and resolves the version in
// effect on a date. All writes run inside the store's transaction wrapper.
type PolicyService struct {
	store Store
	now   func() time.Time
}

func NewPolicyService(store Store) *PolicyService {
	return &PolicyService{store: store, now: time.Now}
}

// CreatePolicy creates the policy record and its version 1 in one
// transaction.
func (p *PolicyService) CreatePolicy(ctx context.Context, companyID CompanyID, name string, settings PolicySettings, effectiveFrom time.Time, createdBy, reason string) (*Policy, *PolicyVersion, error) {
	if name == "" {
		return nil, nil, &ValidationError{Field: "name", Message: "required"}
	}
	if err := settings.Validate(); err != nil {
		return nil, nil, err
	}

	policy := &Policy{
		ID:        PolicyID(uuid.NewString()),
		CompanyID: companyID,
		Name:      name,
		CreatedAt: p.now(),
	}
	version := &PolicyVersion{
		ID:            PolicyVersionID(uuid.NewString()),
		PolicyID:      policy.ID,
		Version:       1,
		EffectiveFrom: effectiveFrom,
		Settings:      settings,
		CreatedBy:     createdBy,
		ChangeReason:  reason,
		CreatedAt:     p.now(),
	}

	err := p.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreatePolicy(ctx, *policy); err != nil {
			return err
		}
		return tx.InsertPolicyVersion(ctx, *version)
	})
	if err != nil {
		return nil, nil, err
	}
	return policy, version, nil
}

// CreateVersion appends a new version. The prior current version is
// end-dated to the new effectiveFrom in the same transaction, keeping the
// interval chain contiguous with exactly one open version.
func (p *PolicyService) CreateVersion(ctx context.Context, policyID PolicyID, settings PolicySettings, effectiveFrom time.Time, createdBy, reason string) (*PolicyVersion, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	var created *PolicyVersion
	err := p.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetPolicy(ctx, policyID); err != nil {
			return err
		}
		current, err := p.currentIn(ctx, tx, policyID)
		if err != nil {
			return err
		}
		if effectiveFrom.Before(current.EffectiveFrom) {
			return &EffectiveDateError{
				PolicyID:      policyID,
				Requested:     effectiveFrom,
				CurrentActive: current.EffectiveFrom,
			}
		}
		if err := tx.ClosePolicyVersion(ctx, current.ID, effectiveFrom); err != nil {
			return err
		}
		created = &PolicyVersion{
			ID:            PolicyVersionID(uuid.NewString()),
			PolicyID:      policyID,
			Version:       current.Version + 1,
			EffectiveFrom: effectiveFrom,
			Settings:      settings,
			CreatedBy:     createdBy,
			ChangeReason:  reason,
			CreatedAt:     p.now(),
		}
		return tx.InsertPolicyVersion(ctx, *created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ResolveEffective returns the version in effect on the given date. Ties
// (a version superseded the same instant another began) go to the highest
// version number.
func (p *PolicyService) ResolveEffective(ctx context.Context, policyID PolicyID, on time.Time) (*PolicyVersion, error) {
	versions, err := p.store.ListPolicyVersions(ctx, policyID)
	if err != nil {
		return nil, err
	}
	var best *PolicyVersion
	for i := range versions {
		v := versions[i]
		if !v.InEffect(on) {
			continue
		}
		if best == nil || v.Version > best.Version {
			best = &v
		}
	}
	if best == nil {
		return nil, ErrNoEffectiveVersion
	}
	return best, nil
}

// Current returns the single open-ended version.
func (p *PolicyService) Current(ctx context.Context, policyID PolicyID) (*PolicyVersion, error) {
	return p.currentIn(ctx, p.store, policyID)
}

func (p *PolicyService) currentIn(ctx context.Context, s Store, policyID PolicyID) (*PolicyVersion, error) {
	versions, err := s.ListPolicyVersions(ctx, policyID)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].EffectiveTo == nil {
			return &versions[i], nil
		}
	}
	return nil, ErrNoEffectiveVersion
}
