/*
adjustment.go - Manual balance corrections

PURPOSE:
  Admin adjustments are ordinary ledger entries: signed amount, subject
  to the same floor invariant and locking as everything else. Mistakes
  are corrected with a second, opposite-signed adjustment; nothing is
  ever edited in place.
*/
package timeoff

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AdjustmentService struct {
	store     Store
	policies  *PolicyService
	projector *Projector
	now       func() time.Time
}

func NewAdjustmentService(store Store, policies *PolicyService, projector *Projector) *AdjustmentService {
	return &AdjustmentService{store: store, policies: policies, projector: projector, now: time.Now}
}

// PostAdjustment applies a signed correction to one balance. The
// adjustmentID is the caller's idempotency handle; reusing one replays as
// a no-op. An empty adjustmentID gets a fresh uuid (no replay
// protection, single-shot semantics).
func (a *AdjustmentService) PostAdjustment(ctx context.Context, key BalanceKey, amountMinutes int64, adjustmentID, reason, actor string) (*PostResult, error) {
	if amountMinutes == 0 {
		return nil, &ValidationError{Field: "amountMinutes", Message: "must be non-zero"}
	}
	if adjustmentID == "" {
		adjustmentID = uuid.NewString()
	}

	version, err := a.policies.ResolveEffective(ctx, key.PolicyID, a.now())
	if err != nil {
		return nil, err
	}

	return a.projector.Post(ctx, key, version.Settings, func(locked BalanceSnapshot) ([]LedgerEntry, error) {
		return []LedgerEntry{{
			CompanyID:       key.CompanyID,
			EmployeeID:      key.EmployeeID,
			PolicyID:        key.PolicyID,
			PolicyVersionID: version.ID,
			EntryType:       EntryAdjustment,
			AmountMinutes:   amountMinutes,
			EffectiveAt:     a.now(),
			SourceType:      SourceAdmin,
			SourceID:        "adjustment:" + adjustmentID,
			Metadata: map[string]string{
				"reason": reason,
				"actor":  actor,
			},
		}}, nil
	})
}
