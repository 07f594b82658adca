/*
projector.go - Balance snapshot maintenance and invariant enforcement

PURPOSE:
  The Projector is the only writer of BalanceSnapshot rows, and it only
  writes them in the same transaction as the ledger entries that move
  them. Every balance-mutating operation in the engine funnels through
  Post, which implements the locking discipline:

    lock snapshot row (folding the ledger to create it if absent)
    -> build candidate entries against the locked state
    -> append entries (duplicates detected, skipped, counted)
    -> check the floor invariant on the post-delta state
    -> bump snapshot version, write, commit

  Two concurrent writers to the same key serialize on the lock; the
  second sees the first's committed held/used values, which is what
  makes double-spend impossible.

IDEMPOTENCY:
  A duplicate (sourceType, sourceId, entryType) append is not an error
  here: the entry is skipped, its snapshot delta is not applied, and the
  duplicate is counted in the result so callers can report replays.

SEE ALSO:
  - store.go: The WithTx/LockSnapshot/AppendEntry contract
  - request.go, accrual.go, carryover.go: The Post call sites
*/
package timeoff

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostResult reports what one Post transaction actually did.
type PostResult struct {
	Applied    []LedgerEntry
	Duplicates int
	Snapshot   BalanceSnapshot
}

// Projector owns snapshot mutation. Exactly one per store.
type Projector struct {
	store Store
	now   func() time.Time
}

func NewProjector(store Store) *Projector {
	return &Projector{store: store, now: time.Now}
}

// BuildFunc produces the candidate entries for a Post given the locked
// snapshot state. Returning an error aborts the transaction with no
// partial write. Entries may omit ID and CreatedAt; Post fills them.
type BuildFunc func(locked BalanceSnapshot) ([]LedgerEntry, error)

// Post runs one atomic balance mutation against the key. The floor from
// settings is enforced after the candidate deltas are applied and before
// commit; violation rolls the whole operation back.
func (p *Projector) Post(ctx context.Context, key BalanceKey, settings PolicySettings, build BuildFunc) (*PostResult, error) {
	var result *PostResult
	err := p.store.WithTx(ctx, func(tx Store) error {
		var err error
		result, err = p.PostIn(ctx, tx, key, settings, build)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PostIn is Post inside an already-open transaction, for callers that
// need the balance mutation atomic with other writes (request state
// updates). The enclosing WithTx commits or rolls back the whole unit.
func (p *Projector) PostIn(ctx context.Context, tx Store, key BalanceKey, settings PolicySettings, build BuildFunc) (*PostResult, error) {
	snap, err := p.lockOrMaterialize(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	entries, err := build(*snap)
	if err != nil {
		return nil, err
	}

	result := &PostResult{}
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = EntryID(uuid.NewString())
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = p.now()
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				result.Duplicates++
				continue
			}
			return nil, err
		}
		snap.Apply(entry)
		result.Applied = append(result.Applied, entry)
	}

	if floor, bounded := settings.Floor(); bounded && snap.Available() < floor {
		return nil, &InvariantError{Key: key, Available: snap.Available(), Floor: floor}
	}

	if len(result.Applied) > 0 {
		snap.Version++
		snap.UpdatedAt = p.now()
		if err := tx.PutSnapshot(ctx, *snap); err != nil {
			return nil, err
		}
	}
	result.Snapshot = *snap
	return result, nil
}

// GetBalance returns the cached snapshot, folding the ledger on a cache
// miss without persisting (the next Post materializes it under lock).
func (p *Projector) GetBalance(ctx context.Context, key BalanceKey) (*BalanceSnapshot, error) {
	snap, err := p.store.GetSnapshot(ctx, key)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	folded, err := p.fold(ctx, p.store, key)
	if err != nil {
		return nil, err
	}
	return folded, nil
}

// Rebuild recomputes the snapshot from the full ledger under the write
// lock, for drift recovery. The rebuilt snapshot keeps a bumped version
// so optimistic readers notice.
func (p *Projector) Rebuild(ctx context.Context, key BalanceKey) (*BalanceSnapshot, error) {
	var rebuilt *BalanceSnapshot
	err := p.store.WithTx(ctx, func(tx Store) error {
		prior, err := tx.LockSnapshot(ctx, key)
		var version int64
		switch {
		case err == nil:
			version = prior.Version
		case errors.Is(err, ErrNotFound):
			version = 0
		default:
			return err
		}
		folded, err := p.fold(ctx, tx, key)
		if err != nil {
			return err
		}
		folded.Version = version + 1
		folded.UpdatedAt = p.now()
		if err := tx.PutSnapshot(ctx, *folded); err != nil {
			return err
		}
		rebuilt = folded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rebuilt, nil
}

// lockOrMaterialize locks the snapshot row, creating it from the ledger
// fold first if it has never been materialized.
func (p *Projector) lockOrMaterialize(ctx context.Context, tx Store, key BalanceKey) (*BalanceSnapshot, error) {
	snap, err := tx.LockSnapshot(ctx, key)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	folded, err := p.fold(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	folded.UpdatedAt = p.now()
	if err := tx.PutSnapshot(ctx, *folded); err != nil {
		return nil, err
	}
	return tx.LockSnapshot(ctx, key)
}

func (p *Projector) fold(ctx context.Context, s Store, key BalanceKey) (*BalanceSnapshot, error) {
	entries, err := s.ListEntries(ctx, key, LedgerFilter{})
	if err != nil {
		return nil, err
	}
	snap := &BalanceSnapshot{
		CompanyID:  key.CompanyID,
		EmployeeID: key.EmployeeID,
		PolicyID:   key.PolicyID,
	}
	for _, e := range entries {
		snap.Apply(e)
	}
	return snap, nil
}
