/*
request.go - Time-off request lifecycle and its ledger postings

PURPOSE:
  Implements the request state machine and ties each transition to its
  ledger effect, atomically with the request row update:

    draft -> submitted            Hold(-m)          held += m
    submitted -> approved         HoldRelease(+m)   held -= m
                                  Usage(-m)         used += m
    submitted -> denied           HoldRelease(+m)   held -= m
    submitted -> cancelled        HoldRelease(+m)   held -= m
    draft -> cancelled            (no postings)

  Approved, denied and cancelled are terminal.

SUBMIT VALIDATION:
  1. An assignment covering startAt exists
  2. No submitted/approved request overlaps on the same policy
     (configurable)
  3. The balance floor still holds with the hold applied; otherwise
     InsufficientBalance, nothing written

  All postings use the request id as source id, so a double-clicked
  approve replays as a no-op instead of double-posting.
*/
package timeoff

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type RequestService struct {
	store     Store
	policies  *PolicyService
	projector *Projector

	// AllowOverlap disables the overlapping-request check on submit.
	AllowOverlap bool

	now func() time.Time
}

func NewRequestService(store Store, policies *PolicyService, projector *Projector) *RequestService {
	return &RequestService{store: store, policies: policies, projector: projector, now: time.Now}
}

// CreateDraft computes the requested working minutes and stores the
// request in draft state. No balance effect until submit.
func (s *RequestService) CreateDraft(ctx context.Context, companyID CompanyID, employeeID EmployeeID, policyID PolicyID, startAt, endAt time.Time, note string) (*TimeOffRequest, error) {
	employee, err := s.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetPolicy(ctx, policyID); err != nil {
		return nil, err
	}

	minutes, err := s.workingMinutes(ctx, *employee, startAt, endAt)
	if err != nil {
		return nil, err
	}

	request := &TimeOffRequest{
		ID:               RequestID(uuid.NewString()),
		CompanyID:        companyID,
		EmployeeID:       employeeID,
		PolicyID:         policyID,
		State:            StateDraft,
		StartAt:          startAt,
		EndAt:            endAt,
		RequestedMinutes: minutes,
		Note:             note,
		CreatedAt:        s.now(),
		UpdatedAt:        s.now(),
	}
	if err := s.store.CreateRequest(ctx, *request); err != nil {
		return nil, err
	}
	return request, nil
}

// Submit moves draft -> submitted and places the hold. Fails with
// InsufficientBalance when the hold would break the balance floor.
func (s *RequestService) Submit(ctx context.Context, id RequestID) (*TimeOffRequest, error) {
	// Version resolution is a read against immutable data; it happens
	// before the write transaction so the lock scope stays minimal.
	version, err := s.resolveForRequest(ctx, id, StateDraft, StateSubmitted)
	if err != nil {
		return nil, err
	}

	var submitted *TimeOffRequest
	err = s.store.WithTx(ctx, func(tx Store) error {
		request, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if request.State != StateDraft {
			return &TransitionError{RequestID: id, From: request.State, To: StateSubmitted}
		}

		if err := s.verifyActiveAssignment(ctx, tx, request); err != nil {
			return err
		}
		if !s.AllowOverlap {
			if err := s.verifyNoOverlap(ctx, tx, request); err != nil {
				return err
			}
		}

		key := BalanceKey{CompanyID: request.CompanyID, EmployeeID: request.EmployeeID, PolicyID: request.PolicyID}
		_, err = s.projector.PostIn(ctx, tx, key, version.Settings, func(locked BalanceSnapshot) ([]LedgerEntry, error) {
			return []LedgerEntry{s.entry(request, version.ID, EntryHold, -request.RequestedMinutes)}, nil
		})
		if err != nil {
			var inv *InvariantError
			if errors.As(err, &inv) {
				return &InsufficientBalanceError{Key: key, Available: inv.Available + request.RequestedMinutes, Requested: request.RequestedMinutes}
			}
			return err
		}

		request.State = StateSubmitted
		request.UpdatedAt = s.now()
		if err := tx.UpdateRequest(ctx, *request); err != nil {
			return err
		}
		submitted = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	return submitted, nil
}

// Approve moves submitted -> approved: the hold is released and the
// usage posted in the same transaction, so held and used never drift
// apart.
func (s *RequestService) Approve(ctx context.Context, id RequestID, reviewerNote string) (*TimeOffRequest, error) {
	return s.resolve(ctx, id, StateApproved, reviewerNote, func(request *TimeOffRequest, versionID PolicyVersionID) []LedgerEntry {
		return []LedgerEntry{
			s.entry(request, versionID, EntryHoldRelease, request.RequestedMinutes),
			s.entry(request, versionID, EntryUsage, -request.RequestedMinutes),
		}
	})
}

// Deny moves submitted -> denied and releases the hold.
func (s *RequestService) Deny(ctx context.Context, id RequestID, reviewerNote string) (*TimeOffRequest, error) {
	return s.resolve(ctx, id, StateDenied, reviewerNote, func(request *TimeOffRequest, versionID PolicyVersionID) []LedgerEntry {
		return []LedgerEntry{
			s.entry(request, versionID, EntryHoldRelease, request.RequestedMinutes),
		}
	})
}

// Cancel is legal from draft (no ledger effect) and from submitted
// (releases the hold).
func (s *RequestService) Cancel(ctx context.Context, id RequestID) (*TimeOffRequest, error) {
	peek, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	var version *PolicyVersion
	if peek.State == StateSubmitted {
		version, err = s.policies.ResolveEffective(ctx, peek.PolicyID, peek.StartAt)
		if err != nil {
			return nil, err
		}
	}

	var cancelled *TimeOffRequest
	err = s.store.WithTx(ctx, func(tx Store) error {
		request, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		switch request.State {
		case StateDraft:
			// Nothing was held; just close the request out.
		case StateSubmitted:
			if version == nil {
				// State moved between the read and the lock.
				return ErrConcurrencyConflict
			}
			key := request.key()
			_, err = s.projector.PostIn(ctx, tx, key, version.Settings, func(locked BalanceSnapshot) ([]LedgerEntry, error) {
				return []LedgerEntry{s.entry(request, version.ID, EntryHoldRelease, request.RequestedMinutes)}, nil
			})
			if err != nil {
				return err
			}
		default:
			return &TransitionError{RequestID: id, From: request.State, To: StateCancelled}
		}

		request.State = StateCancelled
		request.UpdatedAt = s.now()
		if err := tx.UpdateRequest(ctx, *request); err != nil {
			return err
		}
		cancelled = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// resolve is the shared submitted -> terminal path for approve and deny.
func (s *RequestService) resolve(ctx context.Context, id RequestID, to RequestState, reviewerNote string, postings func(*TimeOffRequest, PolicyVersionID) []LedgerEntry) (*TimeOffRequest, error) {
	version, err := s.resolveForRequest(ctx, id, StateSubmitted, to)
	if err != nil {
		return nil, err
	}

	var resolved *TimeOffRequest
	err = s.store.WithTx(ctx, func(tx Store) error {
		request, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if request.State != StateSubmitted {
			return &TransitionError{RequestID: id, From: request.State, To: to}
		}

		_, err = s.projector.PostIn(ctx, tx, request.key(), version.Settings, func(locked BalanceSnapshot) ([]LedgerEntry, error) {
			return postings(request, version.ID), nil
		})
		if err != nil {
			return err
		}

		request.State = to
		request.ReviewerNote = reviewerNote
		request.UpdatedAt = s.now()
		if err := tx.UpdateRequest(ctx, *request); err != nil {
			return err
		}
		resolved = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// resolveForRequest loads the request, checks it is in the expected
// source state, and resolves the policy version effective at its start.
// The state is re-checked under the transaction afterwards; this check
// just fails fast and keeps version resolution outside the lock.
func (s *RequestService) resolveForRequest(ctx context.Context, id RequestID, from, to RequestState) (*PolicyVersion, error) {
	request, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.State != from {
		return nil, &TransitionError{RequestID: id, From: request.State, To: to}
	}
	return s.policies.ResolveEffective(ctx, request.PolicyID, request.StartAt)
}

func (s *RequestService) entry(request *TimeOffRequest, versionID PolicyVersionID, entryType EntryType, amount int64) LedgerEntry {
	return LedgerEntry{
		CompanyID:       request.CompanyID,
		EmployeeID:      request.EmployeeID,
		PolicyID:        request.PolicyID,
		PolicyVersionID: versionID,
		EntryType:       entryType,
		AmountMinutes:   amount,
		EffectiveAt:     request.StartAt,
		SourceType:      SourceRequest,
		SourceID:        string(request.ID),
	}
}

func (s *RequestService) verifyActiveAssignment(ctx context.Context, tx Store, request *TimeOffRequest) error {
	assignments, err := tx.ListAssignmentsByEmployee(ctx, request.CompanyID, request.EmployeeID)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if a.PolicyID == request.PolicyID && a.Covers(request.StartAt) {
			return nil
		}
	}
	return ErrNoActiveAssignment
}

func (s *RequestService) verifyNoOverlap(ctx context.Context, tx Store, request *TimeOffRequest) error {
	existing, err := tx.ListRequests(ctx, request.key(), []RequestState{StateSubmitted, StateApproved})
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == request.ID {
			continue
		}
		if other.StartAt.Before(request.EndAt) && other.EndAt.After(request.StartAt) {
			return ErrOverlappingRequest
		}
	}
	return nil
}

func (s *RequestService) workingMinutes(ctx context.Context, employee Employee, startAt, endAt time.Time) (int64, error) {
	holidays, err := s.store.ListHolidays(ctx, employee.CompanyID, startAt.AddDate(0, 0, -1), endAt.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}
	loc, err := employeeLocation(employee)
	if err != nil {
		return 0, err
	}
	return WorkingMinutes(startAt, endAt, employee, NewHolidaySet(holidays, loc))
}

func (r *TimeOffRequest) key() BalanceKey {
	return BalanceKey{CompanyID: r.CompanyID, EmployeeID: r.EmployeeID, PolicyID: r.PolicyID}
}
