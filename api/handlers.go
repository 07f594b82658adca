/*
handlers.go - HTTP API handlers for the leave ledger engine

PURPOSE:
  Exposes the balance engine via REST. Handles HTTP request/response,
  JSON serialization, and delegates to the domain services. No balance
  arithmetic happens here.

ENDPOINTS:
  Policies:
    POST /api/policies                     Create policy + version 1
    GET  /api/policies/{id}/versions       List versions
    POST /api/policies/{id}/versions       Append effective-dated version
    GET  /api/policies/{id}/effective?on=  Resolve version for a date

  Requests:
    POST /api/requests                     Create draft
    POST /api/requests/{id}/submit         Place hold
    POST /api/requests/{id}/approve        Release hold, post usage
    POST /api/requests/{id}/deny           Release hold
    POST /api/requests/{id}/cancel         Cancel draft/submitted

  Balances:
    GET /api/balances/{employeeId}/{policyId}?companyId=
    GET /api/ledger/{employeeId}/{policyId}?companyId=&from=&to=

  Webhooks:
    POST /api/webhooks/payroll             Hours-worked accrual batch

  Admin:
    POST /api/admin/adjustments            Manual signed correction
    POST /api/admin/assignments            Enroll employee in policy
    POST /api/admin/employees              Upsert directory record
    POST /api/admin/holidays               Add company holiday
    POST /api/admin/runs/accruals?companyId=&date=
    POST /api/admin/runs/carryover?companyId=&date=
    POST /api/admin/runs/expiration?companyId=&date=

ERROR MAPPING:
  400 validation, invalid range/transition/effective date
  404 not found, no active assignment
  409 insufficient balance, invariant violation, overlap
  503 concurrency conflict after bounded retries

RETRIES:
  Balance-mutating handlers retry ErrConcurrencyConflict a bounded
  number of times with a short delay before surfacing 503.

SEE ALSO:
  - dto.go: Wire shapes
  - server.go: Router and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-ledger/timeoff"
)

func newID() string { return uuid.NewString() }

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the domain services behind the HTTP surface.
type Handler struct {
	Store       timeoff.Store
	Policies    *timeoff.PolicyService
	Projector   *timeoff.Projector
	Requests    *timeoff.RequestService
	Accruals    *timeoff.AccrualEngine
	Carryover   *timeoff.CarryoverProcessor
	Adjustments *timeoff.AdjustmentService

	log *zap.Logger
}

// NewHandler wires the full service graph over one store.
func NewHandler(store timeoff.Store, log *zap.Logger) *Handler {
	policies := timeoff.NewPolicyService(store)
	projector := timeoff.NewProjector(store)
	return &Handler{
		Store:       store,
		Policies:    policies,
		Projector:   projector,
		Requests:    timeoff.NewRequestService(store, policies, projector),
		Accruals:    timeoff.NewAccrualEngine(store, policies, projector),
		Carryover:   timeoff.NewCarryoverProcessor(store, policies, projector),
		Adjustments: timeoff.NewAdjustmentService(store, policies, projector),
		log:         log,
	}
}

// withRetry retries transient lock conflicts before giving up. Every
// retried operation is idempotent by construction (deterministic source
// ids), so a retry after an ambiguous failure cannot double-post.
func withRetry(fn func() error) error {
	r := retry.New(
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.RetryIf(timeoff.IsRetryable),
		retry.LastErrorOnly(true),
	)
	return r.Do(fn)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &timeoff.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	policy, version, err := h.Policies.CreatePolicy(r.Context(),
		timeoff.CompanyID(req.CompanyID), req.Name, req.Settings, req.EffectiveFrom,
		req.CreatedBy, req.ChangeReason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"policy":  toPolicyDTO(*policy),
		"version": toVersionDTO(*version),
	})
}

func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	policyID := timeoff.PolicyID(chi.URLParam(r, "id"))
	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &timeoff.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	version, err := h.Policies.CreateVersion(r.Context(), policyID, req.Settings,
		req.EffectiveFrom, req.CreatedBy, req.ChangeReason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toVersionDTO(*version))
}

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	policyID := timeoff.PolicyID(chi.URLParam(r, "id"))
	versions, err := h.Store.ListPolicyVersions(r.Context(), policyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]PolicyVersionDTO, 0, len(versions))
	for _, v := range versions {
		dtos = append(dtos, toVersionDTO(v))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ResolveEffective(w http.ResponseWriter, r *http.Request) {
	policyID := timeoff.PolicyID(chi.URLParam(r, "id"))
	on, err := parseDateParam(r, "on", time.Now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	version, err := h.Policies.ResolveEffective(r.Context(), policyID, on)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toVersionDTO(*version))
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &timeoff.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	request, err := h.Requests.CreateDraft(r.Context(),
		timeoff.CompanyID(req.CompanyID), timeoff.EmployeeID(req.EmployeeID),
		timeoff.PolicyID(req.PolicyID), req.StartAt, req.EndAt, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toRequestDTO(*request))
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	h.transitionRequest(w, r, func(id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
		return h.Requests.Submit(r.Context(), id)
	})
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	note := h.reviewNote(r)
	h.transitionRequest(w, r, func(id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
		return h.Requests.Approve(r.Context(), id, note)
	})
}

func (h *Handler) DenyRequest(w http.ResponseWriter, r *http.Request) {
	note := h.reviewNote(r)
	h.transitionRequest(w, r, func(id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
		return h.Requests.Deny(r.Context(), id, note)
	})
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.transitionRequest(w, r, func(id timeoff.RequestID) (*timeoff.TimeOffRequest, error) {
		return h.Requests.Cancel(r.Context(), id)
	})
}

func (h *Handler) transitionRequest(w http.ResponseWriter, r *http.Request, fn func(timeoff.RequestID) (*timeoff.TimeOffRequest, error)) {
	id := timeoff.RequestID(chi.URLParam(r, "id"))
	var request *timeoff.TimeOffRequest
	err := withRetry(func() error {
		var err error
		request, err = fn(id)
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestDTO(*request))
}

func (h *Handler) reviewNote(r *http.Request) string {
	var req ReviewRequest
	// Body is optional on approve/deny.
	json.NewDecoder(r.Body).Decode(&req)
	return req.Note
}

// =============================================================================
// BALANCE AND LEDGER HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	key, err := h.balanceKey(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	snap, err := h.Projector.GetBalance(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	unlimited := false
	if version, err := h.Policies.ResolveEffective(r.Context(), key.PolicyID, time.Now()); err == nil {
		unlimited = version.Settings.Kind == timeoff.KindUnlimited
	}
	h.writeJSON(w, http.StatusOK, toBalanceDTO(*snap, unlimited))
}

func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	key, err := h.balanceKey(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var filter timeoff.LedgerFilter
	if from, err := parseDateParam(r, "from", time.Time{}); err == nil {
		filter.From = from
	}
	if to, err := parseDateParam(r, "to", time.Time{}); err == nil {
		filter.To = to
	}
	entries, err := h.Store.ListEntries(r.Context(), key, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) balanceKey(r *http.Request) (timeoff.BalanceKey, error) {
	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		return timeoff.BalanceKey{}, &timeoff.ValidationError{Field: "companyId", Message: "required"}
	}
	return timeoff.BalanceKey{
		CompanyID:  timeoff.CompanyID(companyID),
		EmployeeID: timeoff.EmployeeID(chi.URLParam(r, "employeeId")),
		PolicyID:   timeoff.PolicyID(chi.URLParam(r, "policyId")),
	}, nil
}

// =============================================================================
// WEBHOOK HANDLERS
// =============================================================================

func (h *Handler) PayrollWebhook(w http.ResponseWriter, r *http.Request) {
	var run timeoff.PayrollRun
	if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
		h.writeError(w, &timeoff.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	var summary *timeoff.RunSummary
	err := withRetry(func() error {
		var err error
		summary, err = h.Accruals.ProcessPayroll(r.Context(), run)
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("payroll run processed",
		zap.String("payroll_run_id", run.PayrollRunID),
		zap.Int("processed", summary.Processed),
		zap.Int("accrued", summary.Accrued),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors))
	h.writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req CreateAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &timeoff.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	key := timeoff.BalanceKey{
		CompanyID:  timeoff.CompanyID(req.CompanyID),
		EmployeeID: timeoff.EmployeeID(req.EmployeeID),
		PolicyID:   timeoff.PolicyID(req.PolicyID),
	}
	var result *timeoff.PostResult
	err := withRetry(func() error {
		var err error
		result, err = h.Adjustments.PostAdjustment(r.Context(), key, req.AmountMinutes,
			req.AdjustmentID, req.Reason, req.Actor)
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"applied":    len(result.Applied),
		"duplicates": result.Duplicates,
		"balance":    toBalanceDTO(result.Snapshot, false),
	})
}

func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &timeoff.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	assignment := timeoff.Assignment{
		ID:            timeoff.AssignmentID(newID()),
		CompanyID:     timeoff.CompanyID(req.CompanyID),
		EmployeeID:    timeoff.EmployeeID(req.EmployeeID),
		PolicyID:      timeoff.PolicyID(req.PolicyID),
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		CreatedAt:     time.Now(),
	}
	if err := h.Store.CreateAssignment(r.Context(), assignment); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": string(assignment.ID)})
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &timeoff.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	if req.ID == "" {
		req.ID = newID()
	}
	employee := timeoff.Employee{
		ID:             timeoff.EmployeeID(req.ID),
		CompanyID:      timeoff.CompanyID(req.CompanyID),
		Name:           req.Name,
		Timezone:       req.Timezone,
		WorkdayMinutes: req.WorkdayMinutes,
		WorkdayStart:   req.WorkdayStart,
		HireDate:       req.HireDate,
	}
	if err := h.Store.PutEmployee(r.Context(), employee); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &timeoff.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	holiday := timeoff.Holiday{
		CompanyID: timeoff.CompanyID(req.CompanyID),
		Date:      req.Date,
		Name:      req.Name,
	}
	if err := h.Store.PutHoliday(r.Context(), holiday); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) RunAccruals(w http.ResponseWriter, r *http.Request) {
	companyID, target, err := runParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	summary, err := h.Accruals.RunAccruals(r.Context(), companyID, target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) RunCarryover(w http.ResponseWriter, r *http.Request) {
	companyID, target, err := runParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	summary, err := h.Carryover.RunCarryover(r.Context(), companyID, target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) RunExpiration(w http.ResponseWriter, r *http.Request) {
	companyID, target, err := runParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	summary, err := h.Carryover.RunExpiration(r.Context(), companyID, target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SHARED PLUMBING
// =============================================================================

func runParams(r *http.Request) (timeoff.CompanyID, time.Time, error) {
	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		return "", time.Time{}, &timeoff.ValidationError{Field: "companyId", Message: "required"}
	}
	target, err := parseDateParam(r, "date", time.Now())
	if err != nil {
		return "", time.Time{}, err
	}
	return timeoff.CompanyID(companyID), target, nil
}

func parseDateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, &timeoff.ValidationError{Field: name, Message: "expected YYYY-MM-DD"}
	}
	return t, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, timeoff.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, timeoff.ErrNoActiveAssignment):
		status, code = http.StatusNotFound, "no_active_assignment"
	case errors.Is(err, timeoff.ErrInsufficientBalance):
		status, code = http.StatusConflict, "insufficient_balance"
	case errors.Is(err, timeoff.ErrBalanceInvariantViolated):
		status, code = http.StatusConflict, "balance_invariant_violated"
	case errors.Is(err, timeoff.ErrOverlappingRequest):
		status, code = http.StatusConflict, "overlapping_request"
	case errors.Is(err, timeoff.ErrDuplicateIdempotencyKey):
		status, code = http.StatusConflict, "duplicate"
	case errors.Is(err, timeoff.ErrConcurrencyConflict):
		status, code = http.StatusServiceUnavailable, "concurrency_conflict"
	case errors.Is(err, timeoff.ErrInvalidTransition):
		status, code = http.StatusBadRequest, "invalid_transition"
	case errors.Is(err, timeoff.ErrInvalidEffectiveDate):
		status, code = http.StatusBadRequest, "invalid_effective_date"
	case errors.Is(err, timeoff.ErrNoEffectiveVersion):
		status, code = http.StatusBadRequest, "no_effective_version"
	case errors.Is(err, timeoff.ErrInvalidRange):
		status, code = http.StatusBadRequest, "invalid_range"
	case timeoff.IsClientError(err):
		status, code = http.StatusBadRequest, "validation"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, status, ErrorDTO{Error: err.Error(), Code: code})
}
