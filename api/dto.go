/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes exposed over the wire, kept separate from domain types so
  the engine's internals can move without breaking API consumers.

CONVENTIONS:
  - All amounts are whole minutes
  - Timestamps are RFC 3339
  - availableMinutes is omitted (null) for unlimited policies
*/
package api

import (
	"time"

	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreatePolicyRequest struct {
	CompanyID     string                 `json:"companyId"`
	Name          string                 `json:"name"`
	EffectiveFrom time.Time              `json:"effectiveFrom"`
	Settings      timeoff.PolicySettings `json:"settings"`
	CreatedBy     string                 `json:"createdBy"`
	ChangeReason  string                 `json:"changeReason"`
}

type CreateVersionRequest struct {
	EffectiveFrom time.Time              `json:"effectiveFrom"`
	Settings      timeoff.PolicySettings `json:"settings"`
	CreatedBy     string                 `json:"createdBy"`
	ChangeReason  string                 `json:"changeReason"`
}

type CreateRequestRequest struct {
	CompanyID  string    `json:"companyId"`
	EmployeeID string    `json:"employeeId"`
	PolicyID   string    `json:"policyId"`
	StartAt    time.Time `json:"startAt"`
	EndAt      time.Time `json:"endAt"`
	Note       string    `json:"note"`
}

type ReviewRequest struct {
	Note string `json:"note"`
}

type CreateAdjustmentRequest struct {
	CompanyID     string `json:"companyId"`
	EmployeeID    string `json:"employeeId"`
	PolicyID      string `json:"policyId"`
	AmountMinutes int64  `json:"amountMinutes"`
	AdjustmentID  string `json:"adjustmentId"`
	Reason        string `json:"reason"`
	Actor         string `json:"actor"`
}

type CreateAssignmentRequest struct {
	CompanyID     string     `json:"companyId"`
	EmployeeID    string     `json:"employeeId"`
	PolicyID      string     `json:"policyId"`
	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo"`
}

type CreateEmployeeRequest struct {
	ID             string    `json:"id"`
	CompanyID      string    `json:"companyId"`
	Name           string    `json:"name"`
	Timezone       string    `json:"timezone"`
	WorkdayMinutes int64     `json:"workdayMinutes"`
	WorkdayStart   int64     `json:"workdayStart"`
	HireDate       time.Time `json:"hireDate"`
}

type CreateHolidayRequest struct {
	CompanyID string    `json:"companyId"`
	Date      time.Time `json:"date"`
	Name      string    `json:"name"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type PolicyDTO struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type PolicyVersionDTO struct {
	ID            string                 `json:"id"`
	PolicyID      string                 `json:"policyId"`
	Version       int                    `json:"version"`
	EffectiveFrom time.Time              `json:"effectiveFrom"`
	EffectiveTo   *time.Time             `json:"effectiveTo"`
	Settings      timeoff.PolicySettings `json:"settings"`
	CreatedBy     string                 `json:"createdBy,omitempty"`
	ChangeReason  string                 `json:"changeReason,omitempty"`
}

type RequestDTO struct {
	ID               string    `json:"id"`
	CompanyID        string    `json:"companyId"`
	EmployeeID       string    `json:"employeeId"`
	PolicyID         string    `json:"policyId"`
	State            string    `json:"state"`
	StartAt          time.Time `json:"startAt"`
	EndAt            time.Time `json:"endAt"`
	RequestedMinutes int64     `json:"requestedMinutes"`
	Note             string    `json:"note,omitempty"`
	ReviewerNote     string    `json:"reviewerNote,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type BalanceDTO struct {
	CompanyID        string    `json:"companyId"`
	EmployeeID       string    `json:"employeeId"`
	PolicyID         string    `json:"policyId"`
	AccruedMinutes   int64     `json:"accruedMinutes"`
	UsedMinutes      int64     `json:"usedMinutes"`
	HeldMinutes      int64     `json:"heldMinutes"`
	AvailableMinutes *int64    `json:"availableMinutes,omitempty"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type LedgerEntryDTO struct {
	ID              string            `json:"id"`
	PolicyVersionID string            `json:"policyVersionId"`
	EntryType       string            `json:"entryType"`
	AmountMinutes   int64             `json:"amountMinutes"`
	EffectiveAt     time.Time         `json:"effectiveAt"`
	SourceType      string            `json:"sourceType"`
	SourceID        string            `json:"sourceId"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

type ErrorDTO struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toPolicyDTO(p timeoff.Policy) PolicyDTO {
	return PolicyDTO{
		ID:        string(p.ID),
		CompanyID: string(p.CompanyID),
		Name:      p.Name,
		CreatedAt: p.CreatedAt,
	}
}

func toVersionDTO(v timeoff.PolicyVersion) PolicyVersionDTO {
	return PolicyVersionDTO{
		ID:            string(v.ID),
		PolicyID:      string(v.PolicyID),
		Version:       v.Version,
		EffectiveFrom: v.EffectiveFrom,
		EffectiveTo:   v.EffectiveTo,
		Settings:      v.Settings,
		CreatedBy:     v.CreatedBy,
		ChangeReason:  v.ChangeReason,
	}
}

func toRequestDTO(r timeoff.TimeOffRequest) RequestDTO {
	return RequestDTO{
		ID:               string(r.ID),
		CompanyID:        string(r.CompanyID),
		EmployeeID:       string(r.EmployeeID),
		PolicyID:         string(r.PolicyID),
		State:            string(r.State),
		StartAt:          r.StartAt,
		EndAt:            r.EndAt,
		RequestedMinutes: r.RequestedMinutes,
		Note:             r.Note,
		ReviewerNote:     r.ReviewerNote,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// toBalanceDTO hides availableMinutes for unlimited policies; holds and
// usage are still reported for audit.
func toBalanceDTO(s timeoff.BalanceSnapshot, unlimited bool) BalanceDTO {
	dto := BalanceDTO{
		CompanyID:      string(s.CompanyID),
		EmployeeID:     string(s.EmployeeID),
		PolicyID:       string(s.PolicyID),
		AccruedMinutes: s.AccruedMinutes,
		UsedMinutes:    s.UsedMinutes,
		HeldMinutes:    s.HeldMinutes,
		Version:        s.Version,
		UpdatedAt:      s.UpdatedAt,
	}
	if !unlimited {
		available := s.Available()
		dto.AvailableMinutes = &available
	}
	return dto
}

func toEntryDTOs(entries []timeoff.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, LedgerEntryDTO{
			ID:              string(e.ID),
			PolicyVersionID: string(e.PolicyVersionID),
			EntryType:       string(e.EntryType),
			AmountMinutes:   e.AmountMinutes,
			EffectiveAt:     e.EffectiveAt,
			SourceType:      string(e.SourceType),
			SourceID:        e.SourceID,
			Metadata:        e.Metadata,
			CreatedAt:       e.CreatedAt,
		})
	}
	return dtos
}
