package models

import (
	"time"

	"canon/internal/audit"
)

// ResolveResult is the outcome of one Resolve call.
type ResolveResult struct {
	Identity   *Identity
	IsNew      bool
	MatchedOn  []string
	Confidence float64
}

type ResolveResponse struct {
	ID                 string             `json:"id"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	RiskScore          int                `json:"riskScore"`
	TrustTier          TrustTier          `json:"trustTier"`
	IsNew              bool               `json:"isNew"`
	MatchedOn          []string           `json:"matchedOn"`
	Confidence         float64            `json:"confidence"`
}

func (r *ResolveResult) Response() ResolveResponse {
	matched := r.MatchedOn
	if matched == nil {
		matched = []string{}
	}
	return ResolveResponse{
		ID:                 r.Identity.ID,
		VerificationStatus: r.Identity.VerificationStatus,
		RiskScore:          r.Identity.RiskScore,
		TrustTier:          r.Identity.TrustTier,
		IsNew:              r.IsNew,
		MatchedOn:          matched,
		Confidence:         r.Confidence,
	}
}

type StatusResponse struct {
	ID                 string             `json:"id"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	RiskScore          int                `json:"riskScore"`
	TrustTier          TrustTier          `json:"trustTier"`
	LinkedActorCount   int                `json:"linkedActorCount"`
}

func (i *Identity) StatusResponse() StatusResponse {
	return StatusResponse{
		ID:                 i.ID,
		VerificationStatus: i.VerificationStatus,
		RiskScore:          i.RiskScore,
		TrustTier:          i.TrustTier,
		LinkedActorCount:   len(i.LinkedActors),
	}
}

// Summary is the list form used by search and high-risk listings.
type Summary struct {
	ID                 string             `json:"id"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	RiskScore          int                `json:"riskScore"`
	TrustTier          TrustTier          `json:"trustTier"`
	RiskOverridden     bool               `json:"riskOverridden"`
	LinkedActorCount   int                `json:"linkedActorCount"`
	FlagCount          int                `json:"flagCount"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

type ListResponse struct {
	Items []Summary `json:"items"`
	Count int       `json:"count"`
}

func NewListResponse(identities []*Identity) ListResponse {
	items := make([]Summary, 0, len(identities))
	for _, i := range identities {
		items = append(items, Summary{
			ID:                 i.ID,
			VerificationStatus: i.VerificationStatus,
			RiskScore:          i.RiskScore,
			TrustTier:          i.TrustTier,
			RiskOverridden:     i.RiskOverridden,
			LinkedActorCount:   len(i.LinkedActors),
			FlagCount:          i.Counters.FlagCount,
			CreatedAt:          i.CreatedAt,
			UpdatedAt:          i.UpdatedAt,
		})
	}
	return ListResponse{Items: items, Count: len(items)}
}

type HistoryResponse struct {
	IdentityID string        `json:"identityId"`
	Events     []audit.Event `json:"events"`
	NextAfter  int64         `json:"nextAfter,omitempty"`
}
