package handler

import (
	"canon/internal/audit"
	"canon/internal/identity/models"
	"canon/internal/risk/service"
)

// RiskResponse is the risk state of an identity after a write.
type RiskResponse struct {
	ID             string                `json:"id"`
	RiskScore      int                   `json:"riskScore"`
	TrustTier      models.TrustTier      `json:"trustTier"`
	RiskOverridden bool                  `json:"riskOverridden"`
	Breakdown      *models.RiskBreakdown `json:"breakdown,omitempty"`
}

// BreakdownResponse is the HTTP response for GET /identities/{id}/risk.
type BreakdownResponse struct {
	ID                string               `json:"id"`
	RiskScore         int                  `json:"riskScore"`
	TrustTier         models.TrustTier     `json:"trustTier"`
	RiskOverridden    bool                 `json:"riskOverridden"`
	Breakdown         models.RiskBreakdown `json:"breakdown"`
	RecentAssessments []audit.Event        `json:"recentAssessments"`
}

func toRiskResponse(i *models.Identity) RiskResponse {
	return RiskResponse{
		ID:             i.ID,
		RiskScore:      i.RiskScore,
		TrustTier:      i.TrustTier,
		RiskOverridden: i.RiskOverridden,
		Breakdown:      i.Breakdown,
	}
}

func toBreakdownResponse(b *service.Breakdown) BreakdownResponse {
	return BreakdownResponse{
		ID:                b.Identity.ID,
		RiskScore:         b.Identity.RiskScore,
		TrustTier:         b.Identity.TrustTier,
		RiskOverridden:    b.Identity.RiskOverridden,
		Breakdown:         b.Breakdown,
		RecentAssessments: b.RecentAssessments,
	}
}
