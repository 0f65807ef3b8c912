package models

import (
	"fmt"
	"strings"

	dErrors "canon/pkg/domain-errors"
)

// VerificationStatus is the operator-managed lifecycle state of an identity.
type VerificationStatus string

const (
	StatusPending     VerificationStatus = "pending"
	StatusVerified    VerificationStatus = "verified"
	StatusRejected    VerificationStatus = "rejected"
	StatusFlagged     VerificationStatus = "flagged"
	StatusSuspended   VerificationStatus = "suspended"
	StatusUnderReview VerificationStatus = "under_review"
)

var allStatuses = []VerificationStatus{
	StatusPending, StatusVerified, StatusRejected, StatusFlagged, StatusSuspended, StatusUnderReview,
}

func (s VerificationStatus) IsValid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s VerificationStatus) String() string { return string(s) }

// IsNegative reports the statuses counted as incidents.
func (s VerificationStatus) IsNegative() bool {
	return s == StatusFlagged || s == StatusRejected || s == StatusSuspended
}

// CanTransitionTo reports whether the status machine allows moving to next.
// Every status may move to any other status; staying put is not a transition.
func (s VerificationStatus) CanTransitionTo(next VerificationStatus) bool {
	return s.IsValid() && next.IsValid() && s != next
}

// ParseVerificationStatus validates a wire value.
func ParseVerificationStatus(raw string) (VerificationStatus, error) {
	s := VerificationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidStatus, fmt.Sprintf("invalid verification status %q", raw))
	}
	return s, nil
}

// TrustTier is the discrete bucket derived from the risk score. Lower risk
// means higher trust.
type TrustTier string

const (
	TierUnknown  TrustTier = "unknown"
	TierLow      TrustTier = "low"
	TierMedium   TrustTier = "medium"
	TierHigh     TrustTier = "high"
	TierVerified TrustTier = "verified"
)

// Rank orders tiers by trust; unknown ranks lowest.
func (t TrustTier) Rank() int {
	switch t {
	case TierVerified:
		return 4
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}

func (t TrustTier) IsValid() bool {
	switch t {
	case TierUnknown, TierLow, TierMedium, TierHigh, TierVerified:
		return true
	}
	return false
}

// ParseTrustTier validates a wire value.
func ParseTrustTier(raw string) (TrustTier, error) {
	t := TrustTier(strings.ToLower(strings.TrimSpace(raw)))
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid trust tier %q", raw))
	}
	return t, nil
}
