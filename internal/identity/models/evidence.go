package models

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	dErrors "canon/pkg/domain-errors"
)

// MaxFingerprintLength bounds an opaque evidence token.
const MaxFingerprintLength = 256

// EvidenceField names a fingerprint slot. The values are the wire names
// reported in matchedOn.
type EvidenceField string

const (
	FieldDocumentHash      EvidenceField = "documentHash"
	FieldFaceEmbeddingID   EvidenceField = "faceEmbeddingId"
	FieldDeviceFingerprint EvidenceField = "deviceFingerprint"
)

// MatchPriority is the lookup order: strongest assertion of identity first.
var MatchPriority = []EvidenceField{FieldDocumentHash, FieldFaceEmbeddingID, FieldDeviceFingerprint}

// Fingerprints are opaque correlation tokens compared by equality only.
type Fingerprints struct {
	DocumentHash      string `json:"documentHash,omitempty"`
	FaceEmbeddingID   string `json:"faceEmbeddingId,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
}

// Get returns the token stored in a field.
func (f Fingerprints) Get(field EvidenceField) string {
	switch field {
	case FieldDocumentHash:
		return f.DocumentHash
	case FieldFaceEmbeddingID:
		return f.FaceEmbeddingID
	case FieldDeviceFingerprint:
		return f.DeviceFingerprint
	}
	return ""
}

func (f Fingerprints) IsEmpty() bool {
	return f.DocumentHash == "" && f.FaceEmbeddingID == "" && f.DeviceFingerprint == ""
}

// Normalize trims every token.
func (f Fingerprints) Normalize() Fingerprints {
	return Fingerprints{
		DocumentHash:      strings.TrimSpace(f.DocumentHash),
		FaceEmbeddingID:   strings.TrimSpace(f.FaceEmbeddingID),
		DeviceFingerprint: strings.TrimSpace(f.DeviceFingerprint),
	}
}

// Validate requires at least one token and bounds their length.
func (f Fingerprints) Validate() error {
	if f.IsEmpty() {
		return dErrors.New(dErrors.CodeInsufficientEvidence, "at least one evidence fingerprint is required")
	}
	for _, field := range MatchPriority {
		if len(f.Get(field)) > MaxFingerprintLength {
			return dErrors.New(dErrors.CodeValidation, string(field)+" exceeds maximum length")
		}
	}
	return nil
}

// CanonicalKey hashes the present fields in priority order. Equal evidence
// sets always yield the same key regardless of how the caller built them.
func (f Fingerprints) CanonicalKey() string {
	var b strings.Builder
	for _, field := range MatchPriority {
		if v := f.Get(field); v != "" {
			b.WriteString(string(field))
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte(0)
		}
	}
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// MatchWeights are the confidence contributions of each matched field.
type MatchWeights struct {
	DocumentHash      float64 `yaml:"documentHash" json:"documentHash"`
	FaceEmbeddingID   float64 `yaml:"faceEmbeddingId" json:"faceEmbeddingId"`
	DeviceFingerprint float64 `yaml:"deviceFingerprint" json:"deviceFingerprint"`
}

// DefaultMatchWeights: document 0.90, biometric 0.85, device 0.70.
func DefaultMatchWeights() MatchWeights {
	return MatchWeights{DocumentHash: 0.90, FaceEmbeddingID: 0.85, DeviceFingerprint: 0.70}
}

func (w MatchWeights) For(field EvidenceField) float64 {
	switch field {
	case FieldDocumentHash:
		return w.DocumentHash
	case FieldFaceEmbeddingID:
		return w.FaceEmbeddingID
	case FieldDeviceFingerprint:
		return w.DeviceFingerprint
	}
	return 0
}

// Validate keeps every weight within [0,1].
func (w MatchWeights) Validate() error {
	for _, field := range MatchPriority {
		if v := w.For(field); v < 0 || v > 1 {
			return dErrors.New(dErrors.CodeValidation, "match weight for "+string(field)+" must be within [0,1]")
		}
	}
	return nil
}

// MatchedFields lists, in priority order, the supplied fields that equal the
// stored fingerprints, and the maximum weight among them.
func MatchedFields(stored, supplied Fingerprints, weights MatchWeights) ([]string, float64) {
	matched := []string{}
	confidence := 0.0
	for _, field := range MatchPriority {
		v := supplied.Get(field)
		if v == "" || v != stored.Get(field) {
			continue
		}
		matched = append(matched, string(field))
		confidence = max(confidence, weights.For(field))
	}
	return matched, confidence
}
