package models

import (
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "canon/pkg/domain-errors"
)

var identityIDPattern = regexp.MustCompile(`^ID-\d{8}-[0-9A-F]{8}$`)

// NewIdentityID mints a date-prefixed identifier with a random suffix, e.g.
// ID-20250301-9F2C04AB. Uniqueness is checked by the caller against the store.
func NewIdentityID(now time.Time) string {
	u := uuid.New()
	return "ID-" + now.UTC().Format("20060102") + "-" + strings.ToUpper(hex.EncodeToString(u[:4]))
}

// ParseIdentityID checks the identifier shape before any store lookup.
func ParseIdentityID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if !identityIDPattern.MatchString(id) {
		return "", dErrors.New(dErrors.CodeValidation, "invalid identity id")
	}
	return id, nil
}
