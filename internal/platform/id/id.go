// Package id generates compact unique identifiers for runtime entities.
//
// Identifiers are UUIDv4 values encoded as lowercase unpadded base32, which
// keeps them URL- and filename-safe while staying shorter than the canonical
// hex form.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a new 26-character lowercase identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}
