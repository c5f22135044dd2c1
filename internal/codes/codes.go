package codes

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Code is one issued verification code. Rows are never deleted; rotation
// and revocation flip is_active so the history stays auditable.
type Code struct {
	ID        string     `json:"id"`
	StudentID string     `json:"student_id"`
	Code      string     `json:"code"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the code is past its expiry at now. Expired
// codes are treated as inactive for verification even before a cleanup
// pass flips the flag.
func (c Code) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

var (
	// ErrCodeSpaceExhausted is returned when every draw collided with an
	// active code within the attempt budget.
	ErrCodeSpaceExhausted = errors.New("code space exhausted, no unique code found")
	// ErrCodeNotFound means no active code matches.
	ErrCodeNotFound = errors.New("code not found")
	// ErrCodeExpired means the code matched but is past its expiry.
	ErrCodeExpired = errors.New("code expired")
	// ErrCodeTaken is the storage-level signal that a concurrent issuer
	// claimed the same value first; callers retry with a fresh draw.
	ErrCodeTaken = errors.New("code already active for another student")
)

const codeSpace = 1_000_000 // 6 digits, leading zeros included

// randomCode draws a zero-padded candidate from the full 6-digit space.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
