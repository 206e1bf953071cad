package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrCodeBlank is returned when an empty or whitespace-only code is submitted.
	ErrCodeBlank = errors.New("promotion code is required")
	// ErrCodeNotFound is returned when no code matches the normalized input.
	ErrCodeNotFound = errors.New("promotion code not found")
	// ErrCodeInactive is returned when a code exists but has been deactivated.
	ErrCodeInactive = errors.New("promotion code is no longer active")
	// ErrCodeExpired is returned when a code is past its expiry timestamp.
	ErrCodeExpired = errors.New("promotion code has expired")
	// ErrCodeLimitReached is returned when a code has exhausted its usage limit.
	ErrCodeLimitReached = errors.New("promotion code usage limit reached")
)

// Code is a snapshot of a promotion code definition at a point in time.
// Amounts derived from it must use the snapshot's Percentage, never a later
// lookup, so historical ledger entries stay immutable when the definition
// changes.
type Code struct {
	// Code is the normalized (trimmed, uppercased) code string.
	Code string
	// Percentage is the discount percentage, 1-100.
	Percentage int
	// MaxUsage is the global usage limit. Zero means unlimited.
	MaxUsage int64
	// CurrentUsage is the number of recorded redemptions. Monotonically
	// non-decreasing; never exceeds MaxUsage when a limit is set.
	CurrentUsage int64
	Active       bool
	ExpiresAt    *time.Time
	CreatedBy    string
	CreatedAt    time.Time
}

// Exhausted reports whether the code's usage limit has been reached.
func (c *Code) Exhausted() bool {
	return c.MaxUsage > 0 && c.CurrentUsage >= c.MaxUsage
}

// RemainingUses returns the number of redemptions left, or -1 for unlimited codes.
func (c *Code) RemainingUses() int64 {
	if c.MaxUsage == 0 {
		return -1
	}
	if left := c.MaxUsage - c.CurrentUsage; left > 0 {
		return left
	}
	return 0
}

// Normalize canonicalizes a user-supplied code string: surrounding whitespace
// is stripped and the result is uppercased. Lookups and stored codes always
// use the normalized form.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Catalog provides read access to promotion code definitions plus the two
// mutations the redemption coordinator and the deactivation sweep need.
type Catalog interface {
	// FindByCode looks up a code by its normalized form, including inactive
	// codes. Returns ErrCodeNotFound when no code matches.
	FindByCode(ctx context.Context, code string) (*Code, error)
	// IncrementUsage atomically bumps the usage counter and returns the
	// post-increment snapshot. Fails rather than truncates when the
	// increment would exceed the usage limit.
	IncrementUsage(ctx context.Context, code string) (*Code, error)
	// Deactivate marks a code inactive. No-op on already-inactive codes.
	Deactivate(ctx context.Context, code string) error
}
