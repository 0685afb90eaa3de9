// Package ratelimit - sliding-window rate limiting with escalating IP bans
package ratelimit

import (
	"fmt"
	"time"

	"github.com/alwitt/proxykey/models"
)

// Policy rate limit thresholds. A count "exceeds" a limit when it is strictly greater.
type Policy struct {
	// Window the sliding window length
	Window time.Duration `validate:"required,gt=0"`
	// WindowLimit calls allowed within Window before throttling
	WindowLimit int `validate:"required,gt=0"`
	// BurstWindow the short burst window length
	BurstWindow time.Duration `validate:"required,gt=0,ltefield=Window"`
	// BurstLimit calls allowed within BurstWindow before a spam ban
	BurstLimit int `validate:"required,gt=0"`
	// AbuseLimit calls allowed within Window before a permanent ban
	AbuseLimit int `validate:"required,gtfield=WindowLimit"`
	// SpamBanDuration how long a spam ban lasts
	SpamBanDuration time.Duration `validate:"required,gt=0"`
	// IdleWindowTTL windows with no call for this long are removed by the sweeper
	IdleWindowTTL time.Duration `validate:"gte=0"`
}

// DefaultPolicy the default thresholds
func DefaultPolicy() Policy {
	return Policy{
		Window:          60 * time.Second,
		WindowLimit:     60,
		BurstWindow:     5 * time.Second,
		BurstLimit:      10,
		AbuseLimit:      1000,
		SpamBanDuration: 24 * time.Hour,
		IdleWindowTTL:   10 * time.Minute,
	}
}

// DecisionReason why a call was rejected
type DecisionReason string

const (
	// ReasonRateLimited the caller exceeded the window limit and must back off
	ReasonRateLimited DecisionReason = "rate_limited"
	// ReasonBanned the caller is banned
	ReasonBanned DecisionReason = "banned"
)

// Decision outcome of a rate limit check
type Decision struct {
	// Allowed whether the call may proceed
	Allowed bool
	// Reason why the call was rejected
	Reason DecisionReason
	// BanReason reason of the ban, when Reason is ReasonBanned
	BanReason models.BanReasonENUMType
	// RetryAfterSeconds when the caller may retry. 0 when unknown (permanent ban).
	RetryAfterSeconds int
}

// String human readable decision
func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	if d.Reason == ReasonBanned {
		return fmt.Sprintf("banned (%s, retry after %ds)", d.BanReason, d.RetryAfterSeconds)
	}
	return fmt.Sprintf("%s (retry after %ds)", d.Reason, d.RetryAfterSeconds)
}

// retryAfterSeconds round a wait up to whole seconds, at least 1
func retryAfterSeconds(wait time.Duration) int {
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
