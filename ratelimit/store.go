package ratelimit

import (
	"context"
	"time"

	"github.com/alwitt/proxykey/models"
)

// SweepStats rows removed by one sweep
type SweepStats struct {
	IdleWindows int64
	ExpiredBans int64
}

// Store persistence backend of the rate limiter. All IPs are already hashed.
type Store interface {
	/*
		GetBan fetch the ban on an IP

			@param ctx context.Context - execution context
			@param ipHash string - keyed hash of the client IP
			@returns the ban, or nil if there is none
	*/
	GetBan(ctx context.Context, ipHash string) (*models.BanRecord, error)

	/*
		PutBan insert or replace the ban on an IP

			@param ctx context.Context - execution context
			@param ban models.BanRecord - the ban
	*/
	PutBan(ctx context.Context, ban models.BanRecord) error

	/*
		DeleteBan lift the ban on an IP

			@param ctx context.Context - execution context
			@param ipHash string - keyed hash of the client IP
	*/
	DeleteBan(ctx context.Context, ipHash string) error

	/*
		RecordCall append a call to the IP's window and prune calls older than the window

			@param ctx context.Context - execution context
			@param ipHash string - keyed hash of the client IP
			@param now time.Time - time of the call
			@param window time.Duration - window length
			@returns the calls within the window, oldest first, including this one
	*/
	RecordCall(
		ctx context.Context, ipHash string, now time.Time, window time.Duration,
	) ([]time.Time, error)

	/*
		Sweep remove idle windows and lapsed bans

			@param ctx context.Context - execution context
			@param now time.Time - current time
			@param idleCutoff time.Time - windows without a call since then are removed
			@returns what was removed
	*/
	Sweep(ctx context.Context, now time.Time, idleCutoff time.Time) (SweepStats, error)
}

// pruneCalls keep the calls within window of now, oldest first
func pruneCalls(calls []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := make([]time.Time, 0, len(calls))
	for _, call := range calls {
		if now.Sub(call) < window {
			kept = append(kept, call)
		}
	}
	return kept
}
