package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/proxykey/clock"
	"github.com/alwitt/proxykey/encryption"
	"github.com/alwitt/proxykey/metrics"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// Limiter the rate limiter and ban engine, consulted at the front of every request
type Limiter interface {
	/*
		Check record a call from an IP and decide whether it may proceed

			@param ctx context.Context - execution context
			@param ip string - caller IP
			@returns the decision. A rejecting decision is returned alongside any error.
	*/
	Check(ctx context.Context, ip string) (Decision, error)

	/*
		Ban impose a ban on an IP

			@param ctx context.Context - execution context
			@param ip string - the IP
			@param reason models.BanReasonENUMType - ban reason
			@param duration time.Duration - ban duration. 0 means permanent.
	*/
	Ban(
		ctx context.Context, ip string, reason models.BanReasonENUMType, duration time.Duration,
	) error

	/*
		Unban lift the ban on an IP

			@param ctx context.Context - execution context
			@param ip string - the IP
	*/
	Unban(ctx context.Context, ip string) error

	/*
		Sweep remove idle windows and lapsed bans

			@param ctx context.Context - execution context
			@returns what was removed
	*/
	Sweep(ctx context.Context) (SweepStats, error)

	/*
		StartSweeper run Sweep periodically, with jitter, until the context is cancelled

			@param ctx context.Context - sweeper lifetime context
			@param interval time.Duration - base sweep interval
	*/
	StartSweeper(ctx context.Context, interval time.Duration) error

	/*
		StopSweeper wait for a started sweeper to exit after its context is cancelled
	*/
	StopSweeper()
}

// limiterImpl implements Limiter
type limiterImpl struct {
	goutils.Component
	store  Store
	crypto encryption.CryptographyEngine
	clock  clock.Clock
	policy Policy

	sweeperWG sync.WaitGroup
}

// LimiterParams rate limiter parameters
type LimiterParams struct {
	// Store window and ban storage
	Store Store `validate:"required"`
	// Crypto cryptography engine, for IP hashing
	Crypto encryption.CryptographyEngine `validate:"required"`
	// Clock time source
	Clock clock.Clock `validate:"required"`
	// Policy thresholds
	Policy Policy
}

/*
NewLimiter define a new rate limiter

	@param params LimiterParams - limiter parameters
	@returns the limiter
*/
func NewLimiter(params LimiterParams) (Limiter, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid rate limiter parameters [%w]", err)
	}

	logTags := log.Fields{"module": "ratelimit", "component": "limiter"}

	return &limiterImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		store:  params.Store,
		crypto: params.Crypto,
		clock:  params.Clock,
		policy: params.Policy,
	}, nil
}

// countWithin number of calls within span of now
func countWithin(calls []time.Time, now time.Time, span time.Duration) int {
	count := 0
	for _, call := range calls {
		if now.Sub(call) < span {
			count++
		}
	}
	return count
}

/*
Check record a call from an IP and decide whether it may proceed

	@param ctx context.Context - execution context
	@param ip string - caller IP
	@returns the decision. A rejecting decision is returned alongside any error.
*/
func (l *limiterImpl) Check(ctx context.Context, ip string) (Decision, error) {
	logTags := l.GetLogTagsForContext(ctx)

	ipHash := l.crypto.KeyedHash(ip)
	now := l.clock.Now()

	// Bans are checked before touching the window
	ban, err := l.store.GetBan(ctx, ipHash)
	if err != nil {
		return Decision{}, err
	}
	if ban != nil {
		if ban.ActiveAt(now) {
			decision := Decision{Reason: ReasonBanned, BanReason: ban.Reason}
			if !ban.Permanent() {
				decision.RetryAfterSeconds = retryAfterSeconds(ban.ExpiresAt.Sub(now))
			}
			metrics.RateLimitDecisions.WithLabelValues(string(ReasonBanned)).Inc()
			return decision, nil
		}
		if err := l.store.DeleteBan(ctx, ipHash); err != nil {
			return Decision{}, fmt.Errorf("failed to clear lapsed ban [%w]", err)
		}
		log.WithFields(logTags).WithField("ip_hash", ipHash).Debug("Lapsed ban cleared")
	}

	calls, err := l.store.RecordCall(ctx, ipHash, now, l.policy.Window)
	if err != nil {
		return Decision{}, err
	}
	windowCount := countWithin(calls, now, l.policy.Window)
	burstCount := countWithin(calls, now, l.policy.BurstWindow)

	// Abuse is checked before spam. Under a relaxed burst limit both can trip on the
	// same call and the permanent ban must win.
	switch {
	case windowCount > l.policy.AbuseLimit:
		return l.imposeBan(ctx, ipHash, models.BanReasonAbuse, 0, now)

	case burstCount > l.policy.BurstLimit:
		return l.imposeBan(ctx, ipHash, models.BanReasonSpam, l.policy.SpamBanDuration, now)

	case windowCount > l.policy.WindowLimit:
		oldest := calls[0]
		for _, call := range calls {
			if call.Before(oldest) {
				oldest = call
			}
		}
		metrics.RateLimitDecisions.WithLabelValues(string(ReasonRateLimited)).Inc()
		return Decision{
			Reason:            ReasonRateLimited,
			RetryAfterSeconds: retryAfterSeconds(l.policy.Window - now.Sub(oldest)),
		}, nil
	}

	metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true}, nil
}

// imposeBan record a ban. On a write failure the rejecting decision is still returned.
func (l *limiterImpl) imposeBan(
	ctx context.Context,
	ipHash string,
	reason models.BanReasonENUMType,
	duration time.Duration,
	now time.Time,
) (Decision, error) {
	logTags := l.GetLogTagsForContext(ctx)

	ban := models.BanRecord{IPHash: ipHash, Reason: reason, BannedAt: now}
	decision := Decision{Reason: ReasonBanned, BanReason: reason}
	if duration > 0 {
		expires := now.Add(duration)
		ban.ExpiresAt = &expires
		decision.RetryAfterSeconds = retryAfterSeconds(duration)
	}

	metrics.RateLimitDecisions.WithLabelValues(string(ReasonBanned)).Inc()
	metrics.BansIssued.WithLabelValues(string(reason)).Inc()

	if err := l.store.PutBan(ctx, ban); err != nil {
		log.WithError(err).WithFields(logTags).WithField("ip_hash", ipHash).Error(
			"Failed to record IP ban",
		)
		return decision, fmt.Errorf("failed to record IP ban [%w]", err)
	}

	log.WithFields(logTags).
		WithField("ip_hash", ipHash).
		WithField("reason", reason).
		Info("IP banned")
	return decision, nil
}

/*
Ban impose a ban on an IP

	@param ctx context.Context - execution context
	@param ip string - the IP
	@param reason models.BanReasonENUMType - ban reason
	@param duration time.Duration - ban duration. 0 means permanent.
*/
func (l *limiterImpl) Ban(
	ctx context.Context, ip string, reason models.BanReasonENUMType, duration time.Duration,
) error {
	switch reason {
	case models.BanReasonSpam, models.BanReasonAbuse, models.BanReasonPermanent:
	default:
		return fmt.Errorf("unknown ban reason '%s'", reason)
	}
	_, err := l.imposeBan(ctx, l.crypto.KeyedHash(ip), reason, duration, l.clock.Now())
	return err
}

/*
Unban lift the ban on an IP

	@param ctx context.Context - execution context
	@param ip string - the IP
*/
func (l *limiterImpl) Unban(ctx context.Context, ip string) error {
	if err := l.store.DeleteBan(ctx, l.crypto.KeyedHash(ip)); err != nil {
		return fmt.Errorf("failed to lift IP ban [%w]", err)
	}
	return nil
}

/*
Sweep remove idle windows and lapsed bans

	@param ctx context.Context - execution context
	@returns what was removed
*/
func (l *limiterImpl) Sweep(ctx context.Context) (SweepStats, error) {
	now := l.clock.Now()
	idleTTL := l.policy.IdleWindowTTL
	if idleTTL < l.policy.Window {
		idleTTL = l.policy.Window
	}
	stats, err := l.store.Sweep(ctx, now, now.Add(-idleTTL))
	if err != nil {
		return SweepStats{}, err
	}
	metrics.SweptEntries.WithLabelValues("window").Add(float64(stats.IdleWindows))
	metrics.SweptEntries.WithLabelValues("ban").Add(float64(stats.ExpiredBans))
	return stats, nil
}

/*
StartSweeper run Sweep periodically, with jitter, until the context is cancelled

	@param ctx context.Context - sweeper lifetime context
	@param interval time.Duration - base sweep interval
*/
func (l *limiterImpl) StartSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	logTags := l.GetLogTagsForContext(ctx)

	l.sweeperWG.Add(1)
	go func() {
		defer l.sweeperWG.Done()
		log.WithFields(logTags).WithField("interval", interval.String()).Info("Sweeper started")
		defer log.WithFields(logTags).Info("Sweeper stopped")
		for {
			// Up to 20% extra delay
			jitter := time.Duration(rand.Int63n(int64(interval)/5 + 1))
			timer := time.NewTimer(interval + jitter)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			stats, err := l.Sweep(ctx)
			if err != nil {
				log.WithError(err).WithFields(logTags).Error("Rate limit sweep failed")
				continue
			}
			log.WithFields(logTags).
				WithField("idle_windows", stats.IdleWindows).
				WithField("expired_bans", stats.ExpiredBans).
				Debug("Rate limit sweep complete")
		}
	}()
	return nil
}

/*
StopSweeper wait for a started sweeper to exit after its context is cancelled
*/
func (l *limiterImpl) StopSweeper() {
	l.sweeperWG.Wait()
}
