// Package proxykey - credential-proxy engine: opaque proxy keys in front of real credentials
package proxykey

import (
	"context"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/alwitt/proxykey/attestation"
	"github.com/alwitt/proxykey/audit"
	"github.com/alwitt/proxykey/clock"
	"github.com/alwitt/proxykey/config"
	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/enclave"
	"github.com/alwitt/proxykey/encryption"
	"github.com/alwitt/proxykey/models"
	"github.com/alwitt/proxykey/notify"
	"github.com/alwitt/proxykey/ratelimit"
	"github.com/alwitt/proxykey/store"
	"github.com/apex/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ServiceParams service parameters
type ServiceParams struct {
	// Config the service configuration
	Config config.Config
	// Clock optional time source. Defaults to the system clock.
	Clock clock.Clock
	// Migrate create missing tables at start
	Migrate bool
}

// Service a fully wired credential-proxy engine
type Service struct {
	goutils.Component

	Persistence db.Client
	Crypto      encryption.CryptographyEngine
	Audit       audit.Trail
	Notifier    notify.Dispatcher
	Enclave     enclave.Enclave
	Limiter     ratelimit.Limiter

	redisClient   redis.UniversalClient
	stopSweeper   context.CancelFunc
	sweeperActive bool
}

/*
DatabaseDialector GORM dialector for the configured database

	@param cfg config.DatabaseConfig - database settings
	@returns the dialector
*/
func DatabaseDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return db.GetSqliteDialector(cfg.DSN), nil
	case "postgres":
		return db.GetPostgresDialector(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver '%s'", cfg.Driver)
	}
}

// sqlLogLevel map the configured SQL log level
func sqlLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Error
	}
}

/*
OpenDatabase connect to the configured database

	@param ctx context.Context - execution context
	@param cfg config.DatabaseConfig - database settings
	@returns the persistence client
*/
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (db.Client, error) {
	dialector, err := DatabaseDialector(cfg)
	if err != nil {
		return nil, err
	}
	persistence, err := db.NewConnection(dialector, sqlLogLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize persistence client [%w]", err)
	}
	if err := persistence.Ping(ctx); err != nil {
		_ = persistence.Close()
		return nil, err
	}
	return persistence, nil
}

/*
NewSealer define the configured attestation sealer

	@param cfg config.AttestationConfig - attestation settings
	@returns the sealer, or nil when attestation is disabled
*/
func NewSealer(cfg config.AttestationConfig) (attestation.Sealer, error) {
	switch cfg.Mode {
	case "age":
		return attestation.NewAgeSealer(cfg.AgeIdentity)
	case "remote":
		return attestation.NewRemoteSealer(attestation.RemoteSealerParams{
			BaseURL: cfg.RemoteURL, Timeout: cfg.Timeout,
		})
	default:
		return nil, nil
	}
}

// RateLimitPolicy the limiter policy described by the configuration
func RateLimitPolicy(cfg config.RateLimitConfig) ratelimit.Policy {
	return ratelimit.Policy{
		Window:          cfg.Window,
		WindowLimit:     cfg.WindowLimit,
		BurstWindow:     cfg.BurstWindow,
		BurstLimit:      cfg.BurstLimit,
		AbuseLimit:      cfg.AbuseLimit,
		SpamBanDuration: cfg.SpamBanDuration,
		IdleWindowTTL:   cfg.IdleWindowTTL,
	}
}

/*
NewService build the engine from its configuration

	@param ctx context.Context - execution context
	@param params ServiceParams - service parameters
	@returns the service
*/
func NewService(ctx context.Context, params ServiceParams) (*Service, error) {
	cfg := params.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeSource := params.Clock
	if timeSource == nil {
		timeSource = &clock.SystemClock{}
	}

	logTags := log.Fields{"module": "proxykey", "component": "service"}
	instance := &Service{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
	}

	// Prepare persistence
	persistence, err := OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	instance.Persistence = persistence
	if params.Migrate {
		if err := persistence.RunSQLInTransaction(ctx, db.DefineTables); err != nil {
			_ = persistence.Close()
			return nil, fmt.Errorf("failed to define tables [%w]", err)
		}
	}

	if err := instance.build(ctx, cfg, timeSource); err != nil {
		_ = instance.Close()
		return nil, err
	}

	log.WithFields(logTags).
		WithField("driver", cfg.Database.Driver).
		WithField("attestation", cfg.Attestation.Mode).
		WithField("ratelimit", cfg.RateLimit.Backend).
		Info("Service ready")
	return instance, nil
}

// build wire the components on top of the persistence client
func (s *Service) build(ctx context.Context, cfg config.Config, timeSource clock.Clock) error {
	systemSecret, err := cfg.Enclave.SystemSecretBytes()
	if err != nil {
		return err
	}
	s.Crypto, err = encryption.NewCryptographyEngine(
		ctx, encryption.CryptographyEngineParams{SystemSecret: systemSecret},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize cryptography engine [%w]", err)
	}

	if s.Audit, err = audit.NewTrail(audit.TrailParams{
		Persistence: s.Persistence, Crypto: s.Crypto, Clock: timeSource,
	}); err != nil {
		return fmt.Errorf("failed to initialize audit trail [%w]", err)
	}

	if s.Notifier, err = notify.NewDispatcher(notify.DispatcherParams{
		Persistence:    s.Persistence,
		WebhookTimeout: cfg.Webhook.Timeout,
		UserAgent:      cfg.Webhook.UserAgent,
	}); err != nil {
		return fmt.Errorf("failed to initialize notification dispatcher [%w]", err)
	}

	sessionKV, err := store.NewProtectedKVStore(s.Persistence, s.Crypto)
	if err != nil {
		return fmt.Errorf("failed to initialize session store [%w]", err)
	}

	sealer, err := NewSealer(cfg.Attestation)
	if err != nil {
		return fmt.Errorf("failed to initialize attestation sealer [%w]", err)
	}

	if s.Enclave, err = enclave.NewEnclave(ctx, enclave.EnclaveParams{
		Persistence:  s.Persistence,
		Crypto:       s.Crypto,
		SessionStore: sessionKV,
		Audit:        s.Audit,
		Clock:        timeSource,
		Sealer:       sealer,
		Notifier:     s.Notifier,
		GracePeriod:  cfg.Enclave.GracePeriod,
	}); err != nil {
		return fmt.Errorf("failed to initialize enclave [%w]", err)
	}

	var windowStore ratelimit.Store
	switch cfg.RateLimit.Backend {
	case "redis":
		s.redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RateLimit.RedisAddr},
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unreachable at '%s' [%w]", cfg.RateLimit.RedisAddr, err)
		}
		windowStore = ratelimit.NewRedisStore(s.redisClient, cfg.RateLimit.KeyPrefix)
	default:
		windowStore = ratelimit.NewSQLStore(s.Persistence)
	}

	if s.Limiter, err = ratelimit.NewLimiter(ratelimit.LimiterParams{
		Store:  windowStore,
		Crypto: s.Crypto,
		Clock:  timeSource,
		Policy: RateLimitPolicy(cfg.RateLimit),
	}); err != nil {
		return fmt.Errorf("failed to initialize rate limiter [%w]", err)
	}

	if cfg.RateLimit.SweepInterval > 0 {
		sweepCtx, cancel := context.WithCancel(context.Background())
		if err := s.Limiter.StartSweeper(sweepCtx, cfg.RateLimit.SweepInterval); err != nil {
			cancel()
			return fmt.Errorf("failed to start rate limit sweeper [%w]", err)
		}
		s.stopSweeper = cancel
		s.sweeperActive = true
	}

	return nil
}

/*
UnbanIP lift an IP ban on behalf of an operator

	@param ctx context.Context - execution context
	@param operator string - who lifted the ban
	@param ip string - the IP
*/
func (s *Service) UnbanIP(ctx context.Context, operator string, ip string) error {
	if err := s.Limiter.Unban(ctx, ip); err != nil {
		return err
	}
	if _, err := s.Audit.Append(ctx, audit.AppendParams{
		Action: models.AuditActionIPUnbanned,
		Actor:  operator,
		Source: "Operator",
		IP:     ip,
	}); err != nil {
		log.WithError(err).WithFields(s.GetLogTagsForContext(ctx)).Error(
			"Failed to record unban",
		)
	}
	return nil
}

/*
Close stop background work and release connections. Pending webhook deliveries are
allowed to finish.
*/
func (s *Service) Close() error {
	if s.sweeperActive {
		s.stopSweeper()
		s.Limiter.StopSweeper()
		s.sweeperActive = false
	}
	if s.Notifier != nil {
		s.Notifier.Wait()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Warn("Failed to close redis client")
		}
	}
	if s.Persistence != nil {
		return s.Persistence.Close()
	}
	return nil
}
