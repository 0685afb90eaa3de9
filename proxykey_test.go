package proxykey_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alwitt/proxykey"
	"github.com/alwitt/proxykey/attestation"
	"github.com/alwitt/proxykey/clock"
	"github.com/alwitt/proxykey/config"
	"github.com/alwitt/proxykey/enclave"
	"github.com/alwitt/proxykey/models"
	"github.com/alwitt/proxykey/ratelimit"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Database.DSN = fmt.Sprintf("/tmp/proxykey_ut_%s.db", ulid.Make().String())
	cfg.Enclave.SystemSecret = strings.Repeat("5a", 32)
	cfg.RateLimit.SweepInterval = 0
	return cfg
}

func TestServiceEndToEnd(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	testClock := clock.NewFixedClock(time.Date(2024, 9, 2, 12, 0, 0, 0, time.UTC))

	cfg := testConfig()
	cfg.Enclave.GracePeriod = 10 * time.Second
	uut, err := proxykey.NewService(utCtx, proxykey.ServiceParams{
		Config: cfg, Clock: testClock, Migrate: true,
	})
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Close())
	}()

	// Caller gets through the front door
	decision, err := uut.Limiter.Check(utCtx, "198.51.100.7")
	assert.Nil(err)
	assert.True(decision.Allowed)

	// Provision
	assert.Nil(uut.Enclave.Unlock(utCtx, "carol", []byte("carol key material")))
	proxyID := models.ProxyIDPrefix + strings.Repeat("c", 32)
	_, err = uut.Enclave.Provision(utCtx, "carol", enclave.ProvisionParams{
		ProxyID:            proxyID,
		Credential:         []byte("sk-live-carol"),
		Provider:           "anthropic",
		RotationIntervalMs: int64(time.Hour / time.Millisecond),
		IP:                 "198.51.100.7",
	})
	assert.Nil(err)

	credential, err := uut.Enclave.Resolve(utCtx, proxyID)
	assert.Nil(err)
	assert.Equal([]byte("sk-live-carol"), credential)

	// Rotate
	testClock.Advance(time.Hour)
	newProxyID, err := uut.Enclave.RotateIfDue(utCtx, proxyID)
	assert.Nil(err)
	assert.True(models.IsValidProxyID(newProxyID))
	credential, err = uut.Enclave.Resolve(utCtx, newProxyID)
	assert.Nil(err)
	assert.Equal([]byte("sk-live-carol"), credential)
	uut.Notifier.Wait()

	unread, err := uut.Notifier.UnreadCount(utCtx, "carol")
	assert.Nil(err)
	assert.Equal(int64(1), unread)

	// Old key only within the grace period
	credential, err = uut.Enclave.Resolve(utCtx, proxyID)
	assert.Nil(err)
	assert.Equal([]byte("sk-live-carol"), credential)
	testClock.Advance(11 * time.Second)
	credential, err = uut.Enclave.Resolve(utCtx, proxyID)
	assert.Nil(err)
	assert.Nil(credential)

	// Operator ban handling
	assert.Nil(uut.Limiter.Ban(utCtx, "203.0.113.9", models.BanReasonPermanent, 0))
	decision, err = uut.Limiter.Check(utCtx, "203.0.113.9")
	assert.Nil(err)
	assert.False(decision.Allowed)
	assert.Nil(uut.UnbanIP(utCtx, "ops", "203.0.113.9"))
	decision, err = uut.Limiter.Check(utCtx, "203.0.113.9")
	assert.Nil(err)
	assert.True(decision.Allowed)

	// Audit chain covers everything
	entries, err := uut.Audit.GetLogs(utCtx, 10)
	assert.Nil(err)
	actions := []models.AuditActionENUMType{}
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	assert.Equal([]models.AuditActionENUMType{
		models.AuditActionIPUnbanned,
		models.AuditActionKeyRotated,
		models.AuditActionKeyProvisioned,
		models.AuditActionEnclaveUnlocked,
	}, actions)
	assert.Equal("ops", entries[0].Actor)

	result, err := uut.Audit.Verify(utCtx, nil)
	assert.Nil(err)
	assert.True(result.Valid)
	assert.Equal(4, result.Checked)
}

func TestServiceRestart(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	cfg := testConfig()

	first, err := proxykey.NewService(utCtx, proxykey.ServiceParams{Config: cfg, Migrate: true})
	assert.Nil(err)
	assert.Nil(first.Enclave.Unlock(utCtx, "dave", []byte("dave key material")))
	proxyID := models.ProxyIDPrefix + strings.Repeat("d", 32)
	_, err = first.Enclave.Provision(utCtx, "dave", enclave.ProvisionParams{
		ProxyID: proxyID, Credential: []byte("sk-dave"), Provider: "openai",
	})
	assert.Nil(err)
	assert.Nil(first.Close())

	// Sessions and credentials survive a restart
	second, err := proxykey.NewService(utCtx, proxykey.ServiceParams{Config: cfg})
	assert.Nil(err)
	defer func() {
		assert.Nil(second.Close())
	}()
	assert.Equal(models.SessionStateUnlocked, second.Enclave.SessionState("dave"))
	credential, err := second.Enclave.Resolve(utCtx, proxyID)
	assert.Nil(err)
	assert.Equal([]byte("sk-dave"), credential)

	// A different system secret can't read them
	wrongSecret := cfg
	wrongSecret.Enclave.SystemSecret = strings.Repeat("a5", 32)
	third, err := proxykey.NewService(utCtx, proxykey.ServiceParams{Config: wrongSecret})
	assert.Nil(err)
	defer func() {
		assert.Nil(third.Close())
	}()
	assert.Equal(models.SessionStateLocked, third.Enclave.SessionState("dave"))
	found, err := third.Enclave.HasCurrent(utCtx, proxyID)
	assert.Nil(err)
	assert.False(found)
}

func TestServiceRedisAndAttestation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	mr, err := miniredis.Run()
	assert.Nil(err)
	defer mr.Close()

	identity, _, err := attestation.GenerateIdentity()
	assert.Nil(err)

	cfg := testConfig()
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.RedisAddr = mr.Addr()
	cfg.RateLimit.SweepInterval = time.Minute
	cfg.Attestation.Mode = "age"
	cfg.Attestation.AgeIdentity = identity

	uut, err := proxykey.NewService(utCtx, proxykey.ServiceParams{Config: cfg, Migrate: true})
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Close())
	}()

	// Burst limit is enforced through redis
	var decision ratelimit.Decision
	for itr := 0; itr < 11; itr++ {
		decision, err = uut.Limiter.Check(utCtx, "192.0.2.44")
		assert.Nil(err)
	}
	assert.False(decision.Allowed)
	assert.Equal(models.BanReasonSpam, decision.BanReason)
	assert.NotEmpty(mr.Keys())

	assert.Nil(uut.Enclave.Unlock(utCtx, "erin", []byte("erin key material")))
	proxyID := models.ProxyIDPrefix + strings.Repeat("e", 32)
	stored, err := uut.Enclave.Provision(utCtx, "erin", enclave.ProvisionParams{
		ProxyID: proxyID, Credential: []byte("sk-erin"), Provider: "mistral",
	})
	assert.Nil(err)
	assert.Equal(models.PayloadSchemeAttested, stored.PayloadScheme)
	credential, err := uut.Enclave.Resolve(utCtx, proxyID)
	assert.Nil(err)
	assert.Equal([]byte("sk-erin"), credential)
}

func TestServiceInvalidConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig()
	cfg.Enclave.SystemSecret = ""
	_, err := proxykey.NewService(context.Background(), proxykey.ServiceParams{Config: cfg})
	assert.Error(err)

	// Redis which can't be reached
	cfg = testConfig()
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.RedisAddr = "127.0.0.1:1"
	_, err = proxykey.NewService(
		context.Background(), proxykey.ServiceParams{Config: cfg, Migrate: true},
	)
	assert.Error(err)
}
