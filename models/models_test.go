package models_test

import (
	"strings"
	"testing"
	"time"

	"github.com/alwitt/proxykey/models"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestProxyIDFormat(t *testing.T) {
	assert := assert.New(t)

	valid := models.ProxyIDPrefix + strings.Repeat("0a", 16)
	assert.True(models.IsValidProxyID(valid))

	for _, proxyID := range []string{
		"",
		"priv_",
		strings.Repeat("0a", 16),
		"pub_" + strings.Repeat("0a", 16),
		models.ProxyIDPrefix + strings.Repeat("0A", 16),
		models.ProxyIDPrefix + strings.Repeat("0a", 15),
		models.ProxyIDPrefix + strings.Repeat("0a", 16) + "0",
		models.ProxyIDPrefix + strings.Repeat("zz", 16),
		" " + valid,
	} {
		assert.False(models.IsValidProxyID(proxyID), proxyID)
	}

	assert.Equal("priv_0a0a0a0...0a0a", models.MaskProxyID(valid))
	assert.Equal("****", models.MaskProxyID("priv_short"))
}

func TestSecretHistory(t *testing.T) {
	assert := assert.New(t)

	secret := models.Secret{}
	assert.Empty(secret.History())
	assert.Equal(-1, secret.HistoryIndex("a"))

	secret.PushHistory("a")
	secret.PushHistory("b")
	assert.Equal([]string{"b", "a"}, secret.History())
	assert.Equal(0, secret.HistoryIndex("b"))
	assert.Equal(1, secret.HistoryIndex("a"))

	// Bounded, oldest dropped
	secret.PushHistory("c")
	secret.PushHistory("d")
	assert.Equal([]string{"d", "c", "b"}, secret.History())
	assert.Len(secret.History(), models.MaxHistoryHashes)
	assert.Equal(-1, secret.HistoryIndex("a"))
}

func TestSecretRotationSchedule(t *testing.T) {
	assert := assert.New(t)

	rotated := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	secret := models.Secret{LastRotatedAt: rotated}

	// Never rotates
	assert.False(secret.RotationDue(rotated.Add(24 * 365 * time.Hour)))
	assert.True(secret.NextRotation().IsZero())

	secret.RotationIntervalMs = int64(time.Hour / time.Millisecond)
	assert.Equal(time.Hour, secret.RotationInterval())
	assert.True(rotated.Add(time.Hour).Equal(secret.NextRotation()))
	assert.False(secret.RotationDue(rotated.Add(59 * time.Minute)))
	assert.True(secret.RotationDue(rotated.Add(time.Hour)))
	assert.True(secret.RotationDue(rotated.Add(2 * time.Hour)))
}

func TestSessionTransitions(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(models.ValidateSessionTransition(models.SessionStateLocked, models.SessionStateUnlocked))
	assert.Nil(models.ValidateSessionTransition(models.SessionStateUnlocked, models.SessionStateLocked))
	assert.Nil(models.ValidateSessionTransition(models.SessionStateUnlocked, models.SessionStateUnlocked))
	assert.Nil(models.ValidateSessionTransition(models.SessionStateLocked, models.SessionStateLocked))
	assert.Error(models.ValidateSessionTransition("OPEN", models.SessionStateLocked))
	assert.Error(models.ValidateSessionTransition(models.SessionStateLocked, "OPEN"))
}

func TestAuditChainInput(t *testing.T) {
	assert := assert.New(t)

	entry := models.AuditEntry{
		ID:           "01HZY3V2K8M0000000000000001",
		Timestamp:    time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC),
		Actor:        "alice",
		Action:       models.AuditActionKeyRotated,
		Source:       models.AuditSourceEnclave,
		IPHash:       "abcd",
		EncDetails:   []byte{1, 2, 3},
		PreviousHash: "ffff",
	}
	base := string(entry.ChainInput())

	// Every field and the link contribute
	mutations := []func(e *models.AuditEntry){
		func(e *models.AuditEntry) { e.ID = "01HZY3V2K8M0000000000000002" },
		func(e *models.AuditEntry) { e.Timestamp = e.Timestamp.Add(time.Microsecond) },
		func(e *models.AuditEntry) { e.Actor = "bob" },
		func(e *models.AuditEntry) { e.Action = models.AuditActionKeyRevoked },
		func(e *models.AuditEntry) { e.Source = "Web Dashboard" },
		func(e *models.AuditEntry) { e.IPHash = "abce" },
		func(e *models.AuditEntry) { e.EncDetails = []byte{1, 2, 4} },
		func(e *models.AuditEntry) { e.EncDetailsNonce = []byte{9} },
		func(e *models.AuditEntry) { e.PreviousHash = "fffe" },
	}
	for idx, mutate := range mutations {
		changed := entry
		mutate(&changed)
		assert.NotEqual(base, string(changed.ChainInput()), idx)
	}

	// Field boundaries can't be shifted
	shifted := entry
	shifted.Actor = "alic"
	shifted.Action = "e" + shifted.Action
	assert.NotEqual(base, string(shifted.ChainInput()))

	// Sub-microsecond noise and time zone don't
	noisy := entry
	noisy.Timestamp = entry.Timestamp.Add(500 * time.Nanosecond).In(time.FixedZone("X", 3600))
	assert.Equal(base, string(noisy.ChainInput()))
}

func TestCustomValidators(t *testing.T) {
	assert := assert.New(t)

	validate := validator.New()
	assert.Nil(models.RegisterWithValidator(validate))

	type sample struct {
		ProxyID string                       `validate:"proxy_id"`
		Scheme  models.PayloadSchemeENUMType `validate:"payload_scheme"`
		Reason  models.BanReasonENUMType     `validate:"ban_reason"`
		State   models.SessionStateENUMType  `validate:"session_state"`
	}
	good := sample{
		ProxyID: models.ProxyIDPrefix + strings.Repeat("1", 32),
		Scheme:  models.PayloadSchemeAttested,
		Reason:  models.BanReasonSpam,
		State:   models.SessionStateUnlocked,
	}
	assert.Nil(validate.Struct(&good))

	bad := good
	bad.ProxyID = "priv_1"
	assert.Error(validate.Struct(&bad))
	bad = good
	bad.Scheme = "PLAIN"
	assert.Error(validate.Struct(&bad))
	bad = good
	bad.Reason = "grumpy"
	assert.Error(validate.Struct(&bad))
	bad = good
	bad.State = "OPEN"
	assert.Error(validate.Struct(&bad))

	ban := models.BanRecord{IPHash: "ab", Reason: models.BanReasonAbuse}
	now := time.Now()
	assert.True(ban.ActiveAt(now))
	expires := now.Add(time.Minute)
	ban.ExpiresAt = &expires
	assert.True(ban.ActiveAt(now))
	assert.False(ban.ActiveAt(expires))
}
