package audit_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/proxykey/audit"
	"github.com/alwitt/proxykey/clock"
	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/encryption"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	persistence db.Client
	crypto      encryption.CryptographyEngine
	clock       *clock.FixedClock
	uut         audit.Trail
}

func newTestEnv(t *testing.T, pageSize int) testEnv {
	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/proxykey_audit_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(t, err)
	assert.Nil(t, persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	secret := make([]byte, 32)
	_, err = rand.Read(secret)
	assert.Nil(t, err)
	crypto, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
		SystemSecret: secret,
	})
	assert.Nil(t, err)

	testClock := clock.NewFixedClock(time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC))

	uut, err := audit.NewTrail(audit.TrailParams{
		Persistence: persistence, Crypto: crypto, Clock: testClock, VerifyPageSize: pageSize,
	})
	assert.Nil(t, err)

	return testEnv{persistence: persistence, crypto: crypto, clock: testClock, uut: uut}
}

// appendEntries append n events, advancing the clock between each
func appendEntries(t *testing.T, env testEnv, n int) []models.AuditEntry {
	entries := []models.AuditEntry{}
	for idx := 0; idx < n; idx++ {
		entry, err := env.uut.Append(context.Background(), audit.AppendParams{
			Action:  models.AuditActionKeyProvisioned,
			Actor:   fmt.Sprintf("user-%d", idx%3),
			Source:  "Web Dashboard",
			IP:      "10.0.0.1",
			Details: audit.Details{"provider": "openai", "index": idx},
		})
		assert.Nil(t, err)
		entries = append(entries, entry)
		env.clock.Advance(time.Second)
	}
	return entries
}

func TestAuditAppendAndRead(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	env := newTestEnv(t, 0)

	// Empty chain verifies
	result, err := env.uut.Verify(utCtx, nil)
	assert.Nil(err)
	assert.True(result.Valid)
	assert.Equal(0, result.Checked)

	// Missing fields
	_, err = env.uut.Append(utCtx, audit.AppendParams{Action: models.AuditActionKeyCopied})
	assert.Error(err)

	entries := appendEntries(t, env, 5)
	assert.Equal("", entries[0].PreviousHash)
	for idx := 1; idx < len(entries); idx++ {
		assert.Equal(entries[idx-1].Hash, entries[idx].PreviousHash)
		assert.Greater(entries[idx].ID, entries[idx-1].ID)
	}
	// IP is only stored hashed
	assert.Equal(env.crypto.KeyedHash("10.0.0.1"), entries[0].IPHash)
	// Timestamp truncated to microseconds
	assert.Equal(0, entries[0].Timestamp.Nanosecond()%1000)

	logs, err := env.uut.GetLogs(utCtx, 3)
	assert.Nil(err)
	assert.Len(logs, 3)
	assert.Equal(entries[4].ID, logs[0].ID)
	assert.False(logs[0].DetailsUnreadable)
	assert.Equal("openai", logs[0].Details["provider"])
	assert.Equal(float64(4), logs[0].Details["index"])

	byActor, err := env.uut.ListByActor(utCtx, "user-1", 0)
	assert.Nil(err)
	assert.Len(byActor, 2)
	assert.Equal(entries[4].ID, byActor[0].ID)

	count, err := env.uut.CountSince(utCtx, entries[2].Timestamp)
	assert.Nil(err)
	assert.Equal(int64(3), count)

	result, err = env.uut.Verify(utCtx, nil)
	assert.Nil(err)
	assert.True(result.Valid)
	assert.Equal(5, result.Checked)
	assert.Equal(entries[4].Hash, result.ChainTip)

	// Partial walk
	result, err = env.uut.Verify(utCtx, &entries[2].ID)
	assert.Nil(err)
	assert.True(result.Valid)
	assert.Equal(3, result.Checked)
}

func TestAuditCountSinceAnyZone(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	env := newTestEnv(t, 0)

	entries := appendEntries(t, env, 3)
	cest := time.FixedZone("CEST", 2*3600)
	edt := time.FixedZone("EDT", -4*3600)

	// Same instant, whatever zone the caller uses
	before := entries[0].Timestamp.Add(-time.Hour)
	for _, since := range []time.Time{before, before.In(cest), before.In(edt)} {
		count, err := env.uut.CountSince(utCtx, since)
		assert.Nil(err)
		assert.Equal(int64(3), count, since.String())
	}
	for _, since := range []time.Time{
		entries[1].Timestamp, entries[1].Timestamp.In(cest), entries[1].Timestamp.In(edt),
	} {
		count, err := env.uut.CountSince(utCtx, since)
		assert.Nil(err)
		assert.Equal(int64(2), count, since.String())
	}

	result, err := env.uut.Verify(utCtx, nil)
	assert.Nil(err)
	assert.True(result.Valid)
}

func TestAuditEntryWithoutDetails(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	env := newTestEnv(t, 0)

	entry, err := env.uut.Append(utCtx, audit.AppendParams{
		Action: models.AuditActionEnclaveUnlocked, Actor: "alice", Source: models.AuditSourceEnclave,
	})
	assert.Nil(err)
	assert.Empty(entry.EncDetails)
	assert.Empty(entry.IPHash)

	logs, err := env.uut.GetLogs(utCtx, 10)
	assert.Nil(err)
	assert.Len(logs, 1)
	assert.Nil(logs[0].Details)
	assert.False(logs[0].DetailsUnreadable)
}

func TestAuditUnreadableDetails(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	env := newTestEnv(t, 0)

	entries := appendEntries(t, env, 2)

	// Corrupt the details of the first entry
	assert.Nil(env.persistence.RunSQLInTransaction(
		utCtx, func(ctx context.Context, tx *gorm.DB) error {
			return tx.Exec(
				"UPDATE audit_entries SET enc_details = ? WHERE id = ?",
				[]byte("garbage-cipher-text-garbage-cipher-text"), entries[0].ID,
			).Error
		},
	))

	logs, err := env.uut.GetLogs(utCtx, 10)
	assert.Nil(err)
	assert.Len(logs, 2)
	assert.False(logs[0].DetailsUnreadable)
	assert.True(logs[1].DetailsUnreadable)
	assert.Nil(logs[1].Details)

	// The corruption also breaks the chain
	result, err := env.uut.Verify(utCtx, nil)
	assert.Nil(err)
	assert.False(result.Valid)
	assert.Equal(entries[0].ID, result.FirstInvalidID)
	assert.Equal(audit.ReasonHashMismatch, result.Reason)
}

func TestAuditTamperDetection(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	type tamperCase struct {
		name     string
		stmt     string
		arg      interface{}
		target   int
		detectAt int
		checked  int
		reason   string
	}
	cases := []tamperCase{
		{"actor", "UPDATE audit_entries SET actor = ? WHERE id = ?", "mallory", 3, 3, 3, audit.ReasonHashMismatch},
		{"action", "UPDATE audit_entries SET action = ? WHERE id = ?", "Key Revoked", 0, 0, 0, audit.ReasonHashMismatch},
		{"source", "UPDATE audit_entries SET source = ? WHERE id = ?", "CLI", 6, 6, 6, audit.ReasonHashMismatch},
		{"previous hash", "UPDATE audit_entries SET previous_hash = ? WHERE id = ?", "00", 4, 4, 4, audit.ReasonHashMismatch},
		{"delete", "DELETE FROM audit_entries WHERE id = ?", nil, 2, 3, 2, audit.ReasonLinkMismatch},
	}

	for _, oneCase := range cases {
		// Small pages so the walk crosses page boundaries
		env := newTestEnv(t, 2)
		entries := appendEntries(t, env, 7)

		assert.Nil(env.persistence.RunSQLInTransaction(
			utCtx, func(ctx context.Context, tx *gorm.DB) error {
				if oneCase.arg == nil {
					return tx.Exec(oneCase.stmt, entries[oneCase.target].ID).Error
				}
				return tx.Exec(oneCase.stmt, oneCase.arg, entries[oneCase.target].ID).Error
			},
		), oneCase.name)

		result, err := env.uut.Verify(utCtx, nil)
		assert.Nil(err, oneCase.name)
		assert.False(result.Valid, oneCase.name)
		assert.Equal(entries[oneCase.detectAt].ID, result.FirstInvalidID, oneCase.name)
		assert.Equal(oneCase.reason, result.Reason, oneCase.name)
		assert.Equal(oneCase.checked, result.Checked, oneCase.name)
	}
}

func TestAuditTamperProperty(t *testing.T) {
	log.SetLevel(log.InfoLevel)

	utCtx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 10
	properties := gopter.NewProperties(parameters)

	properties.Property("modifying any entry is detected at that entry", prop.ForAll(
		func(length int, targetSeed int, actor string) bool {
			target := targetSeed % length
			env := newTestEnv(t, 3)
			entries := appendEntries(t, env, length)

			if err := env.persistence.RunSQLInTransaction(
				utCtx, func(ctx context.Context, tx *gorm.DB) error {
					return tx.Exec(
						"UPDATE audit_entries SET actor = ? WHERE id = ?",
						"tampered-"+actor, entries[target].ID,
					).Error
				},
			); err != nil {
				return false
			}

			result, err := env.uut.Verify(utCtx, nil)
			if err != nil {
				return false
			}
			return !result.Valid &&
				result.FirstInvalidID == entries[target].ID &&
				result.Checked == target
		},
		gen.IntRange(1, 12),
		gen.IntRange(0, 100),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
