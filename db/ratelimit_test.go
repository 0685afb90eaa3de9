package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestDBRateWindow(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestClient(t)

	ipHash := randomHash()
	now := time.Now().UTC().Truncate(time.Millisecond)

	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.GetRateWindow(ctx, ipHash)
			assert.True(db.IsNotFound(err))
			return nil
		},
	))

	// Insert then update
	window := models.RateWindow{IPHash: ipHash, LastCall: now}
	window.SetCallTimes([]time.Time{now})
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.SaveRateWindow(ctx, window)
		},
	))
	later := now.Add(time.Second)
	window.SetCallTimes([]time.Time{now, later})
	window.LastCall = later
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.SaveRateWindow(ctx, window)
		},
	))

	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			stored, err := dbClient.GetRateWindow(ctx, ipHash)
			assert.Nil(err)
			calls, err := stored.CallTimes()
			assert.Nil(err)
			assert.Len(calls, 2)
			assert.True(later.Equal(calls[1]))
			return nil
		},
	))

	// Idle cleanup
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			removed, err := dbClient.DeleteIdleRateWindows(ctx, now)
			assert.Nil(err)
			assert.Equal(int64(0), removed)
			removed, err = dbClient.DeleteIdleRateWindows(ctx, later.Add(time.Minute))
			assert.Nil(err)
			assert.Equal(int64(1), removed)
			return nil
		},
	))
}

func TestDBBans(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestClient(t)

	now := time.Now().UTC()
	expiry := now.Add(time.Hour)
	spammer := randomHash()
	abuser := randomHash()

	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			assert.Nil(dbClient.SaveBan(ctx, models.BanRecord{
				IPHash: spammer, Reason: models.BanReasonSpam, BannedAt: now, ExpiresAt: &expiry,
			}))
			assert.Nil(dbClient.SaveBan(ctx, models.BanRecord{
				IPHash: abuser, Reason: models.BanReasonAbuse, BannedAt: now,
			}))
			// Unknown reason
			assert.NotNil(dbClient.SaveBan(ctx, models.BanRecord{
				IPHash: randomHash(), Reason: "boredom", BannedAt: now,
			}))
			return nil
		},
	))

	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			ban, err := dbClient.GetBan(ctx, spammer)
			assert.Nil(err)
			assert.Equal(models.BanReasonSpam, ban.Reason)
			assert.False(ban.Permanent())
			assert.True(ban.ActiveAt(now))
			assert.False(ban.ActiveAt(expiry))

			ban, err = dbClient.GetBan(ctx, abuser)
			assert.Nil(err)
			assert.True(ban.Permanent())
			return nil
		},
	))

	// Escalate the spammer to a permanent ban
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.SaveBan(ctx, models.BanRecord{
				IPHash: spammer, Reason: models.BanReasonPermanent, BannedAt: now,
			})
		},
	))
	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			ban, err := dbClient.GetBan(ctx, spammer)
			assert.Nil(err)
			assert.True(ban.Permanent())
			assert.Equal(models.BanReasonPermanent, ban.Reason)
			return nil
		},
	))

	// Expired cleanup only removes lapsed temporary bans
	other := randomHash()
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			assert.Nil(dbClient.SaveBan(ctx, models.BanRecord{
				IPHash: other, Reason: models.BanReasonSpam, BannedAt: now, ExpiresAt: &expiry,
			}))
			removed, err := dbClient.DeleteExpiredBans(ctx, expiry.Add(time.Second))
			assert.Nil(err)
			assert.Equal(int64(1), removed)

			_, err = dbClient.GetBan(ctx, other)
			assert.True(db.IsNotFound(err))

			assert.Nil(dbClient.DeleteBan(ctx, abuser))
			_, err = dbClient.GetBan(ctx, abuser)
			assert.True(db.IsNotFound(err))
			return nil
		},
	))
}

func TestDBRateLimitCleanupAnyZone(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestClient(t)

	cest := time.FixedZone("CEST", 2*3600)
	edt := time.FixedZone("EDT", -4*3600)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Rows written with non-UTC times
	window := models.RateWindow{IPHash: randomHash(), LastCall: now.In(edt)}
	window.SetCallTimes([]time.Time{now})
	expiry := now.Add(time.Hour).In(cest)
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			assert.Nil(dbClient.SaveRateWindow(ctx, window))
			return dbClient.SaveBan(ctx, models.BanRecord{
				IPHash:    randomHash(),
				Reason:    models.BanReasonSpam,
				BannedAt:  now.In(cest),
				ExpiresAt: &expiry,
			})
		},
	))

	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			// Cutoffs before the stored instants, expressed in other zones
			removed, err := dbClient.DeleteIdleRateWindows(ctx, now.Add(-time.Minute).In(cest))
			assert.Nil(err)
			assert.Equal(int64(0), removed)
			removed, err = dbClient.DeleteExpiredBans(ctx, now.Add(30*time.Minute).In(edt))
			assert.Nil(err)
			assert.Equal(int64(0), removed)

			// And after them
			removed, err = dbClient.DeleteIdleRateWindows(ctx, now.Add(time.Minute).In(edt))
			assert.Nil(err)
			assert.Equal(int64(1), removed)
			removed, err = dbClient.DeleteExpiredBans(ctx, now.Add(time.Hour).In(edt))
			assert.Nil(err)
			assert.Equal(int64(1), removed)
			return nil
		},
	))
}
