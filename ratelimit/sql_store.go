package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/models"
)

// sqlStore implements Store on the relational database
type sqlStore struct {
	persistence db.Client
}

/*
NewSQLStore define a rate limit store on the relational database

	@param persistence db.Client - persistence layer client
	@returns the store
*/
func NewSQLStore(persistence db.Client) Store {
	return &sqlStore{persistence: persistence}
}

func (s *sqlStore) GetBan(ctx context.Context, ipHash string) (*models.BanRecord, error) {
	var ban *models.BanRecord
	err := s.persistence.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
		entry, err := dbClient.GetBan(ctx, ipHash)
		if err != nil {
			if db.IsNotFound(err) {
				return nil
			}
			return err
		}
		ban = &entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ban lookup failed [%w]", err)
	}
	return ban, nil
}

func (s *sqlStore) PutBan(ctx context.Context, ban models.BanRecord) error {
	return s.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.SaveBan(ctx, ban)
		},
	)
}

func (s *sqlStore) DeleteBan(ctx context.Context, ipHash string) error {
	return s.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.DeleteBan(ctx, ipHash)
		},
	)
}

func (s *sqlStore) RecordCall(
	ctx context.Context, ipHash string, now time.Time, window time.Duration,
) ([]time.Time, error) {
	var calls []time.Time
	err := s.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			entry, err := dbClient.GetRateWindow(ctx, ipHash)
			if err != nil && !db.IsNotFound(err) {
				return err
			}
			existing, err := entry.CallTimes()
			if err != nil {
				return err
			}
			calls = pruneCalls(append(existing, now), now, window)
			entry.IPHash = ipHash
			entry.LastCall = now
			entry.SetCallTimes(calls)
			return dbClient.SaveRateWindow(ctx, entry)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("rate window update failed [%w]", err)
	}
	return calls, nil
}

func (s *sqlStore) Sweep(
	ctx context.Context, now time.Time, idleCutoff time.Time,
) (SweepStats, error) {
	var stats SweepStats
	err := s.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			if stats.IdleWindows, err = dbClient.DeleteIdleRateWindows(ctx, idleCutoff); err != nil {
				return err
			}
			stats.ExpiredBans, err = dbClient.DeleteExpiredBans(ctx, now)
			return err
		},
	)
	if err != nil {
		return SweepStats{}, fmt.Errorf("rate limit sweep failed [%w]", err)
	}
	return stats, nil
}
