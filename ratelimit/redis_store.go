package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alwitt/proxykey/models"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// redisStore implements Store on Redis. Windows are sorted sets scored by call time in
// unix milliseconds; bans are plain keys whose TTL matches the ban expiry.
type redisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

/*
NewRedisStore define a rate limit store on Redis

	@param client redis.UniversalClient - Redis client
	@param keyPrefix string - prefix prepended to all keys (e.g. "proxykey:rl:")
	@returns the store
*/
func NewRedisStore(client redis.UniversalClient, keyPrefix string) Store {
	return &redisStore{client: client, keyPrefix: keyPrefix}
}

func (s *redisStore) windowKey(ipHash string) string {
	return s.keyPrefix + "win:" + ipHash
}

func (s *redisStore) banKey(ipHash string) string {
	return s.keyPrefix + "ban:" + ipHash
}

func (s *redisStore) GetBan(ctx context.Context, ipHash string) (*models.BanRecord, error) {
	raw, err := s.client.Get(ctx, s.banKey(ipHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("ban lookup failed [%w]", err)
	}
	var ban models.BanRecord
	if err := json.Unmarshal(raw, &ban); err != nil {
		return nil, fmt.Errorf("stored ban is not parsable [%w]", err)
	}
	return &ban, nil
}

func (s *redisStore) PutBan(ctx context.Context, ban models.BanRecord) error {
	serialized, err := json.Marshal(ban)
	if err != nil {
		return fmt.Errorf("failed to serialize ban [%w]", err)
	}
	// Permanent bans never expire in Redis
	var ttl time.Duration
	if ban.ExpiresAt != nil {
		ttl = ban.ExpiresAt.Sub(ban.BannedAt)
		if ttl <= 0 {
			return nil
		}
	}
	if err := s.client.Set(ctx, s.banKey(ban.IPHash), serialized, ttl).Err(); err != nil {
		return fmt.Errorf("ban write failed [%w]", err)
	}
	return nil
}

func (s *redisStore) DeleteBan(ctx context.Context, ipHash string) error {
	if err := s.client.Del(ctx, s.banKey(ipHash)).Err(); err != nil {
		return fmt.Errorf("ban delete failed [%w]", err)
	}
	return nil
}

func (s *redisStore) RecordCall(
	ctx context.Context, ipHash string, now time.Time, window time.Duration,
) ([]time.Time, error) {
	key := s.windowKey(ipHash)
	nowMs := now.UnixMilli()
	// Calls at or before this score are outside the window
	cutoff := strconv.FormatInt(nowMs-window.Milliseconds(), 10)

	var rangeCmd *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: ulid.Make().String()})
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		rangeCmd = pipe.ZRangeWithScores(ctx, key, 0, -1)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate window update failed [%w]", err)
	}

	members, err := rangeCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("rate window read failed [%w]", err)
	}
	calls := make([]time.Time, 0, len(members))
	for _, member := range members {
		calls = append(calls, time.UnixMilli(int64(member.Score)).UTC())
	}
	return calls, nil
}

// Sweep Redis expires idle windows and lapsed bans through key TTLs, so there is
// nothing to remove here.
func (s *redisStore) Sweep(_ context.Context, _ time.Time, _ time.Time) (SweepStats, error) {
	return SweepStats{}, nil
}
