package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// RedisStore keeps one sorted set per (platform, account), scored by unix millis.
type RedisStore struct {
	rc *redis.Client
}

func NewRedisStore(rc *redis.Client) *RedisStore {
	return &RedisStore{rc: rc}
}

func redisKey(platform, accountID string) string {
	return keyPrefix + platform + ":" + accountID
}

func (s *RedisStore) Append(ctx context.Context, platform, accountID string, at time.Time) error {
	member, err := gonanoid.New()
	if err != nil {
		return err
	}
	key := redisKey(platform, accountID)

	pipe := s.rc.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.SAdd(ctx, keyPrefix+"keys", key)
	pipe.Expire(ctx, key, Window+PurgeEvery)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Since(ctx context.Context, platform, accountID string, after time.Time) ([]time.Time, error) {
	members, err := s.rc.ZRangeByScoreWithScores(ctx, redisKey(platform, accountID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(after.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}

	stamps := make([]time.Time, 0, len(members))
	for _, m := range members {
		stamps = append(stamps, time.UnixMilli(int64(m.Score)))
	}
	return stamps, nil
}

func (s *RedisStore) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	keys, err := s.rc.SMembers(ctx, keyPrefix+"keys").Result()
	if err != nil {
		return 0, err
	}

	max := strconv.FormatInt(before.UnixMilli(), 10)
	var total int64
	for _, key := range keys {
		n, err := s.rc.ZRemRangeByScore(ctx, key, "-inf", max).Result()
		if err != nil {
			return total, err
		}
		total += n

		if card, err := s.rc.ZCard(ctx, key).Result(); err == nil && card == 0 {
			s.rc.SRem(ctx, keyPrefix+"keys", key)
		}
	}
	return total, nil
}
