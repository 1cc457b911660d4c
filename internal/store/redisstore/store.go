// Package redisstore caches session history and backs the request rate
// limiter with redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

const (
	historyPrefix = "tehiskokk:history:"
	versionPrefix = "tehiskokk:history-version:"
	ratePrefix    = "tehiskokk:rate:"
)

type Store struct {
	client     *redis.Client
	historyTTL time.Duration
}

// New connects and pings redis. historyTTL bounds how long a cached history
// may outlive its last invalidation.
func New(addr, password string, db int, historyTTL time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, historyTTL: historyTTL}, nil
}

func historyKey(sessionID string) string { return historyPrefix + sessionID }
func versionKey(sessionID string) string { return versionPrefix + sessionID }

// versionTTL outlives any cached history list.
func (s *Store) versionTTL() time.Duration {
	if ttl := 2 * s.historyTTL; ttl > 24*time.Hour {
		return ttl
	}
	return 24 * time.Hour
}

func (s *Store) GetHistory(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := s.client.Get(ctx, historyKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get history from cache: %w", err)
	}
	return data, nil
}

// HistoryVersion returns the session's history version, 0 when never bumped.
func (s *Store) HistoryVersion(ctx context.Context, sessionID string) (int64, error) {
	return parseVersion(s.client.Get(ctx, versionKey(sessionID)))
}

func parseVersion(cmd *redis.StringCmd) (int64, error) {
	v, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get history version: %w", err)
	}
	return v, nil
}

// SetHistory caches data unless the version moved past version. The version
// key is watched, so a bump between the check and the write aborts it.
func (s *Store) SetHistory(ctx context.Context, sessionID string, version int64, data []byte) (bool, error) {
	stored := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := parseVersion(tx.Get(ctx, versionKey(sessionID)))
		if err != nil {
			return err
		}
		if cur != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, historyKey(sessionID), data, s.historyTTL)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, versionKey(sessionID))
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set history in cache: %w", err)
	}
	return stored, nil
}

// InvalidateHistory bumps the version and drops the cached list in one
// transaction.
func (s *Store) InvalidateHistory(ctx context.Context, sessionID string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, versionKey(sessionID))
		p.Expire(ctx, versionKey(sessionID), s.versionTTL())
		p.Del(ctx, historyKey(sessionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate history: %w", err)
	}
	return nil
}

// allowScript counts a hit and opens the window on the first one. A counter
// found without expiry gets one too, so no key can outlive its window.
var allowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Allow counts one request for key in the current one-second window and
// reports whether it stays within qps.
func (s *Store) Allow(ctx context.Context, key string, qps int) (bool, error) {
	count, err := allowScript.Run(ctx, s.client, []string{ratePrefix + key}, time.Second.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return count <= int64(qps), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
