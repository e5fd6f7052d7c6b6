package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the record lines in a single Redis list.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "classify-access:credentials"
	}
	return &RedisStore{
		client: client,
		key:    key,
	}
}

func (s *RedisStore) Append(ctx context.Context, c Credential) error {
	line := strings.TrimSuffix(formatRecord(c), "\n")
	if err := s.client.RPush(ctx, s.key, line).Err(); err != nil {
		return fmt.Errorf("%w: rpush: %w", ErrStorage, err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, id string) (Credential, bool, error) {
	lines, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return Credential{}, false, fmt.Errorf("%w: lrange: %w", ErrStorage, err)
	}
	for _, line := range lines {
		gotID, ts, ok := splitRecord(line)
		if !ok || gotID != id {
			continue
		}
		c := Credential{ID: gotID}
		if t, err := parseTimestamp(ts); err == nil {
			c.IssuedAt = t
		}
		return c, true, nil
	}
	return Credential{}, false, nil
}

// Compact replaces the list inside a WATCH transaction. A concurrent append
// aborts the transaction with redis.TxFailedErr and leaves the list as is.
func (s *RedisStore) Compact(ctx context.Context, keep func(Credential) bool) (int, error) {
	var dropped int
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		lines, err := tx.LRange(ctx, s.key, 0, -1).Result()
		if err != nil {
			return err
		}
		kept := make([]any, 0, len(lines))
		dropped = 0
		for _, line := range lines {
			c, ok := parseRecord(line)
			if !ok || !keep(c) {
				dropped++
				continue
			}
			kept = append(kept, strings.TrimSpace(line))
		}
		if dropped == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key)
			if len(kept) > 0 {
				pipe.RPush(ctx, s.key, kept...)
			}
			return nil
		})
		return err
	}, s.key)
	if err != nil {
		return 0, fmt.Errorf("%w: compact: %w", ErrStorage, err)
	}
	return dropped, nil
}
