package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink appends closed turn records to a capped per-session list.
type RedisSink struct {
	client *redis.Client
	prefix string
	maxLen int64
	ttl    time.Duration
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithRedisPrefix sets the key prefix. Default is "parley".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisSink) { s.prefix = prefix }
}

// WithRedisMaxLen caps the number of records kept per session.
func WithRedisMaxLen(n int64) RedisOption {
	return func(s *RedisSink) { s.maxLen = n }
}

// WithRedisTTL expires a session's list after ttl of inactivity. Zero keeps it.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSink) { s.ttl = ttl }
}

func NewRedisSink(client *redis.Client, opts ...RedisOption) *RedisSink {
	s := &RedisSink{client: client, prefix: "parley", maxLen: 1000}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSink) key(sessionID string) string {
	return fmt.Sprintf("%s:turns:%s", s.prefix, sessionID)
}

func (s *RedisSink) Write(ctx context.Context, rec Record) error {
	if s.client == nil {
		return errors.New("redis sink: nil client")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis sink: marshal: %w", err)
	}
	key := s.key(rec.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if s.maxLen > 0 {
		pipe.LTrim(ctx, key, -s.maxLen, -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sink: exec: %w", err)
	}
	return nil
}

// Records returns the stored records of a session, oldest first.
func (s *RedisSink) Records(ctx context.Context, sessionID string) ([]map[string]any, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis sink: lrange: %w", err)
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		var rec map[string]any
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("redis sink: unmarshal: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
