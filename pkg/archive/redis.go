package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// errNotFound indicates the requested page is not archived.
var errNotFound = errors.New("page not archived")

// DefaultTTL is the lifetime of pages archived in Redis.
const DefaultTTL = 24 * time.Hour

// RedisSink stores pages in Redis.
type RedisSink struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisSink creates a Redis sink. A non-positive ttl selects DefaultTTL.
func NewRedisSink(redisClient *redis.Client, ttl time.Duration) *RedisSink {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSink{
		redis:  redisClient,
		ttl:    ttl,
		prefix: DefaultPrefix,
	}
}

// OpenRedisSink connects to the Redis server at url,
// e.g. "redis://localhost:6379/0", and checks that it answers.
func OpenRedisSink(ctx context.Context, url string, ttl time.Duration) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisSink(client, ttl), nil
}

// WithPrefix returns a copy of the sink writing keys under prefix.
func (s *RedisSink) WithPrefix(prefix string) *RedisSink {
	c := *s
	c.prefix = prefix
	return &c
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Put implements Sink.
func (s *RedisSink) Put(ctx context.Context, key PageKey, output []byte) error {
	key.Prefix = s.prefix
	if err := s.redis.Set(ctx, key.String(), output, s.ttl).Err(); err != nil {
		WriteErrors.WithLabelValues(s.Name()).Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	PagesWritten.WithLabelValues(s.Name()).Inc()
	BytesWritten.WithLabelValues(s.Name()).Add(float64(len(output)))
	return nil
}

// get reads an archived page back. Returns errNotFound if the key doesn't
// exist or has expired.
func (s *RedisSink) get(ctx context.Context, key PageKey) ([]byte, error) {
	key.Prefix = s.prefix
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.redis.Close()
}
