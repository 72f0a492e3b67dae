// Package redis is the shared store behind admission control. Every call
// carries its own timeout and runs through a circuit breaker; failures come
// back as store_unavailable errors so callers can fail open.
package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"admission-gateway/internal/circuitbreaker"
	"admission-gateway/internal/common/errors"
	"admission-gateway/internal/common/logging"

	"github.com/go-redis/redis/v8"
)

// DefaultOpTimeout bounds every store call
const DefaultOpTimeout = 2 * time.Second

// slidingWindowScript prunes, counts, records and refreshes one bucket in a
// single step. ARGV: cutoff ms, now ms, ttl ms, member. Entries scored below
// the cutoff are dropped; the count is taken before the new entry is added.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. ARGV[1])
local count = redis.call('ZCARD', key)
redis.call('ZADD', key, ARGV[2], ARGV[4])
redis.call('PEXPIRE', key, ARGV[3])
return count
`)

type Client struct {
	rdb     *redis.Client
	config  *Config
	breaker *circuitbreaker.GoBreakerAdapter
}

type Config struct {
	Address   string                `json:"address"`
	Password  string                `json:"password"`
	DB        int                   `json:"db"`
	PoolSize  int                   `json:"pool_size"`
	OpTimeout time.Duration         `json:"op_timeout"`
	Breaker   circuitbreaker.Config `json:"-"`
}

func NewClient(config *Config, logger logging.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = DefaultOpTimeout
	}
	if config.Breaker == (circuitbreaker.Config{}) {
		config.Breaker = circuitbreaker.DefaultConfig()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.OpTimeout,
		ReadTimeout:  config.OpTimeout,
		WriteTimeout: config.OpTimeout,
		MaxRetries:   1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:     rdb,
		config:  config,
		breaker: circuitbreaker.NewGoBreaker("redis", config.Breaker, logger),
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the store directly, bypassing the circuit breaker
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// BreakerStats reports the circuit guarding the store
func (c *Client) BreakerStats() circuitbreaker.Stats {
	return c.breaker.Stats()
}

// do runs fn with the per-call timeout inside the breaker. A missing key is
// reported as not_found, application errors pass through, anything else is
// a store outage.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	return c.breaker.Execute(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var appErr *errors.AppError
		switch {
		case stderrors.Is(err, redis.Nil):
			return errors.NotFoundError(op)
		case stderrors.As(err, &appErr):
			return err
		default:
			return errors.StoreUnavailableError(op, err)
		}
	})
}

// RecordAndCount adds member to the sorted set at key scored at now, after
// pruning everything older than now-window, and returns how many entries
// were in the window before the insert. The set expires after 2×window.
func (c *Client) RecordAndCount(ctx context.Context, key, member string, now time.Time, window time.Duration) (int64, error) {
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()
	ttl := 2 * window.Milliseconds()

	var count int64
	err := c.do(ctx, "record_and_count", func(ctx context.Context) error {
		var err error
		count, err = slidingWindowScript.Run(ctx, c.rdb, []string{key},
			strconv.FormatInt(cutoff, 10),
			strconv.FormatInt(nowMs, 10),
			strconv.FormatInt(ttl, 10),
			member,
		).Int64()
		return err
	})
	return count, err
}

// OldestEntry returns the time of the lowest scored member at key. The bool is
// false when the set is empty.
func (c *Client) OldestEntry(ctx context.Context, key string) (time.Time, bool, error) {
	var entries []redis.Z
	err := c.do(ctx, "oldest_entry", func(ctx context.Context) error {
		var err error
		entries, err = c.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
		return err
	})
	if err != nil || len(entries) == 0 {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(entries[0].Score)), true, nil
}

// WindowSize returns the number of members at key
func (c *Client) WindowSize(ctx context.Context, key string) (int64, error) {
	var n int64
	err := c.do(ctx, "window_size", func(ctx context.Context) error {
		var err error
		n, err = c.rdb.ZCard(ctx, key).Result()
		return err
	})
	return n, err
}

// IncrWithTTL increments the counter at key and refreshes its expiry in one
// transaction, returning the new value.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var value int64
	err := c.do(ctx, "incr", func(ctx context.Context) error {
		pipe := c.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		value = incr.Val()
		return nil
	})
	return value, err
}

// GetInt reads an integer counter, treating a missing key as zero
func (c *Client) GetInt(ctx context.Context, key string) (int64, error) {
	var value int64
	err := c.do(ctx, "get_int", func(ctx context.Context) error {
		var err error
		value, err = c.rdb.Get(ctx, key).Int64()
		return err
	})
	if errors.IsNotFound(err) {
		return 0, nil
	}
	return value, err
}

// Key-value operations
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	var data []byte
	var err error

	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			return errors.SerializationError("failed to marshal value", err).WithContext("key", key)
		}
	}

	return c.do(ctx, "set", func(ctx context.Context) error {
		return c.rdb.Set(ctx, key, data, expiration).Err()
	})
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := c.do(ctx, "get", func(ctx context.Context) error {
		var err error
		value, err = c.rdb.Get(ctx, key).Result()
		return err
	})
	return value, err
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return errors.SerializationError("failed to unmarshal value", err).WithContext("key", key)
	}
	return nil
}

// Delete removes key and reports whether it existed
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	var n int64
	err := c.do(ctx, "delete", func(ctx context.Context) error {
		var err error
		n, err = c.rdb.Del(ctx, key).Result()
		return err
	})
	return n > 0, err
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := c.do(ctx, "exists", func(ctx context.Context) error {
		var err error
		count, err = c.rdb.Exists(ctx, key).Result()
		return err
	})
	return count > 0, err
}

// TTL returns the remaining lifetime of key, or NotFound when it has none
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := c.do(ctx, "ttl", func(ctx context.Context) error {
		var err error
		ttl, err = c.rdb.PTTL(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, errors.NotFoundError(key)
	}
	return ttl, nil
}

// ScanKeys walks the keyspace with SCAN and returns every key matching pattern
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := c.do(ctx, "scan", func(ctx context.Context) error {
		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})
	return keys, err
}

// Pub/Sub methods
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	var data []byte
	var err error

	switch v := message.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			return errors.SerializationError("failed to marshal message", err).WithContext("channel", channel)
		}
	}

	return c.do(ctx, "publish", func(ctx context.Context) error {
		return c.rdb.Publish(ctx, channel, data).Err()
	})
}

func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}
