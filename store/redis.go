package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix is prepended to destination addresses to form Redis keys.
const DefaultRedisPrefix = "ultralight:queue:"

// Redis is a Store backed by a Redis list so buffered messages survive broker restarts.
//
// Redis errors are logged and reported as an empty store; the Store interface has
// no error returns because a destination queue can not act on them.
type Redis struct {
	client redis.UniversalClient
	key    string
	ctx    context.Context
	log    zerolog.Logger
}

// RedisFactory creates Redis stores that share a single client.
type RedisFactory struct {
	// Client is the shared Redis client.
	Client redis.UniversalClient

	// Prefix is prepended to every destination address; empty means DefaultRedisPrefix.
	Prefix string

	// Logger receives Redis failures.
	Logger zerolog.Logger
}

// NewRedisFactory connects to the Redis URL addr and returns a factory.  addr is either
// a plain host:port or a redis://, rediss:// URL.
func NewRedisFactory(addr string, log zerolog.Logger) (*RedisFactory, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(context.Background()).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}
	return &RedisFactory{Client: c, Logger: log}, nil
}

// Factory returns the Factory func for use by the broker.
func (f *RedisFactory) Factory() Factory {
	return func(address string) Store {
		return f.New(address)
	}
}

// New returns the Redis store for address.
func (f *RedisFactory) New(address string) *Redis {
	prefix := f.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		client: f.Client,
		key:    prefix + address,
		ctx:    context.Background(),
		log:    f.Logger.With().Str("store", "redis").Str("address", address).Logger(),
	}
}

// Close closes the shared client.
func (f *RedisFactory) Close() error {
	return f.Client.Close()
}

// Enqueue implements Store.
func (r *Redis) Enqueue(body string) {
	if err := r.client.RPush(r.ctx, r.key, body).Err(); err != nil {
		r.log.Error().Err(err).Msg("enqueue failed; message lost")
	}
}

// TryDequeue implements Store.
func (r *Redis) TryDequeue() (string, bool) {
	body, err := r.client.LPop(r.ctx, r.key).Result()
	if err != nil {
		if err != redis.Nil {
			r.log.Error().Err(err).Msg("dequeue failed")
		}
		return "", false
	}
	return body, true
}

// Peek implements Store.
func (r *Redis) Peek() (string, bool) {
	body, err := r.client.LIndex(r.ctx, r.key, 0).Result()
	if err != nil {
		if err != redis.Nil {
			r.log.Error().Err(err).Msg("peek failed")
		}
		return "", false
	}
	return body, true
}

// HasMessages implements Store.
func (r *Redis) HasMessages() bool {
	return r.Len() > 0
}

// Len implements Store.
func (r *Redis) Len() int {
	n, err := r.client.LLen(r.ctx, r.key).Result()
	if err != nil {
		r.log.Error().Err(err).Msg("length failed")
		return 0
	}
	return int(n)
}

// Snapshot implements Store.
func (r *Redis) Snapshot() []string {
	rv, err := r.client.LRange(r.ctx, r.key, 0, -1).Result()
	if err != nil {
		r.log.Error().Err(err).Msg("snapshot failed")
		return []string{}
	}
	if rv == nil {
		rv = []string{}
	}
	return rv
}

// parseRedisURL parses addr into UniversalOptions.  If no scheme is present addr is
// treated as a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")
	switch u.Scheme {
	case "redis", "rediss":
		if u.Path != "" && u.Path != "/" {
			db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
			if err != nil {
				return nil, fmt.Errorf("store: redis: invalid db: %v", err)
			}
			opts.DB = db
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	default:
		return nil, fmt.Errorf("store: redis: invalid URL scheme: %s", u.Scheme)
	}
	return opts, nil
}
