// Package redis stores cache entries in Redis.
//
// Entries expire when they stop being fresh. Entries without an explicit lifetime
// expire after the configured TTL; a zero TTL keeps them until Redis evicts them.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/cache-filter/httpcache"
	"github.com/always-cache/cache-filter/httpcache/provider"
)

const Name = "redis"

type Options struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

func DefaultOptions() Options {
	return Options{
		Addr:    "localhost:6379",
		Prefix:  "cache:",
		Timeout: 2 * time.Second,
	}
}

func init() {
	httpcache.Register(Name, func(node *yaml.Node, logger zerolog.Logger) (httpcache.HttpCache, error) {
		opts := DefaultOptions()
		if err := httpcache.DecodeOptions(node, &opts); err != nil {
			return nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
		}
		logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Using Redis cache")
		return provider.New(Name, NewStore(client, opts.Prefix, opts.TTL), opts.Timeout, logger), nil
	})
}

// Store is a provider.CacheProvider keeping one Redis string per entry.
type Store struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStore creates a store on an existing client. Keys are prefixed with prefix.
func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Store{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.redis.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

func (s *Store) Put(ctx context.Context, key string, expires time.Time, bytes []byte) error {
	ttl := s.ttl
	if !expires.IsZero() {
		ttl = time.Until(expires)
		if ttl <= 0 {
			return s.Delete(ctx, key)
		}
	}
	if err := s.redis.Set(ctx, s.prefix+key, bytes, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.redis.Close()
}
