package recordstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

const scanBatch = 100

// Redis implements Store on a Redis server. Records are JSON values with EX set.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ Store = (*Redis)(nil)

// NewRedis connects lazily to the server at url (redis:// or rediss://).
// timeout bounds dial, read and write; ttl <= 0 means TTL.
func NewRedis(url string, timeout, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("recordstore: parse redis url: %w", err)
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	return newRedis(redis.NewClient(opts), ttl, logger), nil
}

func newRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = TTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

// Get fetches a single record.
func (s *Redis) Get(ctx context.Context, kind models.Kind, id string) (*models.Record, error) {
	key := kind.Key(id)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("recordstore: get %s: %w", key, err)
	}
	rec, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("recordstore: get %s: %w", key, err)
	}
	return rec, nil
}

// List scans the kind's prefix and fetches values page by page.
func (s *Redis) List(ctx context.Context, kind models.Kind) ([]*models.Record, error) {
	// SCAN may return a key more than once.
	var keys []string
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, kind.KeyPrefix()+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("recordstore: scan %s: %w", kind.KeyPrefix(), err)
	}

	var out []*models.Record
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		page := keys[start:end]
		vals, err := s.client.MGet(ctx, page...).Result()
		if err != nil {
			return nil, fmt.Errorf("recordstore: mget: %w", err)
		}
		raw := make([][]byte, len(vals))
		for i, v := range vals {
			if str, ok := v.(string); ok {
				raw[i] = []byte(str)
			}
		}
		out = append(out, decodeAll(s.logger, page, raw)...)
	}
	return out, nil
}

// Put writes rec with the store TTL.
func (s *Redis) Put(ctx context.Context, kind models.Kind, rec *models.Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	key := kind.Key(rec.ID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("recordstore: set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key.
func (s *Redis) Delete(ctx context.Context, kind models.Kind, id string) (bool, error) {
	key := kind.Key(id)
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("recordstore: del %s: %w", key, err)
	}
	return n > 0, nil
}

// Ping checks the connection.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("recordstore: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Redis) Close() error {
	return s.client.Close()
}
