package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"startup-analyst/internal/shared/util"
)

const defaultRedisKey = "startup-analyst:results"

// RedisConfig locates the results hash.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisBackend keeps results in a hash keyed by id, ordered by a sorted set
// scored on creation time.
type RedisBackend struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewRedisBackend connects and verifies the server responds.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return newRedisBackend(client, cfg.Key), nil
}

func newRedisBackend(client *redis.Client, key string) *RedisBackend {
	if strings.TrimSpace(key) == "" {
		key = defaultRedisKey
	}
	return &RedisBackend{client: client, key: key, now: time.Now}
}

func (r *RedisBackend) indexKey() string { return r.key + ":order" }

// Close releases the connection pool.
func (r *RedisBackend) Close() error { return r.client.Close() }

// ListResults returns records oldest first.
func (r *RedisBackend) ListResults(ctx context.Context) ([]map[string]any, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis zrange: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return []map[string]any{}, nil
	}
	values, err := r.client.HMGet(ctx, r.key, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis hmget: %v", ErrUnavailable, err)
	}
	out := make([]map[string]any, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, decodeStored(s))
	}
	return out, nil
}

// CreateResult stores record, assigning an id when it has none.
func (r *RedisBackend) CreateResult(ctx context.Context, record map[string]any) (string, error) {
	id, payload, created, err := encodeStored(record, r.now())
	if err != nil {
		return "", err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, id, payload)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(created.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: redis store: %v", ErrUnavailable, err)
	}
	return id, nil
}

// DeleteResult removes a record.
func (r *RedisBackend) DeleteResult(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.HDel(ctx, r.key, id)
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis delete: %v", ErrUnavailable, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	return nil
}

// encodeStored fills id and createdAt and returns the JSON to store.
func encodeStored(record map[string]any, now time.Time) (string, string, time.Time, error) {
	rec := copyRecord(record)
	id, _ := rec["id"].(string)
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	created := now.UTC()
	if raw, ok := rec["createdAt"].(string); ok {
		if ts, ok := util.ParseTimestamp(raw); ok {
			created = ts
		}
	} else {
		rec["createdAt"] = created.Format(time.RFC3339Nano)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("encode result: %w", err)
	}
	return id, string(payload), created, nil
}

// decodeStored never fails; unreadable entries become empty records that
// the normalizer defaults.
func decodeStored(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

var _ Backend = (*RedisBackend)(nil)
