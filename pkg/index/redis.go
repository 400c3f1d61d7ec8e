package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	orderKeyPrefix = "dp:order:"
	orderSetKey    = "dp:orders"
)

// RedisIndex implements Indexer on go-redis. Each order is one JSON value
// under dp:order:<id>, with dp:orders as the membership set used by List.
type RedisIndex struct {
	rdb *redis.Client
}

// RedisConfig holds connection parameters for the mirror backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to Redis and pings it once to verify connectivity.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisIndex, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("index: redis ping: %w", err)
	}
	return &RedisIndex{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (ix *RedisIndex) Close() error {
	return ix.rdb.Close()
}

func (ix *RedisIndex) CreateRecord(ctx context.Context, meta OrderMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("index: marshal order: %w", err)
	}
	pipe := ix.rdb.TxPipeline()
	pipe.Set(ctx, orderKeyPrefix+meta.ID, data, 0)
	pipe.SAdd(ctx, orderSetKey, meta.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index: create record: %w", err)
	}
	return nil
}

func (ix *RedisIndex) Get(ctx context.Context, id string) (*OrderMeta, error) {
	data, err := ix.rdb.Get(ctx, orderKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: get %s: %w", id, err)
	}
	var meta OrderMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("index: unmarshal %s: %w", id, err)
	}
	return &meta, nil
}

func matches(meta *OrderMeta, f ListFilter) bool {
	if f.Venue != "" && meta.Venue != f.Venue {
		return false
	}
	if f.Base != "" && meta.Base != f.Base {
		return false
	}
	if f.Quote != "" && meta.Quote != f.Quote {
		return false
	}
	if f.Side != "" && meta.Side != f.Side {
		return false
	}
	if f.Owner != "" && meta.Owner != f.Owner {
		return false
	}
	return true
}

func (ix *RedisIndex) List(ctx context.Context, f ListFilter, limit int) ([]OrderMeta, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	ids, err := ix.rdb.SMembers(ctx, orderSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("index: list members: %w", err)
	}
	out := make([]OrderMeta, 0, limit)
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		meta, err := ix.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			continue
		}
		if matches(meta, f) {
			out = append(out, *meta)
		}
	}
	return out, nil
}

func (ix *RedisIndex) UpdateStatus(ctx context.Context, id, status string, fillPct int64) error {
	meta, err := ix.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil // mirror never saw this order; nothing to update
	}
	meta.Status = status
	meta.FillPct = fillPct
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("index: marshal order: %w", err)
	}
	if err := ix.rdb.Set(ctx, orderKeyPrefix+id, data, 0).Err(); err != nil {
		return fmt.Errorf("index: update status %s: %w", id, err)
	}
	return nil
}

func (ix *RedisIndex) Cancel(ctx context.Context, id string) error {
	meta, err := ix.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	return ix.UpdateStatus(ctx, id, "cancelled", meta.FillPct)
}
