package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maneesh/epubshelf/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCacheTTL is used when the client is created with a non-positive TTL
const DefaultCacheTTL = 5 * time.Minute

// RedisClient wraps Redis operations with tracing
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return newRedisClient(client, ttl), nil
}

func newRedisClient(client *redis.Client, ttl time.Duration) *RedisClient {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisClient{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func bookKey(bookID string) string {
	return fmt.Sprintf("book:%s", bookID)
}

func summariesKey(bookID string, fromIndex, toIndex int) string {
	return fmt.Sprintf("summaries:%s:%d:%d", bookID, fromIndex, toIndex)
}

// getJSON reports a miss as (false, nil)
func (rc *RedisClient) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.get",
		trace.WithAttributes(
			attribute.String("key", key),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		span.SetAttributes(
			attribute.Bool("cache_hit", false),
			attribute.String("cache_status", "miss"),
		)
		return false, nil
	} else if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("cache_hit", true),
		attribute.String("cache_status", "hit"),
	)
	return true, nil
}

func (rc *RedisClient) setJSON(ctx context.Context, key string, value any) error {
	ctx, span := tracer.Start(ctx, "redis.set",
		trace.WithAttributes(
			attribute.String("key", key),
		),
	)
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	if err := rc.client.Set(ctx, key, data, rc.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(attribute.Int64("ttl_seconds", int64(rc.ttl.Seconds())))
	return nil
}

// GetBook returns the cached book or nil on a cache miss
func (rc *RedisClient) GetBook(ctx context.Context, bookID string) (*models.Book, error) {
	var book models.Book
	hit, err := rc.getJSON(ctx, bookKey(bookID), &book)
	if err != nil || !hit {
		return nil, err
	}
	return &book, nil
}

// SetBook caches book metadata
func (rc *RedisClient) SetBook(ctx context.Context, book *models.Book) error {
	return rc.setJSON(ctx, bookKey(book.ID), book)
}

// InvalidateBook removes cached book metadata
func (rc *RedisClient) InvalidateBook(ctx context.Context, bookID string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_book",
		trace.WithAttributes(
			attribute.String("book_id", bookID),
		),
	)
	defer span.End()

	if err := rc.client.Del(ctx, bookKey(bookID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// GetSummaries returns cached summaries for a range; ok is false on a miss
func (rc *RedisClient) GetSummaries(ctx context.Context, bookID string, fromIndex, toIndex int) ([]*models.Summary, bool, error) {
	var summaries []*models.Summary
	hit, err := rc.getJSON(ctx, summariesKey(bookID, fromIndex, toIndex), &summaries)
	return summaries, hit, err
}

// SetSummaries caches summaries for a range
func (rc *RedisClient) SetSummaries(ctx context.Context, bookID string, fromIndex, toIndex int, summaries []*models.Summary) error {
	return rc.setJSON(ctx, summariesKey(bookID, fromIndex, toIndex), summaries)
}
