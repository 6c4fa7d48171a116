package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// Cache keeps hot read paths (tips, language inventories) out of the
// database and provides the dedup set for side-effect jobs.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewCacheWithClient wraps an existing client
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func tipKey(videoID, languageCode, policy string) string {
	return fmt.Sprintf("tip:%s:%s:%s", videoID, languageCode, policy)
}

// SetTip caches the tip version of a language under a policy
func (c *Cache) SetTip(ctx context.Context, policy string, version *models.SubtitleVersion, ttl time.Duration) error {
	data, err := json.Marshal(version)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}

	key := tipKey(version.VideoID, version.LanguageCode, policy)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetTip retrieves a cached tip, or nil on a miss
func (c *Cache) GetTip(ctx context.Context, videoID, languageCode, policy string) (*models.SubtitleVersion, error) {
	data, err := c.client.Get(ctx, tipKey(videoID, languageCode, policy)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tip from cache: %w", err)
	}

	var version models.SubtitleVersion
	if err := json.Unmarshal(data, &version); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version: %w", err)
	}

	return &version, nil
}

// InvalidateLanguage drops the cached tips of a language. Called after
// every append and visibility change.
func (c *Cache) InvalidateLanguage(ctx context.Context, videoID, languageCode string) error {
	return c.client.Del(ctx,
		tipKey(videoID, languageCode, models.PolicyPublic),
		tipKey(videoID, languageCode, models.PolicyAny),
		fmt.Sprintf("languages:%s", videoID),
	).Err()
}

// SetLanguages caches the language codes of a video that have versions
func (c *Cache) SetLanguages(ctx context.Context, videoID string, codes []string, ttl time.Duration) error {
	data, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("failed to marshal language list: %w", err)
	}

	return c.client.Set(ctx, fmt.Sprintf("languages:%s", videoID), data, ttl).Err()
}

// GetLanguages retrieves a cached language list, or nil on a miss
func (c *Cache) GetLanguages(ctx context.Context, videoID string) ([]string, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("languages:%s", videoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get language list from cache: %w", err)
	}

	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal language list: %w", err)
	}

	return codes, nil
}

// ClaimJob marks a job id as submitted for the dedup window. It returns
// false when a concurrent submission already claimed the id.
func (c *Cache) ClaimJob(ctx context.Context, jobID string, window time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, fmt.Sprintf("job:%s", jobID), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim job id: %w", err)
	}
	return ok, nil
}
