package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wevoice/wesub-sub003/internal/config"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// releaseScript deletes the lock only when the caller's session still
// holds it.
var releaseScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == false then
		return 0
	end
	if cjson.decode(current)["session_key"] == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Service grants short-lived exclusive edit locks on (video, language)
// pairs. Redis key expiry is the staleness rule: an expired lock is
// simply gone, so acquisition over a stale lock needs no eviction step.
type Service struct {
	client *redis.Client
	ttl    time.Duration
}

// NewService creates a lock service backed by Redis
func NewService(cfg config.RedisConfig, ttl time.Duration) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Service{client: client, ttl: ttl}, nil
}

// NewServiceWithClient creates a lock service over an existing client
func NewServiceWithClient(client *redis.Client, ttl time.Duration) *Service {
	return &Service{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (s *Service) Close() error {
	return s.client.Close()
}

func lockKey(videoID, languageCode string) string {
	return fmt.Sprintf("writelock:%s:%s", videoID, languageCode)
}

// Acquire takes the lock for the session. It succeeds when the pair is
// unlocked, when the same session already holds the lock (the TTL is
// refreshed), or when the previous lock expired. Otherwise it fails with
// models.ErrWritelockHeld.
func (s *Service) Acquire(ctx context.Context, videoID, languageCode, ownerUser, sessionKey string) error {
	key := lockKey(videoID, languageCode)

	lock := models.WriteLock{
		VideoID:      videoID,
		LanguageCode: languageCode,
		OwnerUser:    ownerUser,
		SessionKey:   sessionKey,
		AcquiredAt:   time.Now(),
	}
	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if ok {
		return nil
	}

	holder, err := s.Holder(ctx, videoID, languageCode)
	if err != nil {
		return err
	}
	if holder == nil {
		// Expired between SetNX and GET; try once more.
		ok, err := s.client.SetNX(ctx, key, data, s.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return nil
		}
		return models.ErrWritelockHeld
	}

	if holder.SessionKey == sessionKey {
		// Same session re-acquires and refreshes the TTL.
		if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to refresh lock: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%w: user %s", models.ErrWritelockHeld, holder.OwnerUser)
}

// Release drops the lock if the session still holds it. Releasing a lock
// held by another session is a no-op.
func (s *Service) Release(ctx context.Context, videoID, languageCode, sessionKey string) error {
	key := lockKey(videoID, languageCode)

	if err := releaseScript.Run(ctx, s.client, []string{key}, sessionKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Holder returns the active lock, or nil when the pair is unlocked.
func (s *Service) Holder(ctx context.Context, videoID, languageCode string) (*models.WriteLock, error) {
	data, err := s.client.Get(ctx, lockKey(videoID, languageCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}

	var lock models.WriteLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	return &lock, nil
}

// IsLocked reports whether a session other than excludeSession holds the
// lock.
func (s *Service) IsLocked(ctx context.Context, videoID, languageCode, excludeSession string) (bool, error) {
	holder, err := s.Holder(ctx, videoID, languageCode)
	if err != nil {
		return false, err
	}
	if holder == nil {
		return false, nil
	}
	return holder.SessionKey != excludeSession, nil
}
