package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaconv/database"
	"mediaconv/models"
)

const progressKeyPrefix = "job:progress:"

// ProgressCache is the fast, best-effort view of in-flight conversions.
// The durable store remains the source of truth: every read path has to
// tolerate this cache being empty or down.
type ProgressCache struct {
	cache *database.Cache
	ttl   time.Duration
}

func NewProgressCache(cache *database.Cache, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ProgressCache{cache: cache, ttl: ttl}
}

func progressKey(jobID string) string {
	return progressKeyPrefix + jobID
}

// Get returns the cached record, or (nil, nil) when the key is absent.
func (pc *ProgressCache) Get(ctx context.Context, jobID string) (*models.ProgressRecord, error) {
	data, err := pc.cache.Get(ctx, progressKey(jobID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get progress %s: %w", jobID, err)
	}

	var rec models.ProgressRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", jobID, err)
	}
	return &rec, nil
}

// Set writes the record and refreshes the TTL, so progress keys cannot
// lapse under a job that is still reporting.
func (pc *ProgressCache) Set(ctx context.Context, rec *models.ProgressRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", rec.JobID, err)
	}
	if err := pc.cache.Set(ctx, progressKey(rec.JobID), data, pc.ttl); err != nil {
		return fmt.Errorf("set progress %s: %w", rec.JobID, err)
	}
	return nil
}

func (pc *ProgressCache) Delete(ctx context.Context, jobID string) error {
	return pc.cache.Del(ctx, progressKey(jobID))
}
