package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/port"
)

// statsTTL bounds how long cached band statistics may outlive the file they
// were computed from.
const statsTTL = 15 * time.Minute

type statsCache struct {
	client redis.UniversalClient
	next   port.StatsProvider
	log    *zap.Logger
}

// NewStatsCache wraps a statistics provider with a Redis cache. Band
// statistics drive formula expansion, so repeated batches over the same
// inputs skip rescanning whole bands. Cache trouble degrades to the wrapped
// provider, it never fails a lookup.
func NewStatsCache(client redis.UniversalClient, next port.StatsProvider, log *zap.Logger) port.StatsProvider {
	return &statsCache{
		client: client,
		next:   next,
		log:    log,
	}
}

func (c *statsCache) BandStatistics(ctx context.Context, path string, band int) (domain.BandStats, error) {
	key := fmt.Sprintf("bandstats:%s:%d", path, band)

	val, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var stats domain.BandStats
		if err := json.Unmarshal([]byte(val), &stats); err == nil {
			return stats, nil
		}
		// Unreadable entry, recompute and overwrite it
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("Band statistics cache read failed", zap.String("key", key), zap.Error(err))
	}

	stats, err := c.next.BandStatistics(ctx, path, band)
	if err != nil {
		return domain.BandStats{}, err
	}

	if data, err := json.Marshal(stats); err == nil {
		if err := c.client.Set(ctx, key, data, statsTTL).Err(); err != nil {
			c.log.Warn("Band statistics cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return stats, nil
}
