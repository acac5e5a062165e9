// Package cache provides a Redis read-through cache for listing reads.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vantagedata/datamarket/pkg/models"
)

const keyPrefix = "datamarket:listing:"

// ListingCache caches listing rows in Redis. Every method degrades to a miss
// on Redis errors; the cache never gates correctness.
type ListingCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewListingCache creates a listing cache with the given entry TTL.
func NewListingCache(client *redis.Client, logger *zap.Logger, ttl time.Duration) *ListingCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ListingCache{client: client, logger: logger, ttl: ttl}
}

// GetListing returns a cached listing if present.
func (c *ListingCache) GetListing(ctx context.Context, id int64) (*models.Listing, bool) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("listing cache read failed", zap.Int64("id", id), zap.Error(err))
		}
		return nil, false
	}
	var listing models.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		c.logger.Warn("listing cache entry corrupt", zap.Int64("id", id), zap.Error(err))
		return nil, false
	}
	return &listing, true
}

// SetListing stores a listing row.
func (c *ListingCache) SetListing(ctx context.Context, l *models.Listing) {
	data, err := json.Marshal(l)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(l.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("listing cache write failed", zap.Int64("id", l.ID), zap.Error(err))
	}
}

// Invalidate drops a listing entry after a mutation commits.
func (c *ListingCache) Invalidate(ctx context.Context, id int64) {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		c.logger.Warn("listing cache invalidation failed", zap.Int64("id", id), zap.Error(err))
	}
}

func key(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}
