package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps computed analytics responses in Redis so repeated reads skip
// the statistics pipeline. A nil Cache is valid: every read misses and
// every write is dropped, so tests and trimmed deployments need no Redis.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(redisClient *redis.Client, ttl time.Duration) *Cache {
	return &Cache{redis: redisClient, ttl: ttl}
}

func routeKey(routeID string) string {
	return fmt.Sprintf("analytics:route:%s", routeID)
}

func bookingsKey(days int) string {
	return fmt.Sprintf("analytics:bookings:%d", days)
}

// GetRouteAnalytics returns the cached response for a route, or nil on a
// miss.
func (c *Cache) GetRouteAnalytics(ctx context.Context, routeID string) (*RouteAnalytics, error) {
	if c == nil || c.redis == nil {
		return nil, nil
	}

	data, err := c.redis.Get(ctx, routeKey(routeID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read analytics from Redis: %w", err)
	}

	var analytics RouteAnalytics
	if err := json.Unmarshal([]byte(data), &analytics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached analytics: %w", err)
	}

	return &analytics, nil
}

// SetRouteAnalytics stores a computed response under the route's key.
func (c *Cache) SetRouteAnalytics(ctx context.Context, analytics *RouteAnalytics) error {
	if c == nil || c.redis == nil {
		return nil
	}

	data, err := json.Marshal(analytics)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics: %w", err)
	}

	if err := c.redis.Set(ctx, routeKey(analytics.RouteID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write analytics to Redis: %w", err)
	}

	return nil
}

// InvalidateRoute drops the cached response for a route. Rollup runs call
// this so the next read reflects the new week boundary.
func (c *Cache) InvalidateRoute(ctx context.Context, routeID string) error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, routeKey(routeID)).Err()
}

// GetBookingFrequency returns the cached booking response for a window
// length, or nil on a miss.
func (c *Cache) GetBookingFrequency(ctx context.Context, days int) (*BookingFrequency, error) {
	if c == nil || c.redis == nil {
		return nil, nil
	}

	data, err := c.redis.Get(ctx, bookingsKey(days)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bookings from Redis: %w", err)
	}

	var freq BookingFrequency
	if err := json.Unmarshal([]byte(data), &freq); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached bookings: %w", err)
	}

	return &freq, nil
}

// SetBookingFrequency stores a booking response under its window length.
func (c *Cache) SetBookingFrequency(ctx context.Context, days int, freq *BookingFrequency) error {
	if c == nil || c.redis == nil {
		return nil
	}

	data, err := json.Marshal(freq)
	if err != nil {
		return fmt.Errorf("failed to marshal bookings: %w", err)
	}

	if err := c.redis.Set(ctx, bookingsKey(days), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write bookings to Redis: %w", err)
	}

	return nil
}
