package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/coop-portal-api/internal/models"
)

// RoundCache is a redis read-through cache for round calendars. A cycle's
// calendar changes rarely but is consulted on every stage resolution.
type RoundCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRoundCache builds the cache wrapper.
func NewRoundCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RoundCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoundCache{client: client, ttl: ttl, logger: logger}
}

// GetRounds returns the cached calendar for a cycle, if present.
func (c *RoundCache) GetRounds(ctx context.Context, cycleID string) ([]models.Round, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.key(cycleID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("round cache read failed", zap.String("cycle_id", cycleID), zap.Error(err))
		}
		return nil, false
	}
	var rounds []models.Round
	if err := json.Unmarshal(raw, &rounds); err != nil {
		c.logger.Warn("round cache decode failed", zap.String("cycle_id", cycleID), zap.Error(err))
		return nil, false
	}
	return rounds, true
}

// SetRounds stores the calendar for a cycle. Failures are logged, never fatal.
func (c *RoundCache) SetRounds(ctx context.Context, cycleID string, rounds []models.Round) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(rounds)
	if err != nil {
		c.logger.Warn("round cache encode failed", zap.String("cycle_id", cycleID), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(cycleID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("round cache write failed", zap.String("cycle_id", cycleID), zap.Error(err))
	}
}

// Invalidate drops the cached calendar for a cycle.
func (c *RoundCache) Invalidate(ctx context.Context, cycleID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(cycleID)).Err(); err != nil {
		c.logger.Warn("round cache invalidate failed", zap.String("cycle_id", cycleID), zap.Error(err))
	}
}

func (c *RoundCache) key(cycleID string) string {
	return fmt.Sprintf("coop:rounds:%s", cycleID)
}
