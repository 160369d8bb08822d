// Package cache 用 Redis 缓存任务汇总（cache-aside），由熔断器保护。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"todo-backend/internal/model"
	"todo-backend/pkg/circuitbreaker"
	"todo-backend/pkg/metrics"
)

const (
	DefaultSummaryKey = "todo:summary"
	DefaultSummaryTTL = 30 * time.Second
)

type SummaryCache struct {
	client  *redis.Client
	key     string
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewSummaryCache ttl 非正数时使用 DefaultSummaryTTL
func NewSummaryCache(client *redis.Client, ttl time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *SummaryCache {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	return &SummaryCache{
		client:  client,
		key:     DefaultSummaryKey,
		ttl:     ttl,
		breaker: breaker,
		logger:  logger,
	}
}

// Get 未命中返回 ok=false 且 err=nil
func (c *SummaryCache) Get(ctx context.Context) (model.Summary, bool, error) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.client.Get(ctx, c.key).Bytes()
		if errors.Is(err, redis.Nil) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		metrics.IncrementSummaryCache("error")
		return model.Summary{}, false, fmt.Errorf("summary cache get: %w", err)
	}
	if data == nil {
		metrics.IncrementSummaryCache("miss")
		return model.Summary{}, false, nil
	}

	var s model.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		metrics.IncrementSummaryCache("error")
		c.logger.Warn("Corrupt summary cache entry, dropping", zap.Error(err))
		_ = c.Invalidate(ctx)
		return model.Summary{}, false, nil
	}
	metrics.IncrementSummaryCache("hit")
	return s, true, nil
}

func (c *SummaryCache) Set(ctx context.Context, s model.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("summary cache encode: %w", err)
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, c.key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("summary cache set: %w", err)
	}
	return nil
}

// Invalidate 写操作后删除缓存
func (c *SummaryCache) Invalidate(ctx context.Context) error {
	err := c.breaker.Execute(func() error {
		return c.client.Del(ctx, c.key).Err()
	})
	if err != nil {
		return fmt.Errorf("summary cache invalidate: %w", err)
	}
	return nil
}
