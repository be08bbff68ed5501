// Package redis — кэш готовой поисковой выдачи.
// Кэш необязателен: любые ошибки Redis трактуются как промах и логируются,
// поиск при этом выполняется заново.
package redis

import (
	"context"
	"encoding/json"

	"github.com/jimlawless/whereami"
	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/pkg/clients"
	"github.com/kaatchi-tech/search-engine/pkg/e"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
	r "github.com/redis/go-redis/v9"
)

type CacheRepo struct {
	client *clients.RedisClient
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewCacheRepo(client *clients.RedisClient, cfg *cfg.RedisCfg, logger logger.Logger) *CacheRepo {
	return &CacheRepo{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Get возвращает закэшированную выдачу по отпечатку запроса.
func (c *CacheRepo) Get(ctx context.Context, key string) ([]domain.SearchResult, bool) {
	data, err := c.client.Client.Get(ctx, key).Bytes()
	if err != nil {
		if err != r.Nil {
			c.logger.Warnf("Redis GET failed: %v", e.Wrap(whereami.WhereAmI(), err))
		}
		return nil, false
	}

	var results []domain.SearchResult
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Warnf("Redis unmarshal failed: %v", e.Wrap(whereami.WhereAmI(), err))
		if delErr := c.client.Client.Del(context.Background(), key).Err(); delErr != nil {
			c.logger.Warnf("Redis DEL failed: %v", e.Wrap(whereami.WhereAmI(), delErr))
		}
		return nil, false
	}

	return results, true
}

// Set кэширует выдачу с настроенным TTL. Ошибки записи только логируются.
func (c *CacheRepo) Set(ctx context.Context, key string, results []domain.SearchResult) {
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Warnf("Failed to marshal results for caching: %v", e.Wrap(whereami.WhereAmI(), err))
		return
	}

	if err := c.client.Client.Set(ctx, key, data, c.cfg.ResultTTL).Err(); err != nil {
		c.logger.Warnf("Redis SET failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}
}
