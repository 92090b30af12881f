package utils

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Perceptus-Labs/label-reader/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type LabelAnalyzer interface {
	Analyze(ctx context.Context, images [][]byte, lang models.Language) (models.StructuredResult, error)
}

// AnalysisCache remembers recent analyses of identical frames so a repeated
// scan of an unchanged view answers without another model call. Redis
// failures fall through to the wrapped analyzer.
type AnalysisCache struct {
	client *redis.Client
	next   LabelAnalyzer
	ttl    time.Duration
	logger *zap.Logger
}

func NewAnalysisCache(client *redis.Client, next LabelAnalyzer, ttl time.Duration, logger *zap.Logger) *AnalysisCache {
	if logger == nil {
		logger = zap.L()
	}
	return &AnalysisCache{client: client, next: next, ttl: ttl, logger: logger}
}

// CacheKey is the Redis key for a set of frames analysed in lang.
func CacheKey(images [][]byte, lang models.Language) string {
	h := sha256.New()
	h.Write([]byte(lang))
	for _, img := range images {
		var size [8]byte
		binary.LittleEndian.PutUint64(size[:], uint64(len(img)))
		h.Write(size[:])
		h.Write(img)
	}
	return "label-reader:analysis:" + hex.EncodeToString(h.Sum(nil))
}

func (c *AnalysisCache) Analyze(ctx context.Context, images [][]byte, lang models.Language) (models.StructuredResult, error) {
	key := CacheKey(images, lang)

	if result, ok := c.get(ctx, key); ok {
		c.logger.Debug("Analysis cache hit", zap.String("key", key))
		return result, nil
	}

	result, err := c.next.Analyze(ctx, images, lang)
	if err != nil {
		return result, err
	}

	if err := c.set(ctx, key, result); err != nil {
		c.logger.Warn("Failed to cache analysis", zap.Error(err))
	}
	return result, nil
}

func (c *AnalysisCache) get(ctx context.Context, key string) (models.StructuredResult, bool) {
	var result models.StructuredResult
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return result, false
	}
	if err != nil {
		c.logger.Warn("Failed to read analysis cache", zap.Error(err))
		return result, false
	}
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		c.logger.Warn("Discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		return result, false
	}
	return result, true
}

func (c *AnalysisCache) set(ctx context.Context, key string, result models.StructuredResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	if err := c.client.Set(ctx, key, string(data), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write analysis cache: %w", err)
	}
	return nil
}
