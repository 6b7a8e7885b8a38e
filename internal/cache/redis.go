package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
)

// RunCache keeps scan-run bookkeeping in Redis: payloads seen per run,
// run summaries, and classifications served by the HTTP API.
type RunCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger

	hits       atomic.Int64
	misses     atomic.Int64
	duplicates atomic.Int64
}

// NewRunCache creates a new Redis-backed run cache
func NewRunCache(cfg config.CacheConfig, logger *zap.Logger) (*RunCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	cache := &RunCache{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Run cache initialized successfully",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return cache, nil
}

// MarkSeen records payloads for runID and reports, per payload, whether it
// was already seen earlier in the run. Repeats within the batch count too.
func (rc *RunCache) MarkSeen(ctx context.Context, runID string, payloads []string) ([]bool, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	pipe := rc.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(payloads))
	for i, payload := range payloads {
		cmds[i] = pipe.SetNX(ctx, rc.seenKey(runID, payload), 1, rc.config.DefaultTTL)
	}

	// Execute pipeline
	if _, err := pipe.Exec(ctx); err != nil {
		rc.logger.Error("Duplicate tracking failed", zap.Error(err))
		return nil, fmt.Errorf("duplicate tracking failed: %w", err)
	}

	seen := make([]bool, len(payloads))
	var dups int64
	for i, cmd := range cmds {
		// SETNX returns false when the key already existed
		seen[i] = !cmd.Val()
		if seen[i] {
			dups++
		}
	}

	if dups > 0 {
		rc.duplicates.Add(dups)
		if err := rc.client.HIncrBy(ctx, rc.runKey(runID), "duplicates", dups).Err(); err != nil {
			rc.logger.Warn("Failed to update run duplicate count", zap.Error(err))
		}
	}

	return seen, nil
}

// SaveRunSummary stores the summary hash of a run
func (rc *RunCache) SaveRunSummary(ctx context.Context, summary *RunSummary) error {
	key := rc.runKey(summary.RunID)

	pipe := rc.client.TxPipeline()
	pipe.HSet(ctx, key, summaryToHash(summary))
	if rc.config.DefaultTTL > 0 {
		pipe.Expire(ctx, key, rc.config.DefaultTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}

	rc.logger.Debug("Run summary saved",
		zap.String("run_id", summary.RunID),
		zap.String("status", summary.Status))

	return nil
}

// GetRunSummary loads a run summary; ok is false when the run is unknown
func (rc *RunCache) GetRunSummary(ctx context.Context, runID string) (*RunSummary, bool, error) {
	fields, err := rc.client.HGetAll(ctx, rc.runKey(runID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to load run summary: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return summaryFromHash(runID, fields), true, nil
}

// GetResult looks up a cached classification of payload
func (rc *RunCache) GetResult(ctx context.Context, payload string) (*CachedResult, bool) {
	key := rc.resultKey(payload)

	data, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Cache miss
		rc.misses.Add(1)
		return nil, false
	} else if err != nil {
		rc.logger.Error("Cache lookup failed", zap.Error(err))
		rc.misses.Add(1)
		return nil, false
	}

	var cached CachedResult
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		rc.logger.Error("Failed to unmarshal cached result", zap.Error(err))
		// Delete corrupted cache entry
		rc.client.Del(ctx, key)
		rc.misses.Add(1)
		return nil, false
	}

	rc.hits.Add(1)
	return &cached, true
}

// StoreResult caches the classification of payload
func (rc *RunCache) StoreResult(ctx context.Context, payload string, result *CachedResult) error {
	result.CachedAt = time.Now()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for caching: %w", err)
	}

	if err := rc.client.Set(ctx, rc.resultKey(payload), data, rc.config.DefaultTTL).Err(); err != nil {
		rc.logger.Error("Failed to cache result", zap.Error(err))
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics
func (rc *RunCache) GetStats(ctx context.Context) (*CacheStats, error) {
	// Get Redis info
	info, err := rc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:       rc.hits.Load(),
		Misses:     rc.misses.Load(),
		Duplicates: rc.duplicates.Load(),
	}

	// Calculate hit rate
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	stats.MemoryUsage = parseUsedMemory(info)

	// Get total keys count
	if keys, err := rc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes every key under the configured prefix
func (rc *RunCache) Clear(ctx context.Context) error {
	pattern := rc.config.KeyPrefix + ":*"

	// Use SCAN to find all keys with our prefix
	iter := rc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := rc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			rc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	rc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (rc *RunCache) Close() error {
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}

func (rc *RunCache) seenKey(runID, payload string) string {
	return fmt.Sprintf("%s:seen:%s:%s", rc.config.KeyPrefix, runID, payloadHash(payload))
}

func (rc *RunCache) runKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", rc.config.KeyPrefix, runID)
}

func (rc *RunCache) resultKey(payload string) string {
	return fmt.Sprintf("%s:result:%s", rc.config.KeyPrefix, payloadHash(payload))
}

// payloadHash computes SHA-256 hash of the given payload
func payloadHash(payload string) string {
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

func summaryToHash(s *RunSummary) map[string]interface{} {
	fields := map[string]interface{}{
		"input":         s.Input,
		"output":        s.Output,
		"status":        s.Status,
		"total_records": s.TotalRecords,
		"pii_records":   s.PIIRecords,
		"clean_records": s.CleanRecords,
		"decode_errors": s.DecodeErrors,
		"duplicates":    s.Duplicates,
		"started_at":    s.StartedAt.UTC().Format(time.RFC3339Nano),
		"error":         s.Error,
	}
	if !s.FinishedAt.IsZero() {
		fields["finished_at"] = s.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func summaryFromHash(runID string, fields map[string]string) *RunSummary {
	s := &RunSummary{
		RunID:  runID,
		Input:  fields["input"],
		Output: fields["output"],
		Status: fields["status"],
		Error:  fields["error"],
	}
	s.TotalRecords, _ = strconv.ParseInt(fields["total_records"], 10, 64)
	s.PIIRecords, _ = strconv.ParseInt(fields["pii_records"], 10, 64)
	s.CleanRecords, _ = strconv.ParseInt(fields["clean_records"], 10, 64)
	s.DecodeErrors, _ = strconv.ParseInt(fields["decode_errors"], 10, 64)
	s.Duplicates, _ = strconv.ParseInt(fields["duplicates"], 10, 64)
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, fields["started_at"])
	s.FinishedAt, _ = time.Parse(time.RFC3339Nano, fields["finished_at"])
	return s
}

// parseUsedMemory extracts used_memory from a Redis INFO reply
func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != line && memStr != "" {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	scheme := strings.Index(userPart, "://")
	colon := strings.LastIndex(userPart, ":")
	if colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
