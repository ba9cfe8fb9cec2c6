package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegis-sec/aegis/internal/models"
)

const (
	patternKeyPrefix = "aegis:intel:patterns:"

	// maxPatternsPerCategory caps the retained sliding window per category.
	maxPatternsPerCategory = 200
)

// Pattern is one aggregated observation fed back from completed scans. The
// signature refresh path reads recent patterns to propose new signatures.
type Pattern struct {
	Category   models.ThreatCategory `json:"category"`
	Severity   models.Severity       `json:"severity"`
	Confidence float64               `json:"confidence"`
	Detail     string                `json:"detail"`
	ObservedAt time.Time             `json:"observed_at"`
}

// Store is the threat-intelligence aggregate. Scans record their findings
// into it; the signature layer reads recent patterns back out. Lifecycle is
// owned by whoever constructs the scanner, never by package state.
type Store interface {
	RecordFindings(ctx context.Context, findings []models.Finding) error
	RecentPatterns(ctx context.Context, category models.ThreatCategory, limit int) ([]Pattern, error)
}

// RedisStore keeps per-category capped lists of recent patterns in Redis so
// intelligence survives restarts and is shared across instances.
type RedisStore struct {
	client *redis.Client
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) RecordFindings(ctx context.Context, findings []models.Finding) error {
	now := time.Now()
	pipe := s.client.Pipeline()
	for _, f := range findings {
		p := Pattern{
			Category:   f.Category,
			Severity:   f.Severity,
			Confidence: f.Confidence,
			Detail:     f.Description,
			ObservedAt: now,
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling pattern: %w", err)
		}
		key := patternKeyPrefix + string(f.Category)
		pipe.LPush(ctx, key, string(data))
		pipe.LTrim(ctx, key, 0, maxPatternsPerCategory-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording patterns: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentPatterns(ctx context.Context, category models.ThreatCategory, limit int) ([]Pattern, error) {
	if limit <= 0 || limit > maxPatternsPerCategory {
		limit = maxPatternsPerCategory
	}
	key := patternKeyPrefix + string(category)
	rows, err := s.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading patterns: %w", err)
	}

	patterns := make([]Pattern, 0, len(rows))
	for _, row := range rows {
		var p Pattern
		if err := json.Unmarshal([]byte(row), &p); err != nil {
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// MemoryStore is the in-process fallback used when Redis is not configured
// and in tests. Same capped-window semantics as RedisStore.
type MemoryStore struct {
	mu       sync.Mutex
	patterns map[models.ThreatCategory][]Pattern
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patterns: make(map[models.ThreatCategory][]Pattern)}
}

func (s *MemoryStore) RecordFindings(ctx context.Context, findings []models.Finding) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range findings {
		list := append([]Pattern{{
			Category:   f.Category,
			Severity:   f.Severity,
			Confidence: f.Confidence,
			Detail:     f.Description,
			ObservedAt: now,
		}}, s.patterns[f.Category]...)
		if len(list) > maxPatternsPerCategory {
			list = list[:maxPatternsPerCategory]
		}
		s.patterns[f.Category] = list
	}
	return nil
}

func (s *MemoryStore) RecentPatterns(ctx context.Context, category models.ThreatCategory, limit int) ([]Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.patterns[category]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Pattern, limit)
	copy(out, list[:limit])
	return out, nil
}
