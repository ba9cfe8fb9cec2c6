package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/models"
)

// MemoryStore is the embedded audit backend for the one-shot CLI and tests.
// Same exactly-once insert semantics as PostgresStore.
type MemoryStore struct {
	mu        sync.Mutex
	scans     map[string]models.ScanResult
	events    []models.ThreatEvent
	responses []models.EmergencyResponse
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scans: make(map[string]models.ScanResult)}
}

func (s *MemoryStore) CreateScanResult(ctx context.Context, result *models.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scans[result.ScanID]; exists {
		return nil
	}
	stored := *result
	stored.Persisted = true
	s.scans[result.ScanID] = stored
	return nil
}

func (s *MemoryStore) GetScanResult(ctx context.Context, scanID string) (*models.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.scans[scanID]
	if !ok {
		return nil, nil
	}
	return &result, nil
}

func (s *MemoryStore) ListRecentScans(ctx context.Context, limit int) ([]models.ScanSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]models.ScanSummary, 0, len(s.scans))
	for _, r := range s.scans {
		summaries = append(summaries, models.ScanSummary{
			ScanID:          r.ScanID,
			Fingerprint:     r.Fingerprint,
			Mode:            r.Mode,
			Status:          r.Status,
			ThreatLevel:     r.ThreatLevel,
			ConfidenceScore: r.ConfidenceScore,
			FindingCount:    len(r.Findings),
			StartedAt:       r.StartedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	if limit > 0 && limit < len(summaries) {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (s *MemoryStore) Stats(ctx context.Context, days int) (*models.ScanStats, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &models.ScanStats{Period: periodLabel(days)}
	var threatSum, confSum float64
	for _, r := range s.scans {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		stats.TotalScans++
		if r.Status == models.ScanStatusCompleted {
			stats.CompletedScans++
		} else {
			stats.FailedScans++
		}
		threatSum += r.ThreatLevel
		confSum += r.ConfidenceScore
		for _, f := range r.Findings {
			switch f.Severity {
			case models.SeverityCritical:
				stats.CriticalFindings++
			case models.SeverityHigh:
				stats.HighFindings++
			}
		}
	}
	if stats.TotalScans > 0 {
		stats.AvgThreatLevel = threatSum / float64(stats.TotalScans)
		stats.AvgConfidence = confSum / float64(stats.TotalScans)
	}
	for _, r := range s.responses {
		if r.CreatedAt.After(cutoff) {
			stats.ResponsesTriggered++
		}
	}
	return stats, nil
}

func (s *MemoryStore) CreateThreatEvents(ctx context.Context, events []models.ThreatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range events {
		if events[i].EventID == "" {
			events[i].EventID = uuid.New().String()
		}
		if events[i].CreatedAt.IsZero() {
			events[i].CreatedAt = time.Now()
		}
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryStore) CreateEmergencyResponse(ctx context.Context, resp *models.EmergencyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resp.ResponseID == "" {
		resp.ResponseID = uuid.New().String()
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	s.responses = append(s.responses, *resp)
	return nil
}

func (s *MemoryStore) ListEmergencyResponses(ctx context.Context, limit int) ([]models.EmergencyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EmergencyResponse, len(s.responses))
	copy(out, s.responses)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetEmergencyResponse(ctx context.Context, responseID string) (*models.EmergencyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.ResponseID == responseID {
			resp := r
			return &resp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, r := range s.scans {
		if r.StartedAt.Before(cutoff) {
			delete(s.scans, id)
			deleted++
		}
	}
	kept := s.events[:0]
	for _, e := range s.events {
		if !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	s.events = kept

	keptResp := s.responses[:0]
	for _, r := range s.responses {
		if !r.CreatedAt.Before(cutoff) {
			keptResp = append(keptResp, r)
		}
	}
	s.responses = keptResp

	return deleted, nil
}

func periodLabel(days int) string {
	switch days {
	case 7:
		return "7_days"
	case 30:
		return "30_days"
	case 90:
		return "90_days"
	default:
		return "custom"
	}
}
