package intel

import (
	"context"
	"fmt"
	"testing"

	"github.com/aegis-sec/aegis/internal/models"
)

func TestMemoryStore_RecordAndRecall(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.RecordFindings(ctx, []models.Finding{
		{Category: models.CategoryAttackVector, Severity: models.SeverityHigh, Confidence: 0.8, Description: "attack vector detected: prompt_injection"},
		{Category: models.CategorySignatureMatch, Severity: models.SeverityCritical, Confidence: 0.9, Description: "signature match: ransomware_ai_pattern"},
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	patterns, err := s.RecentPatterns(ctx, models.CategoryAttackVector, 10)
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	if patterns[0].Detail != "attack vector detected: prompt_injection" {
		t.Errorf("unexpected pattern: %+v", patterns[0])
	}

	empty, err := s.RecentPatterns(ctx, models.CategoryQuantumSignature, 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected no quantum patterns, got %d (%v)", len(empty), err)
	}
}

func TestMemoryStore_NewestFirstAndCapped(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < maxPatternsPerCategory+50; i++ {
		err := s.RecordFindings(ctx, []models.Finding{{
			Category:    models.CategoryBehavioralAnomaly,
			Severity:    models.SeverityMedium,
			Confidence:  0.6,
			Description: fmt.Sprintf("observation %d", i),
		}})
		if err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	patterns, err := s.RecentPatterns(ctx, models.CategoryBehavioralAnomaly, 0)
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if len(patterns) != maxPatternsPerCategory {
		t.Errorf("expected cap at %d, got %d", maxPatternsPerCategory, len(patterns))
	}
	if patterns[0].Detail != fmt.Sprintf("observation %d", maxPatternsPerCategory+49) {
		t.Errorf("expected newest first, got %q", patterns[0].Detail)
	}
}
