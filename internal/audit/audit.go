package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/aegis-sec/aegis/internal/models"
)

// Store persists scan results, per-finding threat events and emergency
// response records, and serves the history and statistics read paths.
type Store interface {
	CreateScanResult(ctx context.Context, result *models.ScanResult) error
	GetScanResult(ctx context.Context, scanID string) (*models.ScanResult, error)
	ListRecentScans(ctx context.Context, limit int) ([]models.ScanSummary, error)
	Stats(ctx context.Context, days int) (*models.ScanStats, error)

	CreateThreatEvents(ctx context.Context, events []models.ThreatEvent) error

	CreateEmergencyResponse(ctx context.Context, resp *models.EmergencyResponse) error
	ListEmergencyResponses(ctx context.Context, limit int) ([]models.EmergencyResponse, error)
	GetEmergencyResponse(ctx context.Context, responseID string) (*models.EmergencyResponse, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PersistenceError marks a failure to write the audit record for a scan.
// The orchestrator escalates it: a scan whose result could not be persisted
// is reported failed even when detection itself succeeded.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
