package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/aegis-sec/aegis/internal/models"
)

// PostgresStore is the production audit backend.
type PostgresStore struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func NewPostgresStore(cfg Config) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

type scanRow struct {
	ScanID           string         `db:"scan_id"`
	Fingerprint      string         `db:"fingerprint"`
	RequesterID      *string        `db:"requester_id"`
	Mode             string         `db:"mode"`
	Status           string         `db:"status"`
	Findings         []byte         `db:"findings"`
	NeuralHealth     int            `db:"neural_health"`
	QuantumIntegrity float64        `db:"quantum_integrity"`
	ThreatLevel      float64        `db:"threat_level"`
	ConfidenceScore  float64        `db:"confidence_score"`
	Recommendations  []byte         `db:"recommendations"`
	SandboxRun       []byte         `db:"sandbox_run"`
	ScanDurationMS   int64          `db:"scan_duration_ms"`
	Error            sql.NullString `db:"error"`
	StartedAt        time.Time      `db:"started_at"`
}

func (s *PostgresStore) CreateScanResult(ctx context.Context, result *models.ScanResult) error {
	findings, err := json.Marshal(result.Findings)
	if err != nil {
		return &PersistenceError{Op: "encoding findings", Err: err}
	}
	recommendations, err := json.Marshal(result.Recommendations)
	if err != nil {
		return &PersistenceError{Op: "encoding recommendations", Err: err}
	}
	var sandboxRun []byte
	if result.SandboxRun != nil {
		sandboxRun, err = json.Marshal(result.SandboxRun)
		if err != nil {
			return &PersistenceError{Op: "encoding sandbox run", Err: err}
		}
	}

	query := `
		INSERT INTO scans (
			scan_id, fingerprint, requester_id, mode, status, findings,
			neural_health, quantum_integrity, threat_level, confidence_score,
			recommendations, sandbox_run, scan_duration_ms, error, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (scan_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		result.ScanID,
		result.Fingerprint,
		result.RequesterID,
		result.Mode,
		result.Status,
		findings,
		result.NeuralHealth,
		result.QuantumIntegrity,
		result.ThreatLevel,
		result.ConfidenceScore,
		recommendations,
		sandboxRun,
		result.ScanDurationMS,
		result.Error,
		result.StartedAt,
	)
	if err != nil {
		return &PersistenceError{Op: "inserting scan", Err: err}
	}
	return nil
}

func (s *PostgresStore) GetScanResult(ctx context.Context, scanID string) (*models.ScanResult, error) {
	var row scanRow
	query := `SELECT * FROM scans WHERE scan_id = $1`
	err := s.db.GetContext(ctx, &row, query, scanID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading scan: %w", err)
	}
	return row.toResult()
}

func (r scanRow) toResult() (*models.ScanResult, error) {
	result := &models.ScanResult{
		ScanID:           r.ScanID,
		Fingerprint:      r.Fingerprint,
		RequesterID:      r.RequesterID,
		Mode:             models.ScanMode(r.Mode),
		Status:           models.ScanStatus(r.Status),
		NeuralHealth:     r.NeuralHealth,
		QuantumIntegrity: r.QuantumIntegrity,
		ThreatLevel:      r.ThreatLevel,
		ConfidenceScore:  r.ConfidenceScore,
		ScanDurationMS:   r.ScanDurationMS,
		Persisted:        true,
		StartedAt:        r.StartedAt,
	}
	if r.Error.Valid {
		result.Error = &r.Error.String
	}
	if len(r.Findings) > 0 {
		if err := json.Unmarshal(r.Findings, &result.Findings); err != nil {
			return nil, fmt.Errorf("decoding findings: %w", err)
		}
	}
	if len(r.Recommendations) > 0 {
		if err := json.Unmarshal(r.Recommendations, &result.Recommendations); err != nil {
			return nil, fmt.Errorf("decoding recommendations: %w", err)
		}
	}
	if len(r.SandboxRun) > 0 {
		var run models.SandboxRun
		if err := json.Unmarshal(r.SandboxRun, &run); err != nil {
			return nil, fmt.Errorf("decoding sandbox run: %w", err)
		}
		result.SandboxRun = &run
	}
	return result, nil
}

func (s *PostgresStore) ListRecentScans(ctx context.Context, limit int) ([]models.ScanSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `
		SELECT scan_id, fingerprint, mode, status, threat_level, confidence_score,
		       COALESCE(jsonb_array_length(findings), 0) AS finding_count, started_at
		FROM scans
		ORDER BY started_at DESC
		LIMIT $1
	`
	var summaries []models.ScanSummary
	err := s.db.SelectContext(ctx, &summaries, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	return summaries, nil
}

func (s *PostgresStore) Stats(ctx context.Context, days int) (*models.ScanStats, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	stats := &models.ScanStats{Period: fmt.Sprintf("%d_days", days)}

	scanQuery := `
		SELECT COUNT(*) AS total_scans,
		       COUNT(*) FILTER (WHERE status = 'completed') AS completed_scans,
		       COUNT(*) FILTER (WHERE status = 'failed') AS failed_scans,
		       COALESCE(AVG(threat_level), 0) AS avg_threat_level,
		       COALESCE(AVG(confidence_score), 0) AS avg_confidence
		FROM scans WHERE started_at > $1
	`
	if err := s.db.GetContext(ctx, stats, scanQuery, cutoff); err != nil {
		return nil, fmt.Errorf("aggregating scans: %w", err)
	}

	eventQuery := `
		SELECT COUNT(*) FILTER (WHERE severity = 'CRITICAL') AS critical_findings,
		       COUNT(*) FILTER (WHERE severity = 'HIGH') AS high_findings
		FROM threat_events WHERE created_at > $1
	`
	var events struct {
		CriticalFindings int `db:"critical_findings"`
		HighFindings     int `db:"high_findings"`
	}
	if err := s.db.GetContext(ctx, &events, eventQuery, cutoff); err != nil {
		return nil, fmt.Errorf("aggregating events: %w", err)
	}
	stats.CriticalFindings = events.CriticalFindings
	stats.HighFindings = events.HighFindings

	respQuery := `SELECT COUNT(*) FROM emergency_responses WHERE created_at > $1`
	if err := s.db.GetContext(ctx, &stats.ResponsesTriggered, respQuery, cutoff); err != nil {
		return nil, fmt.Errorf("counting responses: %w", err)
	}

	return stats, nil
}

func (s *PostgresStore) CreateThreatEvents(ctx context.Context, events []models.ThreatEvent) error {
	if len(events) == 0 {
		return nil
	}
	query := `
		INSERT INTO threat_events (event_id, scan_id, category, severity, confidence, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "opening event transaction", Err: err}
	}
	defer tx.Rollback()

	for i := range events {
		e := &events[i]
		if e.EventID == "" {
			e.EventID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, query,
			e.EventID, e.ScanID, e.Category, e.Severity, e.Confidence, e.Detail, e.CreatedAt,
		); err != nil {
			return &PersistenceError{Op: "inserting threat event", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "committing threat events", Err: err}
	}
	return nil
}

func (s *PostgresStore) CreateEmergencyResponse(ctx context.Context, resp *models.EmergencyResponse) error {
	if resp.ResponseID == "" {
		resp.ResponseID = uuid.New().String()
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO emergency_responses (
			response_id, scan_id, threat_level, classification, final_state,
			actions, block_rules, succeeded, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		resp.ResponseID,
		resp.ScanID,
		resp.ThreatLevel,
		resp.Classification,
		resp.FinalState,
		resp.Actions,
		resp.BlockRules,
		resp.Succeeded,
		resp.CreatedAt,
		resp.CompletedAt,
	)
	if err != nil {
		return &PersistenceError{Op: "inserting emergency response", Err: err}
	}
	return nil
}

func (s *PostgresStore) ListEmergencyResponses(ctx context.Context, limit int) ([]models.EmergencyResponse, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT * FROM emergency_responses ORDER BY created_at DESC LIMIT $1`
	var responses []models.EmergencyResponse
	err := s.db.SelectContext(ctx, &responses, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing responses: %w", err)
	}
	return responses, nil
}

func (s *PostgresStore) GetEmergencyResponse(ctx context.Context, responseID string) (*models.EmergencyResponse, error) {
	var resp models.EmergencyResponse
	query := `SELECT * FROM emergency_responses WHERE response_id = $1`
	err := s.db.GetContext(ctx, &resp, query, responseID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &resp, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("opening cleanup transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM threat_events WHERE created_at < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("deleting threat events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM emergency_responses WHERE created_at < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("deleting responses: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting scans: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing cleanup: %w", err)
	}
	return deleted, nil
}
