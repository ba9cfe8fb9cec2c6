package scan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/aegis-sec/aegis/internal/audit"
	"github.com/aegis-sec/aegis/internal/detectors"
	"github.com/aegis-sec/aegis/internal/intel"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/sandbox"
	"github.com/aegis-sec/aegis/internal/scoring"
	"github.com/aegis-sec/aegis/internal/signatures"
)

var (
	ErrEmptyArtifact    = errors.New("artifact content is empty")
	ErrArtifactTooLarge = errors.New("artifact exceeds maximum size")
	ErrInvalidMode      = errors.New("invalid scan mode")
)

// Responder is the emergency containment hook invoked for scans at or above
// the trigger threshold. Implemented by the response engine.
type Responder interface {
	Respond(ctx context.Context, result *models.ScanResult) *models.EmergencyResponse
}

// ElevatedNotifier receives scans that crossed the elevated threshold
// without triggering containment.
type ElevatedNotifier interface {
	NotifyElevated(ctx context.Context, result *models.ScanResult) error
}

// Config carries the scan policy knobs.
type Config struct {
	MaxArtifactSize         int64
	SignatureMatchThreshold float64
	QuantumEnabled          bool
	TriggerThreshold        float64
	ElevatedLogThreshold    float64
}

// responseGrace bounds the asynchronous containment path once the scan call
// has already returned.
const responseGrace = 60 * time.Second

// Scanner orchestrates one full scan: signature matching, the detector set,
// optional sandbox execution, scoring, synchronous persistence and the
// asynchronous response dispatch. Scan calls are independent and safe to
// run concurrently.
type Scanner struct {
	cfg        Config
	signatures *signatures.Engine
	detectors  []detectors.Detector
	sandbox    *sandbox.Executor
	store      audit.Store
	intel      intel.Store
	responder  Responder
	notifier   ElevatedNotifier
	logger     *slog.Logger

	wg sync.WaitGroup
}

func New(
	cfg Config,
	sigEngine *signatures.Engine,
	sandboxExec *sandbox.Executor,
	store audit.Store,
	intelStore intel.Store,
	responder Responder,
	notifier ElevatedNotifier,
	logger *slog.Logger,
) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SignatureMatchThreshold == 0 {
		cfg.SignatureMatchThreshold = signatures.DefaultMatchThreshold
	}
	return &Scanner{
		cfg:        cfg,
		signatures: sigEngine,
		detectors:  detectors.All(),
		sandbox:    sandboxExec,
		store:      store,
		intel:      intelStore,
		responder:  responder,
		notifier:   notifier,
		logger:     logger,
	}
}

// Close waits for in-flight asynchronous response dispatches to drain.
func (s *Scanner) Close() {
	s.wg.Wait()
}

// Scan runs the full pipeline for one artifact. It returns a completed
// ScanResult in all cases except input validation failures; detector and
// sandbox problems degrade the result instead of failing it. A persistence
// failure is the one internal error escalated to the caller, with the
// computed result still returned and Persisted set to false.
func (s *Scanner) Scan(ctx context.Context, artifact models.Artifact, mode models.ScanMode, requesterID *string) (*models.ScanResult, error) {
	if len(artifact.Content) == 0 {
		return nil, ErrEmptyArtifact
	}
	if s.cfg.MaxArtifactSize > 0 && int64(len(artifact.Content)) > s.cfg.MaxArtifactSize {
		return nil, ErrArtifactTooLarge
	}
	switch mode {
	case models.ScanModeQuick, models.ScanModeComprehensive:
	case "":
		mode = models.ScanModeQuick
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	start := time.Now()
	result := &models.ScanResult{
		ScanID:           newScanID(start),
		Fingerprint:      fingerprint(artifact.Content, start),
		RequesterID:      requesterID,
		Mode:             mode,
		Status:           models.ScanStatusCompleted,
		NeuralHealth:     100,
		QuantumIntegrity: 1.0,
		StartedAt:        start,
	}

	s.logger.Info("scan started",
		"scan_id", result.ScanID,
		"mode", mode,
		"artifact_bytes", len(artifact.Content),
	)

	view := detectors.NewView(artifact)

	var findings []models.Finding
	findings = append(findings, s.matchSignatures(artifact)...)
	findings = append(findings, s.runDetectors(view)...)

	if mode == models.ScanModeComprehensive && s.sandbox != nil {
		run, sandboxFindings := s.sandbox.Analyze(ctx, artifact)
		result.SandboxRun = run
		findings = append(findings, sandboxFindings...)
	}

	orderFindings(findings)
	result.Findings = findings
	result.NeuralHealth = neuralHealth(findings)
	if s.cfg.QuantumEnabled {
		result.QuantumIntegrity = quantumIntegrity(findings)
	}

	// The ensemble estimate only backs comprehensive scans; quick scans
	// score on signature and detector evidence alone.
	var ensemble *scoring.EnsemblePrediction
	if mode == models.ScanModeComprehensive {
		ensemble = scoring.PredictEnsemble(findings, view.Entropy)
	}
	score := scoring.Score(scoring.Input{
		Findings:         findings,
		NeuralHealth:     result.NeuralHealth,
		QuantumIntegrity: result.QuantumIntegrity,
		Ensemble:         ensemble,
	})
	result.ThreatLevel = score.ThreatLevel
	result.ConfidenceScore = score.ConfidenceScore
	result.Recommendations = score.Recommendations
	if result.SandboxRun != nil && result.SandboxRun.Escape.Detected {
		result.Recommendations = append(result.Recommendations,
			scoring.EscapeRecommendation(result.SandboxRun.Escape.Techniques))
	}

	result.ScanDurationMS = time.Since(start).Milliseconds()

	persistErr := s.persist(ctx, result)

	if result.ThreatLevel >= s.cfg.ElevatedLogThreshold {
		s.logger.Warn("elevated threat level",
			"scan_id", result.ScanID,
			"threat_level", result.ThreatLevel,
			"confidence", result.ConfidenceScore,
			"findings", len(result.Findings),
		)
	} else {
		s.logger.Info("scan completed",
			"scan_id", result.ScanID,
			"threat_level", result.ThreatLevel,
			"findings", len(result.Findings),
			"duration_ms", result.ScanDurationMS,
		)
	}

	s.dispatchResponse(result)
	s.recordIntel(result.Findings)

	if persistErr != nil {
		return result, persistErr
	}
	return result, nil
}

// matchSignatures scores the artifact against every active signature; each
// score above threshold becomes a signature_match finding.
func (s *Scanner) matchSignatures(artifact models.Artifact) []models.Finding {
	var findings []models.Finding
	for _, sig := range s.signatures.Snapshot() {
		score := signatures.Match(artifact, sig)
		if score <= s.cfg.SignatureMatchThreshold {
			continue
		}
		findings = append(findings, models.Finding{
			Category:    models.CategorySignatureMatch,
			Severity:    sig.Severity,
			Confidence:  score,
			Description: "signature match: " + sig.Name,
			Mitigation:  sig.Mitigation,
			Evidence: models.JSONB{
				"signature_id":   sig.ID,
				"signature_name": sig.Name,
				"match_score":    score,
			},
		})
	}
	return findings
}

// runDetectors executes the detector set concurrently. A detector error or
// panic is logged and contributes no findings; it never aborts the scan.
// Results are merged in registration order before the canonical category
// sort, so output is independent of goroutine scheduling.
func (s *Scanner) runDetectors(view detectors.View) []models.Finding {
	active := s.detectors
	if !s.cfg.QuantumEnabled {
		filtered := make([]detectors.Detector, 0, len(active))
		for _, d := range active {
			if _, isQuantum := d.(*detectors.QuantumDetector); isQuantum {
				continue
			}
			filtered = append(filtered, d)
		}
		active = filtered
	}

	results := make([][]models.Finding, len(active))
	var wg sync.WaitGroup
	for i, d := range active {
		wg.Add(1)
		go func(i int, d detectors.Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("detector panicked", "detector", d.Name(), "panic", r)
				}
			}()
			found, err := d.Detect(view)
			if err != nil {
				s.logger.Error("detector failed", "detector", d.Name(), "error", err)
				return
			}
			results[i] = found
		}(i, d)
	}
	wg.Wait()

	var findings []models.Finding
	for _, r := range results {
		findings = append(findings, r...)
	}
	return findings
}

func (s *Scanner) persist(ctx context.Context, result *models.ScanResult) error {
	if err := s.store.CreateScanResult(ctx, result); err != nil {
		// The scan call failed its durability contract; the returned record
		// carries the reason alongside the computed analysis.
		result.Persisted = false
		result.Status = models.ScanStatusFailed
		msg := err.Error()
		result.Error = &msg
		s.logger.Error("scan result not persisted", "scan_id", result.ScanID, "error", err)
		var perr *audit.PersistenceError
		if errors.As(err, &perr) {
			return err
		}
		return &audit.PersistenceError{Op: "persisting scan result", Err: err}
	}
	result.Persisted = true

	events := make([]models.ThreatEvent, 0, len(result.Findings))
	for _, f := range result.Findings {
		events = append(events, models.ThreatEvent{
			ScanID:     result.ScanID,
			Category:   f.Category,
			Severity:   f.Severity,
			Confidence: f.Confidence,
			Detail:     f.Description,
			CreatedAt:  result.StartedAt,
		})
	}
	if err := s.store.CreateThreatEvents(ctx, events); err != nil {
		// The scan row is durable; event rows are a denormalized view.
		s.logger.Error("threat events not persisted", "scan_id", result.ScanID, "error", err)
	}
	return nil
}

// dispatchResponse hands high-threat results to the response engine without
// blocking the caller. The containment path correlates by scan id.
func (s *Scanner) dispatchResponse(result *models.ScanResult) {
	if result.ThreatLevel >= s.cfg.TriggerThreshold {
		if s.responder == nil {
			return
		}
		snapshot := *result
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			rctx, cancel := context.WithTimeout(context.Background(), responseGrace)
			defer cancel()
			s.responder.Respond(rctx, &snapshot)
		}()
		return
	}

	if s.notifier != nil && result.ThreatLevel >= s.cfg.ElevatedLogThreshold {
		snapshot := *result
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			nctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.notifier.NotifyElevated(nctx, &snapshot); err != nil {
				s.logger.Error("elevated notification failed", "scan_id", snapshot.ScanID, "error", err)
			}
		}()
	}
}

func (s *Scanner) recordIntel(findings []models.Finding) {
	if s.intel == nil || len(findings) == 0 {
		return
	}
	ictx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.intel.RecordFindings(ictx, findings); err != nil {
		s.logger.Warn("threat intelligence update failed", "error", err)
	}
}

func newScanID(t time.Time) string {
	return fmt.Sprintf("scan_%s_%s", t.UTC().Format("20060102T150405"), uuid.New().String()[:8])
}

// fingerprint binds the artifact bytes to this scan instance. It is a
// reference for audit correlation, not a content-addressable hash; the
// detector view carries the pure content digest.
func fingerprint(content []byte, t time.Time) string {
	h := sha3.New256()
	h.Write(content)
	h.Write([]byte(t.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(uuid.New().String()))
	return hex.EncodeToString(h.Sum(nil))
}

// orderFindings sorts findings into the canonical category order with
// severity and description as tiebreakers. Scans of identical content
// always present findings identically.
func orderFindings(findings []models.Finding) {
	rank := make(map[models.ThreatCategory]int, len(models.CategoryOrder))
	for i, c := range models.CategoryOrder {
		rank[c] = i
	}
	sort.SliceStable(findings, func(i, j int) bool {
		if rank[findings[i].Category] != rank[findings[j].Category] {
			return rank[findings[i].Category] < rank[findings[j].Category]
		}
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}
		return findings[i].Description < findings[j].Description
	})
}

func neuralHealth(findings []models.Finding) int {
	health := 100
	for _, f := range findings {
		health -= detectors.HealthPenalty(f)
	}
	if health < 0 {
		health = 0
	}
	return health
}

func quantumIntegrity(findings []models.Finding) float64 {
	integrity := 1.0
	for _, f := range findings {
		integrity -= detectors.IntegrityPenalty(f)
	}
	if integrity < 0 {
		integrity = 0
	}
	return integrity
}
