package scan

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aegis-sec/aegis/internal/audit"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/intel"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/sandbox"
	"github.com/aegis-sec/aegis/internal/signatures"
)

type builtinStore struct{}

func (builtinStore) GetSignature(ctx context.Context, id string) (*models.SignatureRecord, error) {
	return nil, nil
}

func (builtinStore) ListSignatures(ctx context.Context, activeOnly bool) ([]models.SignatureRecord, error) {
	return nil, nil
}

func (builtinStore) CreateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	return errors.New("read only")
}

func (builtinStore) UpdateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	return errors.New("read only")
}

func (builtinStore) DeleteSignature(ctx context.Context, id string) error {
	return errors.New("read only")
}

type recordingResponder struct {
	mu      sync.Mutex
	results []*models.ScanResult
}

func (r *recordingResponder) Respond(ctx context.Context, result *models.ScanResult) *models.EmergencyResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return &models.EmergencyResponse{ScanID: result.ScanID}
}

func (r *recordingResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func newTestScanner(t *testing.T, store audit.Store, responder Responder) *Scanner {
	t.Helper()

	sigEngine := signatures.NewEngine(builtinStore{}, slog.Default())
	sigEngine.Load(context.Background())

	exec := sandbox.NewExecutor(sandbox.NewLocalRuntime(), config.SandboxConfig{
		Timeout: 200 * time.Millisecond,
		Image:   "aegis-sandbox:test",
		Limits:  models.ResourceLimits{MemoryMB: 128, NetworkIsolated: true},
	}, slog.Default())

	return New(
		Config{
			MaxArtifactSize:      1 << 20,
			QuantumEnabled:       true,
			TriggerThreshold:     8.0,
			ElevatedLogThreshold: 7.0,
		},
		sigEngine,
		exec,
		store,
		intel.NewMemoryStore(),
		responder,
		nil,
		slog.Default(),
	)
}

func TestScan_InputValidation(t *testing.T) {
	s := newTestScanner(t, audit.NewMemoryStore(), nil)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Scan(ctx, models.Artifact{}, models.ScanModeQuick, nil); !errors.Is(err, ErrEmptyArtifact) {
		t.Errorf("expected ErrEmptyArtifact, got %v", err)
	}

	big := models.Artifact{Content: make([]byte, 2<<20)}
	if _, err := s.Scan(ctx, big, models.ScanModeQuick, nil); !errors.Is(err, ErrArtifactTooLarge) {
		t.Errorf("expected ErrArtifactTooLarge, got %v", err)
	}

	ok := models.Artifact{Content: []byte("fine")}
	if _, err := s.Scan(ctx, ok, "forensic", nil); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}

	// Empty mode defaults to quick.
	result, err := s.Scan(ctx, ok, "", nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.Mode != models.ScanModeQuick {
		t.Errorf("expected quick mode default, got %s", result.Mode)
	}
}

func TestScan_CleanArtifact(t *testing.T) {
	store := audit.NewMemoryStore()
	responder := &recordingResponder{}
	s := newTestScanner(t, store, responder)
	defer s.Close()

	result, err := s.Scan(context.Background(), models.Artifact{
		Content: []byte("an entirely benign blob of ordinary model weights"),
	}, models.ScanModeQuick, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if result.ThreatLevel != 0.0 {
		t.Errorf("expected threat level 0.0, got %f", result.ThreatLevel)
	}
	if result.NeuralHealth != 100 {
		t.Errorf("expected neural health 100, got %d", result.NeuralHealth)
	}
	if result.QuantumIntegrity != 1.0 {
		t.Errorf("expected quantum integrity 1.0, got %f", result.QuantumIntegrity)
	}
	if len(result.Findings) != 0 {
		t.Errorf("expected no findings, got %+v", result.Findings)
	}
	if !result.Persisted {
		t.Error("expected result to be persisted")
	}
	if result.Status != models.ScanStatusCompleted {
		t.Errorf("expected status %s, got %s", models.ScanStatusCompleted, result.Status)
	}
	if result.SandboxRun != nil {
		t.Error("quick mode must not run the sandbox")
	}

	stored, err := store.GetScanResult(context.Background(), result.ScanID)
	if err != nil || stored == nil {
		t.Fatalf("scan not durable: %v", err)
	}

	s.Close()
	if responder.count() != 0 {
		t.Errorf("clean scan must not trigger a response, got %d", responder.count())
	}
}

func TestScan_CleanHighEntropyArtifact(t *testing.T) {
	s := newTestScanner(t, audit.NewMemoryStore(), nil)
	defer s.Close()

	// Dense but finding-free content. Small enough to stay below the
	// quantum detector's size floor; the byte cycle covers every value
	// evenly so measured entropy is maximal.
	content := make([]byte, 2048)
	for i := range content {
		content[i] = byte(i*131 + 17)
	}

	result, err := s.Scan(context.Background(), models.Artifact{Content: content}, models.ScanModeQuick, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("expected no findings, got %+v", result.Findings)
	}
	if result.ThreatLevel != 0.0 {
		t.Errorf("a finding-free scan must report threat level 0.0, got %f", result.ThreatLevel)
	}
	if result.ConfidenceScore != 0.5 {
		t.Errorf("a finding-free scan must report confidence 0.5, got %f", result.ConfidenceScore)
	}
}

func TestScan_QuickModeDeterminism(t *testing.T) {
	s := newTestScanner(t, audit.NewMemoryStore(), nil)
	defer s.Close()

	artifact := models.Artifact{
		Content: []byte("poisoned_sample with label_flip and a poisoned_gradient update_filter"),
	}

	first, err := s.Scan(context.Background(), artifact, models.ScanModeQuick, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	second, err := s.Scan(context.Background(), artifact, models.ScanModeQuick, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if first.ThreatLevel != second.ThreatLevel {
		t.Errorf("threat level differs: %f vs %f", first.ThreatLevel, second.ThreatLevel)
	}
	if first.ConfidenceScore != second.ConfidenceScore {
		t.Errorf("confidence differs: %f vs %f", first.ConfidenceScore, second.ConfidenceScore)
	}
	if len(first.Findings) != len(second.Findings) {
		t.Fatalf("finding count differs: %d vs %d", len(first.Findings), len(second.Findings))
	}
	for i := range first.Findings {
		if first.Findings[i].Category != second.Findings[i].Category ||
			first.Findings[i].Description != second.Findings[i].Description {
			t.Errorf("finding %d differs between identical scans", i)
		}
	}
	if first.ScanID == second.ScanID {
		t.Error("scan ids must be unique per call")
	}
	if first.Fingerprint == second.Fingerprint {
		t.Error("fingerprints bind content to the scan instance and must differ")
	}
}

func TestScan_FindingsInCanonicalOrder(t *testing.T) {
	s := newTestScanner(t, audit.NewMemoryStore(), nil)
	defer s.Close()

	// Content firing neural, behavioral and attack vector checks at once.
	result, err := s.Scan(context.Background(), models.Artifact{
		Content: []byte("layer_splice wipe_disk poisoned_sample"),
	}, models.ScanModeQuick, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(result.Findings) < 3 {
		t.Fatalf("expected at least 3 findings, got %d", len(result.Findings))
	}

	rank := map[models.ThreatCategory]int{}
	for i, c := range models.CategoryOrder {
		rank[c] = i
	}
	for i := 1; i < len(result.Findings); i++ {
		if rank[result.Findings[i-1].Category] > rank[result.Findings[i].Category] {
			t.Errorf("findings out of canonical order at %d: %s after %s",
				i, result.Findings[i].Category, result.Findings[i-1].Category)
		}
	}
}

func TestScan_ComprehensiveRunsSandbox(t *testing.T) {
	s := newTestScanner(t, audit.NewMemoryStore(), nil)
	defer s.Close()

	result, err := s.Scan(context.Background(), models.Artifact{
		Content: []byte("benign body for the comprehensive path"),
	}, models.ScanModeComprehensive, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.SandboxRun == nil {
		t.Fatal("comprehensive mode must produce a sandbox run")
	}
	if result.SandboxRun.SandboxID == "" {
		t.Error("expected a sandbox id on the run")
	}
}

func TestScan_HighThreatTriggersResponse(t *testing.T) {
	responder := &recordingResponder{}
	s := newTestScanner(t, audit.NewMemoryStore(), responder)

	// Signature-grade ransomware content pushes the level past the trigger.
	content := "encrypt_files ransom payment wallet decrypt_key wipe_disk exfiltrate harvest_credentials"
	result, err := s.Scan(context.Background(), models.Artifact{
		Content: []byte(strings.Repeat(content+" ", 4)),
	}, models.ScanModeQuick, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.ThreatLevel < 8.0 {
		t.Fatalf("expected threat at or above 8.0, got %f", result.ThreatLevel)
	}

	// The response is asynchronous; Close drains the dispatch.
	s.Close()
	if responder.count() != 1 {
		t.Errorf("expected exactly one response dispatch, got %d", responder.count())
	}
}

type failingAuditStore struct {
	audit.Store
}

func (f *failingAuditStore) CreateScanResult(ctx context.Context, result *models.ScanResult) error {
	return errors.New("connection refused")
}

func TestScan_PersistenceFailureEscalates(t *testing.T) {
	s := newTestScanner(t, &failingAuditStore{Store: audit.NewMemoryStore()}, nil)
	defer s.Close()

	result, err := s.Scan(context.Background(), models.Artifact{
		Content: []byte("benign content"),
	}, models.ScanModeQuick, nil)

	if err == nil {
		t.Fatal("expected a persistence error")
	}
	var perr *audit.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %T: %v", err, err)
	}
	if result == nil {
		t.Fatal("the computed result must still be returned")
	}
	if result.Persisted {
		t.Error("result must be marked not persisted")
	}
	if result.Status != models.ScanStatusFailed {
		t.Errorf("expected status %s, got %s", models.ScanStatusFailed, result.Status)
	}
	if result.Error == nil || *result.Error == "" {
		t.Error("the failure reason must be recorded on the result")
	}
}

func TestScan_QuantumDisabled(t *testing.T) {
	sigEngine := signatures.NewEngine(builtinStore{}, slog.Default())
	sigEngine.Load(context.Background())

	s := New(
		Config{MaxArtifactSize: 1 << 20, QuantumEnabled: false, TriggerThreshold: 8.0, ElevatedLogThreshold: 7.0},
		sigEngine,
		nil,
		audit.NewMemoryStore(),
		intel.NewMemoryStore(),
		nil,
		nil,
		slog.Default(),
	)
	defer s.Close()

	// Dual-state markers would fire the quantum detector if it ran.
	result, err := s.Scan(context.Background(), models.Artifact{
		Content: []byte("dual_state_payload observer_dependent"),
	}, models.ScanModeQuick, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	for _, f := range result.Findings {
		if f.Category == models.CategoryQuantumSignature {
			t.Error("quantum findings must not appear when quantum checks are disabled")
		}
	}
	if result.QuantumIntegrity != 1.0 {
		t.Errorf("integrity must stay at 1.0 when disabled, got %f", result.QuantumIntegrity)
	}
}

func TestScan_RequesterIDRecorded(t *testing.T) {
	store := audit.NewMemoryStore()
	s := newTestScanner(t, store, nil)
	defer s.Close()

	requester := "user-42"
	result, err := s.Scan(context.Background(), models.Artifact{
		Content: []byte("plain content"),
	}, models.ScanModeQuick, &requester)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	stored, err := store.GetScanResult(context.Background(), result.ScanID)
	if err != nil || stored == nil {
		t.Fatalf("scan not stored: %v", err)
	}
	if stored.RequesterID == nil || *stored.RequesterID != requester {
		t.Errorf("expected requester id %q, got %v", requester, stored.RequesterID)
	}
}
