package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/models"
)

func testConfig() config.SandboxConfig {
	return config.SandboxConfig{
		Timeout: 200 * time.Millisecond,
		Image:   "aegis-sandbox:test",
		Limits: models.ResourceLimits{
			CPUPercent:      25,
			MemoryMB:        128,
			DiskMB:          50,
			NetworkIsolated: true,
		},
	}
}

func TestAnalyze_CleanArtifact(t *testing.T) {
	rt := NewLocalRuntime()
	e := NewExecutor(rt, testConfig(), slog.Default())

	run, findings := e.Analyze(context.Background(), models.Artifact{
		Content: []byte("a perfectly ordinary artifact body"),
	})

	if run.SandboxID == "" {
		t.Error("expected a sandbox id")
	}
	if run.TimedOut || run.Error != "" {
		t.Errorf("expected clean run, got %+v", run)
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings, got %+v", findings)
	}
	if rt.ActiveCount() != 0 {
		t.Errorf("sandbox not torn down: %d active", rt.ActiveCount())
	}
}

func TestAnalyze_TimeoutProducesFinding(t *testing.T) {
	rt := NewLocalRuntime()
	e := NewExecutor(rt, testConfig(), slog.Default())

	run, findings := e.Analyze(context.Background(), models.Artifact{
		Content: []byte("this artifact will sandbox_hang forever"),
	})

	if !run.TimedOut {
		t.Fatal("expected run to be marked timed out")
	}
	if run.Execution.ExecutionTimeMS != 200 {
		t.Errorf("expected execution time pinned to the limit, got %d", run.Execution.ExecutionTimeMS)
	}

	found := false
	for _, f := range findings {
		if f.Evidence["check"] == "sandbox_timeout" {
			found = true
			if f.Severity != models.SeverityHigh {
				t.Errorf("expected HIGH timeout finding, got %s", f.Severity)
			}
		}
	}
	if !found {
		t.Error("expected a sandbox_timeout finding")
	}
	if rt.ActiveCount() != 0 {
		t.Errorf("sandbox not torn down after timeout: %d active", rt.ActiveCount())
	}
}

func TestAnalyze_EscapeDetection(t *testing.T) {
	rt := NewLocalRuntime()
	e := NewExecutor(rt, testConfig(), slog.Default())

	run, findings := e.Analyze(context.Background(), models.Artifact{
		Content: []byte("mounts docker.sock and reads /proc/1/root for breakout"),
	})

	if !run.Escape.Detected {
		t.Fatal("expected escape detection")
	}
	if len(run.Escape.Techniques) != 2 {
		t.Errorf("expected 2 techniques, got %v", run.Escape.Techniques)
	}
	if run.Escape.Confidence < 0.79 || run.Escape.Confidence > 0.81 {
		t.Errorf("expected confidence near 0.8, got %f", run.Escape.Confidence)
	}

	found := false
	for _, f := range findings {
		if f.Evidence["check"] == "sandbox_escape" && f.Severity == models.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Error("expected a CRITICAL sandbox_escape finding")
	}
	if rt.ActiveCount() != 0 {
		t.Errorf("sandbox not torn down: %d active", rt.ActiveCount())
	}
}

func TestAnalyze_MaliciousActions(t *testing.T) {
	rt := NewLocalRuntime()
	e := NewExecutor(rt, testConfig(), slog.Default())

	run, findings := e.Analyze(context.Background(), models.Artifact{
		Content: []byte("encrypt_files then exfiltrate via startup_hook"),
	})

	if !run.Actions.FileEncryption || !run.Actions.DataExfiltration || !run.Actions.Persistence {
		t.Errorf("expected encryption, exfiltration and persistence flags, got %+v", run.Actions)
	}

	checks := map[string]models.Severity{}
	for _, f := range findings {
		if c, ok := f.Evidence["check"].(string); ok {
			checks[c] = f.Severity
		}
	}
	if checks["file_encryption"] != models.SeverityCritical {
		t.Errorf("expected CRITICAL file_encryption finding, got %v", checks)
	}
	if checks["data_exfiltration"] != models.SeverityHigh {
		t.Errorf("expected HIGH data_exfiltration finding, got %v", checks)
	}
	if checks["persistence"] != models.SeverityMedium {
		t.Errorf("expected MEDIUM persistence finding, got %v", checks)
	}
}

func TestAnalyze_IsolatedEgress(t *testing.T) {
	rt := NewLocalRuntime()
	e := NewExecutor(rt, testConfig(), slog.Default())

	_, findings := e.Analyze(context.Background(), models.Artifact{
		Content: []byte("calls connect( to http://collector.example"),
	})

	found := false
	for _, f := range findings {
		if f.Evidence["check"] == "isolated_egress" {
			found = true
		}
	}
	if !found {
		t.Error("expected an isolated_egress finding for network attempts under isolation")
	}
}

type failingRuntime struct {
	provisionErr bool
	executeErr   bool
	teardowns    int
}

func (r *failingRuntime) Provision(ctx context.Context, image string, limits models.ResourceLimits) (string, error) {
	if r.provisionErr {
		return "", errors.New("no capacity")
	}
	return "failing-1", nil
}

func (r *failingRuntime) Execute(ctx context.Context, sandboxID string, artifact models.Artifact) (models.ExecutionTelemetry, error) {
	if r.executeErr {
		return models.ExecutionTelemetry{}, errors.New("harness crashed")
	}
	return models.ExecutionTelemetry{}, nil
}

func (r *failingRuntime) Teardown(ctx context.Context, sandboxID string) error {
	r.teardowns++
	return nil
}

func TestAnalyze_ProvisionFailureSkipsTeardown(t *testing.T) {
	rt := &failingRuntime{provisionErr: true}
	e := NewExecutor(rt, testConfig(), slog.Default())

	run, findings := e.Analyze(context.Background(), models.Artifact{Content: []byte("x")})

	if run.Error == "" {
		t.Error("expected a provisioning error on the run")
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings, got %d", len(findings))
	}
	if rt.teardowns != 0 {
		t.Errorf("nothing was provisioned, teardown ran %d times", rt.teardowns)
	}
}

func TestAnalyze_ExecuteFailureStillTearsDownOnce(t *testing.T) {
	rt := &failingRuntime{executeErr: true}
	e := NewExecutor(rt, testConfig(), slog.Default())

	run, _ := e.Analyze(context.Background(), models.Artifact{Content: []byte("x")})

	if run.Error == "" {
		t.Error("expected an execution error on the run")
	}
	if rt.teardowns != 1 {
		t.Errorf("expected exactly one teardown, got %d", rt.teardowns)
	}
}

func TestLocalRuntime_DeterministicTelemetry(t *testing.T) {
	rt := NewLocalRuntime()
	ctx := context.Background()

	artifact := models.Artifact{Content: []byte("open( a file, write_file then write_file again, connect( once")}

	id1, _ := rt.Provision(ctx, "img", models.ResourceLimits{MemoryMB: 128})
	t1, err := rt.Execute(ctx, id1, artifact)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	_ = rt.Teardown(ctx, id1)

	id2, _ := rt.Provision(ctx, "img", models.ResourceLimits{MemoryMB: 128})
	t2, err := rt.Execute(ctx, id2, artifact)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	_ = rt.Teardown(ctx, id2)

	if t1 != t2 {
		t.Errorf("telemetry must be deterministic: %+v vs %+v", t1, t2)
	}
	if t1.FileOperations != 3 {
		t.Errorf("expected 3 file operations, got %d", t1.FileOperations)
	}
	if t1.NetworkAttempts != 1 {
		t.Errorf("expected 1 network attempt, got %d", t1.NetworkAttempts)
	}
}
