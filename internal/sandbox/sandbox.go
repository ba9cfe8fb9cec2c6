package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/models"
)

// Runtime provisions, drives and destroys one isolated execution
// environment. Implementations: DockerRuntime for real container isolation,
// LocalRuntime for an in-process emulation when no Docker daemon is
// reachable.
type Runtime interface {
	Provision(ctx context.Context, image string, limits models.ResourceLimits) (string, error)
	Execute(ctx context.Context, sandboxID string, artifact models.Artifact) (models.ExecutionTelemetry, error)
	Teardown(ctx context.Context, sandboxID string) error
}

// teardownGrace bounds cleanup after the scan context is already spent.
const teardownGrace = 10 * time.Second

// Executor runs artifacts inside an isolated sandbox and turns what they do
// into findings. Teardown of a provisioned sandbox runs exactly once, on
// every path out of Analyze, including panic and timeout.
type Executor struct {
	runtime Runtime
	cfg     config.SandboxConfig
	logger  *slog.Logger
}

func NewExecutor(rt Runtime, cfg config.SandboxConfig, logger *slog.Logger) *Executor {
	return &Executor{runtime: rt, cfg: cfg, logger: logger}
}

// Analyze provisions a sandbox, executes the artifact under the configured
// wall-clock timeout, inspects the run for escape attempts and malicious
// actions, and tears the sandbox down. A sandbox failure degrades the scan
// (recorded on the run) rather than failing it.
func (e *Executor) Analyze(ctx context.Context, artifact models.Artifact) (*models.SandboxRun, []models.Finding) {
	run := &models.SandboxRun{Limits: e.cfg.Limits}

	id, err := e.runtime.Provision(ctx, e.cfg.Image, e.cfg.Limits)
	if err != nil {
		run.Error = "provision: " + err.Error()
		e.logger.Warn("sandbox provisioning failed", "error", err)
		return run, nil
	}
	run.SandboxID = id

	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), teardownGrace)
		defer cancel()
		if err := e.runtime.Teardown(tctx, id); err != nil {
			e.logger.Error("sandbox teardown failed", "sandbox_id", id, "error", err)
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var findings []models.Finding

	telemetry, err := e.runtime.Execute(execCtx, id, artifact)
	run.Execution = telemetry
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		run.TimedOut = true
		run.Execution.ExecutionTimeMS = e.cfg.Timeout.Milliseconds()
		findings = append(findings, models.Finding{
			Category:    models.CategoryBehavioralAnomaly,
			Severity:    models.SeverityHigh,
			Confidence:  0.8,
			Description: "sandbox execution exceeded the configured time limit",
			Mitigation:  "Treat as evasive; do not execute outside isolation",
			Evidence:    models.JSONB{"check": "sandbox_timeout", "timeout_ms": e.cfg.Timeout.Milliseconds()},
		})
	case err != nil:
		run.Error = "execute: " + err.Error()
		e.logger.Warn("sandbox execution failed", "sandbox_id", id, "error", err)
	}

	run.Escape = detectEscape(artifact, run.Execution)
	if run.Escape.Detected {
		findings = append(findings, models.Finding{
			Category:    models.CategoryBehavioralAnomaly,
			Severity:    models.SeverityCritical,
			Confidence:  run.Escape.Confidence,
			Description: "sandbox escape attempt: " + strings.Join(run.Escape.Techniques, ", "),
			Mitigation:  "Reinforce isolation boundaries and quarantine the artifact",
			Evidence:    models.JSONB{"check": "sandbox_escape", "techniques": run.Escape.Techniques},
		})
	}

	run.Actions = classifyActions(artifact, run.Execution)
	findings = append(findings, actionFindings(run.Actions)...)

	if e.cfg.Limits.NetworkIsolated && run.Execution.NetworkAttempts > 0 {
		findings = append(findings, models.Finding{
			Category:    models.CategoryBehavioralAnomaly,
			Severity:    models.SeverityHigh,
			Confidence:  0.85,
			Description: "network egress attempted from an isolated sandbox",
			Mitigation:  "Inspect the attempted destinations before any deployment",
			Evidence:    models.JSONB{"check": "isolated_egress", "attempts": run.Execution.NetworkAttempts},
		})
	}

	return run, findings
}

var escapeTechniques = []struct {
	name    string
	markers []string
}{
	{"container_socket_access", []string{"docker.sock", "containerd.sock"}},
	{"host_proc_traversal", []string{"/proc/1/root", "/proc/sys/kernel"}},
	{"cgroup_notify_abuse", []string{"cgroup_release", "release_agent"}},
	{"ptrace_injection", []string{"ptrace_attach", "process_vm_writev"}},
	{"hypervisor_probe", []string{"hypervisor_probe", "vm_detect"}},
}

// detectEscape scans the artifact body for known breakout techniques. The
// analysis is static over the same content the sandbox ran, so repeated
// scans agree.
func detectEscape(artifact models.Artifact, tel models.ExecutionTelemetry) models.EscapeResult {
	text := loweredWindow(artifact.Content)

	var techniques []string
	for _, t := range escapeTechniques {
		for _, m := range t.markers {
			if strings.Contains(text, m) {
				techniques = append(techniques, t.name)
				break
			}
		}
	}

	if len(techniques) == 0 {
		return models.EscapeResult{}
	}
	conf := 0.5 + 0.15*float64(len(techniques))
	if conf > 0.95 {
		conf = 0.95
	}
	return models.EscapeResult{Detected: true, Techniques: techniques, Confidence: conf}
}

func classifyActions(artifact models.Artifact, tel models.ExecutionTelemetry) models.MaliciousActions {
	text := loweredWindow(artifact.Content)
	has := func(markers ...string) bool {
		for _, m := range markers {
			if strings.Contains(text, m) {
				return true
			}
		}
		return false
	}
	return models.MaliciousActions{
		FileEncryption:      has("encrypt_files", "file_encryption", "ransom"),
		DataExfiltration:    has("exfiltrate", "data_exfil", "upload_batch") || tel.NetworkAttempts >= 10,
		PrivilegeEscalation: has("privilege_escalation", "setuid_root", "sudo_exploit"),
		Persistence:         has("crontab_install", "startup_hook", "persistence_mechanism"),
	}
}

func actionFindings(a models.MaliciousActions) []models.Finding {
	var findings []models.Finding
	add := func(desc string, sev models.Severity, conf float64, check string) {
		findings = append(findings, models.Finding{
			Category:    models.CategoryBehavioralAnomaly,
			Severity:    sev,
			Confidence:  conf,
			Description: desc,
			Mitigation:  "Quarantine the artifact and preserve the sandbox evidence",
			Evidence:    models.JSONB{"check": check},
		})
	}
	if a.FileEncryption {
		add("mass file encryption behavior observed in sandbox", models.SeverityCritical, 0.9, "file_encryption")
	}
	if a.DataExfiltration {
		add("data exfiltration behavior observed in sandbox", models.SeverityHigh, 0.85, "data_exfiltration")
	}
	if a.PrivilegeEscalation {
		add("privilege escalation attempted in sandbox", models.SeverityHigh, 0.85, "privilege_escalation")
	}
	if a.Persistence {
		add("persistence mechanism installed in sandbox", models.SeverityMedium, 0.75, "persistence")
	}
	return findings
}

func loweredWindow(content []byte) string {
	const window = 256 * 1024
	if len(content) > window {
		content = content[:window]
	}
	return strings.ToLower(string(content))
}
