package signatures

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aegis-sec/aegis/internal/models"
)

// DefaultMatchThreshold is the policy constant above which a signature score
// counts as a match. Overridable via scanner.signature_match_threshold.
const DefaultMatchThreshold = 0.7

// Store defines the interface for signature persistence.
type Store interface {
	GetSignature(ctx context.Context, id string) (*models.SignatureRecord, error)
	ListSignatures(ctx context.Context, activeOnly bool) ([]models.SignatureRecord, error)
	CreateSignature(ctx context.Context, sig *models.SignatureRecord) error
	UpdateSignature(ctx context.Context, sig *models.SignatureRecord) error
	DeleteSignature(ctx context.Context, id string) error
}

// Engine holds the active signature set. The set is loaded at startup and
// refreshed out-of-band; scans read an immutable snapshot so a reload never
// mutates signatures mid-scan.
type Engine struct {
	store  Store
	logger *slog.Logger

	mu     sync.RWMutex
	active []models.SignatureRecord
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// Load reads active signatures from storage. On any storage error it logs
// and falls back to the built-in set; it never returns an error to the
// caller because an empty signature set is a policy violation.
func (e *Engine) Load(ctx context.Context) {
	sigs, err := e.store.ListSignatures(ctx, true)
	if err != nil || len(sigs) == 0 {
		if err != nil {
			e.logger.Warn("signature store unavailable, using built-in set", "error", err)
		} else {
			e.logger.Warn("signature store empty, using built-in set")
		}
		sigs = BuiltinSignatures()
	}

	e.mu.Lock()
	e.active = sigs
	e.mu.Unlock()

	e.logger.Info("signatures loaded", "count", len(sigs))
}

// Snapshot returns the current active set. The returned slice must be
// treated as read-only.
func (e *Engine) Snapshot() []models.SignatureRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Match scores an artifact against one signature. The score is a pure
// function of (artifact, signature): 60% token-set similarity over
// normalized 4-grams plus 40% direct pattern containment. Range [0,1].
func Match(artifact models.Artifact, sig models.SignatureRecord) float64 {
	content := normalize(artifact.Content)
	pattern := strings.ToLower(sig.Pattern)
	if len(content) == 0 || len(pattern) == 0 {
		return 0
	}

	overlap := gramSimilarity(content, pattern)

	sub := 0.0
	if strings.Contains(content, pattern) {
		sub = 1.0
	} else {
		// Partial containment: longest pattern token found in content.
		best := 0
		for _, tok := range strings.Fields(pattern) {
			if len(tok) >= 4 && strings.Contains(content, tok) && len(tok) > best {
				best = len(tok)
			}
		}
		if best > 0 {
			sub = float64(best) / float64(len(pattern))
			if sub > 1 {
				sub = 1
			}
		}
	}

	return 0.6*overlap + 0.4*sub
}

// gramSimilarity is the Jaccard index over 4-gram sets of the two strings.
func gramSimilarity(a, b string) float64 {
	ga := grams(a, 4)
	gb := grams(b, 4)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}

	inter := 0
	for g := range gb {
		if _, ok := ga[g]; ok {
			inter++
		}
	}
	union := len(ga) + len(gb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func grams(s string, n int) map[string]struct{} {
	out := make(map[string]struct{})
	if len(s) < n {
		if s != "" {
			out[s] = struct{}{}
		}
		return out
	}
	for i := 0; i+n <= len(s); i++ {
		out[s[i:i+n]] = struct{}{}
	}
	return out
}

func normalize(content []byte) string {
	// Cap the window so pathological inputs stay cheap; 64KB covers every
	// built-in pattern with room to spare.
	const window = 64 * 1024
	if len(content) > window {
		content = content[:window]
	}
	return strings.ToLower(string(content))
}

// CreateSignature validates and persists a signature, then reloads.
func (e *Engine) CreateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	if err := Validate(sig); err != nil {
		return err
	}
	if err := e.store.CreateSignature(ctx, sig); err != nil {
		return err
	}
	if sig.Active {
		e.Load(ctx)
	}
	return nil
}

// UpdateSignature validates and persists an update, then reloads.
func (e *Engine) UpdateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	if err := Validate(sig); err != nil {
		return err
	}
	if err := e.store.UpdateSignature(ctx, sig); err != nil {
		return err
	}
	e.Load(ctx)
	return nil
}

// DeleteSignature removes a signature and reloads.
func (e *Engine) DeleteSignature(ctx context.Context, id string) error {
	if err := e.store.DeleteSignature(ctx, id); err != nil {
		return err
	}
	e.Load(ctx)
	return nil
}

// GetSignature returns a single signature by id.
func (e *Engine) GetSignature(ctx context.Context, id string) (*models.SignatureRecord, error) {
	return e.store.GetSignature(ctx, id)
}

// ListSignatures returns all signatures, active or not.
func (e *Engine) ListSignatures(ctx context.Context) ([]models.SignatureRecord, error) {
	return e.store.ListSignatures(ctx, false)
}

// Validate checks a signature record before persistence.
func Validate(sig *models.SignatureRecord) error {
	if sig.Name == "" {
		return fmt.Errorf("signature name cannot be empty")
	}
	if sig.Pattern == "" {
		return fmt.Errorf("signature pattern cannot be empty")
	}
	switch sig.Severity {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
	default:
		return fmt.Errorf("invalid severity %q", sig.Severity)
	}
	return nil
}

// BuiltinSignatures is the fixed fallback set served when persistent
// storage is unavailable.
func BuiltinSignatures() []models.SignatureRecord {
	return []models.SignatureRecord{
		{
			ID:          "builtin-001",
			Name:        "ransomware_ai_pattern",
			Description: "Model weights interleaved with file-encryption routine markers",
			Severity:    models.SeverityCritical,
			Pattern:     "encrypt_files ransom payment wallet decrypt_key",
			Mitigation:  "Quarantine the artifact and rotate storage credentials",
			Active:      true,
		},
		{
			ID:          "builtin-002",
			Name:        "data_exfiltration_hooks",
			Description: "Outbound transfer hooks embedded in inference callbacks",
			Severity:    models.SeverityCritical,
			Pattern:     "exfiltrate upload_batch remote_endpoint post_weights",
			Mitigation:  "Block egress for the hosting environment and audit transfer logs",
			Active:      true,
		},
		{
			ID:          "builtin-003",
			Name:        "model_backdoor_trigger",
			Description: "Trigger-phrase conditioned behavior switch in model graph",
			Severity:    models.SeverityCritical,
			Pattern:     "trigger_token hidden_branch conditional_payload activation_gate",
			Mitigation:  "Retrain from verified checkpoints and audit training pipeline",
			Active:      true,
		},
		{
			ID:          "builtin-004",
			Name:        "prompt_injection_template",
			Description: "Embedded instruction-override templates",
			Severity:    models.SeverityHigh,
			Pattern:     "ignore previous instructions system_override jailbreak",
			Mitigation:  "Sanitize prompt channels and enable input filtering",
			Active:      true,
		},
		{
			ID:          "builtin-005",
			Name:        "weight_poisoning_residue",
			Description: "Statistical residue of gradient poisoning in serialized weights",
			Severity:    models.SeverityHigh,
			Pattern:     "poisoned_gradient anomalous_update byzantine_batch",
			Mitigation:  "Re-verify training data provenance",
			Active:      true,
		},
		{
			ID:          "builtin-006",
			Name:        "credential_harvester",
			Description: "Credential matching and collection routines",
			Severity:    models.SeverityHigh,
			Pattern:     "harvest_credentials keylog token_scrape password_store",
			Mitigation:  "Rotate exposed credentials and isolate the artifact",
			Active:      true,
		},
		{
			ID:          "builtin-007",
			Name:        "persistence_installer",
			Description: "Startup-hook and scheduled-task installation markers",
			Severity:    models.SeverityHigh,
			Pattern:     "install_service autostart crontab_entry registry_run",
			Mitigation:  "Sweep persistence locations on the execution host",
			Active:      true,
		},
		{
			ID:          "builtin-008",
			Name:        "privilege_escalation_probe",
			Description: "Known privilege escalation probe sequences",
			Severity:    models.SeverityHigh,
			Pattern:     "setuid capability_probe sudo_exploit kernel_version_check",
			Mitigation:  "Run only under the sandbox profile with capabilities dropped",
			Active:      true,
		},
		{
			ID:          "builtin-009",
			Name:        "membership_inference_kit",
			Description: "Shadow-model membership inference tooling",
			Severity:    models.SeverityMedium,
			Pattern:     "shadow_model membership_attack confidence_threshold",
			Mitigation:  "Limit raw confidence exposure in serving APIs",
			Active:      true,
		},
		{
			ID:          "builtin-010",
			Name:        "model_extraction_loop",
			Description: "High-volume query distillation loop markers",
			Severity:    models.SeverityMedium,
			Pattern:     "query_loop distill_target rate_probe api_clone",
			Mitigation:  "Apply rate limiting and query auditing",
			Active:      true,
		},
		{
			ID:          "builtin-011",
			Name:        "adversarial_perturbation_lib",
			Description: "Bundled adversarial example generation library",
			Severity:    models.SeverityMedium,
			Pattern:     "fgsm perturbation epsilon_step misclassify",
			Mitigation:  "Enable adversarial input detection at inference",
			Active:      true,
		},
		{
			ID:          "builtin-012",
			Name:        "unsigned_provenance",
			Description: "Provenance manifest present but unsigned",
			Severity:    models.SeverityLow,
			Pattern:     "provenance unsigned manifest missing_signature",
			Mitigation:  "Require signed provenance chains for deployment",
			Active:      true,
		},
	}
}
