package detectors

import (
	"github.com/aegis-sec/aegis/internal/models"
)

// attackVectorCheck is one of the eight AI attack-vector probes. Each is
// reported independently when it fires.
type attackVectorCheck struct {
	name       string
	severity   models.Severity
	confidence float64
	mitigation string
	markers    []string
	minHits    int
}

var attackVectorChecks = []attackVectorCheck{
	{
		name:       "prompt_injection",
		severity:   models.SeverityHigh,
		confidence: 0.85,
		mitigation: "Sanitize and isolate untrusted prompt channels",
		markers:    []string{"ignore previous instructions", "system_override", "jailbreak", "disregard your rules"},
		minHits:    1,
	},
	{
		name:       "data_poisoning",
		severity:   models.SeverityHigh,
		confidence: 0.8,
		mitigation: "Re-verify training data lineage and retrain from clean snapshots",
		markers:    []string{"poisoned_sample", "label_flip", "trigger_pattern"},
		minHits:    1,
	},
	{
		name:       "model_extraction",
		severity:   models.SeverityMedium,
		confidence: 0.75,
		mitigation: "Apply query rate limits and extraction monitoring",
		markers:    []string{"query_loop", "distill_target", "api_clone"},
		minHits:    2,
	},
	{
		name:       "membership_inference",
		severity:   models.SeverityMedium,
		confidence: 0.7,
		mitigation: "Reduce confidence-score exposure in serving APIs",
		markers:    []string{"shadow_model", "membership_attack"},
		minHits:    1,
	},
	{
		name:       "backdoor",
		severity:   models.SeverityCritical,
		confidence: 0.9,
		mitigation: "Reject the artifact; rebuild from attested checkpoints",
		markers:    []string{"trigger_token", "hidden_branch", "conditional_payload"},
		minHits:    2,
	},
	{
		name:       "adversarial_examples",
		severity:   models.SeverityMedium,
		confidence: 0.7,
		mitigation: "Enable adversarial input detection at inference time",
		markers:    []string{"fgsm", "perturbation", "epsilon_step"},
		minHits:    2,
	},
	{
		name:       "gradient_leakage",
		severity:   models.SeverityHigh,
		confidence: 0.8,
		mitigation: "Clip and aggregate gradients before any federation exchange",
		markers:    []string{"gradient_invert", "reconstruct_input", "leak_gradients"},
		minHits:    1,
	},
	{
		name:       "byzantine",
		severity:   models.SeverityHigh,
		confidence: 0.75,
		mitigation: "Use robust aggregation for federated updates",
		markers:    []string{"byzantine_batch", "malicious_update", "krum_bypass"},
		minHits:    1,
	},
}

// AttackVectorDetector runs the eight attack-vector sub-checks, each
// independently reported as its own finding.
type AttackVectorDetector struct{}

func (d *AttackVectorDetector) Name() string { return "attack_vector" }

func (d *AttackVectorDetector) Detect(v View) ([]models.Finding, error) {
	var findings []models.Finding
	for _, c := range attackVectorChecks {
		hits := v.MarkerCount(c.markers...)
		if hits < c.minHits {
			continue
		}
		findings = append(findings, models.Finding{
			Category:    models.CategoryAttackVector,
			Severity:    c.severity,
			Confidence:  c.confidence,
			Description: "attack vector detected: " + c.name,
			Mitigation:  c.mitigation,
			Evidence: models.JSONB{
				"vector":      c.name,
				"marker_hits": hits,
			},
		})
	}
	return findings, nil
}
