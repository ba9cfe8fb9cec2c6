package detectors

import (
	"github.com/aegis-sec/aegis/internal/models"
)

// HealthPenaltyKey is the evidence key carrying the neural-health decrement
// for a neural_anomaly finding. The orchestrator sums these, flooring the
// health score at 0.
const HealthPenaltyKey = "health_penalty"

type neuralCheck struct {
	name       string
	penalty    int
	severity   models.Severity
	confidence float64
	markers    []string
}

// Penalties per anomaly class: architecture 20, weights 15, activation 25,
// gradients 20, hidden-layer backdoor 30.
var neuralChecks = []neuralCheck{
	{"architecture_tampering", 20, models.SeverityHigh, 0.8, []string{"layer_splice", "graph_rewrite", "architecture_patch"}},
	{"weight_anomaly", 15, models.SeverityMedium, 0.75, []string{"weight_overwrite", "bias_shift", "anomalous_update"}},
	{"activation_hijack", 25, models.SeverityHigh, 0.8, []string{"activation_swap", "nonstandard_activation", "relu_patch"}},
	{"gradient_manipulation", 20, models.SeverityHigh, 0.75, []string{"poisoned_gradient", "gradient_scale", "update_filter"}},
	{"hidden_layer_backdoor", 30, models.SeverityCritical, 0.9, []string{"hidden_neuron_trigger", "dormant_subnet", "backdoor_layer"}},
}

// NeuralDetector runs the neural pattern checks. Each firing check emits a
// neural_anomaly finding carrying its fixed health penalty in evidence.
type NeuralDetector struct{}

func (d *NeuralDetector) Name() string { return "neural_patterns" }

func (d *NeuralDetector) Detect(v View) ([]models.Finding, error) {
	var findings []models.Finding
	for _, c := range neuralChecks {
		if !v.HasMarker(c.markers...) {
			continue
		}
		findings = append(findings, models.Finding{
			Category:    models.CategoryNeuralAnomaly,
			Severity:    c.severity,
			Confidence:  c.confidence,
			Description: "neural pattern anomaly: " + c.name,
			Mitigation:  "Restore weights from a verified checkpoint and diff the model graph",
			Evidence: models.JSONB{
				"check":          c.name,
				HealthPenaltyKey: c.penalty,
			},
		})
	}
	return findings, nil
}

// HealthPenalty extracts the health decrement from a neural finding.
func HealthPenalty(f models.Finding) int {
	if f.Category != models.CategoryNeuralAnomaly || f.Evidence == nil {
		return 0
	}
	switch p := f.Evidence[HealthPenaltyKey].(type) {
	case int:
		return p
	case float64:
		return int(p)
	default:
		return 0
	}
}
