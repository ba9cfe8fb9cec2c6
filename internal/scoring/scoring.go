package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/aegis-sec/aegis/internal/models"
)

// CategoryWeights are the policy constants combining per-category findings
// into the threat level. They live here and only here; detectors never see
// or scale by them.
var CategoryWeights = map[models.ThreatCategory]float64{
	models.CategorySignatureMatch:      3.0,
	models.CategoryAdversarial:         2.5,
	models.CategoryNeuralAnomaly:       2.0,
	models.CategoryQuantumSignature:    2.5,
	models.CategoryBehavioralAnomaly:   1.5,
	models.CategoryAuthenticityFailure: 2.0,
	models.CategoryMemoryManipulation:  3.5,
	models.CategoryAttackVector:        2.8,
}

const (
	// MaxThreatLevel bounds the aggregate score.
	MaxThreatLevel = 10.0

	// defaultConfidence is reported when a scan produced no findings. It
	// signals a low-information scan rather than a certainly clean one.
	defaultConfidence = 0.5

	neuralPenaltyScale  = 2.0
	quantumPenaltyScale = 1.5
	ensembleScale       = 2.0
)

// EnsemblePrediction is the optional ML-style risk estimate folded into the
// threat level. Absent when the ensemble step did not run (quick mode).
type EnsemblePrediction struct {
	ThreatProbability float64 `json:"threat_probability"`
	Confidence        float64 `json:"confidence"`
}

// Input carries everything the scorer consumes. The scorer is a pure
// function of this struct.
type Input struct {
	Findings         []models.Finding
	NeuralHealth     int     // 0..100
	QuantumIntegrity float64 // 0..1
	Ensemble         *EnsemblePrediction
}

// Output is the bounded aggregate risk of one scan.
type Output struct {
	ThreatLevel     float64
	ConfidenceScore float64
	Recommendations []models.Recommendation
}

// Score combines all findings into a single threat level on [0, 10] rounded
// to one decimal, and a confidence score on [0, 1].
//
// threat = sum(category_weight * severity_multiplier)
//        + (100 - neural_health)/100 * 2
//        + (1 - quantum_integrity) * 1.5
//        + ensemble_threat_probability * 2 (when present)
func Score(in Input) Output {
	threat := 0.0
	for _, f := range in.Findings {
		threat += CategoryWeights[f.Category] * f.Severity.Multiplier()
	}

	health := clamp(float64(in.NeuralHealth), 0, 100)
	threat += (100 - health) / 100 * neuralPenaltyScale

	integrity := clamp(in.QuantumIntegrity, 0, 1)
	threat += (1 - integrity) * quantumPenaltyScale

	if in.Ensemble != nil {
		threat += clamp(in.Ensemble.ThreatProbability, 0, 1) * ensembleScale
	}

	threat = clamp(threat, 0, MaxThreatLevel)
	threat = math.Round(threat*10) / 10

	return Output{
		ThreatLevel:     threat,
		ConfidenceScore: confidence(in),
		Recommendations: recommendations(in, threat),
	}
}

func confidence(in Input) float64 {
	sum := 0.0
	n := 0
	for _, f := range in.Findings {
		sum += f.Confidence
		n++
	}
	if in.Ensemble != nil {
		sum += in.Ensemble.Confidence
		n++
	}
	if n == 0 {
		return defaultConfidence
	}
	return clamp(sum/float64(n), 0, 1)
}

// recommendations turns findings and the aggregate level into prioritized
// operator actions. Output order is severity-descending then category so the
// list is stable for identical inputs.
func recommendations(in Input, threat float64) []models.Recommendation {
	var recs []models.Recommendation

	seen := map[models.ThreatCategory]models.Finding{}
	for _, f := range in.Findings {
		if prev, ok := seen[f.Category]; !ok || f.Severity.Rank() > prev.Severity.Rank() {
			seen[f.Category] = f
		}
	}

	for cat, f := range seen {
		rec := models.Recommendation{Priority: f.Severity}
		switch cat {
		case models.CategorySignatureMatch:
			rec.Action = "Quarantine the artifact and block the matched signature at ingestion"
			rec.Automated = true
		case models.CategoryMemoryManipulation:
			rec.Action = "Enable memory protection mode and reject the artifact from execution"
			rec.Automated = true
		case models.CategoryNeuralAnomaly:
			rec.Action = "Restore model weights from the last verified checkpoint"
		case models.CategoryQuantumSignature:
			rec.Action = "Re-verify artifact integrity against its signed distribution image"
		case models.CategoryAdversarial:
			rec.Action = "Suspend deployment pending manual adversarial review"
		case models.CategoryAuthenticityFailure:
			rec.Action = "Require a complete signed provenance chain before deployment"
		case models.CategoryAttackVector:
			rec.Action = "Apply input sanitization and vector-specific mitigations before exposure"
		case models.CategoryBehavioralAnomaly:
			rec.Action = "Rerun in comprehensive mode with full sandbox instrumentation"
		default:
			rec.Action = "Isolate the artifact pending manual review"
		}
		recs = append(recs, rec)
	}

	if threat >= 8.0 {
		recs = append(recs, models.Recommendation{
			Priority:  models.SeverityCritical,
			Action:    "Initiate emergency isolation of the artifact and its host environment",
			Automated: true,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority.Rank() != recs[j].Priority.Rank() {
			return recs[i].Priority.Rank() > recs[j].Priority.Rank()
		}
		return recs[i].Action < recs[j].Action
	})
	return recs
}

// EscapeRecommendation is appended when the sandbox reported an escape
// attempt. It is automated: isolation reinforcement does not wait for an
// operator.
func EscapeRecommendation(techniques []string) models.Recommendation {
	action := "Reinforce sandbox isolation and deploy anti-escape countermeasures"
	if len(techniques) > 0 {
		action = fmt.Sprintf("%s (observed: %s)", action, techniques[0])
	}
	return models.Recommendation{
		Priority:  models.SeverityHigh,
		Action:    action,
		Automated: true,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
