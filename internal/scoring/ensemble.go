package scoring

import (
	"math"

	"github.com/aegis-sec/aegis/internal/models"
)

// ensembleModel weights for the logistic risk estimate. Tuned so a clean
// scan sits near zero and multiple high-severity findings saturate.
const (
	ensembleBias           = -3.0
	ensembleCountWeight    = 0.45
	ensembleSeverityWeight = 0.9
	ensembleEntropyWeight  = 0.15
)

// PredictEnsemble is the deterministic stand-in for the ML ensemble risk
// model: a logistic blend of finding count, worst observed severity and
// content entropy. It is a closed-form function of its inputs so repeated
// scans of identical content produce identical predictions. A scan with no
// findings gets no prediction regardless of entropy, so a clean result keeps
// threat level 0.0 and the 0.5 no-information confidence.
func PredictEnsemble(findings []models.Finding, entropy float64) *EnsemblePrediction {
	if len(findings) == 0 {
		return nil
	}
	maxRank := 0
	for _, f := range findings {
		if r := f.Severity.Rank(); r > maxRank {
			maxRank = r
		}
	}

	z := ensembleBias +
		ensembleCountWeight*float64(len(findings)) +
		ensembleSeverityWeight*float64(maxRank) +
		ensembleEntropyWeight*entropy

	prob := 1 / (1 + math.Exp(-z))

	// Confidence grows with evidence volume, capped below certainty.
	conf := clamp(0.55+0.05*float64(len(findings)), 0, 0.9)

	return &EnsemblePrediction{
		ThreatProbability: math.Round(prob*1000) / 1000,
		Confidence:        conf,
	}
}
