package detectors

import (
	"bytes"

	"github.com/aegis-sec/aegis/internal/models"
)

// IntegrityPenaltyKey is the evidence key carrying the quantum-integrity
// decrement for a quantum_signature finding. Integrity starts at 1.0 and is
// floored at 0 by the orchestrator.
const IntegrityPenaltyKey = "integrity_penalty"

// QuantumDetector runs the integrity analogues of the entanglement,
// superposition, coherence and decoherence analyses. The measurements are
// closed-form functions of the artifact bytes, never of time or randomness,
// so repeated scans of the same content agree.
type QuantumDetector struct{}

func (d *QuantumDetector) Name() string { return "quantum_integrity" }

func (d *QuantumDetector) Detect(v View) ([]models.Finding, error) {
	var findings []models.Finding

	// Decoherence analogue: near-uniform byte distribution means packed or
	// encrypted content that defeats static inspection.
	if len(v.Content) >= 4096 && v.Entropy > 7.92 {
		findings = append(findings, quantumFinding(
			"decoherence",
			0.25,
			models.SeverityMedium,
			0.7,
			"high-entropy payload resists integrity verification",
			models.JSONB{"entropy": v.Entropy},
		))
	}

	// Entanglement analogue: large duplicated block ratio indicates stamped
	// payload replication inside the artifact.
	if ratio := duplicateBlockRatio(v.Content); ratio > 0.5 && len(v.Content) >= 4096 {
		findings = append(findings, quantumFinding(
			"entanglement_collapse",
			0.2,
			models.SeverityMedium,
			0.65,
			"repeated payload blocks detected across the artifact",
			models.JSONB{"duplicate_ratio": ratio},
		))
	}

	// Coherence analogue: sharply mixed high- and low-entropy regions mean
	// a packed payload stitched into plain carrier content.
	if spread := entropySpread(v.Content); spread > 4.0 && len(v.Content) >= 4096 {
		findings = append(findings, quantumFinding(
			"coherence_loss",
			0.15,
			models.SeverityMedium,
			0.6,
			"entropy varies sharply across artifact regions",
			models.JSONB{"entropy_spread": spread},
		))
	}

	// Superposition analogue: explicit dual-state markers.
	if v.HasMarker("dual_state_payload", "state_flip", "observer_dependent") {
		findings = append(findings, quantumFinding(
			"superposition_marker",
			0.3,
			models.SeverityHigh,
			0.8,
			"observer-dependent behavior markers present",
			nil,
		))
	}

	return findings, nil
}

func quantumFinding(check string, penalty float64, sev models.Severity, conf float64, desc string, extra models.JSONB) models.Finding {
	evidence := models.JSONB{
		"check":             check,
		IntegrityPenaltyKey: penalty,
	}
	for k, val := range extra {
		evidence[k] = val
	}
	return models.Finding{
		Category:    models.CategoryQuantumSignature,
		Severity:    sev,
		Confidence:  conf,
		Description: "quantum integrity check failed: " + desc,
		Mitigation:  "Re-verify the artifact against its signed distribution image",
		Evidence:    evidence,
	}
}

// IntegrityPenalty extracts the integrity decrement from a quantum finding.
func IntegrityPenalty(f models.Finding) float64 {
	if f.Category != models.CategoryQuantumSignature || f.Evidence == nil {
		return 0
	}
	if p, ok := f.Evidence[IntegrityPenaltyKey].(float64); ok {
		return p
	}
	return 0
}

// entropySpread is the gap between the highest and lowest per-region byte
// entropy, measured over fixed 512-byte windows.
func entropySpread(data []byte) float64 {
	const window = 512
	if len(data) < window*2 {
		return 0
	}
	min, max := 8.0, 0.0
	for i := 0; i+window <= len(data); i += window {
		e := shannonEntropy(data[i : i+window])
		if e < min {
			min = e
		}
		if e > max {
			max = e
		}
	}
	return max - min
}

// duplicateBlockRatio is the fraction of 64-byte blocks that repeat an
// earlier block verbatim.
func duplicateBlockRatio(data []byte) float64 {
	const block = 64
	if len(data) < block*4 {
		return 0
	}
	seen := make(map[string]struct{})
	blocks := 0
	dups := 0
	for i := 0; i+block <= len(data); i += block {
		blocks++
		// Skip all-zero padding blocks; they are structural, not stamped.
		if bytes.Count(data[i:i+block], []byte{0}) == block {
			continue
		}
		key := string(data[i : i+block])
		if _, ok := seen[key]; ok {
			dups++
		} else {
			seen[key] = struct{}{}
		}
	}
	if blocks == 0 {
		return 0
	}
	return float64(dups) / float64(blocks)
}
