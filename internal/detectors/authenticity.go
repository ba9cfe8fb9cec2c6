package detectors

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aegis-sec/aegis/internal/models"
)

// authenticityPassThreshold: authenticity holds when the weighted pass
// ratio exceeds this value.
const authenticityPassThreshold = 0.8

type authenticityCheck struct {
	name   string
	weight float64
	verify func(v View) bool
}

var authenticityChecks = []authenticityCheck{
	{"digital_signature", 3.0, func(v View) bool {
		return v.MetaString("digital_signature") != ""
	}},
	{"provenance_chain", 2.5, func(v View) bool {
		chain, ok := v.Metadata["provenance_chain"].([]interface{})
		return ok && len(chain) > 0
	}},
	{"training_data_integrity", 2.0, func(v View) bool {
		return v.MetaString("training_data_hash") != ""
	}},
	{"model_checksum", 3.0, func(v View) bool {
		want := strings.ToLower(v.MetaString("model_checksum"))
		return want != "" && want == hex.EncodeToString(v.Digest[:])
	}},
	{"certification", 1.5, func(v View) bool {
		return v.MetaString("certification") != ""
	}},
	{"distributed_ledger", 1.0, func(v View) bool {
		return v.MetaString("ledger_ref") != ""
	}},
	{"cryptographic_signature", 2.5, func(v View) bool {
		// Detached signatures are hex or base64 blobs of plausible length.
		sig := v.MetaString("crypto_signature")
		return len(sig) >= 64
	}},
}

// AuthenticityDetector verifies the artifact's authenticity manifest with
// seven weighted sub-checks. Artifacts that carry no manifest at all make
// no authenticity claim and are skipped; a manifest that fails the weighted
// threshold yields an authenticity_failure finding.
type AuthenticityDetector struct{}

func (d *AuthenticityDetector) Name() string { return "authenticity" }

func (d *AuthenticityDetector) Detect(v View) ([]models.Finding, error) {
	if len(v.Metadata) == 0 {
		return nil, nil
	}

	total := 0.0
	passed := 0.0
	var failed []string
	evidence := models.JSONB{}

	for _, c := range authenticityChecks {
		total += c.weight
		ok := c.verify(v)
		evidence[c.name] = ok
		if ok {
			passed += c.weight
		} else {
			failed = append(failed, c.name)
		}
	}

	ratio := passed / total
	evidence["weighted_ratio"] = ratio

	if ratio > authenticityPassThreshold {
		return nil, nil
	}

	severity := models.SeverityMedium
	if ratio < 0.4 {
		severity = models.SeverityHigh
	}

	return []models.Finding{{
		Category:    models.CategoryAuthenticityFailure,
		Severity:    severity,
		Confidence:  clampUnit(1.0 - ratio),
		Description: fmt.Sprintf("authenticity verification failed (%.2f): %s", ratio, strings.Join(failed, ", ")),
		Mitigation:  "Obtain a signed provenance chain before deployment",
		Evidence:    evidence,
	}}, nil
}
