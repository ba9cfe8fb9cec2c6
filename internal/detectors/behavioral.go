package detectors

import (
	"github.com/aegis-sec/aegis/internal/models"
)

// BehavioralDetector is the lightweight, non-sandbox behavioral analysis.
// It inspects declared behavior traces in metadata and inline behavior
// markers; the heavy dynamic analysis belongs to the sandbox executor.
type BehavioralDetector struct{}

func (d *BehavioralDetector) Name() string { return "behavioral" }

func (d *BehavioralDetector) Detect(v View) ([]models.Finding, error) {
	var findings []models.Finding

	if traces, ok := v.Metadata["behavior_traces"].([]interface{}); ok {
		suspicious := 0
		for _, t := range traces {
			m, ok := t.(map[string]interface{})
			if !ok {
				continue
			}
			if anomalous, _ := m["anomalous"].(bool); anomalous {
				suspicious++
			}
		}
		if suspicious > 0 {
			sev := models.SeverityMedium
			if suspicious >= 3 {
				sev = models.SeverityHigh
			}
			findings = append(findings, models.Finding{
				Category:    models.CategoryBehavioralAnomaly,
				Severity:    sev,
				Confidence:  clampUnit(0.5 + 0.1*float64(suspicious)),
				Description: "anomalous entries in declared behavior trace",
				Mitigation:  "Review the behavior trace and rerun in comprehensive mode",
				Evidence:    models.JSONB{"anomalous_traces": suspicious},
			})
		}
	}

	if v.HasMarker("unexpected_syscall", "beacon_interval", "covert_channel") {
		findings = append(findings, models.Finding{
			Category:    models.CategoryBehavioralAnomaly,
			Severity:    models.SeverityHigh,
			Confidence:  0.75,
			Description: "covert communication behavior markers present",
			Mitigation:  "Run in comprehensive mode with network isolation",
		})
	}

	return findings, nil
}

// IntentDetector is the malicious-intent analysis: explicit destructive or
// exfiltration intent expressed in the artifact body.
type IntentDetector struct{}

func (d *IntentDetector) Name() string { return "malicious_intent" }

func (d *IntentDetector) Detect(v View) ([]models.Finding, error) {
	intents := []struct {
		name    string
		sev     models.Severity
		markers []string
	}{
		{"destructive", models.SeverityCritical, []string{"wipe_disk", "delete_backups", "destroy_data"}},
		{"exfiltration", models.SeverityHigh, []string{"exfiltrate", "upload_batch", "post_weights"}},
		{"credential_theft", models.SeverityHigh, []string{"harvest_credentials", "token_scrape", "keylog"}},
		{"sabotage", models.SeverityHigh, []string{"corrupt_output", "silent_degrade", "poison_downstream"}},
	}

	var findings []models.Finding
	for _, in := range intents {
		hits := v.MarkerCount(in.markers...)
		if hits == 0 {
			continue
		}
		findings = append(findings, models.Finding{
			Category:    models.CategoryBehavioralAnomaly,
			Severity:    in.sev,
			Confidence:  clampUnit(0.6 + 0.15*float64(hits)),
			Description: "malicious intent indicators: " + in.name,
			Mitigation:  "Isolate the artifact and capture evidence before any execution",
			Evidence:    models.JSONB{"intent": in.name, "marker_hits": hits},
		})
	}
	return findings, nil
}
