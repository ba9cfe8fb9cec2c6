package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/aegis-sec/aegis/internal/models"
)

func TestIncidentReportPDF(t *testing.T) {
	now := time.Now()
	done := now.Add(2 * time.Second)

	scan := &models.ScanResult{
		ScanID:           "scan_20260830T120000_abcd1234",
		Fingerprint:      "deadbeefcafe",
		Mode:             models.ScanModeComprehensive,
		ThreatLevel:      9.2,
		ConfidenceScore:  0.88,
		NeuralHealth:     55,
		QuantumIntegrity: 0.7,
		Findings: []models.Finding{
			{Category: models.CategorySignatureMatch, Severity: models.SeverityCritical, Confidence: 0.95, Description: "signature match: ransomware_ai_pattern"},
			{Category: models.CategoryBehavioralAnomaly, Severity: models.SeverityHigh, Confidence: 0.8, Description: "malicious intent indicators: exfiltration"},
		},
		Recommendations: []models.Recommendation{
			{Priority: models.SeverityCritical, Action: "Initiate emergency isolation of the artifact and its host environment", Automated: true},
			{Priority: models.SeverityHigh, Action: "Suspend deployment pending manual adversarial review"},
		},
		StartedAt: now,
	}

	resp := &models.EmergencyResponse{
		ResponseID:     "resp-1",
		ScanID:         scan.ScanID,
		ThreatLevel:    9.2,
		Classification: models.ClassificationTopSecret,
		FinalState:     "COMPLETE",
		Actions:        models.JSONB{"countermeasures": []string{"block_matched_signature_at_ingestion"}},
		BlockRules:     models.StringArray{"deny:signature_match:CRITICAL", "deny:fingerprint:deadbeefcafe"},
		Succeeded:      true,
		CreatedAt:      now,
		CompletedAt:    &done,
	}

	pdf, err := IncidentReportPDF(scan, resp)
	if err != nil {
		t.Fatalf("report generation failed: %v", err)
	}
	if len(pdf) == 0 {
		t.Fatal("expected non-empty PDF output")
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Errorf("output does not look like a PDF: %q", pdf[:8])
	}
}

func TestIncidentReportPDF_WithoutScanRecord(t *testing.T) {
	resp := &models.EmergencyResponse{
		ResponseID:     "resp-2",
		ScanID:         "scan_gone",
		ThreatLevel:    8.1,
		Classification: models.ClassificationSecret,
		FinalState:     "COMPLETE",
		Actions:        models.JSONB{},
		Succeeded:      true,
		CreatedAt:      time.Now(),
	}

	pdf, err := IncidentReportPDF(nil, resp)
	if err != nil {
		t.Fatalf("report generation failed: %v", err)
	}
	if len(pdf) == 0 {
		t.Fatal("expected non-empty PDF output even without the scan record")
	}
}
