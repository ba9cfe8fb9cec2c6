package reports

import (
	"fmt"
	"strings"

	"github.com/aegis-sec/aegis/internal/models"
)

// IncidentReportPDF renders the full incident record for one emergency
// response: scan summary, critical findings, automated recommendations and
// the containment actions that ran.
func IncidentReportPDF(scan *models.ScanResult, resp *models.EmergencyResponse) ([]byte, error) {
	pdf := NewPDFReport("Threat Incident Report")
	pdf.AddClassificationBanner(resp.Classification)

	pdf.AddSection("Incident Overview")
	pairs := [][2]string{
		{"Response ID", resp.ResponseID},
		{"Scan ID", resp.ScanID},
		{"Threat Level", fmt.Sprintf("%.1f / 10", resp.ThreatLevel)},
		{"Final State", resp.FinalState},
		{"Containment Succeeded", fmt.Sprintf("%t", resp.Succeeded)},
		{"Triggered At", resp.CreatedAt.Format("2006-01-02 15:04:05 MST")},
	}
	if resp.CompletedAt != nil {
		pairs = append(pairs, [2]string{"Completed At", resp.CompletedAt.Format("2006-01-02 15:04:05 MST")})
	}
	pdf.AddKeyValues(pairs)

	if scan != nil {
		pdf.AddSection("Scan Summary")
		pdf.AddKeyValues([][2]string{
			{"Fingerprint", scan.Fingerprint},
			{"Mode", string(scan.Mode)},
			{"Findings", fmt.Sprintf("%d", len(scan.Findings))},
			{"Neural Health", fmt.Sprintf("%d / 100", scan.NeuralHealth)},
			{"Quantum Integrity", fmt.Sprintf("%.2f", scan.QuantumIntegrity)},
			{"Confidence", fmt.Sprintf("%.2f", scan.ConfidenceScore)},
		})

		if critical := scan.CriticalFindings(); len(critical) > 0 {
			pdf.AddSection(fmt.Sprintf("Critical Findings (%d)", len(critical)))
			rows := make([][]string, 0, len(critical))
			for _, f := range critical {
				rows = append(rows, []string{
					string(f.Category),
					fmt.Sprintf("%.2f", f.Confidence),
					f.Description,
				})
			}
			pdf.AddTable([]string{"Category", "Confidence", "Description"}, rows)
		}

		var automated []models.Recommendation
		for _, rec := range scan.Recommendations {
			if rec.Automated {
				automated = append(automated, rec)
			}
		}
		if len(automated) > 0 {
			pdf.AddSection("Automated Actions")
			rows := make([][]string, 0, len(automated))
			for _, rec := range automated {
				rows = append(rows, []string{string(rec.Priority), rec.Action})
			}
			pdf.AddTable([]string{"Priority", "Action"}, rows)
		}
	}

	if len(resp.BlockRules) > 0 {
		pdf.AddSection("Block Rules Deployed")
		pdf.AddParagraph(strings.Join(resp.BlockRules, "\n"))
	}

	if cms, ok := resp.Actions["countermeasures"]; ok {
		pdf.AddSection("Countermeasures")
		pdf.AddParagraph(fmt.Sprint(cms))
	}

	return pdf.Output()
}
