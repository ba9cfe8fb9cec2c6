package models

import "time"

// Classification tags applied to emergency response records.
const (
	ClassificationTopSecret    = "TOP_SECRET"
	ClassificationSecret       = "SECRET"
	ClassificationConfidential = "CONFIDENTIAL"
)

// ClassifyThreat maps a threat level to the audit classification of any
// response it triggers.
func ClassifyThreat(threatLevel float64) string {
	switch {
	case threatLevel >= 9:
		return ClassificationTopSecret
	case threatLevel >= 7:
		return ClassificationSecret
	default:
		return ClassificationConfidential
	}
}

// EmergencyResponse is the audit trail of one Response Engine activation.
type EmergencyResponse struct {
	ResponseID     string      `json:"response_id" db:"response_id"`
	ScanID         string      `json:"scan_id" db:"scan_id"`
	ThreatLevel    float64     `json:"threat_level" db:"threat_level"`
	Classification string      `json:"classification" db:"classification"`
	FinalState     string      `json:"final_state" db:"final_state"`
	Actions        JSONB       `json:"actions" db:"actions"`
	BlockRules     StringArray `json:"block_rules" db:"block_rules"`
	Succeeded      bool        `json:"succeeded" db:"succeeded"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// ScanStats is the aggregate view over a reporting period.
type ScanStats struct {
	Period             string  `json:"period"`
	TotalScans         int     `json:"total_scans" db:"total_scans"`
	CompletedScans     int     `json:"completed_scans" db:"completed_scans"`
	FailedScans        int     `json:"failed_scans" db:"failed_scans"`
	CriticalFindings   int     `json:"critical_findings" db:"critical_findings"`
	HighFindings       int     `json:"high_findings" db:"high_findings"`
	AvgThreatLevel     float64 `json:"avg_threat_level" db:"avg_threat_level"`
	AvgConfidence      float64 `json:"avg_confidence" db:"avg_confidence"`
	ResponsesTriggered int     `json:"responses_triggered" db:"responses_triggered"`
}
