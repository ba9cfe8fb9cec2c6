package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

// ThreatCategory is the fixed set of finding categories. It is extensible
// only by adding a new detector type together with a scoring weight.
type ThreatCategory string

const (
	CategorySignatureMatch      ThreatCategory = "signature_match"
	CategoryBehavioralAnomaly   ThreatCategory = "behavioral_anomaly"
	CategoryNeuralAnomaly       ThreatCategory = "neural_anomaly"
	CategoryMemoryManipulation  ThreatCategory = "memory_manipulation"
	CategoryAttackVector        ThreatCategory = "attack_vector"
	CategoryAdversarial         ThreatCategory = "adversarial"
	CategoryAuthenticityFailure ThreatCategory = "authenticity_failure"
	CategoryQuantumSignature    ThreatCategory = "quantum_signature"
)

// CategoryOrder is the canonical merge order for findings. Detectors may run
// concurrently; results are always assembled in this order so the computed
// threat level is reproducible for identical inputs.
var CategoryOrder = []ThreatCategory{
	CategorySignatureMatch,
	CategoryNeuralAnomaly,
	CategoryQuantumSignature,
	CategoryBehavioralAnomaly,
	CategoryAdversarial,
	CategoryAuthenticityFailure,
	CategoryMemoryManipulation,
	CategoryAttackVector,
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Multiplier maps a severity to its scoring multiplier.
func (s Severity) Multiplier() float64 {
	switch s {
	case SeverityLow:
		return 1.0
	case SeverityMedium:
		return 2.0
	case SeverityHigh:
		return 3.0
	case SeverityCritical:
		return 4.0
	default:
		return 1.0
	}
}

// Rank orders severities for comparisons and notification gating.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

type ScanMode string

const (
	ScanModeQuick         ScanMode = "quick"
	ScanModeComprehensive ScanMode = "comprehensive"
)

type ScanStatus string

const (
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Artifact is the opaque input being scanned. It is supplied by the caller
// per scan call and not retained beyond the scan's lifetime except via the
// fingerprint reference in audit records.
type Artifact struct {
	Content  []byte `json:"content"`
	Name     string `json:"name,omitempty"`
	Metadata JSONB  `json:"metadata,omitempty"`
}

// Finding is the immutable output of one detector invocation.
type Finding struct {
	Category    ThreatCategory `json:"category" db:"category"`
	Severity    Severity       `json:"severity" db:"severity"`
	Confidence  float64        `json:"confidence" db:"confidence"`
	Description string         `json:"description" db:"description"`
	Mitigation  string         `json:"mitigation" db:"mitigation"`
	Evidence    JSONB          `json:"evidence,omitempty" db:"evidence"`
}

// Recommendation is an operator action suggested by the scorer.
type Recommendation struct {
	Priority  Severity `json:"priority"`
	Action    string   `json:"action"`
	Automated bool     `json:"automated"`
}

// ScanResult is the aggregate record of one scan call. It is created at scan
// start, mutated only by the orchestrator during that call, and persisted
// exactly once at scan end.
type ScanResult struct {
	ScanID           string           `json:"scan_id" db:"scan_id"`
	Fingerprint      string           `json:"fingerprint" db:"fingerprint"`
	RequesterID      *string          `json:"requester_id,omitempty" db:"requester_id"`
	Mode             ScanMode         `json:"mode" db:"mode"`
	Status           ScanStatus       `json:"status" db:"status"`
	Findings         []Finding        `json:"findings"`
	NeuralHealth     int              `json:"neural_health" db:"neural_health"`
	QuantumIntegrity float64          `json:"quantum_integrity" db:"quantum_integrity"`
	ThreatLevel      float64          `json:"threat_level" db:"threat_level"`
	ConfidenceScore  float64          `json:"confidence_score" db:"confidence_score"`
	Recommendations  []Recommendation `json:"recommendations"`
	SandboxRun       *SandboxRun      `json:"sandbox_run,omitempty"`
	ScanDurationMS   int64            `json:"scan_duration_ms" db:"scan_duration_ms"`
	Error            *string          `json:"error,omitempty" db:"error"`
	Persisted        bool             `json:"persisted"`
	StartedAt        time.Time        `json:"timestamp" db:"started_at"`
}

// CriticalFindings returns the subset of findings at CRITICAL severity.
func (r *ScanResult) CriticalFindings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			out = append(out, f)
		}
	}
	return out
}

// SignatureRecord is a known-bad pattern. Loaded at startup from storage
// with a built-in fallback set; read-only during a scan.
type SignatureRecord struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Severity    Severity  `json:"severity" db:"severity"`
	Pattern     string    `json:"pattern" db:"pattern"`
	Mitigation  string    `json:"mitigation" db:"mitigation"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ResourceLimits bounds a sandbox run.
type ResourceLimits struct {
	CPUPercent      int  `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryMB        int  `json:"memory_mb" yaml:"memory_mb"`
	DiskMB          int  `json:"disk_mb" yaml:"disk_mb"`
	NetworkIsolated bool `json:"network_isolated" yaml:"network_isolated"`
}

// ExecutionTelemetry captures what the artifact did inside the sandbox.
type ExecutionTelemetry struct {
	ExecutionTimeMS int64 `json:"execution_time_ms"`
	MemoryUsedMB    int   `json:"memory_used_mb"`
	CPUUsedPercent  int   `json:"cpu_used_percent"`
	NetworkAttempts int   `json:"network_attempts"`
	FileOperations  int   `json:"file_operations"`
}

// EscapeResult reports sandbox escape attempts.
type EscapeResult struct {
	Detected   bool     `json:"detected"`
	Techniques []string `json:"techniques,omitempty"`
	Confidence float64  `json:"confidence"`
}

// MaliciousActions flags behavior classes observed during execution.
type MaliciousActions struct {
	FileEncryption      bool `json:"file_encryption"`
	DataExfiltration    bool `json:"data_exfiltration"`
	PrivilegeEscalation bool `json:"privilege_escalation"`
	Persistence         bool `json:"persistence"`
}

// SandboxRun is the full record of one sandbox session. Teardown runs
// exactly once per session regardless of run outcome.
type SandboxRun struct {
	SandboxID string             `json:"sandbox_id"`
	Limits    ResourceLimits     `json:"limits"`
	Execution ExecutionTelemetry `json:"execution"`
	Escape    EscapeResult       `json:"escape"`
	Actions   MaliciousActions   `json:"actions"`
	TimedOut  bool               `json:"timed_out"`
	Error     string             `json:"error,omitempty"`
}

// ScanSummary is the trimmed history view of a persisted scan.
type ScanSummary struct {
	ScanID          string     `json:"scan_id" db:"scan_id"`
	Fingerprint     string     `json:"fingerprint" db:"fingerprint"`
	Mode            ScanMode   `json:"mode" db:"mode"`
	Status          ScanStatus `json:"status" db:"status"`
	ThreatLevel     float64    `json:"threat_level" db:"threat_level"`
	ConfidenceScore float64    `json:"confidence_score" db:"confidence_score"`
	FindingCount    int        `json:"finding_count" db:"finding_count"`
	StartedAt       time.Time  `json:"timestamp" db:"started_at"`
}

// ThreatEvent is the denormalized per-finding audit row.
type ThreatEvent struct {
	EventID    string         `json:"event_id" db:"event_id"`
	ScanID     string         `json:"scan_id" db:"scan_id"`
	Category   ThreatCategory `json:"category" db:"category"`
	Severity   Severity       `json:"severity" db:"severity"`
	Confidence float64        `json:"confidence" db:"confidence"`
	Detail     string         `json:"detail" db:"detail"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}
