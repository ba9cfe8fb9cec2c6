package response

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aegis-sec/aegis/internal/audit"
	"github.com/aegis-sec/aegis/internal/models"
)

// State is the containment state machine position. Transitions are linear;
// a failed step is recorded and skipped over, never blocking the machine
// from reaching COMPLETE.
type State string

const (
	StateIdle                    State = "IDLE"
	StateTriggered               State = "TRIGGERED"
	StateIsolating               State = "ISOLATING"
	StateNotifying               State = "NOTIFYING"
	StateEvidenceCaptured        State = "EVIDENCE_CAPTURED"
	StateCountermeasuresDeployed State = "COUNTERMEASURES_DEPLOYED"
	StateRulesUpdated            State = "RULES_UPDATED"
	StateComplete                State = "COMPLETE"
)

// Notifier delivers emergency alerts. Implemented by the notifications
// package; a nil notifier disables the NOTIFYING step's delivery.
type Notifier interface {
	NotifyEmergency(ctx context.Context, result *models.ScanResult, classification string) error
}

// countermeasures maps a finding category to the containment action
// deployed for it.
var countermeasures = map[models.ThreatCategory]string{
	models.CategorySignatureMatch:      "block_matched_signature_at_ingestion",
	models.CategoryMemoryManipulation:  "enable_memory_protection_mode",
	models.CategoryAttackVector:        "deploy_input_vector_mitigation",
	models.CategoryAdversarial:         "freeze_deployment_pipeline",
	models.CategoryNeuralAnomaly:       "rollback_to_verified_checkpoint",
	models.CategoryAuthenticityFailure: "revoke_distribution_trust",
	models.CategoryQuantumSignature:    "force_integrity_reverification",
	models.CategoryBehavioralAnomaly:   "extend_sandbox_observation",
}

const defaultCountermeasure = "generic_isolation"

// Engine executes the emergency containment path for scans above the
// trigger threshold. Every activation is persisted to the audit store with
// a classification tag derived from the threat level.
type Engine struct {
	store    audit.Store
	notifier Notifier
	logger   *slog.Logger
}

func NewEngine(store audit.Store, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, notifier: notifier, logger: logger}
}

// Respond drives the state machine for one high-threat scan result. The
// machine always reaches COMPLETE: individual step failures are recorded on
// the response record, not propagated. The returned record reflects what
// actually ran.
func (e *Engine) Respond(ctx context.Context, result *models.ScanResult) *models.EmergencyResponse {
	record := &models.EmergencyResponse{
		ScanID:         result.ScanID,
		ThreatLevel:    result.ThreatLevel,
		Classification: models.ClassifyThreat(result.ThreatLevel),
		Actions:        models.JSONB{},
		Succeeded:      true,
		CreatedAt:      time.Now(),
	}

	e.logger.Warn("emergency response triggered",
		"scan_id", result.ScanID,
		"threat_level", result.ThreatLevel,
		"classification", record.Classification,
	)

	state := StateTriggered
	record.Actions["trigger"] = map[string]interface{}{
		"threat_level":  result.ThreatLevel,
		"finding_count": len(result.Findings),
	}

	state = e.runStep(ctx, record, state, StateIsolating, func(ctx context.Context) error {
		return e.isolate(record, result)
	})
	state = e.runStep(ctx, record, state, StateNotifying, func(ctx context.Context) error {
		if e.notifier == nil {
			return nil
		}
		return e.notifier.NotifyEmergency(ctx, result, record.Classification)
	})
	state = e.runStep(ctx, record, state, StateEvidenceCaptured, func(ctx context.Context) error {
		return e.captureEvidence(record, result)
	})
	state = e.runStep(ctx, record, state, StateCountermeasuresDeployed, func(ctx context.Context) error {
		return e.deployCountermeasures(record, result)
	})
	state = e.runStep(ctx, record, state, StateRulesUpdated, func(ctx context.Context) error {
		return e.updateBlockRules(record, result)
	})

	state = StateComplete
	now := time.Now()
	record.FinalState = string(state)
	record.CompletedAt = &now

	if err := e.store.CreateEmergencyResponse(ctx, record); err != nil {
		record.Succeeded = false
		e.logger.Error("persisting emergency response failed",
			"scan_id", result.ScanID, "error", err)
	}

	e.logger.Info("emergency response complete",
		"scan_id", result.ScanID,
		"response_id", record.ResponseID,
		"succeeded", record.Succeeded,
	)
	return record
}

// runStep executes one transition. A step error or panic marks the record
// degraded and the machine moves on.
func (e *Engine) runStep(ctx context.Context, record *models.EmergencyResponse, from, to State, fn func(context.Context) error) (next State) {
	next = to
	defer func() {
		if r := recover(); r != nil {
			record.Succeeded = false
			record.Actions[string(to)+"_error"] = fmt.Sprint(r)
			e.logger.Error("response step panicked", "from", from, "to", to, "panic", r)
		}
	}()

	if err := fn(ctx); err != nil {
		record.Succeeded = false
		record.Actions[string(to)+"_error"] = err.Error()
		e.logger.Error("response step failed", "from", from, "to", to, "error", err)
	}
	return to
}

func (e *Engine) isolate(record *models.EmergencyResponse, result *models.ScanResult) error {
	record.Actions["isolation"] = map[string]interface{}{
		"fingerprint": result.Fingerprint,
		"quarantined": true,
	}
	return nil
}

func (e *Engine) captureEvidence(record *models.EmergencyResponse, result *models.ScanResult) error {
	evidence := make([]map[string]interface{}, 0, len(result.Findings))
	for _, f := range result.Findings {
		evidence = append(evidence, map[string]interface{}{
			"category":    string(f.Category),
			"severity":    string(f.Severity),
			"confidence":  f.Confidence,
			"description": f.Description,
		})
	}
	record.Actions["evidence"] = evidence
	if result.SandboxRun != nil {
		record.Actions["sandbox_id"] = result.SandboxRun.SandboxID
	}
	return nil
}

func (e *Engine) deployCountermeasures(record *models.EmergencyResponse, result *models.ScanResult) error {
	deployed := map[string]bool{}
	for _, f := range result.Findings {
		cm, ok := countermeasures[f.Category]
		if !ok {
			cm = defaultCountermeasure
		}
		deployed[cm] = true
	}
	if len(deployed) == 0 {
		deployed[defaultCountermeasure] = true
	}

	names := make([]string, 0, len(deployed))
	for cm := range deployed {
		names = append(names, cm)
	}
	sort.Strings(names)
	record.Actions["countermeasures"] = names
	return nil
}

func (e *Engine) updateBlockRules(record *models.EmergencyResponse, result *models.ScanResult) error {
	seen := map[string]bool{}
	for _, f := range result.Findings {
		rule := fmt.Sprintf("deny:%s:%s", f.Category, f.Severity)
		if !seen[rule] {
			seen[rule] = true
			record.BlockRules = append(record.BlockRules, rule)
		}
	}
	rule := "deny:fingerprint:" + result.Fingerprint
	record.BlockRules = append(record.BlockRules, rule)
	sort.Strings(record.BlockRules)
	return nil
}
