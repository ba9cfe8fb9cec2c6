package signatures

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/aegis-sec/aegis/internal/models"
)

func TestMatch_DirectContainment(t *testing.T) {
	sig := models.SignatureRecord{
		Name:     "ransomware_ai_pattern",
		Pattern:  "encrypt_files ransom payment wallet decrypt_key",
		Severity: models.SeverityCritical,
	}

	artifact := models.Artifact{
		Content: []byte("prelude encrypt_files ransom payment wallet decrypt_key postlude"),
	}

	score := Match(artifact, sig)
	if score <= DefaultMatchThreshold {
		t.Errorf("full pattern containment should exceed the threshold, got %f", score)
	}
}

func TestMatch_NoOverlap(t *testing.T) {
	sig := models.SignatureRecord{
		Pattern:  "encrypt_files ransom payment wallet decrypt_key",
		Severity: models.SeverityCritical,
	}

	score := Match(models.Artifact{Content: []byte("zebra quartz lighthouse")}, sig)
	if score > 0.1 {
		t.Errorf("unrelated content should score near zero, got %f", score)
	}
}

func TestMatch_EmptyInputs(t *testing.T) {
	sig := models.SignatureRecord{Pattern: "anything"}
	if score := Match(models.Artifact{}, sig); score != 0 {
		t.Errorf("empty content must score 0, got %f", score)
	}
	if score := Match(models.Artifact{Content: []byte("content")}, models.SignatureRecord{}); score != 0 {
		t.Errorf("empty pattern must score 0, got %f", score)
	}
}

func TestMatch_Determinism(t *testing.T) {
	sig := models.SignatureRecord{Pattern: "trigger_token hidden_branch conditional_payload activation_gate"}
	artifact := models.Artifact{Content: []byte("a trigger_token guards the hidden_branch path")}

	first := Match(artifact, sig)
	for i := 0; i < 10; i++ {
		if again := Match(artifact, sig); again != first {
			t.Fatalf("match score not deterministic: %f vs %f", first, again)
		}
	}
}

func TestMatch_CaseInsensitive(t *testing.T) {
	sig := models.SignatureRecord{Pattern: "harvest_credentials keylog token_scrape password_store"}

	lower := Match(models.Artifact{Content: []byte("harvest_credentials keylog token_scrape password_store")}, sig)
	upper := Match(models.Artifact{Content: []byte("HARVEST_CREDENTIALS KEYLOG TOKEN_SCRAPE PASSWORD_STORE")}, sig)

	if lower != upper {
		t.Errorf("matching must be case-insensitive: %f vs %f", lower, upper)
	}
}

type errorStore struct{}

func (errorStore) GetSignature(ctx context.Context, id string) (*models.SignatureRecord, error) {
	return nil, errors.New("down")
}

func (errorStore) ListSignatures(ctx context.Context, activeOnly bool) ([]models.SignatureRecord, error) {
	return nil, errors.New("down")
}

func (errorStore) CreateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	return errors.New("down")
}

func (errorStore) UpdateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	return errors.New("down")
}

func (errorStore) DeleteSignature(ctx context.Context, id string) error {
	return errors.New("down")
}

func TestEngine_LoadFallsBackToBuiltins(t *testing.T) {
	e := NewEngine(errorStore{}, slog.Default())
	e.Load(context.Background())

	snapshot := e.Snapshot()
	if len(snapshot) == 0 {
		t.Fatal("engine must never run with an empty signature set")
	}

	found := false
	for _, sig := range snapshot {
		if sig.Name == "ransomware_ai_pattern" {
			found = true
		}
	}
	if !found {
		t.Error("expected the built-in ransomware signature in the fallback set")
	}
}

func TestBuiltinSignatures_AllValid(t *testing.T) {
	for _, sig := range BuiltinSignatures() {
		sig := sig
		if err := Validate(&sig); err != nil {
			t.Errorf("built-in signature %q invalid: %v", sig.Name, err)
		}
		if !sig.Active {
			t.Errorf("built-in signature %q must be active", sig.Name)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sig     models.SignatureRecord
		wantErr bool
	}{
		{"valid", models.SignatureRecord{Name: "x", Pattern: "y", Severity: models.SeverityHigh}, false},
		{"missing name", models.SignatureRecord{Pattern: "y", Severity: models.SeverityHigh}, true},
		{"missing pattern", models.SignatureRecord{Name: "x", Severity: models.SeverityHigh}, true},
		{"bad severity", models.SignatureRecord{Name: "x", Pattern: "y", Severity: "EXTREME"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.sig)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalize_CapsWindow(t *testing.T) {
	big := strings.Repeat("A", 100*1024)
	if got := normalize([]byte(big)); len(got) != 64*1024 {
		t.Errorf("expected 64KB window, got %d", len(got))
	}
}
