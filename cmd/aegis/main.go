package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aegis-sec/aegis/internal/audit"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/intel"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/sandbox"
	"github.com/aegis-sec/aegis/internal/scan"
	"github.com/aegis-sec/aegis/internal/signatures"
)

// aegis scans a single artifact from the command line and prints the scan
// result as JSON. Exit code 2 means the threat level reached the emergency
// trigger threshold.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	mode := flag.String("mode", "quick", "Scan mode: quick or comprehensive")
	quiet := flag.Bool("quiet", false, "Suppress log output")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: aegis [flags] <artifact-file | ->")
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *quiet {
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	content, name, err := readArtifact(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read artifact: %v\n", err)
		os.Exit(1)
	}

	sigEngine := signatures.NewEngine(builtinOnlyStore{}, logger)
	sigEngine.Load(context.Background())

	scanner := scan.New(
		scan.Config{
			MaxArtifactSize:         cfg.Scanner.MaxArtifactSize,
			SignatureMatchThreshold: cfg.Scanner.SignatureMatchThreshold,
			QuantumEnabled:          cfg.Scanner.QuantumEnabled(),
			TriggerThreshold:        cfg.Response.TriggerThreshold,
			ElevatedLogThreshold:    cfg.Response.ElevatedLogThreshold,
		},
		sigEngine,
		sandbox.NewExecutor(sandbox.NewLocalRuntime(), cfg.Sandbox, logger),
		audit.NewMemoryStore(),
		intel.NewMemoryStore(),
		nil,
		nil,
		logger,
	)
	defer scanner.Close()

	artifact := models.Artifact{Content: content, Name: name}
	result, err := scanner.Scan(context.Background(), artifact, models.ScanMode(*mode), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		os.Exit(1)
	}

	if result.ThreatLevel >= cfg.Response.TriggerThreshold {
		os.Exit(2)
	}
}

func readArtifact(path string) ([]byte, string, error) {
	if path == "-" {
		content, err := io.ReadAll(os.Stdin)
		return content, "stdin", err
	}
	content, err := os.ReadFile(path)
	return content, filepath.Base(path), err
}

// builtinOnlyStore serves no persisted signatures, so the engine always
// falls back to the built-in set. The one-shot CLI has no database.
type builtinOnlyStore struct{}

func (builtinOnlyStore) GetSignature(ctx context.Context, id string) (*models.SignatureRecord, error) {
	return nil, nil
}

func (builtinOnlyStore) ListSignatures(ctx context.Context, activeOnly bool) ([]models.SignatureRecord, error) {
	return nil, nil
}

func (builtinOnlyStore) CreateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	return fmt.Errorf("signature persistence is not available in CLI mode")
}

func (builtinOnlyStore) UpdateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	return fmt.Errorf("signature persistence is not available in CLI mode")
}

func (builtinOnlyStore) DeleteSignature(ctx context.Context, id string) error {
	return fmt.Errorf("signature persistence is not available in CLI mode")
}
