package sandbox

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/aegis-sec/aegis/internal/models"
)

// LocalRuntime emulates sandbox execution in-process. It is used when no
// Docker daemon is reachable and in tests. Telemetry is a closed-form
// function of the artifact content, so scans stay deterministic.
type LocalRuntime struct {
	mu     sync.Mutex
	active map[string]models.ResourceLimits
}

func NewLocalRuntime() *LocalRuntime {
	return &LocalRuntime{active: make(map[string]models.ResourceLimits)}
}

func (r *LocalRuntime) Provision(ctx context.Context, image string, limits models.ResourceLimits) (string, error) {
	id := "local-" + uuid.New().String()
	r.mu.Lock()
	r.active[id] = limits
	r.mu.Unlock()
	return id, nil
}

func (r *LocalRuntime) Execute(ctx context.Context, sandboxID string, artifact models.Artifact) (models.ExecutionTelemetry, error) {
	text := loweredWindow(artifact.Content)

	// An artifact that declares a hang behaves like one: block until the
	// executor's deadline fires.
	if strings.Contains(text, "sandbox_hang") {
		<-ctx.Done()
		return models.ExecutionTelemetry{}, ctx.Err()
	}

	digest := sha3.Sum256(artifact.Content)

	r.mu.Lock()
	limits := r.active[sandboxID]
	r.mu.Unlock()
	memCap := limits.MemoryMB
	if memCap == 0 {
		memCap = 512
	}

	return models.ExecutionTelemetry{
		ExecutionTimeMS: int64(len(artifact.Content)%450) + 25,
		MemoryUsedMB:    int(digest[0]) % memCap,
		CPUUsedPercent:  int(digest[1]) % 100,
		NetworkAttempts: strings.Count(text, "connect(") + strings.Count(text, "http://") + strings.Count(text, "https://"),
		FileOperations:  strings.Count(text, "open(") + strings.Count(text, "write_file"),
	}, nil
}

func (r *LocalRuntime) Teardown(ctx context.Context, sandboxID string) error {
	r.mu.Lock()
	delete(r.active, sandboxID)
	r.mu.Unlock()
	return nil
}

// ActiveCount reports how many emulated sandboxes have not been torn down.
func (r *LocalRuntime) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
