package sandbox

import (
	"testing"

	"github.com/aegis-sec/aegis/internal/models"
)

func TestHostConfig_Limits(t *testing.T) {
	hc := hostConfig(models.ResourceLimits{
		CPUPercent:      25,
		MemoryMB:        512,
		DiskMB:          100,
		NetworkIsolated: true,
	})

	if !hc.ReadonlyRootfs {
		t.Error("sandbox rootfs must be read only")
	}
	if len(hc.CapDrop) != 1 || hc.CapDrop[0] != "ALL" {
		t.Errorf("expected all capabilities dropped, got %v", hc.CapDrop)
	}
	if hc.NetworkMode != "none" {
		t.Errorf("isolated sandbox must have no network, got %s", hc.NetworkMode)
	}
	if hc.Resources.Memory != 512*1024*1024 {
		t.Errorf("unexpected memory cap: %d", hc.Resources.Memory)
	}
	if hc.Resources.NanoCPUs != 250_000_000 {
		t.Errorf("unexpected cpu cap: %d", hc.Resources.NanoCPUs)
	}
	if hc.Resources.PidsLimit == nil || *hc.Resources.PidsLimit != 64 {
		t.Error("expected a pids limit on the sandbox")
	}

	open := hostConfig(models.ResourceLimits{MemoryMB: 128})
	if open.NetworkMode != "bridge" {
		t.Errorf("expected bridge network when isolation is off, got %s", open.NetworkMode)
	}
}
