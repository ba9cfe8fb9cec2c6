package detectors

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aegis-sec/aegis/internal/models"
)

// memoryCombinedThreshold is the combined sub-check score above which the
// five memory checks collapse into a single CRITICAL finding.
const memoryCombinedThreshold = 5

// MemoryDetector runs the buffer-overflow-style memory checks: overflow,
// heap spray, ROP chain, code injection, and corruption. Each sub-check
// scores 0-3; a combined score above the threshold produces exactly one
// memory_manipulation finding.
type MemoryDetector struct{}

func (d *MemoryDetector) Name() string { return "memory_manipulation" }

func (d *MemoryDetector) Detect(v View) ([]models.Finding, error) {
	checks := []struct {
		name  string
		score int
	}{
		{"buffer_overflow", scoreOverflow(v)},
		{"heap_spray", scoreHeapSpray(v)},
		{"rop_chain", scoreROPChain(v)},
		{"code_injection", scoreCodeInjection(v)},
		{"memory_corruption", scoreCorruption(v)},
	}

	combined := 0
	hit := make([]string, 0, len(checks))
	evidence := models.JSONB{}
	for _, c := range checks {
		combined += c.score
		evidence[c.name] = c.score
		if c.score > 0 {
			hit = append(hit, c.name)
		}
	}
	evidence["combined_score"] = combined

	if combined <= memoryCombinedThreshold {
		return nil, nil
	}

	return []models.Finding{{
		Category:    models.CategoryMemoryManipulation,
		Severity:    models.SeverityCritical,
		Confidence:  clampUnit(float64(combined) / 15.0),
		Description: fmt.Sprintf("memory manipulation indicators: %s", strings.Join(hit, ", ")),
		Mitigation:  "Enable memory protection mode and quarantine the artifact",
		Evidence:    evidence,
	}}, nil
}

// scoreOverflow looks for classic overflow padding: long single-byte runs
// and NOP sleds.
func scoreOverflow(v View) int {
	score := 0
	if longestRun(v.Content, 'A') >= 256 {
		score += 2
	}
	if bytes.Contains(v.Content, bytes.Repeat([]byte{0x90}, 32)) {
		score += 1
	}
	if v.HasMarker("strcpy_overflow", "stack_smash") {
		score += 1
	}
	if score > 3 {
		score = 3
	}
	return score
}

func scoreHeapSpray(v View) int {
	score := 0
	if bytes.Contains(v.Content, bytes.Repeat([]byte{0x0c, 0x0c}, 16)) {
		score += 2
	}
	if v.HasMarker("heap_spray", "%u0c0c") {
		score += 1
	}
	if score > 3 {
		score = 3
	}
	return score
}

func scoreROPChain(v View) int {
	score := 0
	if v.HasMarker("rop_gadget", "ret2libc", "gadget_chain") {
		score += 2
	}
	// Dense clusters of little-endian addresses in typical library ranges.
	if addressDensity(v.Content) > 0.10 {
		score += 1
	}
	if score > 3 {
		score = 3
	}
	return score
}

func scoreCodeInjection(v View) int {
	score := 0
	if bytes.Contains(v.Content, []byte{0x31, 0xc0, 0x50, 0x68}) {
		score += 2
	}
	if v.HasMarker("/bin/sh", "shellcode", "exec_payload") {
		score += 1
	}
	if score > 3 {
		score = 3
	}
	return score
}

func scoreCorruption(v View) int {
	score := 0
	if v.HasMarker("use_after_free", "double_free", "corrupt_vtable") {
		score += 2
	}
	if v.HasMarker("arbitrary_write") {
		score += 1
	}
	if score > 3 {
		score = 3
	}
	return score
}

func longestRun(data []byte, b byte) int {
	best, cur := 0, 0
	for _, c := range data {
		if c == b {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 0
		}
	}
	return best
}

// addressDensity is the fraction of aligned 4-byte words that look like
// userspace library addresses (0x7fxxxxxx little-endian).
func addressDensity(data []byte) float64 {
	if len(data) < 4 {
		return 0
	}
	words := 0
	hits := 0
	for i := 0; i+4 <= len(data); i += 4 {
		words++
		if data[i+3] == 0x7f {
			hits++
		}
	}
	if words == 0 {
		return 0
	}
	return float64(hits) / float64(words)
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
