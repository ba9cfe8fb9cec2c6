package detectors

import (
	"math"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/aegis-sec/aegis/internal/models"
)

// View is the read-only projection of an artifact handed to detectors.
// Detectors must not mutate it; everything they need is precomputed once
// per scan so individual detectors stay cheap and pure.
type View struct {
	Content  []byte
	Text     string // lowercased content, capped window
	Metadata models.JSONB
	Digest   [32]byte // SHA3-256 over content only (no nonce, no timestamp)
	Entropy  float64  // Shannon entropy in bits per byte
}

// NewView builds the detector view for one artifact.
func NewView(a models.Artifact) View {
	const window = 256 * 1024
	text := a.Content
	if len(text) > window {
		text = text[:window]
	}
	return View{
		Content:  a.Content,
		Text:     strings.ToLower(string(text)),
		Metadata: a.Metadata,
		Digest:   sha3.Sum256(a.Content),
		Entropy:  shannonEntropy(a.Content),
	}
}

// HasMarker reports whether any of the tokens occurs in the content text.
func (v View) HasMarker(tokens ...string) bool {
	for _, t := range tokens {
		if strings.Contains(v.Text, t) {
			return true
		}
	}
	return false
}

// MarkerCount returns how many of the tokens occur in the content text.
func (v View) MarkerCount(tokens ...string) int {
	n := 0
	for _, t := range tokens {
		if strings.Contains(v.Text, t) {
			n++
		}
	}
	return n
}

// MetaString returns a string metadata field, or "" when absent.
func (v View) MetaString(key string) string {
	if v.Metadata == nil {
		return ""
	}
	if s, ok := v.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// MetaBool returns a bool metadata field, false when absent.
func (v View) MetaBool(key string) bool {
	if v.Metadata == nil {
		return false
	}
	b, _ := v.Metadata[key].(bool)
	return b
}

// Detector inspects an artifact and returns zero or more findings. A nil
// or empty slice means clean for that detector's categories. Detectors are
// independent, side-effect-free, and deterministic.
type Detector interface {
	Name() string
	Detect(v View) ([]models.Finding, error)
}

// All returns the full detector set in canonical execution order.
func All() []Detector {
	return []Detector{
		&NeuralDetector{},
		&QuantumDetector{},
		&BehavioralDetector{},
		&AdversarialDetector{},
		&IntentDetector{},
		&AuthenticityDetector{},
		&MemoryDetector{},
		&AttackVectorDetector{},
	}
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
