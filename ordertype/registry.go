// Package ordertype maps the human print-process labels that appear in order
// emails onto the canonical type codes used for file naming and storage.
package ordertype

import (
	"regexp"
	"strings"
)

// Code is the canonical identifier for a printing process.
type Code string

const (
	CodeDTF           Code = "dtf_textile"
	CodeProColor      Code = "dtf_procolor"
	CodeGlitter       Code = "dtf_glitter"
	CodeUVDTF         Code = "dtf_uv"
	CodeSublimation   Code = "dtf_sublimation"
	CodeGlow          Code = "dtf_glow"
	CodeGoldFoil      Code = "dtf_gold_foil"
	CodeReflective    Code = "dtf_reflective"
	CodePearl         Code = "dtf_pearl"
	CodeIridescent    Code = "dtf_iridescent"
	CodeSpangle       Code = "spangle"
	CodeThermochromic Code = "dtf_thermochromic"

	// CodeUnknown is the sentinel for labels the registry does not know.
	// Lookups never fail; callers handle CodeUnknown explicitly.
	CodeUnknown Code = "unknown"
)

// entry binds a canonical display label to its code. Variant spellings are
// handled by normalization, not by enumerating every variant.
type entry struct {
	Label string
	Code  Code
}

// The fixed registry table. Order matters only for DisplayLabel stability;
// detection sorts by label length independently.
var entries = []entry{
	{"UV DTF", CodeUVDTF},
	{"DTF", CodeDTF},
	{"ProColor", CodeProColor},
	{"Glitter", CodeGlitter},
	{"Sublimation", CodeSublimation},
	{"Glow in the Dark", CodeGlow},
	{"Gold Foil", CodeGoldFoil},
	{"Reflective", CodeReflective},
	{"Pearl", CodePearl},
	{"Iridescent", CodeIridescent},
	{"Spangle", CodeSpangle},
	{"Thermochromic", CodeThermochromic},
}

var byNormalizedLabel = func() map[string]Code {
	m := make(map[string]Code, len(entries))
	for _, e := range entries {
		m[normalize(e.Label)] = e.Code
	}
	return m
}()

var codeToLabel = func() map[Code]string {
	m := make(map[Code]string, len(entries))
	for _, e := range entries {
		m[e.Code] = e.Label
	}
	return m
}()

var separators = regexp.MustCompile(`[\s_-]+`)

// normalize collapses case, whitespace, hyphens and underscores so that
// "UV DTF", "UV-DTF" and "UVDTF" all reduce to the same key.
func normalize(label string) string {
	return strings.ToLower(separators.ReplaceAllString(strings.TrimSpace(label), ""))
}

// Resolve returns the canonical code for a raw label token, or CodeUnknown
// when the label is not in the registry.
func Resolve(label string) Code {
	if code, ok := byNormalizedLabel[normalize(label)]; ok {
		return code
	}
	return CodeUnknown
}

// DisplayLabel returns the canonical human label for a code, or "Unknown"
// for CodeUnknown and unregistered codes.
func DisplayLabel(code Code) string {
	if label, ok := codeToLabel[code]; ok {
		return label
	}
	return "Unknown"
}

// Labels returns the canonical display labels in registry order.
func Labels() []string {
	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = e.Label
	}
	return labels
}

// detectionOrder lists entries longest-label-first so that a context string
// containing "UV DTF" resolves to CodeUVDTF rather than its "DTF" substring.
var detectionOrder = func() []entry {
	ordered := make([]entry, len(entries))
	copy(ordered, entries)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && len(normalize(ordered[j].Label)) > len(normalize(ordered[j-1].Label)); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}()

// DetectInText scans free text for the most specific known type label and
// returns its code. Longer labels win over their substrings; among equally
// specific candidates the one mentioned last (closest to the end of the
// context, i.e. nearest the anchor that produced it) wins.
func DetectInText(text string) (Code, bool) {
	normalized := normalize(text)
	if normalized == "" {
		return CodeUnknown, false
	}

	bestCode := CodeUnknown
	bestLen := 0
	bestPos := -1
	for _, e := range detectionOrder {
		key := normalize(e.Label)
		pos := strings.LastIndex(normalized, key)
		if pos < 0 {
			continue
		}
		if len(key) > bestLen || (len(key) == bestLen && pos > bestPos) {
			bestCode = e.Code
			bestLen = len(key)
			bestPos = pos
		}
	}

	if bestCode == CodeUnknown {
		// Loose fallbacks mirroring how senders abbreviate in practice.
		if strings.Contains(normalized, "glow") {
			return CodeGlow, true
		}
		if strings.Contains(normalized, "gold") && strings.Contains(normalized, "foil") {
			return CodeGoldFoil, true
		}
		return CodeUnknown, false
	}
	return bestCode, true
}
