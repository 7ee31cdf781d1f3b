package extract

import (
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// A repairStage transforms a malformed payload toward parseable JSON.
// Stages are applied cumulatively, in order, with a decode attempt after
// each: the first stage whose output decodes wins and later stages never
// run. This is the ordered-strategy chain the recovery protocol requires,
// not nested exception handling.
type repairStage struct {
	name  string
	apply func(string) string
}

var repairStages = []repairStage{
	{name: "strip_artifacts", apply: stripArtifacts},
	{name: "balance_brackets", apply: balanceBrackets},
	{name: "deep_repair", apply: deepRepair},
}

var (
	invalidEscape = regexp.MustCompile(`\\([^"\\/bfnrtu])`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	doubleComma   = regexp.MustCompile(`,\s*,`)
	controlChars  = regexp.MustCompile("[\x00-\x1f]")
)

// stripArtifacts removes the light damage small models inflict most often:
// invalid backslash escapes, trailing and doubled commas, and raw control
// characters inside the payload.
func stripArtifacts(s string) string {
	s = invalidEscape.ReplaceAllString(s, "${1}")
	s = trailingComma.ReplaceAllString(s, "${1}")
	s = doubleComma.ReplaceAllString(s, ",")
	s = controlChars.ReplaceAllString(s, "")
	return s
}

// balanceBrackets closes unmatched braces and brackets: excess openers are
// closed at the end, excess closers are opened at the start. Truncated
// generations usually leave openers dangling.
func balanceBrackets(s string) string {
	s = strings.TrimSpace(s)

	if diff := strings.Count(s, "{") - strings.Count(s, "}"); diff > 0 {
		s += strings.Repeat("}", diff)
	} else if diff < 0 {
		s = strings.Repeat("{", -diff) + s
	}

	if diff := strings.Count(s, "[") - strings.Count(s, "]"); diff > 0 {
		s += strings.Repeat("]", diff)
	} else if diff < 0 {
		s = strings.Repeat("[", -diff) + s
	}
	return s
}

// deepRepair runs the general-purpose JSON auto-repair pass. When even
// that fails, the input passes through unchanged and the final decode
// attempt reports the failure.
func deepRepair(s string) string {
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return s
	}
	return repaired
}

// ArraySlice extracts the substring between the first '[' and the last
// ']' in raw model output, tolerating leading and trailing commentary the
// model may emit despite instructions. Returns "" when no array is
// present.
func ArraySlice(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}
