// Package normalize canonicalizes raw conversation text into a form that
// maximizes the downstream extractor's ability to segment turns. No exact
// grammar exists for casual chat transcripts; simple structural cues
// (dashes, colons, sentence boundaries) give the model enough signal to
// recover turn boundaries without hand-written conversation parsing.
package normalize

import (
	"html"
	"regexp"
	"strings"
)

// Normalizer canonicalizes raw conversation text. Implementations must be
// total: normalization never fails, and must be idempotent so cache keys
// derived from normalized text are stable across reruns.
type Normalizer interface {
	Normalize(text string) string
}

const (
	// maxInline is the length above which text is regrouped into
	// separator-joined blocks as advisory context shaping. The
	// context-window chunker remains authoritative for request sizing.
	maxInline = 1500

	// regroupTarget is the approximate character length of one block.
	regroupTarget = 700

	// blockSeparator joins regrouped blocks. Normalization folds it back
	// out on re-entry, keeping the transform idempotent.
	blockSeparator = "\n\n---\n\n"

	separatorLine = "---"
)

var (
	// delimiters unifies carriage returns and the two alternate message
	// delimiters some exports use (ASCII and full-width pipes).
	delimiters = strings.NewReplacer("\r", "\n", "||", "\n", "｜｜", "\n")

	// hspace collapses runs of horizontal whitespace.
	hspace = regexp.MustCompile(`[ \t]+`)

	// sentenceSplit breaks before a reply that starts mid-line, as in
	// "ok. since when? neha- today only": one person finishes and
	// another answers without a line break of their own.
	sentenceSplit = regexp.MustCompile(`([.!?])\s*([A-Z]?[a-z]+[-–—])`)

	// speakerCue breaks the line after tokens like "Ravi:" or "neha-",
	// so "Ravi: ok" becomes "Ravi:\nok".
	speakerCue = regexp.MustCompile(`([A-Za-z0-9)\]])([:\-])\s+`)

	// turnBreak splits after sentence-terminal punctuation when the next
	// token looks like a speaker cue: "since when? Neha-" becomes
	// "since when?\nNeha-".
	turnBreak = regexp.MustCompile(`([.?!])\s+([A-Z][a-z]+[-:])`)

	// blankRuns collapses consecutive line breaks.
	blankRuns = regexp.MustCompile(`\n{2,}`)
)

// Heuristic is the regex-based Normalizer used by the pipeline. It is a
// best-effort strategy behind the Normalizer interface so alternative
// segmentation heuristics can be substituted without touching the pipeline.
type Heuristic struct{}

// NewHeuristic returns the default normalizer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Normalize canonicalizes text. The steps, in order: HTML entity decoding,
// delimiter unification, horizontal whitespace collapsing, speaker-cue and
// turn-boundary line breaks, blank-run collapsing, advisory separator
// folding, and regrouping of oversized texts into ~700-char blocks.
func (h *Heuristic) Normalize(text string) string {
	text = html.UnescapeString(text)
	text = delimiters.Replace(text)
	text = hspace.ReplaceAllString(text, " ")
	text = sentenceSplit.ReplaceAllString(text, "${1}\n${2}")
	text = speakerCue.ReplaceAllString(text, "${1}${2}\n")
	text = turnBreak.ReplaceAllString(text, "${1}\n${2}")
	text = blankRuns.ReplaceAllString(text, "\n")
	text = strings.TrimSpace(text)
	text = dropSeparatorLines(text)

	if len(text) > maxInline {
		text = regroup(text)
	}
	return strings.TrimSpace(text)
}

// dropSeparatorLines removes advisory block separators produced by a prior
// normalization pass, restoring the underlying line sequence so regrouping
// is deterministic on re-entry.
func dropSeparatorLines(text string) string {
	if !strings.Contains(text, separatorLine) {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == separatorLine {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// regroup accumulates lines into blocks of roughly regroupTarget characters
// and joins them with the advisory separator.
func regroup(text string) string {
	lines := strings.Split(text, "\n")

	var blocks []string
	var block []string
	length := 0
	for _, line := range lines {
		length += len(line)
		block = append(block, line)
		if length > regroupTarget {
			blocks = append(blocks, strings.Join(block, "\n"))
			block, length = nil, 0
		}
	}
	if len(block) > 0 {
		blocks = append(blocks, strings.Join(block, "\n"))
	}
	return strings.Join(blocks, blockSeparator)
}
