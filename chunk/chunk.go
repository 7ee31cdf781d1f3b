// Package chunk splits normalized conversation text into bounded-size
// pieces sized relative to the completion capability's context window.
// Chunk boundaries fall only on line breaks, never mid-line, and chunk
// order is significant: records extracted from consecutive chunks of one
// conversation concatenate in chunk order.
package chunk

import "strings"

// windowFraction is the share of the model context window spent on input
// text. The remainder is left for the instruction contract and the
// generated output.
const windowFraction = 0.35

// Splitter produces context-window-bounded chunks. The bound is in
// characters: a conservative proxy that holds across tokenizers.
type Splitter struct {
	maxChars int
}

// NewSplitter returns a Splitter sized for a model with the given context
// window, using 35% of it for input text.
func NewSplitter(contextTokens int) *Splitter {
	return &Splitter{maxChars: int(float64(contextTokens) * windowFraction)}
}

// MaxChars returns the per-chunk character bound.
func (s *Splitter) MaxChars() int {
	return s.maxChars
}

// Chunks splits text into line-preserving chunks. Lines accumulate until
// adding the next one would exceed the bound, then the accumulated chunk
// is emitted and the line starts a new one. The final partial chunk is
// always emitted. A single line longer than the bound is emitted whole:
// structural integrity wins over strict size adherence. The returned
// slice can be iterated any number of times.
func (s *Splitter) Chunks(text string) []string {
	lines := strings.Split(text, "\n")

	var chunks []string
	var current []string
	length := 0
	for _, line := range lines {
		if length+len(line) > s.maxChars && len(current) > 0 {
			chunks = append(chunks, strings.TrimSpace(strings.Join(current, "\n")))
			current, length = []string{line}, len(line)
			continue
		}
		current = append(current, line)
		length += len(line)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, "\n")))
	}
	return chunks
}
