package chunk

import "github.com/pkoukk/tiktoken-go"

// defaultEncoding is a reasonable tokenizer proxy for the open models the
// pipeline targets; exact counts are not required, the chunker's character
// bound is authoritative for request sizing.
const defaultEncoding = "cl100k_base"

// TokenCounter estimates token counts for logging and metrics. When the
// tiktoken encoding cannot be loaded (for example in offline environments)
// it falls back to a chars/4 approximation.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter returns a TokenCounter. Construction never fails; the
// fallback estimator is used when the encoding is unavailable.
func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the estimated number of tokens in text.
func (t *TokenCounter) Count(text string) int {
	if t.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}
