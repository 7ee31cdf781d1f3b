// Package segment splits a raw text dump that may hold several
// conversations into per-conversation blocks. Splitting is best-effort:
// the completion capability proposes the boundaries, and any failure
// falls back to treating the whole input as a single conversation.
package segment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/chatclean/chatclean/backend"
	"github.com/chatclean/chatclean/cache"
	"github.com/chatclean/chatclean/extract"
	"github.com/chatclean/chatclean/metrics"
)

const segmentSystemPrompt = `You split raw chat dumps into separate conversations.
A new conversation starts when the context clearly resets: the participants
or the topic change, a new greeting or timestamp opens the exchange, or a
new customer is introduced.

Return only a JSON array of strings, each string being one full conversation,
in input order. Output must start with '[' and end with ']'.

Example output:
[
  "Conversation 1 text ...",
  "Conversation 2 text ..."
]

Do not summarize, do not label, do not add commentary. Keep the original
text of every conversation exactly as given.`

// Segmenter proposes conversation boundaries in raw text, caching the
// result per input so reruns skip the model call.
type Segmenter struct {
	backend   backend.Completer
	store     *cache.Store[[]string]
	logger    *zap.Logger
	metrics   *metrics.Metrics
	maxTokens int
}

// New creates a Segmenter. The store may be nil, in which case every
// call goes to the backend.
func New(b backend.Completer, store *cache.Store[[]string], logger *zap.Logger, m *metrics.Metrics, maxTokens int) *Segmenter {
	return &Segmenter{
		backend:   b,
		store:     store,
		logger:    logger,
		metrics:   m,
		maxTokens: maxTokens,
	}
}

// Split returns the conversations found in text, in input order. It
// never fails: any backend or parse problem degrades to a single
// segment holding the whole trimmed input. Only model-confirmed splits
// are cached; the fallback is recomputed on the next run so a transient
// failure never pins an unsegmented result.
func (s *Segmenter) Split(ctx context.Context, text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	key := cache.Key(trimmed, s.backend.ID())
	if s.store != nil {
		if segments, ok := s.store.Lookup(key); ok {
			s.metrics.ObserveCache("segmentation", true)
			return segments
		}
		s.metrics.ObserveCache("segmentation", false)
	}

	segments, ok := s.split(ctx, trimmed)
	if ok && s.store != nil {
		s.store.Put(key, segments)
	}
	return segments
}

// split asks the model for the conversation list. The second return
// value reports whether the segments came from a valid model response;
// a false means the single-segment fallback.
func (s *Segmenter) split(ctx context.Context, text string) ([]string, bool) {
	out, err := s.backend.Complete(ctx, backend.Request{
		Messages: []backend.Message{
			{Role: "system", Content: segmentSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.1,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		s.logger.Warn("segmentation call failed, treating input as one conversation",
			zap.Error(err),
		)
		return []string{text}, false
	}

	segments, err := parseSegments(out)
	if err != nil {
		s.logger.Warn("segmentation output unusable, treating input as one conversation",
			zap.Error(err),
			zap.Int("output_chars", len(out)),
		)
		return []string{text}, false
	}

	s.logger.Debug("segmentation complete", zap.Int("segments", len(segments)))
	return segments, true
}

// parseSegments decodes the model output as a JSON array of conversation
// strings, tolerating surrounding commentary. Anything that is not a
// non-empty list of strings is an error so the caller falls back to the
// source text instead of processing model-generated prose.
func parseSegments(out string) ([]string, error) {
	payload := extract.ArraySlice(out)
	if payload == "" {
		return nil, errors.New("no JSON array in output")
	}

	var segments []string
	if err := json.Unmarshal([]byte(payload), &segments); err != nil {
		return nil, err
	}

	kept := segments[:0]
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			kept = append(kept, seg)
		}
	}
	if len(kept) == 0 {
		return nil, errors.New("conversation list is empty")
	}
	return kept, nil
}
