// Package extract implements the structured extraction client: it sends a
// normalized text chunk plus a fixed instruction contract to the
// completion capability, enforces the message-record output schema, and
// performs staged malformed-output recovery. Extraction failure is local:
// an unparseable chunk yields an empty record list, never an aborted
// conversation or run.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatclean/chatclean/backend"
	"github.com/chatclean/chatclean/chunk"
	"github.com/chatclean/chatclean/config"
	"github.com/chatclean/chatclean/metrics"
	"github.com/chatclean/chatclean/record"
)

// minPayloadLen is the shortest payload worth parsing; anything shorter
// than "[…]" with content triggers the larger-budget retry.
const minPayloadLen = 3

// snippetLogLimit bounds the payload excerpt attached to failure logs.
const snippetLogLimit = 600

// constraintState is the two-state machine for schema-constrained
// decoding. The transition Enabled -> Disabled happens at most once per
// extractor lifetime and is never re-entered.
type constraintState int

const (
	constraintEnabled constraintState = iota
	constraintDisabled
)

// Extractor converts text chunks into validated MessageRecord lists.
// It is not safe for concurrent use; the pipeline is strictly sequential
// by design because the completion capability is a shared, stateful
// resource.
type Extractor struct {
	backend     backend.Completer
	logger      *zap.Logger
	metrics     *metrics.Metrics
	tokens      *chunk.TokenCounter
	constraint  constraintState
	temperature float32
	topP        float32
	stop        []string
	maxTokens   int
	retryTokens int
}

// New creates an Extractor bound to the given backend. Generation
// parameters come from the backend config; constrained decoding starts
// enabled and downgrades on first rejection.
func New(b backend.Completer, cfg config.BackendConfig, logger *zap.Logger, m *metrics.Metrics) *Extractor {
	return &Extractor{
		backend:     b,
		logger:      logger,
		metrics:     m,
		tokens:      chunk.NewTokenCounter(),
		constraint:  constraintEnabled,
		temperature: float32(cfg.Temperature),
		topP:        float32(cfg.TopP),
		stop:        cfg.Stop,
		maxTokens:   cfg.MaxOutputTokens,
		retryTokens: cfg.RetryOutputTokens,
	}
}

// Extract sends one chunk through the extraction protocol and returns the
// ordered records it contains. An empty result with a nil error means the
// output carried no parseable records; a non-nil error means the backend
// call itself failed.
func (e *Extractor) Extract(ctx context.Context, chunkText string) ([]record.MessageRecord, error) {
	msgs, err := buildMessages(chunkText)
	if err != nil {
		return nil, fmt.Errorf("build extraction prompt: %w", err)
	}

	raw, err := e.complete(ctx, msgs, e.maxTokens)
	if err != nil {
		return nil, err
	}

	payload := e.preparePayload(raw)
	if len(payload) < minPayloadLen {
		// Covers truncated generations: one retry with a larger budget.
		e.logger.Debug("near-empty payload, retrying with larger budget",
			zap.Int("payload_chars", len(payload)),
			zap.Int("retry_budget", e.retryTokens),
		)
		retryRaw, retryErr := e.complete(ctx, msgs, e.retryTokens)
		if retryErr != nil {
			return nil, retryErr
		}
		if retried := e.preparePayload(retryRaw); len(retried) > len(payload) {
			payload = retried
		}
	}

	if strings.TrimSpace(payload) == "" {
		e.logger.Warn("no JSON array detected in model output",
			zap.Int("output_chars", len(raw)),
		)
		return nil, nil
	}

	records, err := decodeRecords(payload)
	if err != nil {
		records, err = e.repair(payload)
	}
	if err != nil {
		e.metrics.IncExtractionFailure()
		e.logger.Warn("model output unparseable after all repair stages",
			zap.Error(err),
			zap.String("snippet", truncate(payload, snippetLogLimit)),
		)
		return nil, nil
	}
	return records, nil
}

// complete issues one completion call, handling the one-way constrained
// decoding downgrade.
func (e *Extractor) complete(ctx context.Context, msgs []backend.Message, budget int) (string, error) {
	req := backend.Request{
		Messages:    msgs,
		Temperature: e.temperature,
		MaxTokens:   budget,
		TopP:        e.topP,
		Stop:        e.stop,
	}
	if e.constraint == constraintEnabled {
		req.Schema = recordArraySchema()
	}

	e.metrics.IncExtractionRequest()
	start := time.Now()
	out, err := e.backend.Complete(ctx, req)
	if errors.Is(err, backend.ErrSchemaUnsupported) && e.constraint == constraintEnabled {
		e.constraint = constraintDisabled
		e.metrics.IncSchemaDowngrade()
		e.logger.Warn("schema-constrained decoding unsupported, disabled for the rest of the session")

		req.Schema = nil
		out, err = e.backend.Complete(ctx, req)
	}
	e.metrics.ObserveBackend(e.backend.ID(), time.Since(start))
	if err != nil {
		return "", err
	}

	e.logger.Debug("completion finished",
		zap.Int("prompt_tokens_est", e.promptTokens(msgs)),
		zap.Int("budget", budget),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// preparePayload slices the JSON array out of raw output and applies the
// backend's light repairs when it provides them.
func (e *Extractor) preparePayload(raw string) string {
	payload := ArraySlice(raw)
	if payload == "" {
		return ""
	}
	if scrubber, ok := e.backend.(backend.OutputScrubber); ok {
		payload = scrubber.ScrubOutput(payload)
	}
	return payload
}

// repair runs the staged recovery chain, re-attempting a decode after
// each stage and stopping at the first success.
func (e *Extractor) repair(payload string) ([]record.MessageRecord, error) {
	text := payload
	var lastErr error
	for _, stage := range repairStages {
		text = stage.apply(text)
		records, err := decodeRecords(text)
		if err == nil {
			e.metrics.IncRepairSuccess(stage.name)
			e.logger.Debug("repair stage recovered payload", zap.String("stage", stage.name))
			return records, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("unparseable after %d repair stages: %w", len(repairStages), lastErr)
}

// decodeRecords parses a payload into canonicalized, validated records.
// A single invalid record rejects the whole list: partial results are
// never returned.
func decodeRecords(payload string) ([]record.MessageRecord, error) {
	var records []record.MessageRecord
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Canonicalize()
	}
	if err := record.ValidateAll(records); err != nil {
		return nil, err
	}
	return records, nil
}

func (e *Extractor) promptTokens(msgs []backend.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.tokens.Count(m.Content)
	}
	return total
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
