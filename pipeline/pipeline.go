// Package pipeline orchestrates the cleaning run: normalize each
// conversation, check the result cache, chunk what is left, extract
// records chunk by chunk, and persist the concatenated result as CSV.
// Conversations are processed strictly in sequence; the completion
// backend is a shared, stateful resource and gets one request at a time.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/chatclean/chatclean/backend"
	"github.com/chatclean/chatclean/cache"
	"github.com/chatclean/chatclean/chunk"
	pipeerr "github.com/chatclean/chatclean/errors"
	"github.com/chatclean/chatclean/extract"
	"github.com/chatclean/chatclean/metrics"
	"github.com/chatclean/chatclean/normalize"
	"github.com/chatclean/chatclean/record"
	"github.com/chatclean/chatclean/source"
)

// Pipeline processes conversations one at a time. A failed conversation
// is logged and skipped; it never aborts the run.
type Pipeline struct {
	normalizer normalize.Normalizer
	splitter   *chunk.Splitter
	extractor  *extract.Extractor
	backend    backend.Completer
	store      *cache.Store[[]record.MessageRecord]
	outputDir  string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Options bundles the pipeline's collaborators. Store may be nil to
// disable caching, metrics may be nil to disable recording.
type Options struct {
	Normalizer normalize.Normalizer
	Splitter   *chunk.Splitter
	Extractor  *extract.Extractor
	Backend    backend.Completer
	Store      *cache.Store[[]record.MessageRecord]
	OutputDir  string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// New creates a Pipeline and ensures the output directory exists.
func New(opts Options) (*Pipeline, error) {
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", opts.OutputDir, err)
	}
	return &Pipeline{
		normalizer: opts.Normalizer,
		splitter:   opts.Splitter,
		extractor:  opts.Extractor,
		backend:    opts.Backend,
		store:      opts.Store,
		outputDir:  opts.OutputDir,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}, nil
}

// Run processes every conversation in order. It returns the number of
// conversations that produced records; per-conversation failures are
// absorbed so one broken input cannot sink the batch.
func (p *Pipeline) Run(ctx context.Context, conversations []source.Conversation) int {
	cleaned := 0
	for _, conv := range conversations {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("run cancelled",
				zap.Int("remaining", len(conversations)-cleaned),
				zap.Error(err),
			)
			return cleaned
		}

		records, err := p.processSafely(ctx, conv)
		switch {
		case err != nil:
			p.metrics.IncConversation("failed")
			p.logger.Error("conversation failed",
				zap.String("conversation_id", conv.ID),
				zap.Error(pipeerr.NewConversationError(conv.ID, err)),
			)
		case len(records) == 0:
			p.metrics.IncConversation("empty")
			p.logger.Warn("no data returned for conversation",
				zap.String("conversation_id", conv.ID),
			)
		default:
			p.metrics.IncConversation("cleaned")
			cleaned++
		}
	}
	return cleaned
}

// processSafely converts a panic inside one conversation into an error,
// keeping the run alive.
func (p *Pipeline) processSafely(ctx context.Context, conv source.Conversation) (records []record.MessageRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing: %v", r)
		}
	}()
	return p.Process(ctx, conv)
}

// Process cleans a single conversation end to end and writes its CSV.
// An empty raw text yields no records, no cache entry, and no file.
func (p *Pipeline) Process(ctx context.Context, conv source.Conversation) ([]record.MessageRecord, error) {
	normalized := p.normalizer.Normalize(conv.RawText)
	if normalized == "" {
		return nil, nil
	}

	key := cache.Key(normalized, p.backend.ID())
	if p.store != nil {
		if records, ok := p.store.Lookup(key); ok {
			p.metrics.ObserveCache("result", true)
			p.logger.Info("cache hit",
				zap.String("conversation_id", conv.ID),
				zap.Int("records", len(records)),
			)
			if err := p.persist(conv.ID, records); err != nil {
				return nil, err
			}
			return records, nil
		}
		p.metrics.ObserveCache("result", false)
	}

	chunks := p.splitter.Chunks(normalized)
	p.logger.Info("processing conversation",
		zap.String("conversation_id", conv.ID),
		zap.Int("chunks", len(chunks)),
		zap.Int("normalized_chars", len(normalized)),
	)

	var records []record.MessageRecord
	for i, c := range chunks {
		chunkRecords, err := p.extractor.Extract(ctx, c)
		if err != nil {
			return nil, pipeerr.NewExtractionError(conv.ID, fmt.Sprintf("chunk %d/%d", i+1, len(chunks)), err)
		}
		records = append(records, chunkRecords...)
	}

	if len(records) == 0 {
		return nil, nil
	}

	if p.store != nil {
		if err := p.store.Put(key, records); err != nil {
			// Cache writes are advisory; the cleaned result still counts.
			p.logger.Warn("cache write failed",
				zap.String("conversation_id", conv.ID),
				zap.Error(err),
			)
		}
	}
	if err := p.persist(conv.ID, records); err != nil {
		return nil, err
	}
	return records, nil
}

// persist writes the per-conversation CSV.
func (p *Pipeline) persist(conversationID string, records []record.MessageRecord) error {
	path := filepath.Join(p.outputDir, conversationID+"_clean.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := record.WriteCSV(f, records); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	p.logger.Info("wrote cleaned conversation",
		zap.String("conversation_id", conversationID),
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return nil
}
