package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chatclean/chatclean/config"
)

// Local drives an OpenAI-compatible model runtime (for example a llama.cpp
// server). Schema-constrained decoding maps onto the runtime's
// json_schema response format; runtimes that reject it surface
// ErrSchemaUnsupported so the extractor can downgrade.
type Local struct {
	client    *openai.Client
	model     string
	ctxTokens int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewLocal creates a Local backend from config.
func NewLocal(cfg config.BackendConfig, logger *zap.Logger) (*Local, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("local backend requires a model")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}

	return &Local{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		ctxTokens: cfg.MaxContextTokens,
		timeout:   cfg.RequestTimeout,
		logger:    logger,
	}, nil
}

// ID returns the model identifier used in cache keys.
func (l *Local) ID() string { return l.model }

// ContextTokens returns the configured context window.
func (l *Local) ContextTokens() int { return l.ctxTokens }

// Complete sends a chat completion request to the runtime.
func (l *Local) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	oreq := openai.ChatCompletionRequest{
		Model:       l.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	if req.Schema != nil {
		oreq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.Schema,
				Strict: true,
			},
		}
	}

	resp, err := l.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		if req.Schema != nil && isSchemaRejection(err) {
			return "", ErrSchemaUnsupported
		}
		return "", fmt.Errorf("local completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("local completion: response contains no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// isSchemaRejection reports whether the runtime refused the constrained
// response format rather than failing for another reason.
func isSchemaRejection(err error) bool {
	var apiErr *openai.APIError
	msg := err.Error()
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "response_format") ||
		strings.Contains(msg, "json_schema") ||
		strings.Contains(msg, "grammar") ||
		strings.Contains(msg, "unsupported")
}
