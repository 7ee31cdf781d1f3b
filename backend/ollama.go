package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chatclean/chatclean/circuitbreaker"
	"github.com/chatclean/chatclean/config"
)

// maxStreamLineBytes bounds a single NDJSON line from the stream.
const maxStreamLineBytes = 1 << 20

// Ollama drives a remote Ollama chat endpoint. Responses stream as
// newline-delimited JSON objects carrying incremental message fragments;
// Complete reassembles them into the full output. Requests run through a
// rate limiter and a circuit breaker so a struggling server degrades the
// run gracefully instead of stalling every conversation for the full
// timeout.
type Ollama struct {
	endpoint  string
	model     string
	ctxTokens int
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewOllama creates an Ollama backend from config. The registry receives
// the circuit breaker's collectors and may be nil.
func NewOllama(cfg config.BackendConfig, logger *zap.Logger, registry *prometheus.Registry) (*Ollama, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama backend requires a model")
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	breaker, err := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		Name:             "ollama",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 3,
		TestMode:         registry == nil,
	}, logger, registry)
	if err != nil {
		return nil, err
	}

	return &Ollama{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		model:     cfg.Model,
		ctxTokens: cfg.MaxContextTokens,
		timeout:   cfg.RequestTimeout,
		client:    &http.Client{},
		limiter:   rate.NewLimiter(limit, 1),
		breaker:   breaker,
		logger:    logger,
	}, nil
}

// ID returns the model identifier used in cache keys.
func (o *Ollama) ID() string { return o.model }

// ContextTokens returns the configured context window.
func (o *Ollama) ContextTokens() int { return o.ctxTokens }

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict"`
	Temperature float32  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
	TopP        float32  `json:"top_p"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Complete sends the chat request and reassembles the streamed output.
// Ollama has no constrained-decoding mode for this contract, so requests
// carrying a schema fail with ErrSchemaUnsupported and the caller retries
// unconstrained.
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	if req.Schema != nil {
		return "", ErrSchemaUnsupported
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("ollama rate limit wait: %w", err)
	}

	var output string
	err := o.breaker.Execute(func() error {
		var callErr error
		output, callErr = o.call(ctx, req)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return output, nil
}

func (o *Ollama) call(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: req.Messages,
		Stream:   true,
		Options: ollamaOptions{
			NumPredict:  req.MaxTokens,
			Temperature: req.Temperature,
			Stop:        req.Stop,
			TopP:        req.TopP,
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return o.collectStream(resp.Body)
}

// collectStream reads the NDJSON response incrementally and concatenates
// the generated fragments. Undecodable lines are skipped rather than
// failing the whole response.
func (o *Ollama) collectStream(r io.Reader) (string, error) {
	var full strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			o.logger.Debug("skipping undecodable stream line", zap.Error(err))
			continue
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama stream: %s", chunk.Error)
		}
		full.WriteString(chunk.Message.Content)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("ollama stream read: %w", err)
	}
	return strings.TrimSpace(full.String()), nil
}

// ScrubOutput applies Ollama-specific light repairs before the shared
// JSON-repair stages: smart-quote folding, spliced-object separators,
// doubled commas, and completion of unterminated strings, objects, and
// the trailing array bracket.
func (o *Ollama) ScrubOutput(raw string) string {
	s := strings.ReplaceAll(raw, "\n", " ")
	s = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'").Replace(s)
	s = strings.ReplaceAll(s, "}{", "},{")
	s = strings.ReplaceAll(s, `",,`, `",`)

	if strings.Count(s, `"`)%2 != 0 {
		s += `"`
	}
	if diff := strings.Count(s, "{") - strings.Count(s, "}"); diff > 0 {
		s += strings.Repeat("}", diff)
	}
	if !strings.HasSuffix(strings.TrimSpace(s), "]") {
		s += "]"
	}
	return s
}
