// Package backend abstracts the completion capability the pipeline drives:
// an external text-generation service invoked with a prompt and returning
// generated text. Two interchangeable implementations are provided, a
// local OpenAI-compatible model runtime and a remote Ollama chat endpoint.
// The pipeline depends only on the request/response contract here, never
// on backend internals.
package backend

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrSchemaUnsupported is returned by Complete when the backend rejects
// schema-constrained decoding. Callers downgrade to unconstrained requests
// for the remainder of the session; the downgrade is one-way.
var ErrSchemaUnsupported = errors.New("backend does not support schema-constrained decoding")

// Message is one turn of the completion exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SchemaSpec restricts generation to outputs matching a JSON schema, on
// backends that support constrained decoding.
type SchemaSpec struct {
	// Name labels the schema in the request.
	Name string

	// Schema is the raw JSON schema document.
	Schema json.RawMessage
}

// Request is one completion call. Temperature is kept at zero for
// determinism; MaxTokens bounds the generation budget and is raised once
// by the caller when output comes back truncated.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	TopP        float32
	Stop        []string

	// Schema, when non-nil, asks for schema-constrained decoding.
	Schema *SchemaSpec
}

// Completer is the completion capability contract. Implementations are
// singleton, stateful resources: loaded once, reused across all
// conversations in a run, and not safe for concurrent requests.
type Completer interface {
	// Complete sends the request and returns the full generated text.
	// Streaming backends reassemble incremental fragments before
	// returning.
	Complete(ctx context.Context, req Request) (string, error)

	// ID returns the model identifier used in cache keys.
	ID() string

	// ContextTokens returns the model context window size.
	ContextTokens() int
}

// OutputScrubber is an optional capability: backends whose raw output
// needs backend-specific light repairs (quote folding, brace completion)
// before the shared JSON-repair stages implement it.
type OutputScrubber interface {
	ScrubOutput(raw string) string
}
