package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chatclean/chatclean/backend"
	"github.com/chatclean/chatclean/config"
	"github.com/chatclean/chatclean/record"
)

// mockCompleter scripts a sequence of completion outcomes and records
// every request it receives.
type mockCompleter struct {
	t        *testing.T
	script   []func(backend.Request) (string, error)
	requests []backend.Request
}

func (m *mockCompleter) Complete(_ context.Context, req backend.Request) (string, error) {
	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		m.t.Fatalf("unexpected completion call %d", len(m.requests))
	}
	fn := m.script[0]
	m.script = m.script[1:]
	return fn(req)
}

func (m *mockCompleter) ID() string         { return "mock-model" }
func (m *mockCompleter) ContextTokens() int { return 8192 }

func respond(out string) func(backend.Request) (string, error) {
	return func(backend.Request) (string, error) { return out, nil }
}

func fail(err error) func(backend.Request) (string, error) {
	return func(backend.Request) (string, error) { return "", err }
}

// scrubbingCompleter additionally offers the light output repairs some
// backends provide.
type scrubbingCompleter struct {
	mockCompleter
}

func (s *scrubbingCompleter) ScrubOutput(raw string) string {
	raw = strings.ReplaceAll(raw, "\u201c", `"`)
	raw = strings.ReplaceAll(raw, "\u201d", `"`)
	return raw
}

func testConfig() config.BackendConfig {
	return config.BackendConfig{
		Type:              "local",
		Model:             "mock-model",
		MaxContextTokens:  8192,
		MaxOutputTokens:   2048,
		RetryOutputTokens: 3072,
		Temperature:       0.1,
		TopP:              0.9,
		Stop:              []string{"```"},
	}
}

func newTestExtractor(t *testing.T, mock backend.Completer) *Extractor {
	return New(mock, testConfig(), zaptest.NewLogger(t), nil)
}

func TestExtractHappyPath(t *testing.T) {
	mock := &mockCompleter{t: t, script: []func(backend.Request) (string, error){
		respond(`[{"time":"09:00","speaker":"Ravi","role":"Agent","message":"ok. since when?"},
{"time":null,"speaker":"Neha","role":"User","message":"today only"}]`),
	}}
	e := newTestExtractor(t, mock)

	records, err := e.Extract(context.Background(), "Ravi: ok. since when?\nneha- today only")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, record.RoleAgent, records[0].Role)
	assert.Equal(t, "Neha", records[1].Speaker)
	assert.Nil(t, records[1].Time)

	require.Len(t, mock.requests, 1)
	req := mock.requests[0]
	require.NotNil(t, req.Schema, "constrained decoding should be on by default")
	assert.Equal(t, "message_records", req.Schema.Name)
	assert.Equal(t, 2048, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "neha- today only")
}

func TestExtractToleratesCommentary(t *testing.T) {
	mock := &mockCompleter{t: t, script: []func(backend.Request) (string, error){
		respond("Here is the parsed conversation:\n" +
			`[{"time":null,"speaker":"A","role":"User","message":"hi"}]` +
			"\nHope that helps!"),
	}}
	e := newTestExtractor(t, mock)

	records, err := e.Extract(context.Background(), "A: hi")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hi", records[0].Message)
}

func TestExtractRepairsTrailingComma(t *testing.T) {
	mock := &mockCompleter{t: t, script: []func(backend.Request) (string, error){
		respond(`[{"time":null,"speaker":"A","role":"User","message":"hi"},]`),
	}}
	e := newTestExtractor(t, mock)

	records, err := e.Extract(context.Background(), "A: hi")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].Speaker)
}

func TestExtractRetriesNearEmptyOutput(t *testing.T) {
	mock := &mockCompleter{t: t, script: []func(backend.Request) (string, error){
		respond("[]"),
		respond(`[{"time":null,"speaker":"B","role":"Agent","message":"hello"}]`),
	}}
	e := newTestExtractor(t, mock)

	records, err := e.Extract(context.Background(), "B: hello")
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.Len(t, mock.requests, 2)
	assert.Equal(t, 2048, mock.requests[0].MaxTokens)
	assert.Equal(t, 3072, mock.requests[1].MaxTokens, "retry should use the larger budget")
}

func TestExtractSchemaDowngradeIsOneWay(t *testing.T) {
	out := `[{"time":null,"speaker":"A","role":"User","message":"hi"}]`
	mock := &mockCompleter{t: t, script: []func(backend.Request) (string, error){
		fail(backend.ErrSchemaUnsupported),
		respond(out),
		respond(out),
	}}
	e := newTestExtractor(t, mock)

	records, err := e.Extract(context.Background(), "A: hi")
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Second extraction must not probe the schema again.
	records, err = e.Extract(context.Background(), "A: hi")
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.Len(t, mock.requests, 3)
	assert.NotNil(t, mock.requests[0].Schema)
	assert.Nil(t, mock.requests[1].Schema)
	assert.Nil(t, mock.requests[2].Schema)
}

func TestExtractGarbageYieldsEmptyNotError(t *testing.T) {
	mock := &mockCompleter{t: t, script: []func(backend.Request) (string, error){
		respond("I am sorry, I cannot parse this conversation."),
		respond("Still nothing useful here."),
	}}
	e := newTestExtractor(t, mock)

	records, err := e.Extract(context.Background(), "garbage input")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExtractInvalidRoleRejectsWholeList(t *testing.T) {
	mock := &mockCompleter{t: t, script: []func(backend.Request) (string, error){
		respond(`[{"time":null,"speaker":"A","role":"User","message":"ok"},
{"time":null,"speaker":"B","role":"Manager","message":"no"}]`),
	}}
	e := newTestExtractor(t, mock)

	records, err := e.Extract(context.Background(), "A: ok\nB: no")
	require.NoError(t, err)
	assert.Empty(t, records, "one invalid record must reject the whole list")
}

func TestExtractBackendErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &mockCompleter{t: t, script: []func(backend.Request) (string, error){
		fail(boom),
	}}
	e := newTestExtractor(t, mock)

	_, err := e.Extract(context.Background(), "A: hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestExtractUsesBackendScrubber(t *testing.T) {
	mock := &scrubbingCompleter{mockCompleter: mockCompleter{t: t, script: []func(backend.Request) (string, error){
		respond("[{\u201ctime\u201d:null,\u201cspeaker\u201d:\"A\",\"role\":\"User\",\"message\":\"hi\"}]"),
	}}}
	e := newTestExtractor(t, mock)

	records, err := e.Extract(context.Background(), "A: hi")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].Speaker)
}

func TestExtractCanonicalizesRecords(t *testing.T) {
	mock := &mockCompleter{t: t, script: []func(backend.Request) (string, error){
		respond(`[{"time":"","speaker":"","role":"user","message":"hi"}]`),
	}}
	e := newTestExtractor(t, mock)

	records, err := e.Extract(context.Background(), "hi")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.RoleUser, records[0].Role)
	assert.Equal(t, record.UnknownSpeaker, records[0].Speaker)
	assert.Nil(t, records[0].Time)
}
