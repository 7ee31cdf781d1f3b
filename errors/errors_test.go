package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *PipelineError
		want string
	}{
		{
			name: "with underlying error",
			err:  NewBackendError("request failed", stderrors.New("connection refused")),
			want: "backend_error: request failed: connection refused",
		},
		{
			name: "without underlying error",
			err:  NewConfigError("missing model", nil),
			want: "config_error: missing model",
		},
		{
			name: "conversation scoped",
			err:  NewExtractionError("chat_row3", "unparseable output", nil),
			want: "extraction_error: unparseable output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrap(t *testing.T) {
	inner := stderrors.New("boom")
	err := NewConversationError("chat_row1", inner)

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "chat_row1", err.ConversationID)
}

func TestIsType(t *testing.T) {
	err := NewSegmentationError("split failed", nil)
	wrapped := fmt.Errorf("outer: %w", err)

	assert.True(t, IsType(wrapped, SegmentationError))
	assert.False(t, IsType(wrapped, CacheError))
	assert.False(t, IsType(stderrors.New("plain"), SegmentationError))
}

func TestIsMatchesByType(t *testing.T) {
	a := NewCacheError("write failed", nil)
	b := NewCacheError("other message", stderrors.New("disk full"))

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, NewBackendError("x", nil)))
}
