package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatclean/chatclean/config"
)

func testBackendConfig(backendType string) config.BackendConfig {
	return config.BackendConfig{
		Type:             backendType,
		Model:            "phi3",
		Endpoint:         "http://localhost:11434",
		MaxContextTokens: 8192,
		RequestTimeout:   time.Second,
	}
}

func TestRegistryMemoizesByIdentity(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)

	first, err := r.Get(testBackendConfig("ollama"))
	require.NoError(t, err)
	second, err := r.Get(testBackendConfig("ollama"))
	require.NoError(t, err)

	assert.Same(t, first.(*Ollama), second.(*Ollama))
}

func TestRegistrySeparatesIdentities(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)

	a, err := r.Get(testBackendConfig("ollama"))
	require.NoError(t, err)

	cfg := testBackendConfig("ollama")
	cfg.Model = "mistral-7b-instruct"
	b, err := r.Get(cfg)
	require.NoError(t, err)

	assert.NotSame(t, a.(*Ollama), b.(*Ollama))
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestRegistryUnknownType(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	_, err := r.Get(testBackendConfig("bedrock"))
	assert.Error(t, err)
}
