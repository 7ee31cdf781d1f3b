package backend

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chatclean/chatclean/config"
)

// Registry memoizes Completer construction by backend identity. The
// completion capability is an expensive, stateful resource: it is built
// once per identity, reused for every conversation in the run, and
// released only at shutdown. Construction is deduplicated with
// singleflight so concurrent callers share one load.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Completer
	group    singleflight.Group
	logger   *zap.Logger
	registry *prometheus.Registry
}

// NewRegistry creates an empty registry. The prometheus registry is handed
// to backends that register collectors and may be nil.
func NewRegistry(logger *zap.Logger, registry *prometheus.Registry) *Registry {
	return &Registry{
		backends: make(map[string]Completer),
		logger:   logger,
		registry: registry,
	}
}

// identity keys a backend by everything that changes its behavior.
func identity(cfg config.BackendConfig) string {
	return cfg.Type + "|" + cfg.Endpoint + "|" + cfg.Model
}

// Get returns the memoized Completer for cfg, constructing it on first
// use. Construction failure is run fatal and propagates to the caller.
func (r *Registry) Get(cfg config.BackendConfig) (Completer, error) {
	key := identity(cfg)

	r.mu.RLock()
	if b, ok := r.backends[key]; ok {
		r.mu.RUnlock()
		return b, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		r.logger.Info("loading completion backend",
			zap.String("type", cfg.Type),
			zap.String("model", cfg.Model),
			zap.String("endpoint", cfg.Endpoint),
		)

		var (
			b   Completer
			err error
		)
		switch cfg.Type {
		case "local":
			b, err = NewLocal(cfg, r.logger)
		case "ollama":
			b, err = NewOllama(cfg, r.logger, r.registry)
		default:
			err = fmt.Errorf("unknown backend type %q", cfg.Type)
		}
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.backends[key] = b
		r.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Completer), nil
}
