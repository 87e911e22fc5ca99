// Package engine assembles the routing pipeline behind a single facade:
// descriptor-backed capability registry, tag ontology kernel, scoped
// context memory, intent extraction, weighted matching, collaborative
// orchestration, knowledge fusion, and the adaptive feedback loop.
//
// New builds and starts every component, Route serves requests, Close
// tears the engine down in reverse order.
package engine

import (
	"context"
	"fmt"
	"sync"

	"roundtable/internal/config"
	"roundtable/internal/feedback"
	"roundtable/internal/intent"
	"roundtable/internal/logging"
	"roundtable/internal/matching"
	"roundtable/internal/memory"
	"roundtable/internal/orchestrator"
	"roundtable/internal/registry"
	"roundtable/internal/taxonomy"
	"roundtable/internal/types"
)

// Engine owns every routing component and their lifecycles.
type Engine struct {
	cfg *config.Config

	registry  *registry.Registry
	loader    *registry.Loader
	watcher   *registry.Watcher
	kernel    *taxonomy.Kernel
	memory    *memory.Store
	extractor *intent.Extractor
	matcher   *matching.Matcher
	orch      *orchestrator.Orchestrator
	recorder  *feedback.Recorder

	ownsMemory  bool
	watchCancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Option is a functional option for configuring the engine.
type Option func(*Engine) error

// WithRegistry injects a pre-built registry. The descriptor loader and
// watcher are skipped; the caller owns registration.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Engine) error {
		if reg == nil {
			return fmt.Errorf("nil registry")
		}
		e.registry = reg
		return nil
	}
}

// WithMemory injects a pre-built memory store. The caller keeps
// ownership: Close will not release it.
func WithMemory(store *memory.Store) Option {
	return func(e *Engine) error {
		if store == nil {
			return fmt.Errorf("nil memory store")
		}
		e.memory = store
		return nil
	}
}

// New builds an engine from config. Components not injected through
// options are constructed from config: descriptors load from
// Registry.DescriptorDir and, when WatchDescriptors is set, hot-reload
// on change.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("engine: apply option: %w", err)
		}
	}

	if e.registry == nil {
		e.registry = registry.New()
		e.loader = registry.NewLoader(cfg.Registry.DescriptorDir, e.registry)
		n, err := e.loader.Load()
		if err != nil {
			return nil, fmt.Errorf("engine: load descriptors: %w", err)
		}
		logging.Boot("registry: %d descriptor profile(s) from %s", n, cfg.Registry.DescriptorDir)
	}

	kernel, err := taxonomy.New(cfg.Taxonomy.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("engine: taxonomy kernel: %w", err)
	}
	if err := kernel.LoadProfileTags(e.registry.TagFacts()); err != nil {
		return nil, fmt.Errorf("engine: load profile tags: %w", err)
	}
	e.kernel = kernel

	if e.memory == nil {
		store, err := memory.New(cfg.Memory)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.memory = store
		e.ownsMemory = true
	}

	if cfg.Registry.WatchDescriptors && e.loader != nil {
		w, err := registry.NewWatcher(cfg.Registry.DescriptorDir, e.loader)
		if err != nil {
			if e.ownsMemory {
				e.memory.Close()
			}
			return nil, fmt.Errorf("engine: descriptor watcher: %w", err)
		}
		e.watcher = w
	}

	e.extractor = intent.New(kernel)
	e.matcher = matching.NewMatcher(cfg.Matching, kernel, e.memory)

	e.orch = orchestrator.New(cfg.Orchestrator, e.registry)
	e.orch.Start()

	e.recorder = feedback.NewRecorder(cfg.Feedback, e.orch, e.memory, cfg.Matching.DefaultEfficacy)
	e.recorder.Start()

	if e.watcher != nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		e.watchCancel = cancel
		if err := e.watcher.Start(watchCtx); err != nil {
			cancel()
			e.Close()
			return nil, fmt.Errorf("engine: start watcher: %w", err)
		}
	}

	logging.Boot("engine ready: %d profile(s), threshold %.2f, cap %d",
		e.registry.Len(), cfg.Matching.Threshold, cfg.Matching.MaxWorkingSet)
	return e, nil
}

// RecordOutcome forwards a session outcome to the feedback loop. An
// error reports malformed input only; unknown sessions are dropped
// best-effort without surfacing.
func (e *Engine) RecordOutcome(sessionID, profileID string, score float64) error {
	return e.recorder.RecordOutcome(sessionID, profileID, score)
}

// Profiles returns every registered profile, sorted by id.
func (e *Engine) Profiles() []types.Profile {
	return e.registry.All()
}

// Registry exposes the capability registry for programmatic
// registration alongside descriptor loading.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Session returns a snapshot of a tracked session.
func (e *Engine) Session(id string) (orchestrator.Session, bool) {
	return e.orch.GetSession(id)
}

// QueueStats reports evaluation queue counters.
func (e *Engine) QueueStats() orchestrator.QueueStats {
	return e.orch.QueueStats()
}

// Close stops the descriptor watcher, drains the evaluation queue and
// the feedback worker, and releases the long-term store when the
// engine created it. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.watcher != nil {
			e.watcher.Stop()
		}
		if e.watchCancel != nil {
			e.watchCancel()
		}
		e.recorder.Stop()
		e.orch.Stop()
		if e.ownsMemory {
			e.closeErr = e.memory.Close()
		}
		logging.Boot("engine closed")
	})
	return e.closeErr
}
