package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/neoclaw-ai/promptsmith/internal/agent"
	"github.com/neoclaw-ai/promptsmith/internal/capability"
	"github.com/neoclaw-ai/promptsmith/internal/config"
	"github.com/neoclaw-ai/promptsmith/internal/costs"
	"github.com/neoclaw-ai/promptsmith/internal/egress"
	"github.com/neoclaw-ai/promptsmith/internal/events"
	"github.com/neoclaw-ai/promptsmith/internal/feedback"
	"github.com/neoclaw-ai/promptsmith/internal/generation"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/lookups"
	"github.com/neoclaw-ai/promptsmith/internal/memory"
	"github.com/neoclaw-ai/promptsmith/internal/prompts"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
	"github.com/neoclaw-ai/promptsmith/internal/refine"
	"github.com/neoclaw-ai/promptsmith/internal/session"
	"github.com/neoclaw-ai/promptsmith/internal/store"
	"github.com/neoclaw-ai/promptsmith/internal/synthesis"
)

var providerFactory = provider.NewProviderFromConfig

// lockFileName is the pid file that marks the one process allowed to write
// the stores.
const lockFileName = "smith.pid"

// stores are the append-only logs every command reads.
type stores struct {
	turns    *session.Log
	feedback *feedback.Store
	prompts  *prompts.Store
}

func loadStores(cfg *config.Config) (*stores, error) {
	turns, err := session.Open(cfg.TurnsPath())
	if err != nil {
		return nil, err
	}
	fb, err := feedback.Open(cfg.FeedbackPath(), turns)
	if err != nil {
		return nil, err
	}
	ps, err := prompts.Open(cfg.PromptsPath(), "")
	if err != nil {
		return nil, err
	}
	return &stores{turns: turns, feedback: fb, prompts: ps}, nil
}

// openStores loads the stores for reading. An unseeded prompt history is
// seeded only when no other process holds the writer lock; the holder seeds
// it otherwise.
func openStores(cfg *config.Config) (*stores, error) {
	s, err := loadStores(cfg)
	if err != nil {
		return nil, err
	}
	if s.prompts.Current().Version > 0 {
		return s, nil
	}

	lock, err := store.AcquireLock(lockPath(cfg))
	if errors.Is(err, store.ErrLocked) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer releaseLock(lock)

	if s, err = loadStores(cfg); err != nil {
		return nil, err
	}
	if err := s.prompts.EnsureSeed(); err != nil {
		return nil, fmt.Errorf("seed prompt history: %w", err)
	}
	return s, nil
}

func lockPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir(), lockFileName)
}

// acquireWriterLock claims the stores for this process. The JSONL logs number
// their records in memory, so a second writer would reuse ids and versions.
func acquireWriterLock(cfg *config.Config) (*store.Lock, error) {
	lock, err := store.AcquireLock(lockPath(cfg))
	if errors.Is(err, store.ErrLocked) {
		return nil, fmt.Errorf("promptsmith appears to be running (%w). Stop it first, or use the HTTP API while serve is up", err)
	}
	return lock, err
}

func releaseLock(lock *store.Lock) {
	if err := lock.Release(); err != nil {
		logging.Logger().Warn("failed to release lock", "err", err)
	}
}

// app is the fully wired engine and refinement loop.
type app struct {
	*stores
	cfg     *config.Config
	engine  *agent.Engine
	loop    *refine.Loop
	costs   *costs.Tracker
	closers []func()
}

// openApp holds the writer lock until Close.
func openApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lock, err := acquireWriterLock(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, costs: costs.New(cfg.CostsPath(), cfg.Costs)}
	a.closers = append(a.closers, func() { releaseLock(lock) })
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.stores, err = loadStores(cfg); err != nil {
		return nil, err
	}
	if err := a.prompts.EnsureSeed(); err != nil {
		return nil, fmt.Errorf("seed prompt history: %w", err)
	}
	s := a.stores

	chatLLM := cfg.DefaultLLM()
	chatProvider, err := providerFactory(chatLLM)
	if err != nil {
		return nil, err
	}
	backend, err := generation.NewProviderBackend(chatProvider, generation.WithUsageRecorder(a.costs.Recorder(chatLLM)))
	if err != nil {
		return nil, err
	}

	registry, err := a.buildRegistry()
	if err != nil {
		return nil, err
	}

	var engineOpts []agent.Option
	if cfg.Memory.Enabled {
		// Turns run without enrichment when memory cannot be opened.
		if mem, memErr := a.openMemory(ctx); memErr != nil {
			logging.Logger().Warn("semantic memory unavailable; continuing without enrichment", "err", memErr)
		} else {
			engineOpts = append(engineOpts, agent.WithMemory(mem))
		}
	}
	a.engine, err = agent.NewEngine(backend, registry, s.prompts, s.turns, agent.LimitsFromConfig(cfg.Agent, cfg.Memory), engineOpts...)
	if err != nil {
		return nil, err
	}

	synthLLM := cfg.SynthesisLLM()
	synthProvider := chatProvider
	if synthLLM != chatLLM {
		if synthProvider, err = providerFactory(synthLLM); err != nil {
			return nil, fmt.Errorf("synthesis provider: %w", err)
		}
	}
	synthBackend, err := generation.NewProviderBackend(
		synthProvider,
		generation.WithUsageRecorder(a.costs.Recorder(synthLLM)),
		generation.WithSynthesisMaxTokens(synthLLM.MaxTokens),
	)
	if err != nil {
		return nil, err
	}
	synth, err := synthesis.New(synthBackend, s.turns)
	if err != nil {
		return nil, err
	}

	var loopOpts []refine.Option
	if cfg.Events.NATSURL != "" {
		notifier, err := a.openNotifier()
		if err != nil {
			return nil, err
		}
		loopOpts = append(loopOpts, refine.WithNotifier(notifier))
	}
	a.loop, err = refine.New(s.feedback, s.prompts, synth, policyFromConfig(cfg.Feedback), loopOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func policyFromConfig(c config.FeedbackConfig) feedback.Policy {
	return feedback.Policy{
		MinPending:      c.MinPending,
		RatingThreshold: c.RatingThreshold,
		AverageWindow:   c.AverageWindow,
	}
}

// buildRegistry registers the enabled lookups. With restrict_egress the
// lookups reach the network only through the allowlisting proxy.
func (a *app) buildRegistry() (*capability.Registry, error) {
	registry := capability.NewRegistry()
	if len(a.cfg.Lookups.Enabled) == 0 {
		return registry, nil
	}

	client := &http.Client{Timeout: a.cfg.Agent.CapabilityTimeout}
	if a.cfg.Lookups.RestrictEgress {
		proxy, err := egress.Start(egress.NewAllowlist(lookups.Hosts(a.cfg.Lookups.Enabled)))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := proxy.Close(); err != nil {
				logging.Logger().Warn("failed to close egress proxy", "err", err)
			}
		})
		if client, err = proxy.Client(a.cfg.Agent.CapabilityTimeout); err != nil {
			return nil, err
		}
	}

	caps, err := lookups.New(a.cfg.Lookups, client)
	if err != nil {
		return nil, err
	}
	for _, c := range caps {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register capability %q: %w", c.Name(), err)
		}
	}
	return registry, nil
}

func (a *app) openMemory(ctx context.Context) (*memory.Store, error) {
	embedder, err := memory.NewEmbedder(a.cfg.Memory)
	if err != nil {
		return nil, err
	}
	mem, err := memory.Open(a.cfg.MemoryPath(), embedder)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := mem.Close(); err != nil {
			logging.Logger().Warn("failed to close memory store", "err", err)
		}
	})
	if a.cfg.Memory.SeedKnowledge {
		n, err := mem.SeedKnowledge(ctx, memory.DefaultKnowledge)
		if err != nil {
			// Enrichment is optional; a failed seed leaves retrieval empty.
			logging.Logger().Warn("failed to seed knowledge base", "err", err)
		} else if n > 0 {
			logging.Logger().Info("seeded knowledge base", "items", n)
		}
	}
	return mem, nil
}

func (a *app) openNotifier() (*events.Notifier, error) {
	conn, err := events.Connect(a.cfg.Events)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)
	return events.NewNotifier(conn, a.cfg.Events.SubjectPrefix)
}

// conversation returns a conversation persisted to transcriptPath.
func (a *app) conversation(transcriptPath, sessionID string) (*agent.Conversation, error) {
	if a.engine == nil {
		return nil, errors.New("engine is not initialized")
	}
	var transcript *session.Transcript
	if transcriptPath != "" {
		transcript = session.NewTranscript(transcriptPath)
	}
	return agent.NewConversation(a.engine, transcript, sessionID)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
