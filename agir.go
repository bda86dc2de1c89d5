// Package agir provides a high-level façade over the episode execution
// engine and its collaborating services (assignment, memory, conversation,
// transition resolution). Most applications interact with this package by:
//  1. Creating an Agir via New() with a default model and an embedder
//     (optionally overriding the store, cache, tracker or logger)
//  2. Loading a scenario document with the scenario package
//  3. Running episodes with RunScenario, or resuming them with ResumeEpisode
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable store and a structured logger.
package agir

import (
	"context"
	"errors"
	"fmt"

	"github.com/agircc/agir-learning-sub000/assign"
	"github.com/agircc/agir-learning-sub000/conversation"
	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/embedding"
	"github.com/agircc/agir-learning-sub000/episode"
	"github.com/agircc/agir-learning-sub000/internal/util"
	"github.com/agircc/agir-learning-sub000/logging"
	"github.com/agircc/agir-learning-sub000/memory"
	"github.com/agircc/agir-learning-sub000/model"
	"github.com/agircc/agir-learning-sub000/scenario"
	"github.com/agircc/agir-learning-sub000/store"
	"github.com/agircc/agir-learning-sub000/transition"
)

// Options configures an Agir instance.
type Options struct {
	// Store defaults to an in-memory implementation.
	Store core.Store

	// Registry resolves agent model hints. When nil a registry with the
	// default model is created.
	Registry *model.Registry

	// Cache is the process-wide retrieval-index cache, shared across
	// concurrently running episodes. Defaults to a fresh cache with the
	// default capacity.
	Cache *memory.IndexCache

	// Tracker carries the fairness counters across episodes. Defaults to a
	// fresh tracker with the default threshold seed.
	Tracker *assign.Tracker

	// MultiAssign enables the bounded fairness-balanced agent pool per role
	// instead of a fresh agent per episode.
	MultiAssign bool

	// PoolSize bounds the multi-assign pool per role.
	PoolSize int

	// MaxTurns bounds generated utterances per conversation.
	MaxTurns int

	// LearnerID pins the learner role to an existing agent.
	LearnerID string

	// Logger defaults to the NoOp logger.
	Logger logging.Logger
}

// Agir is the high-level façade aggregating the engine and its services.
type Agir struct {
	store    core.Store
	tracker  *assign.Tracker
	assigner *assign.Assigner
	memories *memory.Service
	engine   *episode.Engine
	logger   logging.Logger
}

// New wires the full engine around a default generative model and an
// embedder. Any unset collaborator is initialized with a safe default.
func New(m model.Model, e embedding.Embedder, optFns ...func(o *Options)) *Agir {
	opts := Options{
		Store:  store.NewInMemoryStore(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		opts.Registry = model.NewRegistry(m)
	}
	if opts.Cache == nil {
		opts.Cache = memory.NewIndexCache()
	}
	if opts.Tracker == nil {
		opts.Tracker = assign.NewTracker(func(o *assign.TrackerOptions) {
			o.Logger = opts.Logger
		})
	}

	memories := memory.NewService(opts.Store, m, e, func(o *memory.ServiceOptions) {
		o.Logger = opts.Logger
		o.Cache = opts.Cache
	})
	assigner := assign.NewAssigner(opts.Store, m, memories, opts.Tracker, func(o *assign.AssignerOptions) {
		o.Logger = opts.Logger
		o.MultiAssign = opts.MultiAssign
		o.PoolSize = opts.PoolSize
		o.LearnerID = opts.LearnerID
	})
	conversations := conversation.NewOrchestrator(memories, func(o *conversation.OrchestratorOptions) {
		o.Logger = opts.Logger
		o.MaxTurns = opts.MaxTurns
	})
	resolver := transition.NewResolver(m, func(o *transition.ResolverOptions) {
		o.Logger = opts.Logger
	})
	engine := episode.NewEngine(opts.Store, opts.Registry, memories, assigner, conversations, resolver, func(o *episode.EngineOptions) {
		o.Logger = opts.Logger
	})

	return &Agir{
		store:    opts.Store,
		tracker:  opts.Tracker,
		assigner: assigner,
		memories: memories,
		engine:   engine,
		logger:   opts.Logger,
	}
}

// Store returns the configured persistent store.
func (a *Agir) Store() core.Store { return a.store }

// Memories returns the memory subsystem, for seeding or direct search.
func (a *Agir) Memories() *memory.Service { return a.memories }

// LearnerID returns the pinned learner agent id, empty until the first
// episode created it.
func (a *Agir) LearnerID() string { return a.assigner.LearnerID() }

// EnsureLearner resolves the persistent learner identity declared by a
// scenario document's learner block: the agent is looked up by username,
// created from the document's profile fields when missing, and pinned so
// every episode's learner role binds to it. Call it once before RunScenario
// when the document carries a learner block.
func (a *Agir) EnsureLearner(ctx context.Context, l scenario.Learner) (*core.Agent, error) {
	if l.Username == "" {
		return nil, core.NewConfigurationError("learner block has no username")
	}
	agent, err := a.store.GetAgentByUsername(ctx, l.Username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("look up learner %q: %w", l.Username, err)
		}
		agent = &core.Agent{
			ID:         util.NewID(),
			Username:   l.Username,
			FirstName:  l.FirstName,
			LastName:   l.LastName,
			Profession: l.Profession,
			Model:      l.Model,
		}
		if err := a.store.CreateAgent(ctx, agent); err != nil {
			return nil, fmt.Errorf("create learner %q: %w", l.Username, err)
		}
		a.logger.Info("created learner agent", "agent_id", agent.ID, "username", agent.Username)
	}
	a.assigner.PinLearner(agent.ID)
	return agent, nil
}

// RunScenario persists the scenario if needed and executes one episode end
// to end: fairness counters are reconciled from the store before the run and
// validated against it afterward.
func (a *Agir) RunScenario(ctx context.Context, sc *core.Scenario) (*core.Episode, error) {
	if _, err := a.store.GetScenario(ctx, sc.ID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load scenario: %w", err)
		}
		if err := a.store.CreateScenario(ctx, sc); err != nil {
			return nil, fmt.Errorf("persist scenario: %w", err)
		}
	}
	if err := a.tracker.InitFromStore(ctx, a.store, sc.ID); err != nil {
		return nil, fmt.Errorf("reconcile assignment counters: %w", err)
	}

	ep, err := a.engine.StartEpisode(ctx, sc)
	if err != nil {
		return nil, err
	}
	runErr := a.engine.Run(ctx, sc, ep)

	if _, verr := a.tracker.Validate(ctx, a.store, sc.ID); verr != nil {
		a.logger.Warn("assignment counter validation failed", "scenario", sc.Name, "error", verr.Error())
	}
	return ep, runErr
}

// ResumeEpisode re-enters an existing episode at its current state, retrying
// its non-terminal step in place.
func (a *Agir) ResumeEpisode(ctx context.Context, sc *core.Scenario, episodeID string) (*core.Episode, error) {
	ep, err := a.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, fmt.Errorf("load episode: %w", err)
	}
	if ep.Status == core.EpisodeCompleted {
		return ep, nil
	}
	if err := a.tracker.InitFromStore(ctx, a.store, sc.ID); err != nil {
		return nil, fmt.Errorf("reconcile assignment counters: %w", err)
	}
	runErr := a.engine.Run(ctx, sc, ep)

	if _, verr := a.tracker.Validate(ctx, a.store, sc.ID); verr != nil {
		a.logger.Warn("assignment counter validation failed", "scenario", sc.Name, "error", verr.Error())
	}
	return ep, runErr
}
