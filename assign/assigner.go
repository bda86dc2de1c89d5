package assign

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/internal/util"
	"github.com/agircc/agir-learning-sub000/logging"
	"github.com/agircc/agir-learning-sub000/model"
)

// Memories is the slice of the memory subsystem the assigner needs: seeding
// a freshly created agent's life history.
type Memories interface {
	Remember(ctx context.Context, userID, content, source, sourceID string, importance float64) (*core.Memory, error)
}

// AssignerOptions configures an Assigner.
type AssignerOptions struct {
	Logger logging.Logger
	// MultiAssign switches from a fresh agent per (role, episode) to a
	// bounded pool balanced by the Tracker.
	MultiAssign bool
	// PoolSize bounds the multi-assign pool per role. Values < 1 fall back
	// to DefaultPoolSize.
	PoolSize int
	// LearnerID pins the learner role to an existing agent. When empty the
	// assigner creates one persistent learner identity on first need.
	LearnerID string
}

// DefaultPoolSize bounds the multi-assign pool when none is configured.
const DefaultPoolSize = 3

// Assigner resolves (role, episode) pairs to agents, creating agents with
// synthesized personas on demand. Safe for concurrent use across episodes;
// fairness state lives in the shared Tracker.
type Assigner struct {
	store    core.Store
	model    model.Model
	memories Memories
	tracker  *Tracker
	logger   logging.Logger

	multiAssign bool
	poolSize    int

	mu        sync.Mutex
	learnerID string
}

// NewAssigner constructs an Assigner.
func NewAssigner(store core.Store, m model.Model, memories Memories, tracker *Tracker, optFns ...func(o *AssignerOptions)) *Assigner {
	opts := AssignerOptions{
		Logger:   logging.NoOpLogger{},
		PoolSize: DefaultPoolSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = DefaultPoolSize
	}
	return &Assigner{
		store:       store,
		model:       m,
		memories:    memories,
		tracker:     tracker,
		logger:      opts.Logger,
		multiAssign: opts.MultiAssign,
		poolSize:    opts.PoolSize,
		learnerID:   opts.LearnerID,
	}
}

// LearnerID returns the pinned learner agent id, empty until the learner has
// been created or configured.
func (a *Assigner) LearnerID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.learnerID
}

// PinLearner pins the learner role to an existing agent, replacing any
// earlier pin. Subsequent learner assignments resolve to this identity.
func (a *Assigner) PinLearner(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.learnerID = agentID
}

// Assign resolves a role to an agent for one episode, creating the binding
// and any needed agent. Re-invocation for an already-bound (role, episode)
// returns the existing agent.
func (a *Assigner) Assign(ctx context.Context, sc *core.Scenario, role *core.AgentRole, ep *core.Episode) (*core.Agent, error) {
	existing, err := a.store.ListAssignments(ctx, &core.FindAssignment{RoleID: &role.ID, EpisodeID: &ep.ID})
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	if len(existing) > 0 {
		return a.store.GetAgent(ctx, existing[0].AgentID)
	}

	var agent *core.Agent
	recorded := false
	switch {
	case role.Name == sc.LearnerRole:
		agent, err = a.learner(ctx, role)
	case a.multiAssign:
		agent, recorded, err = a.fromPool(ctx, role)
	default:
		agent, err = a.createAgent(ctx, role)
	}
	if err != nil {
		return nil, err
	}

	if err := a.bind(ctx, role, agent, ep); err != nil {
		return nil, err
	}
	if !recorded {
		a.tracker.Record(role.ID, agent.ID)
	}
	return agent, nil
}

// EnsureLearner returns the single persistent learner identity, creating it
// on first need. The engine calls it when starting an episode so the
// episode's initiator is known before any step exists.
func (a *Assigner) EnsureLearner(ctx context.Context, role *core.AgentRole) (*core.Agent, error) {
	return a.learner(ctx, role)
}

// learner returns the single persistent learner identity, creating it once.
func (a *Assigner) learner(ctx context.Context, role *core.AgentRole) (*core.Agent, error) {
	a.mu.Lock()
	id := a.learnerID
	a.mu.Unlock()
	if id != "" {
		return a.store.GetAgent(ctx, id)
	}
	agent, err := a.createAgent(ctx, role)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.learnerID = agent.ID
	a.mu.Unlock()
	a.logger.Info("created learner agent", "agent_id", agent.ID, "username", agent.Username)
	return agent, nil
}

// fromPool picks the least-assigned pool member, growing the pool up to its
// bound first. Pool-order ties break on first-assignment order, which is
// stable. The pick and its counter update happen in one Tracker critical
// section, so concurrent assignments cannot both land on the same minimum;
// the reported bool tells the caller the counter is already recorded.
func (a *Assigner) fromPool(ctx context.Context, role *core.AgentRole) (*core.Agent, bool, error) {
	all, err := a.store.ListAssignments(ctx, &core.FindAssignment{RoleID: &role.ID})
	if err != nil {
		return nil, false, fmt.Errorf("list role assignments: %w", err)
	}
	var pool []string
	seen := make(map[string]bool, len(all))
	for _, as := range all {
		if !seen[as.AgentID] {
			seen[as.AgentID] = true
			pool = append(pool, as.AgentID)
		}
	}
	if len(pool) < a.poolSize {
		agent, err := a.createAgent(ctx, role)
		return agent, false, err
	}
	id := a.tracker.Pick(role.ID, pool)
	agent, err := a.store.GetAgent(ctx, id)
	if err != nil {
		return nil, true, err
	}
	return agent, true, nil
}

// createAgent synthesizes a persona, persists the agent and seeds its
// life-history memories. Seeding is best effort.
func (a *Assigner) createAgent(ctx context.Context, role *core.AgentRole) (*core.Agent, error) {
	p := synthesizePersona(ctx, a.model, role, a.logger)
	agent := p.newAgent(role)
	if err := a.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	for _, content := range p.Memories {
		if _, err := a.memories.Remember(ctx, agent.ID, content, core.MemorySourceProfile, agent.ID, 0); err != nil {
			a.logger.Warn("seeding life-history memory failed", "agent_id", agent.ID, "error", err.Error())
		}
	}
	return agent, nil
}

func (a *Assigner) bind(ctx context.Context, role *core.AgentRole, agent *core.Agent, ep *core.Episode) error {
	as := &core.AgentAssignment{
		ID:        util.NewID(),
		RoleID:    role.ID,
		AgentID:   agent.ID,
		EpisodeID: ep.ID,
		CreatedAt: time.Now(),
	}
	if err := a.store.CreateAssignment(ctx, as); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}
