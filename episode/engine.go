// Package episode is the top-level driver: it walks a scenario's state graph
// from the inferred initial state to a terminal state, resolving roles to
// agents, generating single responses or multi-party dialogues, persisting
// one step per visited state and consolidating the learner's memory when the
// episode completes.
package episode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agircc/agir-learning-sub000/conversation"
	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/internal/util"
	"github.com/agircc/agir-learning-sub000/logging"
	"github.com/agircc/agir-learning-sub000/memory"
	"github.com/agircc/agir-learning-sub000/model"
)

// Assigner resolves roles to agents for one episode.
type Assigner interface {
	Assign(ctx context.Context, sc *core.Scenario, role *core.AgentRole, ep *core.Episode) (*core.Agent, error)
	EnsureLearner(ctx context.Context, role *core.AgentRole) (*core.Agent, error)
}

// Conversations runs the multi-party dialogue for a multi-role state.
type Conversations interface {
	Run(ctx context.Context, state *core.State, participants []conversation.Participant) (*conversation.Result, error)
}

// Memories is the slice of the memory subsystem the engine needs.
type Memories interface {
	ContextBlock(ctx context.Context, userID, query string, k int) string
	Distill(ctx context.Context, in memory.DistillInput) (*core.Memory, error)
	Consolidate(ctx context.Context, sc *core.Scenario, ep *core.Episode) (*core.Memory, error)
}

// Resolver picks the next state, nil meaning terminal.
type Resolver interface {
	Next(ctx context.Context, sc *core.Scenario, state *core.State, lastText string) (*core.State, error)
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Logger logging.Logger
	// MemoryK is how many memories augment a single-role generation.
	MemoryK int
}

// Engine executes episodes. Within one episode execution is strictly
// sequential; multiple episodes may run concurrently sharing the store, the
// assignment tracker and the retrieval-index cache.
type Engine struct {
	store         core.Store
	registry      *model.Registry
	memories      Memories
	assigner      Assigner
	conversations Conversations
	resolver      Resolver
	logger        logging.Logger
	memoryK       int
}

// NewEngine constructs an Engine.
func NewEngine(store core.Store, registry *model.Registry, memories Memories, assigner Assigner, conversations Conversations, resolver Resolver, optFns ...func(o *EngineOptions)) *Engine {
	opts := EngineOptions{
		Logger:  logging.NoOpLogger{},
		MemoryK: 5,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MemoryK < 1 {
		opts.MemoryK = 5
	}
	return &Engine{
		store:         store,
		registry:      registry,
		memories:      memories,
		assigner:      assigner,
		conversations: conversations,
		resolver:      resolver,
		logger:        opts.Logger,
		memoryK:       opts.MemoryK,
	}
}

// InitialState returns the scenario's unique source state. Zero or multiple
// source states is a fatal configuration error raised before any step or
// episode record exists.
func InitialState(sc *core.Scenario) (*core.State, error) {
	sources := sc.SourceStates()
	switch len(sources) {
	case 1:
		return sources[0], nil
	case 0:
		return nil, core.NewConfigurationError("scenario %q has no state without incoming transitions", sc.Name)
	default:
		names := make([]string, len(sources))
		for i, s := range sources {
			names[i] = s.Name
		}
		return nil, core.NewConfigurationError("scenario %q has %d states without incoming transitions: %s",
			sc.Name, len(sources), strings.Join(names, ", "))
	}
}

// StartEpisode validates the scenario, ensures the learner identity and
// persists a new RUNNING episode positioned at the initial state.
func (e *Engine) StartEpisode(ctx context.Context, sc *core.Scenario) (*core.Episode, error) {
	initial, err := InitialState(sc)
	if err != nil {
		return nil, err
	}
	learnerRole := sc.RoleByName(sc.LearnerRole)
	if learnerRole == nil {
		return nil, core.NewConfigurationError("scenario %q names learner role %q but does not define it", sc.Name, sc.LearnerRole)
	}
	learner, err := e.assigner.EnsureLearner(ctx, learnerRole)
	if err != nil {
		return nil, fmt.Errorf("ensure learner: %w", err)
	}
	ep := &core.Episode{
		ID:             util.NewID(),
		ScenarioID:     sc.ID,
		InitiatorID:    learner.ID,
		Status:         core.EpisodeRunning,
		CurrentStateID: initial.ID,
		CreatedAt:      time.Now(),
	}
	if err := e.store.CreateEpisode(ctx, ep); err != nil {
		return nil, fmt.Errorf("create episode: %w", err)
	}
	e.logger.Info("episode started", "episode_id", ep.ID, "scenario", sc.Name, "initial_state", initial.Name)
	return ep, nil
}

// Run walks the episode from its current state to a terminal state. It is
// also the resume entry point: a FAILED or interrupted episode re-enters at
// its current state and retries that state's step in place.
func (e *Engine) Run(ctx context.Context, sc *core.Scenario, ep *core.Episode) error {
	state := sc.StateByID(ep.CurrentStateID)
	if state == nil {
		return core.NewConfigurationError("episode %s points at unknown state %s", ep.ID, ep.CurrentStateID)
	}
	if ep.Status != core.EpisodeRunning {
		if err := e.updateEpisode(ctx, ep, core.EpisodeRunning, ""); err != nil {
			return err
		}
	}

	for {
		if err := e.updateEpisode(ctx, ep, core.EpisodeRunning, state.ID); err != nil {
			return err
		}
		text, err := e.executeState(ctx, sc, ep, state)
		if err != nil {
			if ferr := e.updateEpisode(ctx, ep, core.EpisodeFailed, ""); ferr != nil {
				e.logger.Error("marking episode failed", "episode_id", ep.ID, "error", ferr.Error())
			}
			return err
		}

		next, err := e.resolver.Next(ctx, sc, state, text)
		if err != nil {
			if ferr := e.updateEpisode(ctx, ep, core.EpisodeFailed, ""); ferr != nil {
				e.logger.Error("marking episode failed", "episode_id", ep.ID, "error", ferr.Error())
			}
			return err
		}
		if next == nil {
			if err := e.updateEpisode(ctx, ep, core.EpisodeCompleted, ""); err != nil {
				return err
			}
			if _, err := e.memories.Consolidate(ctx, sc, ep); err != nil {
				e.logger.Warn("episode consolidation failed", "episode_id", ep.ID, "error", err.Error())
			}
			e.logger.Info("episode completed", "episode_id", ep.ID, "terminal_state", state.Name)
			return nil
		}
		state = next
	}
}

// executeState produces and persists the step for one state, returning its
// generated text. A COMPLETED step from a previous run is immutable and
// returned as is.
func (e *Engine) executeState(ctx context.Context, sc *core.Scenario, ep *core.Episode, state *core.State) (string, error) {
	if len(state.Roles) == 0 {
		return "", core.NewConfigurationError("state %q requires no roles", state.Name)
	}
	roles := make([]*core.AgentRole, len(state.Roles))
	for i, name := range state.Roles {
		role := sc.RoleByName(name)
		if role == nil {
			return "", core.NewConfigurationError("state %q requires undefined role %q", state.Name, name)
		}
		roles[i] = role
	}

	agents := make([]*core.Agent, len(roles))
	for i, role := range roles {
		agent, err := e.assigner.Assign(ctx, sc, role, ep)
		if err != nil {
			return "", fmt.Errorf("assign role %q: %w", role.Name, err)
		}
		agents[i] = agent
	}

	// The step is keyed on the first required role's agent; a multi-role
	// conversation is still one step.
	step, err := e.findOrCreateStep(ctx, ep, state, agents[0])
	if err != nil {
		return "", err
	}
	if step.Status == core.StepCompleted {
		e.logger.Debug("step already completed, feeding forward", "episode_id", ep.ID, "state", state.Name)
		return step.GeneratedText, nil
	}
	if err := e.updateStep(ctx, step, core.StepRunning, nil, nil); err != nil {
		return "", err
	}

	var text string
	if len(roles) == 1 {
		text, err = e.generateResponse(ctx, sc, ep, state, roles[0], agents[0])
	} else {
		text, err = e.runConversation(ctx, state, roles, agents)
	}
	if err != nil {
		msg := err.Error()
		if serr := e.updateStep(ctx, step, core.StepFailed, nil, &msg); serr != nil {
			e.logger.Error("marking step failed", "step_id", step.ID, "error", serr.Error())
		}
		return "", err
	}

	if err := e.updateStep(ctx, step, core.StepCompleted, &text, nil); err != nil {
		return "", err
	}
	e.rememberStep(ctx, ep, state, step, text)
	return text, nil
}

// findOrCreateStep enforces step uniqueness per (episode, state, agent):
// a non-terminal step from an earlier run is reset to PENDING and retried in
// place, never duplicated.
func (e *Engine) findOrCreateStep(ctx context.Context, ep *core.Episode, state *core.State, agent *core.Agent) (*core.Step, error) {
	steps, err := e.store.ListSteps(ctx, &core.FindStep{
		EpisodeID: &ep.ID,
		StateID:   &state.ID,
		AgentID:   &agent.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	for _, st := range steps {
		if st.Status == core.StepCompleted {
			return st, nil
		}
	}
	if len(steps) > 0 {
		st := steps[0]
		if st.Status != core.StepPending {
			if err := e.updateStep(ctx, st, core.StepPending, nil, nil); err != nil {
				return nil, err
			}
		}
		return st, nil
	}
	st := &core.Step{
		ID:        util.NewID(),
		EpisodeID: ep.ID,
		StateID:   state.ID,
		AgentID:   agent.ID,
		Status:    core.StepPending,
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateStep(ctx, st); err != nil {
		return nil, fmt.Errorf("create step: %w", err)
	}
	return st, nil
}

// generateResponse handles a single-role state: one synchronous generative
// call with a memory-augmented instruction and the episode's completed steps
// as context.
func (e *Engine) generateResponse(ctx context.Context, sc *core.Scenario, ep *core.Episode, state *core.State, role *core.AgentRole, agent *core.Agent) (string, error) {
	m, err := e.registry.Resolve(agent.Model)
	if err != nil {
		return "", core.NewConfigurationError("no model for agent %s: %v", agent.Username, err)
	}

	prompt := statePrompt(state)
	if history, herr := e.episodeContext(ctx, sc, ep); herr != nil {
		e.logger.Warn("assembling episode context failed", "episode_id", ep.ID, "error", herr.Error())
	} else if history != "" {
		prompt = "Previously in this episode:\n" + history + "\n" + prompt
	}

	req := model.Request{
		Prompt:       prompt,
		Instructions: e.instruction(ctx, state, role, agent),
	}
	start := time.Now()
	res, err := m.Generate(ctx, req)
	logging.LogModelCall(e.logger, m.Info().Name, time.Since(start), err)
	if err != nil {
		return "", &core.GenerationError{Op: fmt.Sprintf("response for state %q", state.Name), Err: err}
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", &core.GenerationError{Op: fmt.Sprintf("response for state %q", state.Name)}
	}
	return text, nil
}

func (e *Engine) runConversation(ctx context.Context, state *core.State, roles []*core.AgentRole, agents []*core.Agent) (string, error) {
	participants := make([]conversation.Participant, len(roles))
	for i := range roles {
		m, err := e.registry.Resolve(agents[i].Model)
		if err != nil {
			return "", core.NewConfigurationError("no model for agent %s: %v", agents[i].Username, err)
		}
		participants[i] = conversation.Participant{Agent: agents[i], Role: roles[i], Model: m}
	}
	result, err := e.conversations.Run(ctx, state, participants)
	if err != nil {
		return "", err
	}
	return result.Transcript(), nil
}

// instruction builds an acting agent's system instruction: persona, role and
// retrieved memories.
func (e *Engine) instruction(ctx context.Context, state *core.State, role *core.AgentRole, agent *core.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", agent.DisplayName())
	if agent.Profession != "" {
		fmt.Fprintf(&b, ", a %s", agent.Profession)
	}
	b.WriteString(".\n")
	if agent.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", agent.Background)
	}
	fmt.Fprintf(&b, "You act as the role %q", role.Name)
	if role.Description != "" {
		fmt.Fprintf(&b, ": %s", role.Description)
	}
	b.WriteString("\n")
	if block := e.memories.ContextBlock(ctx, agent.ID, state.Name+" "+state.Description, e.memoryK); block != "" {
		b.WriteString(block)
	}
	return b.String()
}

// episodeContext concatenates the episode's COMPLETED steps in state
// declaration order so earlier outcomes feed forward.
func (e *Engine) episodeContext(ctx context.Context, sc *core.Scenario, ep *core.Episode) (string, error) {
	steps, err := e.store.ListSteps(ctx, &core.FindStep{
		EpisodeID: &ep.ID,
		Statuses:  []core.StepStatus{core.StepCompleted},
	})
	if err != nil {
		return "", err
	}
	byState := make(map[string]string, len(steps))
	for _, st := range steps {
		byState[st.StateID] = st.GeneratedText
	}
	var b strings.Builder
	for _, state := range sc.States {
		if text := byState[state.ID]; text != "" {
			fmt.Fprintf(&b, "[%s]\n%s\n", state.Name, text)
		}
	}
	return b.String(), nil
}

// rememberStep distills a learner memory from the step's outcome. Memory
// failures never fail the step; the outcome is already persisted.
func (e *Engine) rememberStep(ctx context.Context, ep *core.Episode, state *core.State, step *core.Step, text string) {
	contentType := "response"
	if len(state.Roles) > 1 {
		contentType = "conversation"
	}
	_, err := e.memories.Distill(ctx, memory.DistillInput{
		UserID:      ep.InitiatorID,
		StateName:   state.Name,
		Task:        state.Description,
		ContentType: contentType,
		Content:     text,
		Source:      core.MemorySourceStep,
		SourceID:    step.ID,
	})
	if err != nil {
		e.logger.Warn("step memory distillation failed", "step_id", step.ID, "error", err.Error())
	}
}

// statePrompt picks the state's generation prompt: the first declared prompt
// variant when present, otherwise a prompt built from the description.
func statePrompt(state *core.State) string {
	if len(state.Prompts) > 0 {
		return state.Prompts[0]
	}
	if state.Description != "" {
		return fmt.Sprintf("Current state: %s\nTask: %s\nRespond in character.", state.Name, state.Description)
	}
	return fmt.Sprintf("Current state: %s\nRespond in character.", state.Name)
}

func (e *Engine) updateEpisode(ctx context.Context, ep *core.Episode, status core.EpisodeStatus, currentStateID string) error {
	update := &core.UpdateEpisode{ID: ep.ID, Status: &status}
	if currentStateID != "" {
		update.CurrentStateID = &currentStateID
	}
	if err := e.store.UpdateEpisode(ctx, update); err != nil {
		return fmt.Errorf("update episode: %w", err)
	}
	ep.Status = status
	if currentStateID != "" {
		ep.CurrentStateID = currentStateID
	}
	return nil
}

func (e *Engine) updateStep(ctx context.Context, st *core.Step, status core.StepStatus, text, errText *string) error {
	update := &core.UpdateStep{ID: st.ID, Status: &status, GeneratedText: text, ErrorText: errText}
	if err := e.store.UpdateStep(ctx, update); err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	st.Status = status
	if text != nil {
		st.GeneratedText = *text
	}
	if errText != nil {
		st.ErrorText = *errText
	}
	return nil
}
