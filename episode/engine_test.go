package episode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agircc/agir-learning-sub000/assign"
	"github.com/agircc/agir-learning-sub000/conversation"
	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/embedding"
	"github.com/agircc/agir-learning-sub000/memory"
	"github.com/agircc/agir-learning-sub000/model"
	"github.com/agircc/agir-learning-sub000/store"
	"github.com/agircc/agir-learning-sub000/transition"
)

// linearScenario is Start -> Middle -> End, one unconditional edge each,
// single learner-held role per state.
func linearScenario() *core.Scenario {
	return &core.Scenario{
		ID:          "sc1",
		Name:        "Linear",
		LearnerRole: "actor",
		Roles: []*core.AgentRole{
			{ID: "role-actor", ScenarioID: "sc1", Name: "actor"},
		},
		States: []*core.State{
			{ID: "st1", Name: "Start", Description: "open the case", Roles: []string{"actor"}},
			{ID: "st2", Name: "Middle", Description: "work the case", Roles: []string{"actor"}},
			{ID: "st3", Name: "End", Description: "close the case", Roles: []string{"actor"}},
		},
		Transitions: []*core.StateTransition{
			{ID: "t1", ScenarioID: "sc1", FromStateID: "st1", ToStateID: "st2"},
			{ID: "t2", ScenarioID: "sc1", FromStateID: "st2", ToStateID: "st3"},
		},
	}
}

type testStack struct {
	engine *Engine
	store  core.Store
	model  *model.MockModel
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	s := store.NewInMemoryStore()
	m := model.NewMockModel("test-model")
	memories := memory.NewService(s, m, embedding.NewMockEmbedder())
	assigner := assign.NewAssigner(s, m, memories, assign.NewTracker())
	conversations := conversation.NewOrchestrator(memories, func(o *conversation.OrchestratorOptions) {
		o.MaxTurns = 2
	})
	resolver := transition.NewResolver(m)
	engine := NewEngine(s, model.NewRegistry(m), memories, assigner, conversations, resolver)
	return &testStack{engine: engine, store: s, model: m}
}

func TestInitialState(t *testing.T) {
	sc := linearScenario()
	initial, err := InitialState(sc)
	require.NoError(t, err)
	assert.Equal(t, "Start", initial.Name)

	// a cycle leaves no source state
	cyclic := linearScenario()
	cyclic.Transitions = append(cyclic.Transitions, &core.StateTransition{
		ID: "t3", ScenarioID: "sc1", FromStateID: "st3", ToStateID: "st1",
	})
	_, err = InitialState(cyclic)
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	// two disconnected entry points are ambiguous
	plural := linearScenario()
	plural.Transitions = plural.Transitions[1:]
	_, err = InitialState(plural)
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "2 states")
}

func TestEngine_LinearScenarioEndToEnd(t *testing.T) {
	ctx := context.Background()
	ts := newTestStack(t)
	sc := linearScenario()
	require.NoError(t, ts.store.CreateScenario(ctx, sc))

	ep, err := ts.engine.StartEpisode(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, "st1", ep.CurrentStateID)
	assert.NotEmpty(t, ep.InitiatorID)

	require.NoError(t, ts.engine.Run(ctx, sc, ep))

	got, err := ts.store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EpisodeCompleted, got.Status)

	steps, err := ts.store.ListSteps(ctx, &core.FindStep{EpisodeID: &ep.ID})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for _, st := range steps {
		assert.Equal(t, core.StepCompleted, st.Status)
		assert.NotEmpty(t, st.GeneratedText)
	}

	// exactly one consolidated memory tagged with the episode id
	source := core.MemorySourceEpisode
	consolidated, err := ts.store.ListMemories(ctx, &core.FindMemory{
		UserID:   &ep.InitiatorID,
		Source:   &source,
		SourceID: &ep.ID,
	})
	require.NoError(t, err)
	assert.Len(t, consolidated, 1)
}

func TestEngine_GenerationFailureThenResume(t *testing.T) {
	ctx := context.Background()
	ts := newTestStack(t)
	sc := linearScenario()
	require.NoError(t, ts.store.CreateScenario(ctx, sc))

	ep, err := ts.engine.StartEpisode(ctx, sc)
	require.NoError(t, err)

	ts.model.Fail(assert.AnError)
	err = ts.engine.Run(ctx, sc, ep)
	var genErr *core.GenerationError
	require.ErrorAs(t, err, &genErr)

	got, err := ts.store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EpisodeFailed, got.Status)

	steps, err := ts.store.ListSteps(ctx, &core.FindStep{EpisodeID: &ep.ID})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, core.StepFailed, steps[0].Status)
	assert.NotEmpty(t, steps[0].ErrorText)

	// resume retries the failed step in place
	ts.model.Fail(nil)
	require.NoError(t, ts.engine.Run(ctx, sc, got))

	steps, err = ts.store.ListSteps(ctx, &core.FindStep{EpisodeID: &ep.ID})
	require.NoError(t, err)
	require.Len(t, steps, 3, "retry never duplicates the step record")

	stateID := "st1"
	firstState, err := ts.store.ListSteps(ctx, &core.FindStep{EpisodeID: &ep.ID, StateID: &stateID})
	require.NoError(t, err)
	require.Len(t, firstState, 1)
	assert.Equal(t, core.StepCompleted, firstState[0].Status)

	got, err = ts.store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EpisodeCompleted, got.Status)
}

func TestEngine_CompletedStepsFeedForwardOnResume(t *testing.T) {
	ctx := context.Background()
	ts := newTestStack(t)
	sc := linearScenario()
	require.NoError(t, ts.store.CreateScenario(ctx, sc))

	ep, err := ts.engine.StartEpisode(ctx, sc)
	require.NoError(t, err)
	require.NoError(t, ts.engine.Run(ctx, sc, ep))

	steps, err := ts.store.ListSteps(ctx, &core.FindStep{EpisodeID: &ep.ID})
	require.NoError(t, err)
	before := make(map[string]string, len(steps))
	for _, st := range steps {
		before[st.ID] = st.GeneratedText
	}

	// re-running a completed episode must not touch completed steps
	got, err := ts.store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	require.NoError(t, ts.engine.Run(ctx, sc, got))

	steps, err = ts.store.ListSteps(ctx, &core.FindStep{EpisodeID: &ep.ID})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for _, st := range steps {
		assert.Equal(t, before[st.ID], st.GeneratedText, "completed steps are immutable")
	}
}

func TestEngine_MultiRoleStateRunsConversation(t *testing.T) {
	ctx := context.Background()
	ts := newTestStack(t)
	sc := linearScenario()
	sc.Roles = append(sc.Roles, &core.AgentRole{ID: "role-partner", ScenarioID: "sc1", Name: "partner"})
	sc.States[1].Roles = []string{"actor", "partner"}
	require.NoError(t, ts.store.CreateScenario(ctx, sc))

	ep, err := ts.engine.StartEpisode(ctx, sc)
	require.NoError(t, err)
	require.NoError(t, ts.engine.Run(ctx, sc, ep))

	stateID := "st2"
	steps, err := ts.store.ListSteps(ctx, &core.FindStep{EpisodeID: &ep.ID, StateID: &stateID})
	require.NoError(t, err)
	require.Len(t, steps, 1, "a conversation is one step")
	assert.Equal(t, core.StepCompleted, steps[0].Status)
	assert.Contains(t, steps[0].GeneratedText, "Hello, I'm", "transcript starts with the opener")
}

func TestEngine_UndefinedRoleIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	ts := newTestStack(t)
	sc := linearScenario()
	sc.States[2].Roles = []string{"ghost"}
	require.NoError(t, ts.store.CreateScenario(ctx, sc))

	ep, err := ts.engine.StartEpisode(ctx, sc)
	require.NoError(t, err)
	err = ts.engine.Run(ctx, sc, ep)
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	got, err := ts.store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EpisodeFailed, got.Status)
}
