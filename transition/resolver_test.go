package transition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/internal/testutil"
	"github.com/agircc/agir-learning-sub000/model"
)

func branchingScenario() *core.Scenario {
	return &core.Scenario{
		ID:   "sc1",
		Name: "Triage",
		States: []*core.State{
			{ID: "st1", Name: "Assess"},
			{ID: "st2", Name: "Treat"},
			{ID: "st3", Name: "Refer"},
		},
		Transitions: []*core.StateTransition{
			{ID: "t1", FromStateID: "st1", ToStateID: "st2", Condition: "the case is routine"},
			{ID: "t2", FromStateID: "st1", ToStateID: "st3", Condition: "the case needs a specialist"},
		},
	}
}

func TestResolver_TerminalStateReturnsNil(t *testing.T) {
	sc := branchingScenario()
	r := NewResolver(model.NewMockModel("test-model"))

	next, err := r.Next(context.Background(), sc, sc.States[1], "done")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestResolver_SingleUnconditionalEdgeSkipsClassification(t *testing.T) {
	sc := &core.Scenario{
		ID: "sc1",
		States: []*core.State{
			{ID: "st1", Name: "Start"},
			{ID: "st2", Name: "End"},
		},
		Transitions: []*core.StateTransition{
			{ID: "t1", FromStateID: "st1", ToStateID: "st2"},
		},
	}
	m := model.NewMockModel("test-model")
	r := NewResolver(m)

	next, err := r.Next(context.Background(), sc, sc.States[0], "anything")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "End", next.Name)
	assert.Equal(t, 0, m.Calls(), "deterministic edges never call the model")
}

func TestResolver_ClassificationPicksMatchingState(t *testing.T) {
	sc := branchingScenario()
	m := model.NewMockModel("test-model")
	m.Enqueue("Refer")
	r := NewResolver(m)

	next, err := r.Next(context.Background(), sc, sc.States[0], "this patient needs a cardiologist")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "st3", next.ID)
}

func TestResolver_UnmatchedReplyDefaultsToFirstDeclared(t *testing.T) {
	sc := branchingScenario()
	m := model.NewMockModel("test-model")
	m.Enqueue("neither of those, honestly")
	logger := testutil.NewRecordingLogger()
	r := NewResolver(m, func(o *ResolverOptions) { o.Logger = logger })

	next, err := r.Next(context.Background(), sc, sc.States[0], "ambiguous outcome")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "st2", next.ID, "first declared transition wins")
	assert.True(t, logger.HasWarning("matched no candidate"))
}

func TestResolver_ClassificationFailureDefaultsToFirstDeclared(t *testing.T) {
	sc := branchingScenario()
	m := model.NewMockModel("test-model")
	m.Fail(assert.AnError)
	logger := testutil.NewRecordingLogger()
	r := NewResolver(m, func(o *ResolverOptions) { o.Logger = logger })

	next, err := r.Next(context.Background(), sc, sc.States[0], "whatever")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "st2", next.ID)
	assert.True(t, logger.HasWarning("classification failed"))
}
