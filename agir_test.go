package agir_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agir "github.com/agircc/agir-learning-sub000"
	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/embedding"
	"github.com/agircc/agir-learning-sub000/model"
	"github.com/agircc/agir-learning-sub000/scenario"
	"github.com/agircc/agir-learning-sub000/store"
)

const doc = `
scenario:
  name: Clinic Visit
  description: A patient consults a doctor.
  learner_role: doctor
  learner:
    username: dr_chen
    first_name: Li
    last_name: Chen
    profession: physician
  roles:
    - name: doctor
    - name: patient
  states:
    - name: Intake
      description: The patient describes symptoms.
      roles: [patient]
    - name: Advice
      description: The doctor gives advice.
      roles: [doctor]
  transitions:
    - from: Intake
      to: Advice
`

func TestRunScenarioEndToEnd(t *testing.T) {
	ctx := context.Background()
	loaded, err := scenario.Load([]byte(doc))
	require.NoError(t, err)

	app := agir.New(model.NewMockModel("test-model"), embedding.NewMockEmbedder())

	ep, err := app.RunScenario(ctx, loaded.Scenario)
	require.NoError(t, err)
	assert.Equal(t, core.EpisodeCompleted, ep.Status)
	assert.NotEmpty(t, app.LearnerID())

	steps, err := app.Store().ListSteps(ctx, &core.FindStep{EpisodeID: &ep.ID})
	require.NoError(t, err)
	assert.Len(t, steps, 2)

	// a second run reuses the pinned learner and the persisted scenario
	ep2, err := app.RunScenario(ctx, loaded.Scenario)
	require.NoError(t, err)
	assert.Equal(t, core.EpisodeCompleted, ep2.Status)
	assert.NotEqual(t, ep.ID, ep2.ID)

	learner := app.LearnerID()
	memories := app.Memories().Search(ctx, learner, "clinic advice", 10)
	assert.NotEmpty(t, memories, "learner accumulated memories across episodes")
}

func TestEnsureLearnerFromDocument(t *testing.T) {
	ctx := context.Background()
	loaded, err := scenario.Load([]byte(doc))
	require.NoError(t, err)

	st := store.NewInMemoryStore()
	app := agir.New(model.NewMockModel("test-model"), embedding.NewMockEmbedder(), func(o *agir.Options) {
		o.Store = st
	})

	learner, err := app.EnsureLearner(ctx, loaded.Learner)
	require.NoError(t, err)
	assert.Equal(t, "dr_chen", learner.Username)
	assert.Equal(t, "Li Chen", learner.DisplayName())
	assert.Equal(t, "physician", learner.Profession)
	assert.Equal(t, learner.ID, app.LearnerID())

	ep, err := app.RunScenario(ctx, loaded.Scenario)
	require.NoError(t, err)
	assert.Equal(t, learner.ID, ep.InitiatorID, "the learner role binds to the document's identity")

	// a fresh instance over the same store resolves the same identity by
	// username instead of creating another agent
	app2 := agir.New(model.NewMockModel("test-model"), embedding.NewMockEmbedder(), func(o *agir.Options) {
		o.Store = st
	})
	again, err := app2.EnsureLearner(ctx, loaded.Learner)
	require.NoError(t, err)
	assert.Equal(t, learner.ID, again.ID)

	_, err = app.EnsureLearner(ctx, scenario.Learner{})
	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestResumeEpisode(t *testing.T) {
	ctx := context.Background()
	loaded, err := scenario.Load([]byte(doc))
	require.NoError(t, err)

	m := model.NewMockModel("test-model")
	app := agir.New(m, embedding.NewMockEmbedder())

	// first run fails at the very first generation
	require.NoError(t, app.Store().CreateScenario(ctx, loaded.Scenario))
	m.Fail(assert.AnError)
	ep, err := app.RunScenario(ctx, loaded.Scenario)
	require.Error(t, err)
	require.NotNil(t, ep)

	m.Fail(nil)
	resumed, err := app.ResumeEpisode(ctx, loaded.Scenario, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EpisodeCompleted, resumed.Status)

	// resuming a completed episode is a no-op
	again, err := app.ResumeEpisode(ctx, loaded.Scenario, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EpisodeCompleted, again.Status)
}

// countingStore observes reconciliation traffic against the persisted
// assignment totals.
type countingStore struct {
	core.Store
	countCalls int32
}

func (s *countingStore) CountAssignments(ctx context.Context, scenarioID string) ([]core.AssignmentCount, error) {
	atomic.AddInt32(&s.countCalls, 1)
	return s.Store.CountAssignments(ctx, scenarioID)
}

func TestResumeEpisodeValidatesCounters(t *testing.T) {
	ctx := context.Background()
	loaded, err := scenario.Load([]byte(doc))
	require.NoError(t, err)

	st := &countingStore{Store: store.NewInMemoryStore()}
	m := model.NewMockModel("test-model")
	app := agir.New(m, embedding.NewMockEmbedder(), func(o *agir.Options) { o.Store = st })

	require.NoError(t, app.Store().CreateScenario(ctx, loaded.Scenario))
	m.Fail(assert.AnError)
	ep, err := app.RunScenario(ctx, loaded.Scenario)
	require.Error(t, err)
	require.NotNil(t, ep)

	m.Fail(nil)
	before := atomic.LoadInt32(&st.countCalls)
	_, err = app.ResumeEpisode(ctx, loaded.Scenario, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, before+2, atomic.LoadInt32(&st.countCalls),
		"resume reconciles counters before the run and validates them after it")
}
