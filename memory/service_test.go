package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/embedding"
	"github.com/agircc/agir-learning-sub000/internal/testutil"
	"github.com/agircc/agir-learning-sub000/model"
	"github.com/agircc/agir-learning-sub000/store"
)

// failingEmbedder errors on every call, driving search down the fallback
// chain.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding provider down")
}
func (failingEmbedder) Dimensions() int { return 26 }
func (failingEmbedder) Model() string   { return "mock-letter-frequency" }

func newTestService(t *testing.T, optFns ...func(o *ServiceOptions)) (*Service, *model.MockModel, core.Store) {
	t.Helper()
	s := store.NewInMemoryStore()
	m := model.NewMockModel("test-model")
	svc := NewService(s, m, embedding.NewMockEmbedder(), optFns...)
	return svc, m, s
}

func TestService_DistillStoresSummaryNotRawText(t *testing.T) {
	ctx := context.Background()
	svc, m, s := newTestService(t)
	m.Enqueue("learned how to handle a difficult patient conversation")

	mem, err := svc.Distill(ctx, DistillInput{
		UserID:      "u1",
		StateName:   "Consultation",
		Task:        "advise the patient",
		ContentType: "response",
		Content:     "a very long raw transcript that must never be stored verbatim",
		Source:      core.MemorySourceStep,
		SourceID:    "step1",
	})
	require.NoError(t, err)
	assert.Equal(t, "learned how to handle a difficult patient conversation", mem.Content)
	assert.Equal(t, "mock-letter-frequency", mem.EmbeddingModel)
	assert.Equal(t, DefaultImportance, mem.Importance)
	assert.NotEmpty(t, mem.Embedding)

	u1 := "u1"
	stored, err := s.ListMemories(ctx, &core.FindMemory{UserID: &u1})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotContains(t, stored[0].Content, "raw transcript")
}

func TestService_DistillTruncatesContent(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newTestService(t, func(o *ServiceOptions) { o.MaxContentRunes = 10 })
	m.Enqueue(strings.Repeat("x", 50))

	mem, err := svc.Distill(ctx, DistillInput{UserID: "u1", Content: "raw", Source: core.MemorySourceStep})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 10)+"...", mem.Content)
}

func TestService_DistillEmptyResponseFails(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newTestService(t)
	m.Enqueue("   ")

	_, err := svc.Distill(ctx, DistillInput{UserID: "u1", Content: "raw", Source: core.MemorySourceStep})
	var genErr *core.GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestService_SearchFindsSemanticallyCloseMemory(t *testing.T) {
	ctx := context.Background()
	svc, _, s := newTestService(t)

	_, err := svc.Remember(ctx, "u1", "treated a patient with severe migraine symptoms", core.MemorySourceStep, "s1", 0)
	require.NoError(t, err)
	_, err = svc.Remember(ctx, "u1", "went grocery shopping for vegetables", core.MemorySourceStep, "s2", 0)
	require.NoError(t, err)

	results := svc.Search(ctx, "u1", "migraine patient treatment", 1)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "migraine")

	// the read bumped access tracking
	u1 := "u1"
	stored, err := s.ListMemories(ctx, &core.FindMemory{UserID: &u1})
	require.NoError(t, err)
	for _, m := range stored {
		if strings.Contains(m.Content, "migraine") {
			assert.Equal(t, 1, m.AccessCount)
		} else {
			assert.Equal(t, 0, m.AccessCount)
		}
	}
}

func TestService_SearchDegradesToImportanceLookup(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	logger := testutil.NewRecordingLogger()
	svc := NewService(s, model.NewMockModel("test-model"), failingEmbedder{}, func(o *ServiceOptions) {
		o.Logger = logger
	})

	require.NoError(t, s.CreateMemory(ctx, &core.Memory{ID: "m1", UserID: "u1", Content: "minor detail", Importance: 1.0}))
	require.NoError(t, s.CreateMemory(ctx, &core.Memory{ID: "m2", UserID: "u1", Content: "pivotal episode", Importance: 1.5}))

	results := svc.Search(ctx, "u1", "anything", 1)
	require.Len(t, results, 1)
	assert.Equal(t, "m2", results[0].ID)
	assert.True(t, logger.HasWarning("query embedding failed"))
}

func TestService_SearchNeverErrorsOnEmptyStore(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Empty(t, svc.Search(context.Background(), "nobody", "query", 5))
}

func TestService_ConsolidateOncePerEpisode(t *testing.T) {
	ctx := context.Background()
	svc, m, s := newTestService(t)

	sc := &core.Scenario{
		ID:   "sc1",
		Name: "Clinic",
		States: []*core.State{
			{ID: "st1", Name: "Intake"},
			{ID: "st2", Name: "Diagnosis"},
		},
	}
	ep := &core.Episode{ID: "ep1", ScenarioID: "sc1", InitiatorID: "learner", Status: core.EpisodeCompleted}
	require.NoError(t, s.CreateStep(ctx, &core.Step{ID: "s1", EpisodeID: "ep1", StateID: "st1", AgentID: "a1", Status: core.StepCompleted, GeneratedText: "patient arrived"}))
	require.NoError(t, s.CreateStep(ctx, &core.Step{ID: "s2", EpisodeID: "ep1", StateID: "st2", AgentID: "a1", Status: core.StepCompleted, GeneratedText: "diagnosed stress"}))
	require.NoError(t, s.CreateStep(ctx, &core.Step{ID: "s3", EpisodeID: "ep1", StateID: "st2", AgentID: "a1", Status: core.StepFailed, GeneratedText: "must be excluded"}))

	m.Enqueue("the learner worked a full clinic case from intake to diagnosis")

	mem, err := svc.Consolidate(ctx, sc, ep)
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, core.MemorySourceEpisode, mem.Source)
	assert.Equal(t, "ep1", mem.SourceID)
	assert.Equal(t, EpisodeImportance, mem.Importance)

	calls := m.Calls()
	again, err := svc.Consolidate(ctx, sc, ep)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, mem.ID, again.ID)
	assert.Equal(t, calls, m.Calls(), "re-consolidation must not call the model")
}

func TestService_ConsolidateNothingToDo(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	sc := &core.Scenario{ID: "sc1", Name: "Empty", States: []*core.State{{ID: "st1", Name: "Only"}}}
	ep := &core.Episode{ID: "ep1", InitiatorID: "learner"}

	mem, err := svc.Consolidate(ctx, sc, ep)
	require.NoError(t, err)
	assert.Nil(t, mem)
}
