package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/embedding"
	"github.com/agircc/agir-learning-sub000/internal/util"
	"github.com/agircc/agir-learning-sub000/logging"
	"github.com/agircc/agir-learning-sub000/model"
)

// Defaults for the distillation and consolidation pipeline.
const (
	// DefaultMaxContentRunes bounds distilled content length.
	DefaultMaxContentRunes = 2000
	// DefaultImportance is assigned to regular distilled memories.
	DefaultImportance = 1.0
	// EpisodeImportance is assigned to consolidated episode memories.
	EpisodeImportance = 1.5
)

const distillInstruction = "You distill interaction records into compact first-person memories. " +
	"Reply with a single short paragraph capturing what happened and what was learned. " +
	"Do not add commentary or headings."

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Logger logging.Logger
	// Cache holds retrieval indexes. When nil a private cache with the
	// default capacity is created; production wiring passes one shared
	// IndexCache so eviction is process-wide.
	Cache *IndexCache
	// MaxContentRunes bounds distilled content; values < 1 fall back to
	// DefaultMaxContentRunes.
	MaxContentRunes int
}

// Service is the memory subsystem. It owns the distillation pipeline, the
// retrieval index cache, similarity search with its degradation chain, and
// episode consolidation. Safe for concurrent use across episodes.
type Service struct {
	store    core.Store
	model    model.Model
	embedder embedding.Embedder
	cache    *IndexCache
	maxRunes int
	logger   logging.Logger
}

// NewService constructs a Service.
func NewService(store core.Store, m model.Model, e embedding.Embedder, optFns ...func(o *ServiceOptions)) *Service {
	opts := ServiceOptions{
		Logger:          logging.NoOpLogger{},
		MaxContentRunes: DefaultMaxContentRunes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Cache == nil {
		opts.Cache = NewIndexCache()
	}
	if opts.MaxContentRunes < 1 {
		opts.MaxContentRunes = DefaultMaxContentRunes
	}
	return &Service{
		store:    store,
		model:    m,
		embedder: e,
		cache:    opts.Cache,
		maxRunes: opts.MaxContentRunes,
		logger:   opts.Logger,
	}
}

// DistillInput describes one raw interaction record to distill into a Memory.
type DistillInput struct {
	UserID      string
	StateName   string
	Task        string
	ContentType string // e.g. "response", "conversation", "episode summary"
	Content     string
	Source      string // core.MemorySource* value
	SourceID    string
	// Importance defaults to DefaultImportance when zero.
	Importance float64
}

// Distill runs the full pipeline for one record: build the context string,
// make one generative call, truncate the result, embed it and persist the
// Memory. The stored content is always the distilled summary, never the raw
// input.
func (s *Service) Distill(ctx context.Context, in DistillInput) (*core.Memory, error) {
	prompt := s.distillPrompt(in)
	start := time.Now()
	res, err := s.model.Generate(ctx, model.Request{Prompt: prompt, Instructions: distillInstruction})
	logging.LogModelCall(s.logger, s.model.Info().Name, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("distill memory: %w", err)
	}
	content := strings.TrimSpace(res.Text)
	if content == "" {
		return nil, &core.GenerationError{Op: "memory distillation"}
	}
	content = util.Truncate(content, s.maxRunes)
	return s.Remember(ctx, in.UserID, content, in.Source, in.SourceID, in.Importance)
}

// Remember embeds and persists already-compact content as a Memory, skipping
// the generative distillation call. Used for seeded life-history memories,
// which the persona synthesis call already produced in distilled form.
func (s *Service) Remember(ctx context.Context, userID, content, source, sourceID string, importance float64) (*core.Memory, error) {
	if importance == 0 {
		importance = DefaultImportance
	}
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed memory content: %w", err)
	}
	m := &core.Memory{
		ID:             util.NewID(),
		UserID:         userID,
		Content:        util.Truncate(content, s.maxRunes),
		Embedding:      vec,
		EmbeddingModel: s.embedder.Model(),
		Importance:     importance,
		Source:         source,
		SourceID:       sourceID,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("persist memory: %w", err)
	}
	if idx := s.cache.Get(userID, s.embedder.Model()); idx != nil {
		idx.Add(m)
	}
	return m, nil
}

// Search returns up to k of the user's memories most similar to query. It
// never returns an error: failures and empty results degrade through the
// chain (cached index, freshly rebuilt index, brute-force cosine over stored
// embeddings, importance/recency lookup). Returned memories have their
// access tracking bumped in one transaction.
func (s *Service) Search(ctx context.Context, userID, query string, k int) []*core.Memory {
	if k <= 0 {
		return nil
	}
	results := s.semanticSearch(ctx, userID, query, k)
	if len(results) == 0 {
		results = s.fallbackLookup(ctx, userID, k)
	}
	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, m := range results {
			ids[i] = m.ID
		}
		if err := s.store.TouchMemories(ctx, ids); err != nil {
			s.logger.Warn("memory access tracking failed", "user_id", userID, "error", err.Error())
		}
	}
	return results
}

func (s *Service) semanticSearch(ctx context.Context, userID, query string, k int) []*core.Memory {
	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, using non-semantic lookup", "user_id", userID, "error", err.Error())
		return nil
	}

	idx, err := s.cache.GetOrBuild(ctx, userID, s.embedder.Model(), func(ctx context.Context) (*Index, error) {
		return s.buildIndex(ctx, userID)
	})
	if err == nil {
		if results := idx.Search(qvec, k); len(results) > 0 {
			return results
		}
	} else {
		s.logger.Warn("index build failed", "user_id", userID, "error", err.Error())
	}

	// Rebuild fresh for this query; the cached index may be stale or the
	// build may have failed transiently.
	fresh, err := s.buildIndex(ctx, userID)
	if err != nil {
		s.logger.Warn("index rebuild failed, falling back to brute force", "user_id", userID, "error", err.Error())
		return s.bruteForce(ctx, userID, qvec, k)
	}
	s.cache.Put(userID, s.embedder.Model(), fresh)
	if results := fresh.Search(qvec, k); len(results) > 0 {
		return results
	}
	return s.bruteForce(ctx, userID, qvec, k)
}

func (s *Service) buildIndex(ctx context.Context, userID string) (*Index, error) {
	memories, err := s.listEmbedded(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewIndex(memories), nil
}

// bruteForce scores every stored embedding directly against the query,
// bypassing the index entirely.
func (s *Service) bruteForce(ctx context.Context, userID string, qvec []float32, k int) []*core.Memory {
	memories, err := s.listEmbedded(ctx, userID)
	if err != nil {
		s.logger.Warn("brute-force scan failed", "user_id", userID, "error", err.Error())
		return nil
	}
	q := normalize(qvec)
	hits := make([]scored, 0, len(memories))
	for _, m := range memories {
		v := normalize(m.Embedding)
		if len(v) != len(q) {
			continue
		}
		hits = append(hits, scored{memory: m, score: dot(v, q)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]*core.Memory, len(hits))
	for i, h := range hits {
		out[i] = h.memory
	}
	return out
}

func (s *Service) listEmbedded(ctx context.Context, userID string) ([]*core.Memory, error) {
	all, err := s.store.ListMemories(ctx, &core.FindMemory{UserID: &userID})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if len(m.Embedding) > 0 && m.EmbeddingModel == s.embedder.Model() {
			out = append(out, m)
		}
	}
	return out, nil
}

// fallbackLookup is the last rung of the chain: most important, then most
// recent, no semantics involved.
func (s *Service) fallbackLookup(ctx context.Context, userID string, k int) []*core.Memory {
	memories, err := s.store.ListMemories(ctx, &core.FindMemory{
		UserID:            &userID,
		OrderByImportance: true,
		Limit:             k,
	})
	if err != nil {
		s.logger.Warn("fallback memory lookup failed", "user_id", userID, "error", err.Error())
		return nil
	}
	return memories
}

// ContextBlock retrieves up to k memories relevant to query and formats them
// as a context section for a system instruction. Empty when the user has no
// relevant memories.
func (s *Service) ContextBlock(ctx context.Context, userID, query string, k int) string {
	memories := s.Search(ctx, userID, query, k)
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Consolidate concatenates all of an episode's step text, grouped by
// originating state in graph declaration order, distills the composite
// document once and stores it as a single high-importance Memory tagged with
// the episode id. Calling it again for an already-consolidated episode is a
// no-op.
func (s *Service) Consolidate(ctx context.Context, sc *core.Scenario, ep *core.Episode) (*core.Memory, error) {
	source := core.MemorySourceEpisode
	existing, err := s.store.ListMemories(ctx, &core.FindMemory{
		UserID:   &ep.InitiatorID,
		Source:   &source,
		SourceID: &ep.ID,
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("check consolidation: %w", err)
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	steps, err := s.store.ListSteps(ctx, &core.FindStep{EpisodeID: &ep.ID})
	if err != nil {
		return nil, fmt.Errorf("list episode steps: %w", err)
	}
	byState := make(map[string][]*core.Step, len(steps))
	for _, st := range steps {
		if st.Status == core.StepCompleted && st.GeneratedText != "" {
			byState[st.StateID] = append(byState[st.StateID], st)
		}
	}
	var b strings.Builder
	for _, state := range sc.States {
		group := byState[state.ID]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", state.Name)
		for _, st := range group {
			b.WriteString(st.GeneratedText)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return nil, nil
	}
	return s.Distill(ctx, DistillInput{
		UserID:      ep.InitiatorID,
		StateName:   sc.Name,
		Task:        "summarize the whole episode",
		ContentType: "episode summary",
		Content:     b.String(),
		Source:      source,
		SourceID:    ep.ID,
		Importance:  EpisodeImportance,
	})
}

func (s *Service) distillPrompt(in DistillInput) string {
	var b strings.Builder
	if in.StateName != "" {
		fmt.Fprintf(&b, "State: %s\n", in.StateName)
	}
	if in.Task != "" {
		fmt.Fprintf(&b, "Task: %s\n", in.Task)
	}
	if in.ContentType != "" {
		fmt.Fprintf(&b, "Content type: %s\n", in.ContentType)
	}
	b.WriteString("Content:\n")
	b.WriteString(in.Content)
	return b.String()
}
