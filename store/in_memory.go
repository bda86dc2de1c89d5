// Package store provides persistent-store implementations of core.Store: a
// process-local InMemoryStore for tests and demos, and a GORM-backed store
// for SQLite and PostgreSQL.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agircc/agir-learning-sub000/core"
)

// InMemoryStore is a volatile core.Store keeping all records in process
// local maps. It is safe for concurrent access and best suited for tests or
// ephemeral demo runs. Returned records are clones to prevent external
// mutation of internal state.
type InMemoryStore struct {
	mu          sync.RWMutex
	scenarios   map[string]*core.Scenario
	episodes    map[string]*core.Episode
	steps       []*core.Step
	agents      map[string]*core.Agent
	assignments []*core.AgentAssignment
	memories    []*core.Memory
}

var _ core.Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		scenarios: make(map[string]*core.Scenario),
		episodes:  make(map[string]*core.Episode),
		agents:    make(map[string]*core.Agent),
	}
}

// CreateScenario stores a scenario. Scenarios are immutable once stored.
func (s *InMemoryStore) CreateScenario(_ context.Context, sc *core.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios[sc.ID] = sc
	return nil
}

// GetScenario returns a stored scenario by id.
func (s *InMemoryStore) GetScenario(_ context.Context, id string) (*core.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sc, nil
}

// CreateEpisode stores a new episode.
func (s *InMemoryStore) CreateEpisode(_ context.Context, ep *core.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	clone := *ep
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.episodes[ep.ID] = &clone
	ep.CreatedAt = now
	ep.UpdatedAt = now
	return nil
}

// GetEpisode returns a clone of the episode with the given id.
func (s *InMemoryStore) GetEpisode(_ context.Context, id string) (*core.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ep
	return &clone, nil
}

// UpdateEpisode applies a partial episode update.
func (s *InMemoryStore) UpdateEpisode(_ context.Context, update *core.UpdateEpisode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[update.ID]
	if !ok {
		return ErrNotFound
	}
	if update.Status != nil {
		ep.Status = *update.Status
	}
	if update.CurrentStateID != nil {
		ep.CurrentStateID = *update.CurrentStateID
	}
	ep.UpdatedAt = time.Now()
	return nil
}

// CreateStep appends a new step record.
func (s *InMemoryStore) CreateStep(_ context.Context, st *core.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	clone := *st
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.steps = append(s.steps, &clone)
	st.CreatedAt = now
	st.UpdatedAt = now
	return nil
}

// UpdateStep applies a partial step update.
func (s *InMemoryStore) UpdateStep(_ context.Context, update *core.UpdateStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.steps {
		if st.ID != update.ID {
			continue
		}
		if update.Status != nil {
			st.Status = *update.Status
		}
		if update.GeneratedText != nil {
			st.GeneratedText = *update.GeneratedText
		}
		if update.ErrorText != nil {
			st.ErrorText = *update.ErrorText
		}
		st.UpdatedAt = time.Now()
		return nil
	}
	return ErrNotFound
}

// ListSteps returns clones of matching steps in creation order.
func (s *InMemoryStore) ListSteps(_ context.Context, find *core.FindStep) ([]*core.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Step
	for _, st := range s.steps {
		if !matchStep(st, find) {
			continue
		}
		clone := *st
		out = append(out, &clone)
	}
	return out, nil
}

func matchStep(st *core.Step, find *core.FindStep) bool {
	if find == nil {
		return true
	}
	if find.EpisodeID != nil && st.EpisodeID != *find.EpisodeID {
		return false
	}
	if find.StateID != nil && st.StateID != *find.StateID {
		return false
	}
	if find.AgentID != nil && st.AgentID != *find.AgentID {
		return false
	}
	if len(find.Statuses) > 0 {
		ok := false
		for _, status := range find.Statuses {
			if st.Status == status {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// CreateAgent stores a new agent identity.
func (s *InMemoryStore) CreateAgent(_ context.Context, a *core.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	clone.CreatedAt = time.Now()
	s.agents[a.ID] = &clone
	a.CreatedAt = clone.CreatedAt
	return nil
}

// GetAgent returns a clone of the agent with the given id.
func (s *InMemoryStore) GetAgent(_ context.Context, id string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *a
	return &clone, nil
}

// GetAgentByUsername returns a clone of the agent with the given username.
func (s *InMemoryStore) GetAgentByUsername(_ context.Context, username string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.Username == username {
			clone := *a
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

// CreateAssignment appends a role-agent-episode binding.
func (s *InMemoryStore) CreateAssignment(_ context.Context, as *core.AgentAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *as
	clone.CreatedAt = time.Now()
	s.assignments = append(s.assignments, &clone)
	as.CreatedAt = clone.CreatedAt
	return nil
}

// ListAssignments returns clones of matching assignments in creation order.
func (s *InMemoryStore) ListAssignments(_ context.Context, find *core.FindAssignment) ([]*core.AgentAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.AgentAssignment
	for _, as := range s.assignments {
		if find != nil {
			if find.RoleID != nil && as.RoleID != *find.RoleID {
				continue
			}
			if find.AgentID != nil && as.AgentID != *find.AgentID {
				continue
			}
			if find.EpisodeID != nil && as.EpisodeID != *find.EpisodeID {
				continue
			}
		}
		clone := *as
		out = append(out, &clone)
	}
	return out, nil
}

// CountAssignments aggregates assignments per (role, agent) for a scenario.
func (s *InMemoryStore) CountAssignments(_ context.Context, scenarioID string) ([]core.AssignmentCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	episodeScenario := make(map[string]string, len(s.episodes))
	for id, ep := range s.episodes {
		episodeScenario[id] = ep.ScenarioID
	}
	counts := make(map[[2]string]int)
	var order [][2]string
	for _, as := range s.assignments {
		if scenarioID != "" && episodeScenario[as.EpisodeID] != scenarioID {
			continue
		}
		key := [2]string{as.RoleID, as.AgentID}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}
	out := make([]core.AssignmentCount, 0, len(order))
	for _, key := range order {
		out = append(out, core.AssignmentCount{RoleID: key[0], AgentID: key[1], Count: counts[key]})
	}
	return out, nil
}

// CreateMemory appends a memory record.
func (s *InMemoryStore) CreateMemory(_ context.Context, m *core.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *m
	clone.Embedding = append([]float32(nil), m.Embedding...)
	clone.CreatedAt = time.Now()
	s.memories = append(s.memories, &clone)
	m.CreatedAt = clone.CreatedAt
	return nil
}

// ListMemories returns clones of matching memories. With OrderByImportance
// set, results are importance-descending then recency-descending; otherwise
// creation order.
func (s *InMemoryStore) ListMemories(_ context.Context, find *core.FindMemory) ([]*core.Memory, error) {
	s.mu.RLock()
	var out []*core.Memory
	for _, m := range s.memories {
		if find != nil {
			if find.UserID != nil && m.UserID != *find.UserID {
				continue
			}
			if find.Source != nil && m.Source != *find.Source {
				continue
			}
			if find.SourceID != nil && m.SourceID != *find.SourceID {
				continue
			}
		}
		clone := *m
		clone.Embedding = append([]float32(nil), m.Embedding...)
		out = append(out, &clone)
	}
	s.mu.RUnlock()
	if find != nil && find.OrderByImportance {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Importance != out[j].Importance {
				return out[i].Importance > out[j].Importance
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	if find != nil && find.Limit > 0 && len(out) > find.Limit {
		out = out[:find.Limit]
	}
	return out, nil
}

// TouchMemories bumps access tracking on the given memories atomically with
// respect to concurrent searches.
func (s *InMemoryStore) TouchMemories(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	now := time.Now()
	for _, m := range s.memories {
		if wanted[m.ID] {
			m.AccessCount++
			m.LastAccessed = now
		}
	}
	return nil
}
