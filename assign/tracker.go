// Package assign resolves (role, episode) pairs to concrete agent
// identities: fresh agents per episode in single-assign mode, a bounded
// fairness-balanced pool in multi-assign mode, and a pinned persistent
// identity for the learner role. The in-memory fairness counters live in an
// injectable Tracker reconciled against persisted assignment records.
package assign

import (
	"context"
	"sync"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/logging"
)

// DefaultThresholdSeed is the initial fairness threshold.
const DefaultThresholdSeed = 1

// Tracker holds per-(role, agent) assignment counters and the single global
// fairness threshold. It is constructed once per process and shared by every
// concurrently running episode; all methods are safe for concurrent use.
//
// The persisted AgentAssignment records, not these counters, are
// authoritative: InitFromStore loads them before a run and Validate checks
// them afterward, logging a warning on drift.
type Tracker struct {
	mu        sync.Mutex
	counts    map[string]map[string]int // roleID -> agentID -> count
	threshold int
	logger    logging.Logger
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	Logger logging.Logger
	// ThresholdSeed is the starting fairness threshold. Values < 1 fall back
	// to DefaultThresholdSeed.
	ThresholdSeed int
}

// NewTracker constructs a Tracker.
func NewTracker(optFns ...func(o *TrackerOptions)) *Tracker {
	opts := TrackerOptions{
		Logger:        logging.NoOpLogger{},
		ThresholdSeed: DefaultThresholdSeed,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ThresholdSeed < 1 {
		opts.ThresholdSeed = DefaultThresholdSeed
	}
	return &Tracker{
		counts:    make(map[string]map[string]int),
		threshold: opts.ThresholdSeed,
		logger:    opts.Logger,
	}
}

// Record increments the counter for one (role, agent) pair.
func (t *Tracker) Record(roleID, agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(roleID, agentID)
}

func (t *Tracker) record(roleID, agentID string) {
	if t.counts[roleID] == nil {
		t.counts[roleID] = make(map[string]int)
	}
	t.counts[roleID][agentID]++
}

// Count returns the counter for one (role, agent) pair.
func (t *Tracker) Count(roleID, agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[roleID][agentID]
}

// Threshold returns the current global threshold.
func (t *Tracker) Threshold() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threshold
}

// LeastAssigned returns every candidate tied at the minimum assignment count
// for the role, preserving candidate order. An agent with no recorded
// assignments counts as zero. The caller breaks remaining ties
// deterministically by taking the first element.
func (t *Tracker) LeastAssigned(roleID string, candidates []string) []string {
	if len(candidates) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	min := t.counts[roleID][candidates[0]]
	for _, id := range candidates[1:] {
		if c := t.counts[roleID][id]; c < min {
			min = c
		}
	}
	var out []string
	for _, id := range candidates {
		if t.counts[roleID][id] == min {
			out = append(out, id)
		}
	}
	return out
}

// ShouldIncrement reports whether every candidate's counter for the role has
// reached the global threshold. When true the threshold is advanced by one
// in the same critical section, so at steady state no role's candidate
// counters spread by more than 1.
func (t *Tracker) ShouldIncrement(roleID string, candidates []string) bool {
	if len(candidates) == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range candidates {
		if t.counts[roleID][id] < t.threshold {
			return false
		}
	}
	t.threshold++
	return true
}

// Pick selects the least-assigned candidate for the role and records the
// assignment in one critical section, so concurrent picks for the same role
// never land on the same minimum twice. The threshold advances first when
// every candidate has reached it; remaining ties break on candidate order.
// Returns the empty string for an empty candidate list.
func (t *Tracker) Pick(roleID string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	atThreshold := true
	for _, id := range candidates {
		if t.counts[roleID][id] < t.threshold {
			atThreshold = false
			break
		}
	}
	if atThreshold {
		t.threshold++
	}
	best := candidates[0]
	min := t.counts[roleID][best]
	for _, id := range candidates[1:] {
		if c := t.counts[roleID][id]; c < min {
			min, best = c, id
		}
	}
	t.record(roleID, best)
	return best
}

// InitFromStore replaces the counters with the persisted per-(role, agent)
// totals for one scenario. Call it once before a run.
func (t *Tracker) InitFromStore(ctx context.Context, store core.Store, scenarioID string) error {
	counts, err := store.CountAssignments(ctx, scenarioID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = make(map[string]map[string]int)
	for _, c := range counts {
		if t.counts[c.RoleID] == nil {
			t.counts[c.RoleID] = make(map[string]int)
		}
		t.counts[c.RoleID][c.AgentID] = c.Count
	}
	return nil
}

// Validate compares the counters against the persisted totals after a run.
// Drift is logged as a warning and reported, never fatal; the store wins.
func (t *Tracker) Validate(ctx context.Context, store core.Store, scenarioID string) (bool, error) {
	counts, err := store.CountAssignments(ctx, scenarioID)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ok := true
	persisted := make(map[string]map[string]int)
	for _, c := range counts {
		if persisted[c.RoleID] == nil {
			persisted[c.RoleID] = make(map[string]int)
		}
		persisted[c.RoleID][c.AgentID] = c.Count
		if t.counts[c.RoleID][c.AgentID] != c.Count {
			ok = false
			t.logger.Warn("assignment counter drift",
				"role_id", c.RoleID,
				"agent_id", c.AgentID,
				"tracked", t.counts[c.RoleID][c.AgentID],
				"persisted", c.Count)
		}
	}
	for roleID, agents := range t.counts {
		for agentID, n := range agents {
			if n != 0 && persisted[roleID][agentID] == 0 {
				ok = false
				t.logger.Warn("assignment counter drift",
					"role_id", roleID,
					"agent_id", agentID,
					"tracked", n,
					"persisted", 0)
			}
		}
	}
	return ok, nil
}
