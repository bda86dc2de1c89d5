package core

import "time"

// EpisodeStatus enumerates the lifecycle states of an Episode.
type EpisodeStatus string

// Episode statuses.
const (
	EpisodeRunning   EpisodeStatus = "RUNNING"
	EpisodeCompleted EpisodeStatus = "COMPLETED"
	EpisodeFailed    EpisodeStatus = "FAILED"
)

// StepStatus enumerates the lifecycle states of a Step.
type StepStatus string

// Step statuses. A step is terminal only in COMPLETED; PENDING, RUNNING and
// FAILED steps are all eligible for in-place retry on resume.
const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
)

// Episode is one execution run of a Scenario's state graph for a single
// learner. CurrentStateID always references a State of its Scenario.
type Episode struct {
	ID             string
	ScenarioID     string
	InitiatorID    string // learner agent id
	Status         EpisodeStatus
	CurrentStateID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Step is the persisted record of one agent's (or one conversation's)
// execution of a State within an Episode. At most one non-terminal step
// exists per (episode, state, agent); re-entry reuses it rather than
// duplicating.
type Step struct {
	ID            string
	EpisodeID     string
	StateID       string
	AgentID       string
	Status        StepStatus
	GeneratedText string
	ErrorText     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Agent is a synthetic identity bound to roles via assignments. Learner
// agents persist across episodes; supporting agents are created on demand.
type Agent struct {
	ID         string
	Username   string
	FirstName  string
	LastName   string
	Profession string
	Background string
	Model      string // model-name hint, usually inherited from the role
	CreatedAt  time.Time
}

// DisplayName returns the agent's human-readable name, falling back to the
// username when no name parts were generated.
func (a *Agent) DisplayName() string {
	if a.FirstName != "" && a.LastName != "" {
		return a.FirstName + " " + a.LastName
	}
	return a.Username
}

// AgentAssignment binds one agent to one role for one episode. Unique per
// (role, episode); the same agent may hold a role across many episodes.
type AgentAssignment struct {
	ID        string
	RoleID    string
	AgentID   string
	EpisodeID string
	CreatedAt time.Time
}
