package core

import "context"

// FindStep filters step lookups. Nil pointer fields match everything.
type FindStep struct {
	EpisodeID *string
	StateID   *string
	AgentID   *string
	Statuses  []StepStatus
}

// UpdateStep mutates a single step. Nil fields are left untouched.
type UpdateStep struct {
	ID            string
	Status        *StepStatus
	GeneratedText *string
	ErrorText     *string
}

// UpdateEpisode mutates a single episode. Nil fields are left untouched.
type UpdateEpisode struct {
	ID             string
	Status         *EpisodeStatus
	CurrentStateID *string
}

// FindAssignment filters assignment lookups.
type FindAssignment struct {
	RoleID    *string
	AgentID   *string
	EpisodeID *string
}

// AssignmentCount is one row of the per-(role, agent) assignment totals used
// to reconcile the in-memory fairness tracker with persisted records.
type AssignmentCount struct {
	RoleID  string
	AgentID string
	Count   int
}

// FindMemory filters memory lookups. When OrderByImportance is set, results
// come back importance-descending then recency-descending, which is the
// non-semantic fallback ordering of the memory subsystem.
type FindMemory struct {
	UserID            *string
	Source            *string
	SourceID          *string
	OrderByImportance bool
	Limit             int
}

// Store is the persistent collaborator of the engine. Implementations must
// be safe for concurrent use and perform one transaction per record create
// or update; no method holds locks across a generative call. All methods are
// synchronous.
type Store interface {
	CreateScenario(ctx context.Context, sc *Scenario) error
	GetScenario(ctx context.Context, id string) (*Scenario, error)

	CreateEpisode(ctx context.Context, ep *Episode) error
	GetEpisode(ctx context.Context, id string) (*Episode, error)
	UpdateEpisode(ctx context.Context, update *UpdateEpisode) error

	CreateStep(ctx context.Context, st *Step) error
	UpdateStep(ctx context.Context, update *UpdateStep) error
	ListSteps(ctx context.Context, find *FindStep) ([]*Step, error)

	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// GetAgentByUsername looks an agent up by its unique username, the key
	// persistent identities are addressed by across runs.
	GetAgentByUsername(ctx context.Context, username string) (*Agent, error)

	CreateAssignment(ctx context.Context, as *AgentAssignment) error
	ListAssignments(ctx context.Context, find *FindAssignment) ([]*AgentAssignment, error)
	// CountAssignments aggregates persisted assignments per (role, agent)
	// for one scenario. The persisted records, not in-memory counters, are
	// authoritative for fairness reconciliation.
	CountAssignments(ctx context.Context, scenarioID string) ([]AssignmentCount, error)

	CreateMemory(ctx context.Context, m *Memory) error
	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
	// TouchMemories increments access_count and stamps last_accessed on the
	// given memories inside one transaction, so concurrent searches cannot
	// lose updates.
	TouchMemories(ctx context.Context, ids []string) error
}
