package store

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agircc/agir-learning-sub000/core"
)

// GormStore is a core.Store backed by a relational database through GORM.
// SQLite covers single-process runs; PostgreSQL (with the pgvector
// extension) is the production target for embedding columns.
type GormStore struct {
	db *gorm.DB
}

var _ core.Store = (*GormStore)(nil)

// OpenSQLite opens (or creates) a SQLite database file and migrates the
// schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	return NewGormStore(db)
}

// OpenPostgres connects to PostgreSQL and migrates the schema. The target
// database needs the pgvector extension for the memory embedding column.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return NewGormStore(db)
}

// NewGormStore wraps an existing *gorm.DB and runs schema migration.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	err := db.AutoMigrate(
		&scenarioModel{},
		&stateModel{},
		&transitionModel{},
		&roleModel{},
		&episodeModel{},
		&stepModel{},
		&agentModel{},
		&assignmentModel{},
		&memoryModel{},
	)
	if err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}
	return &GormStore{db: db}, nil
}

type scenarioModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	Name        string
	Description string
	LearnerRole string
	CreatedAt   time.Time
}

func (scenarioModel) TableName() string { return "scenarios" }

type stateModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	ScenarioID  string `gorm:"index;size:36"`
	Position    int    // declaration order within the scenario
	Name        string
	Description string
	Roles       string // JSON array of role names
	Prompts     string `gorm:"type:text"` // JSON array of prompt variants
}

func (stateModel) TableName() string { return "states" }

type transitionModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	ScenarioID  string `gorm:"index;size:36"`
	Position    int
	FromStateID string `gorm:"size:36"`
	ToStateID   string `gorm:"size:36"`
	Condition   string
}

func (transitionModel) TableName() string { return "state_transitions" }

type roleModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	ScenarioID  string `gorm:"index;size:36"`
	Position    int
	Name        string
	Description string
	Model       string
}

func (roleModel) TableName() string { return "agent_roles" }

type episodeModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	ScenarioID     string `gorm:"index;size:36"`
	InitiatorID    string `gorm:"size:36"`
	Status         string
	CurrentStateID string `gorm:"size:36"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (episodeModel) TableName() string { return "episodes" }

type stepModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	EpisodeID     string `gorm:"index;size:36"`
	StateID       string `gorm:"index;size:36"`
	AgentID       string `gorm:"size:36"`
	Status        string
	GeneratedText string `gorm:"type:text"`
	ErrorText     string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (stepModel) TableName() string { return "steps" }

type agentModel struct {
	ID         string `gorm:"primaryKey;size:36"`
	Username   string `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Profession string
	Background string `gorm:"type:text"`
	Model      string
	CreatedAt  time.Time
}

func (agentModel) TableName() string { return "agents" }

type assignmentModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	RoleID    string `gorm:"index:idx_role_episode;size:36"`
	EpisodeID string `gorm:"index:idx_role_episode;size:36"`
	AgentID   string `gorm:"size:36"`
	CreatedAt time.Time
}

func (assignmentModel) TableName() string { return "agent_assignments" }

type memoryModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	UserID         string `gorm:"index;size:36"`
	Content        string `gorm:"type:text"`
	Embedding      pgvector.Vector
	EmbeddingModel string
	Importance     float64
	Source         string `gorm:"index"`
	SourceID       string `gorm:"index;size:36"`
	AccessCount    int
	LastAccessed   time.Time
	CreatedAt      time.Time
}

func (memoryModel) TableName() string { return "memories" }

// CreateScenario persists a scenario graph in one transaction.
func (s *GormStore) CreateScenario(ctx context.Context, sc *core.Scenario) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&scenarioModel{
			ID:          sc.ID,
			Name:        sc.Name,
			Description: sc.Description,
			LearnerRole: sc.LearnerRole,
		}).Error; err != nil {
			return err
		}
		for i, st := range sc.States {
			if err := tx.Create(&stateModel{
				ID:          st.ID,
				ScenarioID:  sc.ID,
				Position:    i,
				Name:        st.Name,
				Description: st.Description,
				Roles:       joinList(st.Roles),
				Prompts:     joinList(st.Prompts),
			}).Error; err != nil {
				return err
			}
		}
		for i, t := range sc.Transitions {
			if err := tx.Create(&transitionModel{
				ID:          t.ID,
				ScenarioID:  sc.ID,
				Position:    i,
				FromStateID: t.FromStateID,
				ToStateID:   t.ToStateID,
				Condition:   t.Condition,
			}).Error; err != nil {
				return err
			}
		}
		for i, r := range sc.Roles {
			if err := tx.Create(&roleModel{
				ID:          r.ID,
				ScenarioID:  sc.ID,
				Position:    i,
				Name:        r.Name,
				Description: r.Description,
				Model:       r.Model,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "create scenario")
}

// GetScenario loads a scenario with its states, transitions and roles in
// declaration order.
func (s *GormStore) GetScenario(ctx context.Context, id string) (*core.Scenario, error) {
	var scm scenarioModel
	if err := s.db.WithContext(ctx).First(&scm, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err, "get scenario")
	}
	sc := &core.Scenario{
		ID:          scm.ID,
		Name:        scm.Name,
		Description: scm.Description,
		LearnerRole: scm.LearnerRole,
	}

	var states []stateModel
	if err := s.db.WithContext(ctx).Where("scenario_id = ?", id).Order("position").Find(&states).Error; err != nil {
		return nil, errors.Wrap(err, "load states")
	}
	for _, st := range states {
		sc.States = append(sc.States, &core.State{
			ID:          st.ID,
			ScenarioID:  st.ScenarioID,
			Name:        st.Name,
			Description: st.Description,
			Roles:       splitList(st.Roles),
			Prompts:     splitList(st.Prompts),
		})
	}

	var transitions []transitionModel
	if err := s.db.WithContext(ctx).Where("scenario_id = ?", id).Order("position").Find(&transitions).Error; err != nil {
		return nil, errors.Wrap(err, "load transitions")
	}
	for _, t := range transitions {
		sc.Transitions = append(sc.Transitions, &core.StateTransition{
			ID:          t.ID,
			ScenarioID:  t.ScenarioID,
			FromStateID: t.FromStateID,
			ToStateID:   t.ToStateID,
			Condition:   t.Condition,
		})
	}

	var roles []roleModel
	if err := s.db.WithContext(ctx).Where("scenario_id = ?", id).Order("position").Find(&roles).Error; err != nil {
		return nil, errors.Wrap(err, "load roles")
	}
	for _, r := range roles {
		sc.Roles = append(sc.Roles, &core.AgentRole{
			ID:          r.ID,
			ScenarioID:  r.ScenarioID,
			Name:        r.Name,
			Description: r.Description,
			Model:       r.Model,
		})
	}
	return sc, nil
}

// CreateEpisode persists a new episode.
func (s *GormStore) CreateEpisode(ctx context.Context, ep *core.Episode) error {
	m := &episodeModel{
		ID:             ep.ID,
		ScenarioID:     ep.ScenarioID,
		InitiatorID:    ep.InitiatorID,
		Status:         string(ep.Status),
		CurrentStateID: ep.CurrentStateID,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create episode")
	}
	ep.CreatedAt = m.CreatedAt
	ep.UpdatedAt = m.UpdatedAt
	return nil
}

// GetEpisode loads an episode by id.
func (s *GormStore) GetEpisode(ctx context.Context, id string) (*core.Episode, error) {
	var m episodeModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err, "get episode")
	}
	return &core.Episode{
		ID:             m.ID,
		ScenarioID:     m.ScenarioID,
		InitiatorID:    m.InitiatorID,
		Status:         core.EpisodeStatus(m.Status),
		CurrentStateID: m.CurrentStateID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

// UpdateEpisode applies a partial episode update in one transaction.
func (s *GormStore) UpdateEpisode(ctx context.Context, update *core.UpdateEpisode) error {
	fields := map[string]any{"updated_at": time.Now()}
	if update.Status != nil {
		fields["status"] = string(*update.Status)
	}
	if update.CurrentStateID != nil {
		fields["current_state_id"] = *update.CurrentStateID
	}
	res := s.db.WithContext(ctx).Model(&episodeModel{}).Where("id = ?", update.ID).Updates(fields)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update episode")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateStep persists a new step.
func (s *GormStore) CreateStep(ctx context.Context, st *core.Step) error {
	m := &stepModel{
		ID:            st.ID,
		EpisodeID:     st.EpisodeID,
		StateID:       st.StateID,
		AgentID:       st.AgentID,
		Status:        string(st.Status),
		GeneratedText: st.GeneratedText,
		ErrorText:     st.ErrorText,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create step")
	}
	st.CreatedAt = m.CreatedAt
	st.UpdatedAt = m.UpdatedAt
	return nil
}

// UpdateStep applies a partial step update in one transaction.
func (s *GormStore) UpdateStep(ctx context.Context, update *core.UpdateStep) error {
	fields := map[string]any{"updated_at": time.Now()}
	if update.Status != nil {
		fields["status"] = string(*update.Status)
	}
	if update.GeneratedText != nil {
		fields["generated_text"] = *update.GeneratedText
	}
	if update.ErrorText != nil {
		fields["error_text"] = *update.ErrorText
	}
	res := s.db.WithContext(ctx).Model(&stepModel{}).Where("id = ?", update.ID).Updates(fields)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update step")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSteps returns matching steps in creation order.
func (s *GormStore) ListSteps(ctx context.Context, find *core.FindStep) ([]*core.Step, error) {
	q := s.db.WithContext(ctx).Model(&stepModel{}).Order("created_at")
	if find != nil {
		if find.EpisodeID != nil {
			q = q.Where("episode_id = ?", *find.EpisodeID)
		}
		if find.StateID != nil {
			q = q.Where("state_id = ?", *find.StateID)
		}
		if find.AgentID != nil {
			q = q.Where("agent_id = ?", *find.AgentID)
		}
		if len(find.Statuses) > 0 {
			statuses := make([]string, len(find.Statuses))
			for i, st := range find.Statuses {
				statuses[i] = string(st)
			}
			q = q.Where("status IN ?", statuses)
		}
	}
	var ms []stepModel
	if err := q.Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "list steps")
	}
	out := make([]*core.Step, 0, len(ms))
	for _, m := range ms {
		out = append(out, &core.Step{
			ID:            m.ID,
			EpisodeID:     m.EpisodeID,
			StateID:       m.StateID,
			AgentID:       m.AgentID,
			Status:        core.StepStatus(m.Status),
			GeneratedText: m.GeneratedText,
			ErrorText:     m.ErrorText,
			CreatedAt:     m.CreatedAt,
			UpdatedAt:     m.UpdatedAt,
		})
	}
	return out, nil
}

// CreateAgent persists a new agent identity.
func (s *GormStore) CreateAgent(ctx context.Context, a *core.Agent) error {
	m := &agentModel{
		ID:         a.ID,
		Username:   a.Username,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Profession: a.Profession,
		Background: a.Background,
		Model:      a.Model,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create agent")
	}
	a.CreatedAt = m.CreatedAt
	return nil
}

// GetAgent loads an agent by id.
func (s *GormStore) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	var m agentModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err, "get agent")
	}
	return &core.Agent{
		ID:         m.ID,
		Username:   m.Username,
		FirstName:  m.FirstName,
		LastName:   m.LastName,
		Profession: m.Profession,
		Background: m.Background,
		Model:      m.Model,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// GetAgentByUsername loads an agent by its unique username.
func (s *GormStore) GetAgentByUsername(ctx context.Context, username string) (*core.Agent, error) {
	var m agentModel
	if err := s.db.WithContext(ctx).First(&m, "username = ?", username).Error; err != nil {
		return nil, wrapNotFound(err, "get agent by username")
	}
	return &core.Agent{
		ID:         m.ID,
		Username:   m.Username,
		FirstName:  m.FirstName,
		LastName:   m.LastName,
		Profession: m.Profession,
		Background: m.Background,
		Model:      m.Model,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// CreateAssignment persists a role-agent-episode binding.
func (s *GormStore) CreateAssignment(ctx context.Context, as *core.AgentAssignment) error {
	m := &assignmentModel{
		ID:        as.ID,
		RoleID:    as.RoleID,
		EpisodeID: as.EpisodeID,
		AgentID:   as.AgentID,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create assignment")
	}
	as.CreatedAt = m.CreatedAt
	return nil
}

// ListAssignments returns matching assignments in creation order.
func (s *GormStore) ListAssignments(ctx context.Context, find *core.FindAssignment) ([]*core.AgentAssignment, error) {
	q := s.db.WithContext(ctx).Model(&assignmentModel{}).Order("created_at")
	if find != nil {
		if find.RoleID != nil {
			q = q.Where("role_id = ?", *find.RoleID)
		}
		if find.AgentID != nil {
			q = q.Where("agent_id = ?", *find.AgentID)
		}
		if find.EpisodeID != nil {
			q = q.Where("episode_id = ?", *find.EpisodeID)
		}
	}
	var ms []assignmentModel
	if err := q.Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "list assignments")
	}
	out := make([]*core.AgentAssignment, 0, len(ms))
	for _, m := range ms {
		out = append(out, &core.AgentAssignment{
			ID:        m.ID,
			RoleID:    m.RoleID,
			AgentID:   m.AgentID,
			EpisodeID: m.EpisodeID,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// CountAssignments aggregates persisted assignments per (role, agent) for a
// scenario by joining through episodes.
func (s *GormStore) CountAssignments(ctx context.Context, scenarioID string) ([]core.AssignmentCount, error) {
	var rows []struct {
		RoleID  string
		AgentID string
		Count   int
	}
	q := s.db.WithContext(ctx).
		Table("agent_assignments").
		Select("agent_assignments.role_id AS role_id, agent_assignments.agent_id AS agent_id, COUNT(*) AS count").
		Group("agent_assignments.role_id, agent_assignments.agent_id").
		Order("MIN(agent_assignments.created_at)")
	if scenarioID != "" {
		q = q.Joins("JOIN episodes ON episodes.id = agent_assignments.episode_id").
			Where("episodes.scenario_id = ?", scenarioID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "count assignments")
	}
	out := make([]core.AssignmentCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.AssignmentCount{RoleID: r.RoleID, AgentID: r.AgentID, Count: r.Count})
	}
	return out, nil
}

// CreateMemory persists a memory record with its embedding vector.
func (s *GormStore) CreateMemory(ctx context.Context, m *core.Memory) error {
	rec := &memoryModel{
		ID:             m.ID,
		UserID:         m.UserID,
		Content:        m.Content,
		Embedding:      pgvector.NewVector(m.Embedding),
		EmbeddingModel: m.EmbeddingModel,
		Importance:     m.Importance,
		Source:         m.Source,
		SourceID:       m.SourceID,
		AccessCount:    m.AccessCount,
		LastAccessed:   m.LastAccessed,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return errors.Wrap(err, "create memory")
	}
	m.CreatedAt = rec.CreatedAt
	return nil
}

// ListMemories returns matching memories, optionally ordered for the
// non-semantic fallback (importance then recency, descending).
func (s *GormStore) ListMemories(ctx context.Context, find *core.FindMemory) ([]*core.Memory, error) {
	q := s.db.WithContext(ctx).Model(&memoryModel{})
	if find != nil {
		if find.UserID != nil {
			q = q.Where("user_id = ?", *find.UserID)
		}
		if find.Source != nil {
			q = q.Where("source = ?", *find.Source)
		}
		if find.SourceID != nil {
			q = q.Where("source_id = ?", *find.SourceID)
		}
		if find.OrderByImportance {
			q = q.Order("importance DESC").Order("created_at DESC")
		} else {
			q = q.Order("created_at")
		}
		if find.Limit > 0 {
			q = q.Limit(find.Limit)
		}
	}
	var ms []memoryModel
	if err := q.Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "list memories")
	}
	out := make([]*core.Memory, 0, len(ms))
	for _, m := range ms {
		out = append(out, &core.Memory{
			ID:             m.ID,
			UserID:         m.UserID,
			Content:        m.Content,
			Embedding:      m.Embedding.Slice(),
			EmbeddingModel: m.EmbeddingModel,
			Importance:     m.Importance,
			Source:         m.Source,
			SourceID:       m.SourceID,
			AccessCount:    m.AccessCount,
			LastAccessed:   m.LastAccessed,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out, nil
}

// TouchMemories bumps access tracking inside one transaction so concurrent
// searches never lose updates.
func (s *GormStore) TouchMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&memoryModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"access_count":  gorm.Expr("access_count + 1"),
				"last_accessed": time.Now(),
			}).Error
	})
	return errors.Wrap(err, "touch memories")
}

func wrapNotFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, msg)
}
