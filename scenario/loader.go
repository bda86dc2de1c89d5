// Package scenario loads and validates YAML scenario documents, producing
// the typed state graph the episode engine consumes.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/internal/util"
)

// Learner is the document's learner block: the persistent identity the
// scenario's learner role is pinned to.
type Learner struct {
	Username   string `yaml:"username"`
	Model      string `yaml:"model"`
	FirstName  string `yaml:"first_name"`
	LastName   string `yaml:"last_name"`
	Profession string `yaml:"profession"`
}

// Document is one parsed and validated scenario file.
type Document struct {
	Scenario *core.Scenario
	Learner  Learner
}

type fileDoc struct {
	Scenario scenarioDoc `yaml:"scenario"`
}

type scenarioDoc struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	LearnerRole string          `yaml:"learner_role"`
	Learner     Learner         `yaml:"learner"`
	Roles       []roleDoc       `yaml:"roles"`
	States      []stateDoc      `yaml:"states"`
	Transitions []transitionDoc `yaml:"transitions"`
}

type roleDoc struct {
	Name        string `yaml:"name"`
	Model       string `yaml:"model"`
	Description string `yaml:"description"`
}

type stateDoc struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Roles       []string `yaml:"roles"`
	Prompts     []string `yaml:"prompts"`
}

// transitionDoc accepts both the long (from_state_name/to_state_name) and
// short (from/to) endpoint spellings.
type transitionDoc struct {
	FromStateName string `yaml:"from_state_name"`
	ToStateName   string `yaml:"to_state_name"`
	From          string `yaml:"from"`
	To            string `yaml:"to"`
	Condition     string `yaml:"condition"`
}

func (t transitionDoc) from() string {
	if t.FromStateName != "" {
		return t.FromStateName
	}
	return t.From
}

func (t transitionDoc) to() string {
	if t.ToStateName != "" {
		return t.ToStateName
	}
	return t.To
}

// LoadFile reads, parses and validates one scenario document.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Load(data)
}

// Load parses and validates a scenario document from raw YAML.
func Load(data []byte) (*Document, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scenario document: %w", err)
	}
	return build(doc.Scenario)
}

func build(doc scenarioDoc) (*Document, error) {
	if err := validate(doc); err != nil {
		return nil, err
	}

	sc := &core.Scenario{
		ID:          util.NewID(),
		Name:        doc.Name,
		Description: doc.Description,
		LearnerRole: doc.LearnerRole,
	}
	for _, r := range doc.Roles {
		sc.Roles = append(sc.Roles, &core.AgentRole{
			ID:          util.NewID(),
			ScenarioID:  sc.ID,
			Name:        r.Name,
			Description: r.Description,
			Model:       r.Model,
		})
	}
	stateIDs := make(map[string]string, len(doc.States))
	for _, s := range doc.States {
		st := &core.State{
			ID:          util.NewID(),
			ScenarioID:  sc.ID,
			Name:        s.Name,
			Description: s.Description,
			Roles:       s.Roles,
			Prompts:     s.Prompts,
		}
		stateIDs[s.Name] = st.ID
		sc.States = append(sc.States, st)
	}
	for _, t := range doc.Transitions {
		sc.Transitions = append(sc.Transitions, &core.StateTransition{
			ID:          util.NewID(),
			ScenarioID:  sc.ID,
			FromStateID: stateIDs[t.from()],
			ToStateID:   stateIDs[t.to()],
			Condition:   t.Condition,
		})
	}
	return &Document{Scenario: sc, Learner: doc.Learner}, nil
}

func validate(doc scenarioDoc) error {
	if doc.Name == "" {
		return core.NewConfigurationError("scenario has no name")
	}
	if len(doc.States) == 0 {
		return core.NewConfigurationError("scenario %q has no states", doc.Name)
	}
	if doc.LearnerRole == "" {
		return core.NewConfigurationError("scenario %q has no learner_role", doc.Name)
	}

	roles := make(map[string]bool, len(doc.Roles))
	for _, r := range doc.Roles {
		if r.Name == "" {
			return core.NewConfigurationError("scenario %q has a role without a name", doc.Name)
		}
		if roles[r.Name] {
			return core.NewConfigurationError("scenario %q defines role %q twice", doc.Name, r.Name)
		}
		roles[r.Name] = true
	}
	if !roles[doc.LearnerRole] {
		return core.NewConfigurationError("learner role %q is not in the role catalog", doc.LearnerRole)
	}

	states := make(map[string]bool, len(doc.States))
	for _, s := range doc.States {
		if s.Name == "" {
			return core.NewConfigurationError("scenario %q has a state without a name", doc.Name)
		}
		if states[s.Name] {
			return core.NewConfigurationError("scenario %q defines state %q twice", doc.Name, s.Name)
		}
		states[s.Name] = true
		if len(s.Roles) == 0 {
			return core.NewConfigurationError("state %q requires no roles", s.Name)
		}
		for _, role := range s.Roles {
			if !roles[role] {
				return core.NewConfigurationError("state %q requires undefined role %q", s.Name, role)
			}
		}
	}

	for _, t := range doc.Transitions {
		if t.from() == "" || t.to() == "" {
			return core.NewConfigurationError("scenario %q has a transition with a missing endpoint", doc.Name)
		}
		if !states[t.from()] {
			return core.NewConfigurationError("transition references unknown state %q", t.from())
		}
		if !states[t.to()] {
			return core.NewConfigurationError("transition references unknown state %q", t.to())
		}
	}
	return nil
}
