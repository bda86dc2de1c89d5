package core

// Scenario is the typed state graph an episode walks. It is produced by an
// external loader (see the scenario package) and treated as immutable once
// handed to the engine.
type Scenario struct {
	ID          string
	Name        string
	Description string
	// LearnerRole names the role pinned to the persistent learner identity
	// across the whole run.
	LearnerRole string
	States      []*State
	Transitions []*StateTransition
	Roles       []*AgentRole
}

// State is a named phase of a Scenario requiring one or more roles. Prompts
// optionally carries generation-prompt variants used verbatim when present.
type State struct {
	ID          string
	ScenarioID  string
	Name        string
	Description string
	Roles       []string // role names, resolved via the scenario catalog
	Prompts     []string
}

// StateTransition is a directed edge of the scenario graph. Condition, when
// non-empty, is a natural-language predicate resolved by the transition
// package; an empty condition makes the edge unconditional.
type StateTransition struct {
	ID          string
	ScenarioID  string
	FromStateID string
	ToStateID   string
	Condition   string
}

// AgentRole is a scenario-scoped role an agent can be assigned to. Model is
// an optional model-name hint copied onto agents created for the role.
type AgentRole struct {
	ID          string
	ScenarioID  string
	Name        string
	Description string
	Model       string
}

// StateByID returns the state with the given id, or nil.
func (s *Scenario) StateByID(id string) *State {
	for _, st := range s.States {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// StateByName returns the state with the given name, or nil.
func (s *Scenario) StateByName(name string) *State {
	for _, st := range s.States {
		if st.Name == name {
			return st
		}
	}
	return nil
}

// RoleByName returns the role with the given name, or nil.
func (s *Scenario) RoleByName(name string) *AgentRole {
	for _, r := range s.Roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// TransitionsFrom returns the outgoing transitions of a state in declaration
// order. Declaration order is load order and is relied on for the
// default-to-first-transition policy.
func (s *Scenario) TransitionsFrom(stateID string) []*StateTransition {
	var out []*StateTransition
	for _, t := range s.Transitions {
		if t.FromStateID == stateID {
			out = append(out, t)
		}
	}
	return out
}

// SourceStates returns the states with no incoming transitions.
func (s *Scenario) SourceStates() []*State {
	incoming := make(map[string]bool, len(s.Transitions))
	for _, t := range s.Transitions {
		incoming[t.ToStateID] = true
	}
	var out []*State
	for _, st := range s.States {
		if !incoming[st.ID] {
			out = append(out, st)
		}
	}
	return out
}
