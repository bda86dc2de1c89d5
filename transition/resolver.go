// Package transition picks an episode's next state: directly when the
// current state has a single unconditional outgoing edge, via generative
// classification over the declared conditions otherwise.
package transition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/logging"
	"github.com/agircc/agir-learning-sub000/model"
)

const classifyInstruction = "You route a scenario to its next state. Reply with the name of exactly " +
	"one of the listed candidate states and nothing else."

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Logger logging.Logger
}

// Resolver decides the next state of an episode. Unresolved classifications
// fall back to the first declared transition with a logged warning; liveness
// is favored over strict correctness, a documented policy rather than a
// correction.
type Resolver struct {
	model  model.Model
	logger logging.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(m model.Model, optFns ...func(o *ResolverOptions)) *Resolver {
	opts := ResolverOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Resolver{model: m, logger: opts.Logger}
}

// Next returns the state the episode should advance to, or nil when the
// current state is terminal. lastText is the current state's generated
// outcome, used as classification evidence.
func (r *Resolver) Next(ctx context.Context, sc *core.Scenario, state *core.State, lastText string) (*core.State, error) {
	transitions := sc.TransitionsFrom(state.ID)
	if len(transitions) == 0 {
		return nil, nil
	}
	if len(transitions) == 1 && transitions[0].Condition == "" {
		return r.toState(sc, transitions[0])
	}
	return r.classify(ctx, sc, state, transitions, lastText)
}

func (r *Resolver) classify(ctx context.Context, sc *core.Scenario, state *core.State, transitions []*core.StateTransition, lastText string) (*core.State, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Current state: %s\n", state.Name)
	if lastText != "" {
		fmt.Fprintf(&b, "Outcome of the current state:\n%s\n\n", lastText)
	}
	b.WriteString("Candidate next states:\n")
	for _, t := range transitions {
		to := sc.StateByID(t.ToStateID)
		if to == nil {
			return nil, core.NewConfigurationError("transition %s references unknown state %s", t.ID, t.ToStateID)
		}
		if t.Condition != "" {
			fmt.Fprintf(&b, "- %s (when: %s)\n", to.Name, t.Condition)
		} else {
			fmt.Fprintf(&b, "- %s\n", to.Name)
		}
	}

	start := time.Now()
	res, err := r.model.Generate(ctx, model.Request{Prompt: b.String(), Instructions: classifyInstruction})
	logging.LogModelCall(r.logger, r.model.Info().Name, time.Since(start), err)
	if err != nil {
		r.logger.Warn("transition classification failed, taking first declared transition",
			"state", state.Name, "error", err.Error())
		return r.toState(sc, transitions[0])
	}

	reply := strings.ToLower(strings.TrimSpace(res.Text))
	for _, t := range transitions {
		to := sc.StateByID(t.ToStateID)
		if strings.Contains(reply, strings.ToLower(to.Name)) {
			return to, nil
		}
	}
	r.logger.Warn("transition classification matched no candidate, taking first declared transition",
		"state", state.Name, "reply", res.Text)
	return r.toState(sc, transitions[0])
}

func (r *Resolver) toState(sc *core.Scenario, t *core.StateTransition) (*core.State, error) {
	to := sc.StateByID(t.ToStateID)
	if to == nil {
		return nil, core.NewConfigurationError("transition %s references unknown state %s", t.ID, t.ToStateID)
	}
	return to, nil
}
