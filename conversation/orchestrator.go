// Package conversation runs bounded round-robin multi-party dialogues for
// states requiring two or more roles. Termination is either natural, via a
// reserved sentinel utterance, or forced by the max-turn bound, so Run
// always returns a finite transcript.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/logging"
	"github.com/agircc/agir-learning-sub000/model"
)

// Sentinel is the reserved marker an agent emits as its complete utterance
// to end the dialogue. The sentinel turn itself is never recorded.
const Sentinel = "I THINK WE'VE REACHED A CONCLUSION"

// closingUtterance is injected when the max-turn bound fires before any
// participant emits the sentinel.
const closingUtterance = "We've had an extensive discussion. Let's conclude this conversation."

// DefaultMaxTurns bounds generated utterances per conversation.
const DefaultMaxTurns = 10

// Participant is one role-agent taking part in a dialogue. Model is the
// generative model resolved from the agent's hint.
type Participant struct {
	Agent *core.Agent
	Role  *core.AgentRole
	Model model.Model
}

// Turn is one recorded utterance of the transcript.
type Turn struct {
	AgentID string
	Speaker string
	Content string
}

// Result is a finished dialogue: the full transcript and a best-effort
// summary, empty when summarization failed.
type Result struct {
	Turns   []Turn
	Summary string
}

// Transcript renders the turns as "Speaker: content" lines.
func (r *Result) Transcript() string {
	var b strings.Builder
	for _, t := range r.Turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Content)
	}
	return b.String()
}

// Memories is the slice of the memory subsystem the orchestrator needs:
// per-turn retrieval for the acting agent's private instruction.
type Memories interface {
	ContextBlock(ctx context.Context, userID, query string, k int) string
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Logger logging.Logger
	// MaxTurns bounds generated utterances. Values < 1 fall back to
	// DefaultMaxTurns.
	MaxTurns int
	// MemoryK is how many memories augment each turn's instruction.
	MemoryK int
}

// Orchestrator drives multi-party dialogues. Within one conversation,
// execution is strictly sequential: one turn at a time.
type Orchestrator struct {
	memories Memories
	logger   logging.Logger
	maxTurns int
	memoryK  int
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(memories Memories, optFns ...func(o *OrchestratorOptions)) *Orchestrator {
	opts := OrchestratorOptions{
		Logger:   logging.NoOpLogger{},
		MaxTurns: DefaultMaxTurns,
		MemoryK:  5,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTurns < 1 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.MemoryK < 1 {
		opts.MemoryK = 5
	}
	return &Orchestrator{
		memories: memories,
		logger:   opts.Logger,
		maxTurns: opts.MaxTurns,
		memoryK:  opts.MemoryK,
	}
}

// Run executes one dialogue for the state. The first participant opens with
// a synthetic recorded utterance; generation then proceeds round-robin from
// the second participant. Each acting agent sees the transcript so far plus
// a private memory-augmented instruction and produces exactly one utterance.
// A sentinel utterance ends the dialogue without being recorded; otherwise
// the max-turn bound injects a closing utterance.
func (o *Orchestrator) Run(ctx context.Context, state *core.State, participants []Participant) (*Result, error) {
	if len(participants) < 2 {
		return nil, core.NewConfigurationError("conversation for state %q needs at least 2 participants, got %d", state.Name, len(participants))
	}

	result := &Result{}
	opener := participants[0]
	result.Turns = append(result.Turns, Turn{
		AgentID: opener.Agent.ID,
		Speaker: opener.Agent.DisplayName(),
		Content: o.openingUtterance(opener, state),
	})

	generated := 0
	for i := 1; ; i++ {
		if generated >= o.maxTurns {
			closer := participants[i%len(participants)]
			result.Turns = append(result.Turns, Turn{
				AgentID: closer.Agent.ID,
				Speaker: closer.Agent.DisplayName(),
				Content: closingUtterance,
			})
			o.logger.Warn("conversation hit max turns, closing", "state", state.Name, "max_turns", o.maxTurns)
			break
		}
		p := participants[i%len(participants)]
		utterance, err := o.speak(ctx, p, state, result)
		if err != nil {
			return nil, err
		}
		generated++
		if strings.TrimSpace(utterance) == Sentinel {
			break
		}
		result.Turns = append(result.Turns, Turn{
			AgentID: p.Agent.ID,
			Speaker: p.Agent.DisplayName(),
			Content: utterance,
		})
	}

	o.summarize(ctx, participants[0].Model, state, result)
	return result, nil
}

func (o *Orchestrator) speak(ctx context.Context, p Participant, state *core.State, r *Result) (string, error) {
	req := model.Request{
		Prompt:       r.Transcript() + "\nReply with your next utterance only, without your name prefix.",
		Instructions: o.instruction(ctx, p, state),
	}
	start := time.Now()
	res, err := p.Model.Generate(ctx, req)
	logging.LogModelCall(o.logger, p.Model.Info().Name, time.Since(start), err)
	if err != nil {
		return "", &core.GenerationError{Op: fmt.Sprintf("conversation turn for %s", p.Agent.DisplayName()), Err: err}
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", &core.GenerationError{Op: fmt.Sprintf("conversation turn for %s", p.Agent.DisplayName())}
	}
	return strings.TrimSpace(res.Text), nil
}

// instruction builds the acting agent's private system instruction: persona,
// role, retrieved memories and the termination protocol.
func (o *Orchestrator) instruction(ctx context.Context, p Participant, state *core.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", p.Agent.DisplayName())
	if p.Agent.Profession != "" {
		fmt.Fprintf(&b, ", a %s", p.Agent.Profession)
	}
	b.WriteString(".\n")
	if p.Agent.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", p.Agent.Background)
	}
	fmt.Fprintf(&b, "You act as the role %q", p.Role.Name)
	if p.Role.Description != "" {
		fmt.Fprintf(&b, ": %s", p.Role.Description)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Conversation topic (%s): %s\n", state.Name, state.Description)
	if block := o.memories.ContextBlock(ctx, p.Agent.ID, state.Name+" "+state.Description, o.memoryK); block != "" {
		b.WriteString(block)
	}
	fmt.Fprintf(&b, "When you believe the conversation has naturally concluded, reply with exactly: %s\n", Sentinel)
	return b.String()
}

func (o *Orchestrator) openingUtterance(p Participant, state *core.State) string {
	topic := state.Description
	if topic == "" {
		topic = state.Name
	}
	return fmt.Sprintf("Hello, I'm %s. Let's talk about this: %s", p.Agent.DisplayName(), topic)
}

// summarize is best effort: a failure logs a warning and leaves the summary
// empty, never failing the conversation. Transcripts with nothing beyond the
// opener are not worth a call.
func (o *Orchestrator) summarize(ctx context.Context, m model.Model, state *core.State, r *Result) {
	if len(r.Turns) < 2 {
		return
	}
	req := model.Request{
		Prompt:       r.Transcript(),
		Instructions: "Summarize this conversation in two or three sentences.",
	}
	start := time.Now()
	res, err := m.Generate(ctx, req)
	logging.LogModelCall(o.logger, m.Info().Name, time.Since(start), err)
	if err != nil {
		o.logger.Warn("conversation summarization failed", "state", state.Name, "error", err.Error())
		return
	}
	r.Summary = strings.TrimSpace(res.Text)
}
