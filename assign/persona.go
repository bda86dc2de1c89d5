package assign

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/internal/util"
	"github.com/agircc/agir-learning-sub000/logging"
	"github.com/agircc/agir-learning-sub000/model"
)

const personaInstruction = "You invent realistic synthetic personas. Reply with a single JSON object " +
	`with keys "username", "first_name", "last_name", "profession", "background" and "memories" ` +
	"(an array of 3 to 5 short first-person life-history statements). No other text."

// persona is the JSON profile shape the synthesis call returns.
type persona struct {
	Username   string   `json:"username"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Profession string   `json:"profession"`
	Background string   `json:"background"`
	Memories   []string `json:"memories"`
}

// synthesizePersona asks the model for a profile fitting the role and parses
// it. A failed call or unparseable reply degrades to a generic fallback
// profile; agent creation never fails on persona quality.
func synthesizePersona(ctx context.Context, m model.Model, role *core.AgentRole, logger logging.Logger) persona {
	prompt := fmt.Sprintf("Create a persona for the role %q.", role.Name)
	if role.Description != "" {
		prompt += " Role description: " + role.Description
	}
	start := time.Now()
	res, err := m.Generate(ctx, model.Request{Prompt: prompt, Instructions: personaInstruction})
	logging.LogModelCall(logger, m.Info().Name, time.Since(start), err)
	if err != nil {
		logger.Warn("persona synthesis failed, using fallback profile", "role", role.Name, "error", err.Error())
		return fallbackPersona(role)
	}
	p, err := parsePersona(res.Text)
	if err != nil {
		logger.Warn("persona reply unparseable, using fallback profile", "role", role.Name, "error", err.Error())
		return fallbackPersona(role)
	}
	return p
}

// parsePersona unmarshals the reply, tolerating a markdown code fence around
// the JSON object.
func parsePersona(text string) (persona, error) {
	var p persona
	text = stripFence(text)
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return persona{}, err
	}
	if p.Username == "" && p.FirstName == "" {
		return persona{}, fmt.Errorf("persona has no usable identity fields")
	}
	return p, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func fallbackPersona(role *core.AgentRole) persona {
	id := util.NewID()[:8]
	return persona{
		Username:   fmt.Sprintf("%s-%s", sanitizeRoleName(role.Name), id),
		Profession: role.Name,
		Background: role.Description,
	}
}

func sanitizeRoleName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "-")
}

// newAgent materializes a persona as a persisted Agent carrying the role's
// model hint.
func (p persona) newAgent(role *core.AgentRole) *core.Agent {
	username := p.Username
	if username == "" {
		username = fmt.Sprintf("%s-%s", sanitizeRoleName(role.Name), util.NewID()[:8])
	}
	return &core.Agent{
		ID:         util.NewID(),
		Username:   username,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Profession: p.Profession,
		Background: p.Background,
		Model:      role.Model,
		CreatedAt:  time.Now(),
	}
}
