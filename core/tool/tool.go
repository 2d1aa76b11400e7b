// Package tool defines the capability contract the executor dispatches
// against. The executor treats every tool as an opaque, validated function;
// it never branches on tool identity.
package tool

import (
	"context"
	"fmt"

	"github.com/relayloop/relayloop/core/actor"
)

// RiskLevel grades a tool's blast radius for policy decisions.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RateLimit bounds a tool's invocation rate.
type RateLimit struct {
	PerMinute int `json:"per_minute,omitempty"`
	Burst     int `json:"burst,omitempty"`
}

// Handler executes one tool invocation with validated arguments.
type Handler func(ctx context.Context, args map[string]any, ac actor.Context) (any, error)

// Tool is one capability the planner may propose.
type Tool struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	InputSchema    map[string]any `json:"input_schema,omitempty"`
	OutputSchema   map[string]any `json:"output_schema,omitempty"`
	RequiredApps   []string       `json:"required_apps,omitempty"`
	RequiredScopes []string       `json:"required_scopes,omitempty"`
	RateLimit      *RateLimit     `json:"rate_limit,omitempty"`
	Risk           RiskLevel      `json:"risk,omitempty"`

	Handler Handler `json:"-"`
}

// Call validates the arguments against the tool's input schema, checks the
// actor's scopes, then invokes the handler.
func (t *Tool) Call(ctx context.Context, args map[string]any, ac actor.Context) (any, error) {
	if t.Handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", t.Name)
	}
	if err := t.CheckScopes(ac); err != nil {
		return nil, err
	}
	if err := ValidateArgs(t.Name, t.InputSchema, args); err != nil {
		return nil, err
	}
	return t.Handler(ctx, args, ac)
}

// CheckScopes verifies the actor holds every scope the tool requires.
func (t *Tool) CheckScopes(ac actor.Context) error {
	held := make(map[string]bool, len(ac.Scopes))
	for _, s := range ac.Scopes {
		held[s] = true
	}
	for _, required := range t.RequiredScopes {
		if !held[required] {
			return fmt.Errorf("tool %s requires scope %s", t.Name, required)
		}
	}
	return nil
}
