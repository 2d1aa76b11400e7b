// Package actor carries the authenticated actor's identity through a run so a
// worker picking up a job enforces the same authorization as the originating
// request even though it runs in a different process.
package actor

import "context"

// Context identifies the authenticated actor behind a run.
type Context struct {
	Subject  string   `json:"subject,omitempty"`
	UserID   int64    `json:"user_id,omitempty"`
	TeamID   int64    `json:"team_id,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	TraceID  string   `json:"trace_id,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
}

// IsZero reports whether no actor information is present.
func (c Context) IsZero() bool {
	return c.Subject == "" && c.UserID == 0 && c.TeamID == 0 && len(c.Scopes) == 0 && c.TraceID == "" && c.Timezone == ""
}

type ctxKey struct{}

// WithContext attaches actor identity to a request context.
func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext extracts the ambient actor identity, if any.
func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(ctxKey{}).(Context)
	return ac, ok
}

// Prefer returns the ambient per-request actor when present, falling back to
// the cached one otherwise.
func Prefer(ctx context.Context, cached Context) Context {
	if ac, ok := FromContext(ctx); ok && !ac.IsZero() {
		return ac
	}
	return cached
}
