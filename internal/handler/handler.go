// Package handler contains the specialist responders and their dispatch
// table. Handlers never touch session state: they get a snapshot and return
// deltas that the orchestrator applies atomically at the end of the turn.
package handler

import (
	"context"
	"fmt"
	"strings"

	"ciro-tutor/internal/model"
)

// Request is the input to one handler invocation.
type Request struct {
	ThreadID string
	// Task is the router's reformulated task for this handler.
	Task string
	// UserText is the raw student message, kept for safety re-checks.
	UserText string
	// Profile is a snapshot; mutations go through Response.Delta.
	Profile model.StudentProfile
	History []model.Turn
	// KnowledgeCheck is the live quiz sub-state, nil when no check is open.
	KnowledgeCheck *model.KnowledgeCheckState
}

// Response is a handler's contribution to the turn.
type Response struct {
	Text  string
	Delta model.ProfileDelta
	// KnowledgeCheck replaces the session's quiz sub-state when non-nil.
	KnowledgeCheck *model.KnowledgeCheckState
	// Escalated marks a crisis caught by a handler's own re-check. The
	// orchestrator treats it exactly like a router escalation.
	Escalated bool
}

// Handler is one specialist. Respond must be idempotent under retry: the
// same task against the same profile snapshot yields an equivalent response.
type Handler interface {
	ID() model.HandlerID
	Respond(ctx context.Context, req Request) (Response, error)
}

// Registry is the closed dispatch table. Construction fails on an unknown
// or duplicate id, so a bad wiring is a startup error rather than a runtime
// string mismatch.
type Registry struct {
	handlers map[model.HandlerID]Handler
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	table := make(map[model.HandlerID]Handler, len(handlers))
	for _, h := range handlers {
		id := h.ID()
		if !id.Dispatchable() {
			return nil, fmt.Errorf("handler registry: unknown handler id %q", id)
		}
		if _, dup := table[id]; dup {
			return nil, fmt.Errorf("handler registry: duplicate handler id %q", id)
		}
		table[id] = h
	}
	return &Registry{handlers: table}, nil
}

// Get looks up a handler by id.
func (r *Registry) Get(id model.HandlerID) (Handler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// formatProfile renders the profile snapshot for a handler prompt.
func formatProfile(p model.StudentProfile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Email: %s\n", p.Email)
	fmt.Fprintf(&sb, "Goals: %s\n", strings.Join(p.Goals, "; "))
	if len(p.ProgressNotes) > 0 {
		sb.WriteString("Academic progress:\n")
		for _, note := range p.ProgressNotes {
			fmt.Fprintf(&sb, "  - %s: %s\n", note.Topic, note.Status)
		}
	}
	if len(p.EmotionalStateHistory) > 0 {
		fmt.Fprintf(&sb, "Emotional state history (most recent last): %s\n",
			strings.Join(p.EmotionalStateHistory, ", "))
	}
	return sb.String()
}

// formatHistory renders the last n turns for a handler prompt.
func formatHistory(turns []model.Turn, n int) string {
	if len(turns) == 0 {
		return "(no prior conversation)"
	}
	start := len(turns) - n
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, n)
	for _, turn := range turns[start:] {
		lines = append(lines, fmt.Sprintf("[%s]: %s", turn.Role, turn.Content))
	}
	return strings.Join(lines, "\n")
}
