package handler

import (
	"context"
	"fmt"
	"strings"

	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"
)

const coachSystemPrompt = `You are the Academic Coach specialist of CIRO, an AI academic support
assistant. You help students with study strategies, time management, goal setting and academic
planning. Be concrete: propose schedules, techniques and checkpoints, not platitudes. When the
student states or implies a new goal, capture it as a short goal phrase alongside your response.
Return an empty goals list when no new goal came up.`

// AcademicCoach handles planning and study-strategy conversations and
// harvests newly stated goals into the profile.
type AcademicCoach struct {
	client llm.Client
}

func NewAcademicCoach(client llm.Client) *AcademicCoach {
	return &AcademicCoach{client: client}
}

func (h *AcademicCoach) ID() model.HandlerID { return model.HandlerAcademicCoach }

type coachOutput struct {
	ResponseText string   `json:"response_text"`
	Goals        []string `json:"goals"`
}

func (h *AcademicCoach) Respond(ctx context.Context, req Request) (Response, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Student profile\n\n%s\n", formatProfile(req.Profile))
	fmt.Fprintf(&sb, "## Recent conversation\n\n%s\n\n", formatHistory(req.History, 6))
	fmt.Fprintf(&sb, "## Task\n\n%s\n", req.Task)

	raw, err := h.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: coachSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, coachSchema())
	if err != nil {
		return Response{}, fmt.Errorf("academic coach respond: %w", err)
	}

	var out coachOutput
	if err := llm.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("academic coach output: %w", err)
	}

	var delta model.ProfileDelta
	for _, goal := range out.Goals {
		if goal = strings.TrimSpace(goal); goal != "" {
			delta.Goals = append(delta.Goals, goal)
		}
	}
	return Response{Text: strings.TrimSpace(out.ResponseText), Delta: delta}, nil
}

func coachSchema() *llm.JSONSchema {
	return &llm.JSONSchema{
		Name: "coach_response",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"response_text": map[string]any{
					"type":        "string",
					"description": "The coaching reply to the student.",
				},
				"goals": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "New goals the student stated this turn, empty when none.",
				},
			},
			"required":             []string{"response_text", "goals"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}
