package handler

import (
	"context"
	"fmt"
	"strings"

	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"

	"go.uber.org/zap"
)

const motivatorSystemPrompt = `You are the Motivator specialist of CIRO, an AI academic support
assistant. You provide emotional support to students who are stressed, anxious, overwhelmed or
unmotivated. Validate feelings first, then offer one small concrete step. Keep it warm and short;
never lecture. Alongside your response, label the student's current emotional state with one or
two words (for example "stressed", "anxious", "hopeful").`

// Motivator handles emotional support and proactive check-ins. It re-checks
// the raw message against the crisis list on its own: an emotional-keyword
// route can still be hiding a crisis the router's list missed in context.
type Motivator struct {
	client         llm.Client
	crisisKeywords []string
	crisisResponse string
	logger         *zap.Logger
}

func NewMotivator(client llm.Client, crisisKeywords []string, crisisResponse string, logger *zap.Logger) *Motivator {
	return &Motivator{
		client:         client,
		crisisKeywords: crisisKeywords,
		crisisResponse: crisisResponse,
		logger:         logger,
	}
}

func (h *Motivator) ID() model.HandlerID { return model.HandlerMotivator }

type motivatorOutput struct {
	ResponseText   string `json:"response_text"`
	EmotionalState string `json:"emotional_state"`
}

func (h *Motivator) Respond(ctx context.Context, req Request) (Response, error) {
	lower := strings.ToLower(req.UserText)
	for _, term := range h.crisisKeywords {
		if strings.Contains(lower, term) {
			h.logger.Warn("crisis detected in motivator re-check",
				zap.String("thread_id", req.ThreadID))
			return Response{Text: h.crisisResponse, Escalated: true}, nil
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Student profile\n\n%s\n", formatProfile(req.Profile))
	fmt.Fprintf(&sb, "## Recent conversation\n\n%s\n\n", formatHistory(req.History, 6))
	fmt.Fprintf(&sb, "## Task\n\n%s\n", req.Task)

	raw, err := h.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: motivatorSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, motivatorSchema())
	if err != nil {
		return Response{}, fmt.Errorf("motivator respond: %w", err)
	}

	var out motivatorOutput
	if err := llm.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("motivator output: %w", err)
	}

	delta := model.ProfileDelta{TouchCheckIn: true}
	if state := strings.TrimSpace(out.EmotionalState); state != "" {
		delta.EmotionalStates = []string{state}
	}
	return Response{Text: strings.TrimSpace(out.ResponseText), Delta: delta}, nil
}

func motivatorSchema() *llm.JSONSchema {
	return &llm.JSONSchema{
		Name: "motivator_response",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"response_text": map[string]any{
					"type":        "string",
					"description": "The supportive reply to the student.",
				},
				"emotional_state": map[string]any{
					"type":        "string",
					"description": "One- or two-word label of the student's current emotional state.",
				},
			},
			"required":             []string{"response_text", "emotional_state"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}
