package handler

import (
	"context"
	"fmt"
	"strings"

	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"
)

const clarifySystemPrompt = `You are CIRO, an AI academic support assistant for university
students. The student's message was ambiguous, or they are just saying hello. Introduce yourself
briefly as CIRO, mention that you can help with course content, university information, study
planning, motivation and knowledge checks, and ask one short clarifying question about what they
need right now. Two or three sentences at most.`

// Clarify is the catch-all for greetings and ambiguous messages.
type Clarify struct {
	client llm.Client
}

func NewClarify(client llm.Client) *Clarify {
	return &Clarify{client: client}
}

func (h *Clarify) ID() model.HandlerID { return model.HandlerClarify }

func (h *Clarify) Respond(ctx context.Context, req Request) (Response, error) {
	prompt := fmt.Sprintf("## Recent conversation\n\n%s\n\n## Student message\n\n%s\n",
		formatHistory(req.History, 4), req.UserText)

	text, err := h.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: clarifySystemPrompt},
		{Role: "user", Content: prompt},
	}, nil)
	if err != nil {
		return Response{}, fmt.Errorf("clarify respond: %w", err)
	}
	return Response{Text: strings.TrimSpace(text)}, nil
}
