package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ciro-tutor/internal/capability"
	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"

	"go.uber.org/zap"
)

const universitySystemPrompt = `You are the University Information specialist of CIRO, an AI academic
support assistant. You answer questions about deadlines, policies, campus resources, career
services, admissions and other administrative matters. Ground your answer in the search results
when they are provided; when they are not, answer from general knowledge and say clearly that the
student should verify details with the relevant office. Be concise and practical.`

// University answers administrative questions, enriched with live web lookup
// when that capability is available.
type University struct {
	client llm.Client
	web    capability.WebSearcher
	logger *zap.Logger
}

func NewUniversity(client llm.Client, web capability.WebSearcher, logger *zap.Logger) *University {
	return &University{client: client, web: web, logger: logger}
}

func (h *University) ID() model.HandlerID { return model.HandlerUniversity }

func (h *University) Respond(ctx context.Context, req Request) (Response, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Student profile\n\n%s\n", formatProfile(req.Profile))
	fmt.Fprintf(&sb, "## Recent conversation\n\n%s\n\n", formatHistory(req.History, 6))

	if results := h.lookup(ctx, req); results != "" {
		fmt.Fprintf(&sb, "## Web search results\n\n%s\n", results)
	}

	fmt.Fprintf(&sb, "## Task\n\n%s\n", req.Task)

	text, err := h.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: universitySystemPrompt},
		{Role: "user", Content: sb.String()},
	}, nil)
	if err != nil {
		return Response{}, fmt.Errorf("university respond: %w", err)
	}
	return Response{Text: strings.TrimSpace(text)}, nil
}

// lookup returns formatted web results, or "" on any failure. A broken or
// absent search backend degrades the answer, never the turn.
func (h *University) lookup(ctx context.Context, req Request) string {
	if h.web == nil || !h.web.Available() {
		return ""
	}
	results, err := h.web.Search(ctx, req.Task)
	if err != nil {
		if !errors.Is(err, capability.ErrUnavailable) {
			h.logger.Warn("web lookup failed, answering without results",
				zap.String("thread_id", req.ThreadID),
				zap.Error(err))
		}
		return ""
	}

	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
	}
	return sb.String()
}
