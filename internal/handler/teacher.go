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

const teacherSystemPrompt = `You are the Teacher specialist of CIRO, an AI academic support
assistant. You explain concepts, help with homework and answer questions about course content
and the syllabus. Teach, do not just answer: prefer short explanations with an example, and end
with a question that checks the student followed. When course material excerpts are provided,
ground your explanation in them and mention the source. Adapt your level to the student's
progress notes.`

// Teacher handles academic content. It grounds answers in the indexed course
// material and falls back to web search when the index has nothing.
type Teacher struct {
	client  llm.Client
	content capability.ContentSearcher
	web     capability.WebSearcher
	topK    int
	logger  *zap.Logger
}

func NewTeacher(client llm.Client, content capability.ContentSearcher, web capability.WebSearcher, topK int, logger *zap.Logger) *Teacher {
	if topK <= 0 {
		topK = 5
	}
	return &Teacher{client: client, content: content, web: web, topK: topK, logger: logger}
}

func (h *Teacher) ID() model.HandlerID { return model.HandlerTeacher }

func (h *Teacher) Respond(ctx context.Context, req Request) (Response, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Student profile\n\n%s\n", formatProfile(req.Profile))
	fmt.Fprintf(&sb, "## Recent conversation\n\n%s\n\n", formatHistory(req.History, 6))

	if material := h.lookupContent(ctx, req); material != "" {
		fmt.Fprintf(&sb, "## Course material excerpts\n\n%s\n", material)
	} else if results := h.lookupWeb(ctx, req); results != "" {
		fmt.Fprintf(&sb, "## Web search results\n\n%s\n", results)
	}

	fmt.Fprintf(&sb, "## Task\n\n%s\n", req.Task)

	text, err := h.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: teacherSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, nil)
	if err != nil {
		return Response{}, fmt.Errorf("teacher respond: %w", err)
	}
	return Response{Text: strings.TrimSpace(text)}, nil
}

func (h *Teacher) lookupContent(ctx context.Context, req Request) string {
	if h.content == nil || !h.content.Available() {
		return ""
	}
	hits, err := h.content.Search(ctx, req.Task, h.topK)
	if err != nil {
		h.logger.Warn("content lookup failed",
			zap.String("thread_id", req.ThreadID),
			zap.Error(err))
		return ""
	}

	var sb strings.Builder
	for _, hit := range hits {
		source := hit.Source.SourceName
		if hit.Source.Page > 0 {
			source = fmt.Sprintf("%s, p.%d", source, hit.Source.Page)
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", source, hit.Text)
	}
	return sb.String()
}

func (h *Teacher) lookupWeb(ctx context.Context, req Request) string {
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
