// Package aggregator turns one or more handler responses into the single
// reply the student sees.
package aggregator

import (
	"context"
	"fmt"
	"strings"

	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"

	"go.uber.org/zap"
)

const synthesisSystemPrompt = `You are the response synthesizer of CIRO, an AI academic support
assistant. You receive answers from several specialists to different facets of one student
message. Merge them into a single coherent reply in one voice. Preserve every concrete fact:
dates, deadlines, names, numbers, URLs and grades must survive synthesis verbatim. Lead with
whatever matches the student's primary intent. Do not mention that multiple specialists were
involved.`

const apologyReply = "I'm sorry, but I'm having trouble putting together a response right now. " +
	"Could you please rephrase your question or try again in a moment?"

// Contribution is one handler's text, tagged with its origin so the fallback
// chain can match against the primary intent.
type Contribution struct {
	Handler model.HandlerID
	Text    string
}

// Finalizer produces the outward-facing reply for a turn.
type Finalizer struct {
	client llm.Client
	logger *zap.Logger
}

func New(client llm.Client, logger *zap.Logger) *Finalizer {
	return &Finalizer{client: client, logger: logger}
}

// Finalize merges contributions into one reply. A single contribution passes
// through untouched; anything more is synthesized regardless of the routing
// flag, so no handler's content is silently dropped. Synthesis failures never
// fail the turn: the fallback chain picks the contribution matching the
// primary intent, then the first contribution in dispatch order, then a
// fixed apology.
func (f *Finalizer) Finalize(ctx context.Context, decision model.RoutingDecision, contributions []Contribution) string {
	contributions = nonEmpty(contributions)
	switch len(contributions) {
	case 0:
		return apologyReply
	case 1:
		return contributions[0].Text
	}

	merged, err := f.synthesize(ctx, decision, contributions)
	if err != nil {
		f.logger.Warn("response synthesis failed, using fallback chain",
			zap.String("primary_intent", decision.PrimaryIntent),
			zap.Error(err))
		return f.fallback(decision, contributions)
	}
	return merged
}

func (f *Finalizer) synthesize(ctx context.Context, decision model.RoutingDecision, contributions []Contribution) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Primary intent: %s\n\n", decision.PrimaryIntent)
	fmt.Fprintf(&sb, "Original task: %s\n\n", decision.TaskDescription)
	for _, c := range contributions {
		fmt.Fprintf(&sb, "## Answer from %s\n\n%s\n\n", c.Handler, c.Text)
	}
	sb.WriteString("Merge these into one reply.")

	merged, err := f.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: synthesisSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("synthesize responses: %w", err)
	}
	merged = strings.TrimSpace(merged)
	if merged == "" {
		return "", fmt.Errorf("synthesize responses: empty output")
	}
	return merged, nil
}

// fallback returns the contribution whose handler id appears in the primary
// intent, else the first contribution. Callers guarantee at least one.
func (f *Finalizer) fallback(decision model.RoutingDecision, contributions []Contribution) string {
	intent := strings.ToLower(decision.PrimaryIntent)
	for _, c := range contributions {
		if strings.Contains(intent, strings.ToLower(string(c.Handler))) {
			return c.Text
		}
	}
	return contributions[0].Text
}

func nonEmpty(contributions []Contribution) []Contribution {
	kept := contributions[:0]
	for _, c := range contributions {
		if strings.TrimSpace(c.Text) != "" {
			kept = append(kept, c)
		}
	}
	return kept
}
