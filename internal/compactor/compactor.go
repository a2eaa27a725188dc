// Package compactor bounds the working history passed to the router and
// handlers by replacing old turns with a rolling summary.
package compactor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"

	"go.uber.org/zap"
)

const summaryPrompt = `You are summarizing a tutoring conversation so it can continue with a bounded history. Create a concise summary covering:
- Main topics discussed
- The student's understanding level and progress
- Key concepts taught
- Areas where the student struggled
- Current learning objectives and anything open

Conversation history:
%s

Summary:`

const summaryPrefix = "Previous conversation summary: "

// Compactor replaces all but the most recent turns with one synthetic system
// turn carrying the summary. It runs before every routing decision; below
// the threshold it is a no-op, so compacting twice changes nothing.
type Compactor struct {
	client        llm.Client
	turnThreshold int
	keepRecent    int
	logger        *zap.Logger
	now           func() time.Time
}

func New(client llm.Client, turnThreshold, keepRecent int, logger *zap.Logger, now func() time.Time) *Compactor {
	if now == nil {
		now = time.Now
	}
	return &Compactor{
		client:        client,
		turnThreshold: turnThreshold,
		keepRecent:    keepRecent,
		logger:        logger,
		now:           now,
	}
}

// NeedsCompaction reports whether the history is over the turn threshold.
func (c *Compactor) NeedsCompaction(messages []model.Turn) bool {
	return len(messages) > c.turnThreshold
}

// Compact summarizes and truncates state.Messages in place. A failed
// summarization must never fail the turn: the history is left untouched and
// the turn proceeds with whatever was there before.
func (c *Compactor) Compact(ctx context.Context, state *model.SessionState) {
	if !c.NeedsCompaction(state.Messages) {
		return
	}

	toSummarize := state.Messages[:len(state.Messages)-c.keepRecent]
	kept := state.Messages[len(state.Messages)-c.keepRecent:]

	summary, err := c.summarize(ctx, toSummarize)
	if err != nil {
		c.logger.Warn("history summarization failed, skipping compaction",
			zap.String("thread_id", state.ThreadID),
			zap.Int("history_len", len(state.Messages)),
			zap.Error(err))
		return
	}

	compacted := make([]model.Turn, 0, c.keepRecent+1)
	compacted = append(compacted, model.Turn{
		Role:      model.RoleSystem,
		Content:   summaryPrefix + summary,
		Timestamp: c.now(),
	})
	compacted = append(compacted, kept...)
	state.Messages = compacted

	c.logger.Info("history compacted",
		zap.String("thread_id", state.ThreadID),
		zap.Int("summarized_turns", len(toSummarize)),
		zap.Int("kept_turns", len(kept)))
}

func (c *Compactor) summarize(ctx context.Context, turns []model.Turn) (string, error) {
	var sb strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", turn.Timestamp.Format(time.RFC3339), turn.Role, turn.Content)
	}

	messages := []llm.Message{
		{Role: "user", Content: fmt.Sprintf(summaryPrompt, sb.String())},
	}
	summary, err := c.client.Complete(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	return strings.TrimSpace(summary), nil
}
