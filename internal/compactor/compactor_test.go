package compactor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"

	"go.uber.org/zap"
)

type fakeClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeClient) Complete(_ context.Context, _ []llm.Message, _ *llm.JSONSchema) (string, error) {
	f.calls++
	return f.response, f.err
}

func turns(n int) []model.Turn {
	out := make([]model.Turn, 0, n)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out = append(out, model.Turn{
			Role:      role,
			Content:   fmt.Sprintf("turn %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestBelowThresholdIsNoOp(t *testing.T) {
	client := &fakeClient{response: "summary"}
	c := New(client, 20, 5, zap.NewNop(), nil)

	state := &model.SessionState{ThreadID: "t1", Messages: turns(20)}
	c.Compact(context.Background(), state)

	if client.calls != 0 {
		t.Fatalf("no summarization expected at threshold, got %d calls", client.calls)
	}
	if len(state.Messages) != 20 {
		t.Fatalf("history must be untouched, got %d turns", len(state.Messages))
	}
}

func TestCompactReplacesOldTurnsWithSummary(t *testing.T) {
	client := &fakeClient{response: "the student covered recursion"}
	c := New(client, 20, 5, zap.NewNop(), nil)

	state := &model.SessionState{ThreadID: "t1", Messages: turns(21)}
	c.Compact(context.Background(), state)

	if len(state.Messages) != 6 {
		t.Fatalf("expected 1 summary + 5 kept turns, got %d", len(state.Messages))
	}
	head := state.Messages[0]
	if head.Role != model.RoleSystem {
		t.Fatalf("summary turn role = %s, want system", head.Role)
	}
	if !strings.HasPrefix(head.Content, summaryPrefix) {
		t.Fatalf("summary turn missing prefix: %q", head.Content)
	}
	if state.Messages[5].Content != "turn 20" {
		t.Fatalf("most recent turn lost: %q", state.Messages[5].Content)
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	client := &fakeClient{response: "summary"}
	c := New(client, 20, 5, zap.NewNop(), nil)

	state := &model.SessionState{ThreadID: "t1", Messages: turns(21)}
	c.Compact(context.Background(), state)
	c.Compact(context.Background(), state)

	if client.calls != 1 {
		t.Fatalf("second compaction must be a no-op, got %d calls", client.calls)
	}
	if len(state.Messages) != 6 {
		t.Fatalf("expected 6 turns after repeat compaction, got %d", len(state.Messages))
	}
}

func TestSummarizationFailureLeavesHistory(t *testing.T) {
	client := &fakeClient{err: errors.New("provider down")}
	c := New(client, 20, 5, zap.NewNop(), nil)

	state := &model.SessionState{ThreadID: "t1", Messages: turns(25)}
	c.Compact(context.Background(), state)

	if len(state.Messages) != 25 {
		t.Fatalf("failed compaction must leave history untouched, got %d turns", len(state.Messages))
	}
}
