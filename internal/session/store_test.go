package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ciro-tutor/internal/model"
)

func sampleState(threadID string) *model.SessionState {
	return &model.SessionState{
		ThreadID: threadID,
		Profile: model.StudentProfile{
			Email:                 "s@example.edu",
			Goals:                 []string{"pass calculus"},
			ProgressNotes:         []model.ProgressNote{{Topic: "recursion", Status: model.ProgressUnderstood}},
			EmotionalStateHistory: []string{"stressed"},
			LastCheckInTime:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Messages: []model.Turn{
			{Role: model.RoleUser, Content: "hi", Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		},
		RoutingHistory:  []model.HandlerID{model.HandlerClarify},
		CurrentDepth:    1,
		MaxRoutingDepth: 500,
		KnowledgeCheck: &model.KnowledgeCheckState{
			Phase: model.KCAwaitingAnswer,
			Topic: "recursion",
		},
	}
}

func checkRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	want := sampleState("t1")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Profile.Email != want.Profile.Email {
		t.Fatalf("email = %q", got.Profile.Email)
	}
	if got.CurrentDepth != 1 || got.RoutingHistory[0] != model.HandlerClarify {
		t.Fatalf("routing state lost: %+v", got)
	}
	if got.KnowledgeCheck == nil || got.KnowledgeCheck.Phase != model.KCAwaitingAnswer {
		t.Fatalf("quiz state lost: %+v", got.KnowledgeCheck)
	}

	// Save is an upsert: a second write replaces the row.
	want.CurrentDepth = 2
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save update: %v", err)
	}
	got, err = store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.CurrentDepth != 2 {
		t.Fatalf("upsert not applied, depth = %d", got.CurrentDepth)
	}
}

func TestInMemoryRoundTrip(t *testing.T) {
	checkRoundTrip(t, NewInMemoryStore())
}

func TestInMemoryDoesNotAliasStoredState(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	state := sampleState("t1")
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	state.Profile.Goals = append(state.Profile.Goals, "mutated after save")

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Profile.Goals) != 1 {
		t.Fatalf("stored state aliased caller memory: %v", got.Profile.Goals)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	store, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer store.Close()

	checkRoundTrip(t, store)
}

func TestSQLiteOpensInWALMode(t *testing.T) {
	store, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer store.Close()

	var mode string
	if err := store.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}
