package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"ciro-tutor/internal/aggregator"
	"ciro-tutor/internal/compactor"
	"ciro-tutor/internal/config"
	"ciro-tutor/internal/handler"
	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"
	"ciro-tutor/internal/router"
	"ciro-tutor/internal/session"

	"go.uber.org/zap"
)

// fakeLLM returns scripted responses in order, then errors. With no script
// at all every call fails, which forces the router's keyword fallback and
// keeps routing deterministic in tests.
type fakeLLM struct {
	responses []string
}

func (f *fakeLLM) Complete(_ context.Context, _ []llm.Message, _ *llm.JSONSchema) (string, error) {
	if len(f.responses) == 0 {
		return "", errors.New("fake llm: no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

// fakeHandler records invocations and returns a fixed response.
type fakeHandler struct {
	id    model.HandlerID
	resp  handler.Response
	err   error
	calls int
}

func (f *fakeHandler) ID() model.HandlerID { return f.id }

func (f *fakeHandler) Respond(_ context.Context, _ handler.Request) (handler.Response, error) {
	f.calls++
	return f.resp, f.err
}

type failingStore struct {
	session.Store
	saveErr error
}

func (f *failingStore) Save(ctx context.Context, state *model.SessionState) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Store.Save(ctx, state)
}

func testOrchestrator(t *testing.T, client llm.Client, store session.Store, handlers ...handler.Handler) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	logger := zap.NewNop()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed }

	registry, err := handler.NewRegistry(handlers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return New(
		store,
		router.New(client, cfg.Router, logger, now),
		registry,
		compactor.New(client, cfg.Compactor.TurnThreshold, cfg.Compactor.KeepRecent, logger, now),
		aggregator.New(client, logger),
		cfg,
		logger,
		now,
	)
}

func TestCrisisTurnSkipsHandlers(t *testing.T) {
	store := session.NewInMemoryStore()
	teacher := &fakeHandler{id: model.HandlerTeacher, resp: handler.Response{Text: "ok"}}
	motivator := &fakeHandler{id: model.HandlerMotivator, resp: handler.Response{Text: "ok"}}
	o := testOrchestrator(t, &fakeLLM{}, store, teacher, motivator)

	result, err := o.ProcessMessage(context.Background(), "", "I feel hopeless, I want to die")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if !result.Escalation {
		t.Fatalf("expected escalation result")
	}
	if result.Reply != router.CrisisResponse {
		t.Fatalf("expected fixed crisis reply, got %q", result.Reply)
	}
	if teacher.calls != 0 || motivator.calls != 0 {
		t.Fatalf("no handler may run on a crisis turn")
	}

	// The escalated exchange is still persisted.
	state, err := store.Get(context.Background(), result.ThreadID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(state.Messages) != 2 {
		t.Fatalf("expected user+assistant turns persisted, got %d", len(state.Messages))
	}
	if state.CurrentDepth != 1 {
		t.Fatalf("depth = %d, want 1", state.CurrentDepth)
	}
}

func TestProfileDeltaAppliedAppendOnly(t *testing.T) {
	store := session.NewInMemoryStore()
	motivator := &fakeHandler{
		id: model.HandlerMotivator,
		resp: handler.Response{
			Text: "take a breath",
			Delta: model.ProfileDelta{
				EmotionalStates: []string{"stressed"},
				TouchCheckIn:    true,
			},
		},
	}
	o := testOrchestrator(t, &fakeLLM{}, store, motivator)

	seed := &model.SessionState{
		ThreadID: "t1",
		Profile: model.StudentProfile{
			Email:                 "s@example.edu",
			Goals:                 []string{"pass calculus"},
			EmotionalStateHistory: []string{"hopeful"},
			LastCheckInTime:       time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC),
		},
		MaxRoutingDepth: 500,
	}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := o.ProcessMessage(context.Background(), "t1", "I'm so stressed about exams")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Reply != "take a breath" {
		t.Fatalf("reply = %q", result.Reply)
	}
	if motivator.calls != 1 {
		t.Fatalf("motivator calls = %d, want 1", motivator.calls)
	}

	state, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p := state.Profile
	if len(p.EmotionalStateHistory) != 2 || p.EmotionalStateHistory[0] != "hopeful" {
		t.Fatalf("emotional history must append, got %v", p.EmotionalStateHistory)
	}
	if len(p.Goals) != 1 {
		t.Fatalf("goals must be untouched, got %v", p.Goals)
	}
	if !p.LastCheckInTime.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("check-in clock not advanced: %v", p.LastCheckInTime)
	}
}

func TestUnknownThreadBootstraps(t *testing.T) {
	store := session.NewInMemoryStore()
	university := &fakeHandler{id: model.HandlerUniversity, resp: handler.Response{Text: "March 15"}}
	o := testOrchestrator(t, &fakeLLM{}, store, university)

	result, err := o.ProcessMessage(context.Background(), "ghost-thread", "when is the registration deadline?")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.ThreadID != "ghost-thread" {
		t.Fatalf("thread id = %q", result.ThreadID)
	}

	state, err := store.Get(context.Background(), "ghost-thread")
	if err != nil {
		t.Fatalf("bootstrapped session not persisted: %v", err)
	}
	if state.MaxRoutingDepth != 500 {
		t.Fatalf("bootstrapped depth limit = %d", state.MaxRoutingDepth)
	}
}

func TestSaveFailureIsRetryable(t *testing.T) {
	store := &failingStore{Store: session.NewInMemoryStore(), saveErr: errors.New("disk full")}
	teacher := &fakeHandler{id: model.HandlerTeacher, resp: handler.Response{Text: "ok"}}
	o := testOrchestrator(t, &fakeLLM{}, store, teacher)

	_, err := o.ProcessMessage(context.Background(), "t1", "explain recursion")
	if !errors.Is(err, ErrRetryable) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestHandlerEscalationPropagates(t *testing.T) {
	store := session.NewInMemoryStore()
	motivator := &fakeHandler{
		id:   model.HandlerMotivator,
		resp: handler.Response{Text: router.CrisisResponse, Escalated: true},
	}
	o := testOrchestrator(t, &fakeLLM{}, store, motivator)

	result, err := o.ProcessMessage(context.Background(), "t1", "I'm really struggling lately")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if !result.Escalation {
		t.Fatalf("handler escalation must surface in the result")
	}
}

func TestHandlerEscalationSkipsSynthesis(t *testing.T) {
	store := session.NewInMemoryStore()
	teacher := &fakeHandler{id: model.HandlerTeacher, resp: handler.Response{Text: "here is your answer"}}
	motivator := &fakeHandler{
		id:   model.HandlerMotivator,
		resp: handler.Response{Text: router.CrisisResponse, Escalated: true},
	}
	// Two scripted responses: the classifier route, plus a synthesis reply
	// that must never reach the student on an escalated turn.
	o := testOrchestrator(t, &fakeLLM{responses: []string{
		`{"handlers":["teacher","motivator"],"subqueries":[],"task_description":"homework plus distress","primary_intent":"emotional support","require_aggregation":true,"rationale":"spans domains"}`,
		`a softly merged reply with no hotline numbers`,
	}}, store, teacher, motivator)

	result, err := o.ProcessMessage(context.Background(), "t1", "can you check my essay draft?")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if !result.Escalation {
		t.Fatalf("expected escalation result")
	}
	if result.Reply != router.CrisisResponse {
		t.Fatalf("crisis reply must go out verbatim, got %q", result.Reply)
	}
}

func TestHandlerFailureDegradesReply(t *testing.T) {
	store := session.NewInMemoryStore()
	teacher := &fakeHandler{id: model.HandlerTeacher, err: errors.New("provider down")}
	o := testOrchestrator(t, &fakeLLM{}, store, teacher)

	result, err := o.ProcessMessage(context.Background(), "t1", "explain recursion")
	if err != nil {
		t.Fatalf("a failed handler must not fail the turn: %v", err)
	}
	if result.Reply != degradedReply {
		t.Fatalf("expected degraded reply, got %q", result.Reply)
	}
}

func TestKnowledgeCheckStatePersists(t *testing.T) {
	store := session.NewInMemoryStore()
	kcState := &model.KnowledgeCheckState{
		Phase:    model.KCAwaitingAnswer,
		Topic:    "recursion",
		Question: "How does it terminate?",
	}
	kc := &fakeHandler{
		id:   model.HandlerKnowledgeCheck,
		resp: handler.Response{Text: "How does it terminate?", KnowledgeCheck: kcState},
	}
	o := testOrchestrator(t, &fakeLLM{responses: []string{`{"handlers":["knowledge_check"],"subqueries":[],"task_description":"quiz on recursion","primary_intent":"knowledge check","require_aggregation":false,"rationale":"quiz request"}`}}, store, kc)

	result, err := o.ProcessMessage(context.Background(), "t1", "quiz me on recursion")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Handlers[0] != model.HandlerKnowledgeCheck {
		t.Fatalf("routed to %v", result.Handlers)
	}

	state, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state.KnowledgeCheck == nil || state.KnowledgeCheck.Phase != model.KCAwaitingAnswer {
		t.Fatalf("quiz state not persisted: %+v", state.KnowledgeCheck)
	}
}

func TestFanOutPartialFailure(t *testing.T) {
	store := session.NewInMemoryStore()
	university := &fakeHandler{id: model.HandlerUniversity, err: errors.New("provider down")}
	motivator := &fakeHandler{
		id:   model.HandlerMotivator,
		resp: handler.Response{Text: "one step at a time"},
	}
	// One scripted response routes the turn to both handlers; the synthesis
	// call then finds the script exhausted and fails, exercising the
	// primary-intent fallback.
	o := testOrchestrator(t, &fakeLLM{responses: []string{
		`{"handlers":["university","motivator"],"subqueries":[],"task_description":"deadline plus reassurance","primary_intent":"motivator support","require_aggregation":true,"rationale":"spans domains"}`,
	}}, store, university, motivator)

	result, err := o.ProcessMessage(context.Background(), "t1", "can you help me plan my week?")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if university.calls != 1 || motivator.calls != 1 {
		t.Fatalf("both handlers must run, got %d/%d", university.calls, motivator.calls)
	}
	if result.Reply != "one step at a time" {
		t.Fatalf("expected the surviving handler's reply via fallback, got %q", result.Reply)
	}
}
