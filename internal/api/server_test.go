package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ciro-tutor/internal/aggregator"
	"ciro-tutor/internal/compactor"
	"ciro-tutor/internal/config"
	"ciro-tutor/internal/handler"
	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"
	"ciro-tutor/internal/orchestrator"
	"ciro-tutor/internal/router"
	"ciro-tutor/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type downLLM struct{}

func (downLLM) Complete(context.Context, []llm.Message, *llm.JSONSchema) (string, error) {
	return "", errors.New("down")
}

type echoHandler struct{ id model.HandlerID }

func (e echoHandler) ID() model.HandlerID { return e.id }
func (e echoHandler) Respond(_ context.Context, req handler.Request) (handler.Response, error) {
	return handler.Response{Text: "answer: " + req.Task}, nil
}

func testServer(t *testing.T) (*Server, session.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	logger := zap.NewNop()
	store := session.NewInMemoryStore()

	registry, err := handler.NewRegistry(
		echoHandler{id: model.HandlerTeacher},
		echoHandler{id: model.HandlerUniversity},
		echoHandler{id: model.HandlerMotivator},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	orch := orchestrator.New(
		store,
		router.New(downLLM{}, cfg.Router, logger, nil),
		registry,
		compactor.New(downLLM{}, cfg.Compactor.TurnThreshold, cfg.Compactor.KeepRecent, logger, nil),
		aggregator.New(downLLM{}, logger),
		cfg,
		logger,
		nil,
	)
	return NewServer(orch, store, logger), store
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateThreadAndPostMessage(t *testing.T) {
	s, store := testServer(t)
	r := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/threads",
		strings.NewReader(`{"email":"s@example.edu"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "thread_id") {
		t.Fatalf("missing thread_id: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/threads/t-test/messages",
		strings.NewReader(`{"text":"when is the registration deadline?"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("message status = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"handlers":["university"]`) {
		t.Fatalf("unexpected routing: %s", w.Body.String())
	}

	state, err := store.Get(req.Context(), "t-test")
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(state.Messages))
	}
}

func TestPostMessageRequiresText(t *testing.T) {
	s, _ := testServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/threads/t1/messages",
		strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetThreadNotFound(t *testing.T) {
	s, _ := testServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/threads/nope", nil)
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}
