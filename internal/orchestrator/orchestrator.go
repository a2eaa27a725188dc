// Package orchestrator runs the full turn pipeline: load session, compact
// history, route, dispatch specialists, finalize the reply, apply profile
// deltas, persist. One turn, one load, one save.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ciro-tutor/internal/aggregator"
	"ciro-tutor/internal/compactor"
	"ciro-tutor/internal/config"
	"ciro-tutor/internal/handler"
	"ciro-tutor/internal/model"
	"ciro-tutor/internal/router"
	"ciro-tutor/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRetryable wraps store failures the client should retry; the session is
// intact and the turn had no durable effect.
var ErrRetryable = errors.New("temporary failure, retry")

// handlerTimeout bounds one specialist invocation during fan-out.
const handlerTimeout = 60 * time.Second

const degradedReply = "I couldn't fully process that part of your question right now. " +
	"Please try asking it again."

// Result is the outward-facing outcome of one turn.
type Result struct {
	ThreadID   string
	Reply      string
	Escalation bool
	Handlers   []model.HandlerID
}

// Orchestrator coordinates one conversation turn end to end. It serializes
// turns per thread with an in-process mutex; the store only ever sees one
// writer per thread at a time.
type Orchestrator struct {
	store     session.Store
	router    *router.Router
	registry  *handler.Registry
	compactor *compactor.Compactor
	finalizer *aggregator.Finalizer
	cfg       *config.Config
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

func New(
	store session.Store,
	rt *router.Router,
	registry *handler.Registry,
	cmp *compactor.Compactor,
	finalizer *aggregator.Finalizer,
	cfg *config.Config,
	logger *zap.Logger,
	now func() time.Time,
) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:     store,
		router:    rt,
		registry:  registry,
		compactor: cmp,
		finalizer: finalizer,
		cfg:       cfg,
		logger:    logger,
		now:       now,
		threads:   make(map[string]*sync.Mutex),
	}
}

// CreateThread bootstraps a new session for a student and persists it.
func (o *Orchestrator) CreateThread(ctx context.Context, email string) (*model.SessionState, error) {
	state := o.newSession(uuid.NewString(), email)
	if err := o.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("%w: create thread: %v", ErrRetryable, err)
	}
	o.logger.Info("thread created",
		zap.String("thread_id", state.ThreadID),
		zap.String("email", email))
	return state, nil
}

// ProcessMessage runs one turn. An empty threadID starts a new thread; an
// unknown threadID is bootstrapped rather than rejected, so a client that
// lost the race with a store wipe can keep talking.
func (o *Orchestrator) ProcessMessage(ctx context.Context, threadID, userText string) (Result, error) {
	if threadID == "" {
		threadID = uuid.NewString()
	}

	lock := o.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.store.Get(ctx, threadID)
	if errors.Is(err, session.ErrNotFound) {
		state = o.newSession(threadID, "")
	} else if err != nil {
		return Result{}, fmt.Errorf("%w: load session %s: %v", ErrRetryable, threadID, err)
	}

	// Compaction runs before routing so the classifier prompt is bounded.
	o.compactor.Compact(ctx, state)

	decision := o.router.Decide(ctx, state, userText)

	if decision.Escalation {
		return o.finishTurn(ctx, state, userText, decision.Response, decision, true)
	}

	contributions, crisisReply, escalated := o.dispatch(ctx, state, decision, userText)
	if escalated {
		// A handler-level escalation is as absolute as the router's: the
		// fixed crisis text goes out verbatim, never through synthesis.
		return o.finishTurn(ctx, state, userText, crisisReply, decision, true)
	}
	reply := o.finalizer.Finalize(ctx, decision, contributions)
	return o.finishTurn(ctx, state, userText, reply, decision, false)
}

// dispatch invokes the selected handlers and applies their state effects.
// Multi-handler decisions fan out concurrently; each handler gets its own
// snapshot and failures degrade that handler's contribution only. When any
// handler escalates, its text is returned alone as the crisis reply.
func (o *Orchestrator) dispatch(ctx context.Context, state *model.SessionState, decision model.RoutingDecision, userText string) ([]aggregator.Contribution, string, bool) {
	type outcome struct {
		id   model.HandlerID
		resp handler.Response
		err  error
	}

	outcomes := make([]outcome, len(decision.Handlers))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range decision.Handlers {
		i, id := i, id
		h, ok := o.registry.Get(id)
		if !ok {
			// validate() upstream makes this unreachable; log and degrade.
			o.logger.Error("routed to unregistered handler",
				zap.String("thread_id", state.ThreadID),
				zap.String("handler", string(id)))
			outcomes[i] = outcome{id: id, err: fmt.Errorf("handler %s not registered", id)}
			continue
		}

		req := handler.Request{
			ThreadID:       state.ThreadID,
			Task:           decision.Task(id),
			UserText:       userText,
			Profile:        state.Profile,
			History:        state.Messages,
			KnowledgeCheck: state.KnowledgeCheck,
		}

		g.Go(func() error {
			// Errors (and panics) stay in the outcome slot; a failed handler
			// must not cancel its siblings or crash the turn.
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = outcome{id: id, err: fmt.Errorf("handler %s panicked: %v", id, r)}
				}
			}()
			hctx, cancel := context.WithTimeout(gctx, handlerTimeout)
			defer cancel()
			resp, err := h.Respond(hctx, req)
			outcomes[i] = outcome{id: id, resp: resp, err: err}
			return nil
		})
	}
	g.Wait()

	contributions := make([]aggregator.Contribution, 0, len(outcomes))
	for _, out := range outcomes {
		if out.err != nil {
			o.logger.Warn("handler failed",
				zap.String("thread_id", state.ThreadID),
				zap.String("handler", string(out.id)),
				zap.Error(out.err))
			contributions = append(contributions, aggregator.Contribution{
				Handler: out.id,
				Text:    degradedReply,
			})
			continue
		}

		if out.resp.Escalated {
			o.logger.Warn("handler escalated",
				zap.String("thread_id", state.ThreadID),
				zap.String("handler", string(out.id)))
			return nil, out.resp.Text, true
		}

		o.applyDelta(state, out.resp.Delta)
		if out.resp.KnowledgeCheck != nil {
			state.KnowledgeCheck = out.resp.KnowledgeCheck
		}
		contributions = append(contributions, aggregator.Contribution{
			Handler: out.id,
			Text:    out.resp.Text,
		})
	}
	return contributions, "", false
}

// applyDelta folds a handler's profile contribution into the session.
// Profile fields are append-only; deltas never remove or rewrite entries.
func (o *Orchestrator) applyDelta(state *model.SessionState, delta model.ProfileDelta) {
	if delta.Empty() {
		return
	}
	p := &state.Profile
	p.EmotionalStateHistory = append(p.EmotionalStateHistory, delta.EmotionalStates...)
	p.ProgressNotes = append(p.ProgressNotes, delta.ProgressNotes...)
	p.Goals = append(p.Goals, delta.Goals...)
	if delta.TouchCheckIn {
		p.LastCheckInTime = o.now()
	}
}

// finishTurn appends both turns, persists once, and builds the result. A
// failed save surfaces as retryable; the in-memory state is discarded, so
// the retry replays against the last persisted session.
func (o *Orchestrator) finishTurn(ctx context.Context, state *model.SessionState, userText, reply string, decision model.RoutingDecision, escalation bool) (Result, error) {
	now := o.now()
	state.Messages = append(state.Messages,
		model.Turn{Role: model.RoleUser, Content: userText, Timestamp: now},
		model.Turn{Role: model.RoleAssistant, Content: reply, Timestamp: now},
	)

	if err := o.store.Save(ctx, state); err != nil {
		o.logger.Error("session save failed",
			zap.String("thread_id", state.ThreadID),
			zap.Error(err))
		return Result{}, fmt.Errorf("%w: save session %s: %v", ErrRetryable, state.ThreadID, err)
	}

	return Result{
		ThreadID:   state.ThreadID,
		Reply:      reply,
		Escalation: escalation,
		Handlers:   decision.Handlers,
	}, nil
}

func (o *Orchestrator) newSession(threadID, email string) *model.SessionState {
	return &model.SessionState{
		ThreadID: threadID,
		Profile: model.StudentProfile{
			Email: email,
			// Seeding the check-in clock here arms the proactive trigger
			// from the first turn onward.
			LastCheckInTime: o.now(),
		},
		MaxRoutingDepth: o.cfg.Router.MaxRoutingDepth,
	}
}

func (o *Orchestrator) threadLock(threadID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.threads[threadID]
	if !ok {
		lock = &sync.Mutex{}
		o.threads[threadID] = lock
	}
	return lock
}
