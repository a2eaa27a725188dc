// Package router is the central decision node of the tutor. Every turn gets
// exactly one routing decision, produced by a fixed priority chain:
//
//  1. crisis-keyword escalation (deterministic, no external call)
//  2. emotional-keyword override to the motivator
//  3. proactive check-in trigger
//  4. LLM classification constrained to the closed handler set
//  5. keyword-heuristic fallback when classification fails
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ciro-tutor/internal/config"
	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"

	"go.uber.org/zap"
)

// CrisisResponse is the fixed escalation reply. It must never depend on an
// external service.
const CrisisResponse = "It sounds like you are in significant distress. Your safety is the most " +
	"important thing. Please reach out for help immediately:\n" +
	"- Call or text 988 to reach the Suicide & Crisis Lifeline (available 24/7).\n" +
	"- Contact Public Safety at 718-990-5252 for immediate campus assistance.\n" +
	"- If you are in immediate danger, call 911 or go to the nearest emergency room.\n" +
	"Please talk to someone now."

const proactiveCheckInTask = "Proactively check in with the student. Ask them how they are " +
	"feeling and if there is anything on their mind."

// Router decides which specialist handles each message.
type Router struct {
	client llm.Client
	cfg    config.RouterConfig
	logger *zap.Logger
	now    func() time.Time
}

func New(client llm.Client, cfg config.RouterConfig, logger *zap.Logger, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{client: client, cfg: cfg, logger: logger, now: now}
}

// Decide produces the routing decision for userText and records its
// bookkeeping on state: current_depth increments exactly once per decision
// and routing_history gains exactly one entry.
func (r *Router) Decide(ctx context.Context, state *model.SessionState, userText string) model.RoutingDecision {
	decision := r.decide(ctx, state, userText)

	state.CurrentDepth++
	state.RoutingHistory = append(state.RoutingHistory, decision.Primary())

	if state.MaxRoutingDepth > 0 && state.CurrentDepth > state.MaxRoutingDepth {
		r.logger.Warn("routing depth limit exceeded",
			zap.String("thread_id", state.ThreadID),
			zap.Int("current_depth", state.CurrentDepth),
			zap.Int("max_routing_depth", state.MaxRoutingDepth))
	}

	return decision
}

func (r *Router) decide(ctx context.Context, state *model.SessionState, userText string) model.RoutingDecision {
	// Step 1: crisis override. Deterministic, runs before any LLM call, and
	// nothing downstream can veto it.
	if containsAny(userText, r.cfg.CrisisKeywords) {
		r.logger.Warn("crisis keywords detected, escalating",
			zap.String("thread_id", state.ThreadID))
		return model.RoutingDecision{
			Escalation: true,
			Response:   CrisisResponse,
			Rationale:  "crisis keyword match",
		}
	}

	// Step 2: broader distress terms force the motivator.
	if containsAny(userText, r.cfg.EmotionalKeywords) {
		return model.RoutingDecision{
			Handlers:        []model.HandlerID{model.HandlerMotivator},
			TaskDescription: "Provide emotional support. The student said: " + userText,
			PrimaryIntent:   "emotional support",
			Rationale:       "emotional keyword match",
		}
	}

	// Step 3: proactive check-in when the student has been quiet too long.
	// Content of the incoming message is deliberately ignored here.
	last := state.Profile.LastCheckInTime
	if !last.IsZero() && r.now().Sub(last) > r.cfg.CheckInInterval {
		r.logger.Info("proactive check-in triggered",
			zap.String("thread_id", state.ThreadID),
			zap.Time("last_check_in", last))
		return model.RoutingDecision{
			Handlers:        []model.HandlerID{model.HandlerMotivator},
			TaskDescription: proactiveCheckInTask,
			PrimaryIntent:   "wellness check-in",
			Rationale:       "check-in interval elapsed",
		}
	}

	// Step 4: classifier-based routing.
	decision, err := r.classify(ctx, state, userText)
	if err != nil {
		// Step 5: never surface classifier failures; fall back to keywords.
		r.logger.Warn("classification failed, using heuristic fallback",
			zap.String("thread_id", state.ThreadID),
			zap.Error(err))
		return r.fallback(userText)
	}
	return decision
}

// classifierOutput is the structured decision requested from the LLM.
// Subqueries come back as pairs because strict schema mode cannot express
// maps with dynamic keys.
type classifierOutput struct {
	Handlers []string `json:"handlers"`
	Subqueries []struct {
		Handler string `json:"handler"`
		Task    string `json:"task"`
	} `json:"subqueries"`
	TaskDescription    string `json:"task_description"`
	PrimaryIntent      string `json:"primary_intent"`
	RequireAggregation bool   `json:"require_aggregation"`
	Rationale          string `json:"rationale"`
}

func (r *Router) classify(ctx context.Context, state *model.SessionState, userText string) (model.RoutingDecision, error) {
	messages := []llm.Message{
		{Role: "system", Content: classifierSystemPrompt()},
		{Role: "user", Content: r.buildClassifierPrompt(state, userText)},
	}

	response, err := r.client.Complete(ctx, messages, classifierSchema())
	if err != nil {
		return model.RoutingDecision{}, fmt.Errorf("classifier complete: %w", err)
	}

	var out classifierOutput
	if err := llm.Unmarshal(response, &out); err != nil {
		return model.RoutingDecision{}, fmt.Errorf("classifier output: %w", err)
	}
	return r.validate(out)
}

// validate enforces routing-set closure: anything outside the fixed handler
// set is a contract violation and routes through the fallback instead.
func (r *Router) validate(out classifierOutput) (model.RoutingDecision, error) {
	if len(out.Handlers) == 0 {
		return model.RoutingDecision{}, fmt.Errorf("classifier selected no handlers")
	}

	seen := make(map[model.HandlerID]bool)
	handlers := make([]model.HandlerID, 0, len(out.Handlers))
	for _, raw := range out.Handlers {
		id := model.HandlerID(raw)
		if !id.Dispatchable() {
			return model.RoutingDecision{}, fmt.Errorf("classifier returned unknown handler %q", raw)
		}
		if !seen[id] {
			seen[id] = true
			handlers = append(handlers, id)
		}
	}

	subqueries := make(map[model.HandlerID]string, len(out.Subqueries))
	for _, sq := range out.Subqueries {
		id := model.HandlerID(sq.Handler)
		if seen[id] && sq.Task != "" {
			subqueries[id] = sq.Task
		}
	}

	return model.RoutingDecision{
		Handlers:           handlers,
		Subqueries:         subqueries,
		TaskDescription:    out.TaskDescription,
		PrimaryIntent:      out.PrimaryIntent,
		RequireAggregation: out.RequireAggregation && len(handlers) > 1,
		Rationale:          out.Rationale,
	}, nil
}

// fallback is the secondary heuristic used when classification fails or
// returns an out-of-set handler. Topic/content phrasing goes to the teacher,
// administrative phrasing to university, everything else to the teacher.
func (r *Router) fallback(userText string) model.RoutingDecision {
	target := model.HandlerTeacher
	intent := "academic content"
	switch {
	case containsAny(userText, syllabusKeywords):
		target = model.HandlerTeacher
		intent = "syllabus information"
	case containsAny(userText, universityKeywords):
		target = model.HandlerUniversity
		intent = "university information"
	}

	return model.RoutingDecision{
		Handlers:        []model.HandlerID{target},
		TaskDescription: userText,
		PrimaryIntent:   intent,
		Rationale:       "keyword heuristic fallback",
	}
}

func classifierSystemPrompt() string {
	return `You are the central Orchestrator of an AI Tutor. Analyze the latest student message
and the conversation history to determine the student's intent, then route to the correct
specialist handler(s).

Available handlers:
- university: university-specific information (deadlines, policies, campus resources,
  career services, admissions, administrative matters).
- teacher: explaining concepts, homework help, subject questions, syllabus and course content.
- motivator: emotional support, stress management, anxiety, lack of motivation, wellness.
- academic_coach: study strategies, time management, goal setting, academic planning.
- knowledge_check: quizzing the student to verify understanding of a topic, and grading
  their answers to an open knowledge check.
- clarify: the message is ambiguous, or the student is introducing themselves; introduce
  yourself as CIRO and ask what they need.

Select more than one handler only when the message genuinely spans domains (for example an
administrative question wrapped in anxiety); in that case set require_aggregation to true
and provide a reformulated task per handler. Prioritize the motivator whenever you detect
emotional distress. Always provide a clear, reformulated task description.`
}

func (r *Router) buildClassifierPrompt(state *model.SessionState, userText string) string {
	var sb strings.Builder

	sb.WriteString("## Student profile\n\n")
	profile := state.Profile
	fmt.Fprintf(&sb, "Email: %s\n", profile.Email)
	fmt.Fprintf(&sb, "Goals: %s\n", strings.Join(profile.Goals, "; "))
	if len(profile.ProgressNotes) > 0 {
		sb.WriteString("Progress:\n")
		for _, note := range profile.ProgressNotes {
			fmt.Fprintf(&sb, "  - %s: %s\n", note.Topic, note.Status)
		}
	}
	if len(profile.EmotionalStateHistory) > 0 {
		fmt.Fprintf(&sb, "Recent emotional states: %s\n",
			strings.Join(tail(profile.EmotionalStateHistory, 3), ", "))
	}

	sb.WriteString("\n## Recent conversation\n\n")
	sb.WriteString(formatRecentTurns(state.Messages, 6))

	fmt.Fprintf(&sb, "\n## Latest student message\n\n%q\n", userText)
	sb.WriteString("\nDecide which handler(s) should respond and reformulate the task for each.")
	return sb.String()
}

func classifierSchema() *llm.JSONSchema {
	handlerEnum := make([]string, 0, len(model.DispatchableHandlers()))
	for _, id := range model.DispatchableHandlers() {
		handlerEnum = append(handlerEnum, string(id))
	}

	return &llm.JSONSchema{
		Name: "routing_decision",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"handlers": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string", "enum": handlerEnum},
					"description": "Ordered handler ids to dispatch, primary first.",
				},
				"subqueries": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"handler": map[string]any{"type": "string", "enum": handlerEnum},
							"task":    map[string]any{"type": "string"},
						},
						"required":             []string{"handler", "task"},
						"additionalProperties": false,
					},
					"description": "Reformulated task per selected handler.",
				},
				"task_description": map[string]any{
					"type":        "string",
					"description": "Clear, reformulated task for the primary handler.",
				},
				"primary_intent": map[string]any{
					"type":        "string",
					"description": "The primary intent of the student's message.",
				},
				"require_aggregation": map[string]any{
					"type":        "boolean",
					"description": "True when multiple handler outputs must be synthesized.",
				},
				"rationale": map[string]any{
					"type":        "string",
					"description": "Brief explanation of the routing decision.",
				},
			},
			"required": []string{
				"handlers", "subqueries", "task_description",
				"primary_intent", "require_aggregation", "rationale",
			},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

func formatRecentTurns(turns []model.Turn, n int) string {
	if len(turns) == 0 {
		return "(no prior conversation)"
	}
	start := len(turns) - n
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, n)
	for _, turn := range turns[start:] {
		lines = append(lines, fmt.Sprintf("  [%s]: %s", turn.Role, turn.Content))
	}
	return strings.Join(lines, "\n")
}

func tail(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
