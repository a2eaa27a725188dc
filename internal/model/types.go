package model

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single conversation turn. Turns are immutable once appended;
// the only thing that ever removes them is history compaction, which swaps
// old turns for a single system summary turn.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressStatus marks how well the student handled a checked topic.
type ProgressStatus string

const (
	ProgressUnderstood  ProgressStatus = "understood"
	ProgressNeedsReview ProgressStatus = "needs_review"
)

// ProgressNote records the outcome of one knowledge check on one topic.
type ProgressNote struct {
	Topic  string         `json:"topic"`
	Status ProgressStatus `json:"status"`
}

// StudentProfile is the durable per-student record. It is owned by the
// orchestration core: handlers only see snapshots and hand back deltas.
// Fields are append-only; nothing here ever shrinks.
type StudentProfile struct {
	Email                 string         `json:"email"`
	Goals                 []string       `json:"goals"`
	ProgressNotes         []ProgressNote `json:"progress_notes"`
	EmotionalStateHistory []string       `json:"emotional_state_history"`
	LastCheckInTime       time.Time      `json:"last_check_in_time"`
}

// ProfileDelta is what a handler is allowed to contribute to the profile.
// The orchestrator applies deltas atomically at the end of the turn, so a
// handler never holds a live reference into session state.
type ProfileDelta struct {
	EmotionalStates []string       `json:"emotional_states,omitempty"`
	ProgressNotes   []ProgressNote `json:"progress_notes,omitempty"`
	Goals           []string       `json:"goals,omitempty"`
	TouchCheckIn    bool           `json:"touch_check_in,omitempty"`
}

// Empty reports whether the delta carries no updates at all.
func (d ProfileDelta) Empty() bool {
	return len(d.EmotionalStates) == 0 && len(d.ProgressNotes) == 0 &&
		len(d.Goals) == 0 && !d.TouchCheckIn
}

// HandlerID names one specialist handler. The set is closed: routing
// decisions outside it are contract violations and trigger the fallback path.
type HandlerID string

const (
	HandlerUniversity     HandlerID = "university"
	HandlerTeacher        HandlerID = "teacher"
	HandlerMotivator      HandlerID = "motivator"
	HandlerAcademicCoach  HandlerID = "academic_coach"
	HandlerKnowledgeCheck HandlerID = "knowledge_check"
	HandlerClarify        HandlerID = "clarify"

	// HandlerEnd terminates the turn without dispatching a specialist.
	// It appears in routing history on escalation.
	HandlerEnd HandlerID = "END"
)

// DispatchableHandlers is the ordered set of handlers a routing decision may
// select. END is deliberately excluded: it is a terminal marker, not a target.
func DispatchableHandlers() []HandlerID {
	return []HandlerID{
		HandlerUniversity,
		HandlerTeacher,
		HandlerMotivator,
		HandlerAcademicCoach,
		HandlerKnowledgeCheck,
		HandlerClarify,
	}
}

// Dispatchable reports whether id belongs to the closed handler set.
func (h HandlerID) Dispatchable() bool {
	for _, known := range DispatchableHandlers() {
		if h == known {
			return true
		}
	}
	return false
}

// KnowledgeCheckPhase tracks the quiz sub-flow across turns.
type KnowledgeCheckPhase string

const (
	KCAsking         KnowledgeCheckPhase = "ASKING"
	KCAwaitingAnswer KnowledgeCheckPhase = "AWAITING_ANSWER"
	KCGraded         KnowledgeCheckPhase = "GRADED"
)

// KnowledgeCheckRecord archives one completed check.
type KnowledgeCheckRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Grade     string    `json:"grade"`
	Feedback  string    `json:"feedback"`
}

// KnowledgeCheckState is the live quiz instance for a session. GRADED is
// terminal for the instance; a new check starts over at ASKING.
type KnowledgeCheckState struct {
	Phase    KnowledgeCheckPhase    `json:"phase"`
	Topic    string                 `json:"topic"`
	Question string                 `json:"question"`
	Hint     string                 `json:"hint"`
	Answer   string                 `json:"answer"`
	Grade    string                 `json:"grade"`
	Feedback string                 `json:"feedback"`
	History  []KnowledgeCheckRecord `json:"history,omitempty"`
}

// SessionState is the single durable record for one conversation thread.
// It is read once at turn start and written once at turn end; per-thread
// serialization is the orchestrator's job, not the store's.
type SessionState struct {
	ThreadID        string               `json:"thread_id"`
	Profile         StudentProfile       `json:"student_profile"`
	Messages        []Turn               `json:"messages"`
	RoutingHistory  []HandlerID          `json:"routing_history"`
	CurrentDepth    int                  `json:"current_depth"`
	MaxRoutingDepth int                  `json:"max_routing_depth"`
	KnowledgeCheck  *KnowledgeCheckState `json:"knowledge_check,omitempty"`
}

// RoutingDecision is the ephemeral output of one router pass. It is never
// persisted beyond the turn; only its depth/history side effects are.
type RoutingDecision struct {
	// Handlers is the ordered set of specialists to dispatch. On escalation
	// it is empty and Response carries the fixed crisis reply.
	Handlers           []HandlerID          `json:"handlers"`
	Subqueries         map[HandlerID]string `json:"subqueries"`
	TaskDescription    string               `json:"task_description"`
	PrimaryIntent      string               `json:"primary_intent"`
	RequireAggregation bool                 `json:"require_aggregation"`
	Rationale          string               `json:"rationale"`
	Escalation         bool                 `json:"escalation"`
	Response           string               `json:"response,omitempty"`
}

// Primary returns the first selected handler, or END when the decision
// terminates the turn.
func (d RoutingDecision) Primary() HandlerID {
	if len(d.Handlers) == 0 {
		return HandlerEnd
	}
	return d.Handlers[0]
}

// Task returns the reformulated task for the given handler, falling back to
// the decision-wide task description.
func (d RoutingDecision) Task(id HandlerID) string {
	if t, ok := d.Subqueries[id]; ok && t != "" {
		return t
	}
	return d.TaskDescription
}
