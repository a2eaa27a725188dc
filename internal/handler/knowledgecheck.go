package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ciro-tutor/internal/llm"
	"ciro-tutor/internal/model"

	"go.uber.org/zap"
)

const kcAskSystemPrompt = `You are the Knowledge Check specialist of CIRO, an AI academic support
assistant. Generate one open-ended question that tests the student's understanding of the given
topic, plus a short hint they can use if stuck. The question should require explanation, not a
one-word answer. Match the difficulty to the student's progress notes.`

const kcGradeSystemPrompt = `You are the Knowledge Check specialist of CIRO, an AI academic support
assistant. Grade the student's answer to the question on a letter scale from A down to C-
(A, A-, B+, B, B-, C+, C, C-). C- is the floor; never grade below it. Give brief, encouraging
feedback: what was right, what was missing, and one pointer for review. Grade the content, not
the writing style.`

// passingGrades map to "understood"; everything else is "needs_review".
var passingGrades = map[string]bool{
	"A": true, "A-": true, "B+": true, "B": true, "B-": true,
}

// KnowledgeCheck runs the two-turn quiz flow. The phase machine lives in the
// session's KnowledgeCheckState: a request with no open check (or a GRADED
// one) starts a fresh instance at ASKING; a request against AWAITING_ANSWER
// grades the student's message and closes the instance.
type KnowledgeCheck struct {
	client llm.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewKnowledgeCheck(client llm.Client, logger *zap.Logger, now func() time.Time) *KnowledgeCheck {
	if now == nil {
		now = time.Now
	}
	return &KnowledgeCheck{client: client, logger: logger, now: now}
}

func (h *KnowledgeCheck) ID() model.HandlerID { return model.HandlerKnowledgeCheck }

func (h *KnowledgeCheck) Respond(ctx context.Context, req Request) (Response, error) {
	kc := req.KnowledgeCheck
	if kc != nil && kc.Phase == model.KCAwaitingAnswer {
		return h.grade(ctx, req, kc)
	}
	return h.ask(ctx, req, kc)
}

type kcQuestionOutput struct {
	Topic    string `json:"topic"`
	Question string `json:"question"`
	Hint     string `json:"hint"`
}

// ask opens a new check instance. Any prior instance's history carries over;
// its other fields are reset.
func (h *KnowledgeCheck) ask(ctx context.Context, req Request, prev *model.KnowledgeCheckState) (Response, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Student profile\n\n%s\n", formatProfile(req.Profile))
	fmt.Fprintf(&sb, "## Recent conversation\n\n%s\n\n", formatHistory(req.History, 6))
	fmt.Fprintf(&sb, "## Task\n\n%s\n", req.Task)
	sb.WriteString("\nName the topic being checked, then produce the question and hint.")

	raw, err := h.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: kcAskSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, kcQuestionSchema())
	if err != nil {
		return Response{}, fmt.Errorf("knowledge check question: %w", err)
	}

	var out kcQuestionOutput
	if err := llm.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("knowledge check question output: %w", err)
	}

	state := &model.KnowledgeCheckState{
		Phase:    model.KCAwaitingAnswer,
		Topic:    strings.TrimSpace(out.Topic),
		Question: strings.TrimSpace(out.Question),
		Hint:     strings.TrimSpace(out.Hint),
	}
	if prev != nil {
		state.History = prev.History
	}

	text := fmt.Sprintf("Let's check your understanding of %s.\n\n%s\n\nHint: %s",
		state.Topic, state.Question, state.Hint)
	return Response{Text: text, KnowledgeCheck: state}, nil
}

type kcGradeOutput struct {
	Grade    string `json:"grade"`
	Feedback string `json:"feedback"`
}

// grade closes the open instance: the student's raw message is the answer.
// Exactly one progress note is emitted per graded check.
func (h *KnowledgeCheck) grade(ctx context.Context, req Request, kc *model.KnowledgeCheckState) (Response, error) {
	prompt := fmt.Sprintf("## Topic\n\n%s\n\n## Question\n\n%s\n\n## Student's answer\n\n%s\n",
		kc.Topic, kc.Question, req.UserText)

	raw, err := h.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: kcGradeSystemPrompt},
		{Role: "user", Content: prompt},
	}, kcGradeSchema())
	if err != nil {
		return Response{}, fmt.Errorf("knowledge check grade: %w", err)
	}

	var out kcGradeOutput
	if err := llm.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("knowledge check grade output: %w", err)
	}

	grade := normalizeGrade(out.Grade)
	status := model.ProgressNeedsReview
	if passingGrades[grade] {
		status = model.ProgressUnderstood
	}

	graded := &model.KnowledgeCheckState{
		Phase:    model.KCGraded,
		Topic:    kc.Topic,
		Question: kc.Question,
		Hint:     kc.Hint,
		Answer:   req.UserText,
		Grade:    grade,
		Feedback: strings.TrimSpace(out.Feedback),
		History: append(kc.History, model.KnowledgeCheckRecord{
			Timestamp: h.now(),
			Topic:     kc.Topic,
			Question:  kc.Question,
			Answer:    req.UserText,
			Grade:     grade,
			Feedback:  strings.TrimSpace(out.Feedback),
		}),
	}

	h.logger.Info("knowledge check graded",
		zap.String("thread_id", req.ThreadID),
		zap.String("topic", kc.Topic),
		zap.String("grade", grade))

	text := fmt.Sprintf("Grade: %s\n\n%s", grade, graded.Feedback)
	return Response{
		Text:           text,
		KnowledgeCheck: graded,
		Delta: model.ProfileDelta{
			ProgressNotes: []model.ProgressNote{{Topic: kc.Topic, Status: status}},
		},
	}, nil
}

// normalizeGrade clamps a model-produced grade onto the A..C- scale.
// Anything unrecognized or below the floor becomes C-.
func normalizeGrade(raw string) string {
	grade := strings.ToUpper(strings.TrimSpace(raw))
	valid := map[string]bool{
		"A": true, "A-": true, "B+": true, "B": true, "B-": true,
		"C+": true, "C": true, "C-": true,
	}
	if valid[grade] {
		return grade
	}
	return "C-"
}

func kcQuestionSchema() *llm.JSONSchema {
	return &llm.JSONSchema{
		Name: "knowledge_check_question",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "Short name of the topic being checked.",
				},
				"question": map[string]any{
					"type":        "string",
					"description": "One open-ended question testing understanding.",
				},
				"hint": map[string]any{
					"type":        "string",
					"description": "A short hint the student can use if stuck.",
				},
			},
			"required":             []string{"topic", "question", "hint"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

func kcGradeSchema() *llm.JSONSchema {
	return &llm.JSONSchema{
		Name: "knowledge_check_grade",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"grade": map[string]any{
					"type": "string",
					"enum": []string{"A", "A-", "B+", "B", "B-", "C+", "C", "C-"},
				},
				"feedback": map[string]any{
					"type":        "string",
					"description": "Brief, encouraging feedback on the answer.",
				},
			},
			"required":             []string{"grade", "feedback"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}
