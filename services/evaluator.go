package services

import (
	"context"
	"log/slog"

	"github.com/mocktalk/backend/models"
)

// AnswerEvaluator scores one submitted answer against its question. It never
// fails outright: a provider outage or malformed response degrades to the
// deterministic heuristic, and every score is clamped to [0,100] regardless
// of what the provider returned.
type AnswerEvaluator struct {
	provider GenerationProvider
}

func NewAnswerEvaluator(provider GenerationProvider) *AnswerEvaluator {
	return &AnswerEvaluator{provider: provider}
}

func (e *AnswerEvaluator) Evaluate(ctx context.Context, question *models.Question, answerText, jobTitle, seniority string) *Evaluation {
	var ev *Evaluation
	if e.provider != nil {
		result, err := e.provider.EvaluateAnswer(ctx, question, answerText, jobTitle, seniority)
		if err != nil {
			slog.Warn("Answer evaluation degraded to heuristic", "error", err, "question_id", question.ID, "fallback", true)
		} else {
			ev = result
		}
	}
	if ev == nil {
		ev = fallbackEvaluation(question, answerText)
	}

	ev.Relevance = clampScore(ev.Relevance)
	ev.Clarity = clampScore(ev.Clarity)
	ev.Structure = clampScore(ev.Structure)
	ev.Impact = clampScore(ev.Impact)
	ev.Overall = clampScore(ev.Overall)
	return ev
}
