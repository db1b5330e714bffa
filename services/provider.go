package services

import (
	"context"
	"strings"

	"github.com/mocktalk/backend/apperrors"
	"github.com/mocktalk/backend/models"
)

// QuestionDraft is one generated question before it becomes a persisted
// models.Question.
type QuestionDraft struct {
	Idx        int    `json:"idx"`
	Category   string `json:"type"`
	Competency string `json:"competency"`
	Text       string `json:"question_text"`
}

// Evaluation is the provider's judgment of one answer. All scores are
// integers in [0,100] after validation and clamping.
type Evaluation struct {
	Relevance  int    `json:"relevance"`
	Clarity    int    `json:"clarity"`
	Structure  int    `json:"structure"`
	Impact     int    `json:"impact"`
	Overall    int    `json:"overall"`
	CoachNotes string `json:"coach_notes"`
}

// ReportDraft is the provider's report content before the synthesizer stamps
// completion metadata onto it.
type ReportDraft struct {
	OverallScore   *int     `json:"overall_score"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	ActionPlan     []string `json:"action_plan"`
	SuggestedRoles []string `json:"suggested_roles"`
}

// AnswerReportContext carries a completed turn-based session to the provider.
type AnswerReportContext struct {
	JobTitle  string
	Seniority string
	Questions []models.Question
	Answers   []models.Answer
}

// TranscriptReportContext carries a voice-mode transcript to the provider.
// QuestionsAsked may be lower than QuestionsTotal; the provider is expected
// to scale confidence down accordingly.
type TranscriptReportContext struct {
	JobTitle       string
	Seniority      string
	Turns          []models.TranscriptTurn
	QuestionsAsked int
	QuestionsTotal int
}

// GenerationProvider is the boundary to the LLM collaborator. Every method
// may fail with a provider-unavailable error; every caller has a
// deterministic fallback, so that error never reaches an end caller.
type GenerationProvider interface {
	GenerateQuestions(ctx context.Context, jobTitle, seniority, language string, count int) ([]QuestionDraft, error)
	EvaluateAnswer(ctx context.Context, question *models.Question, answerText, jobTitle, seniority string) (*Evaluation, error)
	SynthesizeFromAnswers(ctx context.Context, rc *AnswerReportContext) (*ReportDraft, error)
	SynthesizeFromTranscript(ctx context.Context, rc *TranscriptReportContext) (*ReportDraft, error)
}

// validateQuestionDrafts enforces the contract: exactly count items, known
// categories, non-empty text. Idx is normalized to the 1-based position so a
// provider that miscounts indices cannot break contiguity.
func validateQuestionDrafts(drafts []QuestionDraft, count int) error {
	if len(drafts) != count {
		return apperrors.ProviderUnavailable(nil)
	}
	for i := range drafts {
		if !models.ValidCategory(drafts[i].Category) {
			return apperrors.ProviderUnavailable(nil)
		}
		if strings.TrimSpace(drafts[i].Text) == "" {
			return apperrors.ProviderUnavailable(nil)
		}
		drafts[i].Idx = i + 1
	}
	return nil
}

// validateEvaluation treats any out-of-range dimension as a malformed
// provider response. Overall is not checked here: the evaluator clamps it.
func validateEvaluation(ev *Evaluation) error {
	for _, s := range []int{ev.Relevance, ev.Clarity, ev.Structure, ev.Impact} {
		if s < 0 || s > 100 {
			return apperrors.ProviderUnavailable(nil)
		}
	}
	return nil
}

// validateReportDraft requires the list fields the report contract promises.
func validateReportDraft(rd *ReportDraft) error {
	if rd == nil {
		return apperrors.ProviderUnavailable(nil)
	}
	if len(rd.Strengths) == 0 && len(rd.Weaknesses) == 0 && len(rd.ActionPlan) == 0 {
		return apperrors.ProviderUnavailable(nil)
	}
	if rd.OverallScore != nil && (*rd.OverallScore < 0 || *rd.OverallScore > 100) {
		return apperrors.ProviderUnavailable(nil)
	}
	return nil
}
