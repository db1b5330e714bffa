package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mocktalk/backend/models"
)

// ReportSynthesizer turns either a completed answer set or a raw transcript
// into a final report. A report is always producible: provider failures
// degrade to the deterministic fallback content, and partial voice sessions
// yield explicitly partial reports.
type ReportSynthesizer struct {
	provider GenerationProvider
}

func NewReportSynthesizer(provider GenerationProvider) *ReportSynthesizer {
	return &ReportSynthesizer{provider: provider}
}

// FromAnswers synthesizes the report for a turn-based session. The caller
// guarantees every question is answered, so completion is always full. The
// overall score is the arithmetic mean of the answers' overall scores,
// rounded to nearest; the provider contributes narrative content only.
func (s *ReportSynthesizer) FromAnswers(ctx context.Context, session *models.Session, questions []models.Question, answers []models.Answer) *models.Report {
	rc := &AnswerReportContext{
		JobTitle:  session.JobTitle,
		Seniority: session.Seniority,
		Questions: questions,
		Answers:   answers,
	}

	var draft *ReportDraft
	if s.provider != nil {
		d, err := s.provider.SynthesizeFromAnswers(ctx, rc)
		if err != nil {
			slog.Warn("Report synthesis degraded to fallback", "error", err, "session_id", session.ID, "fallback", true)
		} else {
			draft = d
		}
	}
	if draft == nil {
		draft = fallbackAnswerReport(rc)
	}

	var mean int
	if len(answers) > 0 {
		sum := 0
		for _, a := range answers {
			sum += a.ScoreOverall
		}
		mean = roundDiv(sum, len(answers))
	}

	return &models.Report{
		OverallScore:    &mean,
		Strengths:       nonNil(draft.Strengths),
		Weaknesses:      nonNil(draft.Weaknesses),
		ActionPlan:      nonNil(draft.ActionPlan),
		SuggestedRoles:  nonNil(draft.SuggestedRoles),
		Completion:      models.CompletionFull,
		CompletionRatio: 1.0,
		QuestionsAsked:  len(questions),
		QuestionsTotal:  len(questions),
	}
}

// FromTranscript synthesizes the report for a voice session at any completion
// level. A transcript with zero candidate turns yields a nil overall score
// and a 0% partial report rather than a fabricated number, and any partial
// session carries at least one incompleteness item.
func (s *ReportSynthesizer) FromTranscript(ctx context.Context, session *models.Session, turns []models.TranscriptTurn, questionsAsked, questionsTotal int) *models.Report {
	rc := &TranscriptReportContext{
		JobTitle:       session.JobTitle,
		Seniority:      session.Seniority,
		Turns:          turns,
		QuestionsAsked: questionsAsked,
		QuestionsTotal: questionsTotal,
	}

	candidateTurns := 0
	for _, turn := range turns {
		if turn.Speaker == models.SpeakerCandidate {
			candidateTurns++
		}
	}

	var draft *ReportDraft
	if candidateTurns > 0 && s.provider != nil {
		d, err := s.provider.SynthesizeFromTranscript(ctx, rc)
		if err != nil {
			slog.Warn("Report synthesis degraded to fallback", "error", err, "session_id", session.ID, "fallback", true)
		} else {
			draft = d
		}
	}
	if draft == nil {
		draft = fallbackTranscriptReport(rc)
	}

	completion := models.CompletionFull
	ratio := 1.0
	if questionsTotal > 0 && questionsAsked < questionsTotal {
		completion = models.CompletionPartial
		ratio = float64(questionsAsked) / float64(questionsTotal)
	}

	report := &models.Report{
		OverallScore:    draft.OverallScore,
		Strengths:       nonNil(draft.Strengths),
		Weaknesses:      nonNil(draft.Weaknesses),
		ActionPlan:      nonNil(draft.ActionPlan),
		SuggestedRoles:  nonNil(draft.SuggestedRoles),
		Completion:      completion,
		CompletionRatio: ratio,
		QuestionsAsked:  questionsAsked,
		QuestionsTotal:  questionsTotal,
	}

	if candidateTurns == 0 {
		// No scorable data at all: never fabricate a score.
		report.OverallScore = nil
		report.Completion = models.CompletionPartial
		report.CompletionRatio = 0
	}

	if report.Completion == models.CompletionPartial && !mentionsIncompleteness(report) {
		report.ActionPlan = append(report.ActionPlan,
			fmt.Sprintf("Complete a full session: only %d of %d planned questions were covered", questionsAsked, questionsTotal))
	}

	return report
}

// mentionsIncompleteness checks the provider honoured the partial-report
// contract; the synthesizer backstops it when not.
func mentionsIncompleteness(r *models.Report) bool {
	for _, items := range [][]string{r.Weaknesses, r.ActionPlan} {
		for _, item := range items {
			if containsAny(item, "incomplete", "early", "cut short", "full session", "full interview", "ended before") {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
