package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mocktalk/backend/apperrors"
	"github.com/mocktalk/backend/models"

	"google.golang.org/genai"
)

const (
	ModelName              = "gemini-2.5-flash"
	defaultProviderTimeout = 5 * time.Second
)

// GeminiProvider implements GenerationProvider on the Gemini API. Every call
// is bounded by a timeout and retried with exponential backoff inside that
// bound; on exhaustion the caller's fallback takes over.
type GeminiProvider struct {
	genaiClient *genai.Client
	timeout     time.Duration
}

func NewGeminiProvider(apiKey string, timeout time.Duration) *GeminiProvider {
	genaiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		slog.Error("Failed to create genai client", "error", err)
		return nil
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &GeminiProvider{genaiClient: genaiClient, timeout: timeout}
}

func (g *GeminiProvider) GenerateQuestions(ctx context.Context, jobTitle, seniority, language string, count int) ([]QuestionDraft, error) {
	prompt := fmt.Sprintf(`You are an expert technical interviewer. Generate %d interview questions for a %s %s position.

Requirements:
- Mix question types: technical, behavioral, situational, and general
- Each question should test a specific competency
- Questions should be appropriate for %s level
- Language: %s

Return a JSON array with this exact structure:
[
  {
    "idx": 1,
    "type": "technical",
    "competency": "Problem Solving",
    "question_text": "Your question here..."
  }
]

Types must be one of: technical, behavioral, situational, general.
Generate exactly %d questions now.`, count, seniority, jobTitle, seniority, language, count)

	raw, err := g.generateJSON(ctx, prompt, "You are an expert interview coach. Always respond with valid JSON.")
	if err != nil {
		return nil, err
	}

	var drafts []QuestionDraft
	if err := json.Unmarshal([]byte(raw), &drafts); err != nil {
		slog.Warn("Failed to parse question generation response", "error", err)
		return nil, apperrors.ProviderUnavailable(err)
	}
	if err := validateQuestionDrafts(drafts, count); err != nil {
		slog.Warn("Question generation response failed validation", "count", len(drafts), "requested", count)
		return nil, err
	}
	return drafts, nil
}

func (g *GeminiProvider) EvaluateAnswer(ctx context.Context, question *models.Question, answerText, jobTitle, seniority string) (*Evaluation, error) {
	prompt := fmt.Sprintf(`You are an expert interview coach evaluating a candidate's answer.

Job: %s %s
Question Type: %s
Question: %s

Candidate's Answer:
%s

Evaluate this answer and provide scores (0-100) for:
1. Relevance - Is the answer on-topic and addresses the question?
2. Clarity - Is the answer clear, well-articulated, and easy to understand?
3. Structure - Is the answer well-organized with logical flow?
4. Impact - Does it show results, specific examples, or measurable outcomes?

Also provide constructive coaching notes (2-3 sentences) on how to improve.

Return a JSON object with this exact structure:
{
  "relevance": 90,
  "clarity": 85,
  "structure": 80,
  "impact": 85,
  "overall": 85,
  "coach_notes": "Your constructive feedback here..."
}`, seniority, jobTitle, question.Category, question.Text, answerText)

	raw, err := g.generateJSON(ctx, prompt, "You are an expert interview coach. Always respond with valid JSON. Be fair but constructive in your evaluation.")
	if err != nil {
		return nil, err
	}

	var ev Evaluation
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		slog.Warn("Failed to parse evaluation response", "error", err, "question_id", question.ID)
		return nil, apperrors.ProviderUnavailable(err)
	}
	if err := validateEvaluation(&ev); err != nil {
		slog.Warn("Evaluation response failed validation", "question_id", question.ID)
		return nil, err
	}
	return &ev, nil
}

func (g *GeminiProvider) SynthesizeFromAnswers(ctx context.Context, rc *AnswerReportContext) (*ReportDraft, error) {
	var qa strings.Builder
	answersByQuestion := make(map[string]*models.Answer, len(rc.Answers))
	for i := range rc.Answers {
		answersByQuestion[rc.Answers[i].QuestionID] = &rc.Answers[i]
	}
	for _, q := range rc.Questions {
		a := answersByQuestion[q.ID]
		if a == nil {
			continue
		}
		fmt.Fprintf(&qa, "Q%d (%s): %s\n", q.Idx, q.Category, q.Text)
		fmt.Fprintf(&qa, "Score: %d/100\n", a.ScoreOverall)
		fmt.Fprintf(&qa, "Answer excerpt: %s\n\n", excerpt(a.Text, 200))
	}

	prompt := fmt.Sprintf(`You are an expert career coach reviewing a mock interview.

Job: %s %s

Interview Performance:
%s

Based on this interview performance, provide a comprehensive analysis with:

1. STRENGTHS (2-4 items): Specific things the candidate did well
2. WEAKNESSES (2-4 items): Areas that need improvement
3. ACTION PLAN (3-5 items): Concrete, actionable steps to improve
4. SUGGESTED ROLES (2-4 items): Job titles/levels that match their performance

Return a JSON object with this exact structure:
{
  "overall_score": 78,
  "strengths": ["strength 1", "strength 2"],
  "weaknesses": ["weakness 1", "weakness 2"],
  "action_plan": ["action 1", "action 2"],
  "suggested_roles": ["role 1", "role 2"]
}

Be specific, constructive, and encouraging.`, rc.Seniority, rc.JobTitle, qa.String())

	return g.synthesize(ctx, prompt)
}

func (g *GeminiProvider) SynthesizeFromTranscript(ctx context.Context, rc *TranscriptReportContext) (*ReportDraft, error) {
	var conversation strings.Builder
	for _, turn := range rc.Turns {
		fmt.Fprintf(&conversation, "%s: %s\n", turn.Speaker, turn.Text)
	}

	completionNote := "INTERVIEW FULLY COMPLETED"
	if rc.QuestionsAsked < rc.QuestionsTotal {
		completionNote = "INTERVIEW PARTIALLY COMPLETED - candidate left early. Scale your confidence and score down accordingly, and include at least one weakness or action item about completing full sessions."
	}

	prompt := fmt.Sprintf(`You are an expert career coach reviewing a voice mock interview.

Job: %s %s
Questions Asked: %d/%d
%s

Full Interview Conversation:
%s

Based on this conversation, provide a comprehensive analysis with an overall
score (0-100), strengths (2-4), weaknesses (2-4), an action plan (3-5 items)
and suggested roles (2-4).

Return a JSON object with this exact structure:
{
  "overall_score": 78,
  "strengths": ["strength 1", "strength 2"],
  "weaknesses": ["weakness 1", "weakness 2"],
  "action_plan": ["action 1", "action 2"],
  "suggested_roles": ["role 1", "role 2"]
}

Be specific, constructive, and encouraging. If the interview was incomplete,
be honest but supportive about the need to complete full sessions.`,
		rc.Seniority, rc.JobTitle, rc.QuestionsAsked, rc.QuestionsTotal, completionNote, conversation.String())

	return g.synthesize(ctx, prompt)
}

func (g *GeminiProvider) synthesize(ctx context.Context, prompt string) (*ReportDraft, error) {
	raw, err := g.generateJSON(ctx, prompt, "You are an expert career coach. Always respond with valid JSON. Be honest but supportive.")
	if err != nil {
		return nil, err
	}

	var draft ReportDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		slog.Warn("Failed to parse report synthesis response", "error", err)
		return nil, apperrors.ProviderUnavailable(err)
	}
	if err := validateReportDraft(&draft); err != nil {
		slog.Warn("Report synthesis response failed validation")
		return nil, err
	}
	return &draft, nil
}

// generateJSON performs one bounded, retried content generation call and
// strips markdown fences some models wrap JSON in.
func (g *GeminiProvider) generateJSON(ctx context.Context, prompt, systemInstruction string) (string, error) {
	if g == nil || g.genaiClient == nil {
		return "", apperrors.ProviderUnavailable(fmt.Errorf("genai client not initialized"))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}

	var text string
	operation := func() error {
		result, err := g.genaiClient.Models.GenerateContent(ctx, ModelName, genai.Text(prompt), config)
		if err != nil {
			return err
		}
		text = result.Text()
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		slog.Warn("Gemini call failed after retries", "error", err)
		return "", apperrors.ProviderUnavailable(err)
	}

	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text), nil
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
