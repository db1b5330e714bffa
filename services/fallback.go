package services

import (
	"fmt"
	"strings"

	"github.com/mocktalk/backend/models"
)

// Deterministic fallbacks for every GenerationProvider call site. These run
// whenever the provider is unavailable or returns malformed data, so the
// user-visible operation always succeeds with reduced quality. Degradation
// is logged by the callers, not reported in the response.

var fallbackQuestionTemplates = map[string][]string{
	models.CategoryTechnical: {
		"Describe your experience with the key technologies used in %[1]s roles.",
		"What technical challenges have you faced in %[1]s work, and how did you overcome them?",
		"Explain a technical project you're proud of in the %[1]s domain.",
		"How do you stay updated with the latest trends and technologies in %[1]s?",
	},
	models.CategoryBehavioral: {
		"Tell me about a time when you had to work under pressure. How did you handle it?",
		"Describe a situation where you disagreed with a colleague. How did you resolve it?",
		"Give an example of how you've demonstrated leadership in your role.",
		"Tell me about a time you failed. What did you learn from it?",
	},
	models.CategorySituational: {
		"If you joined our team as a %[1]s, what would be your priorities in the first 90 days?",
		"How would you handle a situation where you're given conflicting priorities?",
		"Imagine you're working on a critical %[1]s project with a tight deadline and discover a major issue. What do you do?",
		"How would you approach mentoring a junior team member?",
	},
	models.CategoryGeneral: {
		"Why are you interested in this %[1]s position?",
		"What are your career goals for the next 3-5 years?",
		"What motivates you in your work?",
		"What do you think are the most important skills for a %[2]s %[1]s?",
	},
}

var fallbackCompetencies = map[string][]string{
	models.CategoryTechnical:   {"Technical Expertise", "Problem Solving", "Innovation"},
	models.CategoryBehavioral:  {"Teamwork", "Communication", "Adaptability", "Leadership"},
	models.CategorySituational: {"Decision Making", "Strategic Thinking", "Conflict Resolution"},
	models.CategoryGeneral:     {"Self-Awareness", "Career Vision", "Motivation"},
}

var fallbackCategoryOrder = []string{
	models.CategoryTechnical,
	models.CategoryBehavioral,
	models.CategorySituational,
	models.CategoryGeneral,
}

// fallbackQuestions produces exactly count template questions, cycling
// through categories. Fully deterministic for a given input.
func fallbackQuestions(jobTitle, seniority string, count int) []QuestionDraft {
	drafts := make([]QuestionDraft, 0, count)
	for i := 0; i < count; i++ {
		category := fallbackCategoryOrder[i%len(fallbackCategoryOrder)]
		templates := fallbackQuestionTemplates[category]
		competencies := fallbackCompetencies[category]
		drafts = append(drafts, QuestionDraft{
			Idx:        i + 1,
			Category:   category,
			Competency: competencies[i%len(competencies)],
			Text:       fmt.Sprintf(templates[(i/len(fallbackCategoryOrder))%len(templates)], jobTitle, seniority),
		})
	}
	return drafts
}

// fallbackEvaluation scores an answer from its length and its keyword overlap
// with the question text. All five fields are always populated.
func fallbackEvaluation(question *models.Question, answerText string) *Evaluation {
	words := strings.Fields(answerText)
	wordCount := len(words)

	var base int
	switch {
	case wordCount < 5 || len(strings.TrimSpace(answerText)) < 20:
		base = 18
	case wordCount < 15:
		base = 35
	case wordCount < 30:
		base = 52
	default:
		base = 65
	}

	overlap := keywordOverlap(question.Text, answerText)
	relevance := clampScore(base + overlap*2)
	clarity := clampScore(base)
	structure := clampScore(base - 3)
	impact := clampScore(base - 5 + overlap)
	overall := (relevance + clarity + structure + impact) / 4

	return &Evaluation{
		Relevance:  relevance,
		Clarity:    clarity,
		Structure:  structure,
		Impact:     impact,
		Overall:    overall,
		CoachNotes: fallbackCoachNotes(question.Category, overall),
	}
}

// keywordOverlap counts distinct question words (longer than 3 runes) that
// reappear in the answer, capped so overlap can nudge but not dominate.
func keywordOverlap(questionText, answerText string) int {
	answerWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(answerText)) {
		answerWords[strings.Trim(w, ".,!?;:")] = true
	}
	overlap := 0
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(questionText)) {
		w = strings.Trim(w, ".,!?;:")
		if len(w) <= 3 || seen[w] {
			continue
		}
		seen[w] = true
		if answerWords[w] {
			overlap++
		}
	}
	if overlap > 8 {
		overlap = 8
	}
	return overlap
}

func fallbackCoachNotes(category string, overall int) string {
	switch {
	case overall < 30:
		return "Your answer needs significant improvement. It appears too brief or lacks substance. " +
			"Provide more detailed responses with specific examples and explanations, aiming for at least 50-100 words."
	case overall < 50:
		return "Your answer is too short and needs more development. Elaborate with specific examples, " +
			"use the STAR method (Situation, Task, Action, Result) for behavioral questions, and aim for 100-200 words."
	case overall < 70:
		return "Good start, but your answer could be stronger. Add more specific examples, quantifiable results, " +
			"and connect your experience more directly to the question."
	}
	switch category {
	case models.CategoryTechnical:
		return "Your technical explanation shows good understanding. Consider adding more specific examples or metrics."
	case models.CategoryBehavioral:
		return "Good example. Using the STAR method more explicitly could make it even stronger."
	case models.CategorySituational:
		return "Thoughtful approach. Consider discussing how you'd prioritize competing demands."
	default:
		return "Good reflection. Connect your goals more explicitly to the role and the question asked."
	}
}

// fallbackAnswerReport derives a report from dimension-score averages:
// a dimension averaging >= 75 lands in strengths, < 60 in weaknesses.
func fallbackAnswerReport(rc *AnswerReportContext) *ReportDraft {
	n := len(rc.Answers)
	if n == 0 {
		return &ReportDraft{
			Strengths:      []string{"You showed up and engaged with the interview"},
			Weaknesses:     []string{"No answers were recorded for this session"},
			ActionPlan:     []string{"Restart the interview and answer each question"},
			SuggestedRoles: []string{fmt.Sprintf("%s %s", titleCase(rc.Seniority), rc.JobTitle)},
		}
	}

	var relevance, clarity, structure, impact, overall int
	for _, a := range rc.Answers {
		relevance += a.ScoreRelevance
		clarity += a.ScoreClarity
		structure += a.ScoreStructure
		impact += a.ScoreImpact
		overall += a.ScoreOverall
	}
	relevance /= n
	clarity /= n
	structure /= n
	impact /= n
	overall = roundDiv(overall, n)

	dims := []struct {
		name     string
		avg      int
		strength string
		weakness string
	}{
		{"relevance", relevance,
			"Strong relevance - you consistently provided on-topic, applicable answers",
			"Answer relevance - try to stay more focused on what the question is asking"},
		{"clarity", clarity,
			"Excellent communication - your answers were clear and easy to follow",
			"Communication clarity - work on expressing your thoughts more concisely"},
		{"structure", structure,
			"Well-structured responses - you organized your thoughts logically",
			"Response structure - consider using frameworks like STAR to organize answers"},
		{"impact", impact,
			"Impactful examples - you demonstrated meaningful results and outcomes",
			"Demonstrating impact - include more specific metrics and measurable outcomes"},
	}

	var strengths, weaknesses []string
	for _, d := range dims {
		if d.avg >= 75 {
			strengths = append(strengths, d.strength)
		}
		if d.avg < 60 {
			weaknesses = append(weaknesses, d.weakness)
		}
	}
	if len(strengths) == 0 {
		strengths = append(strengths, "You provided thoughtful answers to challenging questions")
	}
	if len(weaknesses) == 0 {
		weaknesses = append(weaknesses, "Minor: could provide even more specific examples in some answers")
	}

	return &ReportDraft{
		OverallScore:   &overall,
		Strengths:      strengths,
		Weaknesses:     weaknesses,
		ActionPlan:     fallbackActionPlan(rc.JobTitle, overall),
		SuggestedRoles: fallbackSuggestedRoles(rc.JobTitle, rc.Seniority, overall),
	}
}

// fallbackTranscriptReport covers voice sessions when the provider is down.
// The partial-data policy still holds: zero candidate turns means a nil
// score, and an incomplete session names the incompleteness.
func fallbackTranscriptReport(rc *TranscriptReportContext) *ReportDraft {
	candidateTurns := 0
	candidateWords := 0
	for _, turn := range rc.Turns {
		if turn.Speaker == models.SpeakerCandidate {
			candidateTurns++
			candidateWords += len(strings.Fields(turn.Text))
		}
	}

	if candidateTurns == 0 {
		return &ReportDraft{
			OverallScore: nil,
			Strengths:    []string{},
			Weaknesses:   []string{"The interview ended before any answers were given"},
			ActionPlan: []string{
				"Restart the voice interview and respond to the interviewer's questions",
				"Complete full interview sessions to build stamina and consistency",
			},
			SuggestedRoles: []string{},
		}
	}

	avgWords := candidateWords / candidateTurns
	score := clampScore(40 + avgWords)
	if score > 80 {
		score = 80
	}

	strengths := []string{
		"Engaged in natural conversation with the interviewer",
		fmt.Sprintf("Responded to %d question(s) during the session", rc.QuestionsAsked),
	}
	weaknesses := []string{}
	actionPlan := []string{
		"Practice speaking clearly and confidently",
		fmt.Sprintf("Continue preparing for %s interviews", rc.JobTitle),
	}
	if rc.QuestionsAsked < rc.QuestionsTotal {
		weaknesses = append(weaknesses,
			fmt.Sprintf("Interview ended early: only %d of %d planned questions were covered", rc.QuestionsAsked, rc.QuestionsTotal))
		actionPlan = append(actionPlan, "Complete full interview sessions to build stamina and consistency")
	}
	if len(weaknesses) == 0 {
		weaknesses = append(weaknesses, "Detailed per-answer feedback requires the evaluation service")
	}

	return &ReportDraft{
		OverallScore:   &score,
		Strengths:      strengths,
		Weaknesses:     weaknesses,
		ActionPlan:     actionPlan,
		SuggestedRoles: fallbackSuggestedRoles(rc.JobTitle, rc.Seniority, score),
	}
}

func fallbackActionPlan(jobTitle string, overall int) []string {
	switch {
	case overall < 70:
		return []string{
			"Practice the STAR method (Situation, Task, Action, Result) for behavioral questions",
			fmt.Sprintf("Research common %s interview questions and prepare answers", jobTitle),
			"Conduct 2-3 more mock interviews to build confidence",
		}
	case overall < 80:
		return []string{
			fmt.Sprintf("Deepen your technical knowledge in key %s areas", jobTitle),
			"Prepare more quantifiable examples of your achievements",
			"Practice articulating complex ideas more concisely",
		}
	default:
		return []string{
			"You're interview-ready! Focus on researching specific companies",
			"Prepare thoughtful questions to ask interviewers",
			"Continue practicing to maintain your strong performance",
		}
	}
}

func fallbackSuggestedRoles(jobTitle, seniority string, overall int) []string {
	title := titleCase(seniority)
	switch {
	case overall >= 80:
		roles := []string{fmt.Sprintf("%s %s", title, jobTitle)}
		if seniority != models.SenioritySenior {
			roles = append(roles, fmt.Sprintf("Senior %s", jobTitle))
		}
		return roles
	case overall >= 70:
		return []string{
			fmt.Sprintf("%s %s", title, jobTitle),
			fmt.Sprintf("%s - smaller companies or startups", jobTitle),
		}
	default:
		roles := []string{}
		if seniority != models.SeniorityJunior {
			roles = append(roles, fmt.Sprintf("Junior %s", jobTitle))
		}
		return append(roles, fmt.Sprintf("Entry-level %s", jobTitle))
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// roundDiv divides with round-to-nearest instead of truncation.
func roundDiv(sum, n int) int {
	return (sum + n/2) / n
}
