package models

import "time"

// Answer is a candidate's response to exactly one question, with the
// evaluator's dimension scores. The unique index on QuestionID enforces the
// one-answer-per-question rule at the storage layer too.
type Answer struct {
	ID         string `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  string `gorm:"type:uuid;not null;index" json:"session_id"`
	QuestionID string `gorm:"type:uuid;not null;uniqueIndex" json:"question_id"`

	Text string `gorm:"type:text;not null" json:"text"`

	// Dimension scores, integers in [0,100]
	ScoreRelevance int `gorm:"not null" json:"score_relevance"`
	ScoreClarity   int `gorm:"not null" json:"score_clarity"`
	ScoreStructure int `gorm:"not null" json:"score_structure"`
	ScoreImpact    int `gorm:"not null" json:"score_impact"`
	ScoreOverall   int `gorm:"not null" json:"score_overall"`

	CoachNotes string `gorm:"type:text" json:"coach_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
