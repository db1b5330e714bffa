package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Session modes. The mode is fixed at creation and decides which payload the
// session carries: discrete answers (text) or a transcript (voice).
const (
	ModeText  = "text"
	ModeVoice = "voice"
)

// Session statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Seniority tiers.
const (
	SeniorityJunior = "junior"
	SeniorityMid    = "mid"
	SenioritySenior = "senior"
)

// SupportedLanguages are the language tags sessions may be created with.
var SupportedLanguages = map[string]bool{
	"en": true,
	"ar": true,
	"fr": true,
	"es": true,
}

func ValidSeniority(s string) bool {
	return s == SeniorityJunior || s == SeniorityMid || s == SenioritySenior
}

// Session represents one interview attempt, from creation to report.
type Session struct {
	ID       string `gorm:"type:uuid;primaryKey" json:"id"`
	CallerID string `gorm:"size:255;index" json:"caller_id,omitempty"` // audit identity, empty for anonymous

	// Configuration, immutable after creation
	JobTitle      string `gorm:"size:255;not null" json:"job_title"`
	Seniority     string `gorm:"size:20;not null;check:seniority IN ('junior', 'mid', 'senior')" json:"seniority"`
	Language      string `gorm:"size:10;not null;default:'en'" json:"language"`
	Mode          string `gorm:"size:10;not null;check:mode IN ('text', 'voice')" json:"mode"`
	QuestionCount int    `gorm:"not null" json:"question_count"`

	Status string `gorm:"size:20;not null;default:'active';check:status IN ('active', 'completed', 'abandoned')" json:"status"`

	// Voice mode: interviewer question turns counted against QuestionCount
	QuestionsAsked int `gorm:"not null;default:0" json:"questions_asked"`

	// Results, written once at completion
	OverallScore *int           `json:"overall_score,omitempty"`
	ReportJSON   datatypes.JSON `json:"report,omitempty"`

	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Questions []Question       `gorm:"foreignKey:SessionID" json:"questions,omitempty"`
	Answers   []Answer         `gorm:"foreignKey:SessionID" json:"answers,omitempty"`
	Turns     []TranscriptTurn `gorm:"foreignKey:SessionID" json:"turns,omitempty"`
}
