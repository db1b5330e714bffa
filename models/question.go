package models

// Question categories.
const (
	CategoryTechnical   = "technical"
	CategoryBehavioral  = "behavioral"
	CategorySituational = "situational"
	CategoryGeneral     = "general"
)

func ValidCategory(c string) bool {
	switch c {
	case CategoryTechnical, CategoryBehavioral, CategorySituational, CategoryGeneral:
		return true
	}
	return false
}

// Question is a single planned question in a session. Questions are created
// in one batch at session start and never mutated afterwards.
type Question struct {
	ID        string `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string `gorm:"type:uuid;not null;index;uniqueIndex:idx_session_question_idx" json:"session_id"`

	Idx        int    `gorm:"not null;uniqueIndex:idx_session_question_idx" json:"idx"` // 1-based, contiguous
	Category   string `gorm:"size:50;not null;check:category IN ('technical', 'behavioral', 'situational', 'general')" json:"category"`
	Competency string `gorm:"size:255" json:"competency,omitempty"`
	Text       string `gorm:"type:text;not null" json:"text"`

	// Relationships
	Answer *Answer `gorm:"foreignKey:QuestionID" json:"answer,omitempty"`
}
