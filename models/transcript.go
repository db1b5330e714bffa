package models

import "time"

// Transcript speaker roles.
const (
	SpeakerInterviewer = "interviewer"
	SpeakerCandidate   = "candidate"
)

// TranscriptTurn is one turn of a voice-mode conversation. Turn order is the
// append order accepted by the transcript store, carried by Seq, not
// wall-clock order. The composite unique index rejects duplicate sequence
// numbers at the storage layer.
type TranscriptTurn struct {
	ID        string `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string `gorm:"type:uuid;not null;index;uniqueIndex:idx_session_turn_seq" json:"session_id"`

	Seq        int       `gorm:"not null;uniqueIndex:idx_session_turn_seq" json:"seq"`
	Speaker    string    `gorm:"size:20;not null;check:speaker IN ('interviewer', 'candidate')" json:"speaker"`
	IsQuestion bool      `gorm:"not null;default:false" json:"is_question"` // interviewer-initiated question turn
	Text       string    `gorm:"type:text;not null" json:"text"`
	SpokenAt   time.Time `gorm:"not null" json:"spoken_at"`

	CreatedAt time.Time `json:"created_at"`
}
