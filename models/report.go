package models

import "encoding/json"

// Report completion flags.
const (
	CompletionFull    = "full"
	CompletionPartial = "partial"
)

// Report is the final analysis of a session. It is written once, serialized
// into Session.ReportJSON, and served verbatim from then on. OverallScore is
// nil when the session produced no scorable data at all.
type Report struct {
	OverallScore    *int     `json:"overall_score"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	ActionPlan      []string `json:"action_plan"`
	SuggestedRoles  []string `json:"suggested_roles"`
	Completion      string   `json:"completion"` // full or partial
	CompletionRatio float64  `json:"completion_ratio"`
	QuestionsAsked  int      `json:"questions_asked"`
	QuestionsTotal  int      `json:"questions_total"`
}

// Marshal serializes the report for storage. The stored bytes are the
// canonical representation: repeated reads return them unchanged.
func (r *Report) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalReport decodes a stored report blob.
func UnmarshalReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
