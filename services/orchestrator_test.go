package services

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mocktalk/backend/apperrors"
	"github.com/mocktalk/backend/models"
)

// scoringProvider evaluates every answer with a fixed overall score and
// otherwise behaves like an outage, keeping report content deterministic.
func scoringProvider(overall int) *stubProvider {
	return &stubProvider{
		evaluate: func(q *models.Question, answer string) (*Evaluation, error) {
			return &Evaluation{
				Relevance: overall, Clarity: overall, Structure: overall,
				Impact: overall, Overall: overall,
				CoachNotes: "steady",
			}, nil
		},
	}
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})

	tests := []struct {
		name   string
		mutate func(*CreateSessionParams)
	}{
		{"empty job title", func(p *CreateSessionParams) { p.JobTitle = "  " }},
		{"job title too long", func(p *CreateSessionParams) { p.JobTitle = string(make([]byte, 256)) }},
		{"unknown seniority", func(p *CreateSessionParams) { p.Seniority = "principal" }},
		{"unsupported language", func(p *CreateSessionParams) { p.Language = "de" }},
		{"unknown mode", func(p *CreateSessionParams) { p.Mode = "video" }},
		{"zero questions", func(p *CreateSessionParams) { p.QuestionCount = 0 }},
		{"too many questions", func(p *CreateSessionParams) { p.QuestionCount = 21 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := textSessionParams()
			tt.mutate(&params)
			_, _, err := env.orchestrator.CreateSession(context.Background(), params)
			mustKind(t, err, apperrors.KindValidation)
		})
	}
}

func TestCreateSessionSurvivesProviderOutage(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})

	session, first, err := env.orchestrator.CreateSession(context.Background(), textSessionParams())
	if err != nil {
		t.Fatalf("creation must succeed on provider outage: %v", err)
	}
	if session.Status != models.StatusActive {
		t.Errorf("status = %q, want active", session.Status)
	}
	if first == nil || first.Idx != 1 {
		t.Fatalf("expected first question with idx 1, got %+v", first)
	}

	questions, err := env.repo.GetQuestions(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("failed to load questions: %v", err)
	}
	if len(questions) != session.QuestionCount {
		t.Fatalf("question bank has %d entries, want %d", len(questions), session.QuestionCount)
	}
	for i, q := range questions {
		if q.Idx != i+1 {
			t.Errorf("question %d has idx %d, want %d", i, q.Idx, i+1)
		}
		if q.Text == "" {
			t.Errorf("question %d has empty text", i)
		}
		if !models.ValidCategory(q.Category) {
			t.Errorf("question %d has unknown category %q", i, q.Category)
		}
	}
}

func TestTextSessionFullFlow(t *testing.T) {
	env := newTestEnv(t, scoringProvider(80))
	ctx := context.Background()

	session, first, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	current := first
	for i := 0; i < session.QuestionCount; i++ {
		if current == nil {
			t.Fatalf("ran out of questions after %d answers", i)
		}
		answer, next, err := env.orchestrator.SubmitAnswer(ctx, session.ID, current.ID, "A detailed answer with concrete examples and measurable results.")
		if err != nil {
			t.Fatalf("submit answer %d failed: %v", i+1, err)
		}
		if answer.ScoreOverall != 80 {
			t.Errorf("answer %d overall = %d, want 80", i+1, answer.ScoreOverall)
		}
		if i < session.QuestionCount-1 && next == nil {
			t.Fatalf("expected a next question after answer %d", i+1)
		}
		if i == session.QuestionCount-1 && next != nil {
			t.Errorf("expected no next question after the last answer, got idx %d", next.Idx)
		}
		current = next
	}

	report, err := env.orchestrator.Finish(ctx, session.ID)
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if report.OverallScore == nil || *report.OverallScore != 80 {
		t.Errorf("overall = %v, want 80 (mean of identical answer scores)", report.OverallScore)
	}
	if report.Completion != models.CompletionFull {
		t.Errorf("completion = %q, want full", report.Completion)
	}

	status, err := env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("get report failed: %v", err)
	}
	if status.State != ReportReady {
		t.Errorf("report state = %q, want ready", status.State)
	}
}

func TestSubmitAnswerErrors(t *testing.T) {
	env := newTestEnv(t, scoringProvider(70))
	ctx := context.Background()

	session, first, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, _, err = env.orchestrator.SubmitAnswer(ctx, "no-such-session", first.ID, "text")
	mustKind(t, err, apperrors.KindNotFound)

	_, _, err = env.orchestrator.SubmitAnswer(ctx, session.ID, "no-such-question", "text")
	mustKind(t, err, apperrors.KindNotFound)

	_, _, err = env.orchestrator.SubmitAnswer(ctx, session.ID, first.ID, "   ")
	mustKind(t, err, apperrors.KindValidation)

	if _, _, err := env.orchestrator.SubmitAnswer(ctx, session.ID, first.ID, "a real answer"); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	_, _, err = env.orchestrator.SubmitAnswer(ctx, session.ID, first.ID, "a second answer")
	mustKind(t, err, apperrors.KindConflict)

	voice, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("voice create failed: %v", err)
	}
	voiceQuestions, err := env.repo.GetQuestions(ctx, voice.ID)
	if err != nil {
		t.Fatalf("failed to load voice questions: %v", err)
	}
	_, _, err = env.orchestrator.SubmitAnswer(ctx, voice.ID, voiceQuestions[0].ID, "text")
	mustKind(t, err, apperrors.KindInvalidState)
}

func TestSubmitAnswerConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t, scoringProvider(70))
	ctx := context.Background()

	session, first, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.orchestrator.SubmitAnswer(ctx, session.ID, first.ID, "racing answer")
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperrors.IsKind(err, apperrors.KindConflict):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("got %d successes and %d conflicts, want exactly 1 of each", ok, conflict)
	}

	count, err := env.repo.CountAnswers(ctx, session.ID)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("stored %d answers, want 1", count)
	}
}

func TestFinishRequiresAllAnswers(t *testing.T) {
	env := newTestEnv(t, scoringProvider(70))
	ctx := context.Background()

	session, first, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, err := env.orchestrator.SubmitAnswer(ctx, session.ID, first.ID, "only one answer"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	_, err = env.orchestrator.Finish(ctx, session.ID)
	mustKind(t, err, apperrors.KindInvalidState)
}

func TestFinishIsIdempotentAndReportBytesStable(t *testing.T) {
	env := newTestEnv(t, scoringProvider(75))
	ctx := context.Background()

	session, first, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	current := first
	for current != nil {
		_, next, err := env.orchestrator.SubmitAnswer(ctx, session.ID, current.ID, "a full answer with detail")
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		current = next
	}

	if _, err := env.orchestrator.Finish(ctx, session.ID); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if _, err := env.orchestrator.Finish(ctx, session.ID); err != nil {
		t.Fatalf("repeated finish must succeed: %v", err)
	}

	first1, err := env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("first report read failed: %v", err)
	}
	second, err := env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("second report read failed: %v", err)
	}
	if first1.State != ReportReady || second.State != ReportReady {
		t.Fatalf("states = %q, %q, want ready", first1.State, second.State)
	}
	if !bytes.Equal(first1.Raw, second.Raw) {
		t.Error("repeated report reads must return byte-identical payloads")
	}
}

func TestVoiceSessionLeaveProducesPartialReport(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	ctx := context.Background()

	session, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	script := []struct {
		seq        int
		speaker    string
		text       string
		isQuestion bool
	}{
		{1, models.SpeakerInterviewer, "Tell me about your background.", true},
		{2, models.SpeakerCandidate, "I have worked as a backend engineer for five years, mostly on payment systems.", false},
		{3, models.SpeakerInterviewer, "What was your hardest production incident?", true},
		{4, models.SpeakerCandidate, "A cascading cache failure; I led the rollback and the postmortem afterwards.", false},
	}
	for _, s := range script {
		asked, total, err := env.orchestrator.AppendTurn(ctx, session.ID, s.seq, s.speaker, s.text, s.isQuestion)
		if err != nil {
			t.Fatalf("append seq %d failed: %v", s.seq, err)
		}
		if total != session.QuestionCount {
			t.Errorf("total = %d, want %d", total, session.QuestionCount)
		}
		_ = asked
	}

	if err := env.orchestrator.LeaveOrDisconnect(ctx, session.ID); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	status, err := env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("report read failed: %v", err)
	}
	if status.State != ReportReady {
		t.Fatalf("report state = %q, want ready", status.State)
	}
	if status.Report.Completion != models.CompletionPartial {
		t.Errorf("completion = %q, want partial (2 of 4 questions)", status.Report.Completion)
	}
	if status.Report.QuestionsAsked != 2 || status.Report.QuestionsTotal != 4 {
		t.Errorf("questions = %d/%d, want 2/4", status.Report.QuestionsAsked, status.Report.QuestionsTotal)
	}
	if status.Report.CompletionRatio != 0.5 {
		t.Errorf("ratio = %v, want 0.5", status.Report.CompletionRatio)
	}
	if status.Report.OverallScore == nil {
		t.Error("session with candidate turns should carry a score")
	}

	// Leave again: already completed, a no-op.
	if err := env.orchestrator.LeaveOrDisconnect(ctx, session.ID); err != nil {
		t.Fatalf("repeated leave must be a no-op: %v", err)
	}
}

func TestVoiceDisconnectWithZeroTurns(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	ctx := context.Background()

	session, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := env.orchestrator.LeaveOrDisconnect(ctx, session.ID); err != nil {
		t.Fatalf("zero-turn disconnect must still finalize: %v", err)
	}

	status, err := env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("report read failed: %v", err)
	}
	if status.State != ReportReady {
		t.Fatalf("report state = %q, want ready", status.State)
	}
	if status.Report.OverallScore != nil {
		t.Errorf("zero-turn session must not carry a score, got %d", *status.Report.OverallScore)
	}
	if status.Report.Completion != models.CompletionPartial {
		t.Errorf("completion = %q, want partial", status.Report.Completion)
	}
}

func TestAppendTurnErrors(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	ctx := context.Background()

	text, _, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, _, err = env.orchestrator.AppendTurn(ctx, text.ID, 1, models.SpeakerInterviewer, "hello", true)
	mustKind(t, err, apperrors.KindInvalidState)

	voice, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, err := env.orchestrator.AppendTurn(ctx, voice.ID, 3, models.SpeakerInterviewer, "Question?", true); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	_, _, err = env.orchestrator.AppendTurn(ctx, voice.ID, 3, models.SpeakerCandidate, "dup seq", false)
	mustKind(t, err, apperrors.KindConflict)

	if err := env.orchestrator.LeaveOrDisconnect(ctx, voice.ID); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	_, _, err = env.orchestrator.AppendTurn(ctx, voice.ID, 4, models.SpeakerCandidate, "after the end", false)
	mustKind(t, err, apperrors.KindInvalidState)
}

func TestAppendTurnCountsOnlyInterviewerQuestions(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	ctx := context.Background()

	session, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	asked, _, err := env.orchestrator.AppendTurn(ctx, session.ID, 1, models.SpeakerInterviewer, "First question?", true)
	if err != nil || asked != 1 {
		t.Fatalf("asked = %d err = %v, want 1 nil", asked, err)
	}
	// A candidate frame flagged as a question must not count.
	asked, _, err = env.orchestrator.AppendTurn(ctx, session.ID, 2, models.SpeakerCandidate, "Is that a question?", true)
	if err != nil || asked != 1 {
		t.Fatalf("asked = %d err = %v, want still 1", asked, err)
	}
	asked, _, err = env.orchestrator.AppendTurn(ctx, session.ID, 3, models.SpeakerInterviewer, "Just a remark.", false)
	if err != nil || asked != 1 {
		t.Fatalf("asked = %d err = %v, want still 1", asked, err)
	}
}

func TestGetReportStates(t *testing.T) {
	env := newTestEnv(t, scoringProvider(70))
	ctx := context.Background()

	_, err := env.orchestrator.GetReport(ctx, "missing")
	mustKind(t, err, apperrors.KindNotFound)

	session, first, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	status, err := env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("report read failed: %v", err)
	}
	if status.State != ReportNoData {
		t.Errorf("fresh session state = %q, want no_data", status.State)
	}

	if _, _, err := env.orchestrator.SubmitAnswer(ctx, session.ID, first.ID, "an answer"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	status, err = env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("report read failed: %v", err)
	}
	if status.State != ReportInProgress {
		t.Errorf("state after first answer = %q, want in_progress", status.State)
	}

	abandoned, _, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := env.repo.MarkAbandoned(ctx, abandoned.ID); err != nil {
		t.Fatalf("mark abandoned failed: %v", err)
	}
	status, err = env.orchestrator.GetReport(ctx, abandoned.ID)
	if err != nil {
		t.Fatalf("report read failed: %v", err)
	}
	if status.State != ReportNoData {
		t.Errorf("abandoned session state = %q, want no_data", status.State)
	}
}

func TestAbandonIfIdle(t *testing.T) {
	env := newTestEnv(t, scoringProvider(70))
	ctx := context.Background()

	idle, _, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	ok, err := env.orchestrator.AbandonIfIdle(ctx, idle.ID)
	if err != nil || !ok {
		t.Fatalf("idle session should be abandoned, got ok=%v err=%v", ok, err)
	}
	got, err := env.repo.GetSession(ctx, idle.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Status != models.StatusAbandoned {
		t.Errorf("status = %q, want abandoned", got.Status)
	}

	active, first, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, err := env.orchestrator.SubmitAnswer(ctx, active.ID, first.ID, "activity"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	ok, err = env.orchestrator.AbandonIfIdle(ctx, active.ID)
	if err != nil {
		t.Fatalf("abandon check failed: %v", err)
	}
	if ok {
		t.Error("session with an answer must not be abandoned")
	}
}

func TestGetReportDuringFinalize(t *testing.T) {
	release := make(chan struct{})
	score := 65
	provider := &stubProvider{
		fromTranscript: func(rc *TranscriptReportContext) (*ReportDraft, error) {
			<-release
			return &ReportDraft{
				OverallScore: &score,
				Strengths:    []string{"Spoke clearly"},
				Weaknesses:   []string{"Session was cut short"},
				ActionPlan:   []string{"Finish a full session next time"},
			}, nil
		},
	}
	env := newTestEnv(t, provider)
	ctx := context.Background()

	session, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, err := env.orchestrator.AppendTurn(ctx, session.ID, 1, models.SpeakerInterviewer, "Question?", true); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, _, err := env.orchestrator.AppendTurn(ctx, session.ID, 2, models.SpeakerCandidate, "An answer.", false); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	leaveDone := make(chan error, 1)
	go func() { leaveDone <- env.orchestrator.LeaveOrDisconnect(ctx, session.ID) }()
	time.Sleep(100 * time.Millisecond) // let the finalize reach the provider

	// First read races the held finalize: the 500ms wait elapses and the
	// state is reported honestly instead of serving a premature report.
	status, err := env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("report read failed: %v", err)
	}
	if status.State != ReportFinalizing {
		t.Fatalf("state during finalize = %q, want finalizing", status.State)
	}

	close(release)
	if err := <-leaveDone; err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	status, err = env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("report read failed: %v", err)
	}
	if status.State != ReportReady {
		t.Fatalf("state after finalize = %q, want ready", status.State)
	}
	if status.Report.OverallScore == nil || *status.Report.OverallScore != 65 {
		t.Errorf("overall = %v, want 65", status.Report.OverallScore)
	}
}

func TestFinishRejectsWrongModeAndLeaveRejectsText(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	ctx := context.Background()

	voice, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err = env.orchestrator.Finish(ctx, voice.ID)
	mustKind(t, err, apperrors.KindInvalidState)

	text, _, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err = env.orchestrator.LeaveOrDisconnect(ctx, text.ID)
	mustKind(t, err, apperrors.KindInvalidState)
}

func TestOpenVoiceSessionGreetsOnceAndResumesSeq(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	ctx := context.Background()

	session, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	greeting, nextSeq, err := env.orchestrator.OpenVoiceSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if greeting == "" {
		t.Fatal("expected a greeting on first connect")
	}
	if nextSeq != 2 {
		t.Errorf("nextSeq = %d, want 2", nextSeq)
	}

	turns, err := env.transcripts.Read(ctx, session.ID)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(turns) != 1 || turns[0].Speaker != models.SpeakerInterviewer || turns[0].IsQuestion {
		t.Fatalf("unexpected greeting turn: %+v", turns)
	}

	// Reconnecting must not repeat the greeting.
	greeting, nextSeq, err = env.orchestrator.OpenVoiceSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if greeting != "" {
		t.Errorf("greeting on reconnect = %q, want empty", greeting)
	}
	if nextSeq != 2 {
		t.Errorf("nextSeq after reconnect = %d, want 2", nextSeq)
	}

	if _, _, err := env.orchestrator.AppendTurn(ctx, session.ID, 2, models.SpeakerCandidate, "Hello", false); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	_, nextSeq, err = env.orchestrator.OpenVoiceSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if nextSeq != 3 {
		t.Errorf("nextSeq = %d, want 3", nextSeq)
	}
}

func TestOpenVoiceSessionRejectsTextAndCompleted(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	ctx := context.Background()

	text, _, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, _, err = env.orchestrator.OpenVoiceSession(ctx, text.ID)
	mustKind(t, err, apperrors.KindInvalidState)

	voice, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := env.orchestrator.LeaveOrDisconnect(ctx, voice.ID); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	_, _, err = env.orchestrator.OpenVoiceSession(ctx, voice.ID)
	mustKind(t, err, apperrors.KindInvalidState)

	_, _, err = env.orchestrator.OpenVoiceSession(ctx, "missing")
	mustKind(t, err, apperrors.KindNotFound)
}

func TestLeaveFlushTimeoutDegradesToFinalizing(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	ctx := context.Background()

	session, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, err := env.orchestrator.AppendTurn(ctx, session.ID, 1, models.SpeakerInterviewer, "Tell me about a hard bug.", true); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, _, err := env.orchestrator.AppendTurn(ctx, session.ID, 2, models.SpeakerCandidate, "It was a race in the cache layer.", false); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// An unreachable store: the flush cannot be acknowledged in time.
	setFlushTimeout(env.transcripts, time.Nanosecond)
	mustKind(t, env.orchestrator.LeaveOrDisconnect(ctx, session.ID), apperrors.KindPersistenceTimeout)

	status, err := env.orchestrator.GetReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("report read failed: %v", err)
	}
	if status.State != ReportFinalizing {
		t.Fatalf("state after timed-out leave = %q, want finalizing", status.State)
	}
	stored, err := env.repo.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("session read failed: %v", err)
	}
	if stored.Status != models.StatusActive {
		t.Fatalf("session status = %q, the session must not complete before its transcript is durable", stored.Status)
	}

	// Once the store recovers, the background retry lands the finalize.
	setFlushTimeout(env.transcripts, 2*time.Second)
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err = env.orchestrator.GetReport(ctx, session.ID)
		if err != nil {
			t.Fatalf("report read failed: %v", err)
		}
		if status.State == ReportReady {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("report never became ready, last state %q", status.State)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if status.Report.Completion != models.CompletionPartial {
		t.Errorf("completion = %q, want partial", status.Report.Completion)
	}
	turns, err := env.transcripts.Read(ctx, session.ID)
	if err != nil {
		t.Fatalf("transcript read failed: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("durable turns = %d, want 2", len(turns))
	}
}

func hasEntry(o *Orchestrator, sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.entries[sessionID]
	return ok
}

func TestTerminalSessionsDropTheirEntries(t *testing.T) {
	env := newTestEnv(t, scoringProvider(70))
	ctx := context.Background()

	text, question, err := env.orchestrator.CreateSession(ctx, textSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	for question != nil {
		_, question, err = env.orchestrator.SubmitAnswer(ctx, text.ID, question.ID, "A considered answer.")
		if err != nil {
			t.Fatalf("answer failed: %v", err)
		}
	}
	if _, err := env.orchestrator.Finish(ctx, text.ID); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if hasEntry(env.orchestrator, text.ID) {
		t.Error("finished session still tracked")
	}

	voice, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, err := env.orchestrator.AppendTurn(ctx, voice.ID, 1, models.SpeakerInterviewer, "First question?", true); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := env.orchestrator.LeaveOrDisconnect(ctx, voice.ID); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if hasEntry(env.orchestrator, voice.ID) {
		t.Error("finalized voice session still tracked")
	}

	idle, _, err := env.orchestrator.CreateSession(ctx, voiceSessionParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	abandoned, err := env.orchestrator.AbandonIfIdle(ctx, idle.ID)
	if err != nil || !abandoned {
		t.Fatalf("abandon = %v, %v, want true", abandoned, err)
	}
	if hasEntry(env.orchestrator, idle.ID) {
		t.Error("abandoned session still tracked")
	}
}
