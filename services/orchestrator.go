package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mocktalk/backend/apperrors"
	"github.com/mocktalk/backend/models"
	"github.com/mocktalk/backend/repository"
	"gorm.io/datatypes"
)

// Report readability states. A report must never be served as ready from
// stale or incomplete transcript data; the finalizing window is explicit.
const (
	ReportNoData     = "no_data"
	ReportInProgress = "in_progress"
	ReportFinalizing = "finalizing"
	ReportReady      = "ready"
)

const defaultFinalizeWait = 3 * time.Second

// ReportStatus is the result of a report read. Raw is the stored blob and is
// byte-identical across repeated reads of a completed session.
type ReportStatus struct {
	State  string
	Report *models.Report
	Raw    []byte
}

// CreateSessionParams are the validated-at-the-domain-level inputs to
// session creation.
type CreateSessionParams struct {
	CallerID      string
	JobTitle      string
	Seniority     string
	Language      string
	Mode          string
	QuestionCount int
}

// Orchestrator owns session lifecycles: it enforces legal state transitions
// and operation preconditions, serializes all per-session operations, and
// reconciles the disconnect/report race for voice sessions. No other
// component mutates session state.
type Orchestrator struct {
	repo         *repository.GORMRepository
	transcripts  *TranscriptStore
	evaluator    *AnswerEvaluator
	synthesizer  *ReportSynthesizer
	provider     GenerationProvider
	finalizeWait time.Duration

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// sessionEntry is the per-session concurrency unit: ops on one session are
// serialized on its mutex, and finalizing is non-nil while a leave or
// disconnect is in flight, closed once the session is durably completed.
type sessionEntry struct {
	mu             sync.Mutex
	finalizing     chan struct{}
	questionsAsked int
	askedLoaded    bool
}

func NewOrchestrator(repo *repository.GORMRepository, transcripts *TranscriptStore, evaluator *AnswerEvaluator, synthesizer *ReportSynthesizer, provider GenerationProvider, finalizeWait time.Duration) *Orchestrator {
	if finalizeWait <= 0 {
		finalizeWait = defaultFinalizeWait
	}
	return &Orchestrator{
		repo:         repo,
		transcripts:  transcripts,
		evaluator:    evaluator,
		synthesizer:  synthesizer,
		provider:     provider,
		finalizeWait: finalizeWait,
		entries:      make(map[string]*sessionEntry),
	}
}

func (o *Orchestrator) entry(sessionID string) *sessionEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.entries[sessionID]
	if e == nil {
		e = &sessionEntry{}
		o.entries[sessionID] = e
	}
	return e
}

// dropEntry forgets a session's concurrency state. Called once the session
// reaches a terminal status so the map does not grow with dead sessions;
// holders of the old pointer finish their operation and then re-read status.
func (o *Orchestrator) dropEntry(sessionID string) {
	o.mu.Lock()
	delete(o.entries, sessionID)
	o.mu.Unlock()
}

// CreateSession validates the request, populates the question bank through
// the provider (or the template fallback, so creation never blocks on an
// outage) and persists the new active session. Returns the session and its
// first question.
func (o *Orchestrator) CreateSession(ctx context.Context, params CreateSessionParams) (*models.Session, *models.Question, error) {
	title := strings.TrimSpace(params.JobTitle)
	if len(title) < 1 || len(title) > 255 {
		return nil, nil, apperrors.Validation("job_title", "job title must be 1-255 characters")
	}
	if !models.ValidSeniority(params.Seniority) {
		return nil, nil, apperrors.Validation("seniority", fmt.Sprintf("seniority must be junior, mid or senior, got %q", params.Seniority))
	}
	if !models.SupportedLanguages[params.Language] {
		return nil, nil, apperrors.Validation("language", fmt.Sprintf("unsupported language %q", params.Language))
	}
	if params.Mode != models.ModeText && params.Mode != models.ModeVoice {
		return nil, nil, apperrors.Validation("mode", fmt.Sprintf("mode must be text or voice, got %q", params.Mode))
	}
	if params.QuestionCount < 1 || params.QuestionCount > 20 {
		return nil, nil, apperrors.Validation("question_count", "question count must be between 1 and 20")
	}

	var drafts []QuestionDraft
	if o.provider != nil {
		d, err := o.provider.GenerateQuestions(ctx, title, params.Seniority, params.Language, params.QuestionCount)
		if err != nil {
			slog.Warn("Question generation degraded to templates", "error", err, "job_title", title, "fallback", true)
		} else {
			drafts = d
		}
	}
	if drafts == nil {
		drafts = fallbackQuestions(title, params.Seniority, params.QuestionCount)
	}

	session := &models.Session{
		ID:            uuid.New().String(),
		CallerID:      params.CallerID,
		JobTitle:      title,
		Seniority:     params.Seniority,
		Language:      params.Language,
		Mode:          params.Mode,
		QuestionCount: params.QuestionCount,
		Status:        models.StatusActive,
	}

	questions := make([]models.Question, 0, len(drafts))
	for i, d := range drafts {
		questions = append(questions, models.Question{
			ID:         uuid.New().String(),
			SessionID:  session.ID,
			Idx:        i + 1,
			Category:   d.Category,
			Competency: d.Competency,
			Text:       d.Text,
		})
	}

	if err := o.repo.CreateSessionWithQuestions(ctx, session, questions); err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	return session, &questions[0], nil
}

// SubmitAnswer evaluates and stores exactly one answer for a question. The
// evaluation is synchronous and never fails from a provider outage. Returns
// the stored answer and the next question, nil when this was the last one.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID, questionID, text string) (*models.Answer, *models.Question, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, apperrors.Validation("text", "answer text must not be empty")
	}

	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	if session == nil {
		return nil, nil, apperrors.NotFound("session", sessionID)
	}
	if session.Status != models.StatusActive {
		return nil, nil, apperrors.InvalidState(session.Status, "answers can only be submitted to an active session")
	}
	if session.Mode != models.ModeText {
		return nil, nil, apperrors.InvalidState(session.Status, "voice sessions collect a transcript, not discrete answers")
	}

	question, err := o.repo.GetQuestion(ctx, sessionID, questionID)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	if question == nil {
		return nil, nil, apperrors.NotFound("question", questionID)
	}

	existing, err := o.repo.GetAnswerByQuestion(ctx, questionID)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	if existing != nil {
		return nil, nil, apperrors.Conflict(questionID, "answer already submitted for this question")
	}

	ev := o.evaluator.Evaluate(ctx, question, text, session.JobTitle, session.Seniority)

	answer := &models.Answer{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		QuestionID:     questionID,
		Text:           text,
		ScoreRelevance: ev.Relevance,
		ScoreClarity:   ev.Clarity,
		ScoreStructure: ev.Structure,
		ScoreImpact:    ev.Impact,
		ScoreOverall:   ev.Overall,
		CoachNotes:     ev.CoachNotes,
	}
	if err := o.repo.CreateAnswer(ctx, answer); err != nil {
		if errors.Is(err, repository.ErrDuplicateAnswer) {
			return nil, nil, apperrors.Conflict(questionID, "answer already submitted for this question")
		}
		return nil, nil, apperrors.Internal(err)
	}

	next, err := o.repo.GetQuestionByIdx(ctx, sessionID, question.Idx+1)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	return answer, next, nil
}

// Finish completes a turn-based session once every question is answered,
// synthesizes the report and caches it. Calling Finish on an already
// completed session returns the cached report.
func (o *Orchestrator) Finish(ctx context.Context, sessionID string) (*models.Report, error) {
	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("session", sessionID)
	}
	if session.Mode != models.ModeText {
		return nil, apperrors.InvalidState(session.Status, "voice sessions finalize via leave or disconnect, not finish")
	}
	if session.Status == models.StatusCompleted {
		return o.cachedReport(session)
	}
	if session.Status != models.StatusActive {
		return nil, apperrors.InvalidState(session.Status, "only an active session can be finished")
	}

	answered, err := o.repo.CountAnswers(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if int(answered) < session.QuestionCount {
		return nil, apperrors.InvalidState(session.Status,
			fmt.Sprintf("not all questions answered: %d/%d", answered, session.QuestionCount))
	}

	questions, err := o.repo.GetQuestions(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	answers, err := o.repo.GetAnswers(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	report := o.synthesizer.FromAnswers(ctx, session, questions, answers)
	if err := o.completeSession(ctx, session, report); err != nil {
		return nil, err
	}
	o.dropEntry(sessionID)
	return report, nil
}

// AppendTurn routes a voice-mode turn into the transcript store and tracks
// how many planned questions the interviewer has asked so far.
func (o *Orchestrator) AppendTurn(ctx context.Context, sessionID string, seq int, speaker, text string, isQuestion bool) (asked, total int, err error) {
	if strings.TrimSpace(text) == "" {
		return 0, 0, apperrors.Validation("text", "turn text must not be empty")
	}

	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return 0, 0, apperrors.Internal(err)
	}
	if session == nil {
		return 0, 0, apperrors.NotFound("session", sessionID)
	}
	if session.Mode != models.ModeVoice {
		return 0, 0, apperrors.InvalidState(session.Status, "only voice sessions carry a transcript")
	}
	if session.Status != models.StatusActive {
		return 0, 0, apperrors.InvalidState(session.Status, "transcript can only grow while the session is active")
	}

	if !e.askedLoaded {
		e.questionsAsked = session.QuestionsAsked
		e.askedLoaded = true
	}

	turn := models.TranscriptTurn{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Seq:        seq,
		Speaker:    speaker,
		IsQuestion: isQuestion && speaker == models.SpeakerInterviewer,
		Text:       text,
		SpokenAt:   time.Now().UTC(),
	}
	if err := o.transcripts.Append(ctx, turn); err != nil {
		return 0, 0, err
	}
	if turn.IsQuestion {
		e.questionsAsked++
	}
	return e.questionsAsked, session.QuestionCount, nil
}

// OpenVoiceSession prepares a freshly attached voice client. On the first
// attachment it appends the interviewer's greeting as the opening turn; on a
// reconnect it leaves the transcript alone. Returns the greeting (empty when
// none was added) and the next sequence number the client should use.
func (o *Orchestrator) OpenVoiceSession(ctx context.Context, sessionID string) (greeting string, nextSeq int, err error) {
	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", 0, apperrors.Internal(err)
	}
	if session == nil {
		return "", 0, apperrors.NotFound("session", sessionID)
	}
	if session.Mode != models.ModeVoice || session.Status != models.StatusActive {
		return "", 0, apperrors.InvalidState(session.Status, "session cannot accept a voice connection")
	}

	turns, err := o.transcripts.Read(ctx, sessionID)
	if err != nil {
		return "", 0, apperrors.Internal(err)
	}
	if len(turns) > 0 {
		return "", turns[len(turns)-1].Seq + 1, nil
	}

	greeting = fmt.Sprintf("Hello! I'll be your interviewer today for the %s %s position. Let's begin.",
		session.Seniority, session.JobTitle)
	turn := models.TranscriptTurn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Seq:       1,
		Speaker:   models.SpeakerInterviewer,
		Text:      greeting,
		SpokenAt:  time.Now().UTC(),
	}
	if err := o.transcripts.Append(ctx, turn); err != nil {
		return "", 0, err
	}
	return greeting, 2, nil
}

// LeaveOrDisconnect finalizes a voice session: the buffered transcript is
// flushed durably first, and only after the write is acknowledged does the
// session transition to completed with its report cached. This runs for an
// explicit leave and for a network disconnect alike, at any completion level
// including zero questions asked. Idempotent once the session is completed.
//
// On a flush timeout the session stays in the finalizing state, the caller
// gets a persistence-timeout error, and finalization is retried in the
// background until it lands; report reads keep answering "finalizing" until
// then.
func (o *Orchestrator) LeaveOrDisconnect(ctx context.Context, sessionID string) error {
	e := o.entry(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return apperrors.Internal(err)
	}
	if session == nil {
		return apperrors.NotFound("session", sessionID)
	}
	if session.Mode != models.ModeVoice {
		return apperrors.InvalidState(session.Status, "turn-based sessions complete via finish, not leave")
	}
	if session.Status == models.StatusCompleted {
		return nil
	}
	if session.Status != models.StatusActive {
		return apperrors.InvalidState(session.Status, "only an active session can be finalized")
	}

	o.mu.Lock()
	if e.finalizing == nil {
		e.finalizing = make(chan struct{})
	}
	o.mu.Unlock()

	if err := o.finalizeVoiceLocked(ctx, e, session); err != nil {
		if apperrors.IsKind(err, apperrors.KindPersistenceTimeout) {
			go o.retryFinalize(sessionID)
		}
		return err
	}
	return nil
}

// finalizeVoiceLocked does the flush-then-complete sequence. Caller holds
// the entry lock.
func (o *Orchestrator) finalizeVoiceLocked(ctx context.Context, e *sessionEntry, session *models.Session) error {
	if err := o.transcripts.Flush(ctx, session.ID); err != nil {
		return err
	}

	turns, err := o.transcripts.Read(ctx, session.ID)
	if err != nil {
		return apperrors.Internal(err)
	}

	asked := 0
	for _, turn := range turns {
		if turn.IsQuestion {
			asked++
		}
	}

	report := o.synthesizer.FromTranscript(ctx, session, turns, asked, session.QuestionCount)
	session.QuestionsAsked = asked
	if err := o.completeSession(ctx, session, report); err != nil {
		return err
	}

	o.transcripts.Freeze(session.ID)
	o.transcripts.Release(session.ID)
	close(e.finalizing)
	o.dropEntry(session.ID)
	slog.Info("Voice session finalized", "session_id", session.ID, "questions_asked", asked, "turns", len(turns))
	return nil
}

// retryFinalize keeps trying to land a finalize whose flush timed out. The
// disconnect already happened, so nobody is waiting on this goroutine; the
// report read path reports "finalizing" until it succeeds.
func (o *Orchestrator) retryFinalize(sessionID string) {
	e := o.entry(sessionID)
	for attempt := 1; attempt <= 5; attempt++ {
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)

		e.mu.Lock()
		ctx := context.Background()
		session, err := o.repo.GetSession(ctx, sessionID)
		if err != nil || session == nil || session.Status != models.StatusActive {
			e.mu.Unlock()
			return
		}
		err = o.finalizeVoiceLocked(ctx, e, session)
		e.mu.Unlock()

		if err == nil {
			return
		}
		slog.Warn("Finalize retry failed", "session_id", sessionID, "attempt", attempt, "error", err)
	}
	slog.Error("Finalize retries exhausted, session left finalizing", "session_id", sessionID)
}

// GetReport is the client-facing report read. For a completed session it is
// pure and idempotent: the cached blob is returned unchanged. For an active
// session with a finalize in flight it waits up to the finalize window and
// then answers "finalizing" honestly instead of serving a stale report.
func (o *Orchestrator) GetReport(ctx context.Context, sessionID string) (*ReportStatus, error) {
	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("session", sessionID)
	}

	switch session.Status {
	case models.StatusCompleted:
		report, err := o.cachedReport(session)
		if err != nil {
			return nil, err
		}
		return &ReportStatus{State: ReportReady, Report: report, Raw: session.ReportJSON}, nil

	case models.StatusAbandoned:
		return &ReportStatus{State: ReportNoData}, nil
	}

	e := o.entry(sessionID)
	o.mu.Lock()
	finalizing := e.finalizing
	o.mu.Unlock()

	if finalizing != nil {
		select {
		case <-finalizing:
			refreshed, err := o.repo.GetSession(ctx, sessionID)
			if err != nil {
				return nil, apperrors.Internal(err)
			}
			if refreshed != nil && refreshed.Status == models.StatusCompleted {
				report, err := o.cachedReport(refreshed)
				if err != nil {
					return nil, err
				}
				return &ReportStatus{State: ReportReady, Report: report, Raw: refreshed.ReportJSON}, nil
			}
			return &ReportStatus{State: ReportFinalizing}, nil
		case <-time.After(o.finalizeWait):
			return &ReportStatus{State: ReportFinalizing}, nil
		case <-ctx.Done():
			// The read is cancellable; persistence continues regardless.
			return &ReportStatus{State: ReportFinalizing}, nil
		}
	}

	active, err := o.hasActivity(ctx, session)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if active {
		return &ReportStatus{State: ReportInProgress}, nil
	}
	return &ReportStatus{State: ReportNoData}, nil
}

func (o *Orchestrator) hasActivity(ctx context.Context, session *models.Session) (bool, error) {
	if session.Mode == models.ModeText {
		count, err := o.repo.CountAnswers(ctx, session.ID)
		return count > 0, err
	}
	turns, err := o.transcripts.Read(ctx, session.ID)
	return len(turns) > 0, err
}

// AbandonIfIdle moves a zero-activity session to abandoned. Activity is
// re-checked under the session lock so a racing append or answer wins.
func (o *Orchestrator) AbandonIfIdle(ctx context.Context, sessionID string) (bool, error) {
	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session == nil || session.Status != models.StatusActive {
		return false, nil
	}
	active, err := o.hasActivity(ctx, session)
	if err != nil {
		return false, err
	}
	if active {
		return false, nil
	}
	if err := o.repo.MarkAbandoned(ctx, sessionID); err != nil {
		return false, err
	}
	o.dropEntry(sessionID)
	return true, nil
}

// completeSession writes the terminal record: report blob, score, timestamp.
func (o *Orchestrator) completeSession(ctx context.Context, session *models.Session, report *models.Report) error {
	blob, err := report.Marshal()
	if err != nil {
		return apperrors.Internal(err)
	}
	now := time.Now().UTC()
	session.Status = models.StatusCompleted
	session.CompletedAt = &now
	session.OverallScore = report.OverallScore
	session.ReportJSON = datatypes.JSON(blob)
	if err := o.repo.CompleteSession(ctx, session); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (o *Orchestrator) cachedReport(session *models.Session) (*models.Report, error) {
	if len(session.ReportJSON) == 0 {
		return nil, apperrors.Internal(fmt.Errorf("completed session %s has no cached report", session.ID))
	}
	report, err := models.UnmarshalReport(session.ReportJSON)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return report, nil
}
