package services

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mocktalk/backend/apperrors"
	"github.com/mocktalk/backend/models"
	"github.com/mocktalk/backend/repository"
)

type InterviewEndpoints struct {
	repo         *repository.GORMRepository
	orchestrator *Orchestrator
	validate     *validator.Validate
}

func NewInterviewEndpoints(repo *repository.GORMRepository, orchestrator *Orchestrator) *InterviewEndpoints {
	return &InterviewEndpoints{
		repo:         repo,
		orchestrator: orchestrator,
		validate:     validator.New(),
	}
}

type CreateInterviewRequest struct {
	JobTitle      string `json:"job_title" validate:"required,min=1,max=255"`
	Seniority     string `json:"seniority" validate:"required,oneof=junior mid senior"`
	Language      string `json:"language" validate:"required"`
	Mode          string `json:"mode" validate:"required,oneof=text voice"`
	QuestionCount int    `json:"question_count" validate:"required,min=1,max=20"`
}

type CreateInterviewResponse struct {
	Session       *models.Session  `json:"session"`
	FirstQuestion *models.Question `json:"first_question"`
}

type GetInterviewsResponse struct {
	Sessions []models.Session `json:"sessions"`
	Count    int              `json:"count"`
}

type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Text       string `json:"text" validate:"required"`
}

type SubmitAnswerResponse struct {
	Answer       *models.Answer   `json:"answer"`
	NextQuestion *models.Question `json:"next_question,omitempty"`
	Done         bool             `json:"done"`
}

type AppendTurnRequest struct {
	Seq        int    `json:"seq" validate:"required,min=1"`
	Speaker    string `json:"speaker" validate:"required,oneof=interviewer candidate"`
	Text       string `json:"text" validate:"required"`
	IsQuestion bool   `json:"is_question"`
}

type AppendTurnResponse struct {
	QuestionsAsked int `json:"questions_asked"`
	QuestionsTotal int `json:"questions_total"`
}

type ReportResponse struct {
	Status string          `json:"status"`
	Report json.RawMessage `json:"report,omitempty"`
}

func (e *InterviewEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/interviews", func(r chi.Router) {
		r.Post("/", e.CreateInterviewHandler)
		r.Get("/", e.GetInterviewsHandler)
		r.Get("/{id}", e.GetInterviewHandler)
		r.Post("/{id}/answers", e.SubmitAnswerHandler)
		r.Post("/{id}/finish", e.FinishHandler)
		r.Post("/{id}/turns", e.AppendTurnHandler)
		r.Post("/{id}/leave", e.LeaveHandler)
		r.Get("/{id}/report", e.GetReportHandler)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse carries the error context a client can act on: the failing
// field for validation errors, the id for not-found and conflict errors, the
// current session status for invalid-state errors.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Field  string `json:"field,omitempty"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
}

// writeError maps domain errors to HTTP statuses. Internal error detail is
// logged but kept out of the response body.
func writeError(w http.ResponseWriter, err error) {
	appErr := apperrors.As(err)
	if appErr.Kind == apperrors.KindInternal {
		slog.Error("Request failed", "error", err)
	}
	writeJSON(w, appErr.HTTPStatus(), ErrorResponse{
		Error:  appErr.Message,
		Kind:   appErr.Kind.String(),
		Field:  appErr.Field,
		ID:     appErr.ID,
		Status: appErr.Status,
	})
}

func (e *InterviewEndpoints) CreateInterviewHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateInterviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("body", "invalid request body"))
		return
	}
	if err := e.validate.Struct(&req); err != nil {
		writeError(w, apperrors.Validation("body", err.Error()))
		return
	}

	callerID := CallerID(r.Context())
	session, first, err := e.orchestrator.CreateSession(r.Context(), CreateSessionParams{
		CallerID:      callerID,
		JobTitle:      req.JobTitle,
		Seniority:     req.Seniority,
		Language:      req.Language,
		Mode:          req.Mode,
		QuestionCount: req.QuestionCount,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateInterviewResponse{Session: session, FirstQuestion: first})
	slog.Info("Interview session created", "session_id", session.ID, "caller_id", callerID, "mode", session.Mode, "question_count", session.QuestionCount)
}

func (e *InterviewEndpoints) GetInterviewsHandler(w http.ResponseWriter, r *http.Request) {
	callerID := CallerID(r.Context())

	sessions, err := e.repo.GetSessionsByCaller(r.Context(), callerID)
	if err != nil {
		slog.Error("Failed to list interview sessions", "error", err, "caller_id", callerID)
		writeError(w, apperrors.Internal(err))
		return
	}

	writeJSON(w, http.StatusOK, GetInterviewsResponse{Sessions: sessions, Count: len(sessions)})
}

func (e *InterviewEndpoints) GetInterviewHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeError(w, apperrors.Validation("id", "session id is required"))
		return
	}

	session, err := e.repo.GetSessionWithDetails(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get interview session", "error", err, "session_id", sessionID)
		writeError(w, apperrors.Internal(err))
		return
	}
	if session == nil {
		writeError(w, apperrors.NotFound("session", sessionID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (e *InterviewEndpoints) SubmitAnswerHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req SubmitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("body", "invalid request body"))
		return
	}
	if err := e.validate.Struct(&req); err != nil {
		writeError(w, apperrors.Validation("body", err.Error()))
		return
	}

	answer, next, err := e.orchestrator.SubmitAnswer(r.Context(), sessionID, req.QuestionID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitAnswerResponse{Answer: answer, NextQuestion: next, Done: next == nil})
	slog.Info("Answer submitted", "session_id", sessionID, "question_id", req.QuestionID, "score", answer.ScoreOverall)
}

func (e *InterviewEndpoints) FinishHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	report, err := e.orchestrator.Finish(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	blob, err := report.Marshal()
	if err != nil {
		writeError(w, apperrors.Internal(err))
		return
	}

	writeJSON(w, http.StatusOK, ReportResponse{Status: ReportReady, Report: blob})
	slog.Info("Interview session finished", "session_id", sessionID, "overall_score", report.OverallScore)
}

func (e *InterviewEndpoints) AppendTurnHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req AppendTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("body", "invalid request body"))
		return
	}
	if err := e.validate.Struct(&req); err != nil {
		writeError(w, apperrors.Validation("body", err.Error()))
		return
	}

	asked, total, err := e.orchestrator.AppendTurn(r.Context(), sessionID, req.Seq, req.Speaker, req.Text, req.IsQuestion)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AppendTurnResponse{QuestionsAsked: asked, QuestionsTotal: total})
}

func (e *InterviewEndpoints) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := e.orchestrator.LeaveOrDisconnect(r.Context(), sessionID); err != nil {
		if apperrors.IsKind(err, apperrors.KindPersistenceTimeout) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": ReportFinalizing})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCompleted})
	slog.Info("Interview session left", "session_id", sessionID)
}

func (e *InterviewEndpoints) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	status, err := e.orchestrator.GetReport(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	httpStatus := http.StatusOK
	if status.State == ReportFinalizing {
		httpStatus = http.StatusAccepted
	}
	writeJSON(w, httpStatus, ReportResponse{Status: status.State, Report: json.RawMessage(status.Raw)})
}
