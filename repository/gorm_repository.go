package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mocktalk/backend/models"
	"gorm.io/gorm"
)

// ErrDuplicateAnswer is returned when the unique index on question_id rejects
// a second answer for the same question.
var ErrDuplicateAnswer = errors.New("answer already exists for question")

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.Session{},
		&models.Question{},
		&models.Answer{},
		&models.TranscriptTurn{},
	)
}

// CreateSessionWithQuestions persists a new session and its full question
// batch in one transaction. Questions are immutable after this point.
func (r *GORMRepository) CreateSessionWithQuestions(ctx context.Context, session *models.Session, questions []models.Question) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		if len(questions) > 0 {
			if err := tx.Create(&questions).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to create session", "error", err, "session_id", session.ID)
		return err
	}
	slog.Info("Session created", "session_id", session.ID, "mode", session.Mode, "questions", len(questions))
	return nil
}

func (r *GORMRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get session", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &session, nil
}

func (r *GORMRepository) GetSessionWithDetails(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Where("id = ?", sessionID).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("idx") }).
		Preload("Answers").
		Preload("Turns", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get session with details", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &session, nil
}

func (r *GORMRepository) GetSessionsByCaller(ctx context.Context, callerID string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).
		Where("caller_id = ?", callerID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to get sessions by caller", "error", err, "caller_id", callerID)
		return nil, err
	}
	return sessions, nil
}

func (r *GORMRepository) GetQuestion(ctx context.Context, sessionID, questionID string) (*models.Question, error) {
	var question models.Question
	err := r.db.WithContext(ctx).
		Where("id = ? AND session_id = ?", questionID, sessionID).
		First(&question).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get question", "error", err, "question_id", questionID, "session_id", sessionID)
		return nil, err
	}
	return &question, nil
}

func (r *GORMRepository) GetQuestionByIdx(ctx context.Context, sessionID string, idx int) (*models.Question, error) {
	var question models.Question
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND idx = ?", sessionID, idx).
		First(&question).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get question by idx", "error", err, "session_id", sessionID, "idx", idx)
		return nil, err
	}
	return &question, nil
}

func (r *GORMRepository) GetQuestions(ctx context.Context, sessionID string) ([]models.Question, error) {
	var questions []models.Question
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("idx").
		Find(&questions).Error
	if err != nil {
		slog.Error("Failed to get questions", "error", err, "session_id", sessionID)
		return nil, err
	}
	return questions, nil
}

// CreateAnswer stores an answer. The unique index on question_id turns a
// concurrent duplicate into ErrDuplicateAnswer so exactly one answer wins.
func (r *GORMRepository) CreateAnswer(ctx context.Context, answer *models.Answer) error {
	if err := r.db.WithContext(ctx).Create(answer).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateAnswer
		}
		slog.Error("Failed to create answer", "error", err, "question_id", answer.QuestionID)
		return err
	}
	slog.Info("Answer created", "answer_id", answer.ID, "session_id", answer.SessionID, "question_id", answer.QuestionID)
	return nil
}

func (r *GORMRepository) GetAnswerByQuestion(ctx context.Context, questionID string) (*models.Answer, error) {
	var answer models.Answer
	err := r.db.WithContext(ctx).Where("question_id = ?", questionID).First(&answer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get answer by question", "error", err, "question_id", questionID)
		return nil, err
	}
	return &answer, nil
}

func (r *GORMRepository) GetAnswers(ctx context.Context, sessionID string) ([]models.Answer, error) {
	var answers []models.Answer
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at").
		Find(&answers).Error
	if err != nil {
		slog.Error("Failed to get answers", "error", err, "session_id", sessionID)
		return nil, err
	}
	return answers, nil
}

func (r *GORMRepository) CountAnswers(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Answer{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		slog.Error("Failed to count answers", "error", err, "session_id", sessionID)
		return 0, err
	}
	return count, nil
}

// CompleteSession writes the terminal state of a session: status, report
// blob, score, completion time and the final questions-asked count. Only an
// active session can transition, so a racing or repeated complete is a no-op.
func (r *GORMRepository) CompleteSession(ctx context.Context, session *models.Session) error {
	updates := map[string]interface{}{
		"status":          session.Status,
		"overall_score":   session.OverallScore,
		"report_json":     session.ReportJSON,
		"completed_at":    session.CompletedAt,
		"questions_asked": session.QuestionsAsked,
	}
	if err := r.db.WithContext(ctx).Model(&models.Session{}).Where("id = ? AND status = ?", session.ID, models.StatusActive).Updates(updates).Error; err != nil {
		slog.Error("Failed to complete session", "error", err, "session_id", session.ID)
		return err
	}
	slog.Info("Session completed", "session_id", session.ID, "status", session.Status)
	return nil
}

func (r *GORMRepository) MarkAbandoned(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.StatusActive).
		Update("status", models.StatusAbandoned).Error
	if err != nil {
		slog.Error("Failed to mark session abandoned", "error", err, "session_id", sessionID)
		return err
	}
	slog.Info("Session abandoned", "session_id", sessionID)
	return nil
}

// GetIdleActiveSessions returns active sessions with no updates since the
// cutoff. The abandon sweeper decides which of them had zero activity.
func (r *GORMRepository) GetIdleActiveSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusActive, cutoff).
		Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to get idle active sessions", "error", err)
		return nil, err
	}
	return sessions, nil
}
