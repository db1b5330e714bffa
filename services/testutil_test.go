package services

import (
	"context"
	"testing"
	"time"

	"github.com/mocktalk/backend/apperrors"
	"github.com/mocktalk/backend/models"
	"github.com/mocktalk/backend/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with the full schema. The
// pool is pinned to one connection so every query sees the same memory store.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access test database pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := repository.NewGORMRepository(db).AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// stubProvider implements GenerationProvider with per-method hooks. A nil
// hook behaves like an outage, which exercises the fallback paths.
type stubProvider struct {
	questions      func(jobTitle, seniority, language string, count int) ([]QuestionDraft, error)
	evaluate       func(question *models.Question, answerText string) (*Evaluation, error)
	fromAnswers    func(rc *AnswerReportContext) (*ReportDraft, error)
	fromTranscript func(rc *TranscriptReportContext) (*ReportDraft, error)
}

func (p *stubProvider) GenerateQuestions(ctx context.Context, jobTitle, seniority, language string, count int) ([]QuestionDraft, error) {
	if p.questions == nil {
		return nil, apperrors.ProviderUnavailable(nil)
	}
	return p.questions(jobTitle, seniority, language, count)
}

func (p *stubProvider) EvaluateAnswer(ctx context.Context, question *models.Question, answerText, jobTitle, seniority string) (*Evaluation, error) {
	if p.evaluate == nil {
		return nil, apperrors.ProviderUnavailable(nil)
	}
	return p.evaluate(question, answerText)
}

func (p *stubProvider) SynthesizeFromAnswers(ctx context.Context, rc *AnswerReportContext) (*ReportDraft, error) {
	if p.fromAnswers == nil {
		return nil, apperrors.ProviderUnavailable(nil)
	}
	return p.fromAnswers(rc)
}

func (p *stubProvider) SynthesizeFromTranscript(ctx context.Context, rc *TranscriptReportContext) (*ReportDraft, error) {
	if p.fromTranscript == nil {
		return nil, apperrors.ProviderUnavailable(nil)
	}
	return p.fromTranscript(rc)
}

type testEnv struct {
	db           *gorm.DB
	repo         *repository.GORMRepository
	transcripts  *TranscriptStore
	orchestrator *Orchestrator
}

func newTestEnv(t *testing.T, provider GenerationProvider) *testEnv {
	t.Helper()

	db := newTestDB(t)
	repo := repository.NewGORMRepository(db)
	transcripts := NewTranscriptStore(repository.NewTranscriptRepository(db), 2*time.Second)
	evaluator := NewAnswerEvaluator(provider)
	synthesizer := NewReportSynthesizer(provider)
	orchestrator := NewOrchestrator(repo, transcripts, evaluator, synthesizer, provider, 500*time.Millisecond)

	return &testEnv{
		db:           db,
		repo:         repo,
		transcripts:  transcripts,
		orchestrator: orchestrator,
	}
}

func textSessionParams() CreateSessionParams {
	return CreateSessionParams{
		CallerID:      "caller-1",
		JobTitle:      "Backend Engineer",
		Seniority:     models.SeniorityMid,
		Language:      "en",
		Mode:          models.ModeText,
		QuestionCount: 3,
	}
}

func voiceSessionParams() CreateSessionParams {
	p := textSessionParams()
	p.Mode = models.ModeVoice
	p.QuestionCount = 4
	return p
}

func mustKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if !apperrors.IsKind(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}
