package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mocktalk/backend/models"
	"gorm.io/gorm"
)

// TranscriptRepository persists voice-mode transcript turns. It is the
// durable side of the transcript store: the in-memory buffer in services
// flushes through it.
type TranscriptRepository struct {
	db *gorm.DB
}

func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// AppendTurns writes a batch of turns in one transaction. Either the whole
// batch is durable or none of it is, which is what the flush ack relies on.
func (r *TranscriptRepository) AppendTurns(ctx context.Context, turns []models.TranscriptTurn) error {
	if len(turns) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&turns).Error
	})
	if err != nil {
		slog.Error("Failed to append transcript turns", "error", err, "session_id", turns[0].SessionID, "count", len(turns))
		return fmt.Errorf("failed to append transcript turns: %w", err)
	}
	slog.Info("Transcript turns appended", "session_id", turns[0].SessionID, "count", len(turns))
	return nil
}

// GetTurns returns the full transcript in sequence order.
func (r *TranscriptRepository) GetTurns(ctx context.Context, sessionID string) ([]models.TranscriptTurn, error) {
	var turns []models.TranscriptTurn
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq").
		Find(&turns).Error
	if err != nil {
		slog.Error("Failed to get transcript turns", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get transcript turns: %w", err)
	}
	return turns, nil
}

// MaxSeq returns the highest durable sequence number for a session, or 0.
func (r *TranscriptRepository) MaxSeq(ctx context.Context, sessionID string) (int, error) {
	var maxSeq *int
	err := r.db.WithContext(ctx).
		Model(&models.TranscriptTurn{}).
		Where("session_id = ?", sessionID).
		Select("MAX(seq)").
		Scan(&maxSeq).Error
	if err != nil {
		slog.Error("Failed to get max turn seq", "error", err, "session_id", sessionID)
		return 0, fmt.Errorf("failed to get max turn seq: %w", err)
	}
	if maxSeq == nil {
		return 0, nil
	}
	return *maxSeq, nil
}

// CountTurns returns the number of durable turns for a session.
func (r *TranscriptRepository) CountTurns(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TranscriptTurn{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		slog.Error("Failed to count transcript turns", "error", err, "session_id", sessionID)
		return 0, fmt.Errorf("failed to count transcript turns: %w", err)
	}
	return count, nil
}
