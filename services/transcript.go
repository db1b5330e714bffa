package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mocktalk/backend/apperrors"
	"github.com/mocktalk/backend/models"
	"github.com/mocktalk/backend/repository"
)

const defaultFlushTimeout = 750 * time.Millisecond

// TranscriptStore is the append-only log of voice-mode turns. Turns are
// buffered in memory in accepted order and made durable by Flush. Turn order
// is the order the store accepts, enforced through strictly increasing
// per-session sequence numbers supplied by the caller; out-of-sequence
// writes are rejected rather than silently misordered.
type TranscriptStore struct {
	repo         *repository.TranscriptRepository
	flushTimeout time.Duration

	mu      sync.Mutex
	buffers map[string]*transcriptBuffer
	frozen  map[string]struct{}
}

type transcriptBuffer struct {
	lastSeq int
	pending []models.TranscriptTurn
}

func NewTranscriptStore(repo *repository.TranscriptRepository, flushTimeout time.Duration) *TranscriptStore {
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	return &TranscriptStore{
		repo:         repo,
		flushTimeout: flushTimeout,
		buffers:      make(map[string]*transcriptBuffer),
		frozen:       make(map[string]struct{}),
	}
}

// Append accepts one turn into the session's buffer. The sequence number
// must be strictly greater than the last accepted one.
func (s *TranscriptStore) Append(ctx context.Context, turn models.TranscriptTurn) error {
	if turn.Speaker != models.SpeakerInterviewer && turn.Speaker != models.SpeakerCandidate {
		return apperrors.Validation("speaker", fmt.Sprintf("unknown speaker %q", turn.Speaker))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.frozen[turn.SessionID]; done {
		return apperrors.InvalidState(models.StatusCompleted, "transcript is frozen")
	}

	buf := s.buffers[turn.SessionID]
	if buf == nil {
		lastSeq, err := s.repo.MaxSeq(ctx, turn.SessionID)
		if err != nil {
			return err
		}
		buf = &transcriptBuffer{lastSeq: lastSeq}
		s.buffers[turn.SessionID] = buf
	}
	if turn.Seq <= buf.lastSeq {
		return apperrors.Conflict(turn.SessionID,
			fmt.Sprintf("out-of-sequence turn: seq %d not after %d", turn.Seq, buf.lastSeq))
	}

	buf.lastSeq = turn.Seq
	buf.pending = append(buf.pending, turn)
	slog.Debug("Transcript turn buffered", "session_id", turn.SessionID, "seq", turn.Seq, "speaker", turn.Speaker)
	return nil
}

// Flush writes all buffered turns durably. The write is bounded by the
// configured flush timeout; on timeout the turns stay buffered and the
// caller gets a persistence-timeout error it can surface as "finalizing".
// The write itself continues independently of the caller's context.
func (s *TranscriptStore) Flush(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	buf := s.buffers[sessionID]
	if buf == nil || len(buf.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	pending := buf.pending
	buf.pending = nil
	timeout := s.flushTimeout
	s.mu.Unlock()

	// Persistence runs on its own context so a cancelled report read
	// cannot abort an in-flight write.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.repo.AppendTurns(writeCtx, pending); err != nil {
		s.mu.Lock()
		buf.pending = append(pending, buf.pending...)
		s.mu.Unlock()
		if writeCtx.Err() != nil {
			slog.Warn("Transcript flush timed out", "session_id", sessionID, "pending", len(pending))
			return apperrors.PersistenceTimeout(sessionID)
		}
		return err
	}
	slog.Info("Transcript flushed", "session_id", sessionID, "turns", len(pending))
	return nil
}

// Freeze marks the transcript immutable. Frozenness outlives the buffer, so
// a Release afterwards cannot reopen the transcript for writes.
func (s *TranscriptStore) Freeze(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen[sessionID] = struct{}{}
}

// Release drops the in-memory buffer for a finalized session.
func (s *TranscriptStore) Release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, sessionID)
}

// Read returns the full transcript in sequence order: durable turns first,
// then any still-buffered ones.
func (s *TranscriptStore) Read(ctx context.Context, sessionID string) ([]models.TranscriptTurn, error) {
	durable, err := s.repo.GetTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if buf := s.buffers[sessionID]; buf != nil && len(buf.pending) > 0 {
		durable = append(durable, buf.pending...)
	}
	return durable, nil
}

// PendingCount reports how many buffered turns await a flush.
func (s *TranscriptStore) PendingCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf := s.buffers[sessionID]; buf != nil {
		return len(buf.pending)
	}
	return 0
}
