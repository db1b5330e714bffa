package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mocktalk/backend/repository"
)

const (
	DefaultAbandonAfter  = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// AbandonService sweeps active sessions that never produced an answer or a
// transcript turn and moves them to abandoned. Sessions with any recorded
// activity are left alone: they stay active until finished, left, or
// disconnected.
type AbandonService struct {
	repo         *repository.GORMRepository
	orchestrator *Orchestrator
	abandonAfter time.Duration
	interval     time.Duration
	stop         chan struct{}
}

func NewAbandonService(repo *repository.GORMRepository, orchestrator *Orchestrator, abandonAfter, interval time.Duration) *AbandonService {
	if abandonAfter <= 0 {
		abandonAfter = DefaultAbandonAfter
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &AbandonService{
		repo:         repo,
		orchestrator: orchestrator,
		abandonAfter: abandonAfter,
		interval:     interval,
		stop:         make(chan struct{}),
	}
}

func (s *AbandonService) Start() {
	go s.run()
	slog.Info("Abandon sweeper started", "abandon_after", s.abandonAfter, "interval", s.interval)
}

func (s *AbandonService) Stop() {
	close(s.stop)
}

func (s *AbandonService) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep runs one pass. Exported so a deployment can trigger it on demand.
func (s *AbandonService) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.abandonAfter)

	sessions, err := s.repo.GetIdleActiveSessions(ctx, cutoff)
	if err != nil {
		slog.Error("Failed to list idle sessions", "error", err)
		return
	}

	abandoned := 0
	for _, session := range sessions {
		ok, err := s.orchestrator.AbandonIfIdle(ctx, session.ID)
		if err != nil {
			slog.Error("Failed to abandon idle session", "error", err, "session_id", session.ID)
			continue
		}
		if ok {
			abandoned++
			slog.Info("Idle session abandoned", "session_id", session.ID, "created_at", session.CreatedAt)
		}
	}

	if abandoned > 0 {
		slog.Info("Abandon sweep completed", "candidates", len(sessions), "abandoned", abandoned)
	}
}
