package services

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/mocktalk/backend/models"
	"github.com/mocktalk/backend/repository"
	ws "github.com/mocktalk/backend/websocket"
	"gorm.io/gorm"
)

// Server holds all server dependencies
type Server struct {
	config             *Config
	db                 *gorm.DB
	repo               *repository.GORMRepository
	transcriptRepo     *repository.TranscriptRepository
	provider           GenerationProvider
	transcripts        *TranscriptStore
	orchestrator       *Orchestrator
	identityService    *IdentityService
	abandonService     *AbandonService
	interviewEndpoints *InterviewEndpoints
	websocketHandler   *WebSocketHandler
	wsHub              *ws.Hub
	upgrader           websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(db *gorm.DB) {
	s.db = db
	s.repo = repository.NewGORMRepository(db)
	s.transcriptRepo = repository.NewTranscriptRepository(db)
}

// InitializeServices wires the service graph. The provider is optional: with
// no API key configured every generation degrades to the deterministic
// fallbacks and the server still runs.
func (s *Server) InitializeServices() error {
	if s.config.AI.GeminiAPIKey != "" {
		s.provider = NewGeminiProvider(s.config.AI.GeminiAPIKey, s.config.AI.ProviderTimeout)
		slog.Info("Gemini provider initialized")
	} else {
		slog.Warn("No Gemini API key configured, running on deterministic fallbacks")
	}

	s.transcripts = NewTranscriptStore(s.transcriptRepo, s.config.Session.FlushTimeout)

	evaluator := NewAnswerEvaluator(s.provider)
	synthesizer := NewReportSynthesizer(s.provider)
	s.orchestrator = NewOrchestrator(s.repo, s.transcripts, evaluator, synthesizer, s.provider, s.config.Session.FinalizeWait)

	s.identityService = NewIdentityService(s.config.JWT.Secret)
	s.interviewEndpoints = NewInterviewEndpoints(s.repo, s.orchestrator)
	s.websocketHandler = NewWebSocketHandler(s.orchestrator)

	s.abandonService = NewAbandonService(s.repo, s.orchestrator, s.config.Session.AbandonAfter, s.config.Session.SweepInterval)
	s.abandonService.Start()

	s.wsHub = ws.NewHub()
	go s.wsHub.Run()

	return nil
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.identityService.Middleware)

		r.Get("/ws", s.websocketHandlerFunc)
		s.interviewEndpoints.RegisterRoutes(r)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	// Graceful shutdown
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	if s.abandonService != nil {
		s.abandonService.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// checkOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func checkOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	allowedOrigins := strings.Split(allowedOriginsStr, ",")
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}

	for _, allowed := range allowedOrigins {
		if allowed == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if err := sqlDB.Ping(); err != nil {
				dbStatus = "down"
				status = "degraded"
			} else {
				dbStatus = "up"
			}
		} else {
			dbStatus = "down"
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"` + status + `","database":"` + dbStatus + `"}`))
}

// websocketHandlerFunc attaches a voice client to an existing session. The
// session must exist, be active and be in voice mode before the upgrade.
func (s *Server) websocketHandlerFunc(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	session, err := s.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session for websocket", "error", err, "session_id", sessionID)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if session.Mode != models.ModeVoice {
		http.Error(w, "only voice sessions accept a websocket", http.StatusConflict)
		return
	}
	if session.Status != models.StatusActive {
		http.Error(w, "session is not active", http.StatusConflict)
		return
	}

	callerID := CallerID(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := s.wsHub.RegisterClient(conn, callerID, sessionID)
	client.MessageHandler = s.websocketHandler.HandleMessage
	client.CloseHandler = s.websocketHandler.HandleDisconnect

	go client.WritePump()
	go client.ReadPump()

	s.websocketHandler.HandleConnection(client)
}
