package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mocktalk/backend/apperrors"
	ws "github.com/mocktalk/backend/websocket"
)

// WebSocketHandler bridges the voice transport to the session orchestrator.
// Inbound turn frames feed the transcript; a leave frame or a dropped
// connection triggers finalization through the same path.
type WebSocketHandler struct {
	orchestrator *Orchestrator
}

func NewWebSocketHandler(orchestrator *Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{orchestrator: orchestrator}
}

// HandleConnection opens the voice flow: on first attach the interviewer's
// greeting turn is appended and streamed to the client; on a reconnect the
// ack alone tells the client where its seq numbering resumes.
func (h *WebSocketHandler) HandleConnection(client *ws.Client) {
	ctx := context.Background()

	greeting, nextSeq, err := h.orchestrator.OpenVoiceSession(ctx, client.SessionID)
	if err != nil {
		slog.Error("Failed to open voice session", "error", err, "session_id", client.SessionID)
		client.SendMessage(ws.Message{Type: "error", Error: "session unavailable"})
		return
	}

	if greeting != "" {
		client.SendMessage(ws.Message{Type: "turn", Seq: nextSeq - 1, Speaker: "interviewer", Text: greeting})
	}
	client.SendMessage(ws.Message{Type: "ack", Seq: nextSeq - 1})
	slog.Info("Voice connection established", "session_id", client.SessionID, "caller_id", client.CallerID, "next_seq", nextSeq)
}

func (h *WebSocketHandler) HandleMessage(client *ws.Client, messageBytes []byte) {
	var msg ws.Message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		slog.Error("Failed to unmarshal WebSocket message", "error", err, "session_id", client.SessionID)
		client.SendMessage(ws.Message{Type: "error", Error: "malformed frame"})
		return
	}

	switch msg.Type {
	case "turn":
		h.handleTurn(client, msg)
	case "leave":
		h.finalize(client, true)
	default:
		slog.Warn("Unknown message type", "type", msg.Type, "session_id", client.SessionID)
		client.SendMessage(ws.Message{Type: "error", Error: "unknown message type"})
	}
}

// HandleDisconnect runs when the read loop exits without a prior leave. A
// dropped connection finalizes the session exactly like an explicit leave.
func (h *WebSocketHandler) HandleDisconnect(client *ws.Client) {
	h.finalize(client, false)
}

func (h *WebSocketHandler) handleTurn(client *ws.Client, msg ws.Message) {
	ctx := context.Background()

	asked, total, err := h.orchestrator.AppendTurn(ctx, client.SessionID, msg.Seq, msg.Speaker, msg.Text, msg.IsQuestion)
	if err != nil {
		appErr := apperrors.As(err)
		slog.Warn("Turn rejected", "session_id", client.SessionID, "seq", msg.Seq, "error", err)
		client.SendMessage(ws.Message{Type: "error", Seq: msg.Seq, Error: appErr.Message})
		return
	}

	client.SendMessage(ws.Message{
		Type:           "ack",
		Seq:            msg.Seq,
		QuestionsAsked: asked,
		QuestionsTotal: total,
	})
}

func (h *WebSocketHandler) finalize(client *ws.Client, explicit bool) {
	ctx := context.Background()

	err := h.orchestrator.LeaveOrDisconnect(ctx, client.SessionID)
	switch {
	case err == nil:
		client.SendMessage(ws.Message{Type: "report_status", Status: ReportReady})
		slog.Info("Voice session finalized over websocket", "session_id", client.SessionID, "explicit_leave", explicit)
	case apperrors.IsKind(err, apperrors.KindPersistenceTimeout):
		client.SendMessage(ws.Message{Type: "report_status", Status: ReportFinalizing})
		slog.Warn("Voice session still finalizing", "session_id", client.SessionID, "explicit_leave", explicit)
	case apperrors.IsKind(err, apperrors.KindInvalidState), apperrors.IsKind(err, apperrors.KindNotFound):
		// Already terminal or never existed; nothing to do on disconnect.
		slog.Info("Finalize skipped", "session_id", client.SessionID, "error", err)
	default:
		slog.Error("Failed to finalize voice session", "error", err, "session_id", client.SessionID)
		client.SendMessage(ws.Message{Type: "error", Error: "finalize failed"})
	}
}
