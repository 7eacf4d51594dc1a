// Package ws implements the WebSocket chat endpoint. A client connects with
// its conversation credentials, then exchanges JSON frames: each "send" frame
// runs the send protocol and receives a "reply", "busy", or "error" frame.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/coder/websocket"

	"github.com/stealth-studios/sdk-framework-basic/internal/chat"
	"github.com/stealth-studios/sdk-framework-basic/internal/config"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
)

// Frame types exchanged over the chat socket.
const (
	FrameSend   = "send"
	FrameReply  = "reply"
	FrameBusy   = "busy"
	FrameError  = "error"
	FrameFinish = "finish"
)

// ClientFrame is a message from the client.
type ClientFrame struct {
	Type    string            `json:"type"`
	Message string            `json:"message,omitempty"`
	UserID  string            `json:"user_id,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

// ServerFrame is a message to the client.
type ServerFrame struct {
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`
	Calls     []llm.ToolCall `json:"calls,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Server upgrades HTTP connections and bridges frames to the engine.
type Server struct {
	engine *chat.Engine
	cfg    *config.WebSocketGatewayConfig
	logger *slog.Logger
}

// NewServer creates a WebSocket chat server over the conversation engine.
func NewServer(engine *chat.Engine, cfg *config.WebSocketGatewayConfig, logger *slog.Logger) *Server {
	return &Server{engine: engine, cfg: cfg, logger: logger}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// The conversation is bound at upgrade time. The secret doubles as the
	// credential; an ID alone is not enough to attach to a conversation.
	secret := r.URL.Query().Get("secret")
	if secret == "" {
		http.Error(w, "secret is required", http.StatusUnauthorized)
		return
	}

	conv, err := s.engine.GetConversationBy(r.Context(), chat.Query{Secret: secret})
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		http.Error(w, "conversation lookup failed", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"character-chat-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn, conv)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, conv *chat.Conversation) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	s.logger.Info("chat socket opened", slog.String("conversation_id", conv.ID))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("chat socket closed", slog.String("conversation_id", conv.ID))
			} else {
				s.logger.Warn("chat socket error",
					slog.String("conversation_id", conv.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeFrame(ctx, conn, &ServerFrame{Type: FrameError, Message: "invalid frame"})
			continue
		}

		s.handleFrame(ctx, conn, conv, &frame)
	}
}

func (s *Server) handleFrame(ctx context.Context, conn *websocket.Conn, conv *chat.Conversation, frame *ClientFrame) {
	switch frame.Type {
	case FrameSend:
		if frame.Message == "" {
			s.writeFrame(ctx, conn, &ServerFrame{Type: FrameError, Message: "message is required"})
			return
		}

		result, err := s.engine.SendMessage(ctx, conv, frame.Message, frame.UserID, contextEntries(frame.Context))
		if err != nil {
			if errors.Is(err, chat.ErrConversationBusy) {
				s.writeFrame(ctx, conn, &ServerFrame{Type: FrameBusy, Message: "Conversation is busy"})
				return
			}
			s.writeFrame(ctx, conn, &ServerFrame{Type: FrameError, Message: "send failed"})
			return
		}

		s.writeFrame(ctx, conn, &ServerFrame{
			Type:      FrameReply,
			Content:   result.Content,
			Calls:     result.Calls,
			Cancelled: result.Cancelled,
		})

	case FrameFinish:
		s.engine.FinishConversation(conv)
		s.writeFrame(ctx, conn, &ServerFrame{Type: FrameFinish})

	default:
		s.logger.Warn("unknown frame type from client",
			slog.String("conversation_id", conv.ID),
			slog.String("type", frame.Type),
		)
		s.writeFrame(ctx, conn, &ServerFrame{Type: FrameError, Message: "unknown frame type"})
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame *ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("frame write failed", slog.String("error", err.Error()))
	}
}

// contextEntries converts the wire context map into ordered entries. Keys are
// sorted so the rendered context block is stable across frames.
func contextEntries(m map[string]string) []chat.ContextEntry {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]chat.ContextEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, chat.ContextEntry{Key: k, Value: m[k]})
	}
	return entries
}
