package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/jkaninda/okapi"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
	"github.com/stealth-studios/sdk-framework-basic/internal/chat"
	"github.com/stealth-studios/sdk-framework-basic/internal/mcp"
)

// CharacterRequest is the JSON body for POST /v1/characters. It is the full
// character definition; the hash is derived server-side.
type CharacterRequest struct {
	Character character.Character `json:"character"`
}

// CharacterResponse is the JSON response after registering a character.
type CharacterResponse struct {
	Hash string `json:"hash"`
}

// ConversationCreateRequest is the JSON body for POST /v1/conversations.
type ConversationCreateRequest struct {
	Character        character.Character `json:"character"`
	Users            []chat.User         `json:"users"`
	PersistenceToken string              `json:"persistence_token,omitempty"`
}

// ConversationResponse describes a conversation to API clients.
type ConversationResponse struct {
	ID               string      `json:"id"`
	Secret           string      `json:"secret"`
	CharacterHash    string      `json:"character_hash"`
	Users            []chat.User `json:"users"`
	PersistenceToken string      `json:"persistence_token,omitempty"`
	Busy             bool        `json:"busy"`
	Finished         bool        `json:"finished"`
}

// SendRequest is the JSON body for POST /v1/conversations/{id}/send.
type SendRequest struct {
	Message string            `json:"message"`
	UserID  string            `json:"user_id"`
	Context map[string]string `json:"context,omitempty"`
}

// SetCharacterRequest is the JSON body for POST /v1/conversations/{id}/character.
type SetCharacterRequest struct {
	Character character.Character `json:"character"`
}

// SetUsersRequest is the JSON body for POST /v1/conversations/{id}/users.
type SetUsersRequest struct {
	Users []chat.User `json:"users"`
}

// ToolCallRequest is the JSON body for POST /v1/tools/call. Name is the
// namespaced function name as returned in a SendResult.
type ToolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResponse carries the tool output back to the caller.
type ToolCallResponse struct {
	Content string `json:"content"`
}

// BusyBody is returned with HTTP 429 when the conversation rejects a request.
type BusyBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func busyResponse(c *okapi.Context) error {
	return c.JSON(http.StatusTooManyRequests, BusyBody{
		Status:  http.StatusTooManyRequests,
		Message: "Conversation is busy",
	})
}

func conversationResponse(conv *chat.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:               conv.ID,
		Secret:           conv.Secret,
		CharacterHash:    conv.CharacterHash(),
		Users:            conv.Users(),
		PersistenceToken: conv.PersistenceToken,
		Busy:             conv.Busy(),
		Finished:         conv.Finished(),
	}
}

// contextEntries converts the wire context map into ordered entries. Keys are
// sorted so the rendered context block is stable across requests.
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

func (g *Gateway) handleCharacterCreate(c *okapi.Context) error {
	var req CharacterRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Character.Name == "" {
		return c.AbortBadRequest("character name is required")
	}
	if err := g.allow(c, "characters"); err != nil {
		return err
	}

	hash, err := g.engine.GetOrCreateCharacter(c.Context(), &req.Character)
	if err != nil {
		g.logger.Error("character registration failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("character registration failed")
	}
	return c.JSON(http.StatusCreated, CharacterResponse{Hash: hash})
}

func (g *Gateway) handleCharacterGet(c *okapi.Context) error {
	hash := c.Param("hash")
	if hash == "" {
		return c.AbortBadRequest("hash is required")
	}

	char, err := g.engine.LoadCharacter(c.Context(), hash)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "character not found"})
		}
		return c.AbortInternalServerError("character lookup failed")
	}
	return c.OK(char)
}

func (g *Gateway) handleConversationCreate(c *okapi.Context) error {
	var req ConversationCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Character.Name == "" {
		return c.AbortBadRequest("character is required")
	}
	if err := g.allow(c, req.PersistenceToken); err != nil {
		return err
	}

	conv, err := g.engine.CreateConversation(c.Context(), &req.Character, req.Users, req.PersistenceToken)
	if err != nil {
		g.logger.Error("conversation creation failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("conversation creation failed")
	}
	return c.JSON(http.StatusCreated, conversationResponse(conv))
}

func (g *Gateway) handleConversationGet(c *okapi.Context) error {
	params := c.Request().URL.Query()
	q := chat.Query{
		ID:               params.Get("id"),
		Secret:           params.Get("secret"),
		PersistenceToken: params.Get("persistence_token"),
	}
	if q.ID == "" && q.Secret == "" && q.PersistenceToken == "" {
		return c.AbortBadRequest("one of id, secret, or persistence_token is required")
	}

	conv, err := g.engine.GetConversationBy(c.Context(), q)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		return c.AbortInternalServerError("conversation lookup failed")
	}
	return c.OK(conversationResponse(conv))
}

func (g *Gateway) handleSend(c *okapi.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}
	if err := g.allow(c, req.UserID); err != nil {
		return err
	}

	conv, err := g.engine.GetConversationBy(c.Context(), chat.Query{ID: c.Param("id")})
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		return c.AbortInternalServerError("conversation lookup failed")
	}

	result, err := g.engine.SendMessage(c.Context(), conv, req.Message, req.UserID, contextEntries(req.Context))
	if err != nil {
		if errors.Is(err, chat.ErrConversationBusy) {
			return busyResponse(c)
		}
		return c.AbortInternalServerError("send failed")
	}
	return c.OK(result)
}

func (g *Gateway) handleSetCharacter(c *okapi.Context) error {
	var req SetCharacterRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Character.Name == "" {
		return c.AbortBadRequest("character is required")
	}

	conv, err := g.engine.GetConversationBy(c.Context(), chat.Query{ID: c.Param("id")})
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		return c.AbortInternalServerError("conversation lookup failed")
	}

	if err := g.engine.SetConversationCharacter(c.Context(), conv, &req.Character); err != nil {
		if errors.Is(err, chat.ErrConversationBusy) {
			return busyResponse(c)
		}
		g.logger.Error("character swap failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("character swap failed")
	}
	return c.OK(conversationResponse(conv))
}

func (g *Gateway) handleSetUsers(c *okapi.Context) error {
	var req SetUsersRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	conv, err := g.engine.GetConversationBy(c.Context(), chat.Query{ID: c.Param("id")})
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		return c.AbortInternalServerError("conversation lookup failed")
	}

	if err := g.engine.SetConversationUsers(c.Context(), conv, req.Users); err != nil {
		if errors.Is(err, chat.ErrConversationBusy) {
			return busyResponse(c)
		}
		g.logger.Error("user update failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("user update failed")
	}
	return c.OK(conversationResponse(conv))
}

func (g *Gateway) handleFinish(c *okapi.Context) error {
	conv, err := g.engine.GetConversationBy(c.Context(), chat.Query{ID: c.Param("id")})
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		return c.AbortInternalServerError("conversation lookup failed")
	}

	g.engine.FinishConversation(conv)
	return c.OK(okapi.M{"status": "finished"})
}

func (g *Gateway) handleToolCall(c *okapi.Context) error {
	var req ToolCallRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Name == "" {
		return c.AbortBadRequest("name is required")
	}
	if err := g.allow(c, "tools"); err != nil {
		return err
	}

	content, err := g.tools.Call(c.Context(), req.Name, req.Arguments)
	if err != nil {
		if errors.Is(err, mcp.ErrUnknownTool) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "unknown tool"})
		}
		g.logger.Error("tool call failed",
			slog.String("tool", req.Name),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("tool call failed")
	}
	return c.OK(ToolCallResponse{Content: content})
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
