package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
	"github.com/stealth-studios/sdk-framework-basic/internal/observability"
)

const (
	defaultMemorySize  = 15
	defaultFinishGrace = 60 * time.Second
)

// SendResult is the outcome of a send. On internal failure Content is empty
// and Cancelled is set; the conversation stays usable for a retry.
type SendResult struct {
	Content   string         `json:"content"`
	Calls     []llm.ToolCall `json:"calls"`
	Cancelled bool           `json:"cancelled,omitempty"`
}

// Engine is the conversation orchestrator: it owns the character registry,
// tracks live sessions, runs the send protocol against the model provider,
// and drives the two-phase finish.
type Engine struct {
	store    Store
	registry *character.Registry
	provider llm.Provider
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer

	memorySize  int
	maxTokens   int
	finishGrace time.Duration
	extraFuncs  []character.Function

	mu       sync.Mutex
	sessions map[string]*Conversation
}

// Option configures the engine.
type Option func(*Engine)

// WithMemorySize sets the context window budget (persona slot included).
func WithMemorySize(n int) Option {
	return func(e *Engine) { e.memorySize = n }
}

// WithMaxTokens caps the model's output tokens per request.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithFinishGrace sets the delay between logical finish and store removal.
func WithFinishGrace(d time.Duration) Option {
	return func(e *Engine) { e.finishGrace = d }
}

// WithExtraFunctions declares functions offered to the model on every send in
// addition to the character's own, e.g. tools discovered from MCP servers.
func WithExtraFunctions(funcs []character.Function) Option {
	return func(e *Engine) { e.extraFuncs = funcs }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches a tracer for spans around the model call.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an orchestrator over the given store and provider.
func NewEngine(store Store, provider llm.Provider, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		registry:    character.NewRegistry(logger),
		provider:    provider,
		logger:      logger,
		tracer:      noop.NewTracerProvider().Tracer("chat"),
		memorySize:  defaultMemorySize,
		finishGrace: defaultFinishGrace,
		sessions:    make(map[string]*Conversation),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetOrCreateCharacter registers the character, persisting it on first sight.
// Returns the content hash either way.
func (e *Engine) GetOrCreateCharacter(ctx context.Context, c *character.Character) (string, error) {
	hash := c.Hash()
	if e.registry.Contains(hash) {
		return hash, nil
	}

	stored, err := e.store.GetCharacter(ctx, hash)
	switch {
	case err == nil:
		e.registry.GetOrAdd(stored)
		return hash, nil
	case !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("looking up character: %w", err)
	}

	if _, err := e.store.CreateCharacter(ctx, c); err != nil {
		return "", fmt.Errorf("storing character: %w", err)
	}
	e.registry.GetOrAdd(c)
	e.logger.Info("character created",
		slog.String("name", c.Name),
		slog.String("hash", hash),
	)
	return hash, nil
}

// LoadCharacter resolves a character by hash: registry first, store on miss
// (caching the result). Absence in both is an error.
func (e *Engine) LoadCharacter(ctx context.Context, hash string) (*character.Character, error) {
	if c, ok := e.registry.Get(hash); ok {
		return c, nil
	}
	c, err := e.store.GetCharacter(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("loading character %s: %w", hash, err)
	}
	return e.registry.GetOrAdd(c), nil
}

// ContainsCharacter reports whether the character is known to the registry
// or the store.
func (e *Engine) ContainsCharacter(ctx context.Context, hash string) bool {
	if e.registry.Contains(hash) {
		return true
	}
	_, err := e.store.GetCharacter(ctx, hash)
	return err == nil
}

// CreateConversation opens a new conversation pairing the character with the
// given participants, writing the persona prompt as the first message.
func (e *Engine) CreateConversation(ctx context.Context, c *character.Character, users []User, persistenceToken string) (*Conversation, error) {
	hash, err := e.GetOrCreateCharacter(ctx, c)
	if err != nil {
		return nil, err
	}

	rec, err := e.store.CreateConversation(ctx, &ConversationRecord{
		CharacterHash:    hash,
		Users:            users,
		PersistenceToken: persistenceToken,
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	persona := Message{Role: llm.RoleSystem, Content: character.PersonaPrompt(c)}
	if err := e.store.AddMessage(ctx, rec.ID, persona); err != nil {
		return nil, fmt.Errorf("writing persona message: %w", err)
	}

	conv := &Conversation{
		ID:               rec.ID,
		Secret:           rec.Secret,
		PersistenceToken: rec.PersistenceToken,
		characterHash:    hash,
		users:            users,
	}

	e.mu.Lock()
	e.sessions[conv.ID] = conv
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ConversationOpened()
	}
	e.logger.Info("conversation created",
		slog.String("conversation_id", conv.ID),
		slog.String("character", hash),
		slog.Int("users", len(users)),
	)
	return conv, nil
}

// GetConversationBy resolves a conversation by id, secret, or persistence
// token, rehydrating a session from the store when none is live.
func (e *Engine) GetConversationBy(ctx context.Context, q Query) (*Conversation, error) {
	if q.ID != "" {
		e.mu.Lock()
		conv, ok := e.sessions[q.ID]
		e.mu.Unlock()
		if ok {
			return conv, nil
		}
	}

	rec, err := e.store.GetConversationBy(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if conv, ok := e.sessions[rec.ID]; ok {
		return conv, nil
	}
	conv := &Conversation{
		ID:               rec.ID,
		Secret:           rec.Secret,
		PersistenceToken: rec.PersistenceToken,
		characterHash:    rec.CharacterHash,
		users:            rec.Users,
		finished:         rec.Finished,
	}
	e.sessions[rec.ID] = conv
	return conv, nil
}

// SetConversationUsers replaces the participant set.
func (e *Engine) SetConversationUsers(ctx context.Context, conv *Conversation, users []User) error {
	conv.mu.Lock()
	if conv.finished {
		conv.mu.Unlock()
		return ErrConversationBusy
	}
	conv.users = users
	conv.mu.Unlock()

	if err := e.store.SetConversationUsers(ctx, conv.ID, users); err != nil {
		return fmt.Errorf("persisting users: %w", err)
	}
	return nil
}

// SetConversationCharacter swaps the conversation's persona. The change takes
// the busy lock like a send, persists the new hash, and appends a fresh
// persona system message.
func (e *Engine) SetConversationCharacter(ctx context.Context, conv *Conversation, c *character.Character) error {
	if err := conv.tryAcquire(); err != nil {
		return err
	}
	defer conv.release()

	hash, err := e.GetOrCreateCharacter(ctx, c)
	if err != nil {
		return err
	}
	if err := e.store.SetConversationCharacter(ctx, conv.ID, hash); err != nil {
		return fmt.Errorf("persisting character change: %w", err)
	}

	persona := Message{Role: llm.RoleSystem, Content: character.PersonaPrompt(c)}
	if err := e.store.AddMessage(ctx, conv.ID, persona); err != nil {
		return fmt.Errorf("writing persona message: %w", err)
	}

	conv.mu.Lock()
	conv.characterHash = hash
	conv.mu.Unlock()
	return nil
}

// SendMessage runs the send protocol under the conversation's busy lock.
// A busy or finished conversation is rejected with ErrConversationBusy before
// any state change; internal protocol failures come back as a cancelled
// result with a nil error, never as a raw error.
func (e *Engine) SendMessage(ctx context.Context, conv *Conversation, text, senderID string, injected []ContextEntry) (*SendResult, error) {
	if err := conv.tryAcquire(); err != nil {
		if e.metrics != nil {
			e.metrics.BusyRejected()
		}
		return nil, err
	}
	defer conv.release()

	return e.send(ctx, conv, text, senderID, injected), nil
}

// send performs the protocol body. Every failure path logs and returns the
// cancellation result so the conversation stays usable.
func (e *Engine) send(ctx context.Context, conv *Conversation, text, senderID string, injected []ContextEntry) *SendResult {
	char, err := e.LoadCharacter(ctx, conv.CharacterHash())
	if err != nil {
		return e.cancelled(ctx, conv, "resolving character", err)
	}

	stored, err := e.store.GetMessages(ctx, conv.ID)
	if err != nil {
		return e.cancelled(ctx, conv, "reading transcript", err)
	}

	window := AssembleWindow(stored, text, senderID, injected, conv.Users(), e.memorySize)

	funcs := char.Functions
	if len(e.extraFuncs) > 0 {
		funcs = append(append([]character.Function{}, funcs...), e.extraFuncs...)
	}
	req := &llm.Request{
		Messages:  window,
		MaxTokens: e.maxTokens,
		Tools:     llm.ToolDefinitions(funcs),
	}

	spanCtx, span := e.tracer.Start(ctx, "llm.send", trace.WithAttributes(
		attribute.String("provider", e.provider.Name()),
		attribute.String("conversation_id", conv.ID),
		attribute.Int("window_size", len(window)),
	))
	start := time.Now()
	resp, err := e.provider.SendMessage(spanCtx, req)
	span.End()
	if err != nil {
		if e.metrics != nil {
			e.metrics.ModelRequest(e.provider.Name(), "error", time.Since(start), llm.Usage{})
		}
		return e.cancelled(ctx, conv, "model call", err)
	}
	if e.metrics != nil {
		e.metrics.ModelRequest(e.provider.Name(), resp.StopReason, time.Since(start), resp.Usage)
	}

	calls := llm.NormalizeToolCalls(resp.ToolCalls, e.logger)
	if e.metrics != nil && len(calls) > 0 {
		e.metrics.ToolCalls(len(calls))
	}

	// The context turn is second-to-last in the window; persist it together
	// with the user and assistant turns only once the model has replied, so a
	// failed send leaves the transcript unchanged for the retry.
	turns := []Message{
		{Role: llm.RoleSystem, Content: window[len(window)-2].Content},
		{Role: llm.RoleUser, Content: text, Context: injected},
		{Role: llm.RoleAssistant, Content: resp.Content},
	}
	for _, turn := range turns {
		if err := e.store.AddMessage(ctx, conv.ID, turn); err != nil {
			return e.cancelled(ctx, conv, "appending message", err)
		}
	}

	return &SendResult{Content: resp.Content, Calls: calls}
}

func (e *Engine) cancelled(ctx context.Context, conv *Conversation, stage string, err error) *SendResult {
	e.logger.ErrorContext(ctx, "send cancelled",
		slog.String("conversation_id", conv.ID),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	if e.metrics != nil {
		e.metrics.SendCancelled()
	}
	return &SendResult{Content: "", Calls: []llm.ToolCall{}, Cancelled: true}
}

// FinishConversation moves the conversation to its terminal state. The
// logical finish is immediate (no further sends succeed); removal from the
// store happens after the grace delay so an already-dispatched model call can
// still append its result. Idempotent: a second call does not reschedule.
func (e *Engine) FinishConversation(conv *Conversation) {
	conv.mu.Lock()
	if conv.finished {
		conv.mu.Unlock()
		return
	}
	conv.finished = true
	conv.busy = true
	conv.removal = time.AfterFunc(e.finishGrace, func() { e.remove(conv.ID) })
	conv.mu.Unlock()

	busy, finished := true, true
	if err := e.store.SetConversationFlags(context.Background(), conv.ID, Flags{Busy: &busy, Finished: &finished}); err != nil {
		e.logger.Error("persisting finish flags",
			slog.String("conversation_id", conv.ID),
			slog.String("error", err.Error()),
		)
	}
	e.logger.Info("conversation finished",
		slog.String("conversation_id", conv.ID),
		slog.Duration("removal_in", e.finishGrace),
	)
}

func (e *Engine) remove(id string) {
	if err := e.store.FinishConversation(context.Background(), id); err != nil {
		e.logger.Error("removing finished conversation",
			slog.String("conversation_id", id),
			slog.String("error", err.Error()),
		)
	}

	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ConversationClosed()
	}
}

// SweepIdle finishes every conversation with no store activity inside ttl.
// Used by the cron janitor.
func (e *Engine) SweepIdle(ctx context.Context, ttl time.Duration) (int, error) {
	ids, err := e.store.ListIdleConversations(ctx, time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("listing idle conversations: %w", err)
	}

	swept := 0
	for _, id := range ids {
		conv, err := e.GetConversationBy(ctx, Query{ID: id})
		if err != nil {
			e.logger.Warn("idle sweep lookup failed",
				slog.String("conversation_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if conv.Finished() {
			continue
		}
		e.FinishConversation(conv)
		swept++
	}
	if swept > 0 {
		e.logger.Info("idle conversations finished", slog.Int("count", swept))
	}
	return swept, nil
}
