// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates the send/stream lifecycle of a conversation:
// state tracking per chat, persistence ordering, streaming accumulation, and
// cancellation of superseded sessions.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/filter"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/prompt"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// STATES
// =============================================================================

// State is the externally observable phase of a chat's send lifecycle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateAwaitingBuffered
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateAwaitingBuffered:
		return "awaiting"
	}
	return "unknown"
}

// ErrSendInFlight is returned when a send is requested for a chat that
// already has one open. The request is a no-op: nothing is persisted and no
// network call is issued.
var ErrSendInFlight = errors.New("a send is already in flight for this chat")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Store is the persistence surface the orchestrator needs.
type Store interface {
	SaveTurn(ctx context.Context, turn model.Turn) error
	TurnsByChat(ctx context.Context, chatID string) ([]model.Turn, error)
}

// Snapshot is one published view of a chat's send lifecycle. PartialText and
// the final turn's published text are display-filtered; persisted content
// stays raw.
type Snapshot struct {
	ChatID     string
	State      State
	Generation uint64

	// PartialText is the streamed text accumulated so far.
	PartialText string

	// FinalTurn is set once, when an assistant turn was persisted.
	FinalTurn *model.Turn

	// ErrText is the user-facing error message, set on failures.
	ErrText string
}

// Publisher receives snapshots. Called from the send goroutine; implementations
// hand off to their own event loop.
type Publisher func(Snapshot)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// publishInterval throttles partial-snapshot delivery during streaming. Final
// and error snapshots always go out.
const publishInterval = 50 * time.Millisecond

// Orchestrator drives sends across all chats. One instance serves the whole
// process; per-chat sessions are tracked inside. Safe for concurrent use.
type Orchestrator struct {
	store    Store
	sampling *model.SamplingStore
	publish  Publisher
	logger   *slog.Logger

	// BufferedTimeout bounds non-streaming calls.
	bufferedTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the per-chat send state. Generation increments on every send and
// every cancel; async completions compare their captured generation against
// the current one and discard stale results.
type session struct {
	state      State
	generation uint64
	cancel     context.CancelFunc
}

// Config holds orchestrator construction options.
type Config struct {
	Store    Store
	Sampling *model.SamplingStore

	// Publish receives lifecycle snapshots. Required.
	Publish Publisher

	// BufferedTimeout bounds buffered calls (default
	// provider.DefaultRequestTimeout).
	BufferedTimeout time.Duration

	Logger *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.BufferedTimeout == 0 {
		cfg.BufferedTimeout = provider.DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sampling == nil {
		cfg.Sampling = model.NewSamplingStore()
	}
	return &Orchestrator{
		store:           cfg.Store,
		sampling:        cfg.Sampling,
		publish:         cfg.Publish,
		logger:          cfg.Logger,
		bufferedTimeout: cfg.BufferedTimeout,
		sessions:        make(map[string]*session),
	}
}

// Sampling returns the shared sampling configuration.
func (o *Orchestrator) Sampling() *model.SamplingStore {
	return o.sampling
}

// State returns the current lifecycle state of a chat.
func (o *Orchestrator) State(chatID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[chatID]; ok {
		return s.state
	}
	return StateIdle
}

// =============================================================================
// SEND
// =============================================================================

// SendSpec describes one send.
type SendSpec struct {
	// Client is the provider backend to call.
	Client provider.Client

	// Target selects the assembly convention (local vs cloud).
	Target prompt.Target

	// ModelName is the model to invoke.
	ModelName string

	// ResponseLanguage controls the language directive; "Auto" adds none.
	ResponseLanguage string

	// Streaming selects the incremental path; false buffers the whole reply.
	Streaming bool

	// Attachments of the new turn.
	Attachments model.Attachments
}

// SendTurn starts a send for a chat. At most one send can be open per chat;
// a second request while one is in flight returns ErrSendInFlight without
// persisting or calling anywhere. The user turn is persisted before the
// network call; the reply is processed asynchronously and published through
// the configured Publisher.
func (o *Orchestrator) SendTurn(ctx context.Context, chatID, content string, spec SendSpec) error {
	o.mu.Lock()
	sess, ok := o.sessions[chatID]
	if !ok {
		sess = &session{}
		o.sessions[chatID] = sess
	}
	if sess.state != StateIdle {
		o.mu.Unlock()
		return ErrSendInFlight
	}
	sess.state = StateSending
	sess.generation++
	generation := sess.generation

	sendCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancel = cancel
	o.mu.Unlock()

	o.emit(Snapshot{ChatID: chatID, State: StateSending, Generation: generation})

	// History is read before the new turn lands so the assembler sees only
	// prior turns.
	history, err := o.store.TurnsByChat(sendCtx, chatID)
	if err != nil {
		o.logger.Error("failed to load history", "chat", chatID, "error", err)
		history = nil
	}

	userTurn := model.NewUserTurn(chatID, content)
	userTurn.Attachments = spec.Attachments
	if err := o.store.SaveTurn(sendCtx, *userTurn); err != nil {
		// Optimistic: the in-memory conversation keeps the turn even when
		// the persist failed.
		o.logger.Error("failed to persist user turn", "chat", chatID, "error", err)
	}

	req := prompt.Assemble(spec.Target, spec.ModelName, prompt.Input{
		Content:          content,
		ResponseLanguage: spec.ResponseLanguage,
		History:          history,
		Attachments:      spec.Attachments,
		Options:          o.sampling.Get(),
	})

	go o.run(sendCtx, chatID, generation, req, spec)
	return nil
}

// run executes the network phase of one send.
func (o *Orchestrator) run(ctx context.Context, chatID string, generation uint64, req provider.ChatRequest, spec SendSpec) {
	if spec.Streaming {
		o.runStreaming(ctx, chatID, generation, req, spec)
	} else {
		o.runBuffered(ctx, chatID, generation, req, spec)
	}
}

func (o *Orchestrator) runBuffered(ctx context.Context, chatID string, generation uint64, req provider.ChatRequest, spec SendSpec) {
	o.transition(chatID, generation, StateAwaitingBuffered)
	o.emit(Snapshot{ChatID: chatID, State: StateAwaitingBuffered, Generation: generation})

	callCtx, cancel := context.WithTimeout(ctx, o.bufferedTimeout)
	defer cancel()

	reply, err := spec.Client.ChatOnce(callCtx, req)
	if err != nil {
		o.fail(chatID, generation, err)
		return
	}
	o.complete(ctx, chatID, generation, spec.ModelName, reply.Content, reply.Metrics)
}

func (o *Orchestrator) runStreaming(ctx context.Context, chatID string, generation uint64, req provider.ChatRequest, spec SendSpec) {
	o.transition(chatID, generation, StateStreaming)
	o.emit(Snapshot{ChatID: chatID, State: StateStreaming, Generation: generation})

	var accumulated strings.Builder
	var metrics model.CompletionMetrics
	var doneSeen bool
	limiter := rate.NewLimiter(rate.Every(publishInterval), 1)

	err := spec.Client.OpenChatStream(ctx, req, func(ev provider.StreamEvent) {
		if ev.Delta != "" {
			accumulated.WriteString(ev.Delta)
		}
		if ev.Done {
			doneSeen = true
			metrics = ev.Metrics
			return
		}
		if limiter.Allow() && o.isCurrent(chatID, generation) {
			o.emit(Snapshot{
				ChatID:      chatID,
				State:       StateStreaming,
				Generation:  generation,
				PartialText: filter.ForDisplay(accumulated.String()),
			})
		}
	})

	switch {
	case err != nil:
		// Partial streamed text is discarded, never persisted.
		o.fail(chatID, generation, err)
	case !doneSeen:
		o.fail(chatID, generation, errors.New("stream ended without completion"))
	default:
		o.complete(ctx, chatID, generation, spec.ModelName, accumulated.String(), metrics)
	}
}

// =============================================================================
// COMPLETION
// =============================================================================

// complete persists the assistant turn and publishes the final snapshot,
// unless the session was superseded while the call was in flight.
func (o *Orchestrator) complete(ctx context.Context, chatID string, generation uint64, modelName, content string, metrics model.CompletionMetrics) {
	if !o.settle(chatID, generation) {
		o.logger.Debug("discarding superseded reply", "chat", chatID, "generation", generation)
		return
	}

	// The placeholder covers the streaming path too: a stream that signals
	// done without ever producing a delta lands here with empty content, and
	// an empty persisted turn helps nobody.
	if strings.TrimSpace(content) == "" {
		content = "No Response from " + modelName
	}

	turn := model.NewAssistantTurn(chatID, modelName, content)
	turn.Metrics = metrics
	if err := o.store.SaveTurn(ctx, *turn); err != nil {
		// Optimistic: the reply stays visible even when the persist failed.
		o.logger.Error("failed to persist assistant turn", "chat", chatID, "error", err)
	}

	published := *turn
	published.Content = filter.ForDisplay(turn.Content)
	o.emit(Snapshot{
		ChatID:     chatID,
		State:      StateIdle,
		Generation: generation,
		FinalTurn:  &published,
	})
}

// fail transitions to Idle and publishes the user-facing error, unless
// superseded. Cancellation is quiet: the canceling side already published.
func (o *Orchestrator) fail(chatID string, generation uint64, err error) {
	if !o.settle(chatID, generation) {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	o.logger.Debug("send failed", "chat", chatID, "error", err)
	o.emit(Snapshot{
		ChatID:     chatID,
		State:      StateIdle,
		Generation: generation,
		ErrText:    provider.UserMessage(err),
	})
}

// =============================================================================
// CANCELLATION
// =============================================================================

// Cancel aborts the open send for a chat, if any. The aborted session's
// eventual completion is discarded; partial streamed text is never persisted.
func (o *Orchestrator) Cancel(chatID string) {
	o.mu.Lock()
	sess, ok := o.sessions[chatID]
	if !ok || sess.state == StateIdle {
		o.mu.Unlock()
		return
	}
	// Bumping the generation invalidates the in-flight completion even if it
	// races past the context cancellation.
	sess.generation++
	generation := sess.generation
	sess.state = StateIdle
	cancel := sess.cancel
	sess.cancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.emit(Snapshot{ChatID: chatID, State: StateIdle, Generation: generation})
}

// =============================================================================
// SESSION BOOKKEEPING
// =============================================================================

// isCurrent reports whether the generation is still the chat's active one.
func (o *Orchestrator) isCurrent(chatID string, generation uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[chatID]
	return ok && sess.generation == generation
}

// transition moves the chat to the given state if the generation is current.
func (o *Orchestrator) transition(chatID string, generation uint64, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[chatID]; ok && sess.generation == generation {
		sess.state = state
	}
}

// settle returns the chat to Idle if the generation is current, reporting
// whether the caller's result is still wanted.
func (o *Orchestrator) settle(chatID string, generation uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[chatID]
	if !ok || sess.generation != generation {
		return false
	}
	sess.state = StateIdle
	sess.cancel = nil
	return true
}

func (o *Orchestrator) emit(snap Snapshot) {
	if o.publish != nil {
		o.publish(snap)
	}
}
