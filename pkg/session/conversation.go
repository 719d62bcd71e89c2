package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxline/voxline/pkg/completion"
	"github.com/voxline/voxline/pkg/directive"
	"github.com/voxline/voxline/pkg/dispatch"
	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/logging"
	"github.com/voxline/voxline/pkg/metrics"
	"github.com/voxline/voxline/pkg/redact"
	"github.com/voxline/voxline/pkg/resilience"
	"github.com/voxline/voxline/pkg/retrieval"
	"github.com/voxline/voxline/pkg/script"
	"github.com/voxline/voxline/pkg/slots"
)

const (
	fallbackReply = "I'm sorry, I'm having trouble right now. Could you say that again?"
	goodbyeReply  = "I'm unable to continue this call. Please try again later."
)

// Config carries the per-conversation tunables.
type Config struct {
	HistoryWindow     int           `mapstructure:"history_window"`
	RetrievalTopK     int           `mapstructure:"retrieval_top_k"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	DispatchFallback  string        `mapstructure:"dispatch_fallback"`
}

func (c *Config) applyDefaults() {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 8
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = 3
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = 20 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.DispatchFallback == "" {
		c.DispatchFallback = "I'm sorry, the request could not be completed right now."
	}
}

// Deps bundles the collaborators a conversation drives each turn.
type Deps struct {
	Holder     *script.Holder
	Engine     *script.Engine
	Completion completion.Provider
	Dispatcher *dispatch.Dispatcher
	Retriever  retrieval.Retriever
	Observer   metrics.Observer
	Config     Config
}

// Turn is one entry in the conversation transcript.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Reply is the outcome of one user turn.
type Reply struct {
	Text      string
	NodeID    string
	Status    script.Status
	Elicit    []string
	Advanced  bool
	Unhandled bool
	Dispatch  dispatch.OutcomeKind
	Ended     bool
}

// StateView is a read-only snapshot for the inspection endpoint.
type StateView struct {
	ID         string            `json:"id"`
	NodeID     string            `json:"node_id"`
	Status     script.Status     `json:"status"`
	Turns      int               `json:"turns"`
	Slots      map[string]string `json:"slots"`
	History    []Turn            `json:"history"`
	CreatedAt  time.Time         `json:"created_at"`
	LastActive time.Time         `json:"last_active"`
}

// Conversation owns all mutable state for one caller. Turns are
// serialized on its mutex so concurrent requests for the same session
// never interleave mid-pipeline.
type Conversation struct {
	id   string
	deps Deps

	mu         sync.Mutex
	state      script.State
	store      *slots.Store
	history    []Turn
	failures   *resilience.FailureTracker
	createdAt  time.Time
	lastActive time.Time
	closed     bool

	logger *slog.Logger
}

func NewConversation(id string, deps Deps) *Conversation {
	deps.Config.applyDefaults()
	if deps.Engine == nil {
		deps.Engine = script.NewEngine(nil)
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	now := time.Now()
	c := &Conversation{
		id:   id,
		deps: deps,
		state: script.State{
			NodeID: deps.Holder.Current().InitialNode().ID,
			Status: script.StatusActive,
		},
		store:      slots.NewStore(),
		failures:   resilience.NewFailureTracker(deps.Config.FailureThreshold),
		createdAt:  now,
		lastActive: now,
	}
	c.logger = logging.NewSessionLogger(
		logging.NewComponentLogger(slog.Default(), "session"), id)
	return c
}

func (c *Conversation) ID() string { return c.id }

// Greeting returns the opening line for a fresh session.
func (c *Conversation) Greeting() string {
	sc := c.deps.Holder.Current()
	return sc.InitialNode().Prompt
}

// HandleTurn runs one full user turn through the pipeline: advance the
// script, gather grounding, complete, honor directives, dispatch the
// business call, and settle the final node.
func (c *Conversation) HandleTurn(ctx context.Context, userText string) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state.Status != script.StatusActive {
		return Reply{}, errorsx.Wrap(errors.New("session closed"), errorsx.ReasonSessionClosed, "turn rejected")
	}
	c.lastActive = time.Now()

	sc := c.deps.Holder.Current()
	c.appendHistory(completion.RoleUser, userText)

	started := time.Now()
	pc, err := c.deps.Engine.Advance(sc, &c.state, c.store, userText)
	if err != nil {
		return Reply{}, err
	}

	degraded := false
	var docs []retrieval.Document
	retrievalFailed := false
	if pc.Node.Grounded && c.deps.Retriever != nil {
		docs, retrievalFailed = c.retrieve(ctx, userText)
		if retrievalFailed {
			if c.failures.OnFailure() {
				return c.closeForFailures("retrieval unavailable"), nil
			}
			degraded = true
		}
	}

	text, err := c.complete(ctx, sc, pc, docs, retrievalFailed, "")
	if err != nil {
		return c.onCompletionFailure(err)
	}

	ex := directive.Extract(directive.Sanitize(text))

	// A knowledge-base directive earns exactly one re-prompt with the
	// requested passages spliced in. A second directive in the retry
	// reply is stripped and ignored.
	if len(ex.Searches) > 0 && c.deps.Retriever != nil {
		kbDocs, failed := c.retrieve(ctx, ex.Searches[0].Query)
		if failed {
			if c.failures.OnFailure() {
				return c.closeForFailures("retrieval unavailable"), nil
			}
			degraded = true
		}
		text, err = c.complete(ctx, sc, pc, append(docs, kbDocs...), failed, "")
		if err != nil {
			return c.onCompletionFailure(err)
		}
		ex = directive.Extract(directive.Sanitize(text))
		ex.Searches = nil
	}

	outcome := dispatch.Outcome{Kind: dispatch.OutcomeNone}
	if c.deps.Dispatcher != nil {
		outcome = c.deps.Dispatcher.TryDispatch(ctx, pc.Node, c.store, ex)
	}
	switch outcome.Kind {
	case dispatch.OutcomeSuccess:
		if post, ok := c.deps.Engine.AdvanceOnSlots(sc, &c.state, c.store); ok {
			pc = post
		}
		ex.Speech = c.phraseResult(ctx, sc, pc, docs, retrievalFailed, outcome, ex.Speech)
	case dispatch.OutcomeTimeout, dispatch.OutcomeRemoteError:
		c.logger.Warn("business dispatch degraded", "kind", outcome.Kind.String(), "detail", outcome.Detail)
		ex.Speech = spliceFragment(ex.Speech, c.deps.Config.DispatchFallback)
		if c.failures.OnFailure() {
			return c.closeForFailures("business api unavailable"), nil
		}
		degraded = true
	case dispatch.OutcomeInvalid:
		c.logger.Warn("business dispatch rejected", "detail", outcome.Detail)
		ex.Speech = spliceFragment(ex.Speech, c.deps.Config.DispatchFallback)
	}
	if !degraded {
		c.failures.OnSuccess()
	}

	reply := ex.Speech
	if reply == "" {
		reply = fallbackReply
	}
	c.appendHistory(completion.RoleAssistant, reply)

	c.record("turn_completed", float64(time.Since(started).Milliseconds()))
	c.logger.Info("turn completed",
		"node_id", c.state.NodeID,
		"status", string(c.state.Status),
		"advanced", pc.Advanced,
		"dispatch", outcome.Kind.String(),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return Reply{
		Text:      reply,
		NodeID:    c.state.NodeID,
		Status:    c.state.Status,
		Elicit:    pc.Elicit,
		Advanced:  pc.Advanced,
		Unhandled: pc.Unhandled,
		Dispatch:  outcome.Kind,
		Ended:     c.state.Status == script.StatusCompleted,
	}, nil
}

func (c *Conversation) retrieve(ctx context.Context, query string) ([]retrieval.Document, bool) {
	docs, err := c.deps.Retriever.Query(ctx, query, c.deps.Config.RetrievalTopK)
	if err != nil {
		c.logger.Warn("retrieval degraded", "error", err)
		c.record("retrieval_failed", 0)
		return nil, true
	}
	return docs, false
}

// phraseResult runs one follow-up completion so the reply spoken this
// turn reflects what the API actually returned. Directives in the
// follow-up are stripped; the call already happened.
func (c *Conversation) phraseResult(ctx context.Context, sc *script.Script, pc script.PromptContext, docs []retrieval.Document, retrievalFailed bool, outcome dispatch.Outcome, speech string) string {
	payload, err := json.Marshal(outcome.Result)
	if err != nil {
		return speech
	}
	note := fmt.Sprintf("\nThe %s call succeeded. Result: %s\nTell the caller the outcome in one or two sentences. Do not emit another directive.",
		outcome.Call, payload)
	text, err := c.complete(ctx, sc, pc, docs, retrievalFailed, note)
	if err != nil {
		c.logger.Warn("result phrasing failed, keeping pre-call reply", "error", err)
		return speech
	}
	followup := directive.Extract(directive.Sanitize(text))
	if followup.Speech == "" {
		return speech
	}
	return followup.Speech
}

func spliceFragment(speech, fragment string) string {
	return strings.TrimSpace(strings.TrimSpace(speech) + " " + fragment)
}

func (c *Conversation) complete(ctx context.Context, sc *script.Script, pc script.PromptContext, docs []retrieval.Document, retrievalFailed bool, extra string) (string, error) {
	system := buildSystemPrompt(sc, pc, docs, c.orderedSlots(), retrievalFailed) + extra

	cctx, cancel := context.WithTimeout(ctx, c.deps.Config.CompletionTimeout)
	defer cancel()
	resp, err := c.deps.Completion.Complete(cctx, completion.Request{
		System:      system,
		Messages:    c.window(),
		MaxTokens:   c.deps.Config.MaxTokens,
		Temperature: c.deps.Config.Temperature,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errorsx.HasReason(err, errorsx.ReasonCompletionTimeout) {
			return "", errorsx.Wrap(err, errorsx.ReasonCompletionTimeout, "completion timed out")
		}
		return "", err
	}
	return resp.Text, nil
}

func (c *Conversation) onCompletionFailure(err error) (Reply, error) {
	c.record("completion_failed", 0)
	if resilience.IsRateLimit(err) {
		c.logger.Warn("completion provider rate limited", "error", err)
	}
	if c.failures.OnFailure() {
		return c.closeForFailures("completion unavailable"), nil
	}
	c.logger.Warn("completion failed, serving fallback", "error", err)
	c.appendHistory(completion.RoleAssistant, fallbackReply)
	return Reply{
		Text:   fallbackReply,
		NodeID: c.state.NodeID,
		Status: c.state.Status,
	}, nil
}

// closeForFailures ends the session after the consecutive collaborator
// failure limit is reached. Caller must hold c.mu.
func (c *Conversation) closeForFailures(reason string) Reply {
	c.closed = true
	c.state.Status = script.StatusClosed
	c.logger.Error("consecutive collaborator failures, ending session", "reason", reason)
	c.record("session_failed", 0)
	return Reply{
		Text:   goodbyeReply,
		NodeID: c.state.NodeID,
		Status: c.state.Status,
		Ended:  true,
	}
}

// NoteCollaboratorFailure counts a failed transcription or synthesis
// call toward the session's consecutive-failure limit. Reports whether
// the limit was reached, in which case the session is now closed.
func (c *Conversation) NoteCollaboratorFailure(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if c.failures.OnFailure() {
		c.closeForFailures(reason)
		return true
	}
	return false
}

// window returns the last N transcript turns as completion messages.
func (c *Conversation) window() []completion.Message {
	n := c.deps.Config.HistoryWindow
	start := 0
	if len(c.history) > n {
		start = len(c.history) - n
	}
	out := make([]completion.Message, 0, len(c.history)-start)
	for _, t := range c.history[start:] {
		out = append(out, completion.Message{Role: t.Role, Content: t.Text})
	}
	return out
}

func (c *Conversation) orderedSlots() map[string]string {
	return c.store.Snapshot()
}

func (c *Conversation) appendHistory(role, text string) {
	c.history = append(c.history, Turn{Role: role, Text: text, At: time.Now()})
}

// Close marks the conversation finished. Idempotent.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		if c.state.Status == script.StatusActive {
			c.state.Status = script.StatusClosed
		}
	}
}

// Snapshot captures the conversation for the state inspection endpoint.
func (c *Conversation) Snapshot() StateView {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := make([]Turn, len(c.history))
	copy(history, c.history)
	for i := range history {
		history[i].Text = redact.Text(history[i].Text)
	}
	return StateView{
		ID:         c.id,
		NodeID:     c.state.NodeID,
		Status:     c.state.Status,
		Turns:      c.state.Turns,
		Slots:      c.store.Snapshot(),
		History:    history,
		CreatedAt:  c.createdAt,
		LastActive: c.lastActive,
	}
}

// LastActive is used by the registry's idle sweep.
func (c *Conversation) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Conversation) record(name string, value float64) {
	c.deps.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  map[string]string{"source": "session", "session_id": c.id},
	})
}
