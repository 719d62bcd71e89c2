package script

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/logging"
	"github.com/voxline/voxline/pkg/slots"
)

// Status tracks where a conversation sits in its lifecycle.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusClosed    Status = "closed"
)

// State is the mutable per-conversation cursor into the script graph.
type State struct {
	NodeID string
	Status Status
	Turns  int
}

// PromptContext is everything a turn's prompt builder needs to know
// about where the conversation stands after advancement.
type PromptContext struct {
	Node      *Node
	Elicit    []string
	Unhandled bool
	Advanced  bool
	Terminal  bool
}

// SlotExtractor pulls slot values for a node's missing slots out of
// raw user text. Implementations must not touch the store directly.
type SlotExtractor interface {
	Extract(node *Node, missing []string, userText string) map[string]slots.Value
}

// HeuristicExtractor fills a single missing slot from the whole
// utterance. With more than one slot missing it extracts nothing and
// lets elicitation ask for them one at a time.
type HeuristicExtractor struct{}

func (HeuristicExtractor) Extract(_ *Node, missing []string, userText string) map[string]slots.Value {
	text := strings.TrimSpace(userText)
	if text == "" || len(missing) != 1 {
		return nil
	}
	name := missing[0]
	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return map[string]slots.Value{name: slots.Number(n, slots.ProvenanceConfirmed)}
	}
	return map[string]slots.Value{name: slots.String(text, slots.ProvenanceConfirmed)}
}

// Engine advances conversation state through the script graph. It is
// stateless and safe for use by any number of sessions.
type Engine struct {
	extractor SlotExtractor
	logger    *slog.Logger
}

func NewEngine(extractor SlotExtractor) *Engine {
	if extractor == nil {
		extractor = HeuristicExtractor{}
	}
	return &Engine{
		extractor: extractor,
		logger:    logging.NewComponentLogger(slog.Default(), "script_engine"),
	}
}

// Advance applies one user turn to the state. The same script, state,
// store and text always produce the same outcome: extraction runs
// first, then transitions are tried in declaration order and the first
// passing guard wins. A state past its terminal node is rejected.
func (e *Engine) Advance(sc *Script, st *State, store *slots.Store, userText string) (PromptContext, error) {
	if st.Status != StatusActive {
		return PromptContext{}, errorsx.Wrap(errors.New("session closed"),
			errorsx.ReasonSessionClosed, "advance rejected")
	}
	node, ok := sc.NodeByID(st.NodeID)
	if !ok {
		// Script was swapped out from under the session; restart from
		// the initial node rather than wedging the conversation.
		node = sc.InitialNode()
		st.NodeID = node.ID
		e.logger.Warn("state node missing after script swap, reset to initial", "node_id", node.ID)
	}
	st.Turns++

	if missing := store.Missing(node.RequiredSlots); len(missing) > 0 {
		for name, v := range e.extractor.Extract(node, missing, userText) {
			if err := store.Set(name, v); err != nil {
				e.logger.Warn("slot extraction rejected", "slot", name,
					"error", errorsx.Wrap(err, errorsx.ReasonSlotExtraction, ""))
			}
		}
		if still := store.Missing(node.RequiredSlots); len(still) > 0 {
			return PromptContext{Node: node, Elicit: still}, nil
		}
	}

	next, matched := e.selectTransition(node, store, userText)
	if !matched {
		if node.Terminal() {
			st.Status = StatusCompleted
			return PromptContext{Node: node, Terminal: true}, nil
		}
		return PromptContext{Node: node, Unhandled: true}, nil
	}

	target, _ := sc.NodeByID(next.Target)
	st.NodeID = target.ID
	pc := PromptContext{Node: target, Advanced: true, Elicit: store.Missing(target.RequiredSlots)}
	if target.Terminal() && len(pc.Elicit) == 0 {
		st.Status = StatusCompleted
		pc.Terminal = true
	}
	return pc, nil
}

// AdvanceOnSlots retries only slot_present guards, for use after an
// API call fills output slots mid-turn. It does not consume a turn.
func (e *Engine) AdvanceOnSlots(sc *Script, st *State, store *slots.Store) (PromptContext, bool) {
	node, ok := sc.NodeByID(st.NodeID)
	if !ok {
		return PromptContext{}, false
	}
	for i := range node.Transitions {
		t := &node.Transitions[i]
		if t.Guard != GuardSlotPresent {
			continue
		}
		if _, set := store.Get(t.Slot); !set {
			continue
		}
		target, _ := sc.NodeByID(t.Target)
		st.NodeID = target.ID
		pc := PromptContext{Node: target, Advanced: true}
		if target.Terminal() && len(store.Missing(target.RequiredSlots)) == 0 {
			st.Status = StatusCompleted
			pc.Terminal = true
		}
		return pc, true
	}
	return PromptContext{}, false
}

func (e *Engine) selectTransition(node *Node, store *slots.Store, userText string) (*Transition, bool) {
	lower := strings.ToLower(userText)
	for i := range node.Transitions {
		t := &node.Transitions[i]
		switch t.Guard {
		case GuardSlotPresent:
			if _, ok := store.Get(t.Slot); ok {
				return t, true
			}
		case GuardIntent:
			for _, kw := range t.Keywords {
				if strings.Contains(lower, strings.ToLower(kw)) {
					return t, true
				}
			}
		case GuardAlways:
			return t, true
		}
	}
	return nil, false
}
