package session

import (
	"fmt"
	"strings"

	"github.com/voxline/voxline/pkg/retrieval"
	"github.com/voxline/voxline/pkg/script"
)

// buildSystemPrompt assembles the per-turn system prompt: persona and
// node instructions first, then collected slots, the node's endpoint
// contract, and finally retrieved passages with the grounding rules
// that bind the model to them.
func buildSystemPrompt(sc *script.Script, pc script.PromptContext, docs []retrieval.Document, slotText map[string]string, retrievalFailed bool) string {
	var b strings.Builder

	if sc.Intro != "" {
		b.WriteString(sc.Intro)
		b.WriteString("\n\n")
	}

	b.WriteString("Current step: ")
	b.WriteString(pc.Node.ID)
	b.WriteString("\n")
	b.WriteString(pc.Node.Prompt)
	b.WriteString("\n")

	switch {
	case len(pc.Elicit) > 0:
		fmt.Fprintf(&b, "\nYou still need the following from the caller: %s. Ask for the first one naturally, one question at a time.\n", strings.Join(pc.Elicit, ", "))
	case pc.Unhandled:
		b.WriteString("\nThe caller's last message did not move the conversation forward. Briefly restate what you can help with at this step.\n")
	case pc.Terminal:
		b.WriteString("\nThe conversation is complete. Give a short, warm closing and do not ask further questions.\n")
	}

	if len(slotText) > 0 {
		b.WriteString("\nKnown details:\n")
		for name, v := range slotText {
			fmt.Fprintf(&b, "- %s: %s\n", name, v)
		}
	}

	if ep := pc.Node.Endpoint; ep != nil {
		fmt.Fprintf(&b, "\nAvailable action: %s", ep.Name)
		if ep.Description != "" {
			b.WriteString(" - " + ep.Description)
		}
		b.WriteString("\n")
		if len(ep.RequiredSlots) > 0 {
			fmt.Fprintf(&b, "It needs: %s.\n", strings.Join(ep.RequiredSlots, ", "))
		}
		fmt.Fprintf(&b, "To perform it, include exactly one [API_CALL: %s {...}] directive in your reply.\n", ep.Name)
		if sc.APIInstructions != "" {
			b.WriteString(sc.APIInstructions)
			b.WriteString("\n")
		}
	}

	if pc.Node.Grounded {
		if len(docs) > 0 {
			b.WriteString("\nReference passages:\n")
			for i, d := range docs {
				fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(d.Snippet))
			}
		} else if retrievalFailed {
			b.WriteString("\nThe knowledge base is temporarily unavailable. Tell the caller you cannot look that up right now; do not guess.\n")
		}
		if sc.GroundingRules != "" {
			b.WriteString("\n")
			b.WriteString(sc.GroundingRules)
			b.WriteString("\n")
		}
		if sc.KBInstructions != "" {
			b.WriteString(sc.KBInstructions)
			b.WriteString("\n")
		}
	}

	return strings.TrimSpace(b.String())
}
