package script

import (
	"fmt"
	"regexp"
	"strings"
)

// GuardKind is the closed set of transition guard variants.
type GuardKind string

const (
	// GuardSlotPresent passes once the named slot is set.
	GuardSlotPresent GuardKind = "slot_present"
	// GuardIntent passes when the user text contains one of the keywords.
	GuardIntent GuardKind = "intent"
	// GuardAlways passes unconditionally.
	GuardAlways GuardKind = "always"
)

type Transition struct {
	Guard    GuardKind `json:"guard"`
	Slot     string    `json:"slot,omitempty"`
	Keywords []string  `json:"keywords,omitempty"`
	Target   string    `json:"target"`
}

// Endpoint declares an external business API call a node may trigger.
type Endpoint struct {
	Name          string            `json:"name"`
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	Description   string            `json:"description,omitempty"`
	RequiredSlots []string          `json:"required_slots,omitempty"`
	// OutputSlots maps response payload fields to slot names filled with
	// api-derived provenance on success.
	OutputSlots map[string]string `json:"output_slots,omitempty"`
}

type Node struct {
	ID            string       `json:"id"`
	Initial       bool         `json:"initial,omitempty"`
	Prompt        string       `json:"prompt"`
	RequiredSlots []string     `json:"required_slots,omitempty"`
	Grounded      bool         `json:"grounded,omitempty"`
	Transitions   []Transition `json:"transitions,omitempty"`
	Endpoint      *Endpoint    `json:"endpoint,omitempty"`
}

// Terminal reports whether the node can never advance.
func (n *Node) Terminal() bool { return len(n.Transitions) == 0 }

// Script is the compiled conversation graph. It is immutable after
// validation and shared read-only by all sessions.
type Script struct {
	Name            string   `json:"name"`
	Intro           string   `json:"intro,omitempty"`
	GroundingRules  string   `json:"grounding_rules,omitempty"`
	KBInstructions  string   `json:"kb_instructions,omitempty"`
	APIInstructions string   `json:"api_instructions,omitempty"`
	Documents       []string `json:"documents,omitempty"`
	Nodes           []Node   `json:"nodes"`

	initial int
	index   map[string]int
}

// GraphError reports structural problems found at load time.
type GraphError struct {
	Problems []string
}

func (e *GraphError) Error() string {
	return "invalid script graph: " + strings.Join(e.Problems, "; ")
}

var endpointPathRe = regexp.MustCompile(`^/[\w{}/-]*$`)

// Validate checks the structural invariants: unique node ids, exactly
// one initial node, every transition target resolving to an existing
// node, and well-formed endpoint declarations. On success the node
// index is built and the script becomes ready for traversal.
func (s *Script) Validate() error {
	var problems []string
	index := make(map[string]int, len(s.Nodes))
	initial := -1

	if len(s.Nodes) == 0 {
		problems = append(problems, "script has no nodes")
	}
	for i := range s.Nodes {
		n := &s.Nodes[i]
		if n.ID == "" {
			problems = append(problems, fmt.Sprintf("node %d has empty id", i))
			continue
		}
		if _, dup := index[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		index[n.ID] = i
		if n.Initial {
			if initial >= 0 {
				problems = append(problems, fmt.Sprintf("multiple initial nodes: %q and %q", s.Nodes[initial].ID, n.ID))
			}
			initial = i
		}
	}
	if initial < 0 && len(s.Nodes) > 0 {
		problems = append(problems, "no initial node")
	}
	for i := range s.Nodes {
		n := &s.Nodes[i]
		for _, t := range n.Transitions {
			if _, ok := index[t.Target]; !ok {
				problems = append(problems, fmt.Sprintf("node %q transition targets unknown node %q", n.ID, t.Target))
			}
			switch t.Guard {
			case GuardSlotPresent:
				if t.Slot == "" {
					problems = append(problems, fmt.Sprintf("node %q slot_present guard without slot", n.ID))
				}
			case GuardIntent:
				if len(t.Keywords) == 0 {
					problems = append(problems, fmt.Sprintf("node %q intent guard without keywords", n.ID))
				}
			case GuardAlways:
			default:
				problems = append(problems, fmt.Sprintf("node %q unknown guard kind %q", n.ID, t.Guard))
			}
		}
		if ep := n.Endpoint; ep != nil {
			if ep.Name == "" {
				problems = append(problems, fmt.Sprintf("node %q endpoint without name", n.ID))
			}
			if !endpointPathRe.MatchString(ep.Path) {
				problems = append(problems, fmt.Sprintf("node %q endpoint %q has invalid path %q", n.ID, ep.Name, ep.Path))
			}
		}
	}

	if len(problems) > 0 {
		return &GraphError{Problems: problems}
	}
	s.index = index
	s.initial = initial
	return nil
}

// InitialNode returns the single node marked initial.
func (s *Script) InitialNode() *Node { return &s.Nodes[s.initial] }

// NodeByID resolves a node id through the immutable index.
func (s *Script) NodeByID(id string) (*Node, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return &s.Nodes[i], true
}

// HasNode reports whether the id resolves in this script.
func (s *Script) HasNode(id string) bool {
	_, ok := s.index[id]
	return ok
}
