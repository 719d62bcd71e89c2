package script

import (
	"strings"
	"testing"
)

func twoNodeScript() *Script {
	return &Script{
		Name: "test",
		Nodes: []Node{
			{ID: "start", Initial: true, Prompt: "hi", Transitions: []Transition{
				{Guard: GuardAlways, Target: "end"},
			}},
			{ID: "end", Prompt: "bye"},
		},
	}
}

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	sc := twoNodeScript()
	if err := sc.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.InitialNode().ID != "start" {
		t.Fatalf("initial = %q", sc.InitialNode().ID)
	}
	n, ok := sc.NodeByID("end")
	if !ok || !n.Terminal() {
		t.Fatalf("end node missing or not terminal")
	}
}

func TestValidateRejectsDanglingTarget(t *testing.T) {
	sc := twoNodeScript()
	sc.Nodes[0].Transitions[0].Target = "nowhere"
	err := sc.Validate()
	if err == nil || !strings.Contains(err.Error(), "nowhere") {
		t.Fatalf("expected dangling target error, got %v", err)
	}
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	sc := twoNodeScript()
	sc.Nodes[1].ID = "start"
	sc.Nodes[0].Transitions[0].Target = "start"
	if err := sc.Validate(); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestValidateRequiresExactlyOneInitial(t *testing.T) {
	sc := twoNodeScript()
	sc.Nodes[0].Initial = false
	if err := sc.Validate(); err == nil {
		t.Fatal("expected no-initial error")
	}
	sc = twoNodeScript()
	sc.Nodes[1].Initial = true
	if err := sc.Validate(); err == nil {
		t.Fatal("expected multiple-initial error")
	}
}

func TestValidateRejectsBadGuards(t *testing.T) {
	sc := twoNodeScript()
	sc.Nodes[0].Transitions[0].Guard = GuardSlotPresent
	if err := sc.Validate(); err == nil {
		t.Fatal("expected slot_present-without-slot error")
	}
	sc = twoNodeScript()
	sc.Nodes[0].Transitions[0].Guard = GuardIntent
	if err := sc.Validate(); err == nil {
		t.Fatal("expected intent-without-keywords error")
	}
}

func TestValidateRejectsBadEndpointPath(t *testing.T) {
	sc := twoNodeScript()
	sc.Nodes[0].Endpoint = &Endpoint{Name: "op", Method: "POST", Path: "bookings"}
	if err := sc.Validate(); err == nil {
		t.Fatal("expected invalid path error")
	}
	sc.Nodes[0].Endpoint.Path = "/bookings/{id}"
	if err := sc.Validate(); err != nil {
		t.Fatalf("templated path should validate: %v", err)
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing name":  `{"nodes":[{"id":"a","prompt":"p","initial":true}]}`,
		"empty nodes":   `{"name":"x","nodes":[]}`,
		"missing id":    `{"name":"x","nodes":[{"prompt":"p"}]}`,
		"bad guard":     `{"name":"x","nodes":[{"id":"a","prompt":"p","initial":true,"transitions":[{"guard":"sometimes","target":"a"}]}]}`,
		"bad method":    `{"name":"x","nodes":[{"id":"a","prompt":"p","initial":true,"endpoint":{"name":"op","method":"FETCH","path":"/x"}}]}`,
		"not an object": `[1,2,3]`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseBuildsUsableScript(t *testing.T) {
	doc := `{
	  "name": "ok",
	  "nodes": [
	    {"id": "a", "initial": true, "prompt": "p", "transitions": [{"guard": "always", "target": "b"}]},
	    {"id": "b", "prompt": "q"}
	  ]
	}`
	sc, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !sc.HasNode("b") {
		t.Fatal("index not built")
	}
}

func TestHolderSwapIsVisible(t *testing.T) {
	first := twoNodeScript()
	if err := first.Validate(); err != nil {
		t.Fatal(err)
	}
	h := NewHolder(first)

	second := twoNodeScript()
	second.Name = "v2"
	if err := second.Validate(); err != nil {
		t.Fatal(err)
	}
	prev := h.Swap(second)
	if prev.Name != "test" {
		t.Fatalf("prev = %q", prev.Name)
	}
	if h.Current().Name != "v2" {
		t.Fatalf("current = %q", h.Current().Name)
	}
}
