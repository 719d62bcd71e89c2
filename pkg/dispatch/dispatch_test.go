package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/voxline/voxline/pkg/directive"
	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/script"
	"github.com/voxline/voxline/pkg/slots"
)

type fakeClient struct {
	calls   int
	method  string
	path    string
	payload map[string]any
	result  map[string]any
	err     error
}

func (f *fakeClient) Invoke(_ context.Context, method, path string, payload map[string]any) (map[string]any, error) {
	f.calls++
	f.method = method
	f.path = path
	f.payload = payload
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func bookingNode() *script.Node {
	return &script.Node{
		ID: "collect",
		Endpoint: &script.Endpoint{
			Name:          "create_booking",
			Method:        "POST",
			Path:          "/bookings",
			RequiredSlots: []string{"patient_name", "preferred_date"},
			OutputSlots:   map[string]string{"id": "booking_id", "time": "booked_time"},
		},
	}
}

func filledStore(t *testing.T) *slots.Store {
	t.Helper()
	store := slots.NewStore()
	if err := store.Set("patient_name", slots.String("Ada", slots.ProvenanceConfirmed)); err != nil {
		t.Fatal(err)
	}
	if err := store.Set("preferred_date", slots.String("2026-09-01", slots.ProvenanceConfirmed)); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestTryDispatchNoDirective(t *testing.T) {
	client := &fakeClient{}
	d := NewDispatcher(client, nil)
	out := d.TryDispatch(context.Background(), bookingNode(), filledStore(t), directive.Extraction{})
	if out.Kind != OutcomeNone || client.calls != 0 {
		t.Fatalf("kind=%v calls=%d", out.Kind, client.calls)
	}
}

func TestTryDispatchInvalidNeverTouchesNetwork(t *testing.T) {
	client := &fakeClient{}
	d := NewDispatcher(client, nil)

	cases := []struct {
		name  string
		node  *script.Node
		store *slots.Store
		ex    directive.Extraction
	}{
		{
			name:  "wrong endpoint name",
			node:  bookingNode(),
			store: filledStore(t),
			ex:    directive.Extraction{Calls: []directive.APICall{{Name: "cancel_booking"}}},
		},
		{
			name:  "node without endpoint",
			node:  &script.Node{ID: "greet"},
			store: filledStore(t),
			ex:    directive.Extraction{Calls: []directive.APICall{{Name: "create_booking"}}},
		},
		{
			name:  "required slots unset",
			node:  bookingNode(),
			store: slots.NewStore(),
			ex:    directive.Extraction{Calls: []directive.APICall{{Name: "create_booking"}}},
		},
		{
			name:  "malformed payload",
			node:  bookingNode(),
			store: filledStore(t),
			ex:    directive.Extraction{Malformed: []string{"[API_CALL: create_booking {oops]"}},
		},
	}
	for _, tc := range cases {
		out := d.TryDispatch(context.Background(), tc.node, tc.store, tc.ex)
		if out.Kind != OutcomeInvalid {
			t.Errorf("%s: kind = %v", tc.name, out.Kind)
		}
	}
	if client.calls != 0 {
		t.Fatalf("invalid directives reached the network %d times", client.calls)
	}
}

func TestTryDispatchSuccessFillsOutputSlots(t *testing.T) {
	client := &fakeClient{result: map[string]any{"id": "B-42", "time": "10:30", "ignored": true}}
	d := NewDispatcher(client, nil)
	store := filledStore(t)

	ex := directive.Extraction{Calls: []directive.APICall{{
		Name:    "create_booking",
		Payload: map[string]any{"notes": "first visit"},
	}}}
	out := d.TryDispatch(context.Background(), bookingNode(), store, ex)
	if out.Kind != OutcomeSuccess {
		t.Fatalf("kind = %v detail=%q", out.Kind, out.Detail)
	}
	if client.method != "POST" || client.path != "/bookings" {
		t.Fatalf("sent %s %s", client.method, client.path)
	}
	if client.payload["patient_name"] != "Ada" || client.payload["notes"] != "first visit" {
		t.Fatalf("payload = %v", client.payload)
	}

	v, ok := store.Get("booking_id")
	if !ok || v.Text() != "B-42" || v.Provenance != slots.ProvenanceAPI {
		t.Fatalf("booking_id = %+v ok=%v", v, ok)
	}
	if _, ok := store.Get("ignored"); ok {
		t.Fatal("unmapped field written to store")
	}
}

func TestTryDispatchOnlyFirstCallRuns(t *testing.T) {
	client := &fakeClient{result: map[string]any{}}
	d := NewDispatcher(client, nil)
	ex := directive.Extraction{Calls: []directive.APICall{
		{Name: "create_booking"},
		{Name: "create_booking"},
	}}
	out := d.TryDispatch(context.Background(), bookingNode(), filledStore(t), ex)
	if out.Kind != OutcomeSuccess || client.calls != 1 {
		t.Fatalf("kind=%v calls=%d", out.Kind, client.calls)
	}
}

func TestTryDispatchTimeoutOutcome(t *testing.T) {
	client := &fakeClient{err: errorsx.Wrap(context.DeadlineExceeded, errorsx.ReasonBusinessTimeout, "timed out")}
	d := NewDispatcher(client, nil)
	ex := directive.Extraction{Calls: []directive.APICall{{Name: "create_booking"}}}
	out := d.TryDispatch(context.Background(), bookingNode(), filledStore(t), ex)
	if out.Kind != OutcomeTimeout {
		t.Fatalf("kind = %v", out.Kind)
	}
}

func TestTryDispatchRemoteErrorOutcome(t *testing.T) {
	client := &fakeClient{err: errors.New("boom")}
	d := NewDispatcher(client, nil)
	ex := directive.Extraction{Calls: []directive.APICall{{Name: "create_booking"}}}
	out := d.TryDispatch(context.Background(), bookingNode(), filledStore(t), ex)
	if out.Kind != OutcomeRemoteError {
		t.Fatalf("kind = %v", out.Kind)
	}
}
