package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxline/voxline/pkg/businessapi"
	"github.com/voxline/voxline/pkg/directive"
	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/logging"
	"github.com/voxline/voxline/pkg/metrics"
	"github.com/voxline/voxline/pkg/script"
	"github.com/voxline/voxline/pkg/slots"
)

// OutcomeKind classifies what happened to a dispatch attempt.
type OutcomeKind int

const (
	// OutcomeNone means the reply carried no API directive.
	OutcomeNone OutcomeKind = iota
	// OutcomeInvalid means the directive was rejected before any
	// network traffic happened.
	OutcomeInvalid
	OutcomeSuccess
	OutcomeTimeout
	OutcomeRemoteError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeRemoteError:
		return "remote_error"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind   OutcomeKind
	Call   string
	Detail string
	Result map[string]any
}

// Dispatcher validates and executes business API directives emitted by
// the language model.
type Dispatcher struct {
	client   businessapi.Client
	observer metrics.Observer
	logger   *slog.Logger
}

func NewDispatcher(client businessapi.Client, observer metrics.Observer) *Dispatcher {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Dispatcher{
		client:   client,
		observer: observer,
		logger:   logging.NewComponentLogger(slog.Default(), "dispatch"),
	}
}

// TryDispatch executes at most one API call for this turn. Validation
// runs entirely locally; an invalid directive never reaches the
// network. Extra directives beyond the first are logged and ignored.
// On success the endpoint's output mapping is written into the slot
// store with api-derived provenance.
func (d *Dispatcher) TryDispatch(ctx context.Context, node *script.Node, store *slots.Store, ex directive.Extraction) Outcome {
	if len(ex.Malformed) > 0 {
		d.logger.Warn("malformed api directive",
			"raw", ex.Malformed[0], "reason", string(errorsx.ReasonDirectiveInvalid))
		d.record("dispatch_invalid", 0)
		return Outcome{Kind: OutcomeInvalid, Detail: "malformed directive payload"}
	}
	if len(ex.Calls) == 0 {
		return Outcome{Kind: OutcomeNone}
	}
	call := ex.Calls[0]
	for _, extra := range ex.Calls[1:] {
		d.logger.Warn("ignoring extra api directive", "call", extra.Name)
	}

	ep := node.Endpoint
	if ep == nil {
		d.record("dispatch_invalid", 0)
		return Outcome{Kind: OutcomeInvalid, Call: call.Name, Detail: "node declares no endpoint"}
	}
	if call.Name != ep.Name {
		d.record("dispatch_invalid", 0)
		return Outcome{Kind: OutcomeInvalid, Call: call.Name,
			Detail: fmt.Sprintf("directive %q does not match endpoint %q", call.Name, ep.Name)}
	}
	if missing := store.Missing(ep.RequiredSlots); len(missing) > 0 {
		d.record("dispatch_invalid", 0)
		return Outcome{Kind: OutcomeInvalid, Call: call.Name,
			Detail: fmt.Sprintf("required slots unset: %v", missing)}
	}

	payload := d.buildPayload(ep, store, call.Payload)
	started := time.Now()
	result, err := d.client.Invoke(ctx, ep.Method, ep.Path, payload)
	elapsed := time.Since(started)
	if err != nil {
		if errorsx.HasReason(err, errorsx.ReasonBusinessTimeout) {
			d.logger.Warn("business call timed out", "call", call.Name, "duration_ms", elapsed.Milliseconds())
			d.record("dispatch_timeout", float64(elapsed.Milliseconds()))
			return Outcome{Kind: OutcomeTimeout, Call: call.Name, Detail: err.Error()}
		}
		d.logger.Warn("business call failed", "call", call.Name, "error", err)
		d.record("dispatch_remote_error", float64(elapsed.Milliseconds()))
		return Outcome{Kind: OutcomeRemoteError, Call: call.Name, Detail: err.Error()}
	}

	for field, slot := range ep.OutputSlots {
		v, ok := result[field]
		if !ok {
			continue
		}
		if err := store.Set(slot, coerce(v)); err != nil {
			d.logger.Warn("output slot write refused", "slot", slot, "error", err)
		}
	}
	d.record("dispatch_success", float64(elapsed.Milliseconds()))
	return Outcome{Kind: OutcomeSuccess, Call: call.Name, Result: result}
}

// buildPayload starts from the endpoint's required slots and lets the
// model's own payload fill in anything extra without overriding them.
func (d *Dispatcher) buildPayload(ep *script.Endpoint, store *slots.Store, extra map[string]any) map[string]any {
	payload := make(map[string]any, len(ep.RequiredSlots)+len(extra))
	for k, v := range extra {
		payload[k] = v
	}
	for _, name := range ep.RequiredSlots {
		if v, ok := store.Get(name); ok {
			payload[name] = v.Text()
		}
	}
	return payload
}

func coerce(v any) slots.Value {
	switch val := v.(type) {
	case float64:
		return slots.Number(val, slots.ProvenanceAPI)
	case string:
		return slots.String(val, slots.ProvenanceAPI)
	default:
		return slots.String(fmt.Sprintf("%v", val), slots.ProvenanceAPI)
	}
}

func (d *Dispatcher) record(name string, value float64) {
	d.observer.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Value: value,
		Tags:  map[string]string{"source": "dispatch"},
	})
}
