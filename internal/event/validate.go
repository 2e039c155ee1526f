package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind classifies a raw frame.
type Kind int

const (
	KindInvalid Kind = iota
	KindEvent
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindControl:
		return "control"
	default:
		return "invalid"
	}
}

// Result is the outcome of Validate. Exactly one of Event, Control or
// Reason is meaningful, selected by Kind.
type Result struct {
	Kind    Kind
	Event   Envelope
	Control string
	Reason  string
}

// wireEnvelope is the inbound JSON shape before payload decoding.
type wireEnvelope struct {
	ID         string          `json:"id" validate:"required"`
	Type       Type            `json:"type" validate:"required"`
	ResourceID string          `json:"resourceId" validate:"required"`
	ActorID    string          `json:"actorId,omitempty"`
	Timestamp  string          `json:"timestamp" validate:"required"`
	Version    *int64          `json:"version" validate:"required,gte=0"`
	Metadata   *Metadata       `json:"metadata" validate:"required"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
}

type controlFrame struct {
	Type string `json:"type" validate:"required,oneof=connected pong duplicate_connection"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(TripUpdatedPayload)
		if p.Patch().Empty() {
			sl.ReportError(p.Name, "name", "Name", "atleastone", "")
		}
	}, TripUpdatedPayload{})
	return v
}

// Validate classifies raw. It never panics; malformed input yields
// KindInvalid with a reason.
func Validate(raw []byte) Result {
	env, envErr := parseEnvelope(raw)
	if envErr == nil {
		return Result{Kind: KindEvent, Event: env}
	}

	var unknown *unknownTypeError
	if errors.As(envErr, &unknown) {
		return Result{Kind: KindInvalid, Reason: envErr.Error()}
	}

	var cf controlFrame
	if json.Unmarshal(raw, &cf) == nil && validate.Struct(cf) == nil {
		return Result{Kind: KindControl, Control: cf.Type}
	}
	return Result{Kind: KindInvalid, Reason: envErr.Error()}
}

type unknownTypeError struct {
	typ Type
}

func (e *unknownTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", string(e.typ))
}

func parseEnvelope(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := validate.Struct(w); err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}

	newPayload, ok := payloadFactories[w.Type]
	if !ok {
		return Envelope{}, &unknownTypeError{typ: w.Type}
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope timestamp: %w", err)
	}

	payload := newPayload()
	if err := json.Unmarshal(w.Payload, payload); err != nil {
		return Envelope{}, fmt.Errorf("decode %s payload: %w", w.Type, err)
	}
	if err := validate.Struct(payload); err != nil {
		return Envelope{}, fmt.Errorf("%s payload: %w", w.Type, err)
	}

	return Envelope{
		ID:        w.ID,
		Type:      w.Type,
		TripID:    w.ResourceID,
		ActorID:   w.ActorID,
		Timestamp: ts.UTC(),
		Version:   *w.Version,
		Metadata:  *w.Metadata,
		Payload:   payload,
	}, nil
}

// Encode renders e in wire form. Used by tools and test servers.
func Encode(e Envelope) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("encode %s: nil payload", e.Type)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Type, err)
	}
	version := e.Version
	meta := e.Metadata
	return json.Marshal(wireEnvelope{
		ID:         e.ID,
		Type:       e.Type,
		ResourceID: e.TripID,
		ActorID:    e.ActorID,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		Version:    &version,
		Metadata:   &meta,
		Payload:    payload,
	})
}
