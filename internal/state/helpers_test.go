package state

import (
	"time"

	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/event"
	"github.com/rickgao/tripsync/internal/router"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newTestStores() (*Stores, *router.Router, *clock.FakeClock) {
	clk := clock.Fake(t0)
	s := NewStores(clk, 3, nil)
	r := router.New(nil, nil)
	s.Register(r)
	return s, r, clk
}

// ev builds an envelope for trip-1 at version v, v seconds after t0.
func ev(id string, typ event.Type, v int64, actor string, p event.Payload) event.Envelope {
	return event.Envelope{
		ID:        id,
		Type:      typ,
		TripID:    "trip-1",
		ActorID:   actor,
		Timestamp: t0.Add(time.Duration(v) * time.Second),
		Version:   v,
		Metadata:  event.Metadata{Source: "api"},
		Payload:   p,
	}
}
