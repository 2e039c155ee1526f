package coordination

import (
	"context"
	"sync"
)

// Message kinds exchanged between coordinating instances.
const (
	KindRegister   = "register"
	KindUnregister = "unregister"
	KindQuery      = "query"
	KindResponse   = "response"
	KindCleanup    = "cleanup"
)

// Message is the broadcast wire format.
type Message struct {
	Kind    string `json:"kind"`
	From    string `json:"from"`
	TripID  string `json:"tripId,omitempty"`
	QueryID string `json:"queryId,omitempty"`
	Entry   *Entry `json:"entry,omitempty"`
}

// Broadcaster delivers messages to every subscribed instance, possibly
// including the sender.
type Broadcaster interface {
	Publish(ctx context.Context, msg Message) error

	// Subscribe calls fn for every message until cancel is called. fn runs
	// on a broadcaster goroutine and may publish.
	Subscribe(ctx context.Context, fn func(Message)) (cancel func(), err error)
}

// Hub is an in-process Broadcaster. Each subscriber has its own inbox and
// goroutine, so a slow handler delays only itself.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*inbox[Message]
	nextID int
	wg     sync.WaitGroup
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*inbox[Message])}
}

func (h *Hub) Publish(_ context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, in := range h.subs {
		in.Put(msg)
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, fn func(Message)) (func(), error) {
	in := newInbox[Message](16)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = in
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			msg, ok := in.Take()
			if !ok {
				return
			}
			fn(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			in.Close()
		})
	}, nil
}

// Close stops every subscriber and waits for their goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	for id, in := range h.subs {
		in.Close()
		delete(h.subs, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}
