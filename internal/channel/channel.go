// Package channel is the named-event push channel between the terminal and
// the backend. Components receive a Channel handle; the composition root owns
// its lifecycle.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"comanda-pos/internal/poserr"
)

// Lifecycle events dispatched locally by the drivers.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

var ErrNotConnected = errors.New("channel not connected")

type Handler func(payload json.RawMessage)

type Subscription interface {
	Unsubscribe()
}

type Channel interface {
	Emit(ctx context.Context, event string, payload any) error
	On(event string, h Handler) Subscription
	Connected() bool
}

// EmitError classifies a failed Emit: a missing connection is a
// connectivity error, anything else a transport error.
func EmitError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) {
		return poserr.Connectivity(op, "not connected to the server")
	}
	return poserr.Transport(op, err)
}

// Envelope is the frame both drivers put on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errors.New("frame without event name")
	}
	return env, nil
}

// Once registers h for a single delivery of event.
func Once(ch Channel, event string, h Handler) Subscription {
	var (
		once sync.Once
		mu   sync.Mutex
		sub  Subscription
	)
	fired := false
	sub = ch.On(event, func(p json.RawMessage) {
		once.Do(func() {
			mu.Lock()
			fired = true
			s := sub
			mu.Unlock()
			if s != nil {
				s.Unsubscribe()
			}
			h(p)
		})
	})
	mu.Lock()
	if fired {
		sub.Unsubscribe()
	}
	mu.Unlock()
	return sub
}

// -- Handler registry shared by the drivers --

type Registry struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string]map[uint64]Handler
}

func (r *Registry) On(event string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]map[uint64]Handler)
	}
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[uint64]Handler)
	}
	r.next++
	id := r.next
	r.handlers[event][id] = h
	return &subscription{fn: func() { r.off(event, id) }}
}

func (r *Registry) off(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers[event], id)
	if len(r.handlers[event]) == 0 {
		delete(r.handlers, event)
	}
}

// Dispatch calls every handler of event in registration order. A panicking
// handler is logged and does not stop the others.
func (r *Registry) Dispatch(event string, data json.RawMessage) {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.handlers[event]))
	for id := range r.handlers[event] {
		ids = append(ids, id)
	}
	hs := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		hs = append(hs, r.handlers[event][id])
	}
	r.mu.RUnlock()

	for _, h := range hs {
		safeCall(event, h, data)
	}
}

func (r *Registry) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

func safeCall(event string, h Handler, data json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("channel: handler for %q panicked: %v", event, rec)
		}
	}()
	h(data)
}

type subscription struct {
	once sync.Once
	fn   func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.fn)
}
