// Package channeltest provides an in-process channel.Channel for tests.
package channeltest

import (
	"context"
	"encoding/json"
	"sync"

	"comanda-pos/internal/channel"
)

type Emitted struct {
	Event   string
	Payload json.RawMessage
}

// Decode unmarshals the recorded payload into v.
func (e Emitted) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Recorder records every emit and lets tests push inbound events.
type Recorder struct {
	channel.Registry

	mu       sync.Mutex
	emitted  []Emitted
	offline  bool
	failWith error
	onEmit   func(Emitted)
}

func New() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, event string, payload any) error {
	r.mu.Lock()
	if r.offline {
		r.mu.Unlock()
		return channel.ErrNotConnected
	}
	if r.failWith != nil {
		err := r.failWith
		r.mu.Unlock()
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	e := Emitted{Event: event, Payload: data}
	r.emitted = append(r.emitted, e)
	hook := r.onEmit
	r.mu.Unlock()

	if hook != nil {
		hook(e)
	}
	return nil
}

func (r *Recorder) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.offline
}

func (r *Recorder) SetConnected(ok bool) {
	r.mu.Lock()
	r.offline = !ok
	r.mu.Unlock()
}

// FailEmits makes every later Emit return err; nil restores normal behavior.
func (r *Recorder) FailEmits(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// OnEmit runs f after each successful emit, outside the recorder lock. Tests
// use it to answer requests the way the backend would.
func (r *Recorder) OnEmit(f func(Emitted)) {
	r.mu.Lock()
	r.onEmit = f
	r.mu.Unlock()
}

// Push delivers an inbound event to the registered handlers.
func (r *Recorder) Push(event string, payload any) {
	var data json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	case string:
		data = json.RawMessage(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			panic(err)
		}
		data = b
	}
	r.Dispatch(event, data)
}

func (r *Recorder) Emitted() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.emitted...)
}

// Events returns the recorded emits of one event name.
func (r *Recorder) Events(event string) []Emitted {
	var out []Emitted
	for _, e := range r.Emitted() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Last() (Emitted, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.emitted) == 0 {
		return Emitted{}, false
	}
	return r.emitted[len(r.emitted)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.emitted = nil
	r.mu.Unlock()
}

var _ channel.Channel = (*Recorder)(nil)
