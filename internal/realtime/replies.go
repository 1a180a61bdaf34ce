package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"comanda-pos/internal/channel"
)

var (
	ErrNoResponse = errors.New("no response from server")
	ErrSuperseded = errors.New("request replaced by a newer one")
	ErrCanceled   = errors.New("request canceled")
)

// Replies holds at most one pending one-shot reply per logical slot.
type Replies struct {
	ch channel.Channel

	mu      sync.Mutex
	pending map[string]*Pending
}

func NewReplies(ch channel.Channel) *Replies {
	return &Replies{ch: ch, pending: make(map[string]*Pending)}
}

// Pending is one registered expectation. It settles exactly once: with the
// first matching payload, on timeout, or when it is torn down.
type Pending struct {
	slot  string
	owner *Replies

	mu      sync.Mutex
	settled bool
	sub     channel.Subscription
	timer   *time.Timer

	once sync.Once
	done chan struct{}
	data json.RawMessage
	err  error
}

// Expect registers a handler for the next event whose payload satisfies
// match (nil matches anything). A pending expectation in the same slot is
// torn down first. Register before emitting the request.
func (r *Replies) Expect(slot, event string, timeout time.Duration, match func(json.RawMessage) bool) *Pending {
	p := &Pending{slot: slot, owner: r, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.pending[slot]
	r.pending[slot] = p
	r.mu.Unlock()
	if prev != nil {
		prev.finish(nil, ErrSuperseded)
	}

	sub := r.ch.On(event, func(data json.RawMessage) {
		if match != nil && !match(data) {
			return
		}
		p.finish(data, nil)
	})
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() { p.finish(nil, ErrNoResponse) })
	}

	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		sub.Unsubscribe()
		if timer != nil {
			timer.Stop()
		}
		return p
	}
	p.sub, p.timer = sub, timer
	p.mu.Unlock()
	return p
}

// Busy reports whether slot has an unsettled expectation.
func (r *Replies) Busy(slot string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[slot]
	return ok
}

func (r *Replies) Cancel(slot string) {
	r.mu.Lock()
	p := r.pending[slot]
	r.mu.Unlock()
	if p != nil {
		p.finish(nil, ErrCanceled)
	}
}

// Close tears down every pending expectation.
func (r *Replies) Close() {
	r.mu.Lock()
	all := make([]*Pending, 0, len(r.pending))
	for _, p := range r.pending {
		all = append(all, p)
	}
	r.mu.Unlock()
	for _, p := range all {
		p.finish(nil, ErrCanceled)
	}
}

func (p *Pending) finish(data json.RawMessage, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.settled = true
		sub, timer := p.sub, p.timer
		p.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if sub != nil {
			sub.Unsubscribe()
		}
		p.owner.mu.Lock()
		if p.owner.pending[p.slot] == p {
			delete(p.owner.pending, p.slot)
		}
		p.owner.mu.Unlock()

		p.data, p.err = data, err
		close(p.done)
	})
}

// Cancel tears the expectation down without a reply.
func (p *Pending) Cancel() {
	p.finish(nil, ErrCanceled)
}

// Wait blocks until the expectation settles or ctx ends. Ending ctx tears
// the expectation down.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.finish(nil, ctx.Err())
		<-p.done
	}
	return p.data, p.err
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}
