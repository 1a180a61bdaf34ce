package channel

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
)

// RedisBus is the pub/sub driver for terminals that sit next to the backend
// on the same Redis. Outbound events go to pos:<shop>:out:<event>; the
// backend pushes on pos:<shop>:push:<event>.
type RedisBus struct {
	Registry

	rdb       *redis.Client
	shop      string
	pubsub    *redis.PubSub
	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func OutboundChannel(shop, event string) string {
	return fmt.Sprintf("pos:%s:out:%s", shop, event)
}

func pushPattern(shop string) string {
	return fmt.Sprintf("pos:%s:push:*", shop)
}

func pushEvent(shop, channel string) string {
	return strings.TrimPrefix(channel, fmt.Sprintf("pos:%s:push:", shop))
}

func NewRedisBus(ctx context.Context, rdb *redis.Client, shop string) (*RedisBus, error) {
	pubsub := rdb.PSubscribe(ctx, pushPattern(shop))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pushPattern(shop), err)
	}

	b := &RedisBus{rdb: rdb, shop: shop, pubsub: pubsub, done: make(chan struct{})}
	b.connected.Store(true)
	go b.loop(pubsub.Channel())
	return b, nil
}

func (b *RedisBus) loop(ch <-chan *redis.Message) {
	defer close(b.done)
	for msg := range ch {
		b.deliver(msg.Channel, []byte(msg.Payload))
	}
	b.connected.Store(false)
}

func (b *RedisBus) deliver(channel string, payload []byte) {
	env, err := Decode(payload)
	if err != nil {
		log.Printf("channel: dropping message on %s: %v", channel, err)
		return
	}
	if ev := pushEvent(b.shop, channel); ev != "" && ev != channel && ev != env.Event {
		log.Printf("channel: %s carries event %q, using %q", channel, env.Event, ev)
		env.Event = ev
	}
	b.Dispatch(env.Event, env.Data)
}

func (b *RedisBus) Emit(ctx context.Context, event string, payload any) error {
	if !b.connected.Load() {
		return ErrNotConnected
	}
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, OutboundChannel(b.shop, event), frame).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}
	return nil
}

func (b *RedisBus) Connected() bool {
	return b.connected.Load()
}

func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.connected.Store(false)
		err = b.pubsub.Close()
		<-b.done
	})
	return err
}
