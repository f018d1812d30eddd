package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that progress of
// a job running in one replica reaches subscribers connected to another.
type RedisBroker struct {
	rdb *redis.Client

	mu     sync.Mutex
	subs   map[chan SSEEvent]*redis.PubSub
	closed bool

	// out decouples Publish from the network; it drops when full.
	out  chan redisMsg
	done chan struct{}
}

type redisMsg struct {
	channel string
	payload []byte
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return newRedisBroker(rdb, 256), nil
}

func newRedisBroker(rdb *redis.Client, queue int) *RedisBroker {
	b := &RedisBroker{
		rdb:  rdb,
		subs: map[chan SSEEvent]*redis.PubSub{},
		out:  make(chan redisMsg, queue),
		done: make(chan struct{}),
	}
	go b.sendLoop()
	return b
}

func (b *RedisBroker) sendLoop() {
	defer close(b.done)
	for m := range b.out {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = b.rdb.Publish(ctx, m.channel, m.payload).Err()
		cancel()
	}
}

func (b *RedisBroker) Subscribe(jobID string) chan SSEEvent {
	ch := make(chan SSEEvent, subscriberBuffer)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(jobID))
	// wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

// Unsubscribe closes the PubSub; the forwarding goroutine then closes ch.
func (b *RedisBroker) Unsubscribe(jobID string, ch chan SSEEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(jobID string, evt SSEEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.out <- redisMsg{channel: b.chanName(jobID), payload: data}:
	default:
	}
}

// Close flushes queued events and closes the client. Events published
// afterwards are dropped.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.out)
	b.mu.Unlock()
	<-b.done

	b.mu.Lock()
	for ch, ps := range b.subs {
		_ = ps.Close()
		delete(b.subs, ch)
	}
	b.mu.Unlock()
	return b.rdb.Close()
}

func (b *RedisBroker) chanName(jobID string) string { return "job:" + jobID }
