package api

import (
	"testing"
	"time"

	"wolfroute/internal/jobs"
	"wolfroute/internal/model"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	jid := "j1"
	ch := b.Subscribe(jid)

	evt := SSEEvent{Type: "job.progress", Data: map[string]any{"iteration": 1}}
	b.Publish(jid, evt)
	b.Publish("other", SSEEvent{Type: "job.progress"})

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["iteration"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(jid, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	if n := b.Subscribers(jid); n != 0 {
		t.Fatalf("subscribers = %d after unsubscribe", n)
	}
	// a second unsubscribe is a no-op
	b.Unsubscribe(jid, ch)
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("j")
	defer b.Unsubscribe("j", ch)
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish("j", SSEEvent{Type: "job.progress", Data: map[string]any{"iteration": i}})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
}

func TestBrokerEventsAdapter(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("j")
	defer b.Unsubscribe("j", ch)
	pub := brokerEvents{b}

	pub.Publish("j", jobs.Event{Type: jobs.EventProgress, JobID: "j", Iteration: 5, BestFitness: 12.5})
	res := &model.JobResult{JobID: "j", BestFitness: 10, Routes: [][]int{{0, 1, 0}}}
	pub.Publish("j", jobs.Event{Type: jobs.EventCompleted, JobID: "j", Result: res})

	first := <-ch
	if first.Terminal() || first.Data["iteration"] != 5 || first.Data["bestFitness"] != 12.5 {
		t.Fatalf("unexpected progress event %+v", first)
	}
	last := <-ch
	if !last.Terminal() || last.Data["status"] != "completed" || last.Data["bestFitness"] != 10.0 {
		t.Fatalf("unexpected terminal event %+v", last)
	}
}
