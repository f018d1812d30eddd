package api

import (
	"sync"

	"wolfroute/internal/jobs"
)

type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Terminal reports whether the event ends a job's stream.
func (e SSEEvent) Terminal() bool {
	switch jobs.EventType(e.Type) {
	case jobs.EventCompleted, jobs.EventFailed, jobs.EventCancelled:
		return true
	}
	return false
}

type EventBroker interface {
	Subscribe(jobID string) chan SSEEvent
	Unsubscribe(jobID string, ch chan SSEEvent)
	Publish(jobID string, evt SSEEvent)
}

// subscriberBuffer is per subscriber; a slow reader loses progress events.
const subscriberBuffer = 32

// Broker fans job events out to in-process subscribers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // jobID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(jobID string) chan SSEEvent {
	ch := make(chan SSEEvent, subscriberBuffer)
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(jobID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[jobID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, jobID)
	}
	close(ch)
}

func (b *Broker) Publish(jobID string, evt SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[jobID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports how many channels follow jobID.
func (b *Broker) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// brokerEvents publishes coordinator events on an EventBroker.
type brokerEvents struct{ b EventBroker }

func (p brokerEvents) Publish(jobID string, evt jobs.Event) {
	p.b.Publish(jobID, toSSE(evt))
}

func toSSE(evt jobs.Event) SSEEvent {
	data := map[string]any{"jobId": evt.JobID}
	switch evt.Type {
	case jobs.EventProgress:
		data["iteration"] = evt.Iteration
		data["bestFitness"] = evt.BestFitness
	case jobs.EventCompleted:
		data["status"] = "completed"
		if evt.Result != nil {
			data["bestFitness"] = evt.Result.BestFitness
			data["routes"] = evt.Result.Routes
			data["runtimeSeconds"] = evt.Result.Runtime
		}
	case jobs.EventFailed:
		data["status"] = "failed"
		data["error"] = evt.Error
	case jobs.EventCancelled:
		data["status"] = "cancelled"
	}
	return SSEEvent{Type: string(evt.Type), Data: data}
}
