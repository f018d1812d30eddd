package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"wolfroute/internal/model"
	"wolfroute/internal/opt"
)

// Handle follows one submitted job. Background and synchronous callers get
// the same Handle; synchronous mode is Wait called immediately.
type Handle struct {
	id      string
	updates chan opt.Progress
	once    sync.Once
	done    chan struct{}
	dropped atomic.Int64

	// written once before done is closed
	status model.JobStatus
	result *model.JobResult
	errMsg string
}

func newHandle(id string, buffer int) *Handle {
	return &Handle{id: id, updates: make(chan opt.Progress, buffer), done: make(chan struct{})}
}

func (h *Handle) ID() string { return h.id }

// Updates delivers progress in iteration order. Updates are dropped when
// the buffer is full. The channel is closed once the optimizer has stopped
// and every buffered update has been handed over, before Done is closed.
func (h *Handle) Updates() <-chan opt.Progress { return h.updates }

// Done is closed when the job reached a terminal status and left the registry.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Status is the terminal status; it is empty until Done is closed.
func (h *Handle) Status() model.JobStatus {
	select {
	case <-h.done:
		return h.status
	default:
		return ""
	}
}

// Dropped counts progress updates this handle discarded.
func (h *Handle) Dropped() int64 { return h.dropped.Load() }

// Wait blocks until the job finishes or ctx ends. A cancelled job yields
// ErrCancelled; a failed one an error wrapping ErrFailed.
func (h *Handle) Wait(ctx context.Context) (model.JobResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return model.JobResult{}, ctx.Err()
	}
	switch h.status {
	case model.JobCompleted:
		return *h.result, nil
	case model.JobCancelled:
		return model.JobResult{}, ErrCancelled
	default:
		return model.JobResult{}, fmt.Errorf("%w: %s", ErrFailed, h.errMsg)
	}
}

// pump drains the optimizer's progress channel until it is closed.
func (h *Handle) pump(in <-chan opt.Progress, events EventPublisher) {
	defer h.closeUpdates()
	for p := range in {
		select {
		case h.updates <- p:
		default:
			h.dropped.Add(1)
		}
		if events != nil {
			events.Publish(h.id, Event{Type: EventProgress, JobID: h.id, Iteration: p.Iteration, BestFitness: p.BestFitness})
		}
	}
}

func (h *Handle) closeUpdates() { h.once.Do(func() { close(h.updates) }) }

func (h *Handle) complete(status model.JobStatus, result *model.JobResult, errMsg string) {
	h.closeUpdates()
	h.status, h.result, h.errMsg = status, result, errMsg
	close(h.done)
}
