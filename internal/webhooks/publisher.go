package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"wolfroute/internal/model"
	"wolfroute/internal/store"
)

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobCancelled = "job.cancelled"
)

// Events lists the event types subscriptions may ask for.
var Events = []string{EventJobCompleted, EventJobFailed, EventJobCancelled}

type Publisher struct {
	Store store.Store
	Log   logr.Logger
}

func NewPublisher(s store.Store, log logr.Logger) *Publisher {
	return &Publisher{Store: s, Log: log.WithName("webhooks")}
}

// Emit enqueues one delivery per subscription to eventType.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		p.Log.Error(err, "load subscriptions", "event", eventType)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   "evt_" + uuid.New().String(),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Error(err, "enqueue webhook", "subscription", s.ID, "event", eventType)
		}
	}
}

// JobFinished maps a terminal job to its webhook event.
func (p *Publisher) JobFinished(ctx context.Context, job model.Job, result *model.JobResult) {
	var eventType string
	switch job.Status {
	case model.JobCompleted:
		eventType = EventJobCompleted
	case model.JobFailed:
		eventType = EventJobFailed
	case model.JobCancelled:
		eventType = EventJobCancelled
	default:
		return
	}
	data := map[string]any{"job": job}
	if result != nil {
		data["result"] = map[string]any{
			"bestFitness":    result.BestFitness,
			"routes":         result.Routes,
			"runtimeSeconds": result.Runtime,
		}
	}
	p.Emit(ctx, eventType, data)
}
