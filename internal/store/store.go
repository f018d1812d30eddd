package store

import (
    "context"
    "errors"
    "time"

    "wolfroute/internal/model"
)

// Store is the persistence interface used by the API server and the job coordinator.
type Store interface {
    // Datasets
    CreateDataset(ctx context.Context, ds model.Dataset) (model.Dataset, error)
    GetDataset(ctx context.Context, id string) (model.Dataset, error)
    FindDatasetByFingerprint(ctx context.Context, fingerprint string) (model.Dataset, error)
    ListDatasets(ctx context.Context, cursor string, limit int) (items []model.DatasetMeta, nextCursor string, err error)
    DeleteDataset(ctx context.Context, id string) error

    // Jobs
    CreateJob(ctx context.Context, job model.Job) error
    GetJob(ctx context.Context, id string) (model.Job, error)
    ListJobs(ctx context.Context, f model.JobFilter) (items []model.Job, total int, err error)
    // TransitionJob moves a job to `to` only if its current status is one of
    // `from`. On mismatch it returns the unchanged job and ErrConflict.
    TransitionJob(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus, errMsg string) (model.Job, error)
    DeleteJob(ctx context.Context, id string) error
    SaveJobResult(ctx context.Context, res model.JobResult) error
    GetJobResult(ctx context.Context, jobID string) (model.JobResult, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
}

var (
    ErrNotFound = errors.New("not found")
    ErrConflict = errors.New("status conflict")
)

func contains(list []model.JobStatus, s model.JobStatus) bool {
    for _, v := range list {
        if v == s { return true }
    }
    return false
}

// stamp applies the timestamp side effects of moving a job to status `to`.
func stamp(j *model.Job, to model.JobStatus, errMsg string, now time.Time) {
    j.Status = to
    switch {
    case to == model.JobRunning:
        j.StartedAt = &now
    case to.Terminal():
        j.CompletedAt = &now
    }
    if errMsg != "" { j.Error = errMsg }
}
