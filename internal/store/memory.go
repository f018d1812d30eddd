package store

import (
    "context"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "wolfroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu       sync.Mutex
    datasets map[string]model.Dataset     // id -> dataset
    dsOrder  []string                     // dataset ids in insertion order
    jobs     map[string]model.Job         // id -> job
    results  map[string]model.JobResult   // job id -> result
    subs     map[string]model.Subscription // id -> subscription
    subOrder []string
    // Webhooks queue state
    deliveries map[string]*memDelivery // id -> delivery state
    delOrder   []string
    dlq        []map[string]any // dead-lettered deliveries
}

func NewMemory() *Memory {
    return &Memory{
        datasets: map[string]model.Dataset{},
        jobs: map[string]model.Job{},
        results: map[string]model.JobResult{},
        subs: map[string]model.Subscription{},
        deliveries: map[string]*memDelivery{},
        dlq: []map[string]any{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

// Datasets

func (m *Memory) CreateDataset(ctx context.Context, ds model.Dataset) (model.Dataset, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if ds.ID == "" { ds.ID = uuid.New().String() }
    if ds.CreatedAt.IsZero() { ds.CreatedAt = time.Now().UTC() }
    if _, exists := m.datasets[ds.ID]; !exists { m.dsOrder = append(m.dsOrder, ds.ID) }
    ds.Data = copyVRP(ds.Data)
    m.datasets[ds.ID] = ds
    return ds, nil
}

func (m *Memory) GetDataset(ctx context.Context, id string) (model.Dataset, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ds, ok := m.datasets[id]
    if !ok { return model.Dataset{}, fmt.Errorf("dataset %s: %w", id, ErrNotFound) }
    ds.Data = copyVRP(ds.Data)
    return ds, nil
}

func (m *Memory) FindDatasetByFingerprint(ctx context.Context, fingerprint string) (model.Dataset, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, id := range m.dsOrder {
        if ds := m.datasets[id]; fingerprint != "" && ds.Fingerprint == fingerprint {
            ds.Data = copyVRP(ds.Data)
            return ds, nil
        }
    }
    return model.Dataset{}, fmt.Errorf("dataset fingerprint %s: %w", fingerprint, ErrNotFound)
}

func (m *Memory) ListDatasets(ctx context.Context, cursor string, limit int) ([]model.DatasetMeta, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    start := 0
    if cursor != "" {
        for i, id := range m.dsOrder {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.DatasetMeta{}
    next := ""
    for i := start; i < len(m.dsOrder); i++ {
        out = append(out, m.datasets[m.dsOrder[i]].DatasetMeta)
        if len(out) == limit {
            if i+1 < len(m.dsOrder) { next = m.dsOrder[i] }
            break
        }
    }
    return out, next, nil
}

func (m *Memory) DeleteDataset(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.datasets[id]; !ok { return fmt.Errorf("dataset %s: %w", id, ErrNotFound) }
    delete(m.datasets, id)
    m.dsOrder = removeID(m.dsOrder, id)
    return nil
}

// Jobs

func (m *Memory) CreateJob(ctx context.Context, job model.Job) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, exists := m.jobs[job.ID]; exists { return fmt.Errorf("job %s already exists", job.ID) }
    m.jobs[job.ID] = job
    return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (model.Job, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[id]
    if !ok { return model.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound) }
    return j, nil
}

// ListJobs returns jobs newest first.
func (m *Memory) ListJobs(ctx context.Context, f model.JobFilter) ([]model.Job, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    matched := []model.Job{}
    for _, j := range m.jobs {
        if f.DatasetID != "" && j.DatasetID != f.DatasetID { continue }
        if f.Status != "" && j.Status != f.Status { continue }
        matched = append(matched, j)
    }
    sort.SliceStable(matched, func(a, b int) bool {
        if matched[a].CreatedAt.Equal(matched[b].CreatedAt) { return matched[a].ID < matched[b].ID }
        return matched[a].CreatedAt.After(matched[b].CreatedAt)
    })
    total := len(matched)
    if f.Skip > 0 {
        if f.Skip >= len(matched) { return []model.Job{}, total, nil }
        matched = matched[f.Skip:]
    }
    if f.Limit > 0 && len(matched) > f.Limit { matched = matched[:f.Limit] }
    return matched, total, nil
}

func (m *Memory) TransitionJob(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus, errMsg string) (model.Job, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[id]
    if !ok { return model.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound) }
    if !contains(from, j.Status) {
        return j, fmt.Errorf("job %s is %s: %w", id, j.Status, ErrConflict)
    }
    stamp(&j, to, errMsg, time.Now().UTC())
    m.jobs[id] = j
    return j, nil
}

func (m *Memory) DeleteJob(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.jobs[id]; !ok { return fmt.Errorf("job %s: %w", id, ErrNotFound) }
    delete(m.jobs, id)
    delete(m.results, id)
    return nil
}

func (m *Memory) SaveJobResult(ctx context.Context, res model.JobResult) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.jobs[res.JobID]; !ok { return fmt.Errorf("job %s: %w", res.JobID, ErrNotFound) }
    m.results[res.JobID] = res
    return nil
}

func (m *Memory) GetJobResult(ctx context.Context, jobID string) (model.JobResult, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.results[jobID]
    if !ok { return model.JobResult{}, fmt.Errorf("result for job %s: %w", jobID, ErrNotFound) }
    return r, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: append([]string(nil), req.Events...), Secret: req.Secret}
    m.subs[s.ID] = s
    m.subOrder = append(m.subOrder, s.ID)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Subscription{}
    for _, id := range m.subOrder {
        s := m.subs[id]
        for _, e := range s.Events {
            if e == eventType { out = append(out, s); break }
        }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    start := 0
    if cursor != "" {
        for i, id := range m.subOrder {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Subscription{}
    next := ""
    for i := start; i < len(m.subOrder); i++ {
        out = append(out, m.subs[m.subOrder[i]])
        if len(out) == limit {
            if i+1 < len(m.subOrder) { next = m.subOrder[i] }
            break
        }
    }
    return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    delete(m.subs, id)
    m.subOrder = removeID(m.subOrder, id)
    return nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending", Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.delOrder = append(m.delOrder, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.delOrder {
        d := m.deliveries[id]
        if d == nil { continue }
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d != nil {
        d.Status = "failed"
        d.Attempts++
        d.LastError = lastError
    }
    m.dlq = append(m.dlq, map[string]any{"id": id, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for _, id := range m.delOrder {
        d := m.deliveries[id]
        if d == nil { continue }
        if status == "" || d.Status == status {
            item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
            if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
            if d.LastError != "" { item["lastError"] = d.LastError }
            out = append(out, item)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, "", nil
}

func removeID(ids []string, id string) []string {
    for i, v := range ids {
        if v == id { return append(ids[:i:i], ids[i+1:]...) }
    }
    return ids
}

func copyVRP(d model.VRPData) model.VRPData {
    d.Customers = append([]model.Customer(nil), d.Customers...)
    return d
}
