package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "wolfroute/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies every *.sql file in dir in lexical order. Applied files
// are recorded in schema_migrations and skipped on later runs.
func (p *Postgres) MigrateDir(dir string) error {
    ctx := context.Background()
    if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
        return err
    }
    files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
    if err != nil { return err }
    sort.Strings(files)
    for _, f := range files {
        name := filepath.Base(f)
        var exists bool
        if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&exists); err != nil {
            return err
        }
        if exists { continue }
        body, err := os.ReadFile(f)
        if err != nil { return err }
        tx, err := p.db.BeginTx(ctx, nil)
        if err != nil { return err }
        if _, err := tx.ExecContext(ctx, string(body)); err != nil {
            _ = tx.Rollback()
            return fmt.Errorf("migration %s: %w", name, err)
        }
        if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
            _ = tx.Rollback()
            return err
        }
        if err := tx.Commit(); err != nil { return err }
    }
    return nil
}

// Datasets

const datasetCols = `id, name, COALESCE(description,''), format, num_customers, total_demand, capacity, COALESCE(fingerprint,''), COALESCE(file_path,''), created_at`

func scanDatasetMeta(row interface{ Scan(...any) error }, extra ...any) (model.DatasetMeta, error) {
    var m model.DatasetMeta
    var format string
    dest := append([]any{&m.ID, &m.Name, &m.Description, &format, &m.NumCustomers, &m.TotalDemand, &m.Capacity, &m.Fingerprint, &m.FilePath, &m.CreatedAt}, extra...)
    if err := row.Scan(dest...); err != nil { return m, err }
    m.Format = model.DatasetFormat(format)
    return m, nil
}

func (p *Postgres) CreateDataset(ctx context.Context, ds model.Dataset) (model.Dataset, error) {
    if ds.ID == "" { ds.ID = uuid.New().String() }
    if ds.CreatedAt.IsZero() { ds.CreatedAt = time.Now().UTC() }
    data, err := json.Marshal(ds.Data)
    if err != nil { return model.Dataset{}, err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO datasets (id, name, description, format, num_customers, total_demand, capacity, fingerprint, file_path, vrp_data, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description, format=EXCLUDED.format,
            num_customers=EXCLUDED.num_customers, total_demand=EXCLUDED.total_demand, capacity=EXCLUDED.capacity,
            fingerprint=EXCLUDED.fingerprint, file_path=EXCLUDED.file_path, vrp_data=EXCLUDED.vrp_data`,
        ds.ID, ds.Name, nullIfEmpty(ds.Description), string(ds.Format), ds.NumCustomers, ds.TotalDemand, ds.Capacity,
        nullIfEmpty(ds.Fingerprint), nullIfEmpty(ds.FilePath), data, ds.CreatedAt)
    if err != nil { return model.Dataset{}, err }
    return ds, nil
}

func (p *Postgres) getDataset(ctx context.Context, where string, arg any) (model.Dataset, error) {
    var raw []byte
    row := p.db.QueryRowContext(ctx, `SELECT `+datasetCols+`, vrp_data FROM datasets WHERE `+where+` LIMIT 1`, arg)
    meta, err := scanDatasetMeta(row, &raw)
    if errors.Is(err, sql.ErrNoRows) { return model.Dataset{}, fmt.Errorf("dataset %v: %w", arg, ErrNotFound) }
    if err != nil { return model.Dataset{}, err }
    ds := model.Dataset{DatasetMeta: meta}
    if err := json.Unmarshal(raw, &ds.Data); err != nil { return model.Dataset{}, fmt.Errorf("dataset %s: decode vrp_data: %w", meta.ID, err) }
    return ds, nil
}

func (p *Postgres) GetDataset(ctx context.Context, id string) (model.Dataset, error) {
    return p.getDataset(ctx, `id=$1`, id)
}

func (p *Postgres) FindDatasetByFingerprint(ctx context.Context, fingerprint string) (model.Dataset, error) {
    return p.getDataset(ctx, `fingerprint=$1`, fingerprint)
}

func (p *Postgres) ListDatasets(ctx context.Context, cursor string, limit int) ([]model.DatasetMeta, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT `+datasetCols+` FROM datasets WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT `+datasetCols+` FROM datasets ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.DatasetMeta{}
    var last string
    for rows.Next() {
        m, err := scanDatasetMeta(rows)
        if err != nil { return nil, "", err }
        out = append(out, m)
        last = m.ID
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteDataset(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM datasets WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return fmt.Errorf("dataset %s: %w", id, ErrNotFound) }
    return nil
}

// Jobs

const jobCols = `id, dataset_id, COALESCE(name,''), status, config, created_at, started_at, completed_at, COALESCE(error_message,'')`

func scanJob(row interface{ Scan(...any) error }) (model.Job, error) {
    var j model.Job
    var status string
    var cfg []byte
    var started, completed sql.NullTime
    if err := row.Scan(&j.ID, &j.DatasetID, &j.Name, &status, &cfg, &j.CreatedAt, &started, &completed, &j.Error); err != nil {
        return j, err
    }
    j.Status = model.JobStatus(status)
    if started.Valid { t := started.Time; j.StartedAt = &t }
    if completed.Valid { t := completed.Time; j.CompletedAt = &t }
    if len(cfg) > 0 {
        if err := json.Unmarshal(cfg, &j.Config); err != nil { return j, fmt.Errorf("job %s: decode config: %w", j.ID, err) }
    }
    return j, nil
}

func (p *Postgres) CreateJob(ctx context.Context, job model.Job) error {
    cfg, err := json.Marshal(job.Config)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO jobs (id, dataset_id, name, status, config, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
        job.ID, job.DatasetID, nullIfEmpty(job.Name), string(job.Status), cfg, job.CreatedAt)
    return err
}

func (p *Postgres) GetJob(ctx context.Context, id string) (model.Job, error) {
    j, err := scanJob(p.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id=$1`, id))
    if errors.Is(err, sql.ErrNoRows) { return model.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound) }
    return j, err
}

func (p *Postgres) ListJobs(ctx context.Context, f model.JobFilter) ([]model.Job, int, error) {
    where := []string{"TRUE"}
    args := []any{}
    if f.DatasetID != "" {
        args = append(args, f.DatasetID)
        where = append(where, fmt.Sprintf("dataset_id=$%d", len(args)))
    }
    if f.Status != "" {
        args = append(args, string(f.Status))
        where = append(where, fmt.Sprintf("status=$%d", len(args)))
    }
    cond := strings.Join(where, " AND ")
    var total int
    if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE `+cond, args...).Scan(&total); err != nil {
        return nil, 0, err
    }
    limit := f.Limit
    if limit <= 0 || limit > 500 { limit = 100 }
    args = append(args, limit, max(f.Skip, 0))
    q := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, jobCols, cond, len(args)-1, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, 0, err }
    defer rows.Close()
    out := []model.Job{}
    for rows.Next() {
        j, err := scanJob(rows)
        if err != nil { return nil, 0, err }
        out = append(out, j)
    }
    return out, total, rows.Err()
}

// TransitionJob is a single conditional UPDATE so concurrent callers cannot
// both win the same transition.
func (p *Postgres) TransitionJob(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus, errMsg string) (model.Job, error) {
    fromS := make([]string, len(from))
    for i, s := range from { fromS[i] = string(s) }
    row := p.db.QueryRowContext(ctx, `UPDATE jobs SET status=$2,
            started_at = CASE WHEN $2='running' THEN now() ELSE started_at END,
            completed_at = CASE WHEN $2 IN ('completed','failed','cancelled') THEN now() ELSE completed_at END,
            error_message = COALESCE($3, error_message)
        WHERE id=$1 AND status = ANY($4::text[])
        RETURNING `+jobCols, id, string(to), nullIfEmpty(errMsg), pqStringArray(fromS))
    j, err := scanJob(row)
    if err == nil { return j, nil }
    if !errors.Is(err, sql.ErrNoRows) { return model.Job{}, err }
    cur, gerr := p.GetJob(ctx, id)
    if gerr != nil { return model.Job{}, gerr }
    return cur, fmt.Errorf("job %s is %s: %w", id, cur.Status, ErrConflict)
}

func (p *Postgres) DeleteJob(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return fmt.Errorf("job %s: %w", id, ErrNotFound) }
    return nil
}

func (p *Postgres) SaveJobResult(ctx context.Context, res model.JobResult) error {
    routes, _ := json.Marshal(res.Routes)
    hist, _ := json.Marshal(res.ConvergenceHistory)
    details, _ := json.Marshal(res.RouteDetails)
    _, err := p.db.ExecContext(ctx, `INSERT INTO job_results (job_id, routes, best_fitness, convergence_history, runtime_seconds, route_details)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (job_id) DO UPDATE SET routes=EXCLUDED.routes, best_fitness=EXCLUDED.best_fitness,
            convergence_history=EXCLUDED.convergence_history, runtime_seconds=EXCLUDED.runtime_seconds, route_details=EXCLUDED.route_details`,
        res.JobID, routes, res.BestFitness, hist, res.Runtime, details)
    return err
}

func (p *Postgres) GetJobResult(ctx context.Context, jobID string) (model.JobResult, error) {
    r := model.JobResult{JobID: jobID}
    var routes, hist, details []byte
    err := p.db.QueryRowContext(ctx, `SELECT routes, best_fitness, convergence_history, runtime_seconds, route_details FROM job_results WHERE job_id=$1`, jobID).
        Scan(&routes, &r.BestFitness, &hist, &r.Runtime, &details)
    if errors.Is(err, sql.ErrNoRows) { return r, fmt.Errorf("result for job %s: %w", jobID, ErrNotFound) }
    if err != nil { return r, err }
    _ = json.Unmarshal(routes, &r.Routes)
    _ = json.Unmarshal(hist, &r.ConvergenceHistory)
    if len(details) > 0 { _ = json.Unmarshal(details, &r.RouteDetails) }
    return r, nil
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, nullIfEmpty(req.Secret))
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    want, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id, url, COALESCE(secret,''), events FROM subscriptions WHERE events @> $1::jsonb`, string(want))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id, url, COALESCE(secret,''), events FROM subscriptions WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id, url, COALESCE(secret,''), events FROM subscriptions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    _, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    return err
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`, nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    if err != nil { return err }
    // move to DLQ
    _, err = p.db.ExecContext(ctx, `INSERT INTO webhook_dlq (id, delivery_id, event_type, url, payload, attempts, last_error)
        SELECT gen_random_uuid()::text, id, event_type, url, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE id > $1`
    args := []any{cursor}
    if status != "" {
        q += ` AND status=$2 ORDER BY id LIMIT $3`
        args = append(args, status, limit)
    } else {
        q += ` ORDER BY id LIMIT $2`
        args = append(args, limit)
    }
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

// computeDedupKey prefers the event id in the payload and falls back to a
// truncated content hash.
func computeDedupKey(payload []byte) string {
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

// pgx encodes []string as text[]; an empty list is sent as NULL so ANY() matches nothing.
func pqStringArray(v []string) any {
    if len(v) == 0 { return nil }
    return v
}
