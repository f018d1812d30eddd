// Package jobs runs VRP solves as cancellable, progress-reporting jobs.
//
// A Coordinator owns the registry of active jobs and a bounded worker pool.
// Persisted jobs move pending -> running -> completed|failed|cancelled; each
// transition is a conditional update in the Repository, so readers never see
// a partially applied status. Ephemeral jobs submitted with Submit share the
// registry and the pool but are never persisted.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"wolfroute/internal/metrics"
	"wolfroute/internal/model"
	"wolfroute/internal/opt"
	"wolfroute/internal/store"
)

// Repository persists jobs and results. store.Store satisfies it.
type Repository interface {
	CreateJob(ctx context.Context, job model.Job) error
	GetJob(ctx context.Context, id string) (model.Job, error)
	ListJobs(ctx context.Context, f model.JobFilter) ([]model.Job, int, error)
	TransitionJob(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus, errMsg string) (model.Job, error)
	DeleteJob(ctx context.Context, id string) error
	SaveJobResult(ctx context.Context, res model.JobResult) error
	GetJobResult(ctx context.Context, jobID string) (model.JobResult, error)
}

// ProblemSource supplies the instance data a job refers to.
type ProblemSource interface {
	Problem(ctx context.Context, datasetID string) (model.VRPData, error)
}

// DatasetGetter is the part of store.Store a ProblemSource needs.
type DatasetGetter interface {
	GetDataset(ctx context.Context, id string) (model.Dataset, error)
}

// Datasets adapts a dataset store to a ProblemSource.
func Datasets(s DatasetGetter) ProblemSource { return datasetSource{s} }

type datasetSource struct{ s DatasetGetter }

func (d datasetSource) Problem(ctx context.Context, id string) (model.VRPData, error) {
	ds, err := d.s.GetDataset(ctx, id)
	if err != nil {
		return model.VRPData{}, err
	}
	return ds.Data, nil
}

type EventType string

const (
	EventProgress  EventType = "job.progress"
	EventCompleted EventType = "job.completed"
	EventFailed    EventType = "job.failed"
	EventCancelled EventType = "job.cancelled"
)

// Event is published for every forwarded progress update and once at the end.
type Event struct {
	Type        EventType
	JobID       string
	Iteration   int
	BestFitness float64
	Result      *model.JobResult
	Error       string
}

// EventPublisher fans events out to transports. Publish must not block.
type EventPublisher interface {
	Publish(jobID string, evt Event)
}

// Notifier is told about terminal outcomes of persisted jobs.
type Notifier interface {
	JobFinished(ctx context.Context, job model.Job, result *model.JobResult)
}

type Options struct {
	// Workers bounds concurrently executing jobs; excess jobs queue.
	Workers int
	// UpdateBuffer sizes each Handle's Updates channel.
	UpdateBuffer int
	// ProgressBuffer sizes the channel between the optimizer and the pump.
	ProgressBuffer int
	Events         EventPublisher
	Notifier       Notifier
	Logger         logr.Logger
	// PersistTimeout bounds the terminal writes made after a job stops.
	PersistTimeout time.Duration
}

type runner struct {
	id        string
	persisted bool
	cancel    context.CancelFunc
	handle    *Handle
}

type Coordinator struct {
	repo     Repository
	problems ProblemSource
	opts     Options
	log      logr.Logger
	pool     *semaphore.Weighted

	mu     sync.Mutex
	active map[string]*runner
	closed bool
	wg     sync.WaitGroup
}

func New(repo Repository, problems ProblemSource, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = 64
	}
	if opts.ProgressBuffer <= 0 {
		opts.ProgressBuffer = 64
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	return &Coordinator{
		repo:     repo,
		problems: problems,
		opts:     opts,
		log:      opts.Logger.WithName("jobs"),
		pool:     semaphore.NewWeighted(int64(opts.Workers)),
		active:   map[string]*runner{},
	}
}

// Create validates the request and persists a pending job. Nothing runs until Start.
func (c *Coordinator) Create(ctx context.Context, req model.JobCreate) (model.Job, error) {
	if _, _, err := c.prepare(ctx, req.DatasetID, req.Config); err != nil {
		return model.Job{}, err
	}
	job := model.Job{
		ID:        uuid.New().String(),
		DatasetID: req.DatasetID,
		Name:      req.Name,
		Status:    model.JobPending,
		Config:    req.Config,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.repo.CreateJob(ctx, job); err != nil {
		return model.Job{}, err
	}
	c.log.V(1).Info("job created", "job", job.ID, "dataset", job.DatasetID)
	return job, nil
}

func (c *Coordinator) prepare(ctx context.Context, datasetID string, mc model.OptimizationConfig) (opt.Instance, opt.Config, error) {
	cfg, err := SolverConfig(mc)
	if err != nil {
		return opt.Instance{}, opt.Config{}, err
	}
	data, err := c.problems.Problem(ctx, datasetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return opt.Instance{}, opt.Config{}, fmt.Errorf("%w: dataset %s not found", opt.ErrInvalidConfig, datasetID)
		}
		return opt.Instance{}, opt.Config{}, err
	}
	in, err := Instance(data, mc.VehicleCapacity)
	if err != nil {
		return opt.Instance{}, opt.Config{}, err
	}
	return in, cfg, nil
}

// Start moves a pending job to running, registers it and hands it to the
// worker pool. The job runs detached from ctx; use Cancel to stop it.
func (c *Coordinator) Start(ctx context.Context, id string) (*Handle, error) {
	job, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobPending {
		return nil, &StateError{ID: id, Op: "start", Status: job.Status}
	}
	in, cfg, err := c.prepare(ctx, job.DatasetID, job.Config)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrShutdown
	}
	if _, ok := c.active[id]; ok {
		return nil, &StateError{ID: id, Op: "start", Status: model.JobRunning}
	}
	cur, err := c.repo.TransitionJob(ctx, id, []model.JobStatus{model.JobPending}, model.JobRunning, "")
	switch {
	case errors.Is(err, store.ErrConflict):
		return nil, &StateError{ID: id, Op: "start", Status: cur.Status}
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case err != nil:
		return nil, err
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	r := &runner{id: id, persisted: true, cancel: cancel, handle: newHandle(id, c.opts.UpdateBuffer)}
	c.launchLocked(jobCtx, r, in, cfg)
	return r.handle, nil
}

// Run starts the job and waits for it. If ctx ends first the job is
// cancelled and Run returns the outcome once the worker has stopped; a job
// that completed regardless still yields its result.
func (c *Coordinator) Run(ctx context.Context, id string) (model.JobResult, error) {
	h, err := c.Start(ctx, id)
	if err != nil {
		return model.JobResult{}, err
	}
	res, err := h.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		c.cancelActive(id)
		<-h.Done()
		return h.Wait(context.Background())
	}
	return res, err
}

// Submit runs an unpersisted job through the same registry and pool. The
// job is cancelled when ctx ends.
func (c *Coordinator) Submit(ctx context.Context, in opt.Instance, cfg opt.Config) (*Handle, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrShutdown
	}
	id := uuid.New().String()
	jobCtx, cancel := context.WithCancel(ctx)
	r := &runner{id: id, cancel: cancel, handle: newHandle(id, c.opts.UpdateBuffer)}
	c.launchLocked(jobCtx, r, in, cfg)
	return r.handle, nil
}

func (c *Coordinator) launchLocked(ctx context.Context, r *runner, in opt.Instance, cfg opt.Config) {
	c.active[r.id] = r
	metrics.JobsActive.Set(float64(len(c.active)))
	metrics.JobsStarted.Inc()
	c.wg.Add(1)
	go c.work(ctx, r, in, cfg)
}

func (c *Coordinator) work(ctx context.Context, r *runner, in opt.Instance, cfg opt.Config) {
	defer c.wg.Done()
	defer r.cancel()
	if err := c.pool.Acquire(ctx, 1); err != nil {
		c.finish(r, opt.Result{}, err)
		return
	}
	defer c.pool.Release(1)
	c.log.V(1).Info("job running", "job", r.id, "customers", len(in.Customers), "wolves", cfg.Wolves, "iterations", cfg.Iterations)
	res, err := c.execute(ctx, r, in, cfg)
	c.finish(r, res, err)
}

// execute runs the optimizer with the progress pump attached. A panic is
// converted to an error so it stays with this job.
func (c *Coordinator) execute(ctx context.Context, r *runner, in opt.Instance, cfg opt.Config) (res opt.Result, err error) {
	progress := make(chan opt.Progress, c.opts.ProgressBuffer)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		r.handle.pump(progress, c.opts.Events)
	}()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("optimizer panic: %v", p)
		}
		close(progress)
		<-pumped
	}()
	return opt.Solve(ctx, in, cfg, progress)
}

func (c *Coordinator) finish(r *runner, res opt.Result, runErr error) {
	status, msg := model.JobCompleted, ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = model.JobCancelled
	default:
		status, msg = model.JobFailed, runErr.Error()
	}

	var result *model.JobResult
	if status == model.JobCompleted {
		mr := Result(r.id, res)
		result = &mr
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PersistTimeout)
	defer cancel()
	var job model.Job
	if r.persisted {
		if result != nil {
			if err := c.repo.SaveJobResult(ctx, *result); err != nil {
				status, msg, result = model.JobFailed, "save result: "+err.Error(), nil
			}
		}
		var err error
		job, err = c.repo.TransitionJob(ctx, r.id, []model.JobStatus{model.JobRunning}, status, msg)
		if err != nil {
			c.log.Error(err, "persist terminal status", "job", r.id, "status", status)
		}
	}

	c.mu.Lock()
	delete(c.active, r.id)
	metrics.JobsActive.Set(float64(len(c.active)))
	c.mu.Unlock()

	metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	metrics.ProgressDropped.Add(float64(res.Dropped + r.handle.Dropped()))
	if result != nil {
		metrics.JobRuntime.Observe(result.Runtime)
	}
	if status == model.JobFailed {
		c.log.Error(runErr, "job failed", "job", r.id)
	} else {
		c.log.Info("job finished", "job", r.id, "status", status, "iterations", res.Iterations)
	}

	c.publishTerminal(r.id, status, result, msg)
	if r.persisted && job.ID != "" && c.opts.Notifier != nil {
		c.opts.Notifier.JobFinished(ctx, job, result)
	}
	r.handle.complete(status, result, msg)
}

func (c *Coordinator) publishTerminal(id string, status model.JobStatus, result *model.JobResult, msg string) {
	if c.opts.Events == nil {
		return
	}
	evt := Event{JobID: id, Result: result, Error: msg}
	switch status {
	case model.JobCompleted:
		evt.Type = EventCompleted
		evt.BestFitness = result.BestFitness
	case model.JobCancelled:
		evt.Type = EventCancelled
	default:
		evt.Type = EventFailed
	}
	c.opts.Events.Publish(id, evt)
}

// Cancel asks a registered job to stop at its next iteration boundary. A
// pending or running job this process does not hold is marked cancelled
// directly. Terminal jobs cannot be cancelled.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	if r, ok := c.active[id]; ok {
		r.cancel()
		c.mu.Unlock()
		c.log.V(1).Info("cancel requested", "job", id)
		return nil
	}
	// under the lock so a concurrent Start cannot register the job in between
	job, err := c.repo.TransitionJob(ctx, id, []model.JobStatus{model.JobPending, model.JobRunning}, model.JobCancelled, "")
	c.mu.Unlock()
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case errors.Is(err, store.ErrConflict):
		return &StateError{ID: id, Op: "cancel", Status: job.Status}
	case err != nil:
		return err
	}
	metrics.JobsFinished.WithLabelValues(string(model.JobCancelled)).Inc()
	c.publishTerminal(id, model.JobCancelled, nil, "")
	if c.opts.Notifier != nil {
		c.opts.Notifier.JobFinished(ctx, job, nil)
	}
	return nil
}

func (c *Coordinator) cancelActive(id string) {
	c.mu.Lock()
	if r, ok := c.active[id]; ok {
		r.cancel()
	}
	c.mu.Unlock()
}

func (c *Coordinator) Get(ctx context.Context, id string) (model.Job, error) {
	job, err := c.repo.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, err
}

// Result returns the stored result of a completed job.
func (c *Coordinator) Result(ctx context.Context, id string) (model.JobResult, error) {
	job, err := c.Get(ctx, id)
	if err != nil {
		return model.JobResult{}, err
	}
	if job.Status != model.JobCompleted {
		return model.JobResult{}, &StateError{ID: id, Op: "read result of", Status: job.Status}
	}
	res, err := c.repo.GetJobResult(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.JobResult{}, fmt.Errorf("%w: result for %s", ErrNotFound, id)
	}
	return res, err
}

func (c *Coordinator) List(ctx context.Context, f model.JobFilter) ([]model.Job, int, error) {
	return c.repo.ListJobs(ctx, f)
}

// Delete removes a job and its result. Running jobs must be cancelled first.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[id]; ok {
		return &StateError{ID: id, Op: "delete", Status: model.JobRunning}
	}
	job, err := c.repo.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if job.Status == model.JobRunning {
		return &StateError{ID: id, Op: "delete", Status: job.Status}
	}
	return c.repo.DeleteJob(ctx, id)
}

// Active reports whether id is registered in this process.
func (c *Coordinator) Active(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}

func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Recover marks jobs left running by a previous process as failed. Call it
// before serving when this process is the only coordinator for the store.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	jobs, _, err := c.repo.ListJobs(ctx, model.JobFilter{Status: model.JobRunning, Limit: 500})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if c.Active(j.ID) {
			continue
		}
		if _, err := c.repo.TransitionJob(ctx, j.ID, []model.JobStatus{model.JobRunning}, model.JobFailed, "interrupted by restart"); err == nil {
			n++
		}
	}
	return n, nil
}

// Shutdown cancels every registered job and waits for the workers to persist
// their outcome, or for ctx to end.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for _, r := range c.active {
		r.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
