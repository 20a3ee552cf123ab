// Package orchestrator runs background jobs: at most one active job per
// type, persisted progress, ownership leases so a restarted process picks
// up where a dead one stopped.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/events"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/store"
)

// ErrInvalidParams is returned by Trigger when params fail validation.
var ErrInvalidParams = eris.New("orchestrator: invalid job params")

// Options configures an Orchestrator.
type Options struct {
	// Owner identifies this process in job leases. Defaults to the
	// hostname plus a random suffix.
	Owner       string
	Concurrency int
	Heartbeat   time.Duration
	// Lease is how long a silent owner keeps its jobs.
	Lease time.Duration
	// JobTimeout bounds a single run. Zero means no limit.
	JobTimeout time.Duration
	// PollInterval is how often Wait re-reads jobs run elsewhere.
	PollInterval time.Duration
	Publisher    events.Publisher
	// Detached processes create jobs without running them. A serving
	// process picks them up through ResumeOrphans.
	Detached bool
}

// OptionsFrom maps job config onto Options.
func OptionsFrom(c config.JobsConfig) Options {
	return Options{
		Concurrency: c.Concurrency,
		Heartbeat:   time.Duration(c.HeartbeatSecs) * time.Second,
		Lease:       time.Duration(c.LeaseSecs) * time.Second,
		JobTimeout:  time.Duration(c.TimeoutSecs) * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.Owner == "" {
		host, _ := os.Hostname()
		o.Owner = host + "-" + uuid.NewString()[:8]
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 15 * time.Second
	}
	if o.Lease <= o.Heartbeat {
		o.Lease = 6 * o.Heartbeat
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Publisher == nil {
		o.Publisher = events.Nop{}
	}
	return o
}

type attachment struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator creates, runs and tracks jobs.
type Orchestrator struct {
	store    store.Store
	workers  map[model.JobType]Worker
	opts     Options
	validate *validator.Validate
	now      func() time.Time

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	attached map[string]*attachment
}

// New returns an orchestrator dispatching to the given workers.
func New(st store.Store, opts Options, workers ...Worker) *Orchestrator {
	base, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:    st,
		workers:  make(map[model.JobType]Worker, len(workers)),
		opts:     opts.withDefaults(),
		validate: validator.New(),
		now:      time.Now,
		base:     base,
		stop:     stop,
		attached: make(map[string]*attachment),
	}
	for _, w := range workers {
		o.workers[w.Type()] = w
	}
	return o
}

// HasWork reports whether a job of type t would have anything to process.
// Workers that cannot tell are assumed to have work.
func (o *Orchestrator) HasWork(ctx context.Context, t model.JobType) (bool, error) {
	w, ok := o.workers[t]
	if !ok {
		return false, nil
	}
	p, ok := w.(Prober)
	if !ok {
		return true, nil
	}
	n, err := p.Pending(ctx)
	if err != nil {
		return false, eris.Wrapf(err, "orchestrator: probe %s", t)
	}
	return n > 0, nil
}

// Owner returns the lease owner id of this process.
func (o *Orchestrator) Owner() string { return o.opts.Owner }

// Trigger creates a job of the given type and starts it in the background.
// It returns ErrAlreadyRunning when a job of that type is pending or
// running, here or in any other process sharing the store.
func (o *Orchestrator) Trigger(ctx context.Context, jobType model.JobType, params any, source model.TriggerSource) (*model.Job, error) {
	if !jobType.Valid() {
		return nil, eris.Wrapf(ErrInvalidParams, "unknown job type %q", jobType)
	}
	if _, ok := o.workers[jobType]; !ok {
		return nil, Configf("no worker registered for %s jobs", jobType)
	}
	raw, err := o.encodeParams(jobType, params)
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		Type:        jobType,
		Status:      model.JobPending,
		TriggeredBy: source,
		Params:      raw,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrJobActive) {
			monitoring.TriggerRejected.WithLabelValues(string(jobType)).Inc()
			return nil, eris.Wrapf(ErrAlreadyRunning, "%s", jobType)
		}
		return nil, eris.Wrap(err, "orchestrator: create job")
	}

	zap.L().Info("orchestrator: job created",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(jobType)),
		zap.String("triggered_by", string(source)),
	)

	if o.opts.Detached {
		return job, nil
	}
	if _, err := o.attach(ctx, *job); err != nil {
		return job, err
	}
	return job, nil
}

// encodeParams validates params against the job type's parameter struct
// and returns them normalized.
func (o *Orchestrator) encodeParams(jobType model.JobType, params any) (json.RawMessage, error) {
	var raw []byte
	switch v := params.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidParams, "marshal: %v", err)
		}
		raw = b
	}

	target := paramsFor(jobType)
	if t := bytes.TrimSpace(raw); len(t) > 0 && !bytes.Equal(t, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(t))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return nil, eris.Wrapf(ErrInvalidParams, "%s: %v", jobType, err)
		}
	}
	if err := o.validate.Struct(target); err != nil {
		return nil, eris.Wrapf(ErrInvalidParams, "%s: %v", jobType, err)
	}

	out, err := json.Marshal(target)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: marshal params")
	}
	return out, nil
}

func paramsFor(t model.JobType) any {
	if t == model.JobDiscover {
		return &model.DiscoverParams{}
	}
	return &model.BatchParams{}
}

// DecodeParams reads a job's stored params into T.
func DecodeParams[T any](job model.Job) (T, error) {
	var v T
	if len(job.Params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(job.Params, &v); err != nil {
		return v, &ConfigError{Err: eris.Wrapf(err, "decode %s params", job.Type)}
	}
	return v, nil
}

// ResumeOrphans attaches workers to active jobs whose lease is free or
// stale. Jobs already attached in this process are left alone, so calling
// it repeatedly is safe. It returns how many jobs were attached.
func (o *Orchestrator) ResumeOrphans(ctx context.Context) (int, error) {
	jobs, err := o.store.ListActiveJobs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "orchestrator: list active jobs")
	}

	n := 0
	for _, j := range jobs {
		if _, ok := o.workers[j.Type]; !ok {
			zap.L().Warn("orchestrator: no worker for orphaned job",
				zap.String("job_id", j.ID),
				zap.String("job_type", string(j.Type)),
			)
			continue
		}
		attached, err := o.attach(ctx, j)
		if err != nil {
			return n, err
		}
		if attached {
			zap.L().Info("orchestrator: resumed orphaned job",
				zap.String("job_id", j.ID),
				zap.String("job_type", string(j.Type)),
				zap.String("previous_owner", j.Owner),
			)
			n++
		}
	}
	return n, nil
}

// attach claims the job lease and starts Run in a goroutine. It reports
// false when the job is already attached here or another live process
// holds the lease.
func (o *Orchestrator) attach(ctx context.Context, job model.Job) (bool, error) {
	o.mu.Lock()
	if _, ok := o.attached[job.ID]; ok {
		o.mu.Unlock()
		return false, nil
	}
	if o.base.Err() != nil {
		o.mu.Unlock()
		return false, eris.New("orchestrator: shutting down")
	}
	runCtx, cancel := context.WithCancel(o.base)
	a := &attachment{cancel: cancel, done: make(chan struct{})}
	o.attached[job.ID] = a
	o.wg.Add(1)
	o.mu.Unlock()

	claimed, err := o.store.ClaimJob(ctx, job.ID, o.opts.Owner, o.now().Add(-o.opts.Lease))
	if err != nil || !claimed {
		cancel()
		o.detach(job.ID, a)
		o.wg.Done()
		return false, eris.Wrapf(err, "orchestrator: claim job %s", job.ID)
	}

	go func() {
		defer o.wg.Done()
		defer o.detach(job.ID, a)
		defer cancel()
		if err := o.Run(runCtx, job.ID); err != nil && !errors.Is(err, context.Canceled) {
			zap.L().Error("orchestrator: job run ended with error",
				zap.String("job_id", job.ID),
				zap.String("job_type", string(job.Type)),
				zap.Error(err),
			)
		}
	}()
	return true, nil
}

func (o *Orchestrator) detach(id string, a *attachment) {
	o.mu.Lock()
	if o.attached[id] == a {
		delete(o.attached, id)
	}
	o.mu.Unlock()
	close(a.done)
}

type outcome struct {
	status      model.JobStatus
	errMsg      string
	summary     map[string]any
	completed   int64
	skipped     int64
	failed      int64
	interrupted bool
}

// Run executes a job this process owns, committing its terminal status
// once. A run interrupted by Cancel, a lost lease or Shutdown writes
// nothing further; a job left active is picked up by ResumeOrphans.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	started, err := o.store.StartJob(ctx, jobID, o.opts.Owner)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: start job %s", jobID)
	}
	if !started {
		return eris.Errorf("orchestrator: job %s is not owned by %s", jobID, o.opts.Owner)
	}
	job.Status = model.JobRunning

	jt := string(job.Type)
	log := zap.L().With(zap.String("job_id", jobID), zap.String("job_type", jt))
	log.Info("orchestrator: job started", zap.String("triggered_by", string(job.TriggeredBy)))
	monitoring.JobsStarted.WithLabelValues(jt).Inc()
	o.publish(events.JobStarted, *job)
	start := time.Now()

	if o.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.JobTimeout)
		defer cancel()
	}
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	ls := &lease{o: o, jobID: jobID, cancel: cancelRun, log: log}
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		ls.keepAlive(runCtx)
	}()

	out := o.execute(runCtx, *job, ls, log)
	cancelRun()
	<-hbDone

	var runErr error
	if out.interrupted {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			out.status = model.JobFailed
			out.errMsg = "job exceeded its deadline"
			runErr = eris.Wrapf(context.DeadlineExceeded, "orchestrator: job %s", jobID)
		case ls.lost.Load():
			log.Warn("orchestrator: job cancelled or claimed elsewhere, abandoning run")
			return eris.Errorf("orchestrator: job %s lost its lease", jobID)
		default:
			log.Info("orchestrator: job interrupted",
				zap.Int64("completed", out.completed),
				zap.Int64("failed", out.failed),
			)
			return ctx.Err()
		}
	}

	result := make(map[string]any, len(out.summary)+3)
	for k, v := range out.summary {
		result[k] = v
	}
	result["completed"] = out.completed
	result["skipped"] = out.skipped
	result["failed"] = out.failed
	raw, err := json.Marshal(result)
	if err != nil {
		log.Warn("orchestrator: marshal job result", zap.Error(err))
		raw = nil
	}

	finishCtx := context.WithoutCancel(ctx)
	finished, err := o.store.FinishJob(finishCtx, jobID, out.status, out.errMsg, raw)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: finish job %s", jobID)
	}
	if !finished {
		// Cancelled between the last item and here.
		log.Info("orchestrator: job already terminal, result discarded")
		return runErr
	}

	monitoring.JobsFinished.WithLabelValues(jt, string(out.status)).Inc()
	monitoring.JobDuration.WithLabelValues(jt).Observe(time.Since(start).Seconds())
	log.Info("orchestrator: job finished",
		zap.String("status", string(out.status)),
		zap.Int64("completed", out.completed),
		zap.Int64("skipped", out.skipped),
		zap.Int64("failed", out.failed),
		zap.Duration("elapsed", time.Since(start)),
	)

	if final, err := o.store.GetJob(finishCtx, jobID); err == nil {
		o.publish(events.JobFinished, *final)
	}
	return runErr
}

// execute plans the job and processes its items. The lease is renewed
// before every item so a cancel from another process stops the run before
// the next item starts.
func (o *Orchestrator) execute(ctx context.Context, job model.Job, ls *lease, log *zap.Logger) outcome {
	w, ok := o.workers[job.Type]
	if !ok {
		return outcome{status: model.JobFailed, errMsg: Configf("no worker registered for %s jobs", job.Type).Error()}
	}

	batch, err := w.Plan(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{interrupted: true}
		}
		log.Error("orchestrator: plan failed", zap.Error(err))
		return outcome{status: model.JobFailed, errMsg: err.Error()}
	}

	n := batch.Len()
	if err := o.store.SetJobTarget(ctx, job.ID, n); err != nil {
		log.Warn("orchestrator: set job target", zap.Error(err))
	}
	if n == 0 {
		log.Info("orchestrator: nothing eligible")
		return outcome{status: model.JobCompleted, summary: batch.Summary()}
	}

	limit := o.opts.Concurrency
	if c, ok := batch.(Concurrent); ok && c.Concurrency() > 0 {
		limit = c.Concurrency()
	}

	var out outcome
	var completed, skipped, failed atomic.Int64
	progressCtx := context.WithoutCancel(ctx)
	jt := string(job.Type)

	// Item errors are counted, not propagated, so a plain group is used.
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil || !ls.renew(ctx) {
				return nil
			}
			err := batch.Process(ctx, i)
			res := itemResult(ctx, err)
			monitoring.JobItems.WithLabelValues(jt, res).Inc()

			var done, bad int
			switch res {
			case "completed":
				completed.Add(1)
				done = 1
			case "skipped":
				skipped.Add(1)
				done = 1
				log.Debug("orchestrator: item skipped", zap.Int("item", i), zap.Error(err))
			case "failed":
				failed.Add(1)
				bad = 1
				log.Warn("orchestrator: item failed", zap.Int("item", i), zap.Error(err))
			default:
				return nil
			}
			if err := o.store.AddJobProgress(progressCtx, job.ID, done, bad); err != nil {
				log.Warn("orchestrator: record progress", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	out.summary = batch.Summary()
	out.completed = completed.Load()
	out.skipped = skipped.Load()
	out.failed = failed.Load()
	if ctx.Err() != nil {
		out.interrupted = true
		return out
	}

	out.status = model.JobCompleted
	if out.completed+out.skipped == 0 && out.failed > 0 {
		out.status = model.JobFailed
	}
	return out
}

// itemResult classifies a Process error. Rejected transitions and
// duplicates are no-ops, not failures; work cut short by cancellation is
// not counted at all.
func itemResult(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, stage.ErrNotApplicable), errors.Is(err, ErrSkip), errors.Is(err, store.ErrDuplicate):
		return "skipped"
	case ctx.Err() != nil:
		return "abandoned"
	default:
		return "failed"
	}
}

// lease is this process's hold on a running job.
type lease struct {
	o      *Orchestrator
	jobID  string
	cancel context.CancelFunc
	lost   atomic.Bool
	log    *zap.Logger
}

// renew refreshes the heartbeat. It reports false, and stops the run, once
// the job was cancelled or claimed by another process. A failed store call
// is logged and treated as still held; the lease timeout covers it.
func (l *lease) renew(ctx context.Context) bool {
	if l.lost.Load() {
		return false
	}
	ok, err := l.o.store.HeartbeatJob(ctx, l.jobID, l.o.opts.Owner)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		l.log.Warn("orchestrator: heartbeat failed", zap.Error(err))
		return true
	}
	if !ok {
		l.lost.Store(true)
		l.cancel()
		return false
	}
	return true
}

func (l *lease) keepAlive(ctx context.Context) {
	t := time.NewTicker(l.o.opts.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !l.renew(ctx) {
			return
		}
	}
}

// Cancel moves an active job to cancelled and stops its worker if it runs
// in this process. It reports false when the job was already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := o.store.CancelJob(ctx, jobID)
	if err != nil {
		return false, eris.Wrapf(err, "orchestrator: cancel job %s", jobID)
	}
	if !ok {
		if _, err := o.Get(ctx, jobID); err != nil {
			return false, err
		}
		return false, nil
	}

	o.mu.Lock()
	if a, attached := o.attached[jobID]; attached {
		a.cancel()
	}
	o.mu.Unlock()

	job, err := o.Get(ctx, jobID)
	if err == nil {
		monitoring.JobsFinished.WithLabelValues(string(job.Type), string(model.JobCancelled)).Inc()
		o.publish(events.JobCancelled, *job)
		zap.L().Info("orchestrator: job cancelled",
			zap.String("job_id", jobID),
			zap.String("job_type", string(job.Type)),
		)
	}
	return true, nil
}

// Get returns a job by id.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrJobNotFound, "%s", jobID)
		}
		return nil, eris.Wrapf(err, "orchestrator: get job %s", jobID)
	}
	return job, nil
}

// List returns jobs matching filter, newest first.
func (o *Orchestrator) List(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	jobs, err := o.store.ListJobs(ctx, filter)
	return jobs, eris.Wrap(err, "orchestrator: list jobs")
}

// Wait blocks until the job is terminal and returns its final state. Jobs
// running in another process are polled.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (*model.Job, error) {
	o.mu.Lock()
	a, attached := o.attached[jobID]
	o.mu.Unlock()
	if attached {
		select {
		case <-a.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t := time.NewTicker(o.opts.PollInterval)
	defer t.Stop()
	for {
		job, err := o.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// Attached lists job ids running in this process.
func (o *Orchestrator) Attached() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.attached))
	for id := range o.attached {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops attached workers and waits for them to return. Their
// jobs stay active for the next process to resume.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.stop()
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "orchestrator: shutdown")
	}
}

func (o *Orchestrator) publish(kind events.Kind, job model.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.opts.Publisher.Publish(ctx, events.JobEvent(kind, job, o.now())); err != nil {
		zap.L().Warn("orchestrator: publish event",
			zap.String("job_id", job.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
