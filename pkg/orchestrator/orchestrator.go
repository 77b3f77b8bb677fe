// Package orchestrator schedules training jobs against a concurrency plan and drives
// each one from Pending through Running to exactly one terminal state.
//
// All state changes of a job go through its record's mutex, taken after the
// orchestrator's own mutex when both are needed. Hooks, trainer calls and history
// appends run with no lock held.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/empathyfine/internal/logging"
	"github.com/aretw0/empathyfine/internal/retry"
	"github.com/aretw0/empathyfine/pkg/bus"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
	"github.com/aretw0/empathyfine/pkg/scoring"
	"github.com/google/uuid"
)

const checkpointTimeout = 5 * time.Second

// Orchestrator owns the transient state of every submitted job.
type Orchestrator struct {
	trainer         ports.Trainer
	history         ports.HistoryAppender
	checkpoints     ports.CheckpointSink
	checkpointEvery int
	scorer          ports.Scorer
	scoreTimeout    time.Duration
	plan            Plan
	grace           time.Duration
	busBuffer       int
	retry           retry.Policy
	hooks           domain.LifecycleHooks
	logger          *slog.Logger
	now             func() time.Time
	newID           func() string

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*record
	order   []*record
	queue   []*record
	running int
	live    map[string]int
	faults  []domain.FaultEvent
	closed  bool
}

type record struct {
	mu     sync.Mutex
	job    domain.Job
	topic  *bus.Topic[domain.MetricPoint]
	cancel context.CancelFunc
	forced *time.Timer
	slot   bool
	// done is closed once the history append was attempted.
	done chan struct{}
}

// New creates an Orchestrator running jobs with trainer and recording them through history.
func New(trainer ports.Trainer, history ports.HistoryAppender, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		trainer:      trainer,
		history:      history,
		scoreTimeout: DefaultScoreTimeout,
		plan:         DefaultPlan(),
		grace:        DefaultGracePeriod,
		busBuffer:    DefaultBusBuffer,
		retry:        retry.DefaultPolicy(),
		logger:       logging.NewNop(),
		now:          time.Now,
		newID:        uuid.NewString,
		jobs:         make(map[string]*record),
		live:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.plan.MaxRunning <= 0 {
		o.plan.MaxRunning = 1
	}
	o.plan.MaxQueued = max(o.plan.MaxQueued, 0)
	if o.grace <= 0 {
		o.grace = DefaultGracePeriod
	}
	if o.busBuffer <= 0 {
		o.busBuffer = DefaultBusBuffer
	}
	o.ctx, o.stop = context.WithCancel(context.Background())
	return o
}

// Plan returns the concurrency plan in effect.
func (o *Orchestrator) Plan() Plan { return o.plan }

// effects collects what a locked section decided, to be carried out after unlocking.
type effects struct {
	transitions []*domain.TransitionEvent
	starts      []launch
	closings    []closing
}

type launch struct {
	rec *record
	ctx context.Context
	cfg domain.TrainingConfiguration
}

type closing struct {
	rec     *record
	entry   domain.HistoryEntry
	samples []domain.Sample
}

func (o *Orchestrator) apply(e *effects) {
	for _, ev := range e.transitions {
		o.emitTransition(ev)
	}
	for _, l := range e.starts {
		go o.run(l.ctx, l.rec, l.cfg)
	}
	for _, c := range e.closings {
		go o.record(c)
	}
}

// Submit validates cfg and queues a job for it. Jobs are promoted to Running in
// arrival order as slots free up, so a job may already be Running when Submit returns.
func (o *Orchestrator) Submit(cfg domain.TrainingConfiguration) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	cfg = cfg.Clone()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", domain.Errorf(domain.KindClosed, "orchestrator is closed")
	}
	if limit := o.plan.MaxPerProject; limit > 0 && o.live[cfg.ProjectID] >= limit {
		o.mu.Unlock()
		return "", domain.Errorf(domain.KindConcurrencyLimit, "project %s already has %d live jobs", cfg.ProjectID, limit)
	}
	if o.running >= o.plan.MaxRunning && len(o.queue) >= o.plan.MaxQueued {
		running, queued := o.running, len(o.queue)
		o.mu.Unlock()
		return "", domain.Errorf(domain.KindConcurrencyLimit, "%d jobs running and %d queued", running, queued)
	}
	id := o.newID()
	if _, exists := o.jobs[id]; exists {
		o.mu.Unlock()
		return "", domain.Errorf(domain.KindValidation, "job id %s already in use", id)
	}

	rec := &record{
		job: domain.Job{
			ID:          id,
			ProjectID:   cfg.ProjectID,
			Config:      cfg,
			State:       domain.JobPending,
			Path:        []domain.JobState{domain.JobPending},
			Metrics:     []domain.MetricPoint{},
			SubmittedAt: o.now().UTC(),
		},
		topic: bus.New[domain.MetricPoint](o.busBuffer),
		done:  make(chan struct{}),
	}
	o.jobs[id] = rec
	o.order = append(o.order, rec)
	o.queue = append(o.queue, rec)
	o.live[cfg.ProjectID]++

	e := &effects{transitions: []*domain.TransitionEvent{{
		EventBase: o.base(domain.EventTransition, rec),
		To:        domain.JobPending,
	}}}
	o.dispatchLocked(e)
	o.mu.Unlock()

	o.logger.Info("Job submitted",
		"job_id", id,
		"project_id", cfg.ProjectID,
		"dataset_id", cfg.Dataset.ID,
		"dataset_revision", cfg.Dataset.Revision,
	)
	o.apply(e)
	return id, nil
}

// dispatchLocked promotes queued jobs while slots are free. Requires o.mu.
func (o *Orchestrator) dispatchLocked(e *effects) {
	for !o.closed && o.running < o.plan.MaxRunning && len(o.queue) > 0 {
		rec := o.queue[0]
		o.queue = slices.Delete(o.queue, 0, 1)

		rec.mu.Lock()
		if err := o.transitionLocked(rec, domain.JobRunning, e); err != nil {
			rec.mu.Unlock()
			continue
		}
		rec.job.StartedAt = o.now().UTC()
		rec.slot = true
		ctx, cancel := context.WithCancel(o.ctx)
		rec.cancel = cancel
		cfg := rec.job.Config.Clone()
		rec.mu.Unlock()

		o.running++
		o.wg.Add(1)
		e.starts = append(e.starts, launch{rec: rec, ctx: ctx, cfg: cfg})
	}
}

// transitionLocked applies one edge of the state machine. Requires rec.mu.
func (o *Orchestrator) transitionLocked(rec *record, to domain.JobState, e *effects) error {
	from := rec.job.State
	if err := domain.CheckTransition(from, to); err != nil {
		return err
	}
	rec.job.State = to
	rec.job.Path = append(rec.job.Path, to)
	e.transitions = append(e.transitions, &domain.TransitionEvent{
		EventBase: o.base(domain.EventTransition, rec),
		From:      from,
		To:        to,
	})
	return nil
}

// finishLocked moves rec to a terminal state and releases what it held.
// It reports false when rec was already terminal. Requires o.mu and rec.mu.
func (o *Orchestrator) finishLocked(rec *record, to domain.JobState, res *domain.Result, jerr *domain.JobError, e *effects) bool {
	if err := o.transitionLocked(rec, to, e); err != nil {
		return false
	}
	j := &rec.job
	j.EndedAt = o.now().UTC()
	j.Result = res
	j.Error = jerr
	if rec.forced != nil {
		rec.forced.Stop()
		rec.forced = nil
	}
	if rec.cancel != nil {
		rec.cancel()
	}
	if rec.slot {
		rec.slot = false
		o.running--
	} else {
		o.queue = slices.DeleteFunc(o.queue, func(r *record) bool { return r == rec })
	}
	if o.live[j.ProjectID]--; o.live[j.ProjectID] <= 0 {
		delete(o.live, j.ProjectID)
	}
	rec.topic.Close()

	c := closing{rec: rec, entry: entryOf(j)}
	if res != nil {
		c.samples = slices.Clone(res.Samples)
	}
	o.wg.Add(1)
	e.closings = append(e.closings, c)
	return true
}

func entryOf(j *domain.Job) domain.HistoryEntry {
	entry := domain.HistoryEntry{
		JobID:          j.ID,
		ProjectID:      j.ProjectID,
		State:          j.State,
		ConfigRevision: j.Config.ConfigRevision,
		Dataset:        j.Config.Dataset,
		SubmittedAt:    j.SubmittedAt,
		StartedAt:      j.StartedAt,
		EndedAt:        j.EndedAt,
		MetricCount:    len(j.Metrics),
	}
	if n := len(j.Metrics); n > 0 {
		entry.Summary = map[string]float64{"final_loss": j.Metrics[n-1].Loss}
	}
	if j.Result != nil {
		entry.FinalMetrics = maps.Clone(j.Result.Metrics)
		entry.Artifact = j.Result.Artifact
	}
	if j.Error != nil {
		entry.ErrorKind = j.Error.Kind
		entry.Error = j.Error.Message
	}
	return entry
}

func (o *Orchestrator) run(ctx context.Context, rec *record, cfg domain.TrainingConfiguration) {
	defer o.wg.Done()
	id := rec.job.ID

	res, err := o.invoke(ctx, id, cfg, rec)

	e := &effects{}
	o.mu.Lock()
	rec.mu.Lock()
	var finished bool
	switch {
	case rec.job.CancelRequested, err != nil && ctx.Err() != nil:
		// An accepted cancel wins even if the trainer ignored it and returned a result.
		finished = o.finishLocked(rec, domain.JobCancelled, nil, nil, e)
	case err == nil:
		finished = o.finishLocked(rec, domain.JobSucceeded, &res, nil, e)
	default:
		kind := domain.KindOf(err)
		if kind == "" {
			kind = domain.KindTrainer
		}
		finished = o.finishLocked(rec, domain.JobFailed, nil, &domain.JobError{Kind: kind, Message: err.Error()}, e)
	}
	rec.mu.Unlock()
	o.dispatchLocked(e)
	o.mu.Unlock()

	if !finished {
		o.logger.Debug("Trainer returned after the job was finalized", "job_id", id, "err", err)
	}
	o.apply(e)
}

// invoke runs the trainer, turning a panic into a trainer error.
func (o *Orchestrator) invoke(ctx context.Context, id string, cfg domain.TrainingConfiguration, rec *record) (res domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Trainer panicked", "job_id", id, "panic", r, "stack", string(debug.Stack()))
			err = domain.Errorf(domain.KindTrainer, "trainer panicked: %v", r)
		}
	}()
	return o.trainer.Run(ctx, id, cfg, func(p domain.MetricPoint) {
		o.progress(rec, p)
	})
}

// progress records and publishes one point. Points arriving after the job left
// Running are dropped.
func (o *Orchestrator) progress(rec *record, p domain.MetricPoint) {
	rec.mu.Lock()
	if rec.job.State != domain.JobRunning {
		rec.mu.Unlock()
		return
	}
	p.JobID = rec.job.ID
	p.Seq = uint64(len(rec.job.Metrics)) + 1
	if p.Timestamp.IsZero() {
		p.Timestamp = o.now().UTC()
	}
	p.Values = maps.Clone(p.Values)
	rec.job.Metrics = append(rec.job.Metrics, p)
	dropped := rec.topic.Publish(p)
	ev := &domain.MetricEvent{EventBase: o.base(domain.EventMetric, rec), Point: p, Dropped: dropped}
	rec.mu.Unlock()

	if o.hooks.OnMetric != nil {
		o.hooks.OnMetric(context.Background(), ev)
	}
	if o.checkpoints != nil && o.checkpointEvery > 0 && p.Seq%uint64(o.checkpointEvery) == 0 {
		o.checkpoint(ev.ProjectID, p)
	}
}

func (o *Orchestrator) checkpoint(projectID string, p domain.MetricPoint) {
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()
	err := o.checkpoints.SaveCheckpoint(ctx, domain.Checkpoint{
		JobID:     p.JobID,
		ProjectID: projectID,
		State:     domain.JobRunning,
		LastPoint: p,
		SavedAt:   o.now().UTC(),
	})
	if err != nil {
		o.logger.Warn("Checkpoint failed", "job_id", p.JobID, "seq", p.Seq, "err", err)
	}
}

// Cancel stops a job. A Pending job is cancelled at once. A Running job's trainer is
// signalled and, if it has not stopped within the grace period, the job is forced to
// Cancelled. Once Cancel has been accepted the job ends Cancelled, even when the trainer
// returns successfully before the grace period elapses; its result is discarded.
// Cancel never waits for the trainer.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	rec, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return domain.NotFound("job", jobID)
	}

	e := &effects{}
	var err error
	rec.mu.Lock()
	switch state := rec.job.State; {
	case state.Terminal():
		err = domain.Errorf(domain.KindAlreadyTerminal, "job %s is %s", jobID, state)
	case state == domain.JobPending:
		rec.job.CancelRequested = true
		o.finishLocked(rec, domain.JobCancelled, nil, nil, e)
	default:
		o.requestStopLocked(rec)
	}
	rec.mu.Unlock()
	o.dispatchLocked(e)
	o.mu.Unlock()

	if err == nil {
		o.logger.Info("Job cancellation requested", "job_id", jobID)
	}
	o.apply(e)
	return err
}

// requestStopLocked signals a Running job's trainer and arms the grace timer. Requires rec.mu.
func (o *Orchestrator) requestStopLocked(rec *record) {
	if rec.job.CancelRequested {
		return
	}
	rec.job.CancelRequested = true
	rec.cancel()
	rec.forced = time.AfterFunc(o.grace, func() { o.force(rec) })
}

func (o *Orchestrator) force(rec *record) {
	e := &effects{}
	o.mu.Lock()
	rec.mu.Lock()
	forced := o.finishLocked(rec, domain.JobCancelled, nil, &domain.JobError{
		Kind:    domain.KindTrainer,
		Message: fmt.Sprintf("trainer did not stop within %s of cancellation", o.grace),
	}, e)
	id := rec.job.ID
	rec.mu.Unlock()
	o.dispatchLocked(e)
	o.mu.Unlock()

	if forced {
		o.logger.Warn("Job forcibly cancelled", "job_id", id, "grace", o.grace)
	}
	o.apply(e)
}

// record scores and appends the history entry of a finished job, retrying
// infrastructure failures before reporting a fault.
func (o *Orchestrator) record(c closing) {
	defer o.wg.Done()
	defer close(c.rec.done)

	entry := c.entry
	logger := o.logger.With("job_id", entry.JobID, "project_id", entry.ProjectID)

	if o.scorer != nil && len(c.samples) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), o.scoreTimeout)
		score, err := scoring.Mean(ctx, o.scorer, c.samples)
		cancel()
		if err != nil {
			logger.Warn("Scoring failed", "err", err)
		} else {
			if entry.Summary == nil {
				entry.Summary = make(map[string]float64, 1)
			}
			entry.Summary["empathy_score"] = score
		}
	}

	attempts, err := retry.Do(context.Background(), o.retry, domain.IsRetryable, func(ctx context.Context) error {
		return o.history.AppendHistory(ctx, entry.ProjectID, entry)
	})
	if err != nil {
		o.fault(c.rec, "append history", err, attempts)
		return
	}

	c.rec.mu.Lock()
	c.rec.job.Recorded = true
	c.rec.mu.Unlock()

	logger.Info("Job recorded", "state", entry.State, "metrics", entry.MetricCount, "attempts", attempts)
	if o.hooks.OnHistory != nil {
		o.hooks.OnHistory(context.Background(), &domain.HistoryEvent{
			EventBase: domain.EventBase{Timestamp: o.now().UTC(), Type: domain.EventHistory, JobID: entry.JobID, ProjectID: entry.ProjectID},
			Entry:     entry,
			Attempts:  attempts,
		})
	}
}

func (o *Orchestrator) fault(rec *record, op string, err error, attempts int) {
	ev := domain.FaultEvent{
		EventBase: o.base(domain.EventFault, rec),
		Op:        op,
		Err:       err,
	}
	o.mu.Lock()
	o.faults = append(o.faults, ev)
	o.mu.Unlock()

	o.logger.Error("Orchestrator fault", "job_id", ev.JobID, "op", op, "attempts", attempts, "err", err)
	if o.hooks.OnFault != nil {
		o.hooks.OnFault(context.Background(), &ev)
	}
}

func (o *Orchestrator) emitTransition(ev *domain.TransitionEvent) {
	if ev.To.Terminal() {
		o.logger.Info("Job finished", "job_id", ev.JobID, "from", ev.From, "state", ev.To)
	} else {
		o.logger.Debug("Job transition", "job_id", ev.JobID, "from", ev.From, "to", ev.To)
	}
	if o.hooks.OnTransition != nil {
		o.hooks.OnTransition(context.Background(), ev)
	}
}

func (o *Orchestrator) base(t domain.EventType, rec *record) domain.EventBase {
	return domain.EventBase{
		Timestamp: o.now().UTC(),
		Type:      t,
		JobID:     rec.job.ID,
		ProjectID: rec.job.ProjectID,
	}
}

func (o *Orchestrator) lookup(jobID string) (*record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.jobs[jobID]
	if !ok {
		return nil, domain.NotFound("job", jobID)
	}
	return rec, nil
}

func (rec *record) snapshot() domain.Job {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.Clone()
}

// Status returns a copy of the job as it is now.
func (o *Orchestrator) Status(jobID string) (domain.Job, error) {
	rec, err := o.lookup(jobID)
	if err != nil {
		return domain.Job{}, err
	}
	return rec.snapshot(), nil
}

// List returns the jobs of a project, or all jobs when projectID is empty, in submission order.
func (o *Orchestrator) List(projectID string) []domain.Job {
	o.mu.Lock()
	recs := slices.Clone(o.order)
	o.mu.Unlock()

	out := make([]domain.Job, 0, len(recs))
	for _, rec := range recs {
		if projectID != "" && rec.job.ProjectID != projectID {
			continue
		}
		out = append(out, rec.snapshot())
	}
	return out
}

// Wait blocks until the job is terminal and its history append was attempted.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (domain.Job, error) {
	rec, err := o.lookup(jobID)
	if err != nil {
		return domain.Job{}, err
	}
	select {
	case <-rec.done:
		return rec.snapshot(), nil
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
}

// Subscribe streams the job's metric points from now on. The subscription ends when
// the job reaches a terminal state; for a job that already has, it is closed at once.
func (o *Orchestrator) Subscribe(jobID string) (*bus.Subscription[domain.MetricPoint], error) {
	rec, err := o.lookup(jobID)
	if err != nil {
		return nil, err
	}
	return rec.topic.Subscribe(), nil
}

// Faults returns the infrastructure failures reported so far.
func (o *Orchestrator) Faults() []domain.FaultEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.faults)
}

// Close rejects further submissions, cancels every live job and waits for trainers
// and history appends to finish or for ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		e := &effects{}
		for _, rec := range slices.Clone(o.queue) {
			rec.mu.Lock()
			rec.job.CancelRequested = true
			o.finishLocked(rec, domain.JobCancelled, nil, nil, e)
			rec.mu.Unlock()
		}
		for _, rec := range o.order {
			rec.mu.Lock()
			if rec.job.State == domain.JobRunning {
				o.requestStopLocked(rec)
			}
			rec.mu.Unlock()
		}
		o.mu.Unlock()
		o.apply(e)
	} else {
		o.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		o.stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
