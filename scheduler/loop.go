package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"global_scheduler/config"
)

// LoopState is the scheduler lifecycle state.
type LoopState int32

const (
	StateStopped LoopState = iota
	StateBootstrapping
	StateRunning
	StateStopping
)

func (s LoopState) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// JobExecutionResult records one dispatched task execution. It is handed to
// sinks (persistence, websocket stream) and not retained by the loop.
type JobExecutionResult struct {
	Task      string        `json:"task"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// Notifier is the outbound notification sink. It is never required to
// succeed for the loop to continue.
type Notifier interface {
	Send(title, body string) error
}

// ResultSink observes job execution results.
type ResultSink interface {
	RecordJobRun(res JobExecutionResult)
}

// LoopMetrics receives scheduler instrumentation.
type LoopMetrics interface {
	JobRun(task string, success bool)
	TableRebuild()
	SetDSTActive(active bool)
	SetLoopState(state LoopState)
	SetTriggerCount(n int)
}

// NopMetrics discards all instrumentation.
type NopMetrics struct{}

func (NopMetrics) JobRun(string, bool) {}
func (NopMetrics) TableRebuild() {}
func (NopMetrics) SetDSTActive(bool) {}
func (NopMetrics) SetLoopState(LoopState) {}
func (NopMetrics) SetTriggerCount(int) {}

// taskModelRetry is the internal pseudo-task carried by the model-retry
// trigger; it is intercepted by tag before registry dispatch.
const taskModelRetry = "model_bootstrap_retry"

// Loop is the steady-state driver. It exclusively owns the trigger table and
// the last observed DST state: each tick it re-checks DST for the US region,
// rebuilds the table on a change, then fires whatever is due, isolating
// every task failure. Exactly one Loop instance runs per process.
type Loop struct {
	cfg      *config.Config
	hours    *MarketHours
	table    *TriggerTable
	registry *Registry
	logger   zerolog.Logger

	notifier   Notifier
	metrics    LoopMetrics
	sinks      []ResultSink
	modelCheck CheckFunc

	nowFn func() time.Time

	// lastDST and bootstrap are written by the loop goroutine and read by
	// the HTTP status handlers.
	state      atomic.Int32
	lastDST    atomic.Bool
	bootstrap  atomic.Pointer[BootstrapState]
	retryCount int
	readySent  bool
}

func NewLoop(cfg *config.Config, hours *MarketHours, registry *Registry, logger zerolog.Logger) *Loop {
	return &Loop{
		cfg:      cfg,
		hours:    hours,
		table:    NewTriggerTable(),
		registry: registry,
		logger:   logger,
		metrics:  NopMetrics{},
		nowFn:    time.Now,
	}
}

// SetNotifier installs the notification sink.
func (l *Loop) SetNotifier(n Notifier) { l.notifier = n }

// SetMetrics installs the instrumentation sink.
func (l *Loop) SetMetrics(m LoopMetrics) { l.metrics = m }

// AddSink registers a job execution result observer.
func (l *Loop) AddSink(s ResultSink) { l.sinks = append(l.sinks, s) }

// SetModelCheck installs the readiness check used by the background
// model-bootstrap retry.
func (l *Loop) SetModelCheck(fn CheckFunc) { l.modelCheck = fn }

// SetClock overrides the time source, used by tests.
func (l *Loop) SetClock(fn func() time.Time) { l.nowFn = fn }

// State returns the current lifecycle state.
func (l *Loop) State() LoopState {
	return LoopState(l.state.Load())
}

func (l *Loop) setState(s LoopState) {
	l.state.Store(int32(s))
	l.metrics.SetLoopState(s)
}

// Table exposes the trigger table for read-only status surfaces.
func (l *Loop) Table() *TriggerTable { return l.table }

// BootstrapState returns the startup outcomes, nil before Bootstrap ran.
func (l *Loop) BootstrapState() *BootstrapState { return l.bootstrap.Load() }

// DSTActive returns the last DST state the loop observed.
func (l *Loop) DSTActive() bool { return l.lastDST.Load() }

// Bootstrap runs the startup sequence and builds the initial trigger table.
// A ConfigError from the table build is fatal; step failures are not.
func (l *Loop) Bootstrap(ctx context.Context, seq *Sequencer) error {
	l.setState(StateBootstrapping)

	state := seq.Run(ctx)
	l.bootstrap.Store(state)

	// Trigger clock times live in the reference zone; every matching
	// decision has to happen there, whatever zone the host runs in.
	now := l.nowFn().In(l.hours.ReferenceLocation())
	l.lastDST.Store(l.hours.IsDSTActive(RegionUS, now))
	l.metrics.SetDSTActive(l.lastDST.Load())

	if err := l.RebuildTriggers(now); err != nil {
		l.setState(StateStopped)
		return err
	}

	if state.Healthy() && !state.ModelsReady() {
		l.armModelRetry(now, l.cfg.ModelRetryShort)
	}
	l.maybeSendReady(now)
	return nil
}

// RebuildTriggers recomputes every region's boundaries and atomically
// rebuilds the trigger table. A region whose boundaries are inconsistent is
// skipped (or fatal in strict mode); the model-retry trigger is re-armed
// afterwards since a rebuild wipes dynamic tags.
func (l *Loop) RebuildTriggers(now time.Time) error {
	retryPending := l.table.Has(TagModelRetry)

	boundaries := make(map[Region]SessionBoundary)
	for _, region := range l.hours.Regions() {
		b, err := l.hours.Compute(region, now)
		if err != nil {
			var inconsistency *InconsistencyError
			if errors.As(err, &inconsistency) && !l.cfg.StrictScheduling {
				l.logger.Error().Err(err).Str("region", string(region)).Msg("skipping region with inconsistent boundaries")
				continue
			}
			return err
		}
		boundaries[region] = b
		l.logger.Info().
			Str("region", string(region)).
			Str("open", b.Open.String()).
			Str("close", b.Close.String()).
			Bool("dst", b.DSTActive).
			Msg("session boundaries computed")
	}

	offsets := CatalogOffsets{
		AlertLeadMinutes: l.cfg.AlertLeadMinutes,
		AnalysisDelayMin: l.cfg.AnalysisDelayMin,
		DataLeadMinutes:  l.cfg.DataLeadMinutes,
	}
	if err := l.table.Rebuild(boundaries, offsets, now); err != nil {
		return err
	}
	l.metrics.TableRebuild()
	l.metrics.SetTriggerCount(l.table.Len())

	if retryPending {
		l.armModelRetry(now, l.retryDelay())
	}

	l.logger.Info().Int("triggers", l.table.Len()).Msg("trigger table rebuilt")
	return nil
}

// Run drives the polling loop until the context is cancelled. Bootstrap
// must have completed (possibly partially) first.
func (l *Loop) Run(ctx context.Context) error {
	if l.bootstrap.Load() == nil || l.table.Len() == 0 {
		return &ConfigError{Err: errors.New("loop started before bootstrap")}
	}

	l.setState(StateRunning)
	l.logger.Info().
		Str("tick", l.cfg.TickInterval.String()).
		Bool("dst", l.lastDST.Load()).
		Msg("scheduler loop running")

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.setState(StateStopping)
			l.logger.Info().Msg("scheduler loop stopping")
			l.setState(StateStopped)
			return ctx.Err()
		case <-ticker.C:
			l.Tick(l.nowFn())
		}
	}
}

// Tick executes one scheduler iteration: DST check and possible rebuild
// first, then evaluation and dispatch of due triggers. Exported so manual
// tooling and tests can drive the loop with an explicit clock.
func (l *Loop) Tick(now time.Time) {
	// Trigger matching happens in the reference zone regardless of the
	// host's zone; an instant expressed in UTC must still hit a 08:30 KST
	// trigger.
	now = now.In(l.hours.ReferenceLocation())

	dst := l.hours.IsDSTActive(RegionUS, now)
	if dst != l.lastDST.Load() {
		l.logger.Warn().
			Bool("was", l.lastDST.Load()).
			Bool("now", dst).
			Msg("DST transition detected, rebuilding trigger table")
		if err := l.RebuildTriggers(now); err != nil {
			// Keep the stale table rather than none; the next tick retries.
			l.logger.Error().Err(err).Msg("trigger table rebuild failed")
			return
		}
		l.lastDST.Store(dst)
		l.metrics.SetDSTActive(dst)
	}

	for _, spec := range l.table.DueNow(now) {
		if spec.Tag == TagModelRetry {
			l.runModelRetry(now)
			continue
		}
		l.dispatch(context.Background(), spec.Task)
	}
}

// RunManual dispatches a task by name outside the schedule, through the same
// error-isolation path. The trigger table is untouched.
func (l *Loop) RunManual(name string) error {
	if _, ok := l.registry.Resolve(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	res := l.dispatch(context.Background(), name)
	if !res.Success {
		return fmt.Errorf("task %s failed: %s", name, res.Error)
	}
	return nil
}

// dispatch runs one task, recovering panics and recording the result. A task
// failure never propagates: it is logged, counted, pushed to sinks, and
// surfaced through an alert.
func (l *Loop) dispatch(ctx context.Context, name string) JobExecutionResult {
	res := JobExecutionResult{Task: name, StartedAt: l.nowFn()}

	fn, ok := l.registry.Resolve(name)
	if !ok {
		res.Error = ErrUnknownTask.Error()
	} else {
		err := runIsolated(ctx, fn)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Success = true
		}
	}
	res.Duration = time.Since(res.StartedAt)

	l.metrics.JobRun(name, res.Success)
	for _, sink := range l.sinks {
		sink.RecordJobRun(res)
	}

	if res.Success {
		l.logger.Info().Str("task", name).Dur("took", res.Duration).Msg("task completed")
	} else {
		l.logger.Error().Str("task", name).Str("error", res.Error).Msg("task failed")
		if l.notifier != nil {
			_ = l.notifier.Send(
				fmt.Sprintf("Task failed: %s", name),
				fmt.Sprintf("%s failed at %s: %s", name, res.StartedAt.Format("2006-01-02 15:04:05"), res.Error),
			)
		}
	}
	return res
}

func runIsolated(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// armModelRetry schedules a one-shot model-bootstrap retry. The trigger
// removes itself when it fires; on failure runModelRetry re-arms it with the
// escalated delay.
func (l *Loop) armModelRetry(now time.Time, delay time.Duration) {
	spec := TriggerSpec{
		Tag:     TagModelRetry,
		Task:    taskModelRetry,
		Label:   "model bootstrap retry",
		Every:   delay,
		OneShot: true,
	}
	if err := l.table.Add(spec, now); err != nil {
		l.logger.Error().Err(err).Msg("failed to arm model retry trigger")
		return
	}
	l.logger.Info().Dur("delay", delay).Int("attempt", l.retryCount+1).Msg("model bootstrap retry armed")
}

func (l *Loop) retryDelay() time.Duration {
	if l.retryCount == 0 {
		return l.cfg.ModelRetryShort
	}
	return l.cfg.ModelRetryLong
}

func (l *Loop) runModelRetry(now time.Time) {
	if l.modelCheck == nil {
		return
	}
	if err := l.modelCheck(context.Background()); err != nil {
		l.retryCount++
		l.logger.Warn().Err(err).Int("attempt", l.retryCount).Msg("model bootstrap retry failed")
		l.armModelRetry(now, l.cfg.ModelRetryLong)
		return
	}
	l.bootstrap.Load().MarkModelsReady()
	l.logger.Info().Msg("model bootstrap retry succeeded")
	l.maybeSendReady(now)
}

// maybeSendReady emits the one-time "system ready" notification once the
// bootstrap state reaches full completion.
func (l *Loop) maybeSendReady(now time.Time) {
	state := l.bootstrap.Load()
	if l.readySent || state == nil || !state.Completed() {
		return
	}
	l.readySent = true
	if l.notifier == nil {
		return
	}
	title, body := ReadyMessage(state, l.table.UpcomingToday(now))
	if err := l.notifier.Send(title, body); err != nil {
		l.logger.Warn().Err(err).Msg("failed to send system ready notification")
	}
}
