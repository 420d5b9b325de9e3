package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CheckFunc is a single bootstrap readiness check.
type CheckFunc func(ctx context.Context) error

// BootstrapState holds the outcomes of the startup sequence. It is written
// once by the sequencer; the only later mutation is the model-retry path
// flipping ModelsReady to true.
type BootstrapState struct {
	mu          sync.RWMutex
	healthy     bool
	krDataReady bool
	usDataReady bool
	modelsReady bool
	startedAt   time.Time
	finishedAt  time.Time
}

func (s *BootstrapState) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *BootstrapState) KRDataReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.krDataReady
}

func (s *BootstrapState) USDataReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usDataReady
}

func (s *BootstrapState) ModelsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelsReady
}

// Completed reports full readiness: both data regions and the models.
func (s *BootstrapState) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.krDataReady && s.usDataReady && s.modelsReady
}

// MarkModelsReady is called by the background retry once model bootstrap
// finally succeeds.
func (s *BootstrapState) MarkModelsReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelsReady = true
}

// Summary renders the human-readable outcome used in the startup
// notification.
func (s *BootstrapState) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mark := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "failed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bootstrap results (%s):\n", s.finishedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- system health: %s\n", mark(s.healthy))
	fmt.Fprintf(&b, "- KR market data: %s\n", mark(s.krDataReady))
	fmt.Fprintf(&b, "- US market data: %s\n", mark(s.usDataReady))
	fmt.Fprintf(&b, "- ML models: %s", mark(s.modelsReady))
	return b.String()
}

// Sequencer runs the fixed startup sequence: health check, KR data, US data,
// model bootstrap. Steps after the health check are independently isolated;
// a failed step is recorded and the sequence continues, because partial
// readiness is still useful (one region can serve while the other catches
// up). A failed health check short-circuits everything: nothing downstream
// is trustworthy without basic connectivity.
type Sequencer struct {
	Health CheckFunc
	KRData CheckFunc
	USData CheckFunc
	Models CheckFunc
	Logger zerolog.Logger
}

// Run executes the sequence and returns the resulting state. Individual
// step errors never propagate.
func (q *Sequencer) Run(ctx context.Context) *BootstrapState {
	state := &BootstrapState{startedAt: time.Now()}

	q.Logger.Info().Msg("bootstrap: starting")

	if err := q.runStep(ctx, "health", q.Health); err != nil {
		q.Logger.Error().Err(err).Msg("bootstrap: health check failed, aborting sequence")
		state.finishedAt = time.Now()
		return state
	}
	state.healthy = true

	if err := q.runStep(ctx, "kr_data", q.KRData); err == nil {
		state.krDataReady = true
	}
	if err := q.runStep(ctx, "us_data", q.USData); err == nil {
		state.usDataReady = true
	}
	if err := q.runStep(ctx, "models", q.Models); err == nil {
		state.modelsReady = true
	}

	state.finishedAt = time.Now()
	q.Logger.Info().
		Bool("kr_data", state.krDataReady).
		Bool("us_data", state.usDataReady).
		Bool("models", state.modelsReady).
		Bool("completed", state.Completed()).
		Msg("bootstrap: finished")
	return state
}

func (q *Sequencer) runStep(ctx context.Context, name string, check CheckFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bootstrap step %s panicked: %v", name, r)
			q.Logger.Error().Err(err).Msg("bootstrap step recovered")
		}
	}()

	if check == nil {
		return fmt.Errorf("bootstrap step %s not configured", name)
	}
	start := time.Now()
	if err := check(ctx); err != nil {
		q.Logger.Warn().Err(err).Str("step", name).Dur("took", time.Since(start)).Msg("bootstrap step failed")
		return err
	}
	q.Logger.Info().Str("step", name).Dur("took", time.Since(start)).Msg("bootstrap step ok")
	return nil
}

// ReadyMessage builds the one-time "system ready" notification body: the
// bootstrap summary followed by today's remaining trigger schedule.
func ReadyMessage(state *BootstrapState, entries []ScheduleEntry) (string, string) {
	var b strings.Builder
	b.WriteString(state.Summary())
	b.WriteString("\n\nToday's remaining schedule:\n")
	if len(entries) == 0 {
		b.WriteString("- nothing left for today")
	}
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s %s (in %s)", e.At, e.Label, formatUntil(e.Until))
	}
	return "Global market scheduler started", b.String()
}

func formatUntil(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
