package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeNotifier) Send(title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

type fakeSink struct {
	mu      sync.Mutex
	results []JobExecutionResult
}

func (f *fakeSink) RecordJobRun(res JobExecutionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
}

func (f *fakeSink) recorded() []JobExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]JobExecutionResult(nil), f.results...)
}

func allPassSequencer() *Sequencer {
	return &Sequencer{
		Health: passCheck,
		KRData: passCheck,
		USData: passCheck,
		Models: passCheck,
		Logger: zerolog.Nop(),
	}
}

func newTestLoop(t *testing.T, reg *Registry, at time.Time) *Loop {
	t.Helper()
	hours := newTestHours(t)
	loop := NewLoop(testConfig(), hours, reg, zerolog.Nop())
	loop.SetClock(func() time.Time { return at })
	return loop
}

func TestBootstrapBuildsTriggerTable(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), at)

	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))

	assert.Equal(t, 13, loop.Table().Len())
	assert.False(t, loop.DSTActive())
	assert.False(t, loop.Table().Has(TagModelRetry))
}

func TestBootstrapArmsModelRetryWhenModelsNotReady(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), at)

	seq := allPassSequencer()
	seq.Models = failCheck
	require.NoError(t, loop.Bootstrap(context.Background(), seq))

	assert.True(t, loop.Table().Has(TagModelRetry))
	assert.False(t, loop.BootstrapState().ModelsReady())
}

func TestBootstrapSendsReadyNotificationOnce(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), at)
	notifier := &fakeNotifier{}
	loop.SetNotifier(notifier)

	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))

	titles := notifier.sent()
	require.Len(t, titles, 1)
	assert.Equal(t, "Global market scheduler started", titles[0])
}

func TestTickIsolatesTaskFailures(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 9, 0)

	var ran []string
	reg := NewRegistry()
	reg.Register("task_fails", func(ctx context.Context) error {
		ran = append(ran, "task_fails")
		return errors.New("boom")
	})
	reg.Register("task_panics", func(ctx context.Context) error {
		ran = append(ran, "task_panics")
		panic("kaboom")
	})
	reg.Register("task_ok", func(ctx context.Context) error {
		ran = append(ran, "task_ok")
		return nil
	})

	loop := newTestLoop(t, reg, at)
	sink := &fakeSink{}
	loop.AddSink(sink)
	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))

	// Tag order is alphabetical, so the failing tasks run first.
	for i, task := range []string{"task_fails", "task_panics", "task_ok"} {
		tag := string(rune('a'+i)) + "_tag"
		require.NoError(t, loop.Table().Add(TriggerSpec{
			Tag: tag, Task: task, Label: task, Days: AllDays(), At: ClockTime{9, 0},
		}, at))
	}

	loop.Tick(at)

	assert.Equal(t, []string{"task_fails", "task_panics", "task_ok"}, ran)

	results := sink.recorded()
	require.Len(t, results, 3)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[1].Error, "panicked")
	assert.True(t, results[2].Success)
}

func TestTickRebuildsOnDSTChange(t *testing.T) {
	winter := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), winter)
	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))

	// A leftover dynamic trigger should not survive the DST rebuild.
	require.NoError(t, loop.Table().Add(TriggerSpec{
		Tag: "stale", Task: "task", Label: "stale", Days: AllDays(), At: ClockTime{23, 0},
	}, winter))
	require.False(t, loop.DSTActive())

	summer := seoulTime(t, 2025, time.July, 15, 7, 0)
	loop.Tick(summer)

	assert.True(t, loop.DSTActive())
	assert.False(t, loop.Table().Has("stale"))
	assert.Equal(t, 13, loop.Table().Len())
}

func TestDSTRebuildReArmsModelRetry(t *testing.T) {
	winter := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), winter)

	seq := allPassSequencer()
	seq.Models = failCheck
	require.NoError(t, loop.Bootstrap(context.Background(), seq))
	require.True(t, loop.Table().Has(TagModelRetry))

	summer := seoulTime(t, 2025, time.July, 15, 7, 0)
	loop.Tick(summer)

	assert.True(t, loop.Table().Has(TagModelRetry), "model retry must survive the rebuild")
}

func TestModelRetrySuccessCompletesBootstrap(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), at)
	notifier := &fakeNotifier{}
	loop.SetNotifier(notifier)
	loop.SetModelCheck(passCheck)

	seq := allPassSequencer()
	seq.Models = failCheck
	require.NoError(t, loop.Bootstrap(context.Background(), seq))
	require.Empty(t, notifier.sent())

	loop.Tick(at.Add(30 * time.Minute))

	assert.True(t, loop.BootstrapState().ModelsReady())
	assert.True(t, loop.BootstrapState().Completed())
	assert.False(t, loop.Table().Has(TagModelRetry))
	assert.Contains(t, notifier.sent(), "Global market scheduler started")
}

func TestModelRetryFailureEscalatesDelay(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), at)
	loop.SetModelCheck(failCheck)

	seq := allPassSequencer()
	seq.Models = failCheck
	require.NoError(t, loop.Bootstrap(context.Background(), seq))

	// First retry after the short delay fails and re-arms with the long one.
	loop.Tick(at.Add(30 * time.Minute))
	require.True(t, loop.Table().Has(TagModelRetry))
	assert.False(t, loop.BootstrapState().ModelsReady())

	// Still armed before the long delay elapses.
	loop.Tick(at.Add(30*time.Minute + time.Hour))
	assert.True(t, loop.Table().Has(TagModelRetry))

	loop.Tick(at.Add(30*time.Minute + 2*time.Hour))
	assert.True(t, loop.Table().Has(TagModelRetry), "failed retry re-arms itself")
}

func TestRunManualUnknownTask(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), at)
	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))
	before := loop.Table().Tags()

	err := loop.RunManual("no_such_task")
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Equal(t, before, loop.Table().Tags(), "manual runs must not mutate the table")
}

func TestRunManualDispatchesAndReportsFailure(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)

	reg := NewRegistry()
	reg.Register("ok_task", func(ctx context.Context) error { return nil })
	reg.Register("bad_task", func(ctx context.Context) error { return errors.New("boom") })

	loop := newTestLoop(t, reg, at)
	sink := &fakeSink{}
	loop.AddSink(sink)
	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))

	assert.NoError(t, loop.RunManual("ok_task"))
	assert.Error(t, loop.RunManual("bad_task"))

	results := sink.recorded()
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestRunRequiresBootstrap(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), at)

	err := loop.Run(context.Background())
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

type fakeMetrics struct {
	mu            sync.Mutex
	triggerCounts []int
}

func (f *fakeMetrics) JobRun(string, bool) {}
func (f *fakeMetrics) TableRebuild() {}
func (f *fakeMetrics) SetDSTActive(bool) {}
func (f *fakeMetrics) SetLoopState(LoopState) {}

func (f *fakeMetrics) SetTriggerCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerCounts = append(f.triggerCounts, n)
}

func TestTickMatchesTriggersInReferenceZone(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)

	ran := false
	reg := NewRegistry()
	reg.Register(TaskKRPremarketAlert, func(ctx context.Context) error {
		ran = true
		return nil
	})

	loop := newTestLoop(t, reg, at)
	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))

	// The same instant as 08:30 in Seoul, but labeled UTC as on a host
	// whose local zone is not the reference zone.
	fire := seoulTime(t, 2025, time.January, 15, 8, 30).UTC()
	loop.Tick(fire)

	assert.True(t, ran, "a reference-zone 08:30 trigger must fire for the equivalent UTC instant")
}

func TestStatusReadsDuringTicks(t *testing.T) {
	winter := seoulTime(t, 2025, time.January, 15, 7, 0)
	summer := seoulTime(t, 2025, time.July, 15, 7, 0)

	loop := newTestLoop(t, NewRegistry(), winter)
	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = loop.DSTActive()
				_ = loop.BootstrapState().Completed()
				_ = loop.State()
			}
		}
	}()

	// Alternating seasons forces a DST store on every tick while the
	// reader goroutine polls the status surface.
	for i := 0; i < 50; i++ {
		loop.Tick(winter)
		loop.Tick(summer)
	}
	close(done)
	wg.Wait()

	assert.True(t, loop.DSTActive())
}

func TestRebuildReportsTriggerGauge(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)
	loop := newTestLoop(t, NewRegistry(), at)

	m := &fakeMetrics{}
	loop.SetMetrics(m)
	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))

	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.triggerCounts)
	assert.Equal(t, 13, m.triggerCounts[len(m.triggerCounts)-1])
}

func TestRunStopsOnContextCancel(t *testing.T) {
	at := seoulTime(t, 2025, time.January, 15, 7, 0)
	cfg := testConfig()
	cfg.TickInterval = 10 * time.Millisecond

	loop := NewLoop(cfg, newTestHours(t), NewRegistry(), zerolog.Nop())
	loop.SetClock(func() time.Time { return at })
	require.NoError(t, loop.Bootstrap(context.Background(), allPassSequencer()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateRunning, loop.State())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	assert.Equal(t, StateStopped, loop.State())
}
