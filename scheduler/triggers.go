package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Task identifiers dispatched through the registry. The trigger catalog is
// code-defined; it is not configurable at runtime.
const (
	TaskKRPremarketAlert = "kr_premarket_alert"
	TaskKRAnalysis       = "kr_market_analysis"
	TaskKRDataCollect    = "kr_data_collect"
	TaskUSPremarketAlert = "us_premarket_alert"
	TaskUSOpenAlert      = "us_open_alert"
	TaskUSAnalysis       = "us_market_analysis"
	TaskUSDataCollect    = "us_data_collect"
	TaskTokenRefresh     = "kis_token_refresh"
	TaskHealthCheck      = "health_check"
	TaskEmergencyCheck   = "emergency_check"
	TaskAdaptiveTrain    = "adaptive_training"
	TaskAdvancedTrain    = "advanced_training"
	TaskWeeklyReport     = "weekly_report"
)

// TagModelRetry is reserved for the bootstrap model-retry trigger. It is
// never part of a rebuild catalog; the loop re-arms it after rebuilds while
// the models remain not ready.
const TagModelRetry = "model_retry"

type dayFilterKind int

const (
	everyDay dayFilterKind = iota
	weekdaysOnly
	singleDay
)

// DayFilter is a day-of-week predicate for clock triggers.
type DayFilter struct {
	kind dayFilterKind
	day  time.Weekday
}

func AllDays() DayFilter             { return DayFilter{kind: everyDay} }
func Weekdays() DayFilter            { return DayFilter{kind: weekdaysOnly} }
func OnDay(d time.Weekday) DayFilter { return DayFilter{kind: singleDay, day: d} }

func (f DayFilter) Matches(d time.Weekday) bool {
	switch f.kind {
	case weekdaysOnly:
		return d != time.Saturday && d != time.Sunday
	case singleDay:
		return d == f.day
	default:
		return true
	}
}

func (f DayFilter) String() string {
	switch f.kind {
	case weekdaysOnly:
		return "weekdays"
	case singleDay:
		return f.day.String()
	default:
		return "every day"
	}
}

// TriggerSpec is one recurring schedule entry. A spec is either a clock
// trigger (Days + At) or an interval trigger (Every > 0); interval triggers
// may be one-shot.
type TriggerSpec struct {
	Tag     string
	Task    string
	Label   string
	Days    DayFilter
	At      ClockTime
	Every   time.Duration
	OneShot bool
}

// IsInterval reports whether the spec fires on a fixed interval rather than
// at a clock time.
func (s TriggerSpec) IsInterval() bool {
	return s.Every > 0
}

// ScheduleEntry is one line of the "today's schedule" summary.
type ScheduleEntry struct {
	At    ClockTime
	Label string
	Task  string
	Until time.Duration
}

// CatalogOffsets parametrizes the boundary-derived triggers.
type CatalogOffsets struct {
	AlertLeadMinutes int // premarket alert fires open - lead
	AnalysisDelayMin int // analysis fires close + delay
	DataLeadMinutes  int // KR data collection fires post-close - lead
}

// TriggerTable holds the active trigger specs keyed by tag. The keying is
// what makes duplicate tags impossible: a rebuild constructs a fresh map and
// swaps it in whole, so no observer ever sees a partially populated or
// double-tagged table.
//
// The table is mutated only by the scheduler loop; the mutex exists for the
// read-only status endpoints.
type TriggerTable struct {
	mu        sync.Mutex
	specs     map[string]TriggerSpec
	lastFired map[string]time.Time
}

func NewTriggerTable() *TriggerTable {
	return &TriggerTable{
		specs:     make(map[string]TriggerSpec),
		lastFired: make(map[string]time.Time),
	}
}

// Rebuild discards every existing spec and repopulates the table from the
// given session boundaries plus the static maintenance catalog. Interval
// bookkeeping survives for tags present in the new catalog so an hourly
// check does not refire just because the table was rebuilt.
func (t *TriggerTable) Rebuild(boundaries map[Region]SessionBoundary, off CatalogOffsets, now time.Time) error {
	fresh := make(map[string]TriggerSpec)

	add := func(s TriggerSpec) error {
		if _, dup := fresh[s.Tag]; dup {
			return &ConfigError{Err: fmt.Errorf("duplicate trigger tag %q in catalog", s.Tag)}
		}
		fresh[s.Tag] = s
		return nil
	}

	for _, s := range boundaryTriggers(boundaries, off) {
		if err := add(s); err != nil {
			return err
		}
	}
	for _, s := range maintenanceTriggers() {
		if err := add(s); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fired := make(map[string]time.Time, len(fresh))
	for tag, spec := range fresh {
		if spec.IsInterval() {
			if last, ok := t.lastFired[tag]; ok {
				fired[tag] = last
			} else {
				fired[tag] = now
			}
		}
	}
	t.specs = fresh
	t.lastFired = fired
	return nil
}

// boundaryTriggers derives the per-region session triggers. Offsets are
// applied through ClockTime.Add, which carries minute overflow into the hour
// field.
func boundaryTriggers(boundaries map[Region]SessionBoundary, off CatalogOffsets) []TriggerSpec {
	var specs []TriggerSpec

	if kr, ok := boundaries[RegionKR]; ok {
		specs = append(specs,
			TriggerSpec{
				Tag:   "kr_premarket",
				Task:  TaskKRPremarketAlert,
				Label: "KR premarket recommendations",
				Days:  Weekdays(),
				At:    kr.Open.Add(-off.AlertLeadMinutes),
			},
			TriggerSpec{
				Tag:   "kr_analysis",
				Task:  TaskKRAnalysis,
				Label: "KR market close analysis",
				Days:  Weekdays(),
				At:    kr.Close.Add(off.AnalysisDelayMin),
			},
			TriggerSpec{
				Tag:   "kr_data",
				Task:  TaskKRDataCollect,
				Label: "KR data collection",
				Days:  Weekdays(),
				At:    kr.PostClose.Add(-off.DataLeadMinutes),
			},
		)
	}

	if us, ok := boundaries[RegionUS]; ok {
		specs = append(specs,
			TriggerSpec{
				Tag:   "us_premarket",
				Task:  TaskUSPremarketAlert,
				Label: "US premarket alert",
				Days:  Weekdays(),
				At:    us.PreOpen,
			},
			TriggerSpec{
				Tag:   "us_market_open",
				Task:  TaskUSOpenAlert,
				Label: "US market open alert",
				Days:  Weekdays(),
				At:    us.Open,
			},
			TriggerSpec{
				Tag:   "us_analysis",
				Task:  TaskUSAnalysis,
				Label: "US market close analysis",
				Days:  AllDays(),
				At:    us.Close.Add(off.AnalysisDelayMin),
			},
			TriggerSpec{
				Tag:   "us_data",
				Task:  TaskUSDataCollect,
				Label: "US data collection",
				Days:  AllDays(),
				At:    us.PostClose,
			},
		)
	}

	return specs
}

// maintenanceTriggers is the fixed housekeeping catalog: credential refresh,
// health and emergency checks, and the two training cadences.
func maintenanceTriggers() []TriggerSpec {
	return []TriggerSpec{
		{
			Tag:   "kis_token",
			Task:  TaskTokenRefresh,
			Label: "KIS token refresh",
			Days:  AllDays(),
			At:    ClockTime{0, 0},
		},
		{
			Tag:   "health",
			Task:  TaskHealthCheck,
			Label: "system health check",
			Every: time.Hour,
		},
		{
			Tag:   "emergency",
			Task:  TaskEmergencyCheck,
			Label: "emergency condition check",
			Every: 4 * time.Hour,
		},
		{
			Tag:   "ml_daily",
			Task:  TaskAdaptiveTrain,
			Label: "daily adaptive training",
			Days:  AllDays(),
			At:    ClockTime{6, 30},
		},
		{
			Tag:   "ml_weekly_advanced",
			Task:  TaskAdvancedTrain,
			Label: "weekly advanced training",
			Days:  OnDay(time.Sunday),
			At:    ClockTime{2, 0},
		},
		{
			Tag:   "weekly_report",
			Task:  TaskWeeklyReport,
			Label: "weekly market report",
			Days:  OnDay(time.Saturday),
			At:    ClockTime{12, 0},
		},
	}
}

// Add inserts a single spec outside a rebuild, used for the model-retry
// trigger. Adding an existing tag is a scheduling inconsistency.
func (t *TriggerTable) Add(spec TriggerSpec, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.specs[spec.Tag]; dup {
		return &InconsistencyError{Reason: fmt.Sprintf("trigger tag %q already present", spec.Tag)}
	}
	t.specs[spec.Tag] = spec
	if spec.IsInterval() {
		t.lastFired[spec.Tag] = now
	}
	return nil
}

// Remove deletes a spec by tag. Removing an absent tag is a no-op.
func (t *TriggerTable) Remove(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.specs, tag)
	delete(t.lastFired, tag)
}

// Has reports whether a tag is currently registered.
func (t *TriggerTable) Has(tag string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.specs[tag]
	return ok
}

// Len returns the number of registered specs.
func (t *TriggerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.specs)
}

// Tags returns the registered tags, sorted.
func (t *TriggerTable) Tags() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	tags := make([]string, 0, len(t.specs))
	for tag := range t.specs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DueNow returns every spec due at the given instant, comparing at minute
// granularity: seconds and below are ignored so polling jitter cannot skip a
// fire. Firing is recorded here; one-shot interval triggers remove
// themselves once returned.
func (t *TriggerTable) DueNow(now time.Time) []TriggerSpec {
	t.mu.Lock()
	defer t.mu.Unlock()

	minute := now.Truncate(time.Minute)
	var due []TriggerSpec

	tags := make([]string, 0, len(t.specs))
	for tag := range t.specs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		spec := t.specs[tag]

		if spec.IsInterval() {
			last := t.lastFired[tag]
			if minute.Sub(last) >= spec.Every {
				due = append(due, spec)
				t.lastFired[tag] = minute
				if spec.OneShot {
					delete(t.specs, tag)
					delete(t.lastFired, tag)
				}
			}
			continue
		}

		if !spec.Days.Matches(minute.Weekday()) {
			continue
		}
		if spec.At.Hour != minute.Hour() || spec.At.Minute != minute.Minute() {
			continue
		}
		// Guard against double-firing when two ticks land in one minute.
		if last, ok := t.lastFired[tag]; ok && last.Equal(minute) {
			continue
		}
		due = append(due, spec)
		t.lastFired[tag] = minute
	}

	return due
}

// UpcomingToday lists the remaining fires for the current day, deduplicated
// by (time, label) and sorted by fire time. Interval triggers are projected
// from their last firing.
func (t *TriggerTable) UpcomingToday(now time.Time) []ScheduleEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	minute := now.Truncate(time.Minute)
	nowMins := minute.Hour()*60 + minute.Minute()

	type key struct {
		at    ClockTime
		label string
	}
	seen := make(map[key]bool)
	var entries []ScheduleEntry

	appendEntry := func(at ClockTime, spec TriggerSpec) {
		k := key{at: at, label: spec.Label}
		if seen[k] {
			return
		}
		seen[k] = true
		entries = append(entries, ScheduleEntry{
			At:    at,
			Label: spec.Label,
			Task:  spec.Task,
			Until: time.Duration(at.Minutes()-nowMins) * time.Minute,
		})
	}

	for _, spec := range t.specs {
		if spec.IsInterval() {
			next := t.lastFired[spec.Tag].Add(spec.Every)
			if next.YearDay() == minute.YearDay() && next.Year() == minute.Year() && !next.Before(minute) {
				appendEntry(ClockTime{next.Hour(), next.Minute()}, spec)
			}
			continue
		}
		if !spec.Days.Matches(minute.Weekday()) {
			continue
		}
		if spec.At.Minutes() >= nowMins {
			appendEntry(spec.At, spec)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].At.Minutes() != entries[j].At.Minutes() {
			return entries[i].At.Minutes() < entries[j].At.Minutes()
		}
		return entries[i].Label < entries[j].Label
	})
	return entries
}
