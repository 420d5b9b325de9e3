package scheduler

import (
	"fmt"
	"time"

	"global_scheduler/config"
)

// Region identifies a market region.
type Region string

const (
	RegionKR Region = "KR"
	RegionUS Region = "US"
)

// MarketStatus describes where "now" falls inside a region's session day.
type MarketStatus string

const (
	StatusClosed    MarketStatus = "CLOSED"
	StatusPreOpen   MarketStatus = "PRE_OPEN"
	StatusOpen      MarketStatus = "OPEN"
	StatusPostClose MarketStatus = "POST_CLOSE"
)

// ClockTime is a wall-clock time of day at minute granularity.
type ClockTime struct {
	Hour   int
	Minute int
}

// Add returns the clock time shifted by the given number of minutes,
// carrying minute overflow into the hour field and wrapping at midnight.
func (c ClockTime) Add(minutes int) ClockTime {
	total := c.Hour*60 + c.Minute + minutes
	total %= 24 * 60
	if total < 0 {
		total += 24 * 60
	}
	return ClockTime{Hour: total / 60, Minute: total % 60}
}

// Minutes returns the time of day as minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// SessionBoundary holds one region's session boundaries converted into the
// reference time zone. Values are immutable; every computation produces a
// fresh one.
type SessionBoundary struct {
	Region    Region
	PreOpen   ClockTime
	Open      ClockTime
	Close     ClockTime
	PostClose ClockTime
	DSTActive bool
	Label     string
}

type localHours struct {
	preOpen   ClockTime
	open      ClockTime
	close     ClockTime
	postClose ClockTime
	name      string
}

type regionZone struct {
	loc   *time.Location
	hours localHours
}

// MarketHours converts region-local session boundaries into the reference
// zone. It is stateless beyond the loaded zone data; all methods take "now"
// explicitly.
type MarketHours struct {
	refLoc  *time.Location
	regions map[Region]regionZone
	order   []Region
}

// NewMarketHours loads the configured time zones. An unloadable zone is a
// ConfigError: there are no sensible default boundaries without zone data.
func NewMarketHours(cfg *config.Config) (*MarketHours, error) {
	refLoc, err := time.LoadLocation(cfg.ReferenceTimezone)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("reference zone %q: %w", cfg.ReferenceTimezone, err)}
	}
	krLoc, err := time.LoadLocation(cfg.KoreaTimezone)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("KR zone %q: %w", cfg.KoreaTimezone, err)}
	}
	usLoc, err := time.LoadLocation(cfg.USTimezone)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("US zone %q: %w", cfg.USTimezone, err)}
	}

	return &MarketHours{
		refLoc: refLoc,
		regions: map[Region]regionZone{
			RegionKR: {
				loc: krLoc,
				hours: localHours{
					preOpen:   ClockTime{8, 0},
					open:      ClockTime{9, 0},
					close:     ClockTime{15, 30},
					postClose: ClockTime{18, 0},
					name:      "Korea",
				},
			},
			RegionUS: {
				loc: usLoc,
				hours: localHours{
					preOpen:   ClockTime{4, 0},
					open:      ClockTime{9, 30},
					close:     ClockTime{16, 0},
					postClose: ClockTime{20, 0},
					name:      "US",
				},
			},
		},
		order: []Region{RegionKR, RegionUS},
	}, nil
}

// Regions returns the known regions in a stable order.
func (m *MarketHours) Regions() []Region {
	return m.order
}

// ReferenceLocation returns the zone all triggers are matched in.
func (m *MarketHours) ReferenceLocation() *time.Location {
	return m.refLoc
}

// IsDSTActive reports whether daylight saving is in effect for the region's
// local zone at the given instant. Always false for zones without DST.
func (m *MarketHours) IsDSTActive(region Region, now time.Time) bool {
	rz, ok := m.regions[region]
	if !ok {
		return false
	}
	return now.In(rz.loc).IsDST()
}

// Compute returns the region's session boundaries expressed in the reference
// zone for the given instant.
//
// Each local boundary is anchored to "now"'s local date and converted using
// that instant's zone offset. On the two DST transition days a boundary is
// therefore converted with whichever offset is in effect at "now", which can
// place a same-day boundary an hour off until the transition completes. That
// is the accepted policy: the table is rebuilt as soon as the loop observes
// the offset change.
func (m *MarketHours) Compute(region Region, now time.Time) (SessionBoundary, error) {
	rz, ok := m.regions[region]
	if !ok {
		return SessionBoundary{}, &ConfigError{Err: fmt.Errorf("unknown region %q", region)}
	}

	local := now.In(rz.loc)
	convert := func(c ClockTime) ClockTime {
		t := time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, rz.loc)
		ref := t.In(m.refLoc)
		return ClockTime{Hour: ref.Hour(), Minute: ref.Minute()}
	}

	b := SessionBoundary{
		Region:    region,
		PreOpen:   convert(rz.hours.preOpen),
		Open:      convert(rz.hours.open),
		Close:     convert(rz.hours.close),
		PostClose: convert(rz.hours.postClose),
		DSTActive: local.IsDST(),
	}
	b.Label = boundaryLabel(rz.hours.name, b)

	if err := validateBoundary(b); err != nil {
		return SessionBoundary{}, err
	}
	return b, nil
}

// Status classifies "now" against the region's boundaries. When the
// converted session crosses midnight in the reference zone (post-close
// numerically earlier than pre-open), boundaries after the wrap get a day
// added, and a morning "now" is treated as belonging to the previous
// session day.
func (m *MarketHours) Status(region Region, now time.Time) (MarketStatus, error) {
	b, err := m.Compute(region, now)
	if err != nil {
		return StatusClosed, err
	}

	ref := now.In(m.refLoc)
	current := ref.Hour()*60 + ref.Minute()

	preOpen, open, close_, postClose := unwrapMinutes(b)
	if postClose > 24*60 && current < 12*60 {
		current += 24 * 60
	}

	switch {
	case current < preOpen:
		return StatusClosed, nil
	case current < open:
		return StatusPreOpen, nil
	case current < close_:
		return StatusOpen, nil
	case current < postClose:
		return StatusPostClose, nil
	default:
		return StatusClosed, nil
	}
}

// unwrapMinutes returns the four boundaries as minutes since midnight with a
// day added to each boundary that falls after a midnight wrap, so the
// sequence is monotonically increasing.
func unwrapMinutes(b SessionBoundary) (int, int, int, int) {
	vals := []int{b.PreOpen.Minutes(), b.Open.Minutes(), b.Close.Minutes(), b.PostClose.Minutes()}
	for i := 1; i < len(vals); i++ {
		if vals[i] < vals[i-1] {
			vals[i] += 24 * 60
		}
	}
	return vals[0], vals[1], vals[2], vals[3]
}

func validateBoundary(b SessionBoundary) error {
	preOpen, _, _, postClose := unwrapMinutes(b)
	if postClose-preOpen >= 24*60 {
		return &InconsistencyError{
			Reason: fmt.Sprintf("%s session boundaries span more than one day: %s %s %s %s",
				b.Region, b.PreOpen, b.Open, b.Close, b.PostClose),
		}
	}
	return nil
}

func boundaryLabel(name string, b SessionBoundary) string {
	zone := "standard time"
	if b.DSTActive {
		zone = "daylight saving"
	}
	return fmt.Sprintf("%s market %s-%s (%s)", name, b.Open, b.Close, zone)
}
