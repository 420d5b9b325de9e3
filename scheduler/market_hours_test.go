package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"global_scheduler/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ReferenceTimezone: "Asia/Seoul",
		KoreaTimezone:     "Asia/Seoul",
		USTimezone:        "America/New_York",
		TickInterval:      time.Minute,
		AlertLeadMinutes:  30,
		AnalysisDelayMin:  30,
		DataLeadMinutes:   60,
		ModelRetryShort:   30 * time.Minute,
		ModelRetryLong:    2 * time.Hour,
	}
}

func newTestHours(t *testing.T) *MarketHours {
	t.Helper()
	hours, err := NewMarketHours(testConfig())
	require.NoError(t, err)
	return hours
}

func seoulTime(t *testing.T, year int, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func TestClockTimeAdd(t *testing.T) {
	tests := []struct {
		name    string
		in      ClockTime
		minutes int
		want    ClockTime
	}{
		{"no carry", ClockTime{9, 0}, 15, ClockTime{9, 15}},
		{"carry into hour", ClockTime{9, 45}, 30, ClockTime{10, 15}},
		{"negative within hour", ClockTime{9, 30}, -15, ClockTime{9, 15}},
		{"negative borrow", ClockTime{9, 15}, -30, ClockTime{8, 45}},
		{"wrap past midnight", ClockTime{23, 45}, 30, ClockTime{0, 15}},
		{"wrap before midnight", ClockTime{0, 15}, -30, ClockTime{23, 45}},
		{"full hour carry", ClockTime{15, 30}, 30, ClockTime{16, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Add(tt.minutes))
		})
	}
}

func TestComputeKRBoundaries(t *testing.T) {
	hours := newTestHours(t)
	now := seoulTime(t, 2025, time.July, 15, 10, 0)

	b, err := hours.Compute(RegionKR, now)
	require.NoError(t, err)

	assert.Equal(t, ClockTime{8, 0}, b.PreOpen)
	assert.Equal(t, ClockTime{9, 0}, b.Open)
	assert.Equal(t, ClockTime{15, 30}, b.Close)
	assert.Equal(t, ClockTime{18, 0}, b.PostClose)
	assert.False(t, b.DSTActive)
}

func TestComputeUSBoundariesSummer(t *testing.T) {
	hours := newTestHours(t)
	now := seoulTime(t, 2025, time.July, 15, 10, 0)

	b, err := hours.Compute(RegionUS, now)
	require.NoError(t, err)

	// EDT is UTC-4, Seoul is UTC+9: a 13 hour gap.
	assert.Equal(t, ClockTime{17, 0}, b.PreOpen)
	assert.Equal(t, ClockTime{22, 30}, b.Open)
	assert.Equal(t, ClockTime{5, 0}, b.Close)
	assert.Equal(t, ClockTime{9, 0}, b.PostClose)
	assert.True(t, b.DSTActive)
}

func TestComputeUSBoundariesWinter(t *testing.T) {
	hours := newTestHours(t)
	now := seoulTime(t, 2025, time.January, 15, 10, 0)

	b, err := hours.Compute(RegionUS, now)
	require.NoError(t, err)

	// EST is UTC-5: every boundary lands one hour later than in summer.
	assert.Equal(t, ClockTime{18, 0}, b.PreOpen)
	assert.Equal(t, ClockTime{23, 30}, b.Open)
	assert.Equal(t, ClockTime{6, 0}, b.Close)
	assert.Equal(t, ClockTime{10, 0}, b.PostClose)
	assert.False(t, b.DSTActive)
}

func TestDSTFlipsTwiceAYearForUSNeverForKR(t *testing.T) {
	hours := newTestHours(t)

	start := seoulTime(t, 2025, time.January, 1, 12, 0)
	usFlips, krFlips := 0, 0
	lastUS := hours.IsDSTActive(RegionUS, start)
	lastKR := hours.IsDSTActive(RegionKR, start)

	for day := 1; day <= 365; day++ {
		now := start.AddDate(0, 0, day)
		if us := hours.IsDSTActive(RegionUS, now); us != lastUS {
			usFlips++
			lastUS = us
		}
		if kr := hours.IsDSTActive(RegionKR, now); kr != lastKR {
			krFlips++
			lastKR = kr
		}
	}

	assert.Equal(t, 2, usFlips)
	assert.Equal(t, 0, krFlips)
}

func TestSpringForwardShiftsUSBoundaries(t *testing.T) {
	hours := newTestHours(t)

	// US spring transition in 2025 is March 9 local time.
	before, err := hours.Compute(RegionUS, seoulTime(t, 2025, time.March, 7, 12, 0))
	require.NoError(t, err)
	after, err := hours.Compute(RegionUS, seoulTime(t, 2025, time.March, 12, 12, 0))
	require.NoError(t, err)

	assert.False(t, before.DSTActive)
	assert.True(t, after.DSTActive)
	assert.Equal(t, before.Open.Add(-60), after.Open)
	assert.Equal(t, before.Close.Add(-60), after.Close)
}

func TestStatusKR(t *testing.T) {
	hours := newTestHours(t)

	tests := []struct {
		hour, minute int
		want         MarketStatus
	}{
		{7, 0, StatusClosed},
		{8, 30, StatusPreOpen},
		{10, 0, StatusOpen},
		{15, 29, StatusOpen},
		{16, 0, StatusPostClose},
		{19, 0, StatusClosed},
	}
	for _, tt := range tests {
		now := seoulTime(t, 2025, time.July, 15, tt.hour, tt.minute)
		status, err := hours.Status(RegionKR, now)
		require.NoError(t, err)
		assert.Equal(t, tt.want, status, "at %02d:%02d", tt.hour, tt.minute)
	}
}

func TestStatusUSWrapsPastMidnight(t *testing.T) {
	hours := newTestHours(t)

	// Winter boundaries in Seoul: pre-open 18:00, open 23:30, close 06:00,
	// post-close 10:00 the next morning.
	tests := []struct {
		hour, minute int
		want         MarketStatus
	}{
		{17, 0, StatusClosed},
		{19, 0, StatusPreOpen},
		{23, 45, StatusOpen},
		{3, 0, StatusOpen},
		{7, 0, StatusPostClose},
		{11, 0, StatusClosed},
	}
	for _, tt := range tests {
		now := seoulTime(t, 2025, time.January, 15, tt.hour, tt.minute)
		status, err := hours.Status(RegionUS, now)
		require.NoError(t, err)
		assert.Equal(t, tt.want, status, "at %02d:%02d", tt.hour, tt.minute)
	}
}

func TestComputeUnknownRegion(t *testing.T) {
	hours := newTestHours(t)

	_, err := hours.Compute(Region("EU"), time.Now())
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewMarketHoursBadZone(t *testing.T) {
	cfg := testConfig()
	cfg.USTimezone = "Not/AZone"

	_, err := NewMarketHours(cfg)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
