package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
)

func ptr(v float64) *float64 { return &v }

func TestFormatActivity(t *testing.T) {
	t.Run("run with heart rate and PRs", func(t *testing.T) {
		a := &strava.Activity{
			Name:               "Morning Run",
			Type:               "Run",
			SportType:          "TrailRun",
			Distance:           10000,
			MovingTime:         3000,
			TotalElevationGain: 12.5,
			StartDateLocal:     "2025-10-29T12:13:00Z",
			AverageHeartrate:   ptr(145.2),
			PRCount:            2,
		}
		want := "🏃 New Strava Workout!\n\n" +
			"**Morning Run**\n" +
			"Type: TrailRun\n" +
			"Date: Oct 29, 2025, 12:13 PM\n" +
			"Distance: 10.00 km\n" +
			"Duration: 50 minutes\n" +
			"Pace: 5.00 min/km\n" +
			"Elevation: 12.5m\n" +
			"Avg HR: 145.2 bpm\n" +
			"🏆 2 PRs!"
		assert.Equal(t, want, FormatActivity(a))
	})

	t.Run("no distance, power and energy, single PR", func(t *testing.T) {
		a := &strava.Activity{
			Name:           "Spin",
			Type:           "Ride",
			MovingTime:     1770,
			StartDateLocal: "2025-01-05T07:05:00Z",
			AverageWatts:   ptr(200),
			Kilojoules:     ptr(512.4),
			PRCount:        1,
		}
		want := "🏃 New Strava Workout!\n\n" +
			"**Spin**\n" +
			"Type: Ride\n" +
			"Date: Jan 5, 2025, 7:05 AM\n" +
			"Distance: N/A\n" +
			"Duration: 30 minutes\n" +
			"Pace: N/A min/km\n" +
			"Elevation: 0m\n" +
			"Avg HR: N/A bpm\n" +
			"Avg Power: 200W\n" +
			"Energy: 512.4kJ\n" +
			"🏆 1 PR!"
		assert.Equal(t, want, FormatActivity(a))
	})

	t.Run("unparseable date is printed raw", func(t *testing.T) {
		a := &strava.Activity{Name: "Walk", Type: "Walk", StartDateLocal: "yesterday"}
		assert.Contains(t, FormatActivity(a), "Date: yesterday\n")
	})
}

func TestNewSummary(t *testing.T) {
	a := &strava.Activity{
		Name:               "Morning Run",
		Type:               "Run",
		Distance:           5012.3,
		MovingTime:         1500,
		TotalElevationGain: 40,
		StartDate:          "2025-10-29T10:13:00Z",
		StartDateLocal:     "2025-10-29T12:13:00Z",
	}
	got := NewSummary(99, a, time.Date(2025, 10, 29, 12, 0, 0, 5_000_000, time.UTC))

	assert.Equal(t, Summary{
		ID:            99,
		Name:          "Morning Run",
		Type:          "Run",
		Distance:      5012.3,
		MovingTime:    1500,
		ElevationGain: 40,
		StartDate:     "2025-10-29T12:13:00Z",
		ReceivedAt:    "2025-10-29T12:00:00.005Z",
	}, got)
}
