// format.go -- Human-readable activity message and the stored activity summary.
package webhook

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
)

// displayDateLayout renders start_date_local as e.g. "Oct 29, 2025, 12:13 PM".
const displayDateLayout = "Jan 2, 2006, 3:04 PM"

// Summary is the record stored under activity_webhook:<owner>:<activity>.
type Summary struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Distance      float64 `json:"distance"`
	MovingTime    int64   `json:"moving_time"`
	ElevationGain float64 `json:"elevation_gain"`
	StartDate     string  `json:"start_date"`
	ReceivedAt    string  `json:"received_at"`
}

// NewSummary builds the stored summary for a fetched activity.
func NewSummary(id int64, a *strava.Activity, receivedAt time.Time) Summary {
	return Summary{
		ID:            id,
		Name:          a.Name,
		Type:          a.DisplayType(),
		Distance:      a.Distance,
		MovingTime:    a.MovingTime,
		ElevationGain: a.TotalElevationGain,
		StartDate:     a.StartDateLocal,
		ReceivedAt:    receivedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

// FormatActivity renders the relay message for a new activity.
func FormatActivity(a *strava.Activity) string {
	distance := "N/A"
	if a.Distance > 0 {
		distance = fmt.Sprintf("%.2f km", a.Distance/1000)
	}
	pace := "N/A"
	if a.Distance > 0 && a.MovingTime > 0 {
		pace = fmt.Sprintf("%.2f", float64(a.MovingTime)/60/(a.Distance/1000))
	}
	avgHR := "N/A"
	if a.AverageHeartrate != nil && *a.AverageHeartrate != 0 {
		avgHR = formatNumber(*a.AverageHeartrate)
	}

	var b strings.Builder
	b.WriteString("🏃 New Strava Workout!\n\n")
	fmt.Fprintf(&b, "**%s**\n", a.Name)
	fmt.Fprintf(&b, "Type: %s\n", a.DisplayType())
	fmt.Fprintf(&b, "Date: %s\n", formatLocalDate(a.StartDateLocal))
	fmt.Fprintf(&b, "Distance: %s\n", distance)
	fmt.Fprintf(&b, "Duration: %d minutes\n", int64(math.Round(float64(a.MovingTime)/60)))
	fmt.Fprintf(&b, "Pace: %s min/km\n", pace)
	fmt.Fprintf(&b, "Elevation: %sm\n", formatNumber(a.TotalElevationGain))
	fmt.Fprintf(&b, "Avg HR: %s bpm", avgHR)

	if a.AverageWatts != nil && *a.AverageWatts != 0 {
		fmt.Fprintf(&b, "\nAvg Power: %sW", formatNumber(*a.AverageWatts))
	}
	if a.Kilojoules != nil && *a.Kilojoules != 0 {
		fmt.Fprintf(&b, "\nEnergy: %skJ", formatNumber(*a.Kilojoules))
	}
	if a.PRCount > 0 {
		suffix := ""
		if a.PRCount > 1 {
			suffix = "s"
		}
		fmt.Fprintf(&b, "\n🏆 %d PR%s!", a.PRCount, suffix)
	}
	return b.String()
}

// formatLocalDate renders Strava's start_date_local, which is local wall time
// tagged with a Z suffix. The wall time is printed as-is.
func formatLocalDate(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format(displayDateLayout)
}

// formatNumber prints v with the shortest exact decimal form (12, 12.5, 145.3).
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
