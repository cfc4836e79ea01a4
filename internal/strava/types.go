// types.go -- Strava API payloads the bridge reads fields from.
// Everything else is passed through as raw JSON.
package strava

// Athlete is the athlete summary returned alongside OAuth tokens and by GET /athlete.
type Athlete struct {
	ID                    int64    `json:"id"`
	ResourceState         int      `json:"resource_state,omitempty"`
	Username              *string  `json:"username"`
	Firstname             string   `json:"firstname"`
	Lastname              string   `json:"lastname"`
	City                  *string  `json:"city"`
	State                 *string  `json:"state"`
	Country               *string  `json:"country"`
	Sex                   *string  `json:"sex"`
	Premium               bool     `json:"premium"`
	Summit                bool     `json:"summit"`
	CreatedAt             string   `json:"created_at,omitempty"`
	UpdatedAt             string   `json:"updated_at,omitempty"`
	ProfileMedium         string   `json:"profile_medium,omitempty"`
	Profile               string   `json:"profile,omitempty"`
	Weight                *float64 `json:"weight"`
	MeasurementPreference *string  `json:"measurement_preference"`
}

// Activity is the detailed activity returned by GET /activities/{id}.
type Activity struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	SportType          string   `json:"sport_type"`
	Distance           float64  `json:"distance"`     // meters
	MovingTime         int64    `json:"moving_time"`  // seconds
	ElapsedTime        int64    `json:"elapsed_time"` // seconds
	TotalElevationGain float64  `json:"total_elevation_gain"`
	StartDate          string   `json:"start_date"`
	StartDateLocal     string   `json:"start_date_local"`
	AverageSpeed       float64  `json:"average_speed"`
	MaxSpeed           float64  `json:"max_speed"`
	AverageHeartrate   *float64 `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64 `json:"max_heartrate,omitempty"`
	AverageWatts       *float64 `json:"average_watts,omitempty"`
	Kilojoules         *float64 `json:"kilojoules,omitempty"`
	AverageCadence     *float64 `json:"average_cadence,omitempty"`
	PRCount            int      `json:"pr_count,omitempty"`
	AchievementCount   int      `json:"achievement_count,omitempty"`
}

// DisplayType prefers the fine-grained sport_type, falling back to the legacy type.
func (a *Activity) DisplayType() string {
	if a.SportType != "" {
		return a.SportType
	}
	return a.Type
}
