// Package types contains the read-model shapes shared by the timing engine and
// the HTTP surface.
package types

// Standing is one athlete's line in an event ranking.
type Standing struct {
	Position  int      `json:"position"`
	Bib       int      `json:"bib"`
	TotalTime int64    `json:"total_time"`
	Formatted string   `json:"formatted_time"`
	Gap       *int64   `json:"gap,omitempty"`
	AvgSpeed  *float64 `json:"avg_speed_kmh,omitempty"`
	DeviceID  string   `json:"device_id,omitempty"`
}

// RankingStats summarizes a ranking.
type RankingStats struct {
	TotalAthletes int    `json:"total_athletes"`
	FastestTime   *int64 `json:"fastest_time,omitempty"`
}

// Ranking is the ranking of one event.
type Ranking struct {
	EventID    string       `json:"event_id"`
	DistanceKm float64      `json:"distance_km"`
	Standings  []Standing   `json:"standings"`
	Stats      RankingStats `json:"stats"`
}
