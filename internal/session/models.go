package session

import "time"

// Session is one driving trip. It stays active (EndTime nil) while the
// orchestrator accumulates telemetry and is finalized exactly once.
type Session struct {
	ID                    string     `json:"id"`
	DriverID              string     `json:"driver_id"`
	VehicleID             string     `json:"vehicle_id,omitempty"`
	StartTime             time.Time  `json:"start_time"`
	EndTime               *time.Time `json:"end_time,omitempty"`
	DistanceKm            float64    `json:"distance_km"`
	IdleSeconds           float64    `json:"idle_seconds"`
	AggressiveAccelEvents int        `json:"aggressive_accel_events"`
	HardBrakeEvents       int        `json:"hard_brake_events"`
	EstimatedFuelLiters   float64    `json:"estimated_fuel_liters"`
}

func (s Session) IsActive() bool {
	return s.EndTime == nil
}

func (s Session) DurationSeconds() float64 {
	end := time.Now()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(s.StartTime).Seconds()
}

// TripPoint is a GPS fix owned by its session, appended in arrival order
// and never mutated afterwards.
type TripPoint struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	SpeedMps  float64   `json:"speed_mps"`
	AccuracyM float64   `json:"accuracy_m"`
}
