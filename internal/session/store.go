package session

import (
	"context"
	"errors"
	"time"

	"github.com/evangomez/FairFuel/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("session not found")

type Store struct {
	db db.Querier
}

func NewStore(db db.Querier) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, driverID, vehicleID string) (Session, error) {
	sess := Session{ID: uuid.NewString(), DriverID: driverID, VehicleID: vehicleID}
	row := s.db.QueryRow(ctx, `
		INSERT INTO driving_sessions (id, driver_id, vehicle_id)
		VALUES ($1,$2,NULLIF($3,''))
		RETURNING start_time
	`, sess.ID, sess.DriverID, sess.VehicleID)
	if err := row.Scan(&sess.StartTime); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *Store) AppendPoint(ctx context.Context, sessionID string, input TripPoint) (TripPoint, error) {
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now()
	}
	if input.SpeedMps < 0 {
		input.SpeedMps = 0
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO trip_points (session_id, recorded_at, lat, lng, speed_mps, accuracy_m)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, sessionID, input.Timestamp, input.Lat, input.Lng, input.SpeedMps, input.AccuracyM)
	if err := row.Scan(&input.ID); err != nil {
		return TripPoint{}, err
	}
	input.SessionID = sessionID
	return input, nil
}

// Finalize writes the closing telemetry and end timestamp. The end_time
// guard keeps the write one-shot: a second finalize matches no row.
func (s *Store) Finalize(ctx context.Context, sess Session) error {
	if sess.EndTime == nil {
		return errors.New("finalize requires an end time")
	}
	_, err := s.db.Exec(ctx, `
		UPDATE driving_sessions
		SET end_time=$2, distance_km=$3, idle_seconds=$4,
		    aggressive_accel_events=$5, hard_brake_events=$6, estimated_fuel_liters=$7
		WHERE id=$1 AND end_time IS NULL
	`, sess.ID, *sess.EndTime, sess.DistanceKm, sess.IdleSeconds,
		sess.AggressiveAccelEvents, sess.HardBrakeEvents, sess.EstimatedFuelLiters)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, driver_id, COALESCE(vehicle_id,''), start_time, end_time,
		       distance_km, idle_seconds, aggressive_accel_events, hard_brake_events, estimated_fuel_liters
		FROM driving_sessions WHERE id=$1
	`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return sess, nil
}

func (s *Store) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, COALESCE(vehicle_id,''), start_time, end_time,
		       distance_km, idle_seconds, aggressive_accel_events, hard_brake_events, estimated_fuel_liters
		FROM driving_sessions ORDER BY start_time DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// Between returns finalized sessions whose trip fell inside the window.
// Used by fuel cost allocation; active sessions are excluded.
func (s *Store) Between(ctx context.Context, from, to time.Time) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, COALESCE(vehicle_id,''), start_time, end_time,
		       distance_km, idle_seconds, aggressive_accel_events, hard_brake_events, estimated_fuel_liters
		FROM driving_sessions
		WHERE end_time IS NOT NULL AND start_time >= $1 AND end_time <= $2
		ORDER BY start_time
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) Points(ctx context.Context, sessionID string) ([]TripPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, recorded_at, lat, lng, speed_mps, accuracy_m
		FROM trip_points WHERE session_id=$1
		ORDER BY recorded_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []TripPoint
	for rows.Next() {
		var p TripPoint
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Timestamp, &p.Lat, &p.Lng, &p.SpeedMps, &p.AccuracyM); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.DriverID, &sess.VehicleID, &sess.StartTime, &sess.EndTime,
		&sess.DistanceKm, &sess.IdleSeconds, &sess.AggressiveAccelEvents, &sess.HardBrakeEvents,
		&sess.EstimatedFuelLiters)
	return sess, err
}

func collectSessions(rows pgx.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
