package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evangomez/FairFuel/internal/config"
	"github.com/evangomez/FairFuel/internal/identity"
	"github.com/evangomez/FairFuel/internal/motion"
	"github.com/evangomez/FairFuel/internal/profile"
	"github.com/evangomez/FairFuel/internal/session"
	"github.com/evangomez/FairFuel/internal/vehicle"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

const testTag = vehicle.TagURIPrefix + "test"

func testOptions(policy string) Options {
	return Options{
		StartPolicy:              policy,
		ConfirmationsRequired:    3,
		DrivingSpeedThresholdMps: 2.0,
		StoppedSpeedThresholdMps: 1.0,
		AbsenceTimeout:           20 * time.Millisecond,
		ImmobilityAfter:          25 * time.Millisecond,
		StopCountdown:            60 * time.Millisecond,
		EndedReset:               10 * time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, policy string) (*Orchestrator, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	store := session.NewStore(mock)
	resolver := identity.NewResolver(mock, profile.NewService(mock))
	return New(testOptions(policy), store, resolver, nil), mock
}

func expectVehicleLookup(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`SELECT id, name, proximity_id`).
		WithArgs(testTag).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "proximity_id", "liters_per_100km", "created_at"}).
			AddRow("veh-1", "Car", testTag, 9.4, time.Now()))
}

func expectProfileLookup(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`SELECT id, name, created_at`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "created_at"}).
			AddRow("driver-1", "Eva", time.Now()))
}

func expectSessionInsert(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`INSERT INTO driving_sessions`).
		WithArgs(pgxmock.AnyArg(), "driver-1", "veh-1").
		WillReturnRows(pgxmock.NewRows([]string{"start_time"}).AddRow(time.Now()))
}

func expectPointInsert(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`INSERT INTO trip_points`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
}

func driveSample(speed float64) motion.Sample {
	return motion.Sample{Timestamp: time.Now(), Lat: 52.0, Lng: 5.0, SpeedMps: speed, AccuracyM: 5}
}

// enterActive walks the machine Idle -> Pending -> Active via the beacon
// flow with three confirmations.
func enterActive(t *testing.T, o *Orchestrator, mock pgxmock.PgxPoolIface) {
	t.Helper()
	expectVehicleLookup(mock)
	o.BeginMonitoring(testTag)
	o.ReportRegion(testTag, true)
	if o.Snapshot().State != StatePending {
		t.Fatalf("expected pending after enter")
	}

	expectProfileLookup(mock)
	expectSessionInsert(mock)
	for i := 0; i < 3; i++ {
		o.OfferLocation(driveSample(3.0))
	}
	if o.Snapshot().State != StateActive {
		t.Fatalf("expected active after confirmations")
	}
}

func TestPendingResetsOnSlowSample(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)

	expectVehicleLookup(mock)
	o.BeginMonitoring(testTag)
	o.ReportRegion(testTag, true)

	// N-1 fast samples, then a slow one: counter resets, no session
	o.OfferLocation(driveSample(3.0))
	o.OfferLocation(driveSample(2.5))
	o.OfferLocation(driveSample(1.0))
	o.OfferLocation(driveSample(3.0))
	o.OfferLocation(driveSample(3.0))

	if got := o.Snapshot().State; got != StatePending {
		t.Fatalf("expected still pending, got %s", got)
	}
}

func TestPendingPromotesAfterExactlyN(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)
	enterActive(t, o, mock)

	snap := o.Snapshot()
	if snap.Session == nil || snap.Session.DriverID != "driver-1" || snap.Session.VehicleID != "veh-1" {
		t.Fatalf("expected session bound to driver and vehicle, got %+v", snap.Session)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPendingCancelledByExit(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)

	expectVehicleLookup(mock)
	o.BeginMonitoring(testTag)
	o.ReportRegion(testTag, true)
	o.OfferLocation(driveSample(3.0))

	o.ReportRegion(testTag, false)
	if got := o.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle after exit while pending, got %s", got)
	}

	// discarded counter: re-entering starts confirmation from scratch
	expectVehicleLookup(mock)
	o.ReportRegion(testTag, true)
	o.OfferLocation(driveSample(3.0))
	o.OfferLocation(driveSample(3.0))
	if got := o.Snapshot().State; got != StatePending {
		t.Fatalf("expected pending, got %s", got)
	}
}

func TestManualCancelWhilePending(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)

	expectVehicleLookup(mock)
	o.BeginMonitoring(testTag)
	o.ReportRegion(testTag, true)

	snap := o.EndSession()
	if snap.State != StateIdle {
		t.Fatalf("expected idle after manual cancel, got %s", snap.State)
	}
}

func TestNoProfileAbortsPending(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)

	expectVehicleLookup(mock)
	o.BeginMonitoring(testTag)
	o.ReportRegion(testTag, true)

	mock.ExpectQuery(`SELECT id, name, created_at`).WillReturnError(pgx.ErrNoRows)
	for i := 0; i < 3; i++ {
		o.OfferLocation(driveSample(3.0))
	}

	if got := o.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle when no profile configured, got %s", got)
	}
}

func TestImmobilityWhilePresentStaysActive(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)
	enterActive(t, o, mock)

	o.ReportSighting(testTag, true) // vehicle beacon still in range

	expectPointInsert(mock)
	o.OfferLocation(driveSample(0.2))
	time.Sleep(50 * time.Millisecond)

	if got := o.Snapshot().State; got != StateActive {
		t.Fatalf("immobility with presence must stay active, got %s", got)
	}
}

func TestImmobilityWhileAbsentBeginsStopping(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)
	enterActive(t, o, mock)

	expectPointInsert(mock)
	o.OfferLocation(driveSample(0.2))
	time.Sleep(50 * time.Millisecond)

	if got := o.Snapshot().State; got != StateStopping {
		t.Fatalf("expected stopping, got %s", got)
	}
}

func TestStoppingCancelledByPresence(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)
	enterActive(t, o, mock)

	expectPointInsert(mock)
	expectPointInsert(mock)
	o.OfferLocation(driveSample(5.0))
	o.OfferLocation(driveSample(0.2))
	before := *o.Snapshot().Session

	time.Sleep(50 * time.Millisecond)
	if o.Snapshot().State != StateStopping {
		t.Fatalf("expected stopping")
	}

	o.ReportSighting(testTag, true)
	snap := o.Snapshot()
	if snap.State != StateActive {
		t.Fatalf("expected active after presence regained, got %s", snap.State)
	}
	if snap.Session.DistanceKm != before.DistanceKm ||
		snap.Session.AggressiveAccelEvents != before.AggressiveAccelEvents ||
		snap.Session.HardBrakeEvents != before.HardBrakeEvents {
		t.Fatalf("telemetry must be unchanged across a cancelled stop")
	}

	// countdown was cancelled: the session must not finalize later
	time.Sleep(100 * time.Millisecond)
	if got := o.Snapshot().State; got != StateActive {
		t.Fatalf("cancelled countdown must not fire, got %s", got)
	}
}

func TestStoppingFinalizesAfterCountdown(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)
	enterActive(t, o, mock)

	expectPointInsert(mock)
	o.OfferLocation(driveSample(0.2))

	mock.ExpectExec(`UPDATE driving_sessions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	// immobility (25ms) then countdown (60ms), plus the ended reset
	time.Sleep(130 * time.Millisecond)

	if got := o.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle after finalize and reset, got %s", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestManualEndFinalizesOnce(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)
	enterActive(t, o, mock)

	mock.ExpectExec(`UPDATE driving_sessions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	first := o.EndSession()
	if first.State != StateEnded {
		t.Fatalf("expected ended, got %s", first.State)
	}
	if first.Session == nil || first.Session.EndTime == nil {
		t.Fatalf("expected end time set")
	}
	endTime := *first.Session.EndTime

	// second call is a no-op: state is no longer active
	second := o.EndSession()
	if second.Session != nil && second.Session.EndTime != nil && !second.Session.EndTime.Equal(endTime) {
		t.Fatalf("end time must be set exactly once")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTelemetryAccumulation(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)
	enterActive(t, o, mock)

	base := time.Now()
	samples := []motion.Sample{
		{Timestamp: base, Lat: 52.0000, Lng: 5.0000, SpeedMps: 5.0, AccuracyM: 5},
		{Timestamp: base.Add(time.Second), Lat: 52.0010, Lng: 5.0000, SpeedMps: 8.0, AccuracyM: 5},      // +3.0: aggressive
		{Timestamp: base.Add(2 * time.Second), Lat: 52.0020, Lng: 5.0000, SpeedMps: 5.0, AccuracyM: 5},  // -3.0: hard brake
		{Timestamp: base.Add(3 * time.Second), Lat: 52.0020, Lng: 5.0000, SpeedMps: 3.0, AccuracyM: 5},  // gentle slowdown
		{Timestamp: base.Add(4 * time.Second), Lat: 52.0020, Lng: 5.0000, SpeedMps: 1.0, AccuracyM: 5},
		{Timestamp: base.Add(5 * time.Second), Lat: 52.0020, Lng: 5.0000, SpeedMps: 0.2, AccuracyM: 5}, // idle +1s
		{Timestamp: base.Add(7 * time.Second), Lat: 52.0020, Lng: 5.0000, SpeedMps: 0.2, AccuracyM: 5}, // idle +2s
	}
	for range samples {
		expectPointInsert(mock)
	}
	for _, s := range samples {
		o.OfferLocation(s)
	}

	sess := o.Snapshot().Session
	if sess.AggressiveAccelEvents != 1 {
		t.Fatalf("expected 1 aggressive event, got %d", sess.AggressiveAccelEvents)
	}
	if sess.HardBrakeEvents != 1 {
		t.Fatalf("expected 1 hard brake, got %d", sess.HardBrakeEvents)
	}
	// two hops of ~111m each
	if sess.DistanceKm < 0.20 || sess.DistanceKm > 0.25 {
		t.Fatalf("unexpected distance: %v", sess.DistanceKm)
	}
	if sess.IdleSeconds < 2.9 || sess.IdleSeconds > 3.1 {
		t.Fatalf("unexpected idle seconds: %v", sess.IdleSeconds)
	}
}

func TestCrossVehicleEnterIgnoredWhileActive(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)
	enterActive(t, o, mock)

	otherTag := vehicle.TagURIPrefix + "other"
	o.BeginMonitoring(otherTag)
	o.ReportRegion(otherTag, true)

	snap := o.Snapshot()
	if snap.State != StateActive || snap.Session.VehicleID != "veh-1" {
		t.Fatalf("no hand-off: other vehicle's enter must be ignored")
	}
}

func TestStartByTag(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyTag)

	expectVehicleLookup(mock)
	expectProfileLookup(mock)
	expectSessionInsert(mock)

	snap, err := o.StartByTag(context.Background(), testTag)
	if err != nil {
		t.Fatalf("start by tag: %v", err)
	}
	if snap.State != StateActive || snap.Session == nil {
		t.Fatalf("expected active session, got %+v", snap)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStartByTagInvalidPayload(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.StartPolicyTag)

	_, err := o.StartByTag(context.Background(), "https://not-a-vehicle")
	if !errors.Is(err, identity.ErrInvalidTagPayload) {
		t.Fatalf("expected ErrInvalidTagPayload, got %v", err)
	}
	if o.Snapshot().State != StateIdle {
		t.Fatalf("failed start must leave machine idle")
	}
}

func TestStartByTagUnknownVehicle(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyTag)

	mock.ExpectQuery(`SELECT id, name, proximity_id`).
		WithArgs(testTag).
		WillReturnError(pgx.ErrNoRows)

	_, err := o.StartByTag(context.Background(), testTag)
	if !errors.Is(err, identity.ErrUnknownVehicle) {
		t.Fatalf("expected ErrUnknownVehicle, got %v", err)
	}
	if o.Snapshot().State != StateIdle {
		t.Fatalf("failed start must leave machine idle")
	}
}

func TestStartByTagNoProfile(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyTag)

	expectVehicleLookup(mock)
	mock.ExpectQuery(`SELECT id, name, created_at`).WillReturnError(pgx.ErrNoRows)

	_, err := o.StartByTag(context.Background(), testTag)
	if !errors.Is(err, identity.ErrNoProfileConfigured) {
		t.Fatalf("expected ErrNoProfileConfigured, got %v", err)
	}
	if o.Snapshot().State != StateIdle {
		t.Fatalf("failed start must leave machine idle")
	}
}

func TestStartByTagWhileActive(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyTag)

	expectVehicleLookup(mock)
	expectProfileLookup(mock)
	expectSessionInsert(mock)
	if _, err := o.StartByTag(context.Background(), testTag); err != nil {
		t.Fatalf("start by tag: %v", err)
	}

	_, err := o.StartByTag(context.Background(), testTag)
	if !errors.Is(err, ErrSessionInProgress) {
		t.Fatalf("expected ErrSessionInProgress, got %v", err)
	}
}

func TestStartByTagDisabledUnderBeaconPolicy(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.StartPolicyBeacon)

	_, err := o.StartByTag(context.Background(), testTag)
	if !errors.Is(err, ErrTagStartDisabled) {
		t.Fatalf("expected ErrTagStartDisabled, got %v", err)
	}
}

func TestStorageFailureAtFinalizeCompletesFlow(t *testing.T) {
	o, mock := newTestOrchestrator(t, config.StartPolicyBeacon)
	enterActive(t, o, mock)

	mock.ExpectExec(`UPDATE driving_sessions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk on fire"))

	snap := o.EndSession()
	if snap.State != StateEnded {
		t.Fatalf("persist failure must not block the flow, got %s", snap.State)
	}

	time.Sleep(30 * time.Millisecond)
	if got := o.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle after reset, got %s", got)
	}
}
