package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/evangomez/FairFuel/internal/config"
	"github.com/evangomez/FairFuel/internal/fuel"
	"github.com/evangomez/FairFuel/internal/identity"
	"github.com/evangomez/FairFuel/internal/motion"
	"github.com/evangomez/FairFuel/internal/proximity"
	"github.com/evangomez/FairFuel/internal/session"
	"github.com/evangomez/FairFuel/internal/shared/geo"
	"github.com/evangomez/FairFuel/internal/stream"
	"github.com/evangomez/FairFuel/internal/vehicle"
)

type State string

const (
	StateIdle     State = "idle"
	StatePending  State = "pending"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateEnded    State = "ended"
)

var (
	// ErrSessionInProgress guards the single-active-session invariant.
	ErrSessionInProgress = errors.New("a session is already in progress")
	ErrTagStartDisabled  = errors.New("tag start is disabled under the beacon policy")
)

// deltaSpeed beyond which a sample pair counts as an aggressive
// acceleration (positive) or a hard brake (negative), in m/s.
const aggressiveDeltaMps = 2.2

type Options struct {
	StartPolicy              string
	ConfirmationsRequired    int
	DrivingSpeedThresholdMps float64
	StoppedSpeedThresholdMps float64
	AbsenceTimeout           time.Duration
	ImmobilityAfter          time.Duration
	StopCountdown            time.Duration
	EndedReset               time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		StartPolicy:              cfg.StartPolicy,
		ConfirmationsRequired:    cfg.ConfirmationsRequired,
		DrivingSpeedThresholdMps: cfg.DrivingSpeedThresholdMps,
		StoppedSpeedThresholdMps: cfg.StoppedSpeedThresholdMps,
		AbsenceTimeout:           time.Duration(cfg.AbsenceTimeoutSec) * time.Second,
		ImmobilityAfter:          time.Duration(cfg.ImmobilitySec) * time.Second,
		StopCountdown:            time.Duration(cfg.StopCountdownSec) * time.Second,
		EndedReset:               time.Duration(cfg.EndedResetSec) * time.Second,
	}
}

// Orchestrator owns the session lifecycle state machine. Every sensor
// callback and HTTP request funnels through one mutex, so partial updates
// never interleave; timer callbacks re-acquire the lock and check a
// generation counter, which makes cancellation atomic with the state
// write it supersedes.
type Orchestrator struct {
	mu   sync.Mutex
	opts Options

	store    *session.Store
	resolver *identity.Resolver
	hub      *stream.Hub

	watcher *proximity.Watcher
	tracker *motion.Tracker

	state          State
	pendingVehicle *vehicle.Vehicle
	confirmCount   int

	sess              *session.Session
	activeProximityID string
	litersPer100Km    float64
	prevPoint         *session.TripPoint

	stopTimer *time.Timer
	stopGen   int
}

func New(opts Options, store *session.Store, resolver *identity.Resolver, hub *stream.Hub) *Orchestrator {
	o := &Orchestrator{
		opts:     opts,
		store:    store,
		resolver: resolver,
		hub:      hub,
		state:    StateIdle,
	}
	o.watcher = proximity.NewWatcher(opts.AbsenceTimeout, o.handleProximity)
	o.tracker = motion.NewTracker(opts.StoppedSpeedThresholdMps, opts.ImmobilityAfter, o.handleMotion)
	return o
}

// Snapshot is the externally visible state, served to the UI.
type Snapshot struct {
	State   State            `json:"state"`
	Session *session.Session `json:"session,omitempty"`
	Pending *vehicle.Vehicle `json:"pending_vehicle,omitempty"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{State: o.state}
	if o.sess != nil {
		copied := *o.sess
		snap.Session = &copied
	}
	if o.pendingVehicle != nil {
		copied := *o.pendingVehicle
		snap.Pending = &copied
	}
	return snap
}

// BeginMonitoring and StopMonitoring implement vehicle.Monitor: region
// watching follows vehicle registration.
func (o *Orchestrator) BeginMonitoring(proximityID string) {
	o.watcher.StartWatching(proximityID)
}

func (o *Orchestrator) StopMonitoring(proximityID string) {
	o.watcher.StopWatching(proximityID)
}

// WatchAll registers every known vehicle at boot.
func (o *Orchestrator) WatchAll(vehicles []vehicle.Vehicle) {
	for _, v := range vehicles {
		o.watcher.StartWatching(v.ProximityID)
	}
}

// Ingest surface: raw device observations feed the sensors, which call
// back into the state machine.

func (o *Orchestrator) ReportRegion(proximityID string, inside bool) {
	o.watcher.ReportRegion(proximityID, inside)
}

func (o *Orchestrator) ReportSighting(proximityID string, visible bool) {
	o.watcher.ReportSighting(proximityID, visible)
}

func (o *Orchestrator) ReportFailure(proximityID string) {
	o.watcher.ReportFailure(proximityID)
}

func (o *Orchestrator) OfferLocation(sample motion.Sample) {
	o.tracker.Offer(sample)
}

// StartByTag begins a session from an NFC tag read. Identity failures
// abort the transition and leave the machine in Idle with no session row.
func (o *Orchestrator) StartByTag(ctx context.Context, rawPayload string) (Snapshot, error) {
	uri, err := identity.ParseTagURI(rawPayload)
	if err != nil {
		return o.Snapshot(), err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.opts.StartPolicy != config.StartPolicyTag {
		return o.snapshotLocked(), ErrTagStartDisabled
	}
	if o.state != StateIdle {
		return o.snapshotLocked(), ErrSessionInProgress
	}

	v, err := o.resolver.VehicleByProximityID(ctx, uri)
	if err != nil {
		return o.snapshotLocked(), err
	}
	driver, err := o.resolver.LocalProfile(ctx)
	if err != nil {
		return o.snapshotLocked(), err
	}

	sess, err := o.store.Create(ctx, driver.ID, v.ID)
	if err != nil {
		return o.snapshotLocked(), err
	}

	o.beginActiveLocked(sess, v)
	return o.snapshotLocked(), nil
}

// EndSession finalizes a running session, or cancels a pending one. A
// second call is a no-op: the machine is no longer active.
func (o *Orchestrator) EndSession() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateActive, StateStopping:
		o.finalizeLocked("manual end")
	case StatePending:
		o.cancelPendingLocked("manual cancel")
	}
	return o.snapshotLocked()
}

// --- sensor callbacks ---

func (o *Orchestrator) handleProximity(ev proximity.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev.Kind {
	case proximity.Entered:
		o.handleEnteredLocked(ev.ProximityID)
	case proximity.Exited:
		// exit while pending means the driver walked away without driving
		if o.state == StatePending && o.pendingVehicle != nil && o.pendingVehicle.ProximityID == ev.ProximityID {
			o.cancelPendingLocked("left before driving")
		}
	case proximity.PresenceChanged:
		if ev.Present && o.state == StateStopping {
			o.cancelStoppingLocked()
		}
		// absence alone never ends a session; immobility drives that
	}
}

func (o *Orchestrator) handleEnteredLocked(proximityID string) {
	if o.opts.StartPolicy != config.StartPolicyBeacon {
		return
	}
	if o.state != StateIdle {
		if o.activeProximityID != proximityID && (o.pendingVehicle == nil || o.pendingVehicle.ProximityID != proximityID) {
			// no automatic hand-off between vehicles
			log.Printf("orchestrator: ignoring enter for %s while %s", proximityID, o.state)
		}
		return
	}

	v, err := o.resolver.VehicleByProximityID(context.Background(), proximityID)
	if err != nil {
		log.Printf("orchestrator: enter event for unresolvable vehicle: %v", err)
		return
	}

	o.state = StatePending
	o.pendingVehicle = &v
	o.confirmCount = 0
	o.tracker.StartTracking()
	o.watcher.StartRanging(v.ProximityID)
	o.publishLifecycleLocked("")
}

func (o *Orchestrator) handleMotion(ev motion.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev.Kind {
	case motion.SpeedSample:
		switch o.state {
		case StatePending:
			o.confirmPendingLocked(ev.Sample)
		case StateActive:
			o.accumulateLocked(ev.Sample)
		}
	case motion.ImmobilityDetected:
		// both conditions must hold at this moment: immobile AND absent
		if o.state == StateActive && !o.watcher.IsPresent() {
			o.beginStoppingLocked()
		}
	}
}

// confirmPendingLocked counts consecutive samples at or above the driving
// threshold. Any slower sample resets the counter: all N must be
// contiguous.
func (o *Orchestrator) confirmPendingLocked(sample motion.Sample) {
	if sample.SpeedMps < o.opts.DrivingSpeedThresholdMps {
		o.confirmCount = 0
		return
	}
	o.confirmCount++
	if o.confirmCount < o.opts.ConfirmationsRequired {
		return
	}

	v := *o.pendingVehicle
	driver, err := o.resolver.LocalProfile(context.Background())
	if err != nil {
		log.Printf("orchestrator: cannot start session: %v", err)
		o.cancelPendingLocked("no driver profile")
		return
	}
	sess, err := o.store.Create(context.Background(), driver.ID, v.ID)
	if err != nil {
		log.Printf("orchestrator: session insert failed: %v", err)
		o.cancelPendingLocked("storage failure")
		return
	}
	o.beginActiveLocked(sess, v)
}

func (o *Orchestrator) beginActiveLocked(sess session.Session, v vehicle.Vehicle) {
	o.state = StateActive
	o.sess = &sess
	o.pendingVehicle = nil
	o.confirmCount = 0
	o.activeProximityID = v.ProximityID
	o.litersPer100Km = v.LitersPer100Km
	if o.litersPer100Km <= 0 {
		o.litersPer100Km = fuel.DefaultLitersPer100Km
	}
	o.prevPoint = nil
	o.tracker.StartTracking()
	o.watcher.StartRanging(v.ProximityID)
	o.publishLifecycleLocked("")
}

// accumulateLocked appends the sample as a trip point and updates the
// session counters against the immediately preceding point only.
func (o *Orchestrator) accumulateLocked(sample motion.Sample) {
	point := session.TripPoint{
		Timestamp: sample.Timestamp,
		Lat:       sample.Lat,
		Lng:       sample.Lng,
		SpeedMps:  sample.SpeedMps,
		AccuracyM: sample.AccuracyM,
	}
	stored, err := o.store.AppendPoint(context.Background(), o.sess.ID, point)
	if err != nil {
		log.Printf("orchestrator: trip point insert failed: %v", err)
		stored = point
		stored.SessionID = o.sess.ID
	}

	if o.prevPoint != nil {
		o.sess.DistanceKm += geo.HaversineKm(o.prevPoint.Lat, o.prevPoint.Lng, stored.Lat, stored.Lng)

		deltaSpeed := stored.SpeedMps - o.prevPoint.SpeedMps
		if deltaSpeed > aggressiveDeltaMps {
			o.sess.AggressiveAccelEvents++
		}
		if deltaSpeed < -aggressiveDeltaMps {
			o.sess.HardBrakeEvents++
		}

		if stored.SpeedMps < o.opts.StoppedSpeedThresholdMps {
			if gap := stored.Timestamp.Sub(o.prevPoint.Timestamp).Seconds(); gap > 0 {
				o.sess.IdleSeconds += gap
			}
		}
	}
	o.prevPoint = &stored

	if o.hub != nil {
		payload, _ := json.Marshal(stored)
		o.hub.Publish(o.sess.ID, payload)
	}
}

func (o *Orchestrator) beginStoppingLocked() {
	o.state = StateStopping
	o.stopGen++
	gen := o.stopGen
	o.stopTimer = time.AfterFunc(o.opts.StopCountdown, func() {
		o.stopCountdownExpired(gen)
	})
	o.publishLifecycleLocked("")
}

func (o *Orchestrator) stopCountdownExpired(gen int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateStopping || gen != o.stopGen {
		return
	}
	o.finalizeLocked("stop countdown expired")
}

// cancelStoppingLocked returns to Active with telemetry untouched.
func (o *Orchestrator) cancelStoppingLocked() {
	o.stopGen++
	if o.stopTimer != nil {
		o.stopTimer.Stop()
		o.stopTimer = nil
	}
	o.state = StateActive
	o.publishLifecycleLocked("presence regained")
}

func (o *Orchestrator) cancelPendingLocked(reason string) {
	if o.pendingVehicle != nil {
		o.watcher.StopRanging(o.pendingVehicle.ProximityID)
	}
	o.tracker.StopTracking()
	o.pendingVehicle = nil
	o.confirmCount = 0
	o.state = StateIdle
	o.publishLifecycleLocked(reason)
}

// finalizeLocked closes the session exactly once: end timestamp, fuel
// estimate, sensor teardown, best-effort persistence.
func (o *Orchestrator) finalizeLocked(reason string) {
	o.stopGen++
	if o.stopTimer != nil {
		o.stopTimer.Stop()
		o.stopTimer = nil
	}

	now := time.Now()
	if o.sess.EndTime == nil {
		o.sess.EndTime = &now
	}
	o.sess.EstimatedFuelLiters = fuel.Estimate(*o.sess, o.litersPer100Km)

	o.watcher.StopRanging(o.activeProximityID)
	o.tracker.StopTracking()

	// persistence is best effort here: the user-facing flow completes
	// even when the write fails
	if err := o.store.Finalize(context.Background(), *o.sess); err != nil {
		log.Printf("orchestrator: session persist failed: %v", err)
	}

	o.state = StateEnded
	o.publishLifecycleLocked(reason)

	time.AfterFunc(o.opts.EndedReset, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.state != StateEnded {
			return
		}
		o.state = StateIdle
		o.sess = nil
		o.prevPoint = nil
		o.activeProximityID = ""
		o.publishLifecycleLocked("")
	})
}

type lifecycleEvent struct {
	State     State  `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	VehicleID string `json:"vehicle_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (o *Orchestrator) publishLifecycleLocked(reason string) {
	if o.hub == nil {
		return
	}
	ev := lifecycleEvent{State: o.state, Reason: reason}
	if o.sess != nil {
		ev.SessionID = o.sess.ID
		ev.VehicleID = o.sess.VehicleID
	}
	payload, _ := json.Marshal(ev)
	o.hub.Publish(stream.TopicLifecycle, payload)
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{State: o.state}
	if o.sess != nil {
		copied := *o.sess
		snap.Session = &copied
	}
	if o.pendingVehicle != nil {
		copied := *o.pendingVehicle
		snap.Pending = &copied
	}
	return snap
}
