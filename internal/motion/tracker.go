package motion

import (
	"sync"
	"time"
)

type EventKind int

const (
	SpeedSample EventKind = iota
	ImmobilityDetected
)

// Sample is one GPS fix as reported by the device.
type Sample struct {
	Timestamp time.Time `json:"recorded_at"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	SpeedMps  float64   `json:"speed_mps"`
	AccuracyM float64   `json:"accuracy_m"`
}

type Event struct {
	Kind         EventKind
	Sample       Sample
	AfterSeconds float64
}

// Tracker forwards speed samples and detects sustained immobility: a
// sample below the stopped threshold starts a single-shot timer, any
// sample at or above it cancels the timer. The immobility event fires at
// most once per continuous low-speed stretch.
type Tracker struct {
	mu               sync.Mutex
	stoppedThreshold float64
	immobilityAfter  time.Duration
	emit             func(Event)

	tracking        bool
	immobilityTimer *time.Timer
	timerGen        int
}

func NewTracker(stoppedThresholdMps float64, immobilityAfter time.Duration, emit func(Event)) *Tracker {
	return &Tracker{
		stoppedThreshold: stoppedThresholdMps,
		immobilityAfter:  immobilityAfter,
		emit:             emit,
	}
}

func (t *Tracker) StartTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracking = true
}

func (t *Tracker) StopTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracking = false
	t.cancelTimerLocked()
}

func (t *Tracker) IsTracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

// Offer feeds one GPS fix. Fixes with negative accuracy are dropped and
// negative speeds are clamped to zero, mirroring how the device reports
// invalid readings.
func (t *Tracker) Offer(sample Sample) {
	t.mu.Lock()
	if !t.tracking || sample.AccuracyM < 0 {
		t.mu.Unlock()
		return
	}
	if sample.SpeedMps < 0 {
		sample.SpeedMps = 0
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	if sample.SpeedMps < t.stoppedThreshold {
		if t.immobilityTimer == nil {
			t.timerGen++
			gen := t.timerGen
			t.immobilityTimer = time.AfterFunc(t.immobilityAfter, func() {
				t.immobilityExpired(gen)
			})
		}
	} else {
		t.cancelTimerLocked()
	}
	t.mu.Unlock()

	t.emit(Event{Kind: SpeedSample, Sample: sample})
}

func (t *Tracker) immobilityExpired(gen int) {
	t.mu.Lock()
	if gen != t.timerGen || !t.tracking {
		t.mu.Unlock()
		return
	}
	// the expired timer reference stays set: further low-speed samples in
	// the same stretch must not re-arm it. Only a sample at or above the
	// threshold clears it, so a fresh stretch can fire again.
	after := t.immobilityAfter.Seconds()
	t.mu.Unlock()

	t.emit(Event{Kind: ImmobilityDetected, AfterSeconds: after})
}

func (t *Tracker) cancelTimerLocked() {
	t.timerGen++
	if t.immobilityTimer != nil {
		t.immobilityTimer.Stop()
		t.immobilityTimer = nil
	}
}
