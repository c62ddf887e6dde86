package proximity

import (
	"sync"
	"time"
)

type EventKind int

const (
	// Entered and Exited are the coarse region events, cheap and always on
	// for every registered vehicle.
	Entered EventKind = iota
	Exited
	// PresenceChanged is the fine-grained ranging signal, debounced on the
	// absence side. Only emitted while ranging is active.
	PresenceChanged
)

type Event struct {
	Kind        EventKind
	ProximityID string
	Present     bool
}

// Watcher turns raw beacon observations into debounced proximity events.
// Losing signal does not mean absence: a single-shot absence timer runs
// first, and any renewed sighting before it fires cancels it. Renewed
// signal while already present emits nothing.
type Watcher struct {
	mu             sync.Mutex
	absenceTimeout time.Duration
	emit           func(Event)

	watched map[string]struct{}
	ranging map[string]struct{}
	present bool

	absenceTimer *time.Timer
	timerGen     int
}

func NewWatcher(absenceTimeout time.Duration, emit func(Event)) *Watcher {
	return &Watcher{
		absenceTimeout: absenceTimeout,
		emit:           emit,
		watched:        map[string]struct{}{},
		ranging:        map[string]struct{}{},
	}
}

// StartWatching registers a vehicle's proximity ID for coarse region
// events.
func (w *Watcher) StartWatching(proximityID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[proximityID] = struct{}{}
}

func (w *Watcher) StopWatching(proximityID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, proximityID)
}

// StartRanging switches on fine-grained presence for one vehicle. It is
// expensive on the device, so the orchestrator only requests it while a
// session is pending or active.
func (w *Watcher) StartRanging(proximityID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ranging[proximityID] = struct{}{}
}

func (w *Watcher) StopRanging(proximityID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.ranging, proximityID)
	if len(w.ranging) == 0 {
		w.cancelAbsenceTimerLocked()
		w.present = false
	}
}

func (w *Watcher) IsPresent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.present
}

// ReportRegion feeds a coarse enter/exit observation from the device.
func (w *Watcher) ReportRegion(proximityID string, inside bool) {
	w.mu.Lock()
	if _, ok := w.watched[proximityID]; !ok {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	kind := Exited
	if inside {
		kind = Entered
	}
	w.emit(Event{Kind: kind, ProximityID: proximityID})
}

// ReportSighting feeds a fine-grained ranging observation.
func (w *Watcher) ReportSighting(proximityID string, visible bool) {
	w.mu.Lock()
	if _, ok := w.ranging[proximityID]; !ok {
		w.mu.Unlock()
		return
	}

	if visible {
		w.cancelAbsenceTimerLocked()
		if w.present {
			w.mu.Unlock()
			return
		}
		w.present = true
		w.mu.Unlock()
		w.emit(Event{Kind: PresenceChanged, ProximityID: proximityID, Present: true})
		return
	}

	// arm the debounce only while present: further lost sightings after
	// absence has already been reported must not re-emit it
	if w.present && w.absenceTimer == nil {
		w.timerGen++
		gen := w.timerGen
		w.absenceTimer = time.AfterFunc(w.absenceTimeout, func() {
			w.absenceExpired(proximityID, gen)
		})
	}
	w.mu.Unlock()
}

// ReportFailure treats a ranging error as a lost sighting; it feeds the
// same debounce path as normal signal loss.
func (w *Watcher) ReportFailure(proximityID string) {
	w.ReportSighting(proximityID, false)
}

func (w *Watcher) absenceExpired(proximityID string, gen int) {
	w.mu.Lock()
	if gen != w.timerGen {
		w.mu.Unlock()
		return
	}
	w.absenceTimer = nil
	w.present = false
	w.mu.Unlock()
	w.emit(Event{Kind: PresenceChanged, ProximityID: proximityID, Present: false})
}

func (w *Watcher) cancelAbsenceTimerLocked() {
	w.timerGen++
	if w.absenceTimer != nil {
		w.absenceTimer.Stop()
		w.absenceTimer = nil
	}
}
