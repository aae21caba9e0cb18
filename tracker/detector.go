// api/tracker/detector.go
package tracker

import (
	"context"
	"net/url"
	"sync"
	"time"

	"wandertrack/api/models"
)

// DefaultIdleTimeout is how long without user activity counts as an idle
// exit.
const DefaultIdleTimeout = 15 * time.Minute

const geoReadTimeout = 250 * time.Millisecond

// Detector is the navigation state machine. It observes route changes and
// termination signals from the host application and emits exactly one visit
// segment per dwell interval:
//
//   - every route change emits an internal_navigation segment for the path
//     being left and resets the dwell clock,
//   - the first termination signal (idle timer, external click, hidden,
//     unload) to take the one-shot latch emits a terminal segment and moves
//     the detector into an absorbing terminated state.
//
// A terminated detector ignores all further signals; a fresh page load gets
// a fresh Detector.
type Detector struct {
	mu          sync.Mutex
	session     *SessionProvider
	emit        func(models.VisitSegment)
	idleTimeout time.Duration
	host        string
	geo         GeoSource
	device      *models.DeviceInfo
	now         func() time.Time

	currentPath string
	enteredAt   time.Time
	started     bool
	terminated  bool
	idleTimer   *time.Timer
	timerGen    uint64
}

// Option configures a Detector.
type Option func(*Detector)

// WithIdleTimeout overrides the idle threshold. Zero disables the idle
// timer.
func WithIdleTimeout(d time.Duration) Option {
	return func(det *Detector) { det.idleTimeout = d }
}

// WithHost sets the application host used to tell external links apart from
// in-app navigation.
func WithHost(host string) Option {
	return func(det *Detector) { det.host = host }
}

func WithGeoSource(src GeoSource) Option {
	return func(det *Detector) { det.geo = src }
}

func WithDeviceInfo(info models.DeviceInfo) Option {
	return func(det *Detector) { det.device = &info }
}

// NewDetector wires a detector to a session and an emit function. Emissions
// happen on the caller's goroutine after the internal lock is released, so
// emit must not call back into the detector synchronously from itself.
func NewDetector(session *SessionProvider, emit func(models.VisitSegment), opts ...Option) *Detector {
	d := &Detector{
		session:     session,
		emit:        emit,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Navigate reports a route change. The segment for the previous path is
// emitted with the dwell time measured since the last emission.
func (d *Detector) Navigate(path string) {
	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		return
	}

	var seg *models.VisitSegment
	if d.started {
		s := d.segmentLocked(models.ExitInternalNavigation, false)
		seg = &s
	}

	d.currentPath = path
	d.enteredAt = d.now()
	d.started = true
	d.rearmIdleLocked()
	d.mu.Unlock()

	if seg != nil {
		d.emit(*seg)
	}
}

// Activity reports user input (pointer, keyboard, scroll) and pushes the
// idle deadline out.
func (d *Detector) Activity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started && !d.terminated {
		d.rearmIdleLocked()
	}
}

// ExternalClick reports an anchor activation. Only targets on a different
// host terminate the session; same-host and relative links are ordinary
// navigation and are ignored here.
func (d *Detector) ExternalClick(rawURL string) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" || target.Host == d.host {
		return
	}
	d.terminate(models.ExitExternal)
}

// Hidden reports the page becoming invisible (tab switched away).
func (d *Detector) Hidden() {
	d.terminate(models.ExitTabHidden)
}

// Unload reports page teardown (tab closed, reload). It is the last-resort
// fallback and shares the latch with every other termination signal.
func (d *Detector) Unload() {
	d.terminate(models.ExitTabClose)
}

// Teardown classifies a composite termination context and terminates with
// the winning reason.
func (d *Detector) Teardown(tc TerminationContext) {
	d.terminate(ClassifyExit(tc))
}

// Terminated reports whether the one-shot latch has been taken.
func (d *Detector) Terminated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminated
}

// idleFire runs when an armed idle timer elapses. Stop cannot cancel a
// callback that already fired and is waiting on the lock, so each armed timer
// carries the generation current at arming time; a rearm in between makes
// this a no-op.
func (d *Detector) idleFire(gen uint64) {
	d.mu.Lock()
	if gen != d.timerGen {
		d.mu.Unlock()
		return
	}
	d.terminateLocked(models.ExitIdleTimeout)
}

// terminate is the single path into the absorbing state. The first caller
// takes the latch and emits the terminal segment; everyone after that is a
// no-op, which is what keeps racing signals from double-counting a dwell.
func (d *Detector) terminate(reason models.ExitReason) bool {
	d.mu.Lock()
	return d.terminateLocked(reason)
}

// terminateLocked is called with d.mu held and releases it before emitting.
func (d *Detector) terminateLocked(reason models.ExitReason) bool {
	if d.terminated {
		d.mu.Unlock()
		return false
	}
	d.terminated = true
	d.stopIdleLocked()

	if !d.started {
		d.mu.Unlock()
		return true
	}

	seg := d.segmentLocked(reason, true)
	d.mu.Unlock()

	d.emit(seg)
	return true
}

// segmentLocked builds the segment for the current path and resets the dwell
// clock so consecutive segments never overlap.
func (d *Detector) segmentLocked(reason models.ExitReason, siteExit bool) models.VisitSegment {
	elapsed := d.now().Sub(d.enteredAt)
	if elapsed < 0 {
		elapsed = 0
	}
	d.enteredAt = d.now()

	seg := models.VisitSegment{
		SessionID:        d.session.Token(),
		UserID:           d.session.UserID(),
		PagePath:         d.currentPath,
		TimeSpentSeconds: int64(elapsed.Seconds()),
		ExitReason:       reason,
		IsSiteExit:       siteExit,
		DeviceInfo:       d.device,
	}

	if d.geo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), geoReadTimeout)
		if fix, err := d.geo.Fix(ctx); err == nil && fix.Valid() {
			seg.GeoLocation = fix
		}
		cancel()
	}

	return seg
}

func (d *Detector) rearmIdleLocked() {
	d.timerGen++
	if d.idleTimeout <= 0 {
		return
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	gen := d.timerGen
	d.idleTimer = time.AfterFunc(d.idleTimeout, func() { d.idleFire(gen) })
}

func (d *Detector) stopIdleLocked() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
}
