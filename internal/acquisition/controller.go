// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package acquisition drives a position sensor through high-accuracy
// watching, backoff retries and a low-power degraded mode.
package acquisition

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relabs-tech/safety_tracker/internal/clock"
	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/notify"
)

// State of the acquisition state machine.
type State int

const (
	Idle State = iota
	HighAccuracyWatch
	Retrying
	StandardWatch
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HighAccuracyWatch:
		return "high-accuracy-watch"
	case Retrying:
		return "retrying"
	case StandardWatch:
		return "standard-watch"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Policy holds the sensor options and retry limits. Zero fields take the
// DefaultPolicy value; an Options pair counts as zero when both its timeout
// and max age are.
type Policy struct {
	HighAccuracy gps.Options
	Standard     gps.Options
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	// MaxRetries is how many backoff retries run before degrading.
	MaxRetries int
	// NoFixTimeout raises a no_fix advisory if Start produced no fix in
	// time. Negative disables it.
	NoFixTimeout time.Duration
}

// DefaultPolicy returns the stock timings.
func DefaultPolicy() Policy {
	return Policy{
		HighAccuracy: gps.Options{EnableHighAccuracy: true, Timeout: 15 * time.Second, MaxAge: 10 * time.Second},
		Standard:     gps.Options{EnableHighAccuracy: false, Timeout: 30 * time.Second, MaxAge: 60 * time.Second},
		BackoffBase:  time.Second,
		BackoffMax:   10 * time.Second,
		MaxRetries:   3,
		NoFixTimeout: 30 * time.Second,
	}
}

// Backoff returns the delay before retry number n (1-based):
// BackoffBase doubled per retry, capped at BackoffMax.
func (p Policy) Backoff(n int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < n && d < p.BackoffMax; i++ {
		d *= 2
	}
	return min(d, p.BackoffMax)
}

// Observer receives state machine events, typically for metrics.
type Observer interface {
	Transition(from, to string)
	SensorError(code string)
	Retry(attempt int)
	Degraded()
}

// Config wires a Controller. Sensor and OnFix are required.
type Config struct {
	Sensor    gps.Sensor
	Scheduler clock.Scheduler
	Policy    Policy
	// OnFix receives every fix reported by the sensor.
	OnFix    func(gps.Fix)
	Signals  *notify.Signals
	Observer Observer
	Logger   *zap.Logger
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State          State  `json:"-"`
	StateName      string `json:"state"`
	RetryCount     int    `json:"retry_count"`
	MaxRetries     int    `json:"max_retries"`
	WatchOpen      bool   `json:"watch_open"`
	BackoffPending bool   `json:"backoff_pending"`
}

// Controller is the acquisition state machine. All sensor callbacks and
// timers are tagged with the session that issued them; a callback from an
// older session is dropped. Outward calls (OnFix, signals) are made without
// holding the lock, so they may call Stop.
type Controller struct {
	sensor   gps.Sensor
	sched    clock.Scheduler
	policy   Policy
	onFix    func(gps.Fix)
	signals  *notify.Signals
	observer Observer
	log      *zap.Logger

	session atomic.Uint64

	mu         sync.Mutex
	state      State
	retryCount int
	watchID    gps.WatchID
	watchOpen  bool
	backoff    clock.Timer
	watchdog   clock.Timer
	gotFix     bool
	// run counts Start/Stop cycles; session also moves on retry and degrade.
	run uint64
}

func New(cfg Config) (*Controller, error) {
	if cfg.Sensor == nil {
		return nil, eris.New("acquisition: sensor is required")
	}
	if cfg.OnFix == nil {
		return nil, eris.New("acquisition: fix sink is required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Signals == nil {
		cfg.Signals = &notify.Signals{}
	}

	d := DefaultPolicy()
	p := cfg.Policy
	if unsetOptions(p.HighAccuracy) {
		p.HighAccuracy = d.HighAccuracy
	}
	p.HighAccuracy.EnableHighAccuracy = true
	if unsetOptions(p.Standard) {
		p.Standard = d.Standard
	}
	p.Standard.EnableHighAccuracy = false
	if p.BackoffBase <= 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = d.BackoffMax
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.NoFixTimeout == 0 {
		p.NoFixTimeout = d.NoFixTimeout
	}

	return &Controller{
		sensor:   cfg.Sensor,
		sched:    cfg.Scheduler,
		policy:   p,
		onFix:    cfg.OnFix,
		signals:  cfg.Signals,
		observer: cfg.Observer,
		log:      cfg.Logger,
		state:    Idle,
	}, nil
}

// unsetOptions reports a zero timeout and max age; the accuracy flag is
// fixed per mode and does not count.
func unsetOptions(o gps.Options) bool {
	return o.Timeout == 0 && o.MaxAge == 0
}

// effects are collected under the lock and performed after it is released.
type effects struct {
	session    uint64
	fix        *gps.Fix
	precision  bool
	advisories []notify.Advisory
}

// Start opens a new session. With highPrecision it issues a high-accuracy
// one-shot request and opens a high-accuracy watch; otherwise it goes
// straight to the low-power watch. A running session is torn down first.
func (c *Controller) Start(highPrecision bool) {
	c.mu.Lock()
	if c.state != Idle && c.state != Stopped {
		c.teardownLocked()
	}
	c.newSessionLocked()
	c.run++
	c.retryCount = 0
	c.gotFix = false

	var eff effects
	if highPrecision {
		c.requestLocked(c.policy.HighAccuracy)
		c.openWatchLocked(c.policy.HighAccuracy)
		c.setStateLocked(HighAccuracyWatch)
		eff.precision = true
	} else {
		c.openStandardLocked()
	}
	c.armWatchdogLocked()

	eff.session = c.session.Load()
	c.mu.Unlock()

	c.apply(eff)
}

// Stop cancels any pending retry, clears the watch and moves to Stopped.
// It is idempotent and safe to call before Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// UseDefaultLocation returns the fallback fix for timezone. It does not
// change state.
func (c *Controller) UseDefaultLocation(timezone string) gps.Fix {
	return gps.DefaultLocation(timezone, c.sched.Now())
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:          c.state,
		StateName:      c.state.String(),
		RetryCount:     c.retryCount,
		MaxRetries:     c.policy.MaxRetries,
		WatchOpen:      c.watchOpen,
		BackoffPending: c.backoff != nil,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Policy() Policy { return c.policy }

func (c *Controller) handler(session uint64) gps.Handler {
	return gps.Handler{
		OnFix:   func(f gps.Fix) { c.handleFix(session, f) },
		OnError: func(err error) { c.handleError(session, err) },
	}
}

func (c *Controller) handleFix(session uint64, f gps.Fix) {
	c.mu.Lock()
	if session != c.session.Load() {
		c.mu.Unlock()
		return
	}

	c.retryCount = 0
	if !c.gotFix {
		c.gotFix = true
		c.stopWatchdogLocked()
	}
	if c.state == Retrying {
		c.log.Info("acquisition: recovered high-accuracy fix", zap.String("fix", f.String()))
		c.openWatchLocked(c.policy.HighAccuracy)
		c.setStateLocked(HighAccuracyWatch)
	}

	eff := effects{session: c.session.Load(), fix: &f}
	c.mu.Unlock()

	c.apply(eff)
}

func (c *Controller) handleError(session uint64, err error) {
	c.mu.Lock()
	if session != c.session.Load() {
		c.mu.Unlock()
		return
	}

	code := gps.ErrorCode(err)
	if c.observer != nil {
		c.observer.SensorError(code)
	}
	var eff effects

	switch c.state {
	case HighAccuracyWatch, Retrying:
		if eris.Is(err, gps.ErrPermissionDenied) {
			c.log.Warn("acquisition: permission denied, stopping", zap.String("state", c.state.String()))
			c.teardownLocked()
			eff.advisories = append(eff.advisories, c.advisory(notify.AdvisoryPermissionDenied,
				"location permission denied"))
			break
		}
		eff.advisories = c.retryLocked(err)

	case StandardWatch:
		if eris.Is(err, gps.ErrPermissionDenied) {
			eff.advisories = append(eff.advisories, c.advisory(notify.AdvisoryPermissionDenied,
				"location permission denied"))
		}
		// terminal degraded mode
		c.log.Debug("acquisition: standard watch error ignored", zap.String("code", code))

	default:
		c.log.Debug("acquisition: error outside a watch ignored",
			zap.String("state", c.state.String()), zap.String("code", code))
	}

	eff.session = c.session.Load()
	c.mu.Unlock()

	c.apply(eff)
}

// retryLocked handles a recoverable error in high-accuracy operation.
func (c *Controller) retryLocked(err error) []notify.Advisory {
	if c.state == HighAccuracyWatch {
		// stale callbacks from the watch and the initial one-shot are ignored
		c.newSessionLocked()
		c.clearWatchLocked()
		c.retryCount = 1
	} else {
		c.retryCount++
	}

	if c.retryCount > c.policy.MaxRetries {
		c.log.Warn("acquisition: retries exhausted, degrading to standard accuracy",
			zap.Int("retries", c.retryCount-1), zap.Error(err))
		c.newSessionLocked()
		c.openStandardLocked()
		if c.observer != nil {
			c.observer.Degraded()
		}
		return []notify.Advisory{c.advisory(notify.AdvisoryDegraded,
			"high-accuracy position unavailable, using standard accuracy")}
	}

	delay := c.policy.Backoff(c.retryCount)
	c.log.Info("acquisition: scheduling high-accuracy retry",
		zap.Int("attempt", c.retryCount), zap.Duration("delay", delay), zap.Error(err))
	c.setStateLocked(Retrying)
	if c.observer != nil {
		c.observer.Retry(c.retryCount)
	}

	session := c.session.Load()
	c.backoff = c.sched.AfterFunc(delay, func() { c.fireRetry(session) })
	return nil
}

func (c *Controller) fireRetry(session uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session != c.session.Load() || c.state != Retrying {
		return
	}
	c.backoff = nil
	c.requestLocked(c.policy.HighAccuracy)
}

func (c *Controller) openStandardLocked() {
	c.openWatchLocked(c.policy.Standard)
	// fast first fix while the watch warms up
	c.requestLocked(c.policy.Standard)
	c.setStateLocked(StandardWatch)
}

func (c *Controller) requestLocked(opts gps.Options) {
	c.sensor.RequestOnce(opts, c.handler(c.session.Load()))
}

func (c *Controller) openWatchLocked(opts gps.Options) {
	c.clearWatchLocked()
	c.watchID = c.sensor.Watch(opts, c.handler(c.session.Load()))
	c.watchOpen = true
}

func (c *Controller) clearWatchLocked() {
	if !c.watchOpen {
		return
	}
	c.sensor.ClearWatch(c.watchID)
	c.watchOpen = false
	c.watchID = 0
}

func (c *Controller) teardownLocked() {
	if c.backoff != nil {
		c.backoff.Stop()
		c.backoff = nil
	}
	c.stopWatchdogLocked()
	c.clearWatchLocked()
	c.newSessionLocked()
	c.run++
	c.setStateLocked(Stopped)
}

func (c *Controller) newSessionLocked() {
	c.session.Add(1)
}

func (c *Controller) armWatchdogLocked() {
	c.stopWatchdogLocked()
	if c.policy.NoFixTimeout < 0 {
		return
	}
	run := c.run
	c.watchdog = c.sched.AfterFunc(c.policy.NoFixTimeout, func() { c.fireWatchdog(run) })
}

func (c *Controller) stopWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

// fireWatchdog outlives the session bumps of retry and degrade, so it is
// keyed on the run instead.
func (c *Controller) fireWatchdog(run uint64) {
	c.mu.Lock()
	if run != c.run || c.watchdog == nil || c.gotFix {
		c.mu.Unlock()
		return
	}
	c.watchdog = nil
	adv := c.advisory(notify.AdvisoryNoFix,
		fmt.Sprintf("no position fix within %s", c.policy.NoFixTimeout))
	eff := effects{session: c.session.Load(), advisories: []notify.Advisory{adv}}
	c.mu.Unlock()

	c.log.Warn("acquisition: no fix yet", zap.Duration("after", c.policy.NoFixTimeout))
	c.apply(eff)
}

func (c *Controller) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.log.Debug("acquisition: transition", zap.String("from", from.String()), zap.String("to", to.String()))
	if c.observer != nil {
		c.observer.Transition(from.String(), to.String())
	}
}

func (c *Controller) advisory(kind notify.AdvisoryKind, msg string) notify.Advisory {
	return notify.Advisory{Kind: kind, Message: msg, At: c.sched.Now()}
}

// apply performs outward calls, skipping them if the session moved on
// while the lock was released.
func (c *Controller) apply(eff effects) {
	for _, a := range eff.advisories {
		if c.session.Load() != eff.session {
			return
		}
		c.signals.Advisories.Emit(a)
	}
	if eff.precision && c.session.Load() == eff.session {
		c.signals.PrecisionModeActivated.Emit(notify.PrecisionMode{At: c.sched.Now()})
	}
	if eff.fix != nil && c.session.Load() == eff.session {
		c.onFix(*eff.fix)
	}
}
