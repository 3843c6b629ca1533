// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracker is the composition of acquisition, filtering, ranking and
// notification exposed to consumers.
package tracker

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/safety_tracker/internal/acquisition"
	"github.com/relabs-tech/safety_tracker/internal/clock"
	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/hazard"
	"github.com/relabs-tech/safety_tracker/internal/notify"
	"github.com/relabs-tech/safety_tracker/internal/observability"
)

// Config wires a Tracker. Only Sensor is required.
type Config struct {
	Sensor      gps.Sensor
	Scheduler   clock.Scheduler
	Acquisition acquisition.Policy
	Filter      gps.FilterConfig
	Ranking     hazard.Policy
	// Timezone picks the fallback region; empty uses the local zone.
	Timezone string
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Tracker feeds sensor fixes through the filter, republishes accepted fixes
// and re-ranks hazards. Ranking is coalesced: any number of fix and hazard
// updates within one scheduler tick produce a single ranking.
type Tracker struct {
	log      *zap.Logger
	sched    clock.Scheduler
	tz       string
	metrics  *observability.Metrics
	filter   *gps.Filter
	ctrl     *acquisition.Controller
	ranker   *hazard.Ranker
	notifier *notify.Notifier
	signals  *notify.Signals

	mu           sync.Mutex
	hazards      []hazard.Marker
	dirty        bool
	flushPending bool
	fallbackSent bool
}

func New(cfg Config) (*Tracker, error) {
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	t := &Tracker{
		log:      cfg.Logger,
		sched:    cfg.Scheduler,
		tz:       cfg.Timezone,
		metrics:  cfg.Metrics,
		ranker:   hazard.NewRanker(cfg.Ranking),
		notifier: notify.NewNotifier(),
		signals:  &notify.Signals{},
	}

	filterCfg := cfg.Filter
	filterCfg.OnReject = func(raw gps.Fix, reason gps.RejectReason) {
		t.metrics.FixRejected(string(reason))
		t.log.Debug("tracker: fix rejected", zap.String("reason", string(reason)), zap.String("fix", raw.String()))
	}
	t.filter = gps.NewFilter(filterCfg)

	var observer acquisition.Observer
	if cfg.Metrics != nil {
		observer = cfg.Metrics
	}
	ctrl, err := acquisition.New(acquisition.Config{
		Sensor:    cfg.Sensor,
		Scheduler: cfg.Scheduler,
		Policy:    cfg.Acquisition,
		OnFix:     t.handleFix,
		Signals:   t.signals,
		Observer:  observer,
		Logger:    cfg.Logger.Named("acquisition"),
	})
	if err != nil {
		return nil, err
	}
	t.ctrl = ctrl

	t.signals.Advisories.Listen(func(a notify.Advisory) {
		t.metrics.Advisory(string(a.Kind))
		t.log.Info("tracker: advisory", zap.String("kind", string(a.Kind)), zap.String("message", a.Message))
	})
	return t, nil
}

// Start begins acquisition. See acquisition.Controller.Start.
func (t *Tracker) Start(highPrecision bool) {
	t.log.Info("tracker: start", zap.Bool("high_precision", highPrecision))
	t.ctrl.Start(highPrecision)
}

// Stop halts acquisition. Safe to call repeatedly.
func (t *Tracker) Stop() {
	t.ctrl.Stop()
}

// CurrentFix returns the best accepted fix, or false if none arrived yet.
func (t *Tracker) CurrentFix() (gps.Fix, bool) {
	return t.filter.Current()
}

// UseDefaultLocation returns the fallback fix for the configured timezone.
func (t *Tracker) UseDefaultLocation() gps.Fix {
	return t.ctrl.UseDefaultLocation(t.tz)
}

// DisplayFix returns the current fix, or the fallback location when no
// real fix has arrived. The first fallback raises an advisory.
func (t *Tracker) DisplayFix() gps.Fix {
	if f, ok := t.filter.Current(); ok {
		return f
	}

	t.mu.Lock()
	first := !t.fallbackSent
	t.fallbackSent = true
	t.mu.Unlock()

	f := t.UseDefaultLocation()
	if first {
		t.signals.Advisories.Emit(notify.Advisory{
			Kind:    notify.AdvisoryFallback,
			Message: gps.ErrNoFixEverReceived.Error() + ", using fallback location",
			At:      t.sched.Now(),
		})
	}
	return f
}

// Subscribe registers consumer callbacks; either may be nil.
func (t *Tracker) Subscribe(onPosition func(gps.Fix), onRanking func([]hazard.Result)) notify.Token {
	return t.notifier.Subscribe(notify.Subscriber{OnPosition: onPosition, OnRanking: onRanking})
}

func (t *Tracker) Unsubscribe(tok notify.Token) bool {
	return t.notifier.Unsubscribe(tok)
}

// SetHazards replaces the hazard snapshot. The slice is copied.
func (t *Tracker) SetHazards(markers []hazard.Marker) {
	t.mu.Lock()
	t.hazards = slices.Clone(markers)
	t.mu.Unlock()

	t.metrics.SetHazards(len(markers))
	t.log.Debug("tracker: hazards updated", zap.Int("count", len(markers)))
	t.markDirty()
}

// Hazards returns a copy of the current hazard snapshot.
func (t *Tracker) Hazards() []hazard.Marker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.hazards)
}

// RankNearby ranks hazards near the display fix. The optional argument
// overrides the policy radius in meters.
func (t *Tracker) RankNearby(maxDistanceMeters ...float64) []hazard.Result {
	var d float64
	if len(maxDistanceMeters) > 0 {
		d = maxDistanceMeters[0]
	}
	ref := t.DisplayFix()
	defer t.metrics.ObserveRanking(time.Now())
	return t.ranker.Nearby(position(ref), t.Hazards(), d)
}

// RankProximity is the coarse, wider-radius view.
func (t *Tracker) RankProximity() []hazard.Result {
	ref := t.DisplayFix()
	defer t.metrics.ObserveRanking(time.Now())
	return t.ranker.Proximity(position(ref), t.Hazards())
}

// Signals exposes the broadcast channels (precision mode, position, advisories).
func (t *Tracker) Signals() *notify.Signals { return t.signals }

// Acquisition returns a snapshot of the state machine.
func (t *Tracker) Acquisition() acquisition.Snapshot { return t.ctrl.Snapshot() }

func (t *Tracker) handleFix(raw gps.Fix) {
	t.metrics.FixReceived()
	fix, ok := t.filter.Accept(raw)
	if !ok {
		return
	}
	t.metrics.FixAccepted()

	t.notifier.PublishPosition(fix)
	t.signals.PositionUpdated.Emit(notify.PositionUpdate{
		Lat:            fix.Lat,
		Lng:            fix.Lng,
		AccuracyMeters: fix.AccuracyMeters,
	})
	t.markDirty()
}

func (t *Tracker) markDirty() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = true
	if t.flushPending {
		return
	}
	t.flushPending = true
	t.sched.AfterFunc(0, t.flush)
}

func (t *Tracker) flush() {
	t.mu.Lock()
	t.flushPending = false
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	t.dirty = false
	t.mu.Unlock()

	t.notifier.PublishRanking(t.RankNearby())
}

func position(f gps.Fix) hazard.Position {
	return hazard.Position{Lat: f.Lat, Lng: f.Lng}
}
