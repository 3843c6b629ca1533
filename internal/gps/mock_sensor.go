// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/safety_tracker/internal/clock"
)

// MockConfig describes the simulated walk.
type MockConfig struct {
	OriginLat, OriginLng float64
	// RadiusDeg is the size of the loop walked around the origin.
	RadiusDeg float64
	// Period is the time for one full loop.
	Period time.Duration
	// Interval between emitted fixes.
	Interval time.Duration
	// HighAccuracyOutage makes high-accuracy requests fail with
	// ErrPositionUnavailable for this long after creation.
	HighAccuracyOutage time.Duration
}

// MockSensor is a deterministic Sensor that walks a loop around an origin.
// It is used for --simulate runs and demos.
type MockSensor struct {
	cfg   MockConfig
	sched clock.Scheduler
	start time.Time

	mu       sync.Mutex
	nextID   WatchID
	watchers map[WatchID]*watcher
	ticking  bool
}

func NewMockSensor(cfg MockConfig, sched clock.Scheduler) *MockSensor {
	if sched == nil {
		sched = clock.Real{}
	}
	if cfg.RadiusDeg == 0 {
		cfg.RadiusDeg = 0.002
	}
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &MockSensor{
		cfg:      cfg,
		sched:    sched,
		start:    sched.Now(),
		watchers: make(map[WatchID]*watcher),
	}
}

func (m *MockSensor) RequestOnce(opts Options, h Handler) {
	m.register(opts, h, true)
}

func (m *MockSensor) Watch(opts Options, h Handler) WatchID {
	return m.register(opts, h, false)
}

func (m *MockSensor) ClearWatch(id WatchID) {
	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
}

func (m *MockSensor) register(opts Options, h Handler, once bool) WatchID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.watchers[id] = &watcher{id: id, opts: opts, h: h, once: once}
	if !m.ticking {
		m.ticking = true
		m.sched.AfterFunc(m.cfg.Interval, m.tick)
	}
	return id
}

func (m *MockSensor) tick() {
	now := m.sched.Now()
	outage := now.Sub(m.start) < m.cfg.HighAccuracyOutage

	m.mu.Lock()
	var fixes []delivery
	var failures []Handler
	for id, w := range m.watchers {
		if w.opts.EnableHighAccuracy && outage {
			failures = append(failures, w.h)
		} else {
			fixes = append(fixes, delivery{h: w.h, f: m.position(now, w.opts)})
		}
		if w.once {
			delete(m.watchers, id)
		}
	}
	if len(m.watchers) > 0 {
		m.sched.AfterFunc(m.cfg.Interval, m.tick)
	} else {
		m.ticking = false
	}
	m.mu.Unlock()

	for _, h := range failures {
		h.err(ErrPositionUnavailable)
	}
	for _, d := range fixes {
		d.h.fix(d.f)
	}
}

func (m *MockSensor) position(now time.Time, opts Options) Fix {
	phase := 2 * math.Pi * float64(now.Sub(m.start)) / float64(m.cfg.Period)

	f := Fix{
		Lat:            m.cfg.OriginLat + m.cfg.RadiusDeg*math.Sin(phase),
		Lng:            m.cfg.OriginLng + m.cfg.RadiusDeg*math.Cos(phase),
		AccuracyMeters: 40,
		TimestampMs:    now.UnixMilli(),
		Mode:           ModeStandard,
	}
	if opts.EnableHighAccuracy {
		f.AccuracyMeters = 8
		f.Mode = ModeHighAccuracy
	}
	return f
}
