// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"sync"
	"time"
)

// Default filter policy.
const (
	DefaultAccuracyThreshold = 50000.0 // meters
	DefaultMinInterval       = 1000 * time.Millisecond
)

// RejectReason says why the filter dropped a fix.
type RejectReason string

const (
	RejectRate     RejectReason = "rate"
	RejectAccuracy RejectReason = "accuracy"
)

// FilterConfig tunes a Filter. Zero values select the defaults.
type FilterConfig struct {
	AccuracyThreshold float64
	MinInterval       time.Duration
	// OnReject, if set, is called for every dropped fix.
	OnReject func(raw Fix, reason RejectReason)
}

// Filter gates raw fixes by arrival rate and accuracy and holds the best
// known fix. The rate window is measured on the fix timestamps against the
// last accepted fix only, in whole milliseconds: a fix exactly MinInterval
// after it passes.
type Filter struct {
	threshold  float64
	intervalMs int64
	onReject   func(Fix, RejectReason)

	mu      sync.Mutex
	current Fix
	has     bool
}

func NewFilter(cfg FilterConfig) *Filter {
	if cfg.AccuracyThreshold <= 0 {
		cfg.AccuracyThreshold = DefaultAccuracyThreshold
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	return &Filter{
		threshold: cfg.AccuracyThreshold,
		onReject:  cfg.OnReject,
		// whole milliseconds, rounded up
		intervalMs: (cfg.MinInterval + time.Millisecond - 1).Milliseconds(),
	}
}

// Accept returns (raw, true) if the fix was accepted. Otherwise it returns
// the currently held fix (zero value before the first acceptance) and false.
func (f *Filter) Accept(raw Fix) (Fix, bool) {
	f.mu.Lock()

	var reason RejectReason
	switch {
	case f.has && raw.TimestampMs-f.current.TimestampMs < f.intervalMs:
		reason = RejectRate
	case f.has && raw.AccuracyMeters > f.threshold:
		reason = RejectAccuracy
	default:
		f.current = raw
		f.has = true
		f.mu.Unlock()
		return raw, true
	}

	held := f.current
	f.mu.Unlock()
	if f.onReject != nil {
		f.onReject(raw, reason)
	}
	return held, false
}

// Current returns the best known fix, or false before the first acceptance.
func (f *Filter) Current() (Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.has
}
