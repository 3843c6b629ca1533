// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package notify

import (
	"slices"
	"sync"
	"time"
)

// Topic is a typed broadcast channel for advisory signals.
type Topic[T any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(T)
	order    []int
}

// Listen registers fn and returns a function that removes it.
func (t *Topic[T]) Listen(fn func(T)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers == nil {
		t.handlers = make(map[int]func(T))
	}
	t.nextID++
	id := t.nextID
	t.handlers[id] = fn
	t.order = append(t.order, id)

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
		t.order = slices.DeleteFunc(slices.Clone(t.order), func(v int) bool { return v == id })
	}
}

// Emit calls every listener in registration order.
func (t *Topic[T]) Emit(v T) {
	t.mu.RLock()
	order := t.order
	t.mu.RUnlock()

	for _, id := range order {
		t.mu.RLock()
		fn, ok := t.handlers[id]
		t.mu.RUnlock()
		if ok {
			fn(v)
		}
	}
}

// PositionUpdate is the payload of the position-updated signal.
type PositionUpdate struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy_m"`
}

// AdvisoryKind labels consumer-visible, non-fatal conditions.
type AdvisoryKind string

const (
	AdvisoryDegraded         AdvisoryKind = "degraded"
	AdvisoryFallback         AdvisoryKind = "fallback"
	AdvisoryNoFix            AdvisoryKind = "no_fix"
	AdvisoryPermissionDenied AdvisoryKind = "permission_denied"
)

// Advisory is informational; it never means the tracker has failed.
type Advisory struct {
	Kind    AdvisoryKind `json:"kind"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

// PrecisionMode is the payload of the precision-mode-activated signal.
type PrecisionMode struct {
	At time.Time `json:"at"`
}

// Signals groups the broadcast channels exposed to loosely coupled consumers.
type Signals struct {
	PrecisionModeActivated Topic[PrecisionMode]
	PositionUpdated        Topic[PositionUpdate]
	Advisories             Topic[Advisory]
}
