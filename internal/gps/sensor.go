// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"time"

	"github.com/rotisserie/eris"
)

// Sensor errors. PermissionDenied is not recoverable; the other two are.
var (
	ErrPermissionDenied    = eris.New("gps: permission denied")
	ErrPositionUnavailable = eris.New("gps: position unavailable")
	ErrTimeout             = eris.New("gps: timeout")

	// ErrNoFixEverReceived is not produced by a sensor. Callers use it to
	// signal that a fallback location is being shown instead.
	ErrNoFixEverReceived = eris.New("gps: no fix ever received")
)

// Options configure a single request or a watch.
type Options struct {
	EnableHighAccuracy bool
	// Timeout is the longest wait for a fix before ErrTimeout is reported.
	// Zero means no timeout.
	Timeout time.Duration
	// MaxAge is the oldest cached fix that may satisfy the request.
	MaxAge time.Duration
}

// Handler receives the outcome of a request. Exactly one of the callbacks
// runs per outcome; a watch may produce many outcomes.
type Handler struct {
	OnFix   func(Fix)
	OnError func(error)
}

func (h Handler) fix(f Fix) {
	if h.OnFix != nil {
		h.OnFix(f)
	}
}

func (h Handler) err(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// WatchID identifies an open watch. The zero value is never issued.
type WatchID uint64

// Sensor is a callback-driven position source. Implementations deliver
// results asynchronously, never from inside the call that registered them.
type Sensor interface {
	RequestOnce(opts Options, h Handler)
	Watch(opts Options, h Handler) WatchID
	ClearWatch(id WatchID)
}

// ErrorCode returns a short stable label for a sensor error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case eris.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case eris.Is(err, ErrTimeout):
		return "timeout"
	case eris.Is(err, ErrPositionUnavailable):
		return "position_unavailable"
	default:
		return "unknown"
	}
}
