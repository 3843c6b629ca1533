// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import "fmt"

// Mode records how a fix was obtained.
type Mode string

const (
	ModeHighAccuracy Mode = "high_accuracy"
	ModeStandard     Mode = "standard"
	ModeFallback     Mode = "fallback"
)

// Fix represents a single position sample suitable for JSON and MQTT.
// Fixes are passed by value and never modified after creation.
type Fix struct {
	Lat            float64 `json:"lat"`          // decimal degrees
	Lng            float64 `json:"lng"`          // decimal degrees
	AccuracyMeters float64 `json:"accuracy_m"`   // 1-sigma horizontal radius
	TimestampMs    int64   `json:"timestamp_ms"` // unix milliseconds
	Mode           Mode    `json:"mode"`
}

func (f Fix) String() string {
	return fmt.Sprintf("(%.6f, %.6f) ±%.0fm %s @%d", f.Lat, f.Lng, f.AccuracyMeters, f.Mode, f.TimestampMs)
}
