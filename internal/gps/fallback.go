// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"strings"
	"time"
)

// FallbackAccuracy is the accuracy reported for synthetic fallback fixes.
const FallbackAccuracy = 5000.0

type region struct {
	match    string
	lat, lng float64
}

// regions is checked in order; the first substring match wins.
var regions = []region{
	{"Europe", 51.5074, -0.1278},      // London
	{"Asia", 35.6762, 139.6503},       // Tokyo
	{"Australia", -33.8688, 151.2093}, // Sydney
}

// New York, for anything not matched above.
const defaultLat, defaultLng = 40.7128, -74.0060

// DefaultLocation returns a synthetic fix for the region implied by an IANA
// timezone name. An empty name uses the local zone. It has no side effects.
func DefaultLocation(timezone string, now time.Time) Fix {
	if timezone == "" {
		timezone = time.Local.String()
	}

	lat, lng := defaultLat, defaultLng
	for _, r := range regions {
		if strings.Contains(timezone, r.match) {
			lat, lng = r.lat, r.lng
			break
		}
	}

	return Fix{
		Lat:            lat,
		Lng:            lng,
		AccuracyMeters: FallbackAccuracy,
		TimestampMs:    now.UnixMilli(),
		Mode:           ModeFallback,
	}
}
