// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package hazard ranks hazard markers by proximity to the current position.
package hazard

// Category groups hazards by the kind of risk they describe.
type Category string

const (
	Physical      Category = "physical"
	Environmental Category = "environmental"
	Cyber         Category = "cyber"
)

// priority orders categories for ranking; lower sorts first.
func (c Category) priority() int {
	switch c {
	case Physical:
		return 0
	case Environmental:
		return 1
	case Cyber:
		return 2
	default:
		return 3
	}
}

// Severity of a hazard as supplied by the feed.
type Severity string

const (
	High   Severity = "high"
	Medium Severity = "medium"
	Low    Severity = "low"
)

func (s Severity) priority() int {
	switch s {
	case High:
		return 0
	case Medium:
		return 1
	case Low:
		return 2
	default:
		return 3
	}
}

// Position is a WGS84 coordinate in decimal degrees.
type Position struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" yaml:"lng" validate:"gte=-180,lte=180"`
}

// Marker is a normalized hazard from an upstream feed. Markers are treated
// as read-only; ranking works on copies.
type Marker struct {
	ID       string   `json:"id" yaml:"id" validate:"required"`
	Position Position `json:"position" yaml:"position"`
	Category Category `json:"category" yaml:"category" validate:"oneof=physical environmental cyber"`
	Severity Severity `json:"severity" yaml:"severity" validate:"oneof=low medium high"`
	Title    string   `json:"title" yaml:"title"`
	Details  string   `json:"details,omitempty" yaml:"details"`
}

// Result is one ranked hazard with its distance from the reference point.
type Result struct {
	Hazard         Marker  `json:"hazard"`
	DistanceMeters float64 `json:"distance_m"`
	Rank           int     `json:"rank"`
}
