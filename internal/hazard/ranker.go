// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package hazard

import (
	"math"
	"sort"
)

// Policy bounds how many hazards each view shows.
type Policy struct {
	// NearbyRadius is the default radius of the nearby-alert view, in meters.
	NearbyRadius float64
	// NearbyMaxResults caps the nearby view.
	NearbyMaxResults int
	// NearbyDensity allows one nearby alert per this many known hazards.
	NearbyDensity int
	// ProximityRadius is the radius of the coarse proximity view, in meters.
	ProximityRadius float64
	// ProximityMaxResults caps the proximity view.
	ProximityMaxResults int
	// MaxHigh is how many entries may keep High severity; the rest become Medium.
	MaxHigh int
}

// DefaultPolicy returns the stock alert-volume policy.
func DefaultPolicy() Policy {
	return Policy{
		NearbyRadius:        1000,
		NearbyMaxResults:    3,
		NearbyDensity:       5,
		ProximityRadius:     10000,
		ProximityMaxResults: 5,
		MaxHigh:             1,
	}
}

// Ranker produces deterministic, bounded hazard rankings.
type Ranker struct {
	policy Policy
}

// NewRanker returns a Ranker. Zero fields in p take the defaults.
func NewRanker(p Policy) *Ranker {
	d := DefaultPolicy()
	if p.NearbyRadius <= 0 {
		p.NearbyRadius = d.NearbyRadius
	}
	if p.NearbyMaxResults <= 0 {
		p.NearbyMaxResults = d.NearbyMaxResults
	}
	if p.NearbyDensity <= 0 {
		p.NearbyDensity = d.NearbyDensity
	}
	if p.ProximityRadius <= 0 {
		p.ProximityRadius = d.ProximityRadius
	}
	if p.ProximityMaxResults <= 0 {
		p.ProximityMaxResults = d.ProximityMaxResults
	}
	if p.MaxHigh <= 0 {
		p.MaxHigh = d.MaxHigh
	}
	return &Ranker{policy: p}
}

func (r *Ranker) Policy() Policy { return r.policy }

// Nearby ranks hazards within maxDistance meters of from (the policy radius
// if maxDistance <= 0). Output grows with hazard density: one entry per
// NearbyDensity known hazards, up to NearbyMaxResults.
func (r *Ranker) Nearby(from Position, markers []Marker, maxDistance float64) []Result {
	if maxDistance <= 0 {
		maxDistance = r.policy.NearbyRadius
	}
	unique := dedupe(markers)
	density := (len(unique) + r.policy.NearbyDensity - 1) / r.policy.NearbyDensity
	limit := min(r.policy.NearbyMaxResults, density)
	return r.rank(from, unique, maxDistance, limit)
}

// Proximity is the coarse view: a wider radius and a fixed cap.
func (r *Ranker) Proximity(from Position, markers []Marker) []Result {
	return r.rank(from, dedupe(markers), r.policy.ProximityRadius, r.policy.ProximityMaxResults)
}

func (r *Ranker) rank(from Position, markers []Marker, radius float64, limit int) []Result {
	if limit <= 0 {
		return nil
	}

	results := make([]Result, 0, len(markers))
	for _, m := range markers {
		d := Distance(from, m.Position)
		if math.IsNaN(d) || d > radius {
			continue
		}
		results = append(results, Result{Hazard: m, DistanceMeters: d})
	}

	sort.Slice(results, func(i, j int) bool {
		return less(results[i], results[j])
	})

	if len(results) > limit {
		results = results[:limit]
	}

	highs := 0
	for i := range results {
		results[i].Rank = i + 1
		if results[i].Hazard.Severity != High {
			continue
		}
		highs++
		if highs > r.policy.MaxHigh {
			// Hazard is a copy; the caller's marker keeps its severity.
			results[i].Hazard.Severity = Medium
		}
	}
	return results
}

func less(a, b Result) bool {
	if pa, pb := a.Hazard.Category.priority(), b.Hazard.Category.priority(); pa != pb {
		return pa < pb
	}
	if sa, sb := a.Hazard.Severity.priority(), b.Hazard.Severity.priority(); sa != sb {
		return sa < sb
	}
	if a.DistanceMeters != b.DistanceMeters {
		return a.DistanceMeters < b.DistanceMeters
	}
	return a.Hazard.ID < b.Hazard.ID
}

// dedupe drops repeated IDs, keeping the first occurrence.
func dedupe(markers []Marker) []Marker {
	seen := make(map[string]struct{}, len(markers))
	out := make([]Marker, 0, len(markers))
	for _, m := range markers {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
