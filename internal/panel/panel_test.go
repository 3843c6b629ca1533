// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package panel

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/hazard"
)

func TestLinesWaiting(t *testing.T) {
	lines := Lines(Status{State: "retrying"})
	assert.Equal(t, []string{"Safety tracker", "Waiting for GPS", "retrying", ""}, lines)
}

func TestLinesWithRanking(t *testing.T) {
	s := Status{
		Fix:     gps.Fix{Lat: 51.5074, Lng: -0.1278, AccuracyMeters: 8, Mode: gps.ModeHighAccuracy},
		HaveFix: true,
		Ranking: []hazard.Result{
			{Hazard: hazard.Marker{Title: "Flooding on the embankment", Severity: hazard.High}, DistanceMeters: 120},
			{Hazard: hazard.Marker{Title: "Theft", Severity: hazard.Medium}, DistanceMeters: 480},
			{Hazard: hazard.Marker{Title: "Ignored", Severity: hazard.Low}, DistanceMeters: 900},
		},
	}

	lines := Lines(s)
	require.Len(t, lines, 4)
	assert.Equal(t, " 51.5074   -0.1278", lines[0])
	assert.Equal(t, "+-8m HI", lines[1])
	assert.Equal(t, "!!  120m Flooding", lines[2])
	assert.Equal(t, "!   480m Theft", lines[3])
}

func TestLinesNoHazards(t *testing.T) {
	lines := Lines(Status{Fix: gps.Fix{Mode: gps.ModeFallback, AccuracyMeters: 5000}, HaveFix: true})
	assert.Equal(t, "+-5000m FALLBK", lines[1])
	assert.Equal(t, "No hazards near", lines[2])
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, Status{}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, Width, img.Bounds().Dx())
	assert.Equal(t, Height, img.Bounds().Dy())

	// some pixels are lit
	gray := Render(Status{})
	lit := 0
	for _, p := range gray.Pix {
		if p > 0 {
			lit++
		}
	}
	assert.Positive(t, lit)
}
