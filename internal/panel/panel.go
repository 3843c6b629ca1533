// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package panel renders a small monochrome status screen: the current
// position and the top ranked hazards.
package panel

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/hazard"
)

// Panel geometry, matching a 128x64 OLED.
const (
	Width  = 128
	Height = 64
	// maxChars fits basicfont.Face7x13 across the panel.
	maxChars = Width / 7
)

// Status is what the panel shows.
type Status struct {
	Fix     gps.Fix
	HaveFix bool
	State   string
	Ranking []hazard.Result
}

// Lines returns the four text rows drawn on the panel.
func Lines(s Status) []string {
	if !s.HaveFix {
		return []string{"Safety tracker", "Waiting for GPS", s.State, ""}
	}

	lines := []string{
		fmt.Sprintf("%8.4f %9.4f", s.Fix.Lat, s.Fix.Lng),
		fmt.Sprintf("+-%.0fm %s", s.Fix.AccuracyMeters, modeLabel(s.Fix.Mode)),
	}
	if len(s.Ranking) == 0 {
		lines = append(lines, "No hazards near", "")
	}
	for i := 0; i < len(s.Ranking) && len(lines) < 4; i++ {
		r := s.Ranking[i]
		lines = append(lines, fmt.Sprintf("%s %4.0fm %s", severityMark(r.Hazard.Severity), r.DistanceMeters, r.Hazard.Title))
	}
	for len(lines) < 4 {
		lines = append(lines, "")
	}
	for i, l := range lines {
		if len(l) > maxChars {
			lines[i] = strings.TrimRight(l[:maxChars], " ")
		}
	}
	return lines
}

// Render draws the status on a Width x Height grayscale image.
func Render(s Status) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, Width, Height))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: color.Gray{Y: 0xff}},
		Face: basicfont.Face7x13,
	}
	for i, line := range Lines(s) {
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawBytes([]byte(line))
	}
	return img
}

// WritePNG renders the status as a PNG.
func WritePNG(w io.Writer, s Status) error {
	if err := png.Encode(w, Render(s)); err != nil {
		return eris.Wrap(err, "panel: encode png")
	}
	return nil
}

func modeLabel(m gps.Mode) string {
	switch m {
	case gps.ModeHighAccuracy:
		return "HI"
	case gps.ModeStandard:
		return "STD"
	case gps.ModeFallback:
		return "FALLBK"
	default:
		return strings.ToUpper(string(m))
	}
}

func severityMark(s hazard.Severity) string {
	switch s {
	case hazard.High:
		return "!!"
	case hazard.Medium:
		return "! "
	default:
		return "  "
	}
}
