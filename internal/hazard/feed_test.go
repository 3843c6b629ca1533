// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package hazard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlFeedDoc = `
hazards:
  - id: flood-12
    position: {lat: 51.501, lng: -0.125}
    category: environmental
    severity: high
    title: Flash flood warning
    details: Thames barrier closed
  - id: theft-7
    position: {lat: 51.503, lng: -0.120}
    category: physical
    severity: medium
    title: Bag snatching reported
`

const geoJSONFeedDoc = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "breach-3",
      "geometry": {"type": "Point", "coordinates": [139.70, 35.69]},
      "properties": {"category": "cyber", "severity": "low", "title": "Rogue Wi-Fi hotspot"}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [139.71, 35.68]},
      "properties": {"id": "quake-1", "category": "environmental", "severity": "high", "title": "Aftershock risk", "details": "M5.1"}
    }
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileYAML(t *testing.T) {
	markers, err := LoadFile(writeFile(t, "hazards.yaml", yamlFeedDoc))
	require.NoError(t, err)
	require.Len(t, markers, 2)

	assert.Equal(t, Marker{
		ID:       "flood-12",
		Position: Position{Lat: 51.501, Lng: -0.125},
		Category: Environmental,
		Severity: High,
		Title:    "Flash flood warning",
		Details:  "Thames barrier closed",
	}, markers[0])
	assert.Equal(t, Physical, markers[1].Category)
}

func TestLoadFileGeoJSON(t *testing.T) {
	markers, err := LoadFile(writeFile(t, "hazards.geojson", geoJSONFeedDoc))
	require.NoError(t, err)
	require.Len(t, markers, 2)

	assert.Equal(t, "breach-3", markers[0].ID)
	assert.Equal(t, Cyber, markers[0].Category)
	assert.InDelta(t, 35.69, markers[0].Position.Lat, 1e-9)
	assert.InDelta(t, 139.70, markers[0].Position.Lng, 1e-9)

	assert.Equal(t, "quake-1", markers[1].ID)
	assert.Equal(t, "M5.1", markers[1].Details)
}

func TestDecodeGeoJSONRejectsBadGeometry(t *testing.T) {
	tests := []struct {
		name     string
		geometry string
	}{
		{"line string", `{"type":"LineString","coordinates":[[0,0],[1,1]]}`},
		{"empty point", `{"type":"Point","coordinates":[]}`},
		{"null geometry", `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"type":"FeatureCollection","features":[{"type":"Feature","id":"x",
			  "geometry":` + tt.geometry + `,
			  "properties":{"category":"physical","severity":"low"}}]}`
			var err error
			require.NotPanics(t, func() { _, err = DecodeGeoJSON([]byte(doc)) })
			assert.Error(t, err)
		})
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing id", "hazards:\n  - position: {lat: 1, lng: 1}\n    category: physical\n    severity: low\n"},
		{"bad category", "hazards:\n  - id: a\n    position: {lat: 1, lng: 1}\n    category: social\n    severity: low\n"},
		{"bad severity", "hazards:\n  - id: a\n    position: {lat: 1, lng: 1}\n    category: physical\n    severity: extreme\n"},
		{"bad latitude", "hazards:\n  - id: a\n    position: {lat: 91, lng: 1}\n    category: physical\n    severity: low\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeYAML([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "hazards.csv", "id,lat,lng"))
	assert.True(t, eris.Is(err, ErrUnsupportedFormat))
}
