// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package hazard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned by LoadFile for unknown extensions.
var ErrUnsupportedFormat = eris.New("hazard: unsupported feed format")

var validate = validator.New(validator.WithRequiredStructEnabled())

// yamlFeed is the on-disk layout of a YAML hazard file.
type yamlFeed struct {
	Hazards []Marker `yaml:"hazards"`
}

// LoadFile reads a hazard snapshot from a .yaml/.yml or .geojson/.json file.
func LoadFile(path string) ([]Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "hazard: read %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	case ".geojson", ".json":
		return DecodeGeoJSON(data)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "hazard: %s", path)
	}
}

// DecodeYAML parses a YAML document with a top-level "hazards" list.
func DecodeYAML(data []byte) ([]Marker, error) {
	var feed yamlFeed
	if err := yaml.Unmarshal(data, &feed); err != nil {
		return nil, eris.Wrap(err, "hazard: decode yaml")
	}
	if err := Validate(feed.Hazards); err != nil {
		return nil, err
	}
	return feed.Hazards, nil
}

// DecodeGeoJSON parses a FeatureCollection of Point features. Hazard fields
// come from the feature properties; the feature id is used when the
// properties carry none.
func DecodeGeoJSON(data []byte) ([]Marker, error) {
	var fc geojson.FeatureCollection
	if err := fc.UnmarshalJSON(data); err != nil {
		return nil, eris.Wrap(err, "hazard: decode geojson")
	}

	markers := make([]Marker, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(*geom.Point)
		if !ok {
			return nil, eris.Errorf("hazard: feature %d: geometry must be a Point, got %T", i, f.Geometry)
		}
		if pt.Empty() || len(pt.FlatCoords()) < 2 {
			return nil, eris.Errorf("hazard: feature %d: point has no coordinates", i)
		}

		m := Marker{
			ID:       prop(f.Properties, "id"),
			Position: Position{Lat: pt.Y(), Lng: pt.X()},
			Category: Category(prop(f.Properties, "category")),
			Severity: Severity(prop(f.Properties, "severity")),
			Title:    prop(f.Properties, "title"),
			Details:  prop(f.Properties, "details"),
		}
		if m.ID == "" {
			m.ID = f.ID
		}
		markers = append(markers, m)
	}

	if err := Validate(markers); err != nil {
		return nil, err
	}
	return markers, nil
}

// Validate checks every marker's fields.
func Validate(markers []Marker) error {
	for i := range markers {
		if err := validate.Struct(markers[i]); err != nil {
			return eris.Wrapf(err, "hazard: marker %d (%q) invalid", i, markers[i].ID)
		}
	}
	return nil
}

func prop(props map[string]interface{}, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
