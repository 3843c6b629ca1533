// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/hazard"
	"github.com/relabs-tech/safety_tracker/internal/observability"
	"github.com/relabs-tech/safety_tracker/internal/panel"
)

const (
	positionJSON = `{"lat":51.5074,"lng":-0.1278,"accuracy_m":8,"timestamp_ms":1700000000000,"mode":"high_accuracy"}`
	rankingJSON  = `{"results":[{"hazard":{"id":"flood","position":{"lat":51.508,"lng":-0.1278},"category":"environmental","severity":"high","title":"Flooding"},"distance_m":67,"rank":1}],"at_ms":1}`
	advisoryJSON = `{"kind":"no_fix","message":"no fix yet","at":"2026-01-01T00:00:00Z"}`
)

func newTestDashboard(t *testing.T) (*dashboard, *fakeBroker, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics()
	d := newDashboard(m, nil)
	broker := newFakeBroker()
	require.NoError(t, d.subscribe(broker, testTopics))
	return d, broker, m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDashboardAPI(t *testing.T) {
	d, broker, m := newTestDashboard(t)
	h := d.routes()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/position").Code)
	assert.Equal(t, http.StatusNoContent, get(t, h, "/api/advisory").Code)
	rec := get(t, h, "/api/hazards")
	assert.JSONEq(t, `[]`, rec.Body.String())

	broker.deliver(testTopics.Position, positionJSON)
	broker.deliver(testTopics.Ranking, rankingJSON)
	broker.deliver(testTopics.Advisory, advisoryJSON)

	rec = get(t, h, "/api/position")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var fix gps.Fix
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fix))
	assert.Equal(t, 51.5074, fix.Lat)
	assert.Equal(t, gps.ModeHighAccuracy, fix.Mode)

	rec = get(t, h, "/api/hazards")
	var results []hazard.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "flood", results[0].Hazard.ID)

	rec = get(t, h, "/api/advisory")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"no_fix"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Advisories.WithLabelValues("no_fix")))

	rec = get(t, h, "/healthz")
	assert.JSONEq(t, `{"status":"ok","clients":0}`, rec.Body.String())

	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_fix")
}

func TestDashboardIgnoresBadPayload(t *testing.T) {
	d, broker, _ := newTestDashboard(t)
	broker.deliver(testTopics.Position, `{`)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, d.routes(), "/api/position").Code)
}

func TestPanelPNG(t *testing.T) {
	d, broker, _ := newTestDashboard(t)
	broker.deliver(testTopics.Position, positionJSON)
	broker.deliver(testTopics.Ranking, rankingJSON)

	rec := get(t, d.routes(), "/api/panel.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, panel.Width, img.Bounds().Dx())
	assert.Equal(t, panel.Height, img.Bounds().Dy())

	lines := panel.Lines(d.status())
	assert.True(t, strings.HasSuffix(lines[2], "Flooding"))
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func eventType(t *testing.T, ev map[string]json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(ev["type"], &s))
	return s
}

func TestWebsocketPush(t *testing.T) {
	d, broker, _ := newTestDashboard(t)
	broker.deliver(testTopics.Position, positionJSON)

	srv := httptest.NewServer(d.routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// snapshot
	ev := readEvent(t, conn)
	assert.Equal(t, "position", eventType(t, ev))
	assert.Equal(t, "ranking", eventType(t, readEvent(t, conn)))
	assert.Equal(t, 1, d.clientCount())

	broker.deliver(testTopics.Ranking, rankingJSON)
	ev = readEvent(t, conn)
	assert.Equal(t, "ranking", eventType(t, ev))
	var results []hazard.Result
	require.NoError(t, json.Unmarshal(ev["data"], &results))
	require.Len(t, results, 1)
	assert.Equal(t, hazard.High, results[0].Hazard.Severity)

	broker.deliver(testTopics.Advisory, advisoryJSON)
	assert.Equal(t, "advisory", eventType(t, readEvent(t, conn)))

	conn.Close()
	assert.Eventually(t, func() bool { return d.clientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
