// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/relabs-tech/safety_tracker/internal/clock"
)

// sentence appends the NMEA checksum to body.
func sentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", body, sum)
}

var (
	ggaGPS = sentence("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	ggaDR  = sentence("GPGGA,123520,4807.038,N,01131.000,E,6,00,0.0,545.4,M,46.9,M,,")
	ggaNo  = sentence("GPGGA,123521,,,,,0,00,,,M,,M,,")
	rmcOK  = sentence("GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W")
	rmcBad = sentence("GPRMC,220516,V,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W")
)

type recorder struct {
	fixes []Fix
	errs  []error
}

func (r *recorder) handler() Handler {
	return Handler{
		OnFix:   func(f Fix) { r.fixes = append(r.fixes, f) },
		OnError: func(err error) { r.errs = append(r.errs, err) },
	}
}

func newTestReceiver(t *testing.T, m *clock.Manual) *Receiver {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	return NewReceiver(ReceiverConfig{
		Open:      func() (io.ReadCloser, error) { return pr, nil },
		Scheduler: m,
	})
}

func TestReceiverGGADispatch(t *testing.T) {
	m := clock.NewManual(time.UnixMilli(1_700_000_000_000))
	r := newTestReceiver(t, m)

	var ha, std recorder
	r.Watch(Options{EnableHighAccuracy: true}, ha.handler())
	r.Watch(Options{}, std.handler())

	r.HandleSentence(ggaGPS)
	require.Len(t, ha.fixes, 1)
	require.Len(t, std.fixes, 1)

	f := ha.fixes[0]
	assert.InDelta(t, 48.1173, f.Lat, 1e-4)
	assert.InDelta(t, 11.516667, f.Lng, 1e-4)
	assert.InDelta(t, 0.9*DefaultUERE, f.AccuracyMeters, 1e-9)
	assert.Equal(t, ModeHighAccuracy, f.Mode)
	assert.Equal(t, int64(1_700_000_000_000), f.TimestampMs)
	assert.Equal(t, ModeStandard, std.fixes[0].Mode)
}

func TestReceiverDeadReckoningOnlyForStandard(t *testing.T) {
	m := clock.NewManual(time.Unix(0, 0))
	r := newTestReceiver(t, m)

	var ha, std recorder
	r.Watch(Options{EnableHighAccuracy: true}, ha.handler())
	r.Watch(Options{}, std.handler())

	r.HandleSentence(ggaDR)
	assert.Empty(t, ha.fixes)
	assert.Len(t, std.fixes, 1)

	r.HandleSentence(ggaNo)
	r.HandleSentence(rmcBad)
	r.HandleSentence("garbage")
	r.HandleSentence("$GPGGA,broken*00")
	assert.Len(t, std.fixes, 1)
}

func TestReceiverRMCUsesLastHDOP(t *testing.T) {
	m := clock.NewManual(time.Unix(0, 0))
	r := newTestReceiver(t, m)

	var rec recorder
	r.Watch(Options{}, rec.handler())

	r.HandleSentence(rmcOK)
	r.HandleSentence(ggaGPS)
	r.HandleSentence(rmcOK)

	require.Len(t, rec.fixes, 3)
	assert.Equal(t, rmcAccuracy, rec.fixes[0].AccuracyMeters)
	assert.InDelta(t, 51.5636, rec.fixes[0].Lat, 1e-4)
	assert.InDelta(t, -0.704, rec.fixes[0].Lng, 1e-4)
	assert.InDelta(t, 4.5, rec.fixes[2].AccuracyMeters, 1e-9)
}

func TestReceiverRequestOnceAndTimeouts(t *testing.T) {
	m := clock.NewManual(time.Unix(0, 0))
	r := newTestReceiver(t, m)

	var once, watch recorder
	r.RequestOnce(Options{EnableHighAccuracy: true, Timeout: 15 * time.Second}, once.handler())
	r.Watch(Options{EnableHighAccuracy: true, Timeout: 15 * time.Second}, watch.handler())

	m.Advance(15 * time.Second)
	require.Len(t, once.errs, 1)
	assert.True(t, eris.Is(once.errs[0], ErrTimeout))
	require.Len(t, watch.errs, 1)

	// the watch re-arms, the one-shot is gone
	m.Advance(15 * time.Second)
	assert.Len(t, once.errs, 1)
	assert.Len(t, watch.errs, 2)

	// a fix resets the watch timeout
	m.Advance(10 * time.Second)
	r.HandleSentence(ggaGPS)
	m.Advance(14 * time.Second)
	assert.Len(t, watch.errs, 2)
	assert.Len(t, watch.fixes, 1)
	assert.Empty(t, once.fixes)
}

func TestReceiverCachedFix(t *testing.T) {
	m := clock.NewManual(time.Unix(0, 0))
	r := newTestReceiver(t, m)

	r.Watch(Options{}, Handler{})
	r.HandleSentence(ggaGPS)
	m.Advance(5 * time.Second)

	var fresh, stale recorder
	r.RequestOnce(Options{MaxAge: 10 * time.Second}, fresh.handler())
	r.RequestOnce(Options{MaxAge: time.Second}, stale.handler())
	assert.Empty(t, fresh.fixes, "cached fix is delivered asynchronously")

	m.Advance(0)
	require.Len(t, fresh.fixes, 1)
	assert.Empty(t, stale.fixes)
}

func TestReceiverClearWatch(t *testing.T) {
	m := clock.NewManual(time.Unix(0, 0))
	r := newTestReceiver(t, m)

	var rec recorder
	id := r.Watch(Options{Timeout: time.Second}, rec.handler())
	r.ClearWatch(id)
	r.HandleSentence(ggaGPS)
	m.Advance(time.Minute)
	assert.Empty(t, rec.fixes)
	assert.Empty(t, rec.errs)
}

func TestReceiverOpenErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission", &os.PathError{Op: "open", Path: "/dev/serial0", Err: os.ErrPermission}, ErrPermissionDenied},
		{"missing", &os.PathError{Op: "open", Path: "/dev/serial0", Err: os.ErrNotExist}, ErrPositionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := clock.NewManual(time.Unix(0, 0))
			r := NewReceiver(ReceiverConfig{
				Open:      func() (io.ReadCloser, error) { return nil, tt.err },
				Scheduler: m,
			})

			var rec recorder
			r.RequestOnce(Options{}, rec.handler())
			assert.Empty(t, rec.errs)
			m.Advance(0)
			require.Len(t, rec.errs, 1)
			assert.True(t, eris.Is(rec.errs[0], tt.want))
		})
	}
}

func TestReceiverReadLoopAndEOF(t *testing.T) {
	pr, pw := io.Pipe()
	opened := 0
	r := NewReceiver(ReceiverConfig{
		Open: func() (io.ReadCloser, error) {
			opened++
			return pr, nil
		},
		Scheduler: clock.Real{},
	})
	defer r.Close()

	fixes := make(chan Fix, 4)
	errs := make(chan error, 4)
	r.Watch(Options{}, Handler{
		OnFix:   func(f Fix) { fixes <- f },
		OnError: func(err error) { errs <- err },
	})

	_, err := io.WriteString(pw, ggaGPS)
	require.NoError(t, err)

	select {
	case f := <-fixes:
		assert.InDelta(t, 48.1173, f.Lat, 1e-4)
	case <-time.After(2 * time.Second):
		t.Fatal("no fix from read loop")
	}

	require.NoError(t, pw.Close())
	select {
	case err := <-errs:
		assert.True(t, eris.Is(err, ErrPositionUnavailable))
	case <-time.After(2 * time.Second):
		t.Fatal("no error after EOF")
	}
	assert.Equal(t, 1, opened)
}

func TestReceiverClosed(t *testing.T) {
	m := clock.NewManual(time.Unix(0, 0))
	r := newTestReceiver(t, m)
	require.NoError(t, r.Close())

	var rec recorder
	r.RequestOnce(Options{}, rec.handler())
	m.Advance(0)
	require.Len(t, rec.errs, 1)
	assert.True(t, eris.Is(rec.errs[0], ErrPositionUnavailable))
}

func TestReceiverParseErrorsThrottled(t *testing.T) {
	m := clock.NewManual(time.UnixMilli(1_700_000_000_000))
	core, logs := observer.New(zap.WarnLevel)
	r := NewReceiver(ReceiverConfig{Scheduler: m, Logger: zap.New(core)})

	bad := "$GPGGA,garbage*00"
	for i := 0; i < 3; i++ {
		r.HandleSentence(bad)
	}
	require.Equal(t, 1, logs.Len())

	m.Advance(parseLogEvery / 2)
	r.HandleSentence(bad)
	require.Equal(t, 1, logs.Len())

	m.Advance(parseLogEvery/2 + time.Second)
	r.HandleSentence(bad)
	entries := logs.TakeAll()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ContextMap()["failures"])
	assert.Equal(t, int64(4), entries[1].ContextMap()["failures"])
}
