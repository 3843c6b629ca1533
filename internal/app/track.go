// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relabs-tech/safety_tracker/internal/bridge"
	"github.com/relabs-tech/safety_tracker/internal/config"
	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/hazard"
	"github.com/relabs-tech/safety_tracker/internal/observability"
	"github.com/relabs-tech/safety_tracker/internal/store"
	"github.com/relabs-tech/safety_tracker/internal/tracker"
)

// TrackOptions are command line overrides for RunTracker.
type TrackOptions struct {
	Simulate      bool
	HighPrecision bool
}

// RunTracker opens the GPS sensor, runs the tracker and mirrors its output
// to MQTT (and Redis when configured) until ctx is cancelled.
func RunTracker(ctx context.Context, cfg *config.Config, opts TrackOptions) error {
	log := zap.L().Named("track")
	metrics := observability.NewMetrics()

	// ---- 1) GPS sensor ----
	sensor, closeSensor := newSensor(cfg, opts.Simulate, log)
	defer closeSensor()

	tr, err := tracker.New(tracker.Config{
		Sensor:      sensor,
		Acquisition: cfg.AcquisitionPolicy(),
		Filter:      cfg.FilterConfig(),
		Ranking:     cfg.RankingPolicy(),
		Timezone:    cfg.Timezone,
		Metrics:     metrics,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	// ---- 2) Hazards from file ----
	if cfg.HazardFile != "" {
		markers, err := hazard.LoadFile(cfg.HazardFile)
		if err != nil {
			return err
		}
		tr.SetHazards(markers)
		log.Info("hazards loaded", zap.String("file", cfg.HazardFile), zap.Int("count", len(markers)))
	}

	// ---- 3) MQTT ----
	client, err := bridge.Connect(cfg.MQTTBroker, cfg.MQTTClientIDTracker)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	b := bridge.New(client, topics(cfg), log.Named("bridge"))
	detach := b.Attach(tr)
	defer detach()
	if err := b.SubscribeHazards(tr.SetHazards); err != nil {
		return err
	}

	// ---- 4) Redis last fix ----
	if cfg.RedisAddr != "" {
		rdb, err := store.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		rec := store.NewFixRecorder(rdb, cfg.LastFixTTL(), log.Named("store"))
		tok := tr.Subscribe(rec.OnPosition, nil)
		defer tr.Unsubscribe(tok)
		log.Info("recording last fix in redis", zap.String("addr", cfg.RedisAddr))
	}

	// ---- 5) Metrics and health ----
	if cfg.MetricsPort > 0 {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler: newTrackRouter(tr, metrics),
		}
		go func() {
			log.Info("metrics server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	// ---- 6) Run until cancelled ----
	highPrecision := cfg.HighPrecision || opts.HighPrecision
	tr.Start(highPrecision)
	<-ctx.Done()

	log.Info("shutting down")
	tr.Stop()
	return nil
}

// newSensor picks the simulated walk or the serial NMEA receiver.
func newSensor(cfg *config.Config, simulate bool, log *zap.Logger) (gps.Sensor, func()) {
	if simulate || cfg.Simulated() {
		origin := gps.DefaultLocation(cfg.Timezone, time.Now())
		log.Info("using simulated GPS", zap.Float64("lat", origin.Lat), zap.Float64("lng", origin.Lng))
		return gps.NewMockSensor(gps.MockConfig{OriginLat: origin.Lat, OriginLng: origin.Lng}, nil), func() {}
	}

	log.Info("using serial GPS", zap.String("port", cfg.GPSSerialPort), zap.Int("baud", cfg.GPSBaudRate))
	r := gps.NewReceiver(gps.ReceiverConfig{
		Open:   gps.SerialOpener(cfg.GPSSerialPort, uint(cfg.GPSBaudRate)),
		UERE:   cfg.GPSUEREMeters,
		Logger: log.Named("gps"),
	})
	return r, func() {
		if err := r.Close(); err != nil {
			log.Warn("gps close error", zap.Error(err))
		}
	}
}

func topics(cfg *config.Config) bridge.Topics {
	return bridge.Topics{
		Position:  cfg.TopicPosition,
		Ranking:   cfg.TopicRanking,
		Advisory:  cfg.TopicAdvisory,
		Precision: cfg.TopicPrecision,
		Hazards:   cfg.TopicHazards,
	}
}

// trackStatus is the /healthz body of the tracker process.
type trackStatus struct {
	State      string   `json:"state"`
	RetryCount int      `json:"retry_count"`
	HaveFix    bool     `json:"have_fix"`
	Fix        *gps.Fix `json:"fix,omitempty"`
	Hazards    int      `json:"hazards"`
}

func newTrackRouter(tr *tracker.Tracker, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		snap := tr.Acquisition()
		st := trackStatus{
			State:      snap.StateName,
			RetryCount: snap.RetryCount,
			Hazards:    len(tr.Hazards()),
		}
		if fix, ok := tr.CurrentFix(); ok {
			st.HaveFix = true
			st.Fix = &fix
		}
		writeJSON(w, http.StatusOK, st)
	})
	r.Get("/api/ranking", func(w http.ResponseWriter, r *http.Request) {
		var results []hazard.Result
		switch view := r.URL.Query().Get("view"); view {
		case "", "nearby":
			results = tr.RankNearby()
		case "proximity":
			results = tr.RankProximity()
		default:
			http.Error(w, eris.Errorf("unknown view %q", view).Error(), http.StatusBadRequest)
			return
		}
		if results == nil {
			results = []hazard.Result{}
		}
		writeJSON(w, http.StatusOK, results)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("json encode error", zap.Error(err))
	}
}
