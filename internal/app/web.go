// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relabs-tech/safety_tracker/internal/bridge"
	"github.com/relabs-tech/safety_tracker/internal/config"
	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/hazard"
	"github.com/relabs-tech/safety_tracker/internal/notify"
	"github.com/relabs-tech/safety_tracker/internal/observability"
	"github.com/relabs-tech/safety_tracker/internal/panel"
	"github.com/relabs-tech/safety_tracker/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served on the local network
	},
}

// RunWeb serves the dashboard API fed from the tracker's MQTT topics.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	log := zap.L().Named("web")
	d := newDashboard(observability.NewMetrics(), log)

	// 1) Seed from the last recorded fix
	if cfg.RedisAddr != "" {
		rdb, err := store.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		fix, ok, err := store.NewFixRecorder(rdb, 0, log).LastFix(ctx)
		if err != nil {
			log.Warn("last fix unavailable", zap.Error(err))
		} else if ok {
			d.setFix(fix)
			log.Info("seeded from last fix", zap.String("fix", fix.String()))
		}
	}

	// 2) Connect to MQTT and follow the tracker
	client, err := bridge.Connect(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	if err := d.subscribe(client, topics(cfg)); err != nil {
		return err
	}

	// 3) HTTP
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: d.routes(),
	}
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		d.closeClients()
	}()

	log.Info("web server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "web: listen")
	}
	return nil
}

// wsEvent is pushed to websocket clients.
type wsEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsEvent
}

// dashboard holds the latest tracker output and fans it out to websockets.
type dashboard struct {
	log     *zap.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	fix      gps.Fix
	haveFix  bool
	ranking  []hazard.Result
	advisory *notify.Advisory
	clients  map[*wsClient]struct{}
}

func newDashboard(metrics *observability.Metrics, log *zap.Logger) *dashboard {
	if log == nil {
		log = zap.NewNop()
	}
	return &dashboard{
		log:     log,
		metrics: metrics,
		ranking: []hazard.Result{},
		clients: make(map[*wsClient]struct{}),
	}
}

func (d *dashboard) subscribe(client bridge.Client, t bridge.Topics) error {
	subs := []struct {
		topic  string
		handle func([]byte) error
	}{
		{t.Position, d.onPosition},
		{t.Ranking, d.onRanking},
		{t.Advisory, d.onAdvisory},
	}
	for _, s := range subs {
		handle := s.handle
		token := client.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := handle(msg.Payload()); err != nil {
				d.log.Warn("MQTT payload unmarshal error", zap.String("topic", msg.Topic()), zap.Error(err))
			}
		})
		token.Wait()
		if token.Error() != nil {
			return eris.Wrapf(token.Error(), "web: subscribe %s", s.topic)
		}
		d.log.Info("subscribed", zap.String("topic", s.topic))
	}
	return nil
}

func (d *dashboard) onPosition(payload []byte) error {
	var f gps.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	d.setFix(f)
	return nil
}

func (d *dashboard) onRanking(payload []byte) error {
	var m bridge.RankingMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	if m.Results == nil {
		m.Results = []hazard.Result{}
	}
	d.mu.Lock()
	d.ranking = m.Results
	d.mu.Unlock()
	d.broadcast(wsEvent{Type: "ranking", Data: m.Results})
	return nil
}

func (d *dashboard) onAdvisory(payload []byte) error {
	var a notify.Advisory
	if err := json.Unmarshal(payload, &a); err != nil {
		return err
	}
	d.mu.Lock()
	d.advisory = &a
	d.mu.Unlock()
	d.metrics.Advisory(string(a.Kind))
	d.broadcast(wsEvent{Type: "advisory", Data: a})
	return nil
}

func (d *dashboard) setFix(f gps.Fix) {
	d.mu.Lock()
	d.fix = f
	d.haveFix = true
	d.mu.Unlock()
	d.broadcast(wsEvent{Type: "position", Data: f})
}

func (d *dashboard) status() panel.Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := panel.Status{Fix: d.fix, HaveFix: d.haveFix, Ranking: slices.Clone(d.ranking)}
	if d.advisory != nil {
		st.State = string(d.advisory.Kind)
	}
	return st
}

// broadcast queues ev for every client. Slow clients miss events rather
// than stall the MQTT callback.
func (d *dashboard) broadcast(ev wsEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for c := range d.clients {
		select {
		case c.send <- ev:
		default:
			d.log.Debug("websocket client behind, dropping event", zap.String("type", ev.Type))
		}
	}
}

func (d *dashboard) clientCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}

func (d *dashboard) closeClients() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.clients {
		c.conn.Close()
	}
}

func (d *dashboard) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/position", func(w http.ResponseWriter, _ *http.Request) {
		d.mu.RLock()
		fix, ok := d.fix, d.haveFix
		d.mu.RUnlock()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, fix)
	})

	r.Get("/api/hazards", func(w http.ResponseWriter, _ *http.Request) {
		d.mu.RLock()
		ranking := d.ranking
		d.mu.RUnlock()
		writeJSON(w, http.StatusOK, ranking)
	})

	r.Get("/api/advisory", func(w http.ResponseWriter, _ *http.Request) {
		d.mu.RLock()
		a := d.advisory
		d.mu.RUnlock()
		if a == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, a)
	})

	r.Get("/api/panel.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if err := panel.WritePNG(w, d.status()); err != nil {
			d.log.Warn("panel render error", zap.Error(err))
		}
	})

	r.Get("/ws", d.serveWS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"clients": d.clientCount(),
		})
	})

	r.Handle("/metrics", d.metrics.Handler())
	return r
}

func (d *dashboard) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	c := &wsClient{conn: conn, send: make(chan wsEvent, 32)}

	// register and queue the current state atomically so no broadcast
	// lands ahead of the snapshot
	d.mu.Lock()
	d.clients[c] = struct{}{}
	if d.haveFix {
		c.send <- wsEvent{Type: "position", Data: d.fix}
	}
	c.send <- wsEvent{Type: "ranking", Data: d.ranking}
	if d.advisory != nil {
		c.send <- wsEvent{Type: "advisory", Data: *d.advisory}
	}
	d.mu.Unlock()
	d.log.Info("websocket client connected", zap.String("remote", r.RemoteAddr))

	go d.writeLoop(c)
	d.readLoop(c)
}

// readLoop discards client input and unregisters on disconnect.
func (d *dashboard) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	d.mu.Lock()
	delete(d.clients, c)
	close(c.send)
	d.mu.Unlock()
	c.conn.Close()
	d.log.Info("websocket client disconnected")
}

func (d *dashboard) writeLoop(c *wsClient) {
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteJSON(ev); err != nil {
			d.log.Debug("websocket write error", zap.Error(err))
			c.conn.Close()
			// drain until readLoop closes the channel
			for range c.send {
			}
			return
		}
	}
}
