// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bridge mirrors tracker events onto MQTT topics and feeds hazard
// snapshots from MQTT back into the tracker.
package bridge

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/hazard"
	"github.com/relabs-tech/safety_tracker/internal/notify"
	"github.com/relabs-tech/safety_tracker/internal/tracker"
)

// Client is the part of mqtt.Client the bridge needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Topics names the MQTT topics used by the bridge.
type Topics struct {
	Position  string
	Ranking   string
	Advisory  string
	Precision string
	Hazards   string
}

// Connect dials the broker with the given client id.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, eris.Wrapf(token.Error(), "bridge: connect %s", broker)
	}
	return client, nil
}

// Bridge publishes tracker output as JSON.
type Bridge struct {
	client Client
	topics Topics
	log    *zap.Logger
}

func New(client Client, topics Topics, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{client: client, topics: topics, log: log}
}

// Attach subscribes the bridge to t's updates and signals. The returned
// function detaches it.
func (b *Bridge) Attach(t *tracker.Tracker) (detach func()) {
	tok := t.Subscribe(b.PublishPosition, b.PublishRanking)
	cancelAdvisory := t.Signals().Advisories.Listen(b.PublishAdvisory)
	cancelPrecision := t.Signals().PrecisionModeActivated.Listen(b.PublishPrecision)

	return func() {
		t.Unsubscribe(tok)
		cancelAdvisory()
		cancelPrecision()
	}
}

func (b *Bridge) PublishPosition(fix gps.Fix) {
	b.publish(b.topics.Position, true, fix)
}

// RankingMessage is the payload on the ranking topic.
type RankingMessage struct {
	Results []hazard.Result `json:"results"`
	At      int64           `json:"at_ms"`
}

func (b *Bridge) PublishRanking(results []hazard.Result) {
	if results == nil {
		results = []hazard.Result{}
	}
	b.publish(b.topics.Ranking, true, RankingMessage{Results: results, At: time.Now().UnixMilli()})
}

func (b *Bridge) PublishAdvisory(a notify.Advisory) {
	b.publish(b.topics.Advisory, false, a)
}

func (b *Bridge) PublishPrecision(p notify.PrecisionMode) {
	b.publish(b.topics.Precision, false, p)
}

func (b *Bridge) publish(topic string, retained bool, v interface{}) {
	if topic == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Error("bridge: json marshal error", zap.String("topic", topic), zap.Error(err))
		return
	}

	token := b.client.Publish(topic, 0, retained, payload)
	token.Wait()
	if token.Error() != nil {
		b.log.Warn("bridge: publish error", zap.String("topic", topic), zap.Error(token.Error()))
	}
}

// SubscribeHazards decodes GeoJSON hazard snapshots from the hazards topic
// and hands them to apply. Malformed snapshots are logged and dropped.
func (b *Bridge) SubscribeHazards(apply func([]hazard.Marker)) error {
	token := b.client.Subscribe(b.topics.Hazards, 0, func(_ mqtt.Client, msg mqtt.Message) {
		markers, err := hazard.DecodeGeoJSON(msg.Payload())
		if err != nil {
			b.log.Warn("bridge: bad hazard snapshot", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		b.log.Info("bridge: hazard snapshot received", zap.Int("count", len(markers)))
		apply(markers)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return eris.Wrapf(err, "bridge: subscribe %s", b.topics.Hazards)
	}
	return nil
}
