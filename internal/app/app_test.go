// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/safety_tracker/internal/bridge"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

// fakeBroker records subscriptions and lets tests deliver messages.
type fakeBroker struct {
	handlers map[string]mqtt.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: map[string]mqtt.MessageHandler{}}
}

func (b *fakeBroker) Publish(string, byte, bool, interface{}) mqtt.Token { return doneToken{} }

func (b *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.handlers[topic] = cb
	return doneToken{}
}

func (b *fakeBroker) deliver(topic, payload string) {
	if cb, ok := b.handlers[topic]; ok {
		cb(nil, message{topic: topic, payload: []byte(payload)})
	}
}

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

var testTopics = bridge.Topics{
	Position:  "t/position",
	Ranking:   "t/ranking",
	Advisory:  "t/advisory",
	Precision: "t/precision",
	Hazards:   "t/hazards",
}
