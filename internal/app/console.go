// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relabs-tech/safety_tracker/internal/bridge"
	"github.com/relabs-tech/safety_tracker/internal/config"
	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/notify"
)

// RunConsole prints tracker events from MQTT until ctx is cancelled.
func RunConsole(ctx context.Context, cfg *config.Config) error {
	log := zap.L().Named("console")

	client, err := bridge.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	p := &consolePrinter{out: os.Stdout, log: log}
	if err := p.subscribe(client, topics(cfg)); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

type consolePrinter struct {
	out io.Writer
	log *zap.Logger
}

func (p *consolePrinter) subscribe(client bridge.Client, t bridge.Topics) error {
	subs := []struct {
		topic  string
		handle func([]byte) error
	}{
		{t.Position, p.position},
		{t.Ranking, p.ranking},
		{t.Advisory, p.advisory},
		{t.Precision, p.precision},
	}
	for _, s := range subs {
		handle := s.handle
		token := client.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := handle(msg.Payload()); err != nil {
				p.log.Warn("unmarshal error", zap.String("topic", msg.Topic()), zap.Error(err))
			}
		})
		token.Wait()
		if token.Error() != nil {
			return eris.Wrapf(token.Error(), "console: subscribe %s", s.topic)
		}
		p.log.Info("subscribed", zap.String("topic", s.topic))
	}
	return nil
}

func (p *consolePrinter) position(payload []byte) error {
	var f gps.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "[POS ] lat=%.6f lng=%.6f acc=%.0fm mode=%s\n",
		f.Lat, f.Lng, f.AccuracyMeters, f.Mode)
	return nil
}

func (p *consolePrinter) ranking(payload []byte) error {
	var m bridge.RankingMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	if len(m.Results) == 0 {
		fmt.Fprintln(p.out, "[RANK] no hazards nearby")
		return nil
	}
	for _, r := range m.Results {
		fmt.Fprintf(p.out, "[RANK] #%d %-8s %-13s %6.0fm %s\n",
			r.Rank, r.Hazard.Severity, r.Hazard.Category, r.DistanceMeters, r.Hazard.Title)
	}
	return nil
}

func (p *consolePrinter) advisory(payload []byte) error {
	var a notify.Advisory
	if err := json.Unmarshal(payload, &a); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "[ADV ] %s: %s\n", a.Kind, a.Message)
	return nil
}

func (p *consolePrinter) precision(payload []byte) error {
	var m notify.PrecisionMode
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "[PREC] high precision mode at %s\n", m.At.Format("15:04:05"))
	return nil
}
