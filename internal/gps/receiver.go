// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"errors"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relabs-tech/safety_tracker/internal/clock"
)

const (
	// DefaultUERE is the user equivalent range error used to turn HDOP into meters.
	DefaultUERE = 5.0
	// rmcAccuracy is assumed for RMC-only fixes when no GGA HDOP has been seen.
	rmcAccuracy = 30.0
	// parseLogEvery bounds how often parse errors are logged.
	parseLogEvery = 10 * time.Second
)

// Opener opens the NMEA byte stream.
type Opener func() (io.ReadCloser, error)

// SerialOpener returns an Opener for a serial GPS receiver.
func SerialOpener(portName string, baudRate uint) Opener {
	return func() (io.ReadCloser, error) {
		// NOTE: adjust PortName to match your setup: /dev/serial0, /dev/ttyAMA0, /dev/ttyUSB0, etc.
		return serial.Open(serial.OpenOptions{
			PortName:              portName,
			BaudRate:              baudRate,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		})
	}
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	Open      Opener
	UERE      float64
	Scheduler clock.Scheduler
	Logger    *zap.Logger
}

// Receiver is a Sensor backed by an NMEA receiver. GGA sentences provide
// fix quality and HDOP, valid RMC sentences provide position updates between
// them. The port is opened lazily and reopened after a read failure.
type Receiver struct {
	open  Opener
	uere  float64
	sched clock.Scheduler
	log   *zap.Logger

	mu       sync.Mutex
	port     io.ReadCloser
	closed   bool
	nextID   WatchID
	watchers map[WatchID]*watcher

	last        sample
	haveLast    bool
	hdop        float64
	lastQuality string

	parseLog    *rate.Limiter
	parseErrors int
}

// sample is a decoded position before it is tagged for a given watcher.
type sample struct {
	lat, lng  float64
	accuracy  float64
	at        time.Time
	satellite bool // true for GNSS quality, false for estimated (dead reckoning)
}

type watcher struct {
	id    WatchID
	opts  Options
	h     Handler
	once  bool
	timer clock.Timer
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.UERE <= 0 {
		cfg.UERE = DefaultUERE
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Receiver{
		open:     cfg.Open,
		uere:     cfg.UERE,
		sched:    cfg.Scheduler,
		log:      cfg.Logger,
		watchers: make(map[WatchID]*watcher),
		parseLog: rate.NewLimiter(rate.Every(parseLogEvery), 1),
	}
}

func (r *Receiver) RequestOnce(opts Options, h Handler) {
	r.register(opts, h, true)
}

func (r *Receiver) Watch(opts Options, h Handler) WatchID {
	return r.register(opts, h, false)
}

func (r *Receiver) ClearWatch(id WatchID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(id)
}

// Close releases the port. Pending requests are dropped without a callback.
func (r *Receiver) Close() error {
	r.mu.Lock()
	r.closed = true
	for id := range r.watchers {
		r.dropLocked(id)
	}
	port := r.port
	r.port = nil
	r.mu.Unlock()

	if port != nil {
		return port.Close()
	}
	return nil
}

func (r *Receiver) register(opts Options, h Handler, once bool) WatchID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	if r.closed {
		r.deferLocked(func() { h.err(ErrPositionUnavailable) })
		return id
	}
	if err := r.ensureOpenLocked(); err != nil {
		r.deferLocked(func() { h.err(err) })
		return id
	}

	if r.haveLast && r.fresh(r.last, opts) {
		f := r.tag(r.last, opts)
		r.deferLocked(func() { h.fix(f) })
		if once {
			return id
		}
	}

	w := &watcher{id: id, opts: opts, h: h, once: once}
	r.watchers[id] = w
	r.armLocked(w)
	return id
}

// deferLocked runs fn from the scheduler so callbacks never run inside the
// registering call.
func (r *Receiver) deferLocked(fn func()) {
	r.sched.AfterFunc(0, fn)
}

func (r *Receiver) armLocked(w *watcher) {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.opts.Timeout <= 0 {
		return
	}
	id := w.id
	w.timer = r.sched.AfterFunc(w.opts.Timeout, func() { r.timeout(id) })
}

func (r *Receiver) timeout(id WatchID) {
	r.mu.Lock()
	w, ok := r.watchers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	w.timer = nil
	if w.once {
		delete(r.watchers, id)
	} else {
		r.armLocked(w)
	}
	h := w.h
	r.mu.Unlock()

	h.err(ErrTimeout)
}

func (r *Receiver) dropLocked(id WatchID) {
	w, ok := r.watchers[id]
	if !ok {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	delete(r.watchers, id)
}

func (r *Receiver) ensureOpenLocked() error {
	if r.port != nil {
		return nil
	}
	if r.open == nil {
		return ErrPositionUnavailable
	}
	port, err := r.open()
	if err != nil {
		r.log.Warn("gps: open failed", zap.Error(err))
		if os.IsPermission(err) {
			return ErrPermissionDenied
		}
		return ErrPositionUnavailable
	}
	r.port = port
	go r.readLoop(port)
	return nil
}

func (r *Receiver) readLoop(port io.ReadCloser) {
	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			r.fail(port, err)
			return
		}
		r.HandleSentence(line)
	}
}

// fail tears down a dead port and reports ErrPositionUnavailable to every
// open request. The next request reopens the port.
func (r *Receiver) fail(port io.ReadCloser, err error) {
	r.mu.Lock()
	if r.port != port {
		// closed or replaced already
		r.mu.Unlock()
		return
	}
	r.port = nil
	var handlers []Handler
	for id, w := range r.watchers {
		handlers = append(handlers, w.h)
		r.dropLocked(id)
	}
	r.mu.Unlock()

	port.Close()
	if !errors.Is(err, io.EOF) {
		r.log.Warn("gps: read error", zap.Error(err))
	} else {
		r.log.Info("gps: stream closed")
	}
	for _, h := range handlers {
		h.err(ErrPositionUnavailable)
	}
}

// HandleSentence decodes one NMEA line and dispatches any resulting fix.
// Unparseable lines are ignored.
func (r *Receiver) HandleSentence(line string) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		// noisy GPS or partial sentences
		r.parseFailed(line, err)
		return
	}

	now := r.sched.Now()
	var s sample

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		r.mu.Lock()
		r.lastQuality = m.FixQuality
		if m.HDOP > 0 {
			r.hdop = m.HDOP
		}
		r.mu.Unlock()
		if m.FixQuality == nmea.Invalid {
			return
		}
		s = sample{
			lat:       m.Latitude,
			lng:       m.Longitude,
			accuracy:  r.accuracy(m.HDOP),
			at:        now,
			satellite: m.FixQuality != nmea.EST,
		}

	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC {
			return
		}
		r.mu.Lock()
		hdop, quality := r.hdop, r.lastQuality
		r.mu.Unlock()
		s = sample{
			lat:       m.Latitude,
			lng:       m.Longitude,
			accuracy:  r.accuracy(hdop),
			at:        now,
			satellite: quality != nmea.EST,
		}

	default:
		// ignore other sentence types (GSA, GSV, VTG, ...)
		return
	}

	r.dispatch(s)
}

// parseFailed logs at most one parse error per parseLogEvery, with the number
// of failures since the last line logged.
func (r *Receiver) parseFailed(line string, err error) {
	r.mu.Lock()
	r.parseErrors++
	n := r.parseErrors
	allow := r.parseLog.AllowN(r.sched.Now(), 1)
	if allow {
		r.parseErrors = 0
	}
	r.mu.Unlock()

	if allow {
		r.log.Warn("gps: nmea parse error", zap.String("line", line), zap.Int("failures", n), zap.Error(err))
	}
}

func (r *Receiver) accuracy(hdop float64) float64 {
	if hdop <= 0 {
		return rmcAccuracy
	}
	return hdop * r.uere
}

type delivery struct {
	h Handler
	f Fix
}

func (r *Receiver) dispatch(s sample) {
	r.mu.Lock()
	r.last = s
	r.haveLast = true

	ids := make([]WatchID, 0, len(r.watchers))
	for id := range r.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []delivery
	for _, id := range ids {
		w := r.watchers[id]
		if w.opts.EnableHighAccuracy && !s.satellite {
			continue
		}
		out = append(out, delivery{h: w.h, f: r.tag(s, w.opts)})
		if w.once {
			r.dropLocked(id)
		} else {
			r.armLocked(w)
		}
	}
	r.mu.Unlock()

	for _, d := range out {
		d.h.fix(d.f)
	}
}

func (r *Receiver) fresh(s sample, opts Options) bool {
	if opts.EnableHighAccuracy && !s.satellite {
		return false
	}
	return opts.MaxAge > 0 && r.sched.Now().Sub(s.at) <= opts.MaxAge
}

func (r *Receiver) tag(s sample, opts Options) Fix {
	mode := ModeStandard
	if opts.EnableHighAccuracy {
		mode = ModeHighAccuracy
	}
	return Fix{
		Lat:            s.lat,
		Lng:            s.lng,
		AccuracyMeters: s.accuracy,
		TimestampMs:    s.at.UnixMilli(),
		Mode:           mode,
	}
}
