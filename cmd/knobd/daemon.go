//go:build linux

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	rotary "github.com/jangala-dev/rotary-go"
	"github.com/jangala-dev/rotary-go/x/mathx"
)

// knobEvent crosses from the encoder callbacks into the daemon loop.
type knobEvent struct {
	turn    bool
	dir     rotary.Direction
	pressed bool
}

// turnData is the JSON `data` payload for "turn" events.
type turnData struct {
	Direction string `json:"direction"`
	Position  int64  `json:"position"`
	Step      int    `json:"step"`
	Volume    int    `json:"volume"`
}

// buttonData is the JSON `data` payload for "button" events. A press
// toggles mute; the release reports the unchanged state.
type buttonData struct {
	Pressed bool `json:"pressed"`
	Muted   bool `json:"muted"`
}

// stateData is the JSON `data` payload for "state_init" on connect.
type stateData struct {
	Volume   int   `json:"volume"`
	Muted    bool  `json:"muted"`
	Position int64 `json:"position"`
}

// daemon owns the knob-driven volume model. Events flow from encoder
// callbacks through the events channel into run, which is the only
// goroutine that emits frames.
type daemon struct {
	cfg Config
	log *slog.Logger
	hub *Hub      // nil in -print mode
	out io.Writer // nil unless -print mode

	enc    *rotary.Encoder
	scaler *rotary.StepScaler
	events chan knobEvent

	mu     sync.Mutex
	volume int
	muted  bool
}

func newDaemon(cfg Config, log *slog.Logger) *daemon {
	return &daemon{
		cfg:    cfg,
		log:    log,
		scaler: rotary.NewStepScaler(cfg.Volume.Step, cfg.Volume.MaxStep, time.Duration(cfg.Volume.WindowMS)*time.Millisecond),
		events: make(chan knobEvent, 64),
		volume: cfg.Volume.Initial,
	}
}

// handlers feed the daemon loop. They run on the encoder's dispatcher
// and must not block it, so a full queue drops the event.
func (d *daemon) handlers() rotary.Handlers {
	return rotary.Handlers{
		OnClockwise:        func() { d.push(knobEvent{turn: true, dir: rotary.Clockwise}) },
		OnCounterClockwise: func() { d.push(knobEvent{turn: true, dir: rotary.CounterClockwise}) },
		OnButtonDown:       func() { d.push(knobEvent{pressed: true}) },
		OnButtonUp:         func() { d.push(knobEvent{pressed: false}) },
	}
}

func (d *daemon) push(ev knobEvent) {
	select {
	case d.events <- ev:
	default:
		d.log.Warn("event queue full, dropping", "turn", ev.turn)
	}
}

// run consumes knob events until ctx is canceled.
func (d *daemon) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.events:
			if ev.turn {
				d.handleTurn(ev.dir)
			} else {
				d.handleButton(ev.pressed)
			}
		}
	}
}

func (d *daemon) handleTurn(dir rotary.Direction) {
	step := d.scaler.Step(dir)

	d.mu.Lock()
	d.volume = mathx.Clamp(d.volume+dir.Step()*step, d.cfg.Volume.Min, d.cfg.Volume.Max)
	vol := d.volume
	d.mu.Unlock()

	d.emit("turn", turnData{
		Direction: dir.String(),
		Position:  d.position(),
		Step:      step,
		Volume:    vol,
	})
}

func (d *daemon) handleButton(pressed bool) {
	d.mu.Lock()
	if pressed {
		d.muted = !d.muted
	}
	muted := d.muted
	d.mu.Unlock()

	d.emit("button", buttonData{Pressed: pressed, Muted: muted})
}

// snapshot is handed to the WS server for state_init frames; it may be
// called from HTTP handler goroutines.
func (d *daemon) snapshot() stateData {
	d.mu.Lock()
	defer d.mu.Unlock()
	return stateData{Volume: d.volume, Muted: d.muted, Position: d.position()}
}

func (d *daemon) position() int64 {
	if d.enc == nil {
		return 0
	}
	return d.enc.Position()
}

func (d *daemon) emit(typ string, data any) {
	now := time.Now().UTC()
	b, err := json.Marshal(envelope{Type: typ, Ts: &now, Data: data})
	if err != nil {
		d.log.Warn("event marshal failed", "type", typ, "error", err)
		return
	}
	if d.hub != nil {
		d.hub.BroadcastBytes(b)
	}
	if d.out != nil {
		fmt.Fprintln(d.out, string(b))
	}
}
