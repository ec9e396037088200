//go:build linux

package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	rotary "github.com/jangala-dev/rotary-go"
	"github.com/jangala-dev/rotary-go/gpio"
)

// Config is the top-level YAML configuration for knobd.
//
// The config file is the primary configuration surface; flags exist for
// small overrides and for environments where a file is awkward. Defaults
// and validation live here so the rest of the code can assume a
// well-formed config.
type Config struct {
	// Encoder wiring and decode behaviour
	Encoder EncoderConfig `yaml:"encoder"`

	// Volume model driven by the knob
	Volume VolumeConfig `yaml:"volume"`

	// WebSocket event server
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type EncoderConfig struct {
	// BCM pin numbers as exposed by the sysfs GPIO tree.
	CLKPin    int `yaml:"clk_pin"`
	DTPin     int `yaml:"dt_pin"`
	ButtonPin int `yaml:"button_pin,omitempty"` // 0 disables the button

	// Pull bias: "none", "up" or "down". Stock KY-040 boards carry
	// onboard pull-ups; bare encoders usually want "down".
	Pull       string `yaml:"pull"`
	ButtonPull string `yaml:"button_pull,omitempty"`

	// ButtonInvert treats a low level as pressed (switch to ground).
	ButtonInvert bool `yaml:"button_invert,omitempty"`

	DebounceMS int `yaml:"debounce_ms"`

	// Reverse swaps clockwise and counter-clockwise for mirrored wiring.
	Reverse bool `yaml:"reverse,omitempty"`

	// Dispatch mode for encoder callbacks: inline, goroutine, worker
	// or shared.
	Dispatch string `yaml:"dispatch"`
}

type VolumeConfig struct {
	Min     int `yaml:"min"`
	Max     int `yaml:"max"`
	Initial int `yaml:"initial"`

	// Step is the per-detent increment for slow turns; fast spins ramp
	// toward MaxStep inside the velocity window.
	Step     int `yaml:"step"`
	MaxStep  int `yaml:"max_step"`
	WindowMS int `yaml:"window_ms"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults. Pins
// follow the classic Raspberry Pi KY-040 wiring (CLK 17, DT 27, SW 22).
func DefaultConfig() Config {
	return Config{
		Encoder: EncoderConfig{
			CLKPin:       17,
			DTPin:        27,
			ButtonPin:    22,
			Pull:         "up",
			ButtonPull:   "up",
			ButtonInvert: true,
			DebounceMS:   50,
			Dispatch:     "worker",
		},
		Volume: VolumeConfig{
			Min:      0,
			Max:      100,
			Initial:  50,
			Step:     1,
			MaxStep:  8,
			WindowMS: 250,
		},
		Server: ServerConfig{
			Addr: ":8090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the
// defaults. Unknown fields are rejected (helps catch typos) via
// KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
// Each override is applied only when its pointer is non-nil; main.go
// decides which flags exist and fills the pointers for flags actually
// set on the command line.
type FlagOverrides struct {
	CLKPin    *int
	DTPin     *int
	ButtonPin *int
	Dispatch  *string
	Listen    *string
	LogLevel  *string
}

// Apply merges the overrides into cfg. Nil pointers are ignored.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.CLKPin != nil {
		cfg.Encoder.CLKPin = *o.CLKPin
	}
	if o.DTPin != nil {
		cfg.Encoder.DTPin = *o.DTPin
	}
	if o.ButtonPin != nil {
		cfg.Encoder.ButtonPin = *o.ButtonPin
	}
	if o.Dispatch != nil {
		cfg.Encoder.Dispatch = *o.Dispatch
	}
	if o.Listen != nil {
		cfg.Server.Addr = *o.Listen
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if c.Encoder.CLKPin < 0 || c.Encoder.DTPin < 0 {
		return errors.New("encoder.clk_pin and encoder.dt_pin must be >= 0")
	}
	if c.Encoder.CLKPin == c.Encoder.DTPin {
		return errors.New("encoder.clk_pin and encoder.dt_pin must differ")
	}
	if c.Encoder.ButtonPin < 0 {
		return errors.New("encoder.button_pin must be >= 0 (0 disables the button)")
	}
	if c.Encoder.ButtonPin != 0 &&
		(c.Encoder.ButtonPin == c.Encoder.CLKPin || c.Encoder.ButtonPin == c.Encoder.DTPin) {
		return errors.New("encoder.button_pin must not collide with the phase pins")
	}
	if _, err := parsePull(c.Encoder.Pull); err != nil {
		return fmt.Errorf("encoder.pull: %w", err)
	}
	if _, err := parsePull(c.Encoder.ButtonPull); err != nil {
		return fmt.Errorf("encoder.button_pull: %w", err)
	}
	if c.Encoder.DebounceMS < 0 {
		return errors.New("encoder.debounce_ms must be >= 0")
	}
	if _, err := rotary.ParseDispatchMode(c.Encoder.Dispatch); err != nil {
		return fmt.Errorf("encoder.dispatch: %w", err)
	}

	if c.Volume.Min >= c.Volume.Max {
		return errors.New("volume.min must be < volume.max")
	}
	if c.Volume.Initial < c.Volume.Min || c.Volume.Initial > c.Volume.Max {
		return errors.New("volume.initial must be within [volume.min, volume.max]")
	}
	if c.Volume.Step < 1 {
		return errors.New("volume.step must be >= 1")
	}
	if c.Volume.MaxStep < c.Volume.Step {
		return errors.New("volume.max_step must be >= volume.step")
	}
	if c.Volume.WindowMS <= 0 {
		return errors.New("volume.window_ms must be > 0")
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ToRotaryConfig maps the file config onto the encoder library config.
func (c *Config) ToRotaryConfig(log *slog.Logger) (rotary.Config, error) {
	phasePull, err := parsePull(c.Encoder.Pull)
	if err != nil {
		return rotary.Config{}, fmt.Errorf("encoder.pull: %w", err)
	}
	buttonPull, err := parsePull(c.Encoder.ButtonPull)
	if err != nil {
		return rotary.Config{}, fmt.Errorf("encoder.button_pull: %w", err)
	}
	mode, err := rotary.ParseDispatchMode(c.Encoder.Dispatch)
	if err != nil {
		return rotary.Config{}, fmt.Errorf("encoder.dispatch: %w", err)
	}
	return rotary.Config{
		CLK:              c.Encoder.CLKPin,
		DT:               c.Encoder.DTPin,
		Button:           c.Encoder.ButtonPin,
		PhasePull:        phasePull,
		ButtonPull:       buttonPull,
		ButtonInvert:     c.Encoder.ButtonInvert,
		ButtonDebounce:   time.Duration(c.Encoder.DebounceMS) * time.Millisecond,
		ReverseDirection: c.Encoder.Reverse,
		Dispatch:         mode,
		Logger:           log,
	}, nil
}

func parsePull(s string) (gpio.Pull, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return gpio.PullNone, nil
	case "up":
		return gpio.PullUp, nil
	case "down":
		return gpio.PullDown, nil
	default:
		return 0, fmt.Errorf("invalid pull %q (must be none, up, or down)", s)
	}
}
