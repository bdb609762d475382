// Package config loads the sensorybox runtime configuration.
//
// Values come from a JSON file whose fields are all optional, then from
// SENSORYBOX_* environment variables. Unset fields fall back to the defaults
// returned by the Get* accessors, so partial files are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/banshee-data/sensorybox/internal/geom"
	"github.com/banshee-data/sensorybox/internal/serialmux"
	"github.com/banshee-data/sensorybox/internal/tracking"
	"github.com/banshee-data/sensorybox/internal/zones"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/sensorybox.defaults.json"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SENSORYBOX_"

const maxFileSize = 1 << 20

const (
	SourceLeap   = "leap"
	SourceReplay = "replay"
)

const (
	DefaultSerialPort     = "/dev/ttyACM0"
	DefaultWriteTimeout   = serialmux.DefaultWriteTimeout
	DefaultTrackedHand    = "right"
	DefaultSource         = SourceLeap
	DefaultLeapURL        = "ws://127.0.0.1:6437/v6.json"
	DefaultReplayInterval = 20 * time.Millisecond
	DefaultListen         = "localhost:8080"
)

// ZoneConfig is one zone entry in the config file. A zero HalfWidth takes the
// file-level half_width.
type ZoneConfig struct {
	Code      string  `json:"code" validate:"required,len=1,printascii,ne=C"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	HalfWidth float64 `json:"half_width,omitempty" validate:"gte=0"`
}

// Config is the root configuration. Every field is optional.
type Config struct {
	// Actuator serial link
	SerialPort      *string `json:"serial_port,omitempty" env:"SERIAL_PORT"`
	BaudRate        *int    `json:"baud_rate,omitempty" env:"BAUD_RATE" validate:"omitempty,gt=0"`
	DataBits        *int    `json:"data_bits,omitempty" env:"DATA_BITS" validate:"omitempty,min=5,max=8"`
	StopBits        *int    `json:"stop_bits,omitempty" env:"STOP_BITS" validate:"omitempty,oneof=1 2"`
	Parity          *string `json:"parity,omitempty" env:"PARITY" validate:"omitempty,oneof=N E O"`
	WriteTimeout    *string `json:"write_timeout,omitempty" env:"WRITE_TIMEOUT" validate:"omitempty,positive_duration"` // like "500ms"
	DisableActuator *bool   `json:"disable_actuator,omitempty" env:"DISABLE_ACTUATOR"`

	// Mapping
	TrackedHand *string      `json:"tracked_hand,omitempty" env:"TRACKED_HAND" validate:"omitempty,oneof=left right"`
	HalfWidth   *float64     `json:"half_width,omitempty" env:"HALF_WIDTH" validate:"omitempty,gt=0"`
	Zones       []ZoneConfig `json:"zones,omitempty" validate:"omitempty,dive"`

	// Frame source
	Source         *string `json:"source,omitempty" env:"SOURCE" validate:"omitempty,oneof=leap replay"`
	LeapURL        *string `json:"leap_url,omitempty" env:"LEAP_URL" validate:"omitempty,url"`
	ReplayFile     *string `json:"replay_file,omitempty" env:"REPLAY_FILE"`
	ReplayInterval *string `json:"replay_interval,omitempty" env:"REPLAY_INTERVAL" validate:"omitempty,duration"`
	ReplayLoop     *bool   `json:"replay_loop,omitempty" env:"REPLAY_LOOP"`

	// Debug surfaces
	Listen     *string `json:"listen,omitempty" env:"LISTEN"`
	GRPCListen *string `json:"grpc_listen,omitempty" env:"GRPC_LISTEN"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// report json names in messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(fl.Field().String())
			return err == nil && d >= 0
		})
		_ = v.RegisterValidation("positive_duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(fl.Field().String())
			return err == nil && d > 0
		})
		validate = v
	})
	return validate
}

// DefaultConfig returns a Config with every field populated with its default.
func DefaultConfig() *Config {
	zs := zones.DefaultZones()
	zcs := make([]ZoneConfig, len(zs))
	for i, z := range zs {
		zcs[i] = ZoneConfig{Code: string(z.Code), X: z.Anchor.X, Y: z.Anchor.Y, Z: z.Anchor.Z}
	}
	return &Config{
		SerialPort:      ptrString(DefaultSerialPort),
		BaudRate:        ptrInt(serialmux.DefaultBaudRate),
		DataBits:        ptrInt(8),
		StopBits:        ptrInt(1),
		Parity:          ptrString("N"),
		WriteTimeout:    ptrString(DefaultWriteTimeout.String()),
		DisableActuator: ptrBool(false),
		TrackedHand:     ptrString(DefaultTrackedHand),
		HalfWidth:       ptrFloat64(zones.DefaultHalfWidth),
		Zones:           zcs,
		Source:          ptrString(DefaultSource),
		LeapURL:         ptrString(DefaultLeapURL),
		ReplayFile:      ptrString(""),
		ReplayInterval:  ptrString(DefaultReplayInterval.String()),
		ReplayLoop:      ptrBool(false),
		Listen:          ptrString(DefaultListen),
		GRPCListen:      ptrString(""),
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads a Config from a JSON file without applying the environment.
// Unknown fields are rejected so typos do not silently fall back to defaults.
func LoadFile(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFile(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// ApplyEnv overrides fields from SENSORYBOX_* variables.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks field formats and that the zones build a valid table.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return err
	}
	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}
	if _, err := c.Table(); err != nil {
		return err
	}
	if c.GetSource() == SourceReplay && c.GetReplayFile() == "" {
		return fmt.Errorf("source %q requires replay_file", SourceReplay)
	}
	return nil
}

// Table builds the zone table. A config without zones gets the default four
// element boxes, sized by half_width.
func (c *Config) Table() (*zones.Table, error) {
	hw := c.GetHalfWidth()
	if len(c.Zones) == 0 {
		zs := zones.DefaultZones()
		for i := range zs {
			zs[i].HalfWidth = hw
		}
		return zones.NewTable(zs)
	}
	zs := make([]zones.Zone, 0, len(c.Zones))
	for i, zc := range c.Zones {
		if len(zc.Code) != 1 {
			return nil, fmt.Errorf("%w: zones[%d] code %q must be a single character", zones.ErrInvalidZone, i, zc.Code)
		}
		z := zones.Zone{Code: zc.Code[0], Anchor: geom.Pt(zc.X, zc.Y, zc.Z), HalfWidth: zc.HalfWidth}
		if z.HalfWidth == 0 {
			z.HalfWidth = hw
		}
		zs = append(zs, z)
	}
	return zones.NewTable(zs)
}

// PortOptions returns the serial settings for the actuator port.
func (c *Config) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: c.GetBaudRate(),
		DataBits: c.GetDataBits(),
		StopBits: c.GetStopBits(),
		Parity:   c.GetParity(),
	}
}

func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return serialmux.DefaultBaudRate
	}
	return *c.BaudRate
}

func (c *Config) GetDataBits() int {
	if c.DataBits == nil {
		return 8
	}
	return *c.DataBits
}

func (c *Config) GetStopBits() int {
	if c.StopBits == nil {
		return 1
	}
	return *c.StopBits
}

func (c *Config) GetParity() string {
	if c.Parity == nil {
		return "N"
	}
	return *c.Parity
}

// GetWriteTimeout parses write_timeout, falling back to the default on a
// missing, malformed or non-positive value. Actuator writes are never
// unbounded.
func (c *Config) GetWriteTimeout() time.Duration {
	d := parseDurationOr(c.WriteTimeout, DefaultWriteTimeout)
	if d <= 0 {
		return DefaultWriteTimeout
	}
	return d
}

func (c *Config) GetDisableActuator() bool {
	return c.DisableActuator != nil && *c.DisableActuator
}

// GetTrackedSide returns the hand that drives the actuators.
func (c *Config) GetTrackedSide() tracking.Side {
	name := DefaultTrackedHand
	if c.TrackedHand != nil && *c.TrackedHand != "" {
		name = *c.TrackedHand
	}
	side, err := tracking.ParseSide(name)
	if err != nil {
		return tracking.Right
	}
	return side
}

func (c *Config) GetHalfWidth() float64 {
	if c.HalfWidth == nil || *c.HalfWidth <= 0 {
		return zones.DefaultHalfWidth
	}
	return *c.HalfWidth
}

func (c *Config) GetSource() string {
	if c.Source == nil || *c.Source == "" {
		return DefaultSource
	}
	return *c.Source
}

func (c *Config) GetLeapURL() string {
	if c.LeapURL == nil || *c.LeapURL == "" {
		return DefaultLeapURL
	}
	return *c.LeapURL
}

func (c *Config) GetReplayFile() string {
	if c.ReplayFile == nil {
		return ""
	}
	return *c.ReplayFile
}

func (c *Config) GetReplayInterval() time.Duration {
	return parseDurationOr(c.ReplayInterval, DefaultReplayInterval)
}

func (c *Config) GetReplayLoop() bool {
	return c.ReplayLoop != nil && *c.ReplayLoop
}

func (c *Config) GetListen() string {
	if c.Listen == nil {
		return DefaultListen
	}
	return *c.Listen
}

// GetGRPCListen returns the health service address; empty disables it.
func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
