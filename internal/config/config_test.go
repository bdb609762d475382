package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorybox/internal/geom"
	"github.com/banshee-data/sensorybox/internal/serialmux"
	"github.com/banshee-data/sensorybox/internal/tracking"
	"github.com/banshee-data/sensorybox/internal/zones"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensorybox.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfig_Getters(t *testing.T) {
	cfg := &Config{}

	assert.Equal(t, DefaultSerialPort, cfg.GetSerialPort())
	assert.Equal(t, 500*time.Millisecond, cfg.GetWriteTimeout())
	assert.Equal(t, tracking.Right, cfg.GetTrackedSide())
	assert.Equal(t, zones.DefaultHalfWidth, cfg.GetHalfWidth())
	assert.Equal(t, SourceLeap, cfg.GetSource())
	assert.Equal(t, DefaultLeapURL, cfg.GetLeapURL())
	assert.Equal(t, DefaultReplayInterval, cfg.GetReplayInterval())
	assert.False(t, cfg.GetReplayLoop())
	assert.False(t, cfg.GetDisableActuator())
	assert.Equal(t, DefaultListen, cfg.GetListen())
	assert.Empty(t, cfg.GetGRPCListen())
	assert.Equal(t, "38400 8N1", cfg.PortOptions().String())
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfig_MatchesDefaultsFile(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultConfig(), fromFile); diff != "" {
		t.Errorf("defaults file differs from DefaultConfig() (-want +got):\n%s", diff)
	}
	require.NoError(t, fromFile.Validate())
}

func TestDefaultConfig_TableMatchesDefaultTable(t *testing.T) {
	table, err := DefaultConfig().Table()
	require.NoError(t, err)
	assert.Equal(t, zones.DefaultTable().Zones(), table.Zones())
}

func TestLoad_PartialFile(t *testing.T) {
	path := writeConfig(t, `{
  "tracked_hand": "left",
  "write_timeout": "250ms",
  "half_width": 40,
  "zones": [
    {"code": "F", "x": 0, "y": 200, "z": 0},
    {"code": "W", "x": 100, "y": 200, "z": 0, "half_width": 25}
  ]
}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, tracking.Left, cfg.GetTrackedSide())
	assert.Equal(t, 250*time.Millisecond, cfg.GetWriteTimeout())
	assert.Equal(t, DefaultSerialPort, cfg.GetSerialPort(), "unset fields keep defaults")

	table, err := cfg.Table()
	require.NoError(t, err)
	want := []zones.Zone{
		{Code: 'F', Anchor: geom.Pt(0, 200, 0), HalfWidth: 40},
		{Code: 'W', Anchor: geom.Pt(100, 200, 0), HalfWidth: 25},
	}
	assert.Equal(t, want, table.Zones())
}

func TestLoad_NoZonesUsesDefaultsWithHalfWidth(t *testing.T) {
	path := writeConfig(t, `{"half_width": 10}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	table, err := cfg.Table()
	require.NoError(t, err)
	require.Equal(t, 4, table.Len())
	for _, z := range table.Zones() {
		assert.Equal(t, 10.0, z.HalfWidth)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"serial_port": "/dev/ttyUSB0", "tracked_hand": "left"}`)
	t.Setenv("SENSORYBOX_SERIAL_PORT", "/dev/ttyS3")
	t.Setenv("SENSORYBOX_BAUD_RATE", "115200")
	t.Setenv("SENSORYBOX_DISABLE_ACTUATOR", "true")
	t.Setenv("SENSORYBOX_WRITE_TIMEOUT", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS3", cfg.GetSerialPort())
	assert.Equal(t, 115200, cfg.GetBaudRate())
	assert.True(t, cfg.GetDisableActuator())
	assert.Equal(t, time.Second, cfg.GetWriteTimeout())
	assert.Equal(t, tracking.Left, cfg.GetTrackedSide(), "fields without an env var keep the file value")
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("SENSORYBOX_SOURCE", "replay")
	t.Setenv("SENSORYBOX_REPLAY_FILE", "testdata/frames.jsonl")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, SourceReplay, cfg.GetSource())
	assert.Equal(t, "testdata/frames.jsonl", cfg.GetReplayFile())
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("SENSORYBOX_BAUD_RATE", "fast")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestLoadFile_Errors(t *testing.T) {
	t.Run("wrong extension", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
		assert.ErrorContains(t, err, ".json extension")
	})
	t.Run("missing", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
		assert.ErrorContains(t, err, "failed to stat")
	})
	t.Run("malformed", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, `{"serial_port": `))
		assert.ErrorContains(t, err, "failed to parse")
	})
	t.Run("unknown field", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, `{"serial_prot": "/dev/ttyACM0"}`))
		assert.ErrorContains(t, err, "serial_prot")
	})
	t.Run("too large", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.json")
		require.NoError(t, os.WriteFile(path, make([]byte, maxFileSize+1), 0o644))
		_, err := LoadFile(path)
		assert.ErrorContains(t, err, "too large")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad tracked hand", `{"tracked_hand": "both"}`, "tracked_hand"},
		{"bad parity", `{"parity": "X"}`, "parity"},
		{"bad data bits", `{"data_bits": 9}`, "data_bits"},
		{"bad stop bits", `{"stop_bits": 3}`, "stop_bits"},
		{"bad write timeout", `{"write_timeout": "soon"}`, "write_timeout"},
		{"negative write timeout", `{"write_timeout": "-1s"}`, "write_timeout"},
		{"zero write timeout", `{"write_timeout": "0s"}`, "write_timeout"},
		{"bad source", `{"source": "camera"}`, "source"},
		{"bad leap url", `{"leap_url": "not a url"}`, "leap_url"},
		{"zero half width", `{"half_width": 0}`, "half_width"},
		{"unsupported baud", `{"baud_rate": 12345}`, "unsupported baud rate"},
		{"idle zone code", `{"zones": [{"code": "C", "x": 0, "y": 0, "z": 0}]}`, "code"},
		{"multi-char zone code", `{"zones": [{"code": "FA", "x": 0, "y": 0, "z": 0}]}`, "code"},
		{"empty zone code", `{"zones": [{"code": "", "x": 0, "y": 0, "z": 0}]}`, "code"},
		{"negative zone half width", `{"zones": [{"code": "F", "x": 0, "y": 0, "z": 0, "half_width": -1}]}`, "half_width"},
		{"replay without file", `{"source": "replay"}`, "requires replay_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPortOptions(t *testing.T) {
	cfg := &Config{BaudRate: ptrInt(9600), StopBits: ptrInt(2), Parity: ptrString("E")}
	want := serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 2, Parity: "E"}
	assert.Equal(t, want, cfg.PortOptions())
	assert.Equal(t, "9600 8E2", cfg.PortOptions().String())
}

func TestGetters_MalformedDurationsFallBack(t *testing.T) {
	cfg := &Config{WriteTimeout: ptrString("later"), ReplayInterval: ptrString("")}
	assert.Equal(t, DefaultWriteTimeout, cfg.GetWriteTimeout())
	assert.Equal(t, DefaultReplayInterval, cfg.GetReplayInterval())
}

func TestGetWriteTimeout_NonPositiveFallsBack(t *testing.T) {
	for _, v := range []string{"0s", "-250ms"} {
		cfg := &Config{WriteTimeout: ptrString(v)}
		assert.Equal(t, DefaultWriteTimeout, cfg.GetWriteTimeout(), v)
	}
}
