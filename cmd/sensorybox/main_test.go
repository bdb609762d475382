package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/banshee-data/sensorybox/internal/config"
	"github.com/banshee-data/sensorybox/internal/geom"
	"github.com/banshee-data/sensorybox/internal/tracking"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sensorybox "))
}

func TestZonesCmd(t *testing.T) {
	out, err := execute(t, "zones")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "CODE")
	assert.Contains(t, lines[1], "F")
	assert.Contains(t, lines[1], "(-150.0, 150.0, 0.0)")
	assert.Contains(t, lines[4], "W")
}

func TestZonesCmd_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"zones": [{"code": "X", "x": 1, "y": 2, "z": 3, "half_width": 5}]}`), 0o644))

	out, err := execute(t, "--config", path, "zones")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "X")
}

func TestResolveCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"water anchor", []string{"resolve", "150", "300", "0"}, "W inside"},
		{"fire with negative x", []string{"resolve", "--", "-150", "150", "0"}, "F inside"},
		{"on boundary", []string{"resolve", "200", "300", "0"}, "C no zone (nearest W, 50.0 mm from anchor)"},
		{"far away", []string{"resolve", "0", "0", "500"}, "C no zone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestResolveCmd_BadArgs(t *testing.T) {
	_, err := execute(t, "resolve", "1", "2")
	assert.Error(t, err)

	_, err = execute(t, "resolve", "1", "two", "3")
	assert.ErrorContains(t, err, `coordinate "two"`)
}

func TestSendCmd_DisabledActuator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"disable_actuator": true}`), 0o644))

	out, err := execute(t, "--config", path, "send", "FATWC", "--hold", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote FATWC")
}

func TestSendCmd_InvalidCommand(t *testing.T) {
	_, err := execute(t, "send", "FAT")
	assert.ErrorContains(t, err, "invalid command")

	_, err = execute(t, "send", "FA WC")
	assert.ErrorContains(t, err, "not printable")
}

func TestRunCmd_InvalidFlag(t *testing.T) {
	_, err := execute(t, "run", "--tracked-hand", "both", "--disable-actuator")
	assert.ErrorContains(t, err, "tracked_hand")
}

func TestRunFlags_ReplayFileImpliesReplaySource(t *testing.T) {
	f := &runFlags{}
	cmd := &cobra.Command{Use: "run"}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--replay-file", "frames.jsonl", "--tracked-hand", "left"}))

	cfg := &config.Config{}
	require.NoError(t, f.apply(cmd, cfg))
	assert.Equal(t, config.SourceReplay, cfg.GetSource())
	assert.Equal(t, "frames.jsonl", cfg.GetReplayFile())
	assert.Equal(t, tracking.Left, cfg.GetTrackedSide())
	assert.Equal(t, config.DefaultSerialPort, cfg.GetSerialPort(), "unset flags leave the config alone")
}

func fingerAt(slot tracking.FingerSlot, p geom.Point3) tracking.Finger {
	return tracking.Finger{Slot: slot, Bones: tracking.ChainFromJoints(p, p, p, p, p)}
}

func writeRecording(t *testing.T, frames []tracking.Frame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.jsonl")
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, f := range frames {
		require.NoError(t, enc.Encode(f))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestRunService_ReplayWithDisabledActuator(t *testing.T) {
	defer goleak.VerifyNone(t)

	away := geom.Pt(0, 0, 500)
	right := tracking.Hand{ID: 1, Side: tracking.Right, Fingers: []tracking.Finger{
		fingerAt(tracking.Thumb, geom.Pt(-150, 150, 0)),
		fingerAt(tracking.Index, away),
	}}
	left := tracking.Hand{ID: 2, Side: tracking.Left, Fingers: []tracking.Finger{fingerAt(tracking.Thumb, away)}}
	path := writeRecording(t, []tracking.Frame{
		{ID: 1, Hands: []tracking.Hand{right}},
		{ID: 2, Hands: []tracking.Hand{left}},
		{ID: 3},
	})

	empty, interval, yes, src := "", "1ms", true, config.SourceReplay
	cfg := &config.Config{
		Source:          &src,
		ReplayFile:      &path,
		ReplayInterval:  &interval,
		DisableActuator: &yes,
		Listen:          &empty,
	}
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := runService(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, int64(3), snap.Frames)
	assert.Equal(t, int64(1), snap.Buffers)
	assert.Equal(t, int64(1), snap.Nones)
	assert.Equal(t, int64(1), snap.Idles)
	assert.Equal(t, int64(2), snap.Writes)
	assert.Equal(t, "CCCCC", snap.LastCommand)
	assert.Equal(t, map[string]int64{"F": 1}, snap.ZoneHits)
}

func TestRunService_MissingReplayFile(t *testing.T) {
	path, yes, src, empty := filepath.Join(t.TempDir(), "missing.jsonl"), true, config.SourceReplay, ""
	cfg := &config.Config{Source: &src, ReplayFile: &path, DisableActuator: &yes, Listen: &empty}

	_, err := runService(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "open frame source")
}

func TestRunService_MissingSerialPort(t *testing.T) {
	path := writeRecording(t, []tracking.Frame{{ID: 1}})
	port, src, empty := "/dev/does-not-exist-sensorybox", config.SourceReplay, ""
	cfg := &config.Config{Source: &src, ReplayFile: &path, SerialPort: &port, Listen: &empty}

	_, err := runService(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "open actuator link")
}
