package monitoring

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Now set to nil and verify it doesn't call our logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}

func TestUseZap(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	UseZap(newLogger(&buf, zap.NewAtomicLevelAt(zapcore.InfoLevel)))
	Logf("wrote %s", "FATWC")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "wrote FATWC" {
		t.Errorf("msg = %v, want %q", entry["msg"], "wrote FATWC")
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}

	UseZap(nil)
	buf.Reset()
	Logf("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected no output after UseZap(nil), got %q", buf.String())
	}
}

func TestNewLogger_Levels(t *testing.T) {
	l, err := NewLogger(LogOptions{})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be disabled by default")
	}

	l, err = NewLogger(LogOptions{Verbose: true})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled when verbose")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorybox.log")
	l := MustLogger(LogOptions{File: path})
	l.Info("frame processed", zap.String("command", "CCCCC"))
	if err := l.Sync(); err != nil {
		t.Logf("sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"command":"CCCCC"`) {
		t.Errorf("log file missing field, got %q", data)
	}
}
