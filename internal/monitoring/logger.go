// Package monitoring owns process logging. Packages that log printf-style call
// Logf; the CLI points Logf at the zap logger built by NewLogger.
package monitoring

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger. It defaults to a zap
// development logger but may be replaced by SetLogger or UseZap. Tests or
// production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = zap.NewExample().Sugar().Infof

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// UseZap routes Logf through l at info level.
func UseZap(l *zap.Logger) {
	if l == nil {
		SetLogger(nil)
		return
	}
	SetLogger(l.WithOptions(zap.AddCallerSkip(1)).Sugar().Infof)
}

// LogOptions selects where and how verbosely the process logs.
type LogOptions struct {
	// Verbose enables debug level.
	Verbose bool
	// File, when set, receives JSON logs rotated by size instead of stderr.
	File string
	// MaxSizeMB is the rotation threshold for File (default 10).
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept (default 5).
	MaxBackups int
}

// NewLogger builds the process logger: zap's production JSON encoder, written
// to stderr or to a lumberjack-rotated file.
func NewLogger(opts LogOptions) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	var sink io.Writer = os.Stderr
	if opts.File != "" {
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 10
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 5
		}
		sink = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
	}
	return newLogger(sink, level), nil
}

func newLogger(w io.Writer, level zap.AtomicLevel) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller())
}

// MustLogger is NewLogger for callers that cannot continue without logging.
func MustLogger(opts LogOptions) *zap.Logger {
	l, err := NewLogger(opts)
	if err != nil {
		panic(fmt.Sprintf("build logger: %v", err))
	}
	return l
}
