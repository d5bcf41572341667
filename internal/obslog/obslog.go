// Package obslog provides the simulator's logging facade: a pair of
// logrus loggers (info/debug stream vs. error/fatal stream) formatted the
// same way regardless of which one a call site reaches for.
package obslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	trace *logrus.Logger
	fault *logrus.Logger
)

// Config controls where the two log streams go and how verbose they are.
type Config struct {
	InfoLogPath  string
	ErrorLogPath string
	Level        string // debug|info|warn|error|fatal|panic
}

// timestampFormatter renders one line per entry, tagging the call site that
// logged it so a reader can find the emitting component without a stack
// trace.
type timestampFormatter struct{}

func (timestampFormatter) Format(e *logrus.Entry) ([]byte, error) {
	ts := e.Time.Format("15:04:05.000 2006/01/02")
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s\n", ts, level, caller(), e.Message)), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "obslog.go") {
			continue
		}
		fn := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), fn, line)
	}
	return "unknown:unknown:0"
}

func parseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Init wires the two loggers. Safe to call more than once (e.g. once per
// Simulator in a batch driver); later calls replace the package-level
// loggers used by the free functions below.
func Init(cfg Config) error {
	lvl := parseLevel(cfg.Level)

	trace = logrus.New()
	trace.SetFormatter(timestampFormatter{})
	trace.SetLevel(lvl)
	if cfg.InfoLogPath != "" {
		f, err := openAppend(cfg.InfoLogPath)
		if err != nil {
			trace.SetOutput(os.Stdout)
			trace.Warnf("falling back to stdout, could not open %s: %v", cfg.InfoLogPath, err)
		} else {
			trace.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	} else {
		trace.SetOutput(os.Stdout)
	}

	fault = logrus.New()
	fault.SetFormatter(timestampFormatter{})
	fault.SetLevel(lvl)
	if cfg.ErrorLogPath != "" {
		f, err := openAppend(cfg.ErrorLogPath)
		if err != nil {
			fault.SetOutput(os.Stderr)
			fault.Warnf("falling back to stderr, could not open %s: %v", cfg.ErrorLogPath, err)
		} else {
			fault.SetOutput(io.MultiWriter(os.Stderr, f))
		}
	} else {
		fault.SetOutput(os.Stderr)
	}
	return nil
}

func ensureInit() {
	if trace == nil || fault == nil {
		_ = Init(Config{Level: "info"})
	}
}

func Debugf(format string, args ...interface{}) { ensureInit(); trace.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { ensureInit(); trace.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { ensureInit(); fault.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { ensureInit(); fault.Errorf(format, args...) }

// Fatalf logs at error level and then panics; callers that need the
// process to exit with status 1 instead should catch the panic at the
// entry point (see cmd/ssdsim), matching §7's "fatal at startup" /
// "fatal per-request abort" propagation policy.
func Fatalf(format string, args ...interface{}) {
	ensureInit()
	fault.Errorf(format, args...)
	panic(fmt.Sprintf(format, args...))
}
