package onramp

import (
	"os"

	"go.uber.org/zap"
)

var log = zap.NewNop()

// setup logger for package, noop by default
func init() {
	if os.Getenv("DEBUG") != "" {
		Debug()
	}
}

// Debug changes the log output to a development logger on stderr.
func Debug() {
	l, err := zap.NewDevelopment()
	if err != nil {
		return
	}
	log = l.Named("onramp")
}

// DebugOff changes the log to a noop logger
func DebugOff() {
	log = zap.NewNop()
}

// SetLogger allows users to inject their own logger instead of the default one.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	log = l
}

// Logger returns the package logger.
func Logger() *zap.Logger {
	return log
}
