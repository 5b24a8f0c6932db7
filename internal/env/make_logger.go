package env

import (
	zap "go.uber.org/zap"
)

// MakeLogger builds the CLI logger: JSON at info level, or a development
// logger when debug is set.
func MakeLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logConfig.Encoding = "json"

	return logConfig.Build()
}
