// Package logger holds the process-wide zap logger used by every component.
//
// Components take named children (logger.Named("transport")) so a single
// Set at startup reconfigures the whole stack, the etcd client included.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	l, err := New("info", false)
	if err != nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// L returns the process logger.
func L() *zap.Logger {
	return global.Load()
}

// Named returns a child of the process logger.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Set replaces the process logger. A nil logger disables logging.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// New builds a logger at the given level ("debug", "info", "warn", "error").
// Development loggers use the console encoder.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
