// Package logger provides the structured logging wrapper used across the
// sync engine.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// root logger
var log atomic.Pointer[Logger]

// Logger wraps zap.SugaredLogger to provide a consistent logging interface
// across every component: RPC pool, repositories, checkpoint store, sync
// engine, poll loop, reorg handler, health server.
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error".
// development mode enables stack traces and uses a colorized console encoder.
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

// NewNopLogger creates a no-op logger that discards all logs. Useful for tests.
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// WithComponent creates a child logger tagging every entry with a component
// name: "rpc-pool", "rpc-client", "block-repository", "transfer-repository",
// "checkpoint-store", "sync-engine", "reorg-handler", "poll-loop",
// "advisory-lock", "health-server".
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{SugaredLogger: l.With("component", component)}
}

// WithChain tags every entry with the chain ID being synced, for deployments
// that ship logs from more than one instance to the same sink.
func (l *Logger) WithChain(chainID string) *Logger {
	return &Logger{SugaredLogger: l.With("chain_id", chainID)}
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}

// GetDefaultLogger returns the process-wide default logger, building one at
// debug/development level on first use.
func GetDefaultLogger() *Logger {
	l := log.Load()
	if l != nil {
		return l
	}
	zapLogger, err := NewLogger("debug", true)
	if err != nil {
		panic(err)
	}
	log.Store(zapLogger)
	return log.Load()
}

// SetDefaultLogger overrides the process-wide default, used by cmd/indexer
// once the real configuration has been loaded.
func SetDefaultLogger(l *Logger) {
	log.Store(l)
}
