package logx

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu sync.Mutex
	lg *zap.SugaredLogger
)

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// Init builds the process logger at LOG_LEVEL.
func Init() { InitLevel(os.Getenv("LOG_LEVEL")) }

// InitLevel builds the process logger at the given level name.
func InitLevel(level string) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}

	mu.Lock()
	lg = z.Sugar()
	mu.Unlock()
}

// Use replaces the process logger; tests pass zap.NewNop().Sugar().
func Use(l *zap.SugaredLogger) {
	mu.Lock()
	lg = l
	mu.Unlock()
}

func L() *zap.SugaredLogger {
	mu.Lock()
	l := lg
	mu.Unlock()
	if l == nil {
		Init()
		return L()
	}
	return l
}

// With returns a child logger carrying the given key/value pairs.
func With(kv ...any) *zap.SugaredLogger { return L().With(kv...) }

func Sync() { _ = L().Sync() }
