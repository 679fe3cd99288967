// Package obs wraps a *zap.Logger the way a host embeds a logging
// collaborator: the VM core (pkg/gc, pkg/vm, pkg/state) never imports
// zap directly, only the GlobalState.Warn/Panic hooks and cmd/smog sink
// events through it, keeping the collector and interpreter themselves
// dependency-free and testable in isolation.
package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured-logging collaborator cmd/smog wires into a
// GlobalState before running a script.
type Logger struct {
	z *zap.Logger
}

// New builds a console-encoded logger at the given level ("debug",
// "info", "warn", "error"; anything else falls back to "info").
func New(level string) (*Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

func (l *Logger) Sync() { _ = l.z.Sync() }

// GCPhase logs a collector phase transition (spec §4.8's state machine).
func (l *Logger) GCPhase(phase string, debt int64, totalBytes uint64) {
	l.z.Debug("gc phase",
		zap.String("phase", phase),
		zap.Int64("debt", debt),
		zap.Uint64("total_bytes", totalBytes),
	)
}

// Warn is installed as GlobalState.Warn: finaliser failures and other
// non-fatal diagnostics the collector reports rather than propagates
// (spec §4.8 "failures are reported to the warn-function").
func (l *Logger) Warn(msg string) {
	l.z.Warn("vm warning", zap.String("message", msg))
}

// Panic is installed as GlobalState.Panic: a long-jump with no
// protected frame above it (spec §4.11).
func (l *Logger) Panic(msg string) {
	l.z.Error("unprotected error", zap.String("message", msg))
}

// RunStart/RunEnd bracket a script execution for cmd/smog's run command.
func (l *Logger) RunStart(stateID, threadID string) {
	l.z.Info("run start", zap.String("state_id", stateID), zap.String("thread_id", threadID))
}

func (l *Logger) RunEnd(err error) {
	if err != nil {
		l.z.Error("run failed", zap.Error(err))
		return
	}
	l.z.Info("run complete")
}
