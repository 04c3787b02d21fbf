// Package introlog provides structured logging for the introspection engine
// using zap.
package introlog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with engine-specific helpers.
type Logger struct {
	*zap.Logger
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger. Safe to call multiple times; only the
// first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithPID returns a logger with the pid field preset.
func (l *Logger) WithPID(pid int) *Logger {
	return &Logger{Logger: l.Logger.With(zap.Int("pid", pid))}
}

// Attach logs a successful PTRACE_ATTACH.
func (l *Logger) Attach(pid int) {
	l.Debug("attach", zap.Int("pid", pid))
}

// Detach logs a PTRACE_DETACH.
func (l *Logger) Detach(pid int) {
	l.Debug("detach", zap.Int("pid", pid))
}

// RemoteCall logs the synthesis of a remote function call.
func (l *Logger) RemoteCall(funcAddr uint64, args []uint64) {
	l.Debug("remote-call", Addr(funcAddr), zap.Uint64s("args", args))
}

// RemoteCallResult logs the outcome of a remote function call.
func (l *Logger) RemoteCallResult(funcAddr, ret uint64) {
	l.Debug("remote-call-return", Addr(funcAddr), zap.Uint64("ret", ret))
}

// Trap logs a breakpoint/overflow handshake.
func (l *Logger) Trap(pc uint64, detail string) {
	l.Debug("trap", Addr(pc), zap.String("detail", detail))
}

// HeapDrain logs a batch of drained (base, length) allocation pairs.
func (l *Logger) HeapDrain(count int) {
	l.Debug("heap-drain", zap.Int("count", count))
}

// SymbolCacheBuilt logs a summary of symbol cache construction.
func (l *Logger) SymbolCacheBuilt(modules, symbols int) {
	l.Info("symbol-cache", zap.Int("modules", modules), zap.Int("symbols", symbols))
}

// Hex formats a uint64 as a 0x-prefixed hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}
