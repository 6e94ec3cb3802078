// Package wasmlog builds the process-wide *zap.Logger used for every
// diagnostic line this engine writes to stderr.
//
// Output format is fixed by the host/guest contract: "[WASM INFO|ERROR|DEBUG]
// <msg>". Downstream tooling never parses stderr, so it is safe to append
// zap's structured fields after the message.
package wasmlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console-encoded logger writing to stderr with the "[WASM
// LEVEL]" prefix the host/guest protocol expects.
func New() *zap.Logger {
	encoderCfg := zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		NameKey:          "logger",
		CallerKey:        "",
		StacktraceKey:    "",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      encodeWasmLevel,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(os.Stderr)),
		zapcore.DebugLevel,
	)
	return zap.New(core)
}

// encodeWasmLevel renders every zap level as one of the three tags the
// host/guest protocol recognizes.
func encodeWasmLevel(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch lvl {
	case zapcore.DebugLevel:
		enc.AppendString("[WASM DEBUG]")
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		enc.AppendString("[WASM ERROR]")
	default:
		enc.AppendString("[WASM INFO]")
	}
}
