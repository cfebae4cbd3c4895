package log

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// IsVerbose enables debug output. Use SetVerbose to change it at runtime.
var IsVerbose bool

// IsStdout is true when stdout is a terminal rather than a pipe or file.
var IsStdout = isTerminal(os.Stdout)

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger = newLogger(os.Getenv("AEM_LOG_FORMAT"))
)

func newLogger(format string) *zap.SugaredLogger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.TimeKey = ""
		encoderConfig.CallerKey = ""
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core).Sugar()
}

// SetVerbose switches debug logging on or off.
func SetVerbose(verbose bool) {
	IsVerbose = verbose
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Use replaces the backing logger, e.g. with zaptest or zap.NewNop in tests.
func Use(l *zap.Logger) {
	logger = l.Sugar()
}

// Logger returns the backing zap logger.
func Logger() *zap.Logger {
	return logger.Desugar()
}

func Info(s string, args ...any) {
	logger.Info(format(s, args...))
}

func Warn(s string, args ...any) {
	logger.Warn(format(s, args...))
}

func Error(s string, args ...any) {
	logger.Error(format(s, args...))
}

func Debug(s string, args ...any) {
	logger.Debug(format(s, args...))
}

// Verbose logs only when verbose output is enabled.
func Verbose(s string, args ...any) {
	if IsVerbose {
		logger.Debug(format(s, args...))
	}
}

// Sync flushes buffered entries; call it before the process exits.
func Sync() {
	_ = logger.Sync()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func format(s string, args ...any) string {
	if len(args) > 0 {
		return strings.TrimRight(fmt.Sprintf(s, args...), "\n")
	}
	return strings.TrimRight(s, "\n")
}
