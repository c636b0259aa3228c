package logging

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

const (
	// LogLevelEnvVar sets the level when Initialize gets none. Unset means
	// silent. Valid values: "debug", "info", "warn", "error".
	LogLevelEnvVar = "TUYALOCAL_LOG_LEVEL"

	// LogFormatEnvVar selects "console" (default) or "json" output.
	LogFormatEnvVar = "TUYALOCAL_LOG_FORMAT"
)

// maxDump caps hex and ASCII dumps so one oversized frame cannot flood the log.
const maxDump = 256

// Initialize installs the global logger at level, falling back to
// TUYALOCAL_LOG_LEVEL. With neither set the logger discards everything.
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	switch format := strings.ToLower(os.Getenv(LogFormatEnvVar)); format {
	case "", "console":
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		cfg.Encoding = "json"
		cfg.EncoderConfig = zap.NewProductionEncoderConfig()
	default:
		return fmt.Errorf("unknown %s %q (want console or json)", LogFormatEnvVar, format)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = l
	return nil
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
	}
}

// SetLogger replaces the global logger. nil restores the silent default.
func SetLogger(l *zap.Logger) {
	logger = l
}

// GetLogger returns the global logger, a no-op logger before Initialize.
func GetLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func Debug(msg string, fields ...zap.Field) { GetLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { GetLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetLogger().Error(msg, fields...) }

// LogConnection logs a link lifecycle event such as "ready" or "closed".
func LogConnection(remoteAddr, event string) {
	Info("Connection event",
		zap.String("remote_addr", remoteAddr),
		zap.String("event", event),
	)
}

// LogStateChange logs a connection state transition.
func LogStateChange(remoteAddr, from, to string) {
	Debug("Connection state changed",
		zap.String("remote_addr", remoteAddr),
		zap.String("from", from),
		zap.String("to", to),
	)
}

// LogFrame logs one wire frame. The dumps are only built at debug level.
func LogFrame(remoteAddr, direction, command string, seq uint32, frame []byte) {
	l := GetLogger()
	if !l.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	l.Debug("Frame",
		zap.String("remote_addr", remoteAddr),
		zap.String("direction", direction),
		zap.String("command", command),
		zap.Uint32("seq", seq),
		zap.Int("length", len(frame)),
		zap.String("hex", hexDump(frame)),
		zap.String("ascii", asciiDump(frame)),
	)
}

// LogHTTPRequest logs a request served by the monitor.
func LogHTTPRequest(r *http.Request, statusCode int) {
	Info("HTTP request",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status_code", statusCode),
	)
}

// LogWebSocketMessage logs a websocket frame. Text content is included.
func LogWebSocketMessage(remoteAddr, direction string, messageType int, data []byte) {
	l := GetLogger()
	if !l.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	fields := []zap.Field{
		zap.String("remote_addr", remoteAddr),
		zap.String("direction", direction),
		zap.String("message_type", wsMessageTypeName(messageType)),
		zap.Int("length", len(data)),
	}
	if messageType == wsText {
		fields = append(fields, zap.String("content", string(data)))
	}
	l.Debug("WebSocket message", fields...)
}

// RFC 6455 opcodes, as used by gorilla/websocket message types.
const (
	wsText   = 1
	wsBinary = 2
	wsClose  = 8
	wsPing   = 9
	wsPong   = 10
)

var wsMessageTypes = map[int]string{
	wsText:   "text",
	wsBinary: "binary",
	wsClose:  "close",
	wsPing:   "ping",
	wsPong:   "pong",
}

func wsMessageTypeName(msgType int) string {
	if name, ok := wsMessageTypes[msgType]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", msgType)
}

func hexDump(data []byte) string {
	if len(data) > maxDump {
		return hex.EncodeToString(data[:maxDump]) + "..."
	}
	return hex.EncodeToString(data)
}

// asciiDump renders printable bytes and replaces the rest with '.'.
func asciiDump(data []byte) string {
	if len(data) > maxDump {
		data = data[:maxDump]
	}
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 0x20 && c <= 0x7e {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// Sync flushes buffered entries.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
