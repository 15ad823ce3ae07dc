package logger

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging for journald
type Logger struct {
	zl *zap.Logger
}

// New creates a new logger instance
func New() *Logger {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a logger with a custom writer
func NewWithWriter(w io.Writer) *Logger {
	encCfg := zapcore.EncoderConfig{
		LevelKey:         "LEVEL",
		MessageKey:       "MESSAGE",
		EncodeLevel:      encodeLevel,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
		LineEnding:       zapcore.DefaultLineEnding,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zap.DebugLevel)
	return &Logger{zl: zap.New(core)}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// journald-style level names
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	name := l.CapitalString()
	if l == zapcore.WarnLevel {
		name = "WARNING"
	}
	enc.AppendString("LEVEL=" + name)
}

// Info logs informational messages
func (l *Logger) Info(msg string, fields ...Field) {
	l.log(zapcore.InfoLevel, msg, fields...)
}

// Error logs error messages
func (l *Logger) Error(msg string, fields ...Field) {
	l.log(zapcore.ErrorLevel, msg, fields...)
}

// Warn logs warning messages
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(zapcore.WarnLevel, msg, fields...)
}

// Debug logs debug messages
func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(zapcore.DebugLevel, msg, fields...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) log(level zapcore.Level, msg string, fields ...Field) {
	if ce := l.zl.Check(level, "MESSAGE="+msg); ce != nil {
		zf := make([]zap.Field, 0, len(fields))
		for _, field := range fields {
			zf = append(zf, zap.Any(field.Key, field.Value))
		}
		ce.Write(zf...)
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new field (shorthand)
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Common field constructors
func Action(value string) Field          { return F("ACTION", value) }
func Status(value string) Field          { return F("STATUS", value) }
func VM(value string) Field              { return F("VM", value) }
func Count(value int) Field              { return F("COUNT", value) }
func Error(value error) Field            { return F("ERROR", value) }
func Snapshot(value string) Field        { return F("SNAPSHOT", value) }
func Reason(value string) Field          { return F("REASON", value) }
func Task(value string) Field            { return F("TASK", value) }
func Verb(value string) Field            { return F("VERB", value) }
func Datastore(value string) Field       { return F("DATASTORE", value) }
func Duration(value time.Duration) Field { return F("DURATION", value) }
func Operation(value string) Field       { return F("OPERATION_ID", value) }
