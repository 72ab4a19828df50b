package core

import (
	"io"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// StructuredLogger is the production Logger implementation: a zerolog
// JSON sink behind a diode writer, so emission never blocks the caller
// and delivery is best-effort. Every record carries the service name,
// environment, heap usage and a sanitized context object; a
// "request_id" field in the caller's context is promoted to the record
// envelope for correlation.
type StructuredLogger struct {
	zl          zerolog.Logger
	diodeWriter *diode.Writer
	service     string
	environment string
}

// NewStructuredLogger creates a logger writing JSON records to stdout.
// verbose enables DEBUG records.
func NewStructuredLogger(service, environment string, verbose bool) *StructuredLogger {
	w := diode.NewWriter(os.Stdout, 1000, 10*time.Millisecond, nil)
	l := newStructuredLogger(w, service, environment, verbose)
	l.diodeWriter = &w
	return l
}

// NewStructuredLoggerWithWriter creates a logger writing to w.
// Used by tests and by callers that manage their own sinks.
func NewStructuredLoggerWithWriter(w io.Writer, service, environment string, verbose bool) *StructuredLogger {
	return newStructuredLogger(w, service, environment, verbose)
}

func newStructuredLogger(w io.Writer, service, environment string, verbose bool) *StructuredLogger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()

	return &StructuredLogger{
		zl:          zl,
		service:     service,
		environment: environment,
	}
}

// Close flushes the diode buffer. Harmless on writer-backed loggers.
func (l *StructuredLogger) Close() error {
	if l.diodeWriter != nil {
		return l.diodeWriter.Close()
	}
	return nil
}

func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *StructuredLogger) Info(msg string, fields map[string]interface{}) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *StructuredLogger) Warn(msg string, fields map[string]interface{}) {
	l.emit(l.zl.Warn(), msg, fields)
}

func (l *StructuredLogger) Error(msg string, fields map[string]interface{}) {
	l.emit(l.zl.Error(), msg, fields)
}

// Fatal records at fatal severity without terminating the process;
// a reporting library never owns process lifetime.
func (l *StructuredLogger) Fatal(msg string, fields map[string]interface{}) {
	l.emit(l.zl.WithLevel(zerolog.FatalLevel), msg, fields)
}

// Audit records bypass level filtering and are tagged for retention.
func (l *StructuredLogger) Audit(msg string, fields map[string]interface{}) {
	l.emit(l.zl.Log().Str("level", "audit"), msg, fields)
}

func (l *StructuredLogger) emit(ev *zerolog.Event, msg string, fields map[string]interface{}) {
	if ev == nil {
		return
	}

	var requestID interface{}
	if fields != nil {
		if id, ok := fields["request_id"]; ok {
			requestID = id
			rest := make(map[string]interface{}, len(fields)-1)
			for k, v := range fields {
				if k != "request_id" {
					rest[k] = v
				}
			}
			fields = rest
		}
	}

	ev.Str("service", l.service).
		Str("environment", l.environment).
		Uint64("memory_usage", heapBytes()).
		Interface("request_id", requestID).
		Interface("context", SanitizeContext(fields)).
		Msg(SanitizeMessage(msg))
}

func heapBytes() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
