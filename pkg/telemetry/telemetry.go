// Package telemetry provides a structured logger with HTTP/2 debug-logging
// helpers, and a logrus-backed EventListener.
package telemetry

import (
	"github.com/sirupsen/logrus"
)

// Logger is the structured logger behind LoggingEventListener. Its Frame,
// Settings, Headers and Data helpers log HTTP/2 wire-level detail; nothing
// in pkg/http2engine calls them. A nil *Logger is valid and logs nothing,
// so components can hold one unconditionally rather than nil-checking a
// *logrus.Logger everywhere.
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger at the given level. Pass logrus.PanicLevel to
// effectively disable logging without special-casing nil.
func New(level logrus.Level) *Logger {
	l := logrus.New()
	l.SetLevel(level)
	return &Logger{entry: logrus.NewEntry(l)}
}

// Disabled returns a Logger that discards everything; used as the default so
// the engine is silent unless a caller opts in.
func Disabled() *Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return &Logger{entry: logrus.NewEntry(l)}
}

// With returns a derived Logger carrying additional structured fields.
func (l *Logger) With(fields logrus.Fields) *Logger {
	if l == nil {
		return Disabled()
	}
	return &Logger{entry: l.entry.WithFields(fields)}
}

// Frame logs one HTTP/2 frame at debug level; any gating is up to the
// caller.
func (l *Logger) Frame(direction, frameType string, streamID uint32, length int) {
	if l == nil {
		return
	}
	l.entry.WithFields(logrus.Fields{
		"direction": direction,
		"frame":     frameType,
		"stream_id": streamID,
		"length":    length,
	}).Debug("http2 frame")
}

// Settings logs a SETTINGS frame's key/value pairs.
func (l *Logger) Settings(direction string, values map[string]uint32) {
	if l == nil {
		return
	}
	fields := logrus.Fields{"direction": direction}
	for k, v := range values {
		fields[k] = v
	}
	l.entry.WithFields(fields).Debug("http2 settings")
}

// Headers logs a decoded header block.
func (l *Logger) Headers(direction string, streamID uint32, count int) {
	if l == nil {
		return
	}
	l.entry.WithFields(logrus.Fields{
		"direction": direction,
		"stream_id": streamID,
		"count":     count,
	}).Debug("http2 headers")
}

// Data logs a DATA frame's size.
func (l *Logger) Data(direction string, streamID uint32, length int, endStream bool) {
	if l == nil {
		return
	}
	l.entry.WithFields(logrus.Fields{
		"direction":  direction,
		"stream_id":  streamID,
		"length":     length,
		"end_stream": endStream,
	}).Debug("http2 data")
}

// Event logs a free-form lifecycle event, used by LoggingEventListener.
func (l *Logger) Event(name string, fields logrus.Fields) {
	if l == nil {
		return
	}
	l.entry.WithFields(fields).Info(name)
}

// LoggingEventListener implements collab.EventListener by emitting one
// logrus entry per lifecycle event. It is the concrete answer to the
// distilled spec's "logging internals are out of scope, specified only as
// an external collaborator interface" — a real, swappable implementation of
// that interface, not part of the core itself.
type LoggingEventListener struct {
	log *Logger
}

// NewLoggingEventListener wraps log (use Disabled() to mute).
func NewLoggingEventListener(log *Logger) *LoggingEventListener {
	return &LoggingEventListener{log: log}
}

func (l *LoggingEventListener) CallStart(callID uint64, method, url string) {
	l.log.Event("call_start", logrus.Fields{"call_id": callID, "method": method, "url": url})
}
func (l *LoggingEventListener) CallEnd(callID uint64) {
	l.log.Event("call_end", logrus.Fields{"call_id": callID})
}
func (l *LoggingEventListener) CallFailed(callID uint64, err error) {
	l.log.Event("call_failed", logrus.Fields{"call_id": callID, "error": err})
}
func (l *LoggingEventListener) DNSStart(callID uint64, host string) {
	l.log.Event("dns_start", logrus.Fields{"call_id": callID, "host": host})
}
func (l *LoggingEventListener) DNSEnd(callID uint64, host string, err error) {
	l.log.Event("dns_end", logrus.Fields{"call_id": callID, "host": host, "error": err})
}
func (l *LoggingEventListener) ConnectStart(callID uint64, addr string) {
	l.log.Event("connect_start", logrus.Fields{"call_id": callID, "addr": addr})
}
func (l *LoggingEventListener) ConnectEnd(callID uint64, addr, protocol string, err error) {
	l.log.Event("connect_end", logrus.Fields{"call_id": callID, "addr": addr, "protocol": protocol, "error": err})
}
func (l *LoggingEventListener) SecureConnectStart(callID uint64) {
	l.log.Event("secure_connect_start", logrus.Fields{"call_id": callID})
}
func (l *LoggingEventListener) SecureConnectEnd(callID uint64, tlsVersion uint16, err error) {
	l.log.Event("secure_connect_end", logrus.Fields{"call_id": callID, "tls_version": tlsVersion, "error": err})
}
func (l *LoggingEventListener) RequestBodyStart(callID uint64) {
	l.log.Event("request_body_start", logrus.Fields{"call_id": callID})
}
func (l *LoggingEventListener) RequestBodyEnd(callID uint64, byteCount int64) {
	l.log.Event("request_body_end", logrus.Fields{"call_id": callID, "bytes": byteCount})
}
func (l *LoggingEventListener) ResponseBodyStart(callID uint64) {
	l.log.Event("response_body_start", logrus.Fields{"call_id": callID})
}
func (l *LoggingEventListener) ResponseBodyEnd(callID uint64, byteCount int64) {
	l.log.Event("response_body_end", logrus.Fields{"call_id": callID, "bytes": byteCount})
}
func (l *LoggingEventListener) ConnectionAcquired(callID uint64, addr string, reused bool) {
	l.log.Event("connection_acquired", logrus.Fields{"call_id": callID, "addr": addr, "reused": reused})
}
func (l *LoggingEventListener) ConnectionReleased(callID uint64, addr string) {
	l.log.Event("connection_released", logrus.Fields{"call_id": callID, "addr": addr})
}
func (l *LoggingEventListener) RetryDecision(callID uint64, willRetry bool, reason string) {
	l.log.Event("retry_decision", logrus.Fields{"call_id": callID, "will_retry": willRetry, "reason": reason})
}
func (l *LoggingEventListener) FollowUpDecision(callID uint64, willFollow bool, statusCode int) {
	l.log.Event("follow_up_decision", logrus.Fields{"call_id": callID, "will_follow": willFollow, "status": statusCode})
}
func (l *LoggingEventListener) DispatcherQueueStart(callID uint64) {
	l.log.Event("dispatcher_queue_start", logrus.Fields{"call_id": callID})
}
func (l *LoggingEventListener) DispatcherExecution(callID uint64) {
	l.log.Event("dispatcher_execution", logrus.Fields{"call_id": callID})
}
func (l *LoggingEventListener) DispatcherQueueEnd(callID uint64) {
	l.log.Event("dispatcher_queue_end", logrus.Fields{"call_id": callID})
}
