// Package diag provides observation-only hooks for the translation engine:
// dumps of the final outgoing request material and warning events such as
// disabled rules or truncated streamed calls. Nothing in the engine depends
// on whether a sink consumes what it is given.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Event kinds reported by the translation engine.
const (
	EventRuleDisabled  = "rule_disabled"
	EventCallRejected  = "call_rejected"
	EventCallTruncated = "call_truncated"
)

// Sink receives diagnostic output from the translation engine.
type Sink interface {
	// DumpOutgoing persists the final outgoing message list and tool
	// definitions for inspection.
	DumpOutgoing(messages, tools []byte)
	// Event records a warning or data-loss event.
	Event(kind, detail string)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) DumpOutgoing(messages, tools []byte) {}
func (NopSink) Event(kind, detail string)           {}

// LogSink logs events and discards dumps. It is the default sink when no
// dump directory is configured, so warning events still surface.
type LogSink struct{}

func (LogSink) DumpOutgoing(messages, tools []byte) {}

func (LogSink) Event(kind, detail string) {
	logrus.WithField("event", kind).Warn(detail)
}

// FileSink writes outgoing dumps into a directory, one timestamped pair of
// files per request, and logs events.
type FileSink struct {
	dir string
}

// NewFileSink creates the dump directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create dump directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) DumpOutgoing(messages, tools []byte) {
	stamp := time.Now().Format("20060102-150405.000000000")
	s.write(fmt.Sprintf("%s-messages.json", stamp), messages)
	if len(tools) > 0 {
		s.write(fmt.Sprintf("%s-tools.json", stamp), tools)
	}
}

func (s *FileSink) write(name string, data []byte) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		logrus.Warnf("Failed to write diagnostic dump %s: %v", path, err)
	}
}

func (s *FileSink) Event(kind, detail string) {
	logrus.WithField("event", kind).Warn(detail)
}

// New returns a FileSink when dir is set, otherwise a LogSink.
func New(dir string) Sink {
	if dir == "" {
		return LogSink{}
	}
	sink, err := NewFileSink(dir)
	if err != nil {
		logrus.Warnf("Diagnostic dumps disabled: %v", err)
		return LogSink{}
	}
	return sink
}
