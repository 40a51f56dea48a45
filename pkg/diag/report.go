// Package diag collects the diagnostics produced by a single codec or volume
// operation. A Report is created per call and handed back to the caller, so the
// core never writes to a process-wide logger. When a logrus logger is attached,
// every entry is forwarded to it as it is recorded.
package diag

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level classifies an entry. It reuses the logrus levels so entries forward
// without translation.
type Level = logrus.Level

// Entry is one recorded diagnostic.
type Entry struct {
	Level   Level
	Message string
	Fields  logrus.Fields
}

func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Level, e.Message)
	for k, v := range e.Fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	return b.String()
}

// Report accumulates entries. A nil *Report discards everything, so callees
// can log unconditionally.
type Report struct {
	entries []Entry
	logger  logrus.FieldLogger
}

// New returns an empty report forwarding to logger, which may be nil.
func New(logger logrus.FieldLogger) *Report {
	return &Report{logger: logger}
}

func (r *Report) add(level Level, fields logrus.Fields, format string, args ...interface{}) {
	if r == nil {
		return
	}
	e := Entry{Level: level, Message: fmt.Sprintf(format, args...), Fields: fields}
	r.entries = append(r.entries, e)
	if r.logger == nil {
		return
	}
	l := r.logger.WithFields(fields)
	switch level {
	case logrus.ErrorLevel:
		l.Error(e.Message)
	case logrus.WarnLevel:
		l.Warn(e.Message)
	case logrus.InfoLevel:
		l.Info(e.Message)
	default:
		l.Debug(e.Message)
	}
}

// Errorf records an error that did not abort the operation.
func (r *Report) Errorf(format string, args ...interface{}) {
	r.add(logrus.ErrorLevel, nil, format, args...)
}

// Warnf records a warning.
func (r *Report) Warnf(format string, args ...interface{}) {
	r.add(logrus.WarnLevel, nil, format, args...)
}

// Infof records an informational message.
func (r *Report) Infof(format string, args ...interface{}) {
	r.add(logrus.InfoLevel, nil, format, args...)
}

// Debugf records a debug message.
func (r *Report) Debugf(format string, args ...interface{}) {
	r.add(logrus.DebugLevel, nil, format, args...)
}

// WithFields returns a view of r that attaches fields to every entry it records.
func (r *Report) WithFields(fields logrus.Fields) *Scoped {
	return &Scoped{r: r, fields: fields}
}

// Entries returns the recorded entries in order.
func (r *Report) Entries() []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.entries...)
}

// Count returns the number of entries at the given level.
func (r *Report) Count(level Level) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Warnings returns the messages of all warnings.
func (r *Report) Warnings() []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

// Merge appends the entries of other without forwarding them again.
func (r *Report) Merge(other *Report) {
	if r == nil || other == nil {
		return
	}
	r.entries = append(r.entries, other.entries...)
}

// Scoped records into a Report with a fixed set of fields.
type Scoped struct {
	r      *Report
	fields logrus.Fields
}

// Warnf records a warning carrying the scope fields.
func (s *Scoped) Warnf(format string, args ...interface{}) {
	s.r.add(logrus.WarnLevel, s.fields, format, args...)
}

// Infof records an informational message carrying the scope fields.
func (s *Scoped) Infof(format string, args ...interface{}) {
	s.r.add(logrus.InfoLevel, s.fields, format, args...)
}

// Debugf records a debug message carrying the scope fields.
func (s *Scoped) Debugf(format string, args ...interface{}) {
	s.r.add(logrus.DebugLevel, s.fields, format, args...)
}
