package ulogger

import "fmt"

// Noop discards everything. Used as the default logger in tests and in
// components constructed without an explicit logger.
type Noop struct{}

func (Noop) Debugf(string, ...interface{}) {}
func (Noop) Infof(string, ...interface{})  {}
func (Noop) Warnf(string, ...interface{})  {}
func (Noop) Errorf(string, ...interface{}) {}
func (n Noop) With(...Field) Logger        { return n }

// TestLogger records every call in order, so tests can assert on messages
// emitted during a run (e.g. "did the connector warn about X").
type TestLogger struct {
	Lines []string
}

func (t *TestLogger) Debugf(format string, args ...interface{}) { t.append("DEBUG", format, args...) }
func (t *TestLogger) Infof(format string, args ...interface{})  { t.append("INFO", format, args...) }
func (t *TestLogger) Warnf(format string, args ...interface{})  { t.append("WARN", format, args...) }
func (t *TestLogger) Errorf(format string, args ...interface{}) { t.append("ERROR", format, args...) }
func (t *TestLogger) With(...Field) Logger                      { return t }

func (t *TestLogger) append(level, format string, args ...interface{}) {
	t.Lines = append(t.Lines, level+": "+sprintf(format, args...))
}

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
