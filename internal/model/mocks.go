package model

import "fmt"

// TestLogger is a [Logger] that captures every emitted line, tagged
// with its level, so tests can assert on what the code logged.
type TestLogger struct {
	Lines []string
}

var _ Logger = &TestLogger{}

// NewTestLogger returns an empty [TestLogger].
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (tl *TestLogger) record(level, msg string) {
	tl.Lines = append(tl.Lines, level+": "+msg)
}

func (tl *TestLogger) Debug(msg string) {
	tl.record("DEBUG", msg)
}

func (tl *TestLogger) Debugf(format string, v ...any) {
	tl.record("DEBUG", fmt.Sprintf(format, v...))
}

func (tl *TestLogger) Info(msg string) {
	tl.record("INFO", msg)
}

func (tl *TestLogger) Infof(format string, v ...any) {
	tl.record("INFO", fmt.Sprintf(format, v...))
}

func (tl *TestLogger) Warn(msg string) {
	tl.record("WARN", msg)
}

func (tl *TestLogger) Warnf(format string, v ...any) {
	tl.record("WARN", fmt.Sprintf(format, v...))
}
