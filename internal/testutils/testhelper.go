// Package testutils provides test doubles and assertion helpers: a fake
// platform that behaves like BlueZ, builders for mocked peripherals, go-ble
// mocks and structural JSON / text asserters.
package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper with a debug-level logger whose output
// is captured by Hook instead of printed.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := NewLogger()
	return &TestHelper{T: t, Logger: logger, Hook: hook}
}

// NewLogger returns a silent debug-level logger and the hook recording its
// entries.
func NewLogger() (*logrus.Logger, *test.Hook) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	hook := test.NewLocal(logger)
	return logger, hook
}

// Messages returns the messages logged at level.
func Messages(hook *test.Hook, level logrus.Level) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}
