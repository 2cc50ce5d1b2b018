package testutil

import (
	"io"
	"log"
	"os"
	"testing"
)

func TestLogger(t *testing.T) *log.Logger {
	out := io.Discard
	if testing.Verbose() {
		out = os.Stdout
	}
	logger := log.New(out, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// NopStats satisfies stats.StatsProvider for tests that don't assert on
// metrics.
type NopStats struct{}

func (NopStats) Incr(string)           {}
func (NopStats) Decr(string)           {}
func (NopStats) RegisterMetric(string) {}
func (NopStats) Run()                  {}
