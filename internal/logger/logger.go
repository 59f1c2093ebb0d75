// Package logger configures the process-wide hclog root logger. Components
// take a named sub-logger in their constructor rather than reaching for a
// global.
package logger

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// New builds the root logger for the daemon. Unknown level strings fall back
// to info.
func New(level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "renderd",
		Level:  hclog.LevelFromString(level),
		Output: os.Stderr,
	})
}

// Nop returns a logger that discards everything; used in tests.
func Nop() hclog.Logger {
	return hclog.NewNullLogger()
}
