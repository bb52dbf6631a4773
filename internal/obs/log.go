package obs

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// Logger returns the shared structured logger used across the service.
func Logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetOutput redirects the shared logger, used by tests to capture output.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel adjusts the global log level ("debug", "info", "warn", "error").
// Unknown names keep the current level.
func SetLevel(name string) {
	if lvl, err := zerolog.ParseLevel(name); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}
