package app

import (
	"log/slog"
	"os"
)

// LogFormatJSON selects machine-readable output; the default pretty format
// uses the text handler.
const LogFormatJSON = "json"

// NewLogger builds the process logger from LOG_FORMAT.
func NewLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}
