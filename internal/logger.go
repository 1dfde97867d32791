package internal

import (
	"io"
	"log/slog"
	"time"
)

// NewLogger builds the application logger from the environment and the
// configured level. Production gets JSON with RFC 3339 timestamps for log
// shipping; everything else gets human-readable text. The debug level also
// records the caller so merge and delivery failures can be traced to a
// source line.
func NewLogger(w io.Writer, cfg *Config) *slog.Logger {
	l := new(slog.LevelVar) // Info by default
	switch cfg.LogLevel {
	case "debug":
		l.Set(slog.LevelDebug)
	case "warn":
		l.Set(slog.LevelWarn)
	case "error":
		l.Set(slog.LevelError)
	case "info":
	default:
		slog.Default().Warn("Invalid log level. Using default level: info", slog.String("value", cfg.LogLevel))
	}

	opts := &slog.HandlerOptions{
		Level:     l,
		AddSource: cfg.LogLevel == "debug",
	}

	var h slog.Handler
	switch cfg.Env {
	case "prod":
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		}
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h).With(slog.String("service", "briefwerk"))
}
