// Package observability provides logging, metrics, and tracing setup,
// mirroring the ambient stack this codebase wires around every service
// entrypoint.
package observability

import (
	"log/slog"
	"os"

	"github.com/alephauto/core/internal/config"
)

// SetupLogger configures a JSON slog logger tagged with service/env fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
