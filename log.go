package aegis

import "log/slog"

// nopLogger is used whenever a component is constructed without a logger.
func nopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
