// Package xdmalog wraps log/slog with consistent field names for callers of
// the xdma core: channel and direction, plus from/to for state transitions.
// It exists so callers spread across several packages don't each invent
// their own key names.
package xdmalog

import (
	"log/slog"
	"os"

	"github.com/go-fpga/xdmacore/xdma"
)

// New returns a text-handler logger writing to os.Stderr, the default for
// a CLI tool or a long-running daemon without its own logging setup.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Channel returns a logger pre-bound with channel/direction fields, meant
// to be threaded through the lifetime of a single xdma.Channel.
func Channel(base *slog.Logger, direction xdma.Direction, index int) *slog.Logger {
	return base.With("direction", direction.String(), "channel", index)
}

// State logs a channel's lifecycle transition at info level.
func State(l *slog.Logger, from, to xdma.State) {
	l.Info("channel state transition", "from", from.String(), "to", to.String())
}

// Failure logs a latched channel error at error level.
func Failure(l *slog.Logger, err error) {
	l.Error("channel failure", "err", err)
}
