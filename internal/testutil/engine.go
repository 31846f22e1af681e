package testutil

import (
	"io"
	"log/slog"

	"github.com/roach88/bpflow/internal/engine"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewEngine creates an engine with a discarding logger and a fixed run id.
// opts are applied after the defaults.
func NewEngine(stage engine.StagingFunc, opts ...engine.Option) *engine.Engine {
	base := []engine.Option{
		engine.WithLogger(DiscardLogger()),
		engine.WithRunIDGenerator(NewFixedRunIDGenerator("")),
	}
	return engine.New(stage, append(base, opts...)...)
}
