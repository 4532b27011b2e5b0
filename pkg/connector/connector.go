package connector

import (
	"context"
	"io"

	"pi-connector/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

// ExportOptions re-exposes the tasks.ExportOptions type for external callers.
type ExportOptions = tasks.ExportOptions

// SimulateOptions re-exposes the tasks.SimulateOptions type for external callers.
type SimulateOptions = tasks.SimulateOptions

// Run starts the bridge with the given options using the internal tasks implementation.
func Run(ctx context.Context, opts Options) error {
	return tasks.InitAndRun(ctx, opts)
}

// Provision resolves or creates the PI point of every configured tag and
// writes the resulting WebIDs to w.
func Provision(ctx context.Context, opts Options, w io.Writer) error {
	return tasks.Provision(ctx, opts, w)
}

// Post writes one value to one configured tag.
func Post(ctx context.Context, opts Options, tag, value string) error {
	return tasks.PostValue(ctx, opts, tag, value)
}

// Export writes journal rows to a file.
func Export(ctx context.Context, opts Options, eo ExportOptions) error {
	return tasks.Export(ctx, opts, eo)
}

// Simulate serves the configured points from a local Modbus TCP slave.
func Simulate(ctx context.Context, opts Options, so SimulateOptions) error {
	return tasks.Simulate(ctx, opts, so)
}
