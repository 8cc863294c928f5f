// Package progress carries job status from background workers to connected
// clients. Channel is the per-project session registry behind the WebSocket
// endpoint, Reporter enforces the processing-then-terminal event sequence for
// one job run, and Hub batches the same events to pluggable sinks such as
// Prometheus metrics or the project store.
package progress
