// Package sinks implements progress consumers: structured logging, Prometheus
// metrics, job run persistence, and completion notices published to a topic.
// Each sink satisfies progress.Sink and tolerates repeated Consume calls.
package sinks
