// Package observe provides structured logging and metrics for the cache
// engine.
//
// It provides a minimal Logger interface with a JSON implementation and a
// Metrics interface backed by OpenTelemetry instruments, with nop variants
// so components can default to no-op observability.
package observe
