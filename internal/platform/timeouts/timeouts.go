// Package timeouts defines shared timeout constants used across the runtime
// binaries. Centralizing these values prevents drift between service
// boundaries and makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// HandlerDefault caps handler execution when an intent carries no deadline.
const HandlerDefault = 30 * time.Second

// OutboxPublish caps a single publish round against the stream log.
const OutboxPublish = 30 * time.Second
