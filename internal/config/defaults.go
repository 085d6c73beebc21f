// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: Default values that appear in multiple places are defined here.
// This keeps configuration maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used when no exact tokenizer is available for a model.
const TokenEstimateRatio = 4

// =============================================================================
// PROXY DEFAULTS
// =============================================================================

// DefaultProxyPort is the local port the intercept proxy listens on.
const DefaultProxyPort = 8800

// DefaultBufferSize is the standard I/O buffer size for stream relaying.
const DefaultBufferSize = 4096

// MaxRequestBodySize is the maximum allowed request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// DefaultUpstreamTimeout bounds a single upstream exchange, generous enough
// for long streaming generations.
const DefaultUpstreamTimeout = 10 * time.Minute

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 1 * time.Minute

// =============================================================================
// METERING
// =============================================================================

// DefaultMeterQueueSize bounds the background metering queue. When the queue
// is full the exchange is dropped (and counted) rather than blocking the
// client-facing relay.
const DefaultMeterQueueSize = 256
