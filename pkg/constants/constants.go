// Package constants defines magic numbers and default values used throughout nexthttp.
package constants

import "time"

// Connection timeouts and limits
const (
	DefaultIdleTimeout    = 90 * time.Second
	DefaultConnTimeout    = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPingInterval   = 15 * time.Second
	MaxConnectionIdleTime = 5 * time.Minute
	HealthCheckInterval   = 30 * time.Second
	CleanupInterval       = 30 * time.Second
)

// HTTP/2 limits
const (
	MaxTotalStreams       = 10000
	SettingsAckTimeout    = 10 * time.Second
	DefaultHpackTableSize = 4096
	DefaultInitialWindow  = 16 * 1024 * 1024 // 16MiB, client-chosen inbound window
	PeerInitialWindow     = 65535            // RFC 7540 default until SETTINGS says otherwise
	PeerDefaultMaxFrameSize = 16384          // RFC 7540 §6.5.2 default until SETTINGS_MAX_FRAME_SIZE says otherwise
	PeerMaxFrameSizeCeiling = 16777215       // 2^24-1, the largest legal SETTINGS_MAX_FRAME_SIZE
	DegradedPongTimeout   = 1 * time.Second
)

// HTTP limits
const (
	MaxContentLength   = 1024 * 1024 * 1024 * 1024 // 1TB
	MaxStatusLineBytes = 256 * 1024
	MaxHeaderBlockBytes = 256 * 1024
	ChunkHeaderPadding = 1024
)

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024   // 4MB
	MaxRawBufferSize    = 100 * 1024 * 1024 // 100MB cap for raw buffer
)

// Call and engine defaults (§6 configuration table).
const (
	DefaultCallTimeout            = 0 // no limit
	MaxFollowUps                  = 20
	MaxProxyAuthAttempts          = 21
	DefaultMaxRequests            = 64
	DefaultMaxRequestsPerHost     = 5
	DefaultFastFallbackDelay      = 250 * time.Millisecond
	DefaultFollowRedirects        = true
	DefaultFollowTLSRedirects     = true
	DefaultRetryOnConnFailure     = true
	DefaultFastFallback           = true
)
