package constants

import "time"

const AppName = "keygate"

// Network defaults
const (
	DefaultListen     = ":34953"
	DefaultHTTPListen = ""
	ReadBufferSize    = 65536 // one read event is at most this many bytes
	WriteTimeout      = 5 * time.Second
	ShutdownTimeout   = 10 * time.Second
	CleanupInterval   = 5 * time.Minute
)

// Admission and session limits
const (
	MaxConnectionsPerIP = 2
	MaxTotalConnections = 100
	MaxMessageSize      = 1024 // 1KB
	SessionIdleTimeout  = 30 * time.Second
)

// Rate limiting
const (
	RateLimitWindow      = time.Minute
	MaxRequestsPerWindow = 20
)

// Record store
const (
	DefaultUsersFile   = "keys/users.json"
	DefaultVersionFile = "keys/version.json"
	DefaultStoreType   = "file"
	RedisKeyPrefix     = "keygate:"
	RedisUsersKey      = RedisKeyPrefix + "users"
	RedisVersionKey    = RedisKeyPrefix + "version"
	RedisBindRetries   = 5
	FallbackVersion    = "0"
)

// Alerts
const (
	AlertQueueSize        = 256
	AlertWorkers          = 2
	AlertTimeout          = 10 * time.Second
	WebhookPerMinute      = 30
	WebhookMaxTries       = 3
	MaxAuditLogsPerMinute = 600
	AlertTitle            = "Server security notice"
	AlertColor            = 0xFF0000
)

// Endpoints on the optional HTTP listener
const (
	EndpointWebSocket = "/ws"
	EndpointMetrics   = "/metrics"
	EndpointHealth    = "/healthz"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorRed    = "\033[31m"
)
