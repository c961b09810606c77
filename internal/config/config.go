package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"keygate/internal/security"
	"keygate/internal/store"
)

// GateFlags configures the TCP listener and the admission and rate ceilings.
type GateFlags struct {
	Listen              string        `help:"TCP listen address for license clients" default:":34953" env:"KEYGATE_LISTEN"`
	MaxConnections      int           `help:"maximum concurrent sessions across all addresses" default:"100" env:"KEYGATE_MAX_CONNECTIONS"`
	MaxConnectionsPerIP int           `name:"max-connections-per-ip" help:"maximum concurrent sessions from one address" default:"2" env:"KEYGATE_MAX_CONNECTIONS_PER_IP"`
	MaxMessageSize      int           `help:"largest accepted frame in bytes" default:"1024" env:"KEYGATE_MAX_MESSAGE_SIZE"`
	IdleTimeout         time.Duration `help:"close a session after this long without a frame" default:"30s" env:"KEYGATE_IDLE_TIMEOUT"`
	RateLimit           int           `help:"frames allowed per address per window" default:"20" env:"KEYGATE_RATE_LIMIT"`
	RateWindow          time.Duration `help:"sliding window for the per-address rate limit" default:"1m" env:"KEYGATE_RATE_WINDOW"`
}

func (g *GateFlags) Validate() error {
	if g.Listen == "" {
		return errors.New("listen address is required (--listen or KEYGATE_LISTEN)")
	}
	if g.MaxConnections < 1 {
		return errors.New("max connections must be at least 1")
	}
	if g.MaxConnectionsPerIP < 1 {
		return errors.New("max connections per ip must be at least 1")
	}
	if g.MaxConnectionsPerIP > g.MaxConnections {
		return fmt.Errorf("max connections per ip (%d) exceeds max connections (%d)", g.MaxConnectionsPerIP, g.MaxConnections)
	}
	if g.MaxMessageSize < 1 {
		return errors.New("max message size must be positive")
	}
	if g.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if g.RateLimit < 1 || g.RateWindow <= 0 {
		return errors.New("rate limit and rate window must be positive")
	}
	return nil
}

// StoreFlags selects and configures the license record store.
type StoreFlags struct {
	StoreType   string     `help:"record store type (file or redis)" default:"file" env:"KEYGATE_STORE_TYPE" enum:"file,redis"`
	UsersFile   string     `help:"path to the license record document" default:"keys/users.json" env:"KEYGATE_USERS_FILE"`
	VersionFile string     `help:"path to the version document" default:"keys/version.json" env:"KEYGATE_VERSION_FILE"`
	Redis       RedisFlags `embed:"" prefix:"redis-"`
}

type RedisFlags struct {
	Addr     string `help:"redis address" default:"localhost:6379" env:"KEYGATE_REDIS_ADDR"`
	Username string `help:"redis ACL username" default:"" env:"KEYGATE_REDIS_USERNAME"`
	Password string `help:"redis password" default:"" env:"KEYGATE_REDIS_PASSWORD"`
	DB       int    `help:"redis database number" default:"0" env:"KEYGATE_REDIS_DB"`
}

func (s *StoreFlags) Validate() error {
	switch s.StoreType {
	case store.TypeFile, "":
		if s.UsersFile == "" || s.VersionFile == "" {
			return errors.New("users and version files are required for the file store")
		}
	case store.TypeRedis:
		if s.Redis.Addr == "" {
			return errors.New("redis address is required (--redis-addr or KEYGATE_REDIS_ADDR)")
		}
		if s.Redis.DB < 0 {
			return errors.New("redis database number must not be negative")
		}
	default:
		return fmt.Errorf("unknown store type %q", s.StoreType)
	}
	return nil
}

// Options converts the flags for store.New. The file paths are always set
// so a redis store can fall back to them.
func (s *StoreFlags) Options() store.Options {
	return store.Options{
		Type:        s.StoreType,
		UsersFile:   s.UsersFile,
		VersionFile: s.VersionFile,
		Redis: store.RedisOptions{
			Addr:     s.Redis.Addr,
			Username: s.Redis.Username,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		},
	}
}

// AlertFlags configures where security notices go.
type AlertFlags struct {
	WebhookURL       string        `name:"webhook-url" help:"Discord-compatible webhook for security notices" default:"" env:"KEYGATE_WEBHOOK_URL,webhook"`
	WebhookPerMinute int           `help:"webhook posts allowed per minute" default:"30" env:"KEYGATE_WEBHOOK_PER_MINUTE"`
	AuditDir         string        `help:"directory for JSON-lines audit files, empty disables" default:"" env:"KEYGATE_AUDIT_DIR"`
	LogAlerts        bool          `help:"write security notices to the process log" default:"true" env:"KEYGATE_LOG_ALERTS" negatable:""`
	AlertQueue       int           `help:"pending notices kept before new ones are dropped" default:"256" env:"KEYGATE_ALERT_QUEUE"`
	AlertTimeout     time.Duration `help:"deadline for delivering one notice" default:"10s" env:"KEYGATE_ALERT_TIMEOUT"`
}

func (a *AlertFlags) Validate() error {
	if a.WebhookURL != "" {
		u, err := url.Parse(a.WebhookURL)
		if err != nil {
			return fmt.Errorf("invalid webhook url: %w", err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("webhook url must be http or https, got %q", u.Scheme)
		}
		if a.WebhookPerMinute < 1 {
			return errors.New("webhook per minute must be at least 1")
		}
	}
	if a.AlertQueue < 1 {
		return errors.New("alert queue must hold at least one notice")
	}
	if a.AlertTimeout <= 0 {
		return errors.New("alert timeout must be positive")
	}
	return nil
}

// HTTPFlags configures the optional side listener serving WebSocket
// sessions, health and metrics.
type HTTPFlags struct {
	HTTPListen     string   `name:"http-listen" help:"HTTP listen address for /ws, /healthz and /metrics, empty disables" default:"" env:"KEYGATE_HTTP_LISTEN"`
	TrustedProxies []string `help:"CIDRs whose forwarding headers are trusted" default:"127.0.0.0/8,::1/128" env:"KEYGATE_TRUSTED_PROXIES"`
}

func (h *HTTPFlags) Validate() error {
	if _, err := h.Proxies(); err != nil {
		return err
	}
	return nil
}

func (h *HTTPFlags) Proxies() (security.TrustedProxies, error) {
	return security.ParseTrustedProxies(h.TrustedProxies)
}
