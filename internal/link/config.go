package link

import (
	"strings"
	"time"

	"github.com/danmuck/designctl/internal/protocol/frame"
)

const (
	DefaultAddress        = "localhost:43234"
	DefaultIdentity       = "designctl"
	DefaultReceiveTimeout = 10 * time.Second
)

// SecurityMode gates which transport settings are acceptable.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig configures the optional TLS wrapper around the engine socket.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport defaults for the engine link.
type Config struct {
	Address  string
	Identity string

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReceiveTimeout   time.Duration
	WriteTimeout     time.Duration

	// MaxConnectAttempts bounds dial retries per Connect call; <= 0 means one attempt.
	MaxConnectAttempts int
	Backoff            BackoffConfig

	SecurityMode SecurityMode
	TLS          TLSConfig
	Limits       frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Address:            DefaultAddress,
		Identity:           DefaultIdentity,
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		ReceiveTimeout:     DefaultReceiveTimeout,
		WriteTimeout:       10 * time.Second,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
		Limits:       frame.DefaultLimits(),
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Address) == "" {
		c.Address = def.Address
	}
	if strings.TrimSpace(c.Identity) == "" {
		c.Identity = def.Identity
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = def.ReceiveTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	return c
}
