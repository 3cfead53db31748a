// Package config loads the designctl TOML file on top of built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/designctl/internal/link"
	"github.com/danmuck/designctl/internal/script"
	"github.com/danmuck/designctl/internal/trajectory"
)

const (
	DefaultName       = "designctl"
	DefaultListenAddr = "127.0.0.1:8090"
)

type Config struct {
	Name        string
	ListenAddr  string
	CorsOrigins []string
	// ControlToken, when set, is required as a bearer token on POST routes.
	ControlToken string
	Engine       link.Config
	Trajectory   trajectory.Config
	Script       script.Config
}

func DefaultConfig() Config {
	return Config{
		Name:        DefaultName,
		ListenAddr:  DefaultListenAddr,
		CorsOrigins: []string{"http://localhost:3000"},
		Engine:      link.DefaultConfig(),
		Trajectory:  trajectory.Config{Capacity: trajectory.DefaultCapacity, FPS: trajectory.DefaultFPS},
		Script:      script.DefaultConfig(),
	}
}

type fileConfig struct {
	Name         string            `toml:"name"`
	ListenAddr   string            `toml:"listen_addr"`
	CorsOrigins  []string          `toml:"cors_origins"`
	ControlToken string            `toml:"control_token"`
	Engine       engineSection     `toml:"engine"`
	Trajectory   trajectorySection `toml:"trajectory"`
	Script       scriptSection     `toml:"script"`
}

type engineSection struct {
	Address            string     `toml:"address"`
	Identity           string     `toml:"identity"`
	ConnectTimeout     string     `toml:"connect_timeout"`
	ReceiveTimeout     string     `toml:"receive_timeout"`
	WriteTimeout       string     `toml:"write_timeout"`
	MaxConnectAttempts int        `toml:"max_connect_attempts"`
	BackoffInitial     string     `toml:"backoff_initial"`
	BackoffMax         string     `toml:"backoff_max"`
	SecurityMode       string     `toml:"security_mode"`
	TLS                tlsSection `toml:"tls"`
}

type tlsSection struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type trajectorySection struct {
	Capacity int     `toml:"capacity"`
	FPS      float64 `toml:"fps"`
}

type scriptSection struct {
	PollInterval  string `toml:"poll_interval"`
	RetryBudget   int    `toml:"retry_budget"`
	StorePoseName string `toml:"store_pose_name"`
}

// Load applies the keys present in path over DefaultConfig and validates
// the result. Keys absent from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("control_token") {
		cfg.ControlToken = strings.TrimSpace(raw.ControlToken)
	}

	if err := applyEngine(&cfg.Engine, raw.Engine, meta); err != nil {
		return Config{}, err
	}

	if meta.IsDefined("trajectory", "capacity") {
		cfg.Trajectory.Capacity = raw.Trajectory.Capacity
	}
	if meta.IsDefined("trajectory", "fps") {
		cfg.Trajectory.FPS = raw.Trajectory.FPS
	}

	if meta.IsDefined("script", "poll_interval") {
		d, err := parseDuration("script.poll_interval", raw.Script.PollInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.Script.PollInterval = d
	}
	if meta.IsDefined("script", "retry_budget") {
		cfg.Script.RetryBudget = raw.Script.RetryBudget
	}
	if meta.IsDefined("script", "store_pose_name") {
		cfg.Script.StorePoseName = strings.TrimSpace(raw.Script.StorePoseName)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEngine(cfg *link.Config, raw engineSection, meta toml.MetaData) error {
	if meta.IsDefined("engine", "address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("engine", "identity") {
		cfg.Identity = strings.TrimSpace(raw.Identity)
	}
	durations := []struct {
		key string
		raw string
		out *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"receive_timeout", raw.ReceiveTimeout, &cfg.ReceiveTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined("engine", d.key) {
			continue
		}
		v, err := parseDuration("engine."+d.key, d.raw)
		if err != nil {
			return err
		}
		*d.out = v
	}
	if meta.IsDefined("engine", "max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("engine", "security_mode") {
		cfg.SecurityMode = link.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("engine", "tls") {
		cfg.TLS = link.TLSConfig{
			Enabled:            raw.TLS.Enabled,
			Mutual:             raw.TLS.Mutual,
			CAFile:             strings.TrimSpace(raw.TLS.CAFile),
			CertFile:           strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
	}
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config missing name")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("config missing listen_addr")
	}
	if strings.TrimSpace(cfg.Engine.Address) == "" {
		return fmt.Errorf("config missing engine.address")
	}
	if err := cfg.Engine.WithDefaults().ValidateTransport(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if cfg.Trajectory.Capacity <= 0 {
		return fmt.Errorf("trajectory.capacity must be positive, got %d", cfg.Trajectory.Capacity)
	}
	if cfg.Trajectory.FPS <= 0 || cfg.Trajectory.FPS > trajectory.MaxFPS {
		return fmt.Errorf("trajectory.fps must be in (0, %g], got %g", trajectory.MaxFPS, cfg.Trajectory.FPS)
	}
	if cfg.Script.PollInterval <= 0 {
		return fmt.Errorf("script.poll_interval must be positive")
	}
	if cfg.Script.RetryBudget < script.Unbounded {
		return fmt.Errorf("script.retry_budget must be >= %d, got %d", script.Unbounded, cfg.Script.RetryBudget)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
