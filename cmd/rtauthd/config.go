package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/greensec/rtauth"
	"github.com/greensec/rtauth/jwt"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// daemonConfig is loaded from the YAML file first, then from flags the user
// set explicitly. Flag defaults never override file values.
type daemonConfig struct {
	Listen    string `koanf:"listen"`
	LogFormat string `koanf:"log-format"`
	LogLevel  string `koanf:"log-level"`
	RedisURL  string `koanf:"redis-url"`
	Database  string `koanf:"database"`

	Namespace        string        `koanf:"namespace"`
	RevocationPrefix string        `koanf:"revocation-prefix"`
	AccessTTL        time.Duration `koanf:"access-ttl"`
	RefreshTTL       time.Duration `koanf:"refresh-ttl"`
	AccessKey        string        `koanf:"access-key"`
	RefreshKey       string        `koanf:"refresh-key"`
	Issuer           string        `koanf:"issuer"`
	OTPIssuer        string        `koanf:"otp-issuer"`

	ThrottleAttempts int           `koanf:"throttle-attempts"`
	ThrottleWindow   time.Duration `koanf:"throttle-window"`

	Audit            bool `koanf:"audit"`
	LatencyHistogram bool `koanf:"latency-histogram"`
}

const (
	defaultListen    = "127.0.0.1:8080"
	defaultLogFormat = "json"
	defaultRedisURL  = "redis://127.0.0.1:6379/0"
	defaultDatabase  = "file:rtauth.db?_pragma=busy_timeout(5000)"
)

func registerServeFlags(fs *pflag.FlagSet) {
	defaults := rtauth.DefaultConfig()

	fs.String("listen", defaultListen, "HTTP listen address")
	fs.String("log-format", defaultLogFormat, "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("redis-url", defaultRedisURL, "Redis URL for the session store")
	fs.String("database", defaultDatabase, "SQLite DSN for the user store")
	fs.String("namespace", defaults.Namespace, "session key namespace")
	fs.String("revocation-prefix", "", "prefix for revocation marker keys")
	fs.Duration("access-ttl", defaults.JWT.AccessTTL, "access token lifetime")
	fs.Duration("refresh-ttl", defaults.JWT.RefreshTTL, "refresh token lifetime")
	fs.String("access-key", "", "base64 HMAC key for access tokens")
	fs.String("refresh-key", "", "base64 HMAC key for refresh tokens")
	fs.String("issuer", "", "iss claim for issued tokens")
	fs.String("otp-issuer", defaults.SecondFactor.Issuer, "issuer shown by authenticator apps")
	fs.Int("throttle-attempts", defaults.Throttle.MaxAttempts, "failed sign-ins or codes allowed per window (0 disables)")
	fs.Duration("throttle-window", defaults.Throttle.Window, "failure counting window")
	fs.Bool("audit", false, "write audit events to the log")
	fs.Bool("latency-histogram", false, "record authenticate latency")
}

func loadConfig(fs *pflag.FlagSet, path string) (daemonConfig, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return daemonConfig{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return daemonConfig{}, fmt.Errorf("load flags: %w", err)
	}

	var cfg daemonConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// engineConfig maps the daemon settings onto an rtauth.Config.
func (c daemonConfig) engineConfig() (rtauth.Config, error) {
	cfg := rtauth.DefaultConfig()
	if c.Namespace != "" {
		cfg.Namespace = c.Namespace
	}
	cfg.RevocationPrefix = c.RevocationPrefix
	if c.AccessTTL > 0 {
		cfg.JWT.AccessTTL = c.AccessTTL
	}
	if c.RefreshTTL > 0 {
		cfg.JWT.RefreshTTL = c.RefreshTTL
	}
	cfg.JWT.Issuer = c.Issuer
	if c.OTPIssuer != "" {
		cfg.SecondFactor.Issuer = c.OTPIssuer
	}
	if c.ThrottleAttempts <= 0 {
		cfg.Throttle.Enabled = false
	} else {
		cfg.Throttle.MaxAttempts = c.ThrottleAttempts
	}
	if c.ThrottleWindow > 0 {
		cfg.Throttle.Window = c.ThrottleWindow
	}
	cfg.Audit.Enabled = c.Audit
	cfg.Metrics.EnableLatencyHistograms = c.LatencyHistogram

	var err error
	if cfg.JWT.AccessKey, err = jwt.DecodeKey(c.AccessKey); err != nil {
		return rtauth.Config{}, fmt.Errorf("access-key: %w", err)
	}
	if cfg.JWT.RefreshKey, err = jwt.DecodeKey(c.RefreshKey); err != nil {
		return rtauth.Config{}, fmt.Errorf("refresh-key: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return rtauth.Config{}, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'json' or 'text'", format)
	}
}
