package rtauth

import (
	"bytes"
	"slices"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with keys", mutate: func(*Config) {}, wantValid: true},
		{name: "namespace empty", mutate: func(c *Config) { c.Namespace = "" }},
		{name: "namespace with colon", mutate: func(c *Config) { c.Namespace = "a:b" }},
		{name: "namespace with paren", mutate: func(c *Config) { c.Namespace = "a)" }},
		{name: "scheme with space", mutate: func(c *Config) { c.TokenScheme = "Bearer x" }},
		{name: "access ttl zero", mutate: func(c *Config) { c.JWT.AccessTTL = 0 }},
		{name: "refresh shorter than access", mutate: func(c *Config) { c.JWT.RefreshTTL = time.Second }},
		{name: "leeway valid", mutate: func(c *Config) { c.JWT.Leeway = 45 * time.Second }, wantValid: true},
		{name: "leeway too large", mutate: func(c *Config) { c.JWT.Leeway = 3 * time.Minute }},
		{name: "leeway negative", mutate: func(c *Config) { c.JWT.Leeway = -time.Second }},
		{name: "access key short", mutate: func(c *Config) { c.JWT.AccessKey = []byte("short") }},
		{name: "refresh key missing", mutate: func(c *Config) { c.JWT.RefreshKey = nil }},
		{name: "keys equal", mutate: func(c *Config) { c.JWT.RefreshKey = bytes.Repeat([]byte{1}, 32) }},
		{name: "digits 7", mutate: func(c *Config) { c.SecondFactor.Digits = 7 }},
		{name: "digits 8", mutate: func(c *Config) { c.SecondFactor.Digits = 8 }, wantValid: true},
		{name: "period zero", mutate: func(c *Config) { c.SecondFactor.Period = 0 }},
		{name: "skew too wide", mutate: func(c *Config) { c.SecondFactor.Skew = 6 }},
		{name: "algorithm lower case", mutate: func(c *Config) { c.SecondFactor.Algorithm = "sha512" }, wantValid: true},
		{name: "algorithm unknown", mutate: func(c *Config) { c.SecondFactor.Algorithm = "MD5" }},
		{name: "throttle attempts zero", mutate: func(c *Config) { c.Throttle.MaxAttempts = 0 }},
		{name: "throttle disabled ignores attempts", mutate: func(c *Config) {
			c.Throttle.Enabled = false
			c.Throttle.MaxAttempts = 0
		}, wantValid: true},
		{name: "audit buffer zero", mutate: func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config without keys must not validate")
	}
	if cfg.Namespace != "Server" || cfg.JWT.AccessTTL != 200*time.Second || cfg.JWT.RefreshTTL != 15*24*time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestConfigLint(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Issuer = ""
	cfg.JWT.Leeway = time.Minute
	cfg.JWT.AccessTTL = time.Hour
	cfg.SecondFactor.Skew = 2

	codes := cfg.Lint().Codes()
	for _, want := range []string{"leeway_large", "access_ttl_long", "issuer_empty", "revocation_prefix_empty", "audit_disabled", "second_factor_skew_wide"} {
		if !slices.Contains(codes, want) {
			t.Errorf("missing lint %q in %v", want, codes)
		}
	}
	if slices.Contains(codes, "refresh_ttl_long") {
		t.Errorf("unexpected refresh_ttl_long in %v", codes)
	}

	clean := testConfig()
	clean.RevocationPrefix = "revoked:"
	clean.Audit.Enabled = true
	clean.Audit.DropIfFull = false
	if ws := clean.Lint(); len(ws) != 0 {
		t.Fatalf("expected no lint warnings, got %v", ws.Codes())
	}
}

func TestBuilderCopiesConfig(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg).WithStore(downKV{})
	cfg.JWT.AccessKey[0] = 9

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	got := engine.Config()
	if got.JWT.AccessKey[0] != 1 {
		t.Fatal("engine config must not alias caller keys")
	}
	got.JWT.AccessKey[0] = 7
	if engine.Config().JWT.AccessKey[0] != 1 {
		t.Fatal("Config must return a copy")
	}
}

func TestBuilderErrors(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without a store")
	}
	if _, err := New().WithStore(downKV{}).Build(); err == nil {
		t.Fatal("expected error without keys")
	}

	b := New().WithConfig(testConfig()).WithStore(downKV{})
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error on second Build")
	}
}
