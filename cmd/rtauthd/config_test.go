package main

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

var (
	testAccessKey  = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32))
	testRefreshKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{2}, 32))
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtauthd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newServeFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	registerServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func TestLoadConfigFileThenFlags(t *testing.T) {
	path := writeConfig(t, `
listen: 0.0.0.0:9000
namespace: Edge
access-ttl: 5m
access-key: `+testAccessKey+`
refresh-key: `+testRefreshKey+`
log-format: text
`)

	cfg, err := loadConfig(newServeFlags(t, "--namespace", "Override"), path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Listen != "0.0.0.0:9000" {
		t.Fatalf("file value must win over flag default, got %q", cfg.Listen)
	}
	if cfg.Namespace != "Override" {
		t.Fatalf("explicit flag must win over file, got %q", cfg.Namespace)
	}
	if cfg.AccessTTL != 5*time.Minute {
		t.Fatalf("expected 5m access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 15*24*time.Hour {
		t.Fatalf("expected default refresh ttl, got %s", cfg.RefreshTTL)
	}

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		t.Fatalf("engineConfig: %v", err)
	}
	if engineCfg.Namespace != "Override" || engineCfg.JWT.AccessTTL != 5*time.Minute || len(engineCfg.JWT.AccessKey) != 32 {
		t.Fatalf("unexpected engine config %+v", engineCfg)
	}
}

func TestLoadConfigFlagsOnly(t *testing.T) {
	cfg, err := loadConfig(newServeFlags(t), "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != defaultListen || cfg.RedisURL != defaultRedisURL || cfg.LogFormat != defaultLogFormat {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := cfg.engineConfig(); err == nil {
		t.Fatal("expected missing keys to fail")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(newServeFlags(t), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEngineConfigRejectsSameKeys(t *testing.T) {
	cfg := daemonConfig{AccessKey: testAccessKey, RefreshKey: testAccessKey}
	if _, err := cfg.engineConfig(); err == nil {
		t.Fatal("expected identical keys to fail validation")
	}
	cfg.RefreshKey = "!!"
	if _, err := cfg.engineConfig(); err == nil || !strings.Contains(err.Error(), "refresh-key") {
		t.Fatalf("expected refresh-key decode error, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", "warn")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}

	if _, err := newLogger(&buf, "xml", "info"); err == nil {
		t.Fatal("expected invalid format error")
	}
	if _, err := newLogger(&buf, "text", "loud"); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestReadPassword(t *testing.T) {
	got, err := readPassword(strings.NewReader("correct-password-123\n"))
	if err != nil || got != "correct-password-123" {
		t.Fatalf("unexpected %q %v", got, err)
	}
	if _, err := readPassword(strings.NewReader("\n")); err == nil {
		t.Fatal("expected empty password error")
	}
}
