package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  colors: true\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"log.level", cfg.Log.Level, "info"},
		{"database.path", cfg.Database.Path, "./lightstage.sqlite"},
		{"engine.tick_interval", cfg.Engine.TickInterval.Duration(), 100 * time.Millisecond},
		{"api.port", cfg.API.Port, 8080},
		{"hue.rate_limit_rps", cfg.Hue.RateLimitRPS, 10.0},
		{"mqtt.topic_prefix", cfg.MQTT.TopicPrefix, "lightstage"},
		{"ledger.enabled", cfg.Ledger.IsEnabled(), true},
		{"ledger.retention", cfg.Ledger.Retention(), 30 * 24 * time.Hour},
		{"eventbus.workers", cfg.EventBus.GetWorkers(), 4},
		{"eventbus.queue_size", cfg.EventBus.GetQueueSize(), 100},
		{"shutdown_timeout", cfg.ShutdownTimeout.Duration(), 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("LIGHTSTAGE_TEST_TOKEN", "secret")

	cfg, err := Load(writeConfig(t, `
hue:
  enabled: true
  bridge: ${LIGHTSTAGE_TEST_BRIDGE:192.168.1.2}
  token: ${LIGHTSTAGE_TEST_TOKEN}
ledger:
  enabled: false
effects:
  scripts:
    - name: Candle
      path: candle.lua
    - name: Strobe
      path: strobe.lua
      interval: 250ms
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Hue.Bridge != "192.168.1.2" || cfg.Hue.Token != "secret" {
		t.Errorf("hue = %+v", cfg.Hue)
	}
	if cfg.Ledger.IsEnabled() {
		t.Error("ledger should be disabled")
	}
	if len(cfg.Effects.Scripts) != 2 {
		t.Fatalf("scripts = %+v", cfg.Effects.Scripts)
	}
	if got := cfg.Effects.Scripts[0].Interval.Duration(); got != time.Second {
		t.Errorf("default script interval = %v, want 1s", got)
	}
	if got := cfg.Effects.Scripts[1].Interval.Duration(); got != 250*time.Millisecond {
		t.Errorf("script interval = %v, want 250ms", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "engine:\n  tick_interval: soon\n")); err == nil {
		t.Error("expected error for bad duration")
	}
}
