package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
environment: test
backend:
  type: none
poll:
  enabled: true
  interval: 15s
  category: marketData
  symbols: ["bitcoin"]
engine:
  breaker:
    threshold: 3
    cooldown: 2m
providers:
  - name: marketData
    mode: round_robin
    ttl: 30s
    primary:
      name: coingecko
      base_endpoint: https://api.coingecko.com/api/v3/simple/price
      normalizer: coingecko_price
    fallbacks:
      - name: binance
        base_endpoint: https://api.binance.com/api/v3/ticker/24hr
        normalizer: binance_ticker
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "test" || cfg.Backend.Type != "none" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Poll.Interval != 15*time.Second {
		t.Fatalf("poll interval = %v", cfg.Poll.Interval)
	}
	if cfg.Engine.Breaker.Threshold != 3 || cfg.Engine.Breaker.Cooldown != 2*time.Minute {
		t.Fatalf("breaker config = %+v", cfg.Engine.Breaker)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Primary.Name != "coingecko" {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
	if len(cfg.Providers[0].Fallbacks) != 1 {
		t.Fatalf("fallbacks = %+v", cfg.Providers[0].Fallbacks)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("SYMBOLS", "bitcoin,ethereum")
	t.Setenv("PROVIDER_KEY_COINGECKO", "cg-secret")

	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.Type != "kafka" {
		t.Fatalf("backend = %s", cfg.Backend.Type)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if len(cfg.Poll.Symbols) != 2 {
		t.Fatalf("symbols = %v", cfg.Poll.Symbols)
	}
	if cfg.Providers[0].Primary.AuthKey != "cg-secret" {
		t.Fatalf("auth key override missing: %q", cfg.Providers[0].Primary.AuthKey)
	}
}

func TestValidateRejectsDuplicateProviders(t *testing.T) {
	bad := `
environment: test
backend:
  type: none
providers:
  - name: a
    primary:
      name: dup
      base_endpoint: https://x.example
  - name: b
    primary:
      name: dup
      base_endpoint: https://y.example
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatalf("duplicate provider names must fail validation")
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	bad := `
environment: test
backend:
  type: none
providers:
  - name: a
    mode: random
    primary:
      name: p
      base_endpoint: https://x.example
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatalf("unknown selection mode must fail validation")
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	bad := `
environment: test
backend:
  type: postgres
providers:
  - name: a
    primary:
      name: p
      base_endpoint: https://x.example
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatalf("unknown backend must fail validation")
	}
}

func TestValidateRequiresPollCategory(t *testing.T) {
	bad := `
environment: test
backend:
  type: none
poll:
  enabled: true
  symbols: ["bitcoin"]
providers:
  - name: a
    primary:
      name: p
      base_endpoint: https://x.example
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatalf("enabled poll without category must fail validation")
	}
}
