package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

const validYAML = `
app:
  exchange: mock
  dry_run: true
trading:
  symbols: ["BTCUSDT", "ETHUSDT"]
  strategy: rsi
  entry_ladder:
    - {trigger_pct: 0, notional: 100}
    - {trigger_pct: -3, notional: 100}
  exit_ladder:
    - {trigger_pct: 5, fraction: 0.5}
    - {trigger_pct: -8, fraction: 1.0}
system:
  log_level: INFO
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if len(cfg.Trading.Symbols) != 2 {
		t.Errorf("Expected 2 symbols, got %d", len(cfg.Trading.Symbols))
	}
	if cfg.Trading.RequiredCandles != 100 {
		t.Errorf("Expected default required_candles 100, got %d", cfg.Trading.RequiredCandles)
	}
	if cfg.Timing.OrderWaitTimeout != 30 {
		t.Errorf("Expected default order_wait_timeout 30, got %d", cfg.Timing.OrderWaitTimeout)
	}
	if cfg.Feed.Mode != "websocket" {
		t.Errorf("Expected default feed mode websocket, got %s", cfg.Feed.Mode)
	}
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_TRADER_API_KEY", "expanded_key_value")

	yaml := strings.Replace(validYAML, "app:", "exchange:\n  api_key: ${TEST_TRADER_API_KEY}\napp:", 1)
	path := writeTempConfig(t, yaml)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Exchange.APIKey != "expanded_key_value" {
		t.Errorf("Expected env var to be expanded, got %q", cfg.Exchange.APIKey)
	}
}

func TestValidate_LiveRequiresCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Exchange = "binance"
	cfg.App.DryRun = false
	cfg.Exchange.APIKey = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for live trading without API key")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("Expected api_key error, got: %v", err)
	}
}

func TestValidate_EntryLadder(t *testing.T) {
	tests := []struct {
		name   string
		ladder []EntryTierConfig
		want   string
	}{
		{
			name:   "empty ladder",
			ladder: nil,
			want:   "at least one entry tier",
		},
		{
			name:   "first tier must be zero",
			ladder: []EntryTierConfig{{TriggerPct: -1, Notional: 100}},
			want:   "first entry tier",
		},
		{
			name: "triggers must decrease",
			ladder: []EntryTierConfig{
				{TriggerPct: 0, Notional: 100},
				{TriggerPct: -5, Notional: 100},
				{TriggerPct: -3, Notional: 100},
			},
			want: "strictly decreasing",
		},
		{
			name: "notional must be positive",
			ladder: []EntryTierConfig{
				{TriggerPct: 0, Notional: 0},
			},
			want: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Trading.EntryLadder = tt.ladder

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ExitLadder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trading.ExitLadder = []ExitTierConfig{{TriggerPct: 5, Fraction: 1.5}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for fraction > 1")
	}

	cfg.Trading.ExitLadder = []ExitTierConfig{{TriggerPct: 0, Fraction: 0.5}}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for zero trigger")
	}
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "supersecretapikey123"
	cfg.Exchange.SecretKey = "anotherlongsecret456"

	s := cfg.String()
	if strings.Contains(s, "supersecretapikey123") {
		t.Error("API key should be masked in String() output")
	}
	if strings.Contains(s, "anotherlongsecret456") {
		t.Error("Secret key should be masked in String() output")
	}
	if !strings.Contains(s, "supe") {
		t.Error("Masked key should retain a short prefix")
	}
}
