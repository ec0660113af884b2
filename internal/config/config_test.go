package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsUnknownExchange(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.Exchanges = []string{"coinbase"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown exchange")
	}
}

func TestValidateRejectsEmptySymbols(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.Symbols = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty symbol list")
	}
}

func TestLoadFileOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "log_level: debug\ningestion:\n  exchanges: [binance]\n  symbols: [BTC/USDT]\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if len(cfg.Ingestion.Exchanges) != 1 || cfg.Ingestion.Exchanges[0] != "binance" {
		t.Errorf("Exchanges = %v, want [binance]", cfg.Ingestion.Exchanges)
	}
	// Fields the file omitted keep their Default() value.
	if cfg.Cache.Channel != Default().Cache.Channel {
		t.Errorf("Cache.Channel = %q, want default %q", cfg.Cache.Channel, Default().Cache.Channel)
	}
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if cfg.LogLevel != Default().LogLevel {
		t.Error("expected defaults to be returned alongside the error")
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Setenv("PIPELINE_TELEGRAM_BOT_TOKEN", "tok123")
	t.Setenv("PIPELINE_TELEGRAM_CHAT_ID", "chat456")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Telegram.BotToken != "tok123" {
		t.Errorf("BotToken = %q, want tok123", cfg.Telegram.BotToken)
	}
	if cfg.Telegram.ChatID != "chat456" {
		t.Errorf("ChatID = %q, want chat456", cfg.Telegram.ChatID)
	}
}
