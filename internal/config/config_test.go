package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if len(cfg.Market.Districts) == 0 || len(cfg.Market.Goods) == 0 {
		t.Error("expected default market catalog")
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: "9999"
market:
  districts: [centrum]
  goods:
    drugs: 100
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Server.Port)
	}
	if !cfg.Market.Goods["drugs"].Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected drugs base price 100, got %s", cfg.Market.Goods["drugs"])
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("DATABASE_URL", "postgres://example/db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "7777" {
		t.Errorf("expected env port 7777, got %s", cfg.Server.Port)
	}
	if cfg.Storage.DatabaseURL != "postgres://example/db" {
		t.Errorf("expected env database url, got %s", cfg.Storage.DatabaseURL)
	}
}

func TestLoad_RejectsNonPositiveBasePrice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
market:
  goods:
    drugs: -5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative base price")
	}
}
