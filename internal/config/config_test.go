package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.NegotiationPollInterval != time.Second {
		t.Fatalf("expected default poll interval 1s, got %v", cfg.NegotiationPollInterval)
	}
	if cfg.ControlPlaneProviderURL != cfg.ControlPlaneURL {
		t.Fatalf("expected provider URL to fall back to %q, got %q", cfg.ControlPlaneURL, cfg.ControlPlaneProviderURL)
	}
	if !cfg.ServiceAllow.MatchString("edcs://partner.example.com") {
		t.Fatal("default service allow pattern should match edcs URLs")
	}
	if cfg.ServiceDeny.MatchString("http://partner.example.com") {
		t.Fatal("default service deny pattern should match nothing")
	}
}

func TestLoadSyncConnectors(t *testing.T) {
	t.Setenv("TSUNAGU_SYNC_CONNECTORS", "BPNL01=http://a.example.com, BPNL02=https://b.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.SyncConnectors) != 2 {
		t.Fatalf("expected 2 connectors, got %d", len(cfg.SyncConnectors))
	}
	if cfg.SyncConnectors["BPNL02"] != "https://b.example.com" {
		t.Fatalf("unexpected connector url %q", cfg.SyncConnectors["BPNL02"])
	}
}

func TestLoadRejectsMalformedConnectors(t *testing.T) {
	t.Setenv("TSUNAGU_SYNC_CONNECTORS", "not-a-pair")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed connector entry")
	}
}

func TestLoadRejectsInvalidPattern(t *testing.T) {
	t.Setenv("TSUNAGU_SERVICE_ALLOW", "([unclosed")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid allow pattern")
	}
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	t.Setenv("TSUNAGU_WORKER_POOL_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero worker pool size")
	}
}
