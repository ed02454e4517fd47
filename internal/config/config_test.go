package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadResolvesGlobalDefaults(t *testing.T) {
	path := writeConfig(t, `
[settings]
to = "ops@example.com"
interval = "2h"

[[feeds]]
urls = "https://example.com/feed.xml"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(cfg.Groups))
	}
	g := cfg.Groups[0]
	if len(g.Settings.To) != 1 || g.Settings.To[0] != "ops@example.com" {
		t.Fatalf("unexpected to: %v", g.Settings.To)
	}
	if g.Settings.Interval.Hours() != 2 {
		t.Fatalf("expected global interval override, got %v", g.Settings.Interval)
	}
	if g.Settings.Sanitize != true {
		t.Fatalf("expected default sanitize=true to survive with no feed override")
	}
}

func TestLoadPerFeedOverride(t *testing.T) {
	path := writeConfig(t, `
[settings]
to = "ops@example.com"
interval = "1h"

[[feeds]]
urls = ["https://a.example.com/feed.xml"]
interval = "10m"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Groups[0].Settings.Interval.Minutes() != 10 {
		t.Fatalf("expected per-feed interval override, got %v", cfg.Groups[0].Settings.Interval)
	}
}

func TestLoadMergesTemplateArgs(t *testing.T) {
	path := writeConfig(t, `
[settings]
to = "ops@example.com"
[settings.template-args]
brand = "Acme"
color = "blue"

[[feeds]]
urls = "https://example.com/feed.xml"
[feeds.template-args]
color = "red"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	args := cfg.Groups[0].Settings.TemplateArgs
	if args["brand"] != "Acme" {
		t.Fatalf("expected global key to survive merge, got %v", args)
	}
	if args["color"] != "red" {
		t.Fatalf("expected feed-level key to win on conflict, got %v", args)
	}
}

func TestLoadRejectsDuplicateURLSets(t *testing.T) {
	path := writeConfig(t, `
[settings]
to = "ops@example.com"

[[feeds]]
urls = ["https://example.com/feed.xml"]

[[feeds]]
urls = ["https://example.com/feed.xml"]
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duplicate urls_hash to be rejected")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[settings]
to = "ops@example.com"
bogus-key = true

[[feeds]]
urls = "https://example.com/feed.xml"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown config key to be rejected")
	}
}

func TestLoadRejectsMalformedAddress(t *testing.T) {
	path := writeConfig(t, `
[settings]
to = "not-an-address"

[[feeds]]
urls = "https://example.com/feed.xml"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected malformed mailbox address to be rejected")
	}
}

func TestLoadParsesFilterSpec(t *testing.T) {
	path := writeConfig(t, `
[settings]
to = "ops@example.com"

[[feeds]]
urls = "https://example.com/feed.xml"
[feeds.filter]
title-regex = "release"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Groups[0].Filter == nil || cfg.Groups[0].Filter.TitleRx == nil {
		t.Fatalf("expected filter to decode")
	}
}
