package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"statecraft.ai/internal/vars"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8777" {
		t.Fatalf("listen: %q", cfg.Listen)
	}
	if cfg.Limits.MaxSingleEvents != 64 {
		t.Fatalf("max_single_events: %d", cfg.Limits.MaxSingleEvents)
	}
	if cfg.Snapshot.Every != 60*time.Second {
		t.Fatalf("snapshot.every: %v", cfg.Snapshot.Every)
	}
}

func TestLoadFileOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	src := `
listen: ":9000"
limits:
  max_tree_bytes: 2048
  max_single_events: 0
snapshot:
  dir: "/tmp/snaps"
seeds:
  - session: chat_1
    namespace: MC
    tree:
      MC:
        金币: 100
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.Limits.MaxTreeBytes != 2048 {
		t.Fatalf("cfg: %+v", cfg)
	}
	// Zero fans back to the default.
	if cfg.Limits.MaxSingleEvents != 64 {
		t.Fatalf("max_single_events: %d", cfg.Limits.MaxSingleEvents)
	}
	if cfg.Snapshot.Every != 60*time.Second {
		t.Fatalf("snapshot.every: %v", cfg.Snapshot.Every)
	}
	if len(cfg.Seeds) != 1 || cfg.Seeds[0].Session != "chat_1" {
		t.Fatalf("seeds: %+v", cfg.Seeds)
	}
	tree := vars.FromGo(cfg.Seeds[0].Tree)
	v, ok := vars.GetPath(tree, "MC.金币")
	if !ok {
		t.Fatalf("seed tree missing path")
	}
	if n, _ := v.AsNumber(); n != 100 {
		t.Fatalf("seed 金币: %v", n)
	}
}

func TestValidateRejectsBadSeeds(t *testing.T) {
	tree := map[string]any{"MC": map[string]any{}}

	cfg := defaults()
	cfg.Seeds = []SeedSpec{{Session: "chat_1", Namespace: "", Tree: tree}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty namespace")
	}

	cfg.Seeds = []SeedSpec{
		{Session: "chat_1", Namespace: "MC", Tree: tree},
		{Session: "chat_1", Namespace: "MC", Tree: tree},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for duplicate selector")
	}

	cfg.Seeds = []SeedSpec{{Session: "chat_1", Namespace: "MC"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty tree")
	}
}
