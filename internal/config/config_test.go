package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DataDir == "" {
		t.Error("DataDir is empty")
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("Sync.Interval = %v, want 30s", cfg.Sync.Interval)
	}
	if cfg.Sync.SkewWindow != 5*time.Minute {
		t.Errorf("Sync.SkewWindow = %v, want 5m", cfg.Sync.SkewWindow)
	}
	if cfg.Daemon.DashboardPort != 7591 {
		t.Errorf("Daemon.DashboardPort = %d, want 7591", cfg.Daemon.DashboardPort)
	}
	if !cfg.Daemon.InboxEnabled {
		t.Error("Daemon.InboxEnabled = false, want true")
	}
	if cfg.SyncConfigured() {
		t.Error("SyncConfigured() = true with no remote URL")
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "satchel.toml")
	content := `
data_dir = "` + dir + `"

[remote]
url = "libsql://satchel-test.turso.io"
token = "tok"

[sync]
interval = "10s"

[daemon]
dashboard_port = 0
inbox_enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cfg.SyncConfigured() {
		t.Error("SyncConfigured() = false, want true")
	}
	if cfg.Remote.Token != "tok" {
		t.Errorf("Remote.Token = %q, want %q", cfg.Remote.Token, "tok")
	}
	if cfg.Sync.Interval != 10*time.Second {
		t.Errorf("Sync.Interval = %v, want 10s", cfg.Sync.Interval)
	}
	if cfg.InboxDir() != "" {
		t.Errorf("InboxDir() = %q with inbox disabled, want empty", cfg.InboxDir())
	}
	if got, want := cfg.DBPath(), filepath.Join(dir, "satchel.db"); got != want {
		t.Errorf("DBPath() = %q, want %q", got, want)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Error("Load(missing explicit file) succeeded, want error")
	}
}

// The device id is generated once and then stable across loads.
func TestDeviceIDStable(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}

	first, err := cfg.DeviceID()
	if err != nil {
		t.Fatalf("DeviceID() failed: %v", err)
	}
	if first == "" {
		t.Fatal("DeviceID() returned empty id")
	}

	second, err := cfg.DeviceID()
	if err != nil {
		t.Fatalf("second DeviceID() failed: %v", err)
	}
	if second != first {
		t.Errorf("DeviceID() = %q on second call, want %q", second, first)
	}

	data, err := os.ReadFile(filepath.Join(cfg.DataDir, "device_id"))
	if err != nil {
		t.Fatalf("device_id file not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("device_id file is empty")
	}
}

func TestNewLoggerPrefix(t *testing.T) {
	cfg := &Config{}
	logger := cfg.NewLogger("daemon")
	if got := logger.Prefix(); got != "[daemon] " {
		t.Errorf("Prefix() = %q, want %q", got, "[daemon] ")
	}
}
