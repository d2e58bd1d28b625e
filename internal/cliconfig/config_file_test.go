package cliconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true

	tests := []struct {
		name    string
		fc      FileConfig
		changed map[string]bool
		initial Config
		check   func(t *testing.T, cfg Config)
		wantErr bool
	}{
		{
			name: "applies values",
			fc: FileConfig{
				Channel:        "client",
				Peers:          []string{"a", "b:2000"},
				Workers:        []string{"xymond_client --local"},
				MultiRun:       2,
				MessageTimeout: "45s",
				MaxQueueDepth:  100,
				FilterLater:    &trueVal,
				Daemon:         &trueVal,
				PIDFile:        "/run/channeld.pid",
			},
			changed: map[string]bool{},
			initial: DefaultConfig(),
			check: func(t *testing.T, cfg Config) {
				if cfg.Channel != "client" {
					t.Errorf("Channel = %q", cfg.Channel)
				}
				if !reflect.DeepEqual(cfg.Peers, []string{"a", "b:2000"}) {
					t.Errorf("Peers = %q", cfg.Peers)
				}
				if len(cfg.Workers) != 1 {
					t.Errorf("Workers = %q", cfg.Workers)
				}
				if cfg.MultiRun != 2 || cfg.MaxQueueDepth != 100 {
					t.Errorf("MultiRun = %d, MaxQueueDepth = %d", cfg.MultiRun, cfg.MaxQueueDepth)
				}
				if cfg.MessageTimeout != 45*time.Second {
					t.Errorf("MessageTimeout = %v", cfg.MessageTimeout)
				}
				if !cfg.FilterLater || !cfg.Daemon {
					t.Errorf("FilterLater = %v, Daemon = %v", cfg.FilterLater, cfg.Daemon)
				}
				if cfg.PIDFile != "/run/channeld.pid" {
					t.Errorf("PIDFile = %q", cfg.PIDFile)
				}
				if cfg.DefaultPort != 1984 {
					t.Errorf("DefaultPort = %d, want default kept", cfg.DefaultPort)
				}
			},
		},
		{
			name:    "respects changed flags",
			fc:      FileConfig{Channel: "client", Peers: []string{"a"}},
			changed: map[string]bool{"channel": true, "peer": true},
			initial: Config{Channel: "data", Peers: []string{"cli"}},
			check: func(t *testing.T, cfg Config) {
				if cfg.Channel != "data" {
					t.Errorf("Channel = %q, want data", cfg.Channel)
				}
				if !reflect.DeepEqual(cfg.Peers, []string{"cli"}) {
					t.Errorf("Peers = %q, want [cli]", cfg.Peers)
				}
			},
		},
		{
			name:    "returns error for invalid duration",
			fc:      FileConfig{IdleWait: "later"},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fc, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyFileConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
channel = "status"
ipc_home = "/usr/lib/xymon/server"
peers = ["10.0.0.1", "10.0.0.2:1985"]
message_timeout = "1m"
max_peer_writes = 3
filter = '^@@status#\d+/web'
filter_later = true
checksum = "md5"
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.Channel != "status" {
		t.Errorf("Channel = %v, want status", fc.Channel)
	}
	if len(fc.Peers) != 2 {
		t.Errorf("Peers = %v", fc.Peers)
	}
	if fc.MessageTimeout != "1m" {
		t.Errorf("MessageTimeout = %v, want 1m", fc.MessageTimeout)
	}
	if fc.MaxPeerWrites != 3 {
		t.Errorf("MaxPeerWrites = %v, want 3", fc.MaxPeerWrites)
	}
	if fc.Filter != `^@@status#\d+/web` {
		t.Errorf("Filter = %q", fc.Filter)
	}
	if fc.FilterLater == nil || !*fc.FilterLater {
		t.Errorf("FilterLater = %v, want true", fc.FilterLater)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
channel = "status"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestLoadFileConfig_UnknownKey(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "typo.toml")
	if err := os.WriteFile(configPath, []byte("chanel = \"status\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFileConfig(configPath); err == nil {
		t.Error("LoadFileConfig() expected error for unknown key")
	}
}

func TestLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("channel = \"notes\"\nservice = \"rrd\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHANNELD_SERVICE", "history")

	cfg := DefaultConfig()
	if err := Load(&cfg, configPath, map[string]bool{}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Channel != "notes" || cfg.Service != "history" {
		t.Errorf("Channel = %q, Service = %q", cfg.Channel, cfg.Service)
	}

	cfg = DefaultConfig()
	if err := Load(&cfg, filepath.Join(t.TempDir(), "missing.toml"), map[string]bool{}); err != nil {
		t.Errorf("Load() with missing file error = %v", err)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".channeld") {
		t.Errorf("DefaultConfigPath() = %v, should contain .channeld", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}

	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}
