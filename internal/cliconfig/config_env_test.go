package cliconfig

import (
	"reflect"
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		changed map[string]bool
		check   func(t *testing.T, cfg Config)
		wantErr bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"CHANNELD_CHANNEL":         "data",
				"CHANNELD_PEERS":           "10.0.0.1, 10.0.0.2:1985,",
				"CHANNELD_MSG_TIMEOUT":     "10m",
				"CHANNELD_READER_TIMEOUT":  "5",
				"CHANNELD_MAX_PEER_WRITES": "4",
				"CHANNELD_FILTER_LATER":    "true",
				"CHANNELD_CHECKSUM":        "md5",
			},
			changed: map[string]bool{},
			check: func(t *testing.T, cfg Config) {
				if cfg.Channel != "data" {
					t.Errorf("Channel = %q", cfg.Channel)
				}
				if !reflect.DeepEqual(cfg.Peers, []string{"10.0.0.1", "10.0.0.2:1985"}) {
					t.Errorf("Peers = %q", cfg.Peers)
				}
				if cfg.MessageTimeout != 10*time.Minute {
					t.Errorf("MessageTimeout = %v", cfg.MessageTimeout)
				}
				if cfg.ReaderTimeout != 5*time.Second {
					t.Errorf("ReaderTimeout = %v", cfg.ReaderTimeout)
				}
				if cfg.MaxPeerWrites != 4 {
					t.Errorf("MaxPeerWrites = %v", cfg.MaxPeerWrites)
				}
				if !cfg.FilterLater {
					t.Error("FilterLater = false")
				}
				if cfg.Checksum != "md5" {
					t.Errorf("Checksum = %q", cfg.Checksum)
				}
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"CHANNELD_CHANNEL": "data",
				"CHANNELD_SERVICE": "rrd",
			},
			changed: map[string]bool{"channel": true},
			check: func(t *testing.T, cfg Config) {
				if cfg.Channel != "" {
					t.Errorf("Channel = %q, want flag value kept", cfg.Channel)
				}
				if cfg.Service != "rrd" {
					t.Errorf("Service = %q", cfg.Service)
				}
			},
		},
		{
			name: "xymon fallbacks",
			envVars: map[string]string{
				"XYMONHOME":               "/usr/lib/xymon/server",
				"XYMONLAUNCH_LOGFILENAME": "/var/log/xymon/status.log",
			},
			changed: map[string]bool{},
			check: func(t *testing.T, cfg Config) {
				if cfg.IPCHome != "/usr/lib/xymon/server" {
					t.Errorf("IPCHome = %q", cfg.IPCHome)
				}
				if cfg.LogFile != "/var/log/xymon/status.log" {
					t.Errorf("LogFile = %q", cfg.LogFile)
				}
			},
		},
		{
			name: "own variables beat xymon fallbacks",
			envVars: map[string]string{
				"XYMONHOME":         "/usr/lib/xymon/server",
				"CHANNELD_IPC_HOME": "/srv/xymon",
			},
			changed: map[string]bool{},
			check: func(t *testing.T, cfg Config) {
				if cfg.IPCHome != "/srv/xymon" {
					t.Errorf("IPCHome = %q", cfg.IPCHome)
				}
			},
		},
		{
			name:    "returns error for invalid duration",
			envVars: map[string]string{"CHANNELD_DRAIN_TIMEOUT": "not-a-duration"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid int",
			envVars: map[string]string{"CHANNELD_MULTIRUN": "many"},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"XYMONHOME", "XYMONLAUNCH_LOGFILENAME"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			var cfg Config
			err := ApplyEnvConfig(&cfg, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyEnvConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

// Precedence order: CLI > Env > File.
func TestConfigPrecedence(t *testing.T) {
	trueVal := true

	fileConf := FileConfig{
		Channel:     "status",
		Service:     "alert",
		Filter:      "^@@page",
		FilterLater: &trueVal,
	}

	t.Setenv("CHANNELD_CHANNEL", "page")
	t.Setenv("CHANNELD_SERVICE", "client")
	t.Setenv("CHANNELD_LOG_LEVEL", "debug")

	changed := map[string]bool{"channel": true}
	cfg := Config{Channel: "stachg"}

	if err := ApplyFileConfig(&cfg, fileConf, changed); err != nil {
		t.Fatalf("ApplyFileConfig failed: %v", err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatalf("ApplyEnvConfig failed: %v", err)
	}

	if cfg.Channel != "stachg" {
		t.Errorf("Channel = %v, want stachg (CLI should win)", cfg.Channel)
	}
	if cfg.Service != "client" {
		t.Errorf("Service = %v, want client (env should override file)", cfg.Service)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug (env should set)", cfg.LogLevel)
	}
	if cfg.Filter != "^@@page" || !cfg.FilterLater {
		t.Errorf("Filter = %q, FilterLater = %v (file should set)", cfg.Filter, cfg.FilterLater)
	}
}
