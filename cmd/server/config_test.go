package main

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, cfg config)
	}{
		{
			name: "Empty file",
			yaml: "",
			check: func(t *testing.T, cfg config) {
				if cfg.Port != "8080" {
					t.Errorf("Port = %q, want 8080", cfg.Port)
				}
				if cfg.RequestTimeout != 60*time.Second {
					t.Errorf("RequestTimeout = %v, want 60s", cfg.RequestTimeout)
				}
				if !cfg.Sanitize {
					t.Error("Sanitize should default to true")
				}
				if cfg.SessionIdleTimeout != 30*time.Minute {
					t.Errorf("SessionIdleTimeout = %v, want 30m", cfg.SessionIdleTimeout)
				}
				if cfg.Elements.ChatBody != "chat-body" {
					t.Errorf("Elements.ChatBody = %q, want chat-body", cfg.Elements.ChatBody)
				}
				if len(cfg.QuickReplies[models.QuickReplyWelcome]) != 4 {
					t.Errorf("welcome quick replies = %d, want 4", len(cfg.QuickReplies[models.QuickReplyWelcome]))
				}
			},
		},
		{
			name: "Full file",
			yaml: `
port: "9090"
backendURL: http://backend:5000
requestTimeout: 30s
logLevel: debug
sanitize: false
storePath: /tmp/widget.db
eventsPerMinute: 10
eventBurst: 3
sessionIdleTimeout: 5m
elements:
  chatBody: transcript
`,
			check: func(t *testing.T, cfg config) {
				if cfg.Port != "9090" || cfg.BackendURL != "http://backend:5000" {
					t.Errorf("Port, BackendURL = %q, %q", cfg.Port, cfg.BackendURL)
				}
				if cfg.RequestTimeout != 30*time.Second {
					t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
				}
				if cfg.Sanitize {
					t.Error("Sanitize should be false")
				}
				if cfg.StorePath != "/tmp/widget.db" || cfg.EventsPerMinute != 10 || cfg.EventBurst != 3 {
					t.Errorf("StorePath, EventsPerMinute, EventBurst = %q, %d, %d",
						cfg.StorePath, cfg.EventsPerMinute, cfg.EventBurst)
				}
				if cfg.SessionIdleTimeout != 5*time.Minute {
					t.Errorf("SessionIdleTimeout = %v, want 5m", cfg.SessionIdleTimeout)
				}
				if cfg.Elements.ChatBody != "transcript" {
					t.Errorf("Elements.ChatBody = %q, want transcript", cfg.Elements.ChatBody)
				}
				if cfg.Elements.UserInput != "user-input" {
					t.Errorf("Elements.UserInput = %q, want the default", cfg.Elements.UserInput)
				}
				level, err := cfg.level()
				if err != nil || level != slog.LevelDebug {
					t.Errorf("level() = %v, %v, want debug", level, err)
				}
			},
		},
		{
			name: "Quick replies merged over defaults",
			yaml: `
quickReplies:
  welcome:
    - label: Fees
      action: What are the tuition fees?
  scholarships:
    - label: Scholarships
      action: List scholarships
`,
			check: func(t *testing.T, cfg config) {
				welcome := cfg.QuickReplies[models.QuickReplyWelcome]
				if len(welcome) != 1 || welcome[0].Label != "Fees" {
					t.Errorf("welcome quick replies = %+v", welcome)
				}
				if len(cfg.QuickReplies[models.QuickReplyUniversities]) != 4 {
					t.Error("universities quick replies should keep the defaults")
				}
				if len(cfg.QuickReplies["scholarships"]) != 1 {
					t.Error("scholarships quick replies should be added")
				}
			},
		},
		{
			name: "Environment overrides",
			yaml: "port: \"9090\"\nbackendURL: http://file:5000\n",
			env:  map[string]string{"PORT": "7070", "BACKEND_URL": "http://env:5000"},
			check: func(t *testing.T, cfg config) {
				if cfg.Port != "7070" || cfg.BackendURL != "http://env:5000" {
					t.Errorf("Port, BackendURL = %q, %q, want the environment values", cfg.Port, cfg.BackendURL)
				}
			},
		},
		{
			name:    "Zero timeout",
			yaml:    "requestTimeout: 0s\n",
			wantErr: true,
		},
		{
			name:    "Negative rate",
			yaml:    "eventsPerMinute: -1\n",
			wantErr: true,
		},
		{
			name:    "Quick reply without action",
			yaml:    "quickReplies:\n  welcome:\n    - label: Fees\n",
			wantErr: true,
		},
		{
			name:    "Malformed YAML",
			yaml:    "port: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PORT", "")
			t.Setenv("BACKEND_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := loadConfig(strings.NewReader(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BACKEND_URL", "")

	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.BackendURL != "http://localhost:5000" {
		t.Errorf("Port, BackendURL = %q, %q, want the defaults", cfg.Port, cfg.BackendURL)
	}
}

func TestOpenConfigMissingFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BACKEND_URL", "")

	cfg, err := openConfig(t.TempDir() + "/config.yaml")
	if err != nil {
		t.Fatalf("openConfig() error = %v", err)
	}
	if cfg.EventsPerMinute != 120 {
		t.Errorf("EventsPerMinute = %d, want 120", cfg.EventsPerMinute)
	}
}

func TestConfigLevel(t *testing.T) {
	if _, err := (config{LogLevel: "verbose"}).level(); err == nil {
		t.Error("level() should reject an unknown level")
	}
	level, err := (config{LogLevel: "warn"}).level()
	if err != nil || level != slog.LevelWarn {
		t.Errorf("level() = %v, %v, want warn", level, err)
	}
}
