package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"gopkg.in/yaml.v3"
)

type config struct {
	Port           string        `yaml:"port"`
	BackendURL     string        `yaml:"backendURL"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	LogLevel       string        `yaml:"logLevel"`
	// Sanitize filters the rendered bot answers through an HTML policy.
	Sanitize  bool   `yaml:"sanitize"`
	StorePath string `yaml:"storePath"`

	EventsPerMinute int `yaml:"eventsPerMinute"`
	EventBurst      int `yaml:"eventBurst"`

	// SessionIdleTimeout releases widget sessions without activity; a negative value keeps them.
	SessionIdleTimeout time.Duration `yaml:"sessionIdleTimeout"`

	Elements     widget.Elements       `yaml:"elements"`
	QuickReplies models.QuickReplySets `yaml:"quickReplies"`
}

const (
	defaultPort           = "8080"
	defaultBackendURL     = "http://localhost:5000"
	defaultRequestTimeout = 60 * time.Second
	defaultEventsPerMin   = 120
	defaultEventBurst     = 20
	defaultIdleTimeout    = 30 * time.Minute
)

func defaultConfig() config {
	return config{
		Port:               defaultPort,
		BackendURL:         defaultBackendURL,
		RequestTimeout:     defaultRequestTimeout,
		LogLevel:           "info",
		Sanitize:           true,
		EventsPerMinute:    defaultEventsPerMin,
		EventBurst:         defaultEventBurst,
		SessionIdleTimeout: defaultIdleTimeout,
		Elements:           widget.DefaultElements(),
		QuickReplies:       models.DefaultQuickReplySets(),
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig config

	raw := rawConfig(defaultConfig())
	raw.QuickReplies = nil
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.RequestTimeout <= 0 {
		return fmt.Errorf("requestTimeout must be positive, got %s", raw.RequestTimeout)
	}
	if raw.EventsPerMinute < 0 {
		return fmt.Errorf("eventsPerMinute must not be negative, got %d", raw.EventsPerMinute)
	}
	for name, set := range raw.QuickReplies {
		for i, qr := range set {
			if qr.Label == "" || qr.Action == "" {
				return fmt.Errorf("quick reply %d of set %q needs both a label and an action", i, name)
			}
		}
	}

	*c = config(raw)
	c.Elements = c.Elements.WithDefaults()
	c.QuickReplies = models.DefaultQuickReplySets().Merge(raw.QuickReplies)

	return nil
}

// loadConfig reads the config from r. A nil r yields the defaults. The PORT and BACKEND_URL environment
// variables take precedence over the file.
func loadConfig(r io.Reader) (config, error) {
	cfg := defaultConfig()
	if r != nil {
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if backendURL := os.Getenv("BACKEND_URL"); backendURL != "" {
		cfg.BackendURL = backendURL
	}

	return cfg, nil
}

func (c config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
