package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	tracking "livestock-cloud/internal/tracking/domain"
)

// Config defines tracking engine configuration.
type Config struct {
	PollInterval  time.Duration   `yaml:"poll_interval"`
	StaleAfter    time.Duration   `yaml:"stale_after"`
	PassTimeout   time.Duration   `yaml:"pass_timeout"`
	RestoreAlerts *bool           `yaml:"restore_alerts"`
	Feed          FeedConfig      `yaml:"feed"`
	Farms         []tracking.Farm `yaml:"farms"`
}

// FeedConfig locates the telemetry channel.
type FeedConfig struct {
	BaseURL   string `yaml:"base_url"`
	ChannelID string `yaml:"channel_id"`
	APIKey    string `yaml:"api_key"`
	Results   int    `yaml:"results"`
}

// LoadConfig loads config from yaml (TRACKING_CONFIG) and env.
func LoadConfig() (Config, error) {
	cfg := Config{
		PollInterval: getenvDuration("TRACKING_POLL_INTERVAL", DefaultPollInterval),
		StaleAfter:   getenvDuration("TRACKING_STALE_AFTER", DefaultStaleAfter),
		PassTimeout:  getenvDuration("TRACKING_PASS_TIMEOUT", 0),
		Feed: FeedConfig{
			BaseURL:   getenvDefault("THINGSPEAK_BASE_URL", "https://api.thingspeak.com"),
			ChannelID: os.Getenv("THINGSPEAK_CHANNEL_ID"),
			APIKey:    os.Getenv("THINGSPEAK_API_KEY"),
		},
	}

	if path := os.Getenv("TRACKING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("tracking config: %w", err)
		}
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.RestoreAlerts == nil {
		enabled := getenvDefault("TRACKING_RESTORE_ALERTS", "true") != "false"
		cfg.RestoreAlerts = &enabled
	}
	for i, farm := range cfg.Farms {
		if strings.TrimSpace(farm.ID) == "" {
			return cfg, fmt.Errorf("tracking config: farm %d has no id", i)
		}
		if farm.Geofence != nil {
			if err := farm.Geofence.Validate(); err != nil {
				return cfg, fmt.Errorf("tracking config: farm %s: %w", farm.ID, err)
			}
		}
	}
	return cfg, nil
}

// RestoreAlertsEnabled reports whether connection_restored alerts are emitted.
func (c Config) RestoreAlertsEnabled() bool {
	return c.RestoreAlerts == nil || *c.RestoreAlerts
}

// StaticFarms serves a fixed farm list.
type StaticFarms []tracking.Farm

// ListFarms implements FarmProvider.
func (s StaticFarms) ListFarms(_ context.Context) ([]tracking.Farm, error) {
	if s == nil {
		return nil, errors.New("tracking: no static farms configured")
	}
	out := make([]tracking.Farm, len(s))
	copy(out, s)
	return out, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
