// Package config extends pkg/config's generic App/Logger/Database/Redis/API
// sections with the settings specific to the scheduler, scan worker pool
// and notification router binaries.
package config

import (
	"time"

	"github.com/forwardfactor/scanner/pkg/config"
)

// Polygon holds the Chain Provider's vendor credentials and rate limit.
type Polygon struct {
	APIKey            string `mapstructure:"api_key"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// Telegram holds the Messenger's bot credentials.
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
}

// Cadence holds the scan interval for each tier, as parseable durations.
type Cadence struct {
	High   string `mapstructure:"high"`
	Medium string `mapstructure:"medium"`
	Low    string `mapstructure:"low"`
}

// Scheduler holds the scheduler binary's settings.
type Scheduler struct {
	TickInterval  string  `mapstructure:"tick_interval"`
	Cadence       Cadence `mapstructure:"cadence"`
	MaxQueueDepth int64   `mapstructure:"max_queue_depth"`
}

// Scanner holds the scan worker pool's settings.
type Scanner struct {
	Concurrency      int    `mapstructure:"concurrency"`
	MaxFetchAttempts int    `mapstructure:"max_fetch_attempts"`
	BlockTimeout     string `mapstructure:"block_timeout"`
}

// Router holds the notification router's settings.
type Router struct {
	MaxSendAttempts int    `mapstructure:"max_send_attempts"`
	BlockTimeout    string `mapstructure:"block_timeout"`
}

// Base is the configuration shared by every binary.
type Base struct {
	App      config.App      `mapstructure:"app"`
	Logger   config.Logger   `mapstructure:"logger"`
	Database config.Database `mapstructure:"database"`
	Redis    config.Redis    `mapstructure:"redis"`
	API      config.API      `mapstructure:"api"`
}

// SchedulerConfig is the scheduling-service's full configuration.
type SchedulerConfig struct {
	Base      `mapstructure:",squash"`
	Scheduler Scheduler `mapstructure:"scheduler"`
}

// ScannerConfig is the scan-worker-pool's full configuration.
type ScannerConfig struct {
	Base    `mapstructure:",squash"`
	Polygon Polygon `mapstructure:"polygon"`
	Scanner Scanner `mapstructure:"scanner"`
}

// RouterConfig is the notification-router's full configuration.
type RouterConfig struct {
	Base     `mapstructure:",squash"`
	Telegram Telegram `mapstructure:"telegram"`
	Router   Router   `mapstructure:"router"`
}

// LoadScheduler loads a SchedulerConfig from path.
func LoadScheduler(path string) (*SchedulerConfig, error) {
	var cfg SchedulerConfig
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadScanner loads a ScannerConfig from path.
func LoadScanner(path string) (*ScannerConfig, error) {
	var cfg ScannerConfig
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadRouter loads a RouterConfig from path.
func LoadRouter(path string) (*RouterConfig, error) {
	var cfg RouterConfig
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseDuration parses s, falling back to def if s is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
