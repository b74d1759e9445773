// Package common provides shared utilities for Pulse
package common

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Pulse
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Venue       VenueConfig    `toml:"venue"`
	Telegram    TelegramConfig `toml:"telegram"`
	Monitor     MonitorConfig  `toml:"monitor"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig holds the status HTTP surface configuration.
// Port 0 disables the HTTP server entirely.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the embedded store location.
type StorageConfig struct {
	Path string `toml:"path"`
}

// VenueConfig holds the upstream venue configuration.
type VenueConfig struct {
	BaseURL string `toml:"base_url"`
	WebURL  string `toml:"web_url"` // market page links in alerts, optional
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *VenueConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// TelegramConfig holds the notification transport configuration.
// An empty token disables delivery; alerts are logged instead.
type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// Enabled reports whether alerts can actually be delivered.
func (c *TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// MonitorConfig holds the detection pipeline tuning surface.
type MonitorConfig struct {
	MinTotalVolume        float64  `toml:"min_total_volume"`
	MinDeltaVolume        float64  `toml:"min_delta_volume"`
	ZThreshold            float64  `toml:"z_threshold"`
	UseAdaptiveThresholds bool     `toml:"use_adaptive_thresholds"`
	DeepExtremeMinChange  float64  `toml:"deep_extreme_min_change"`
	NearExtremeMinChange  float64  `toml:"near_extreme_min_change"`
	MiddleMinChange       float64  `toml:"middle_min_change"`
	MinAbsPriceChange     float64  `toml:"min_abs_price_change"` // fallback when adaptive gating is off
	VolumeBoostFactor     float64  `toml:"volume_boost_factor"`
	PageSize              int      `toml:"page_size"`
	PageWorkers           int      `toml:"page_workers"`
	DetailNotFoundStop    int      `toml:"detail_not_found_stop"`
	MultiNotFoundStop     int      `toml:"multi_not_found_stop"`
	TitleBlocklist        []string `toml:"title_blocklist"`
	TitleBlocklistRegex   string   `toml:"title_blocklist_regex"`
	BlackoutWindows       []string `toml:"blackout_windows"` // minute-of-hour ranges, e.g. "56-02"
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`  // "console" or "json"
	Outputs  []string `toml:"outputs"` // any of "console", "file"
	FilePath string   `toml:"file_path"`
}

// MinuteRange is a blackout window over minutes of the hour. Ranges may
// wrap the top of the hour (e.g. 56-02).
type MinuteRange struct {
	Start int
	End   int
}

// Contains reports whether minute m falls inside the range.
func (r MinuteRange) Contains(m int) bool {
	if r.Start <= r.End {
		return m >= r.Start && m <= r.End
	}
	return m >= r.Start || m <= r.End
}

// ParseMinuteRange parses a "start-end" minute-of-hour range.
func ParseMinuteRange(s string) (MinuteRange, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return MinuteRange{}, fmt.Errorf("invalid minute range %q: want \"start-end\"", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return MinuteRange{}, fmt.Errorf("invalid minute range %q: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return MinuteRange{}, fmt.Errorf("invalid minute range %q: %w", s, err)
	}
	if start < 0 || start > 59 || end < 0 || end > 59 {
		return MinuteRange{}, fmt.Errorf("invalid minute range %q: minutes must be 0-59", s)
	}
	return MinuteRange{Start: start, End: end}, nil
}

// BlackoutRanges parses the configured blackout windows. Invalid entries
// are skipped; validation rejects them earlier.
func (c *MonitorConfig) BlackoutRanges() []MinuteRange {
	ranges := make([]MinuteRange, 0, len(c.BlackoutWindows))
	for _, w := range c.BlackoutWindows {
		r, err := ParseMinuteRange(w)
		if err != nil {
			continue
		}
		ranges = append(ranges, r)
	}
	return ranges
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Storage: StorageConfig{
			Path: "data/pulse",
		},
		Venue: VenueConfig{
			Timeout: "15s",
		},
		Monitor: MonitorConfig{
			MinTotalVolume:        3000,
			MinDeltaVolume:        80,
			ZThreshold:            2.5,
			UseAdaptiveThresholds: true,
			DeepExtremeMinChange:  0.07,
			NearExtremeMinChange:  0.10,
			MiddleMinChange:       0.15,
			MinAbsPriceChange:     0.03,
			VolumeBoostFactor:     0.25,
			PageSize:              100,
			PageWorkers:           16,
			DetailNotFoundStop:    5,
			MultiNotFoundStop:     5,
			BlackoutWindows:       []string{"56-02", "26-32"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "console",
			Outputs:  []string{"console"},
			FilePath: "./logs/pulse.log",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Apply environment overrides
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PULSE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("PULSE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("PULSE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("PULSE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("PULSE_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if url := os.Getenv("PULSE_VENUE_BASE_URL"); url != "" {
		config.Venue.BaseURL = url
	}
	if url := os.Getenv("PULSE_VENUE_WEB_URL"); url != "" {
		config.Venue.WebURL = url
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		config.Telegram.BotToken = token
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		config.Telegram.ChatID = chat
	}

	// Detection surface keeps its historical variable names.
	overrideFloat(&config.Monitor.MinTotalVolume, "MIN_TOTAL_VOLUME")
	overrideFloat(&config.Monitor.MinDeltaVolume, "MIN_DELTA_VOLUME")
	overrideFloat(&config.Monitor.ZThreshold, "Z_THRESHOLD")
	overrideBool(&config.Monitor.UseAdaptiveThresholds, "USE_ADAPTIVE_THRESHOLDS")
	overrideFloat(&config.Monitor.DeepExtremeMinChange, "DEEP_EXTREME_MIN_CHANGE")
	overrideFloat(&config.Monitor.NearExtremeMinChange, "NEAR_EXTREME_MIN_CHANGE")
	overrideFloat(&config.Monitor.MiddleMinChange, "MIDDLE_MIN_CHANGE")
	overrideFloat(&config.Monitor.MinAbsPriceChange, "MIN_ABS_PRICE_CHANGE")
	overrideFloat(&config.Monitor.VolumeBoostFactor, "VOLUME_BOOST_FACTOR")
	overrideInt(&config.Monitor.PageSize, "PAGE_SIZE")
	overrideInt(&config.Monitor.PageWorkers, "PAGE_WORKERS")
	overrideInt(&config.Monitor.DetailNotFoundStop, "DETAIL_NOT_FOUND_STOP")
	overrideInt(&config.Monitor.MultiNotFoundStop, "MULTI_NOT_FOUND_STOP")

	if v := os.Getenv("ALERT_TITLE_BLOCKLIST"); v != "" {
		var list []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		config.Monitor.TitleBlocklist = list
	}
	if v := os.Getenv("ALERT_TITLE_BLOCKLIST_REGEX"); v != "" {
		config.Monitor.TitleBlocklistRegex = v
	}
	if v := os.Getenv("BLACKOUT_WINDOWS"); v != "" {
		var list []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		config.Monitor.BlackoutWindows = list
	}
}

func overrideFloat(dst *float64, name string) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func overrideInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideBool(dst *bool, name string) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks configuration consistency before startup.
func (c *Config) Validate() error {
	if c.Monitor.PageSize <= 0 {
		return fmt.Errorf("monitor.page_size must be positive, got %d", c.Monitor.PageSize)
	}
	if c.Monitor.PageWorkers <= 0 {
		return fmt.Errorf("monitor.page_workers must be positive, got %d", c.Monitor.PageWorkers)
	}
	if c.Monitor.DetailNotFoundStop <= 0 || c.Monitor.MultiNotFoundStop <= 0 {
		return fmt.Errorf("monitor not-found stops must be positive")
	}
	if c.Monitor.ZThreshold <= 0 {
		return fmt.Errorf("monitor.z_threshold must be positive, got %v", c.Monitor.ZThreshold)
	}
	if c.Monitor.TitleBlocklistRegex != "" {
		if _, err := regexp.Compile("(?i)" + c.Monitor.TitleBlocklistRegex); err != nil {
			return fmt.Errorf("monitor.title_blocklist_regex does not compile: %w", err)
		}
	}
	for _, w := range c.Monitor.BlackoutWindows {
		if _, err := ParseMinuteRange(w); err != nil {
			return err
		}
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
