// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/sitegrade/sitegrade/internal/scan"
)

// Config captures every knob the service reads at startup.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Queue     QueueConfig               `mapstructure:"queue"`
	Crawler   CrawlerConfig             `mapstructure:"crawler"`
	Auditor   AuditorConfig             `mapstructure:"auditor"`
	Browser   BrowserConfig             `mapstructure:"browser"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Viewports map[string]ViewportConfig `mapstructure:"viewports"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig bounds scan scheduling.
type QueueConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	FallbackWait time.Duration `mapstructure:"fallback_wait"`
}

// CrawlerConfig bounds site discovery. MaxPages is the per-job default;
// MaxPageLimit caps what a submission may request.
type CrawlerConfig struct {
	MaxDepth     int           `mapstructure:"max_depth"`
	MaxPages     int           `mapstructure:"max_pages"`
	MaxPageLimit int           `mapstructure:"max_page_limit"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	PerHostRPS   float64       `mapstructure:"per_host_rps"`
}

// AuditorConfig bounds per-page audits.
type AuditorConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ViewportSettle    time.Duration `mapstructure:"viewport_settle"`
}

// BrowserConfig controls the shared Chrome process.
type BrowserConfig struct {
	Headless  bool   `mapstructure:"headless"`
	UserAgent string `mapstructure:"user_agent"`
	MaxTabs   int    `mapstructure:"max_tabs"`
}

// LoggingConfig selects the logger flavor.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ViewportConfig is one named viewport preset from the config file.
// Entries overlay the built-in mobile/tablet/desktop table.
type ViewportConfig struct {
	Width  int64 `mapstructure:"width"`
	Height int64 `mapstructure:"height"`
}

// Load builds a Config from disk and environment. An empty path searches
// the working directory and the XDG config home for sitegrade.{yaml,...};
// a missing file is fine, defaults and SITEGRADE_* env vars apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEGRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("sitegrade")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "sitegrade"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("queue.concurrency", 3)
	v.SetDefault("queue.fallback_wait", 60*time.Second)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_pages", 20)
	v.SetDefault("crawler.max_page_limit", 100)
	v.SetDefault("crawler.fetch_timeout", 10*time.Second)
	v.SetDefault("crawler.per_host_rps", 2.0)
	v.SetDefault("auditor.navigation_timeout", 30*time.Second)
	v.SetDefault("auditor.viewport_settle", 500*time.Millisecond)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "sitegrade-bot/1.0 (+https://github.com/sitegrade/sitegrade)")
	v.SetDefault("browser.max_tabs", 6)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("auth.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be > 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.MaxPageLimit < c.Crawler.MaxPages {
		return fmt.Errorf("crawler.max_page_limit must be >= crawler.max_pages")
	}
	if c.Crawler.FetchTimeout <= 0 {
		return fmt.Errorf("crawler.fetch_timeout must be > 0")
	}
	if c.Auditor.NavigationTimeout <= 0 {
		return fmt.Errorf("auditor.navigation_timeout must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for name, vp := range c.Viewports {
		if vp.Width <= 0 || vp.Height <= 0 {
			return fmt.Errorf("viewports.%s: width and height must be > 0", name)
		}
	}
	return nil
}

// ViewportPresets returns the named presets submissions may reference:
// the built-in trio overlaid with the config's viewports section.
func (c Config) ViewportPresets() map[string]scan.Viewport {
	out := make(map[string]scan.Viewport)
	for _, vp := range scan.DefaultViewports() {
		out[vp.Name] = vp
	}
	for name, dims := range c.Viewports {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		out[key] = scan.Viewport{Name: key, Width: dims.Width, Height: dims.Height}
	}
	return out
}

// ResolveViewports maps submission preset names onto viewports. A nil
// list selects the default trio (at any overridden dimensions); an
// empty list or an unknown name is an error.
func (c Config) ResolveViewports(names []string) ([]scan.Viewport, error) {
	presets := c.ViewportPresets()
	if names == nil {
		defaults := scan.DefaultViewports()
		out := make([]scan.Viewport, 0, len(defaults))
		for _, vp := range defaults {
			out = append(out, presets[vp.Name])
		}
		return out, nil
	}
	if len(names) == 0 {
		return nil, errors.New("viewports must name at least one preset")
	}
	out := make([]scan.Viewport, 0, len(names))
	for _, name := range names {
		vp, ok := presets[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown viewport preset %q", name)
		}
		out = append(out, vp)
	}
	return out, nil
}
