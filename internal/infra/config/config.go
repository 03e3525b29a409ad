// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Player   PlayerConfig            `yaml:"player"`
	Related  RelatedConfig           `yaml:"related"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
	YouTube  YouTubeConfig           `yaml:"youtube"`
	Store    StoreConfig             `yaml:"store"`
	Widget   WidgetConfig            `yaml:"widget"`
	Identity IdentityConfig          `yaml:"identity"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr         string `yaml:"addr" default:":8080"`
	ControlToken string `yaml:"control_token"`
}

// PlayerConfig represents session coordinator configuration.
type PlayerConfig struct {
	DefaultVolume          int   `yaml:"default_volume" default:"70" validate:"gte=0,lte=100"`
	ContinuousPlayback     *bool `yaml:"continuous_playback" default:"true"`
	ErrorThreshold         int   `yaml:"error_threshold" default:"3" validate:"gte=1"`
	RecentLimit            int   `yaml:"recent_limit" default:"10" validate:"gte=1,lte=100"`
	HistoryLimit           int   `yaml:"history_limit" default:"50" validate:"gte=1,lte=1000"`
	MaxAutoAdvanceFailures int   `yaml:"max_auto_advance_failures" default:"10" validate:"gte=1"`
	RestartThresholdSec    int   `yaml:"restart_threshold_sec" default:"5" validate:"gte=0"`
	TickIntervalMs         int   `yaml:"tick_interval_ms" default:"1000" validate:"gte=100,lte=10000"`
	LookupTimeoutMs        int   `yaml:"lookup_timeout_ms" default:"5000" validate:"gte=100,lte=60000"`
	ReadyTimeoutMs         int   `yaml:"ready_timeout_ms" default:"5000" validate:"gte=100,lte=60000"`
}

// RelatedConfig represents related-lookahead configuration.
type RelatedConfig struct {
	MinResults       int              `yaml:"min_results" default:"5" validate:"gte=0"`
	MaxResults       int              `yaml:"max_results" default:"10" validate:"gte=1"`
	FallbackMax      int              `yaml:"fallback_max" default:"5" validate:"gte=0"`
	NewReleaseTTLMs  int              `yaml:"new_release_ttl_ms" default:"3600000" validate:"gte=0"`
	NewReleaseAlbums int              `yaml:"new_release_albums" default:"20" validate:"gte=1,lte=50"`
	Providers        []ProviderConfig `yaml:"providers" validate:"dive"`
}

// ProviderConfig represents a single related-track provider configuration.
type ProviderConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=artist_top_tracks recommendations lastfm_similar"`
	Settings map[string]any `yaml:"settings"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// YouTubeConfig represents YouTube Data API configuration.
// An empty APIKey disables video lookup, so every play is simulated.
type YouTubeConfig struct {
	APIKey     string  `yaml:"api_key"`
	SearchURL  string  `yaml:"search_url" default:"https://www.googleapis.com/youtube/v3/search" validate:"url"`
	MaxResults int     `yaml:"max_results" default:"10" validate:"gte=1,lte=50"`
	CacheTTLMs int     `yaml:"cache_ttl_ms" default:"1800000" validate:"gte=0"`
	RateLimit  float64 `yaml:"rate_limit" default:"5" validate:"gt=0"`
}

// StoreConfig represents persistence configuration.
type StoreConfig struct {
	Driver     string `yaml:"driver" default:"memory" validate:"oneof=memory redis sqlite"`
	RedisURL   string `yaml:"redis_url" validate:"required_if=Driver redis"`
	SQLitePath string `yaml:"sqlite_path" default:"19stream.db"`
	Channel    string `yaml:"channel" default:"stream:events"`
}

// WidgetConfig represents the browser widget bridge configuration.
type WidgetConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// IdentityConfig selects the initial persistence scope.
type IdentityConfig struct {
	UserID      string `yaml:"user_id"`
	DisplayName string `yaml:"display_name"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		c.YouTube.APIKey = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		for i := range c.Related.Providers {
			if c.Related.Providers[i].Type == "lastfm_similar" {
				if c.Related.Providers[i].Settings == nil {
					c.Related.Providers[i].Settings = map[string]any{}
				}
				c.Related.Providers[i].Settings["api_key"] = v
				break
			}
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv("CONTROL_TOKEN"); v != "" {
		c.Server.ControlToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Related.MinResults > c.Related.MaxResults {
		return errors.Newf("related.min_results (%d) must not exceed related.max_results (%d)",
			c.Related.MinResults, c.Related.MaxResults)
	}

	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings returns the settings for a filter.
func (c *Config) FilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// IsContinuousPlayback reports the configured initial continuous-playback flag.
func (p PlayerConfig) IsContinuousPlayback() bool {
	return p.ContinuousPlayback == nil || *p.ContinuousPlayback
}

// TickInterval returns the progress timer interval.
func (p PlayerConfig) TickInterval() time.Duration {
	return time.Duration(p.TickIntervalMs) * time.Millisecond
}

// LookupTimeout bounds remote video and related lookups.
func (p PlayerConfig) LookupTimeout() time.Duration {
	return time.Duration(p.LookupTimeoutMs) * time.Millisecond
}

// ReadyTimeout bounds the wait for the remote widget to start playing.
func (p PlayerConfig) ReadyTimeout() time.Duration {
	return time.Duration(p.ReadyTimeoutMs) * time.Millisecond
}

// CacheTTL returns the video search cache lifetime.
func (y YouTubeConfig) CacheTTL() time.Duration {
	return time.Duration(y.CacheTTLMs) * time.Millisecond
}

// NewReleaseTTL returns how long cached new releases stay valid.
func (r RelatedConfig) NewReleaseTTL() time.Duration {
	return time.Duration(r.NewReleaseTTLMs) * time.Millisecond
}
