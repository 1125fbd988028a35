package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Realtime struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"realtime"`

	Store struct {
		MaxSpecial  int           `yaml:"max_special"`
		MaxDefault  int           `yaml:"max_default"`
		WaitTimeout time.Duration `yaml:"wait_timeout"`
	} `yaml:"store"`

	Auth struct {
		JWTSecret  string        `yaml:"jwt_secret"`
		SessionTTL time.Duration `yaml:"session_ttl"`
		HostCodes  []string      `yaml:"host_codes"`
	} `yaml:"auth"`

	Upstream struct {
		ServerURL      string        `yaml:"server_url"`
		Token          string        `yaml:"token"`
		DeviceID       string        `yaml:"device_id"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"upstream"`

	Relay struct {
		URL        string `yaml:"url"`
		RoomID     string `yaml:"room_id"`
		RoomKey    string `yaml:"room_key"`
		OwnerClaim string `yaml:"owner_claim"`
	} `yaml:"relay"`

	Profiles []struct {
		Name         string `yaml:"name"`
		MaxWidth     int    `yaml:"max_width"`
		VideoBitRate int    `yaml:"video_bitrate"`
		AudioCodec   string `yaml:"audio_codec"`
		AudioBitRate int    `yaml:"audio_bitrate"`
	} `yaml:"profiles"`

	Queue []struct {
		ItemID        string  `yaml:"item_id"`
		MediaSourceID string  `yaml:"media_source_id"`
		AudioTrack    int     `yaml:"audio_track"`
		SubtitleTrack int     `yaml:"subtitle_track"`
		Name          string  `yaml:"name"`
		Year          int     `yaml:"year"`
		DurationSec   float64 `yaml:"duration_seconds"`
	} `yaml:"queue"`

	Sync struct {
		PastBuffer       time.Duration `yaml:"past_buffer"`
		FutureBuffer     time.Duration `yaml:"future_buffer"`
		FutureBufferView time.Duration `yaml:"future_buffer_view"`
		MaxDrift         time.Duration `yaml:"max_drift"`
		MaxDriftPaused   time.Duration `yaml:"max_drift_paused"`
		ResyncMin        time.Duration `yaml:"resync_min"`
	} `yaml:"sync"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with working defaults for a
// single-node relay plus host agent.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Address = ":3000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Realtime.PingInterval = 30 * time.Second
	cfg.Realtime.PongTimeout = 60 * time.Second
	cfg.Realtime.WriteTimeout = 10 * time.Second

	cfg.Store.MaxSpecial = 100
	cfg.Store.MaxDefault = 400
	cfg.Store.WaitTimeout = 30 * time.Second

	cfg.Auth.SessionTTL = 7 * 24 * time.Hour

	cfg.Upstream.RequestTimeout = 30 * time.Second

	cfg.Sync.PastBuffer = 15 * time.Second
	cfg.Sync.FutureBuffer = 60 * time.Second
	cfg.Sync.FutureBufferView = 20 * time.Second
	cfg.Sync.MaxDrift = 5 * time.Second
	cfg.Sync.MaxDriftPaused = 2 * time.Second
	cfg.Sync.ResyncMin = 500 * time.Millisecond

	cfg.Tracing.ServiceName = "togetherfin"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	return cfg
}

// Load reads and validates a config file, applying defaults for
// unset sections.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("realtime.ping_interval must be > 0")
	}
	if c.Realtime.PongTimeout <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_timeout must be > realtime.ping_interval")
	}

	if c.Store.MaxSpecial <= 0 {
		return fmt.Errorf("store.max_special must be > 0")
	}
	if c.Store.MaxDefault <= 0 {
		return fmt.Errorf("store.max_default must be > 0")
	}
	if c.Store.WaitTimeout <= 0 {
		return fmt.Errorf("store.wait_timeout must be > 0")
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be > 0")
	}

	if c.Sync.PastBuffer <= 0 || c.Sync.FutureBuffer <= 0 || c.Sync.FutureBufferView <= 0 {
		return fmt.Errorf("sync buffers must be > 0")
	}
	if c.Sync.MaxDrift <= c.Sync.MaxDriftPaused {
		return fmt.Errorf("sync.max_drift must be > sync.max_drift_paused")
	}
	if c.Sync.ResyncMin <= 0 {
		return fmt.Errorf("sync.resync_min must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must be set when tracing is enabled")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}
