package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Engine   EngineConfig   `yaml:"engine"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver string       `yaml:"driver"` // "mysql", "sqlite" or "memory"
	MySQL  MySQLConfig  `yaml:"mysql"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"` // Overrides the fields below when set
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
}

type AIConfig struct {
	Text   TextConfig   `yaml:"text"`
	Vision VisionConfig `yaml:"vision"`
	Media  MediaConfig  `yaml:"media"`
}

// TextConfig points at any OpenAI-compatible chat completions endpoint
type TextConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  uint          `yaml:"max_retries"`
}

type VisionConfig struct {
	Model string `yaml:"model"`
}

type MediaConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	VideoModel string        `yaml:"video_model"`
	ImageModel string        `yaml:"image_model"`
	Timeout    time.Duration `yaml:"timeout"` // Per HTTP request
}

type EngineConfig struct {
	IntroThreshold   int           `yaml:"intro_threshold"`
	ClosingThreshold int           `yaml:"closing_threshold"`
	TotalActions     int           `yaml:"total_actions"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	StatusRetries    uint          `yaml:"status_retries"`
	BackdropAspect   string        `yaml:"backdrop_aspect"`
	PortraitAspect   string        `yaml:"portrait_aspect"`
	HighlightAspect  string        `yaml:"highlight_aspect"`
	HighlightEnabled bool          `yaml:"highlight_enabled"`
	ContinuityLines  int           `yaml:"continuity_lines"`
	MediaWorkers     int           `yaml:"media_workers"`
	MediaQueueSize   int           `yaml:"media_queue_size"`
	PromptsDir       string        `yaml:"prompts_dir"` // *.json template overrides
}

type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	Endpoint    string            `yaml:"endpoint"`
	Headers     map[string]string `yaml:"headers"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // gorm log level: "silent", "error", "warn", "info"
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	if apiKey := os.Getenv("MISTRAL_API_KEY"); apiKey != "" {
		cfg.AI.Text.APIKey = apiKey
	}
	if apiKey := os.Getenv("LUMAAI_API_KEY"); apiKey != "" {
		cfg.AI.Media.APIKey = apiKey
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.MySQL.DSN = dsn
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Database.Redis.Password = password
	}

	return cfg, nil
}

// Parse decodes YAML and fills in defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every zero value that has a sensible default
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "data/story-loom.db"
	}
	if c.Database.MySQL.MaxOpenConns == 0 {
		c.Database.MySQL.MaxOpenConns = 20
	}
	if c.Database.MySQL.MaxIdleConns == 0 {
		c.Database.MySQL.MaxIdleConns = 5
	}
	if c.Database.MySQL.ConnMaxLifetime == 0 {
		c.Database.MySQL.ConnMaxLifetime = time.Hour
	}
	if c.Database.Redis.Channel == "" {
		c.Database.Redis.Channel = "story-loom:sessions"
	}

	if c.AI.Text.BaseURL == "" {
		c.AI.Text.BaseURL = "https://api.mistral.ai/v1"
	}
	if c.AI.Text.Model == "" {
		c.AI.Text.Model = "mistral-large-latest"
	}
	if c.AI.Text.Timeout == 0 {
		c.AI.Text.Timeout = 120 * time.Second
	}
	if c.AI.Text.MaxRetries == 0 {
		c.AI.Text.MaxRetries = 3
	}
	if c.AI.Vision.Model == "" {
		c.AI.Vision.Model = "pixtral-12b-2409"
	}
	if c.AI.Media.BaseURL == "" {
		c.AI.Media.BaseURL = "https://api.lumalabs.ai/dream-machine/v1"
	}
	if c.AI.Media.Timeout == 0 {
		c.AI.Media.Timeout = 60 * time.Second
	}

	if c.Engine.IntroThreshold == 0 {
		c.Engine.IntroThreshold = 1
	}
	if c.Engine.ClosingThreshold == 0 {
		c.Engine.ClosingThreshold = 2
	}
	if c.Engine.TotalActions == 0 {
		c.Engine.TotalActions = 10
	}
	if c.Engine.PollInterval == 0 {
		c.Engine.PollInterval = 3 * time.Second
	}
	if c.Engine.PollTimeout == 0 {
		c.Engine.PollTimeout = 10 * time.Minute
	}
	if c.Engine.StatusRetries == 0 {
		c.Engine.StatusRetries = 5
	}
	if c.Engine.BackdropAspect == "" {
		c.Engine.BackdropAspect = "16:9"
	}
	if c.Engine.PortraitAspect == "" {
		c.Engine.PortraitAspect = "1:1"
	}
	if c.Engine.HighlightAspect == "" {
		c.Engine.HighlightAspect = "16:9"
	}
	if c.Engine.ContinuityLines == 0 {
		c.Engine.ContinuityLines = 3
	}
	if c.Engine.MediaWorkers == 0 {
		c.Engine.MediaWorkers = 4
	}
	if c.Engine.MediaQueueSize == 0 {
		c.Engine.MediaQueueSize = 100
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "story-loom"
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = "development"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
}
