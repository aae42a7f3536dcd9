// Package config loads service configuration from defaults, an optional YAML
// file, TRANSCRIBER_* environment variables and runtime overrides, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

const EnvPrefix = "TRANSCRIBER"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Store    StoreConfig    `mapstructure:"store"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type PathsConfig struct {
	UploadDir string `mapstructure:"upload_dir"`
	OutputDir string `mapstructure:"output_dir"`
	WatchDir  string `mapstructure:"watch_dir"`
}

type DefaultsConfig struct {
	Model    string   `mapstructure:"model"`
	Language string   `mapstructure:"language"`
	Formats  []string `mapstructure:"formats"`
}

type RunnerConfig struct {
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	ProgressRate     float64       `mapstructure:"progress_rate"`
	Retention        time.Duration `mapstructure:"retention"`
}

type EngineConfig struct {
	Kind        string        `mapstructure:"kind"`
	Binary      string        `mapstructure:"binary"`
	Device      string        `mapstructure:"device"`
	OpenAIURL   string        `mapstructure:"openai_url"`
	OpenAIKey   string        `mapstructure:"openai_key"`
	OpenAIModel string        `mapstructure:"openai_model"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type WatchConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	StableInterval time.Duration `mapstructure:"stable_interval"`
	StableChecks   int           `mapstructure:"stable_checks"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	Debounce       time.Duration `mapstructure:"debounce"`
	MoveCompleted  bool          `mapstructure:"move_completed"`
}

type StoreConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type FanoutConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

type MirrorConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30m")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_upload_bytes", int64(2<<30))

	v.SetDefault("paths.upload_dir", "uploads")
	v.SetDefault("paths.output_dir", "output")
	v.SetDefault("paths.watch_dir", "watch")

	v.SetDefault("defaults.model", string(entity.ModelLarge))
	v.SetDefault("defaults.language", "")
	v.SetDefault("defaults.formats", []string{"txt", "srt"})

	v.SetDefault("runner.workers", 1)
	v.SetDefault("runner.queue_size", 256)
	v.SetDefault("runner.progress_interval", "2s")
	v.SetDefault("runner.progress_rate", 4.0)
	v.SetDefault("runner.retention", "0s")

	v.SetDefault("engine.kind", "whisper")
	v.SetDefault("engine.binary", "whisper")
	v.SetDefault("engine.device", "auto")
	v.SetDefault("engine.openai_url", "https://api.openai.com")
	v.SetDefault("engine.openai_key", "")
	v.SetDefault("engine.openai_model", "")
	v.SetDefault("engine.timeout", "0s")

	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.stable_interval", "2s")
	v.SetDefault("watch.stable_checks", 2)
	v.SetDefault("watch.max_wait", "10m")
	v.SetDefault("watch.debounce", "500ms")
	v.SetDefault("watch.move_completed", true)

	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("fanout.redis.addr", "")
	v.SetDefault("fanout.redis.channel", "transcriber:jobs")

	v.SetDefault("mirror.s3.bucket", "")
	v.SetDefault("mirror.s3.prefix", "")
	v.SetDefault("mirror.s3.region", "")
	v.SetDefault("mirror.s3.endpoint", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads configuration. An empty path searches ./transcriber.yaml and
// $HOME/.config/transcriber/transcriber.yaml; a missing file is not an error
// unless path was given explicitly.
func Load(path string, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("transcriber")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "transcriber"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for _, o := range overrides {
		if len(o) == 0 {
			continue
		}
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !entity.Model(c.Defaults.Model).Valid() {
		errs = append(errs, fmt.Errorf("defaults.model %q is not a known model", c.Defaults.Model))
	}
	for _, f := range c.DefaultFormats() {
		if !f.Valid() {
			errs = append(errs, fmt.Errorf("defaults.formats: unknown format %q", f))
		}
	}
	if c.Runner.Workers < 1 {
		errs = append(errs, errors.New("runner.workers must be at least 1"))
	}
	switch c.Engine.Kind {
	case "whisper", "openai":
	default:
		errs = append(errs, fmt.Errorf("engine.kind %q must be whisper or openai", c.Engine.Kind))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be console or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// DefaultFormats converts the configured default formats, trimming and
// lowercasing entries.
func (c *Config) DefaultFormats() []entity.Format {
	return entity.ParseFormats(strings.Join(c.Defaults.Formats, ","))
}
