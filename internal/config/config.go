package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	CommandRate  float64       `mapstructure:"command_rate"`
	CommandBurst int           `mapstructure:"command_burst"`

	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	LinkDeathPolicy string        `mapstructure:"link_death_policy"`
	PlayPolicy      string        `mapstructure:"play_policy"`

	InlineVolume bool     `mapstructure:"inline_volume"`
	Bitrate      int      `mapstructure:"bitrate"`
	FFmpegPath   string   `mapstructure:"ffmpeg_path"`
	YtdlpPath    string   `mapstructure:"ytdlp_path"`
	SourceHints  []string `mapstructure:"source_hints"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8081)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("command_rate", 50)
	v.SetDefault("command_burst", 100)
	v.SetDefault("connect_timeout", "30s")
	v.SetDefault("link_death_policy", "leave")
	v.SetDefault("play_policy", "preempt")
	v.SetDefault("inline_volume", true)
	v.SetDefault("bitrate", 64000)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ytdlp_path", "yt-dlp")
	v.SetDefault("source_hints", []string{"--format", "bestaudio", "--default-search", "ytsearch:"})
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.SetEnvPrefix("voicerelay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("link_death_policy", cfg.LinkDeathPolicy).
		Str("play_policy", cfg.PlayPolicy).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.LinkDeathPolicy {
	case "leave", "orphan":
	default:
		return fmt.Errorf("invalid link_death_policy %q", c.LinkDeathPolicy)
	}
	switch c.PlayPolicy {
	case "preempt", "reject":
	default:
		return fmt.Errorf("invalid play_policy %q", c.PlayPolicy)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	return nil
}
