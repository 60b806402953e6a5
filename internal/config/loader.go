package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: Server{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			AuthHeader: "X-API-Key",
		},
		Redis: Redis{
			Host: "redis",
			Port: 6379,
		},
		Bot: Bot{
			DockerHost:  "unix:///var/run/docker.sock",
			DefaultName: "Meetscribe Bot",
			LockTTL:     15 * time.Minute,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides, then
// validation. A missing file at a non-empty path is an error; operators who
// run env-only pass "".
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

// applyEnv overrides cfg fields from the process environment. Each variable
// is only consulted when set, so file values survive unset variables.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString("LISTEN_ADDR", &cfg.Server.ListenAddr)
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}
	setString("API_KEY_HEADER", &cfg.Server.AuthHeader)

	setString("REDIS_HOST", &cfg.Redis.Host)
	if v, ok := os.LookupEnv("REDIS_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}

	setString("DATABASE_URL", &cfg.DB.DSN)

	setString("BOT_IMAGE_NAME", &cfg.Bot.Image)
	setString("DOCKER_NETWORK", &cfg.Bot.Network)
	setString("DOCKER_HOST", &cfg.Bot.DockerHost)
	setString("TRANSCRIPTION_SERVICE", &cfg.Bot.TranscriptionService)
	if v, ok := os.LookupEnv("BOT_LOCK_TTL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bot.LockTTL = d
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.AuthHeader == "" {
		errs = append(errs, errors.New("server.auth_header is required"))
	}

	if cfg.Redis.Host == "" {
		errs = append(errs, errors.New("redis.host is required"))
	}
	if cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("redis.port %d is out of range", cfg.Redis.Port))
	}

	if cfg.DB.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required (DATABASE_URL)"))
	}

	if cfg.Bot.Image == "" {
		errs = append(errs, errors.New("bot.image is required (BOT_IMAGE_NAME)"))
	}
	if cfg.Bot.Network == "" {
		errs = append(errs, errors.New("bot.network is required (DOCKER_NETWORK)"))
	}
	if cfg.Bot.TranscriptionService == "" {
		errs = append(errs, errors.New("bot.transcription_service is required (TRANSCRIPTION_SERVICE)"))
	}
	if cfg.Bot.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("bot.lock_ttl %v must be positive", cfg.Bot.LockTTL))
	} else if cfg.Bot.LockTTL < time.Minute {
		errs = append(errs, fmt.Errorf("bot.lock_ttl %v is shorter than any plausible bot launch", cfg.Bot.LockTTL))
	}

	return errors.Join(errs...)
}
