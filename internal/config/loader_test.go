package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
database:
  dsn: postgres://ms:ms@localhost:5432/meetscribe
bot:
  image: meetscribe-bot:latest
  network: meetscribe_net
  transcription_service: ws://whisperlive:9090
`

func TestLoadFromReaderMinimal(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("default listen addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.AuthHeader != "X-API-Key" {
		t.Errorf("default auth header = %q, want X-API-Key", cfg.Server.AuthHeader)
	}
	if cfg.Redis.Addr() != "redis:6379" {
		t.Errorf("default redis addr = %q, want redis:6379", cfg.Redis.Addr())
	}
	if cfg.Bot.LockTTL != 15*time.Minute {
		t.Errorf("default lock TTL = %v, want 15m", cfg.Bot.LockTTL)
	}
	if cfg.Bot.DefaultName != "Meetscribe Bot" {
		t.Errorf("default bot name = %q", cfg.Bot.DefaultName)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(minimalYAML + "\nunknown_key: true\n"))
	if err == nil {
		t.Fatal("expected unknown YAML field to be rejected")
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Server.LogLevel = "loud"
	cfg.Redis.Port = 0
	// database.dsn, bot.image, bot.network, bot.transcription_service also missing.

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	msg := err.Error()
	for _, want := range []string{
		"server.log_level",
		"redis.port",
		"database.dsn",
		"bot.image",
		"bot.network",
		"bot.transcription_service",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("validation error does not mention %s:\n%s", want, msg)
		}
	}
}

func TestValidateShortLockTTL(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Bot.LockTTL = 5 * time.Second
	if err := Validate(cfg); err == nil {
		t.Error("expected a lock TTL shorter than a launch to be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("DATABASE_URL", "postgres://ms:ms@db:5432/meetscribe")
	t.Setenv("BOT_IMAGE_NAME", "bots/worker:2")
	t.Setenv("DOCKER_NETWORK", "shared_net")
	t.Setenv("TRANSCRIPTION_SERVICE", "ws://stt:9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("API_KEY_HEADER", "X-API-Token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Addr() != "cache.internal:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr())
	}
	if cfg.Bot.Image != "bots/worker:2" {
		t.Errorf("bot image = %q", cfg.Bot.Image)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.AuthHeader != "X-API-Token" {
		t.Errorf("auth header = %q", cfg.Server.AuthHeader)
	}
}
