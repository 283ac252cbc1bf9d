package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/spx0dte/internal/exit"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

type Snapshot struct {
	Path         string `yaml:"path" default:"data/snapshot.json" validate:"required"`
	IntervalSecs int    `yaml:"interval_seconds" default:"60" validate:"gte=5"`
}

// State selects the lifecycle store backend.
type State struct {
	Backend     string `yaml:"backend" default:"file" validate:"oneof=file memory redis postgres"`
	Path        string `yaml:"path" default:"data/lifecycle_state.json"`
	RedisAddr   string `yaml:"redis_addr" default:"localhost:6379"`
	RedisDB     int    `yaml:"redis_db"`
	RedisKey    string `yaml:"redis_key" default:"spx0dte:lifecycle"`
	PostgresDSN string `yaml:"postgres_dsn"`
	PostgresID  string `yaml:"postgres_id" default:"spx0dte"`
	VolPath     string `yaml:"vol_state_path" default:"data/vol_state.json"`
}

// Files are the tolerant JSON settings documents shared with the dashboard.
type Files struct {
	Sleeve    string `yaml:"sleeve" default:"data/sleeve_settings.json"`
	Execution string `yaml:"execution" default:"data/execution_settings.json"`
	BWB       string `yaml:"bwb" default:"data/bwb_settings.json"`
	MultiDTE  string `yaml:"multi_dte" default:"data/multi_dte_settings.json"`
	Macro     string `yaml:"macro_calendar" default:"data/macro_calendar.json"`
}

type Alerts struct {
	Enabled           bool   `yaml:"enabled" default:"true"`
	RatePerMin        int    `yaml:"rate_per_min" default:"20" validate:"gte=0"`
	Burst             int    `yaml:"burst" default:"5" validate:"gte=1"`
	DedupeSecs        int    `yaml:"dedupe_seconds" default:"60" validate:"gte=0"`
	ReadyCooldownSecs int    `yaml:"ready_cooldown_seconds" default:"300" validate:"gte=0"`
	ExitCooldownSecs  int    `yaml:"exit_cooldown_seconds" default:"600" validate:"gte=0"`
	TelegramToken     string `yaml:"telegram_token"`
	TelegramChatID    string `yaml:"telegram_chat_id"`
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	SlackChannel      string `yaml:"slack_channel"`
}

type Outbox struct {
	Path             string `yaml:"path" default:"data/outbox.jsonl" validate:"required"`
	DedupeWindowSecs int    `yaml:"dedupe_window_seconds" default:"90" validate:"gte=0"`
}

// Server is the ops HTTP surface. Slack slash commands are accepted only when a
// signing secret is configured.
type Server struct {
	Enabled            bool     `yaml:"enabled" default:"true"`
	Addr               string   `yaml:"addr" default:":8090" validate:"required"`
	SlackSigningSecret string   `yaml:"slack_signing_secret"`
	SlackAllowedUsers  []string `yaml:"slack_allowed_users"`
}

type Root struct {
	Mode      string           `yaml:"mode" default:"daemon" validate:"oneof=daemon once"`
	DisplayTZ string           `yaml:"display_tz" default:"Europe/Paris" validate:"required"`
	Snapshot  Snapshot         `yaml:"snapshot"`
	State     State            `yaml:"state"`
	Files     Files            `yaml:"settings"`
	Alerts    Alerts           `yaml:"alerts"`
	Outbox    Outbox           `yaml:"outbox"`
	Exit      exit.Config      `yaml:"exit"`
	Server    Server           `yaml:"server"`
	Log       observ.LogConfig `yaml:"log"`
}

var validate = validator.New()

// Load fills defaults, overlays the YAML file when path is set, then .env and
// SPX0DTE_* environment overrides, and validates the result.
func Load(path string) (Root, error) {
	var c Root
	if err := defaults.Set(&c); err != nil {
		return c, fmt.Errorf("config defaults: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()
	applyEnv(&c)

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return c, fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return c, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Display resolves the second display zone, falling back to UTC.
func (c Root) Display() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (a Alerts) ReadyCooldown() time.Duration {
	return time.Duration(a.ReadyCooldownSecs) * time.Second
}

func (a Alerts) ExitCooldown() time.Duration {
	return time.Duration(a.ExitCooldownSecs) * time.Second
}

func applyEnv(c *Root) {
	setStr(&c.Mode, "SPX0DTE_MODE")
	setStr(&c.DisplayTZ, "SPX0DTE_DISPLAY_TZ")
	setStr(&c.Snapshot.Path, "SPX0DTE_SNAPSHOT_PATH")
	setInt(&c.Snapshot.IntervalSecs, "SPX0DTE_INTERVAL_SECONDS")

	setStr(&c.State.Backend, "SPX0DTE_STATE_BACKEND")
	setStr(&c.State.Path, "SPX0DTE_STATE_PATH")
	setStr(&c.State.RedisAddr, "SPX0DTE_REDIS_ADDR")
	setInt(&c.State.RedisDB, "SPX0DTE_REDIS_DB")
	setStr(&c.State.PostgresDSN, "SPX0DTE_POSTGRES_DSN")

	setStr(&c.Files.Sleeve, "SPX0DTE_SLEEVE_SETTINGS")
	setStr(&c.Files.Execution, "SPX0DTE_EXECUTION_SETTINGS")
	setStr(&c.Files.BWB, "SPX0DTE_BWB_SETTINGS")
	setStr(&c.Files.MultiDTE, "SPX0DTE_MULTI_DTE_SETTINGS")
	setStr(&c.Files.Macro, "SPX0DTE_MACRO_CALENDAR")

	setBool(&c.Alerts.Enabled, "SPX0DTE_ALERTS_ENABLED")
	setInt(&c.Alerts.ReadyCooldownSecs, "SPX0DTE_READY_COOLDOWN_SECONDS")
	setInt(&c.Alerts.ExitCooldownSecs, "SPX0DTE_EXIT_COOLDOWN_SECONDS")
	// Bare names are what the bot tokens are usually exported as.
	setStr(&c.Alerts.TelegramToken, "TELEGRAM_TOKEN")
	setStr(&c.Alerts.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&c.Alerts.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&c.Alerts.SlackWebhookURL, "SLACK_WEBHOOK_URL")

	setStr(&c.Outbox.Path, "SPX0DTE_OUTBOX_PATH")
	setBool(&c.Server.Enabled, "SPX0DTE_SERVER_ENABLED")
	setStr(&c.Server.Addr, "SPX0DTE_SERVER_ADDR")
	setStr(&c.Server.SlackSigningSecret, "SLACK_SIGNING_SECRET")
	if v := strings.TrimSpace(os.Getenv("SLACK_ALLOWED_USERS")); v != "" {
		c.Server.SlackAllowedUsers = strings.Split(v, ",")
	}
	setStr(&c.Log.Level, "SPX0DTE_LOG_LEVEL")
	setStr(&c.Log.Format, "SPX0DTE_LOG_FORMAT")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
