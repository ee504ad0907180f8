// Package config loads service configuration from defaults, an optional
// .env.<env> file and TUITION_* environment variables, in increasing order
// of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. TUITION_PORT.
const EnvPrefix = "TUITION"

// Config is the resolved service configuration.
type Config struct {
	Env      string
	Port     int
	DBPath   string
	LogLevel string

	// Timezone decides which calendar day "today" is for overdue checks.
	Timezone string
	Location *time.Location

	CORSOrigins []string

	LateFeeEnabled  bool
	LateFeeSchedule string
}

// IsDevelopment reports whether the service runs in a local environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev" || c.Env == "test"
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load reads configuration with .env files looked up in the working directory.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom reads configuration with .env files looked up in dir.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("env", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "./data/tuition.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("cors_origins", "*")
	v.SetDefault("late_fee_enabled", true)
	v.SetDefault("late_fee_schedule", "@hourly")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// load .env.<env> if it exists (ignore if it does not); variables
	// already set in the environment win
	env := strings.ToLower(v.GetString("env"))
	dotEnvPath := filepath.Join(dir, ".env."+env)
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", dotEnvPath, err)
	}

	cfg := &Config{
		Env:             env,
		Port:            v.GetInt("port"),
		DBPath:          v.GetString("db_path"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		Timezone:        v.GetString("timezone"),
		CORSOrigins:     splitList(v.GetString("cors_origins")),
		LateFeeEnabled:  v.GetBool("late_fee_enabled"),
		LateFeeSchedule: v.GetString("late_fee_schedule"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and resolves Location. Run it again after
// changing fields, for example from command-line flags.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}

	if c.LateFeeEnabled {
		if _, err := cron.ParseStandard(c.LateFeeSchedule); err != nil {
			return fmt.Errorf("config: late_fee_schedule %q: %w", c.LateFeeSchedule, err)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
