package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pharmacy/backend/internal/logger"
)

type Config struct {
	Port          string
	AllowedOrigin string
	AppEnv        string

	DatabaseURL string
	AutoMigrate bool
	// SeedDemoData only applies to the in-memory store.
	SeedDemoData bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SaleLockTTL   time.Duration

	PhoneRegion string

	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64

	ShutdownTimeout time.Duration

	Log logger.Config
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory if one exists. Variables already set win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Port:            strings.TrimSpace(v.GetString("PORT")),
		AllowedOrigin:   strings.TrimSpace(v.GetString("ALLOWED_ORIGIN")),
		AppEnv:          strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		DatabaseURL:     strings.TrimSpace(v.GetString("DATABASE_URL")),
		AutoMigrate:     v.GetBool("AUTO_MIGRATE"),
		SeedDemoData:    v.GetBool("SEED_DEMO_DATA"),
		RedisAddr:       strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisDB:         v.GetInt("REDIS_DB"),
		SaleLockTTL:     time.Duration(v.GetInt("SALE_LOCK_TTL_SECONDS")) * time.Second,
		PhoneRegion:     strings.ToUpper(strings.TrimSpace(v.GetString("PHONE_REGION"))),
		RateLimitRPS:    v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:  v.GetInt("RATE_LIMIT_BURST"),
		MaxBodyBytes:    v.GetInt64("MAX_BODY_BYTES"),
		ShutdownTimeout: time.Duration(v.GetInt("SHUTDOWN_TIMEOUT_SECONDS")) * time.Second,
		Log: logger.Config{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
			Output: v.GetString("LOG_OUTPUT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("AUTO_MIGRATE", true)
	v.SetDefault("SEED_DEMO_DATA", true)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SALE_LOCK_TTL_SECONDS", 10)
	v.SetDefault("PHONE_REGION", "IN")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("MAX_BODY_BYTES", 1<<20)
	v.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", 10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_OUTPUT", "stdout")
}

func (c Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port))
	}
	if c.RedisDB < 0 {
		errs = append(errs, errors.New("REDIS_DB must not be negative"))
	}
	if c.SaleLockTTL < time.Second {
		errs = append(errs, errors.New("SALE_LOCK_TTL_SECONDS must be at least 1"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if c.ShutdownTimeout < time.Second {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT_SECONDS must be at least 1"))
	}
	if len(c.PhoneRegion) != 2 {
		errs = append(errs, fmt.Errorf("PHONE_REGION must be a two-letter region code, got %q", c.PhoneRegion))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format))
	}
	if c.IsProduction() && (c.AllowedOrigin == "" || c.AllowedOrigin == "*") {
		errs = append(errs, errors.New("ALLOWED_ORIGIN must name explicit origins in production"))
	}

	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
