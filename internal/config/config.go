// Package config loads the desk's settings from the environment, an optional
// .env file and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	DBPath   string
	HTTPAddr string
	LogLevel string

	Cooldown       time.Duration
	StandardPrefix string
	ElevatedPrefix string

	StandardClaim string
	ElevatedClaim string
	ReviewerClaim string

	ReviewChannel  string
	ResultsChannel string
	ReviewRole     string

	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	RateRPS   float64
	RateBurst int
}

// Default mirrors the ids the LASD server used when the desk was a single bot.
func Default() Config {
	return Config{
		HTTPAddr:       "127.0.0.1:56240",
		LogLevel:       "info",
		Cooldown:       time.Hour,
		StandardPrefix: "LASD-DST",
		ElevatedPrefix: "LASD-EVOC",
		StandardClaim:  "1330291577607684107",
		ElevatedClaim:  "1330289052125102201",
		ReviewerClaim:  "1330291576202727567",
		ReviewChannel:  "1330460907729322014",
		ResultsChannel: "1330460924993077278",
		ReviewRole:     "1330291576202727567",
		RedisPrefix:    "training:notify",
		RateRPS:        2,
		RateBurst:      10,
	}
}

// Load reads envFile (when it exists) into the process environment and then
// builds a Config from TRAINING_* variables over the defaults. A missing
// envFile is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	cfg.DBPath = getenvDefault("TRAINING_DB_PATH", cfg.DBPath)
	cfg.HTTPAddr = getenvDefault("TRAINING_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getenvDefault("TRAINING_LOG_LEVEL", cfg.LogLevel)
	cfg.StandardPrefix = getenvDefault("TRAINING_STANDARD_PREFIX", cfg.StandardPrefix)
	cfg.ElevatedPrefix = getenvDefault("TRAINING_ELEVATED_PREFIX", cfg.ElevatedPrefix)
	cfg.StandardClaim = getenvDefault("TRAINING_STANDARD_CLAIM", cfg.StandardClaim)
	cfg.ElevatedClaim = getenvDefault("TRAINING_ELEVATED_CLAIM", cfg.ElevatedClaim)
	cfg.ReviewerClaim = getenvDefault("TRAINING_REVIEWER_CLAIM", cfg.ReviewerClaim)
	cfg.ReviewChannel = getenvDefault("TRAINING_REVIEW_CHANNEL", cfg.ReviewChannel)
	cfg.ResultsChannel = getenvDefault("TRAINING_RESULTS_CHANNEL", cfg.ResultsChannel)
	cfg.ReviewRole = getenvDefault("TRAINING_REVIEW_ROLE", cfg.ReviewRole)
	cfg.JWTSecret = os.Getenv("TRAINING_JWT_SECRET")
	cfg.RedisAddr = os.Getenv("TRAINING_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("TRAINING_REDIS_PASSWORD")
	cfg.RedisPrefix = getenvDefault("TRAINING_REDIS_PREFIX", cfg.RedisPrefix)

	var err error
	if cfg.Cooldown, err = getenvDuration("TRAINING_COOLDOWN", cfg.Cooldown); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = getenvInt("TRAINING_REDIS_DB", cfg.RedisDB); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = getenvInt("TRAINING_RATE_BURST", cfg.RateBurst); err != nil {
		return Config{}, err
	}
	if cfg.RateRPS, err = getenvFloat("TRAINING_RATE_RPS", cfg.RateRPS); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BindFlags registers flags that override the loaded values.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DBPath, "db", c.DBPath, "sqlite database path (default ~/.training-desk/training.db)")
	fs.StringVar(&c.HTTPAddr, "addr", c.HTTPAddr, "HTTP gateway listen address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.DurationVar(&c.Cooldown, "cooldown", c.Cooldown, "minimum interval between submissions of one member")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "redis address for notification publishing (optional)")
}

func (c Config) Validate() error {
	if c.Cooldown <= 0 {
		return errors.New("TRAINING_COOLDOWN must be > 0")
	}
	if strings.TrimSpace(c.StandardClaim) == "" || strings.TrimSpace(c.ElevatedClaim) == "" || strings.TrimSpace(c.ReviewerClaim) == "" {
		return errors.New("standard, elevated and reviewer claims are required")
	}
	if strings.TrimSpace(c.ReviewChannel) == "" {
		return errors.New("TRAINING_REVIEW_CHANNEL is required")
	}
	if c.StandardPrefix == "" || c.ElevatedPrefix == "" || c.StandardPrefix == c.ElevatedPrefix {
		return errors.New("standard and elevated id prefixes must be set and distinct")
	}
	if strings.HasPrefix(c.StandardPrefix, c.ElevatedPrefix) || strings.HasPrefix(c.ElevatedPrefix, c.StandardPrefix) {
		return errors.New("one id prefix must not extend the other")
	}
	if c.RateRPS <= 0 {
		return errors.New("TRAINING_RATE_RPS must be > 0")
	}
	if c.RateBurst <= 0 {
		return errors.New("TRAINING_RATE_BURST must be > 0")
	}
	return nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return i, nil
}

func getenvFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return f, nil
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}
