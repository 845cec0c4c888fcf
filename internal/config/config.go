package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	Env             string
	LogLevel        string
	DatabaseURL     string
	DBMaxOpenConns  int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	TxIsolation     sql.IsolationLevel
	TxTimeout       time.Duration
	BalancePrecheck bool
}

// Load reads an optional .env file, then the process environment.
// The .env file never overrides variables that are already set.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8085"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
	}

	var err error
	var errs []error
	if cfg.DBMaxOpenConns, err = getEnvInt("DB_MAX_OPEN_CONNS", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.TxTimeout, err = getEnvDuration("TX_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.BalancePrecheck, err = getEnvBool("TRANSFER_BALANCE_PRECHECK", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.TxIsolation, err = ParseIsolation(getEnv("TX_ISOLATION", "default")); err != nil {
		errs = append(errs, err)
	}
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// ParseIsolation maps a TX_ISOLATION value onto a database/sql isolation level.
func ParseIsolation(value string) (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "default":
		return sql.LevelDefault, nil
	case "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return sql.LevelDefault, fmt.Errorf("TX_ISOLATION: unsupported isolation level %q", value)
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback, fmt.Errorf("%s: invalid non-negative integer %q", key, raw)
	}
	return v, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return fallback, fmt.Errorf("%s: invalid positive duration %q", key, raw)
	}
	return v, nil
}
