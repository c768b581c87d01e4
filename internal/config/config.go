// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the broker engine.
type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache layer

	CommissionRate  decimal.Decimal // fraction of trade notional, e.g. 0.001
	StartingBalance decimal.Decimal // cash granted on first account access

	FeedBaseURL     string        // MOEX ISS endpoint
	RefreshInterval time.Duration // price refresh cadence; 0 disables the refresher

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CacheTTL        time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d, must be in 1..65535", port)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	commissionRate, err := getDecimal("COMMISSION_RATE", "0.001")
	if err != nil {
		return nil, fmt.Errorf("invalid COMMISSION_RATE: %w", err)
	}
	if commissionRate.IsNegative() || commissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("invalid COMMISSION_RATE: %s, must be in [0, 1)", commissionRate)
	}

	startingBalance, err := getDecimal("STARTING_BALANCE", "100000.00")
	if err != nil {
		return nil, fmt.Errorf("invalid STARTING_BALANCE: %w", err)
	}
	if startingBalance.IsNegative() {
		return nil, fmt.Errorf("invalid STARTING_BALANCE: %s, must be non-negative", startingBalance)
	}

	refreshInterval, err := getDuration("PRICE_REFRESH_INTERVAL", 1*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_REFRESH_INTERVAL: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	cacheTTL, err := getDuration("CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		DatabaseURL:     getStr("DATABASE_URL", ""),
		RedisURL:        getStr("REDIS_URL", ""),
		CommissionRate:  commissionRate,
		StartingBalance: startingBalance,
		FeedBaseURL:     getStr("FEED_BASE_URL", "https://iss.moex.com"),
		RefreshInterval: refreshInterval,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
		CacheTTL:        cacheTTL,
	}, nil
}

func getStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

func getDecimal(key, def string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	return decimal.NewFromString(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
