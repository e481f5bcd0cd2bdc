// Package config provides configuration management for the signal
// processing core. It loads settings from environment variables and
// .env files.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AppMode represents the operating mode of the platform.
type AppMode string

const (
	// ModePaper is the paper-trading mode; no engine collaborator places real orders.
	ModePaper AppMode = "PAPER"
	// ModeLive is live trading mode.
	ModeLive AppMode = "LIVE"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true,
	"panic": true, "disabled": true,
}

// ValidationError aggregates multiple configuration validation errors so
// operators can fix everything in one pass.
type ValidationError struct {
	Errors []string
}

// Error returns a formatted multi-line error message listing all issues.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%d configuration error(s):\n  - %s",
		len(ve.Errors), strings.Join(ve.Errors, "\n  - "))
}

// ReloadChange describes a single configuration change detected during hot-reload.
type ReloadChange struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
	Applied  bool        `json:"applied"`
}

// ReloadResult summarizes what happened during a configuration hot-reload.
type ReloadResult struct {
	Changes         []ReloadChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
	RestartReasons  []string       `json:"restart_reasons,omitempty"`
}

// Config holds all configuration for the signal processing core.
type Config struct {
	mu sync.RWMutex // protects hot-reloadable fields during concurrent access

	ServerPort int
	ServerHost string

	AllowedOrigins []string

	AppMode AppMode

	DatabaseURL string
	RedisURL    string

	JWTSecret  string
	HMACSecret string

	ABSplitPercentage float64

	OrchestratorBatchSize      int
	OrchestratorConcurrency    int
	OrchestratorSignalTimeout  time.Duration
	OrchestratorRetryDelay     time.Duration
	OrchestratorIntervalMS     time.Duration

	PaperExecutorInterval  time.Duration
	PaperExecutorBatchSize int

	ExitMonitorInterval time.Duration

	ProcessingQueueDepthAlert       int
	ProcessingQueueDepthDurationSec int

	MaxPositionSize  float64
	MaxDailyTrades   int
	MaxDailyLoss     float64
	MaxOpenPositions int

	ProfitTargetPct       float64
	StopLossPct           float64
	TimeStopDTE           int
	MaxHoldDays           int
	ConfluenceMinThreshold float64

	EnableOrchestrator       bool
	EnableExitDecisionEngine bool
	EnableConfluenceGate     bool
	EnableConfluenceSizing   bool
	EnableDualPaperTrading   bool

	LogLevel string

	CloseOnShutdown bool
	ShutdownTimeout time.Duration

	EnvFile string
}

// Load reads configuration from environment variables and .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := loadFromEnv(".env")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func loadFromEnv(envFile string) *Config {
	return &Config{
		ServerPort: getEnvInt("PORT", 8099),
		ServerHost: getEnv("HOST", "0.0.0.0"),

		AllowedOrigins: parseList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),

		AppMode: AppMode(getEnv("APP_MODE", "PAPER")),

		DatabaseURL: getEnv("DATABASE_URL", "./data/signalcore.db"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		HMACSecret: os.Getenv("HMAC_SECRET"),

		ABSplitPercentage: getEnvFloat("AB_SPLIT_PERCENTAGE", 0.5),

		OrchestratorBatchSize:     getEnvInt("ORCHESTRATOR_BATCH_SIZE", 20),
		OrchestratorConcurrency:   getEnvInt("ORCHESTRATOR_CONCURRENCY", 5),
		OrchestratorSignalTimeout: getEnvDuration("ORCHESTRATOR_SIGNAL_TIMEOUT_MS", 5*time.Second),
		OrchestratorRetryDelay:    getEnvDuration("ORCHESTRATOR_RETRY_DELAY_MS", 1*time.Second),
		OrchestratorIntervalMS:    getEnvDuration("ORCHESTRATOR_INTERVAL_MS", 2*time.Second),

		PaperExecutorInterval:  getEnvDuration("PAPER_EXECUTOR_INTERVAL", 1*time.Second),
		PaperExecutorBatchSize: getEnvInt("PAPER_EXECUTOR_BATCH_SIZE", 10),

		ExitMonitorInterval: getEnvDuration("EXIT_MONITOR_INTERVAL", 5*time.Second),

		ProcessingQueueDepthAlert:       getEnvInt("PROCESSING_QUEUE_DEPTH_ALERT", 100),
		ProcessingQueueDepthDurationSec: getEnvInt("PROCESSING_QUEUE_DEPTH_DURATION_SEC", 60),

		MaxPositionSize:  getEnvFloat("MAX_POSITION_SIZE", 10000.0),
		MaxDailyTrades:   getEnvInt("MAX_DAILY_TRADES", 50),
		MaxDailyLoss:     getEnvFloat("MAX_DAILY_LOSS", 1000.0),
		MaxOpenPositions: getEnvInt("MAX_OPEN_POSITIONS", 20),

		ProfitTargetPct:        getEnvFloat("PROFIT_TARGET_PCT", 50.0),
		StopLossPct:            getEnvFloat("STOP_LOSS_PCT", 30.0),
		TimeStopDTE:            getEnvInt("TIME_STOP_DTE", 2),
		MaxHoldDays:            getEnvInt("MAX_HOLD_DAYS", 21),
		ConfluenceMinThreshold: getEnvFloat("CONFLUENCE_MIN_THRESHOLD", 60.0),

		EnableOrchestrator:       getEnv("ENABLE_ORCHESTRATOR", "true") == "true",
		EnableExitDecisionEngine: getEnv("ENABLE_EXIT_DECISION_ENGINE", "true") == "true",
		EnableConfluenceGate:     getEnv("ENABLE_CONFLUENCE_GATE", "false") == "true",
		EnableConfluenceSizing:   getEnv("ENABLE_CONFLUENCE_SIZING", "false") == "true",
		EnableDualPaperTrading:   getEnv("ENABLE_DUAL_PAPER_TRADING", "false") == "true",

		LogLevel: getEnv("LOG_LEVEL", "info"),

		CloseOnShutdown: getEnv("CLOSE_ON_SHUTDOWN", "false") == "true",
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		EnvFile: envFile,
	}
}

// Validate performs comprehensive configuration validation with fail-fast
// behavior, aggregating all issues into a single ValidationError.
//
// Validation rules (spec.md §6):
//   - APP_MODE must be PAPER or LIVE
//   - DATABASE_URL required
//   - JWT_SECRET length >= 32
//   - REDIS_URL required when APP_MODE is LIVE
//   - Server port must be 1-65535
func (c *Config) Validate() error {
	var errs []string

	if c.AppMode != ModePaper && c.AppMode != ModeLive {
		errs = append(errs, fmt.Sprintf("invalid APP_MODE '%s': must be 'PAPER' or 'LIVE'", c.AppMode))
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Sprintf("invalid PORT %d: must be between 1 and 65535", c.ServerPort))
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is empty: set DATABASE_URL in .env")
	}

	if len(c.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret)))
	}

	if c.AppMode == ModeLive && c.RedisURL == "" {
		errs = append(errs, "REDIS_URL is required when APP_MODE=LIVE")
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("invalid LOG_LEVEL '%s': must be one of trace, debug, info, warn, error, fatal, panic, disabled", c.LogLevel))
	}

	if c.ABSplitPercentage < 0 || c.ABSplitPercentage > 1 {
		errs = append(errs, fmt.Sprintf("invalid AB_SPLIT_PERCENTAGE %f: must be between 0 and 1", c.ABSplitPercentage))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// IsPaper returns true if the platform is running in paper mode.
func (c *Config) IsPaper() bool {
	return c.AppMode == ModePaper
}

// IsLive returns true if the platform is running in live mode.
func (c *Config) IsLive() bool {
	return c.AppMode == ModeLive
}

// Reload re-reads configuration from environment variables and .env files,
// applying only hot-reloadable fields. Structural fields (server port,
// app mode, database URL, orchestrator concurrency) are detected but NOT
// applied — the result's RequiresRestart flag and RestartReasons report them.
func (c *Config) Reload() (*ReloadResult, error) {
	envFile := c.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Overload(envFile)

	newCfg := loadFromEnv(envFile)

	if err := newCfg.Validate(); err != nil {
		return nil, fmt.Errorf("reloaded config validation failed: %w", err)
	}

	result := &ReloadResult{Changes: make([]ReloadChange, 0)}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.detectRestartChange(result, "ServerPort", c.ServerPort, newCfg.ServerPort)
	c.detectRestartChange(result, "AppMode", string(c.AppMode), string(newCfg.AppMode))
	c.detectRestartChange(result, "DatabaseURL", c.DatabaseURL, newCfg.DatabaseURL)
	c.detectRestartChange(result, "OrchestratorConcurrency", c.OrchestratorConcurrency, newCfg.OrchestratorConcurrency)

	if c.LogLevel != newCfg.LogLevel {
		result.Changes = append(result.Changes, ReloadChange{Field: "LogLevel", OldValue: c.LogLevel, NewValue: newCfg.LogLevel, Applied: true})
		c.LogLevel = newCfg.LogLevel
		if lvl, err := zerolog.ParseLevel(newCfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	if c.CloseOnShutdown != newCfg.CloseOnShutdown {
		result.Changes = append(result.Changes, ReloadChange{Field: "CloseOnShutdown", OldValue: c.CloseOnShutdown, NewValue: newCfg.CloseOnShutdown, Applied: true})
		c.CloseOnShutdown = newCfg.CloseOnShutdown
	}

	if c.ShutdownTimeout != newCfg.ShutdownTimeout {
		result.Changes = append(result.Changes, ReloadChange{Field: "ShutdownTimeout", OldValue: c.ShutdownTimeout.String(), NewValue: newCfg.ShutdownTimeout.String(), Applied: true})
		c.ShutdownTimeout = newCfg.ShutdownTimeout
	}

	if !stringSlicesEqual(c.AllowedOrigins, newCfg.AllowedOrigins) {
		result.Changes = append(result.Changes, ReloadChange{Field: "AllowedOrigins", OldValue: c.AllowedOrigins, NewValue: newCfg.AllowedOrigins, Applied: true})
		c.AllowedOrigins = newCfg.AllowedOrigins
	}

	if c.ProfitTargetPct != newCfg.ProfitTargetPct {
		result.Changes = append(result.Changes, ReloadChange{Field: "ProfitTargetPct", OldValue: c.ProfitTargetPct, NewValue: newCfg.ProfitTargetPct, Applied: true})
		c.ProfitTargetPct = newCfg.ProfitTargetPct
	}

	if c.StopLossPct != newCfg.StopLossPct {
		result.Changes = append(result.Changes, ReloadChange{Field: "StopLossPct", OldValue: c.StopLossPct, NewValue: newCfg.StopLossPct, Applied: true})
		c.StopLossPct = newCfg.StopLossPct
	}

	log.Info().
		Int("total_changes", len(result.Changes)).
		Bool("requires_restart", result.RequiresRestart).
		Msg("Configuration reloaded")

	return result, nil
}

func (c *Config) detectRestartChange(result *ReloadResult, field string, oldVal, newVal interface{}) {
	if fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal) {
		result.Changes = append(result.Changes, ReloadChange{
			Field: field, OldValue: oldVal, NewValue: newVal, Applied: false,
		})
		result.RequiresRestart = true
		result.RestartReasons = append(result.RestartReasons, field+" changed")
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// parseList parses a comma-separated list, trimming whitespace around each element.
func parseList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := []string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// GenerateAPIKey generates a secure random key of 32 bytes (64 hex characters),
// used for JWT_SECRET/HMAC_SECRET rotation.
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// RotateHMACSecret generates a new HMAC secret, updates the config, and
// saves it to the .env file.
func (c *Config) RotateHMACSecret() (string, error) {
	newKey, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}

	c.HMACSecret = newKey

	envFile := c.EnvFile
	if envFile == "" {
		envFile = ".env"
	}

	content, err := os.ReadFile(envFile)
	if err != nil {
		if os.IsNotExist(err) {
			return newKey, os.WriteFile(envFile, []byte("HMAC_SECRET="+newKey+"\n"), 0644)
		}
		return "", err
	}

	lines := strings.Split(string(content), "\n")
	found := false
	for i, line := range lines {
		if strings.HasPrefix(line, "HMAC_SECRET=") {
			lines[i] = "HMAC_SECRET=" + newKey
			found = true
			break
		}
	}

	if !found {
		lines = append(lines, "HMAC_SECRET="+newKey)
	}

	if err := os.WriteFile(envFile, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return "", fmt.Errorf("failed to write .env file: %w", err)
	}

	return newKey, nil
}
