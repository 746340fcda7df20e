// Package config provides environment-based configuration management.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"toolbridge/internal/types"

	"github.com/sirupsen/logrus"
)

// Constants for default configuration values
const (
	DefaultPort                    = 8000
	DefaultHost                    = "0.0.0.0"
	DefaultUpstreamBaseURL         = "https://api.openai.com/v1"
	DefaultMaxConcurrentRequests   = 100
	DefaultReadTimeout             = 60
	DefaultWriteTimeout            = 600
	DefaultIdleTimeout             = 120
	DefaultGracefulShutdownTimeout = 10
	DefaultConnectTimeout          = 15
	DefaultRequestTimeout          = 600
	DefaultIdleConnTimeout         = 120
	DefaultResponseHeaderTimeout   = 600
	DefaultMaxIdleConns            = 100
	DefaultMaxIdleConnsPerHost     = 50
)

// Manager implements the ConfigManager interface
type Manager struct {
	config *Config
}

// Config represents the complete application configuration
type Config struct {
	Server      types.ServerConfig      `json:"server"`
	Upstream    types.UpstreamConfig    `json:"upstream"`
	Translation types.TranslationConfig `json:"translation"`
	CORS        types.CORSConfig        `json:"cors"`
	Performance types.PerformanceConfig `json:"performance"`
	Log         types.LogConfig         `json:"log"`
}

// NewManager creates a new configuration manager by reading the environment.
func NewManager() (types.ConfigManager, error) {
	manager := &Manager{}
	if err := manager.ReloadConfig(); err != nil {
		return nil, err
	}
	return manager, nil
}

// ReloadConfig re-reads configuration from environment variables.
func (m *Manager) ReloadConfig() error {
	config := &Config{
		Server: types.ServerConfig{
			Port:                    parseInteger(os.Getenv("PORT"), DefaultPort),
			Host:                    getEnvOrDefault("HOST", DefaultHost),
			ReadTimeout:             parseInteger(os.Getenv("SERVER_READ_TIMEOUT"), DefaultReadTimeout),
			WriteTimeout:            parseInteger(os.Getenv("SERVER_WRITE_TIMEOUT"), DefaultWriteTimeout),
			IdleTimeout:             parseInteger(os.Getenv("SERVER_IDLE_TIMEOUT"), DefaultIdleTimeout),
			GracefulShutdownTimeout: parseInteger(os.Getenv("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT"), DefaultGracefulShutdownTimeout),
		},
		Upstream: types.UpstreamConfig{
			BaseURL:               strings.TrimSuffix(getEnvOrDefault("TARGET_BASE_URL", DefaultUpstreamBaseURL), "/"),
			APIKey:                os.Getenv("TARGET_API_KEY"),
			ConnectTimeout:        parseInteger(os.Getenv("CONNECT_TIMEOUT"), DefaultConnectTimeout),
			RequestTimeout:        parseInteger(os.Getenv("REQUEST_TIMEOUT"), DefaultRequestTimeout),
			IdleConnTimeout:       parseInteger(os.Getenv("IDLE_CONN_TIMEOUT"), DefaultIdleConnTimeout),
			ResponseHeaderTimeout: parseInteger(os.Getenv("RESPONSE_HEADER_TIMEOUT"), DefaultResponseHeaderTimeout),
			MaxIdleConns:          parseInteger(os.Getenv("MAX_IDLE_CONNS"), DefaultMaxIdleConns),
			MaxIdleConnsPerHost:   parseInteger(os.Getenv("MAX_IDLE_CONNS_PER_HOST"), DefaultMaxIdleConnsPerHost),
			ProxyURL:              os.Getenv("PROXY_URL"),
		},
		Translation: types.TranslationConfig{
			StrictSchema:    parseBoolean(os.Getenv("STRICT_SCHEMA"), true),
			ForceToolChoice: parseBoolean(os.Getenv("FORCE_TOOL_CHOICE"), false),
			RulesFile:       os.Getenv("RULES_FILE"),
			DumpDir:         os.Getenv("DUMP_DIR"),
		},
		CORS: types.CORSConfig{
			Enabled:          parseBoolean(os.Getenv("ENABLE_CORS"), false),
			AllowedOrigins:   parseArray(os.Getenv("ALLOWED_ORIGINS"), []string{"*"}),
			AllowedMethods:   parseArray(os.Getenv("ALLOWED_METHODS"), []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   parseArray(os.Getenv("ALLOWED_HEADERS"), []string{"*"}),
			AllowCredentials: parseBoolean(os.Getenv("ALLOW_CREDENTIALS"), false),
		},
		Performance: types.PerformanceConfig{
			MaxConcurrentRequests: parseInteger(os.Getenv("MAX_CONCURRENT_REQUESTS"), DefaultMaxConcurrentRequests),
		},
		Log: types.LogConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			Format:     getEnvOrDefault("LOG_FORMAT", "text"),
			EnableFile: parseBoolean(os.Getenv("LOG_ENABLE_FILE"), false),
			FilePath:   getEnvOrDefault("LOG_FILE_PATH", "./logs/app.log"),
		},
	}

	m.config = config
	return m.Validate()
}

// Validate checks the loaded configuration for consistency.
func (m *Manager) Validate() error {
	if m.config.Server.Port < 1 || m.config.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", m.config.Server.Port)
	}
	if m.config.Performance.MaxConcurrentRequests < 1 {
		return fmt.Errorf("max concurrent requests must be at least 1, got: %d", m.config.Performance.MaxConcurrentRequests)
	}
	if _, err := url.Parse(m.config.Upstream.BaseURL); err != nil {
		return fmt.Errorf("invalid TARGET_BASE_URL: %w", err)
	}
	if m.config.Upstream.ProxyURL != "" {
		if _, err := url.Parse(m.config.Upstream.ProxyURL); err != nil {
			return fmt.Errorf("invalid PROXY_URL: %w", err)
		}
	}
	if m.config.Translation.RulesFile != "" {
		if _, err := os.Stat(m.config.Translation.RulesFile); err != nil {
			return fmt.Errorf("rules file not accessible: %w", err)
		}
	}
	return nil
}

// GetEffectiveServerConfig returns the server configuration.
func (m *Manager) GetEffectiveServerConfig() types.ServerConfig {
	return m.config.Server
}

// GetUpstreamConfig returns the upstream backend configuration.
func (m *Manager) GetUpstreamConfig() types.UpstreamConfig {
	return m.config.Upstream
}

// GetTranslationConfig returns the translation engine configuration.
func (m *Manager) GetTranslationConfig() types.TranslationConfig {
	return m.config.Translation
}

// GetCORSConfig returns the CORS configuration.
func (m *Manager) GetCORSConfig() types.CORSConfig {
	return m.config.CORS
}

// GetPerformanceConfig returns the performance configuration.
func (m *Manager) GetPerformanceConfig() types.PerformanceConfig {
	return m.config.Performance
}

// GetLogConfig returns the logging configuration.
func (m *Manager) GetLogConfig() types.LogConfig {
	return m.config.Log
}

// DisplayServerConfig logs the effective configuration at startup.
func (m *Manager) DisplayServerConfig() {
	logrus.Info("=== Server Configuration ===")
	logrus.Infof("Listen: %s:%d", m.config.Server.Host, m.config.Server.Port)
	logrus.Infof("Upstream: %s", m.config.Upstream.BaseURL)
	logrus.Infof("Strict schema: %v", m.config.Translation.StrictSchema)
	logrus.Infof("Force tool choice: %v", m.config.Translation.ForceToolChoice)
	if m.config.Translation.RulesFile != "" {
		logrus.Infof("Rules file: %s", m.config.Translation.RulesFile)
	}
	if m.config.Translation.DumpDir != "" {
		logrus.Infof("Dump dir: %s", m.config.Translation.DumpDir)
	}
	logrus.Infof("Max concurrent requests: %d", m.config.Performance.MaxConcurrentRequests)
	logrus.Infof("Log level: %s", m.config.Log.Level)
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInteger(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return defaultValue
}

func parseBoolean(value string, defaultValue bool) bool {
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

func parseArray(value string, defaultValue []string) []string {
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
