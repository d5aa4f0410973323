package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting of the upscaler process. Values come
// from environment variables, optionally seeded from a .env file.
type Config struct {
	// ListenAddr is the HTTP/WebSocket listen address.
	ListenAddr string

	// RegistryPath points at the YAML model registry.
	RegistryPath string

	// WeightsDir is where model weights are downloaded and cached.
	WeightsDir string

	// DatabasePath is the SQLite file backing the run journal.
	DatabasePath string

	// MigrationsPath locates the SQL migrations, in golang-migrate
	// source URL form.
	MigrationsPath string

	// LogFilePath receives the rotating JSON log. Empty disables the file
	// sink and logs go to the console only.
	LogFilePath string

	// ONNXLibraryPath optionally locates the onnxruntime shared library.
	// Empty leaves the loader's default search path in effect.
	ONNXLibraryPath string

	// AccessTokenHash is the bcrypt hash clients must present a matching
	// token for. Empty disables authentication.
	AccessTokenHash string

	// SharedMemory reports whether the CPU backend may use every core.
	// Disable on machines shared with other latency-sensitive work.
	SharedMemory bool

	// QueueCapacity bounds the worker's pending run queue.
	QueueCapacity int

	// ShutdownTimeout is the total graceful shutdown budget.
	ShutdownTimeout time.Duration

	// DevMode switches logging to the human-readable development encoder.
	DevMode bool
}

// LoadConfig reads configuration from the environment, applying defaults
// for everything optional. It fails only on values that are present but
// unusable.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnvOrDefault("LISTEN_ADDR", ":8090"),
		RegistryPath:    getEnvOrDefault("MODEL_REGISTRY", "models.yaml"),
		WeightsDir:      getEnvOrDefault("WEIGHTS_DIR", "weights"),
		DatabasePath:    getEnvOrDefault("DATABASE_PATH", "data/runs.db"),
		MigrationsPath:  getEnvOrDefault("MIGRATIONS_PATH", "file://db/migrations"),
		LogFilePath:     getEnvOrDefault("LOG_FILE", "logs/upscaler.log"),
		ONNXLibraryPath: os.Getenv("ONNX_RUNTIME_LIB"),
		AccessTokenHash: os.Getenv("ACCESS_TOKEN_HASH"),
		SharedMemory:    parseBoolEnv("SHARED_MEMORY", true),
		QueueCapacity:   parseIntEnv("QUEUE_CAPACITY", 16),
		ShutdownTimeout: time.Duration(parseIntEnv("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		DevMode:         os.Getenv("DEV_MODE") == "true",
	}

	if cfg.QueueCapacity < 1 {
		return nil, fmt.Errorf("QUEUE_CAPACITY must be at least 1, got %d", cfg.QueueCapacity)
	}
	if cfg.ShutdownTimeout < time.Second {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT_SECONDS must be at least 1, got %s", cfg.ShutdownTimeout)
	}
	return cfg, nil
}

// getEnvOrDefault returns the value of an environment variable or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an environment variable as an integer, falling back
// to the default when unset or unparsable.
func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// parseBoolEnv parses an environment variable as a boolean. "true", "1",
// "yes", and "on" count as true, case-insensitively; their opposites as
// false. Anything else keeps the default.
func parseBoolEnv(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}
