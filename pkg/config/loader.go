// Package config loads qosd settings from environment variables and defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting the qosd daemon needs to start: the dispatcher's
// own capacity knobs plus its ambient/domain collaborators.
type Config struct {
	// Dispatcher capacity (spec.md §3/§6 scheduler constructor arguments).
	SystemThroughput float64
	MinCost          float64
	MaxTokensPerSub  float64

	// Purge scheduling (spec.md §4.2 "scheduled by the owner").
	PurgeInterval time.Duration

	// etcd (leader election for the purge ticker across qosd replicas).
	EtcdEndpoints   []string
	EtcdDialTimeout time.Duration

	// Redis (diagnostic snapshot store).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kubernetes (executor that consumes dispatched items).
	KubeConfigPath string
	Namespace      string

	// Logging.
	LogLevel string
}

// Load reads configuration from environment variables, falling back to
// sensible defaults for local development.
func Load() *Config {
	return &Config{
		SystemThroughput: getFloat("QOSD_SYSTEM_THROUGHPUT", 1000),
		MinCost:          getFloat("QOSD_MIN_COST", 1),
		MaxTokensPerSub:  getFloat("QOSD_MAX_TOKENS_PER_SUBQUEUE", 1000),

		PurgeInterval: getDuration("QOSD_PURGE_INTERVAL", 30*time.Second),

		EtcdEndpoints:   getStringSlice("QOSD_ETCD_ENDPOINTS", []string{"localhost:2379"}),
		EtcdDialTimeout: getDuration("QOSD_ETCD_TIMEOUT", 10*time.Second),

		RedisAddr:     getString("QOSD_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getString("QOSD_REDIS_PASSWORD", ""),
		RedisDB:       getInt("QOSD_REDIS_DB", 0),

		KubeConfigPath: getString("QOSD_KUBECONFIG", ""),
		Namespace:      getString("QOSD_K8S_NAMESPACE", "default"),

		LogLevel: getString("QOSD_LOG_LEVEL", "info"),
	}
}

// Validate checks that the values required for the dispatcher to come up
// make sense. It does not touch network collaborators (redis/etcd/k8s) —
// those fail, operationally, on first use instead.
func Validate(cfg *Config) error {
	if cfg.SystemThroughput <= 0 {
		return &configError{field: "SystemThroughput", reason: "must be positive"}
	}
	if cfg.MinCost <= 0 {
		return &configError{field: "MinCost", reason: "must be positive"}
	}
	if cfg.MaxTokensPerSub <= cfg.MinCost {
		return &configError{field: "MaxTokensPerSubqueue", reason: "must exceed MinCost"}
	}
	if cfg.PurgeInterval <= 0 {
		return &configError{field: "PurgeInterval", reason: "must be positive"}
	}
	if len(cfg.EtcdEndpoints) == 0 {
		return &configError{field: "EtcdEndpoints", reason: "cannot be empty"}
	}
	if cfg.RedisAddr == "" {
		return &configError{field: "RedisAddr", reason: "cannot be empty"}
	}
	return nil
}

type configError struct {
	field  string
	reason string
}

func (e *configError) Error() string {
	return fmt.Sprintf("config validation error: %s %s", e.field, e.reason)
}

func getString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getStringSlice reads a comma-separated environment variable, e.g.
// "localhost:2379,etcd-2:2379,etcd-3:2379".
func getStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
