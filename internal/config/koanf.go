// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"platebook.yaml",
	"platebook.yml",
	"/etc/platebook/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix starts every structured environment variable.
const EnvPrefix = "PLATEBOOK_"

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "/data/platebook",
		},
		Backup: BackupConfig{
			Compression:      "zstd",
			CompressionLevel: 0,
			MaxMemberSize:    1 << 30,
			CopyWorkers:      4,
			SafetyRetention:  24 * time.Hour,
			KeepLatestSafety: 0,
			PurgeInterval:    time.Hour,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8765,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // exports and uploads may stream for minutes
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  4 << 30,
			UploadRateBytes: 0,
			CORSOrigins:     []string{},

			RateLimitRequests: 10,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Caller:    false,
			Timestamp: true,
		},
	}
}

// Default returns the built-in configuration with derived paths resolved.
func Default() *Config {
	cfg := defaultConfig()
	cfg.Storage.resolve()
	return cfg
}

// Load builds the configuration from defaults, the YAML file at path (or
// the discovered one when path is empty) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as a string.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envAliases = map[string]string{
	"log_level":    "logging.level",
	"log_format":   "logging.format",
	"log_caller":   "logging.caller",
	"http_host":    "server.host",
	"http_port":    "server.port",
	"data_dir":     "storage.data_dir",
	"cors_origins": "server.cors_origins",
}

// envTransformFunc maps an environment variable name to a koanf key, or
// to "" to ignore it.
func envTransformFunc(key string) string {
	if strings.HasPrefix(key, EnvPrefix) {
		key = strings.TrimPrefix(key, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(key), "__", ".")
	}
	return envAliases[strings.ToLower(key)]
}
