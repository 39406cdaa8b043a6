package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all conveyor server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	PoolSize       int    `json:"pool_size"`
	DefinitionsDir string `json:"definitions_dir"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(conveyorDir(), "conveyor.db"),
		LogLevel:       "info",
		PoolSize:       10,
		DefinitionsDir: filepath.Join(conveyorDir(), "definitions"),
	}
}

func conveyorDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conveyor"
	}
	return filepath.Join(home, ".conveyor")
}

func settingsPath() string {
	return filepath.Join(conveyorDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CONVEYOR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONVEYOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONVEYOR_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("CONVEYOR_DEFINITIONS_DIR"); v != "" {
		cfg.DefinitionsDir = v
	}

	return cfg
}
