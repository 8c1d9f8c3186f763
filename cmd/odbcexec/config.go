package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the odbcexec configuration. Values from the YAML file are
// overridden by environment variables.
type Config struct {
	ConnectionString string        `yaml:"connection_string"`
	LibraryPath      string        `yaml:"library_path"`
	LoginTimeout     time.Duration `yaml:"login_timeout"`
	Log              LogConfig     `yaml:"log"`
}

// LogConfig controls the console and rotated file logs.
type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	Development bool   `yaml:"development"`
}

func defaultConfig() Config {
	return Config{
		LoginTimeout: 15 * time.Second,
		Log: LogConfig{
			Level: "info",
		},
	}
}

func loadConfig(path string) (Config, error) {
	config := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	config.ConnectionString = getEnvString("ODBC_CONNECTION_STRING", config.ConnectionString)
	config.LibraryPath = getEnvString("ODBC_LIB_PATH", config.LibraryPath)
	config.Log.File = getEnvString("ODBCEXEC_LOG_FILE", config.Log.File)
	config.Log.Level = getEnvString("ODBCEXEC_LOG_LEVEL", config.Log.Level)

	if config.ConnectionString == "" {
		return Config{}, errors.New("no connection string: set connection_string or ODBC_CONNECTION_STRING")
	}
	return config, nil
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
