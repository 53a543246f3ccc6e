package config

import (
	"os"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func LoadConfig() (*Config, error) {
	dataDir := getenv("DATA_DIR", "./data")

	cfg := &Config{
		DataDir:       dataDir,
		HTTPAddr:      getenv("HTTP_ADDR", ":8927"),
		StreamBaseURL: getenv("STREAM_BASE_URL", "http://localhost:8927/stream"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
	}

	if cfg.StreamBaseURL == "" {
		return nil, ErrConfig("STREAM_BASE_URL required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return cfg, nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
