package config

import (
	"os"
	"strconv"
)

// FromEnv overlays ORDERPIPE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("ORDERPIPE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ORDERPIPE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("ORDERPIPE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ORDERPIPE_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
	if v := os.Getenv("ORDERPIPE_LEASE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueDefaults.LeaseSeconds = n
		}
	}
	if v := os.Getenv("ORDERPIPE_MAX_RECEIVE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueDefaults.MaxReceiveCount = n
		}
	}
	if v := os.Getenv("ORDERPIPE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueDefaults.Capacity = n
		}
	}
	if v := os.Getenv("ORDERPIPE_CONSUMER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Consumer.Workers = n
		}
	}
	if v := os.Getenv("ORDERPIPE_CONSUMER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Consumer.BatchSize = n
		}
	}
}
