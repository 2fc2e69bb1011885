package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir       string         `json:"dataDir"`
	HTTPAddr      string         `json:"httpAddr"`
	LogLevel      string         `json:"logLevel"`
	LogJSON       bool           `json:"logJson"`
	QueueDefaults QueueDefaults  `json:"queueDefaults"`
	Queues        []QueueConfig  `json:"queues"`
	Consumer      ConsumerConfig `json:"consumer"`
}

// QueueDefaults captures baseline delivery parameters applied to queues
// that do not override them.
type QueueDefaults struct {
	LeaseSeconds    int `json:"leaseSeconds"`
	MaxReceiveCount int `json:"maxReceiveCount"`
	Capacity        int `json:"capacity"`
}

// QueueConfig declares one queue and, optionally, its dead-letter target.
// Zero-valued delivery fields inherit QueueDefaults.
type QueueConfig struct {
	Name            string `json:"name"`
	DeadLetter      string `json:"deadLetter"`
	LeaseSeconds    int    `json:"leaseSeconds"`
	MaxReceiveCount int    `json:"maxReceiveCount"`
	Capacity        int    `json:"capacity"`
}

// ConsumerConfig sets the order-processing worker pool.
type ConsumerConfig struct {
	Queue      string `json:"queue"`
	Workers    int    `json:"workers"`
	BatchSize  int    `json:"batchSize"`
	PollWaitMs int    `json:"pollWaitMs"`
}

// Default returns built-in defaults: a single "orders" queue with an
// "orders-dlq" dead-letter target and a consumer draining it.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		QueueDefaults: QueueDefaults{
			LeaseSeconds:    30,
			MaxReceiveCount: 3,
		},
		Queues: []QueueConfig{
			{Name: "orders", DeadLetter: "orders-dlq"},
		},
		Consumer: ConsumerConfig{
			Queue:      "orders",
			Workers:    4,
			BatchSize:  10,
			PollWaitMs: 1000,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the queue topology for conflicts.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Queues))
	for _, q := range c.Queues {
		if q.Name == "" {
			return fmt.Errorf("config: queue with empty name")
		}
		if seen[q.Name] {
			return fmt.Errorf("config: duplicate queue %q", q.Name)
		}
		seen[q.Name] = true
		if q.DeadLetter == q.Name {
			return fmt.Errorf("config: queue %q dead-letters to itself", q.Name)
		}
	}
	if c.Consumer.Queue != "" && !seen[c.Consumer.Queue] && !isDeadLetterOf(c.Queues, c.Consumer.Queue) {
		return fmt.Errorf("config: consumer queue %q not declared", c.Consumer.Queue)
	}
	return nil
}

func isDeadLetterOf(queues []QueueConfig, name string) bool {
	for _, q := range queues {
		if q.DeadLetter == name {
			return true
		}
	}
	return false
}
