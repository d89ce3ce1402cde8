// Package config loads and validates the process's JSON configuration
// file, loading a .env file into the process environment first, and
// returns the result as an explicit value instead of a package-level
// mutable singleton.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// BatcherConfig configures the AIMD batcher (§4.4).
type BatcherConfig struct {
	InitialBatchSize   int `json:"initial-batch-size"`
	MinBatchSize       int `json:"min-batch-size"`
	MaxBatchSize       int `json:"max-batch-size"`
	TargetProcessingMs int `json:"target-processing-ms"`
}

// TargetProcessing returns the configured target as a time.Duration.
func (b BatcherConfig) TargetProcessing() time.Duration {
	return time.Duration(b.TargetProcessingMs) * time.Millisecond
}

// KafkaConfig configures the broker-backed input source.
type KafkaConfig struct {
	BootstrapServers string `json:"bootstrap-servers"`
	Topic            string `json:"topic"`
	GroupID          string `json:"group-id"`
	SchemaRegistry   string `json:"schema-registry"`
}

// NatsConfig configures the NATS connection used as the log-broker
// transport, mirroring the teacher's pkg/nats.NatsConfig shape.
type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// S3Config configures optional s3:// input resolution.
type S3Config struct {
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
}

// Config is the process-wide configuration, decoded from a JSON file. No
// field is read from environment variables.
type Config struct {
	PostgresURL    string        `json:"postgres-url"`
	ScriptPath     string        `json:"script-path"`
	Workers        int           `json:"workers"`
	Partitions     int           `json:"partitions"`
	AdminAddr      string        `json:"admin-addr"`
	StatusInterval string        `json:"status-interval"`
	Batcher        BatcherConfig `json:"batcher"`
	Kafka          KafkaConfig   `json:"kafka"`
	Nats           NatsConfig    `json:"nats"`
	S3             S3Config      `json:"s3"`
}

// Default returns a Config seeded with the same conservative defaults
// the pipeline falls back to when a field is left unset in the file.
func Default() Config {
	return Config{
		Workers:    0, // 0 means runtime.NumCPU()
		Partitions: 0, // 0 means runtime.NumCPU()
		AdminAddr:  ":6060",
		Batcher: BatcherConfig{
			InitialBatchSize:   16,
			MinBatchSize:       1,
			MaxBatchSize:       256,
			TargetProcessingMs: 100,
		},
		StatusInterval: "10s",
	}
}

// Load loads .env into the process environment (if present, silently
// ignoring its absence), reads and validates the JSON file at path
// against the embedded schema, and decodes it over Default(). The
// returned Config does not take values from the environment.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := Validate(raw); err != nil {
		return Config{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	return cfg, nil
}
