/*
 * This file is part of Lectern (https://github.com/lecternlabs/lectern).
 * Copyright (C) 2025 Lectern Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Lectern hub
type Config struct {
	Server  ServerConfig
	Ingest  IngestConfig
	Engine  EngineConfig
	ASR     ASRConfig
	Storage StorageConfig
	Logging LoggingConfig
	NATS    NATSConfig
}

// ServerConfig holds the diagnostics HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// IngestConfig holds the audio feed client configuration
type IngestConfig struct {
	URL              string        // WebSocket URL of the conference audio feed
	ReconnectMinWait time.Duration // Initial reconnect backoff
	ReconnectMaxWait time.Duration // Backoff ceiling
}

// EngineConfig holds the per-room buffering engine configuration
type EngineConfig struct {
	MaxChunkBytes      int64         // Hard ceiling for a single chunk payload
	QueueCapacity      int           // Per-room inbound queue capacity
	EnqueueTimeout     time.Duration // How long Dispatch waits on a full queue
	PollInterval       time.Duration // Worker dequeue poll interval
	IdleTimeout        time.Duration // No-chunk span after which a worker retires
	FinalFlushMinBytes int64         // Minimum buffer size worth a retirement flush
	JoinTimeout        time.Duration // Per-worker join bound during shutdown
	PlaceholderOnError bool          // Store a marked placeholder when ASR fails

	Flush FlushConfig
}

// FlushConfig holds the flush policy thresholds. Rules are evaluated in the
// order they appear here; the first match wins.
type FlushConfig struct {
	OptimalDuration  time.Duration // Rule 1: preferred accumulation window
	OptimalMinBytes  int64         // Rule 1: minimum substance for the window
	SufficientBytes  int64         // Rule 2
	MaxBytes         int64         // Rule 3: absolute byte bound
	MinDuration      time.Duration // Rule 4
	MinDurationBytes int64         // Rule 4
	ForcedTimeout    time.Duration // Rule 5: fail-safe against sparse rooms
	ChunkCountFloor  int           // Rule 6
	ChunkCountBytes  int64         // Rule 6
}

// ASRConfig holds speech-to-text backend configuration
type ASRConfig struct {
	Backend     string        // "openai", "whisper" or "none"
	URL         string        // Base URL for the OpenAI-compatible service
	APIKey      string        // API key, if the service requires one
	Model       string        // Model name passed to the service
	ModelPath   string        // Local whisper.cpp model path (whisper backend)
	Language    string        // Hint language, empty for auto-detect
	Temperature float32
	Timeout     time.Duration
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DBPath string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	URL           string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("LECTERN_HOST", "0.0.0.0"),
			Port:         getEnvInt("LECTERN_PORT", 8080),
			ReadTimeout:  getEnvDuration("LECTERN_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("LECTERN_WRITE_TIMEOUT", 30*time.Second),
		},
		Ingest: IngestConfig{
			URL:              getEnvString("INGEST_URL", "ws://localhost:9090/audio"),
			ReconnectMinWait: getEnvDuration("INGEST_RECONNECT_MIN_WAIT", 1*time.Second),
			ReconnectMaxWait: getEnvDuration("INGEST_RECONNECT_MAX_WAIT", 30*time.Second),
		},
		Engine: EngineConfig{
			MaxChunkBytes:      getEnvInt64("ENGINE_MAX_CHUNK_BYTES", 10*1024*1024),
			QueueCapacity:      getEnvInt("ENGINE_QUEUE_CAPACITY", 50),
			EnqueueTimeout:     getEnvDuration("ENGINE_ENQUEUE_TIMEOUT", 1*time.Second),
			PollInterval:       getEnvDuration("ENGINE_POLL_INTERVAL", 100*time.Millisecond),
			IdleTimeout:        getEnvDuration("ENGINE_IDLE_TIMEOUT", 60*time.Second),
			FinalFlushMinBytes: getEnvInt64("ENGINE_FINAL_FLUSH_MIN_BYTES", 5*1024),
			JoinTimeout:        getEnvDuration("ENGINE_JOIN_TIMEOUT", 5*time.Second),
			PlaceholderOnError: getEnvBool("ENGINE_PLACEHOLDER_ON_ERROR", false),
			Flush: FlushConfig{
				OptimalDuration:  getEnvDuration("FLUSH_OPTIMAL_DURATION", 30*time.Second),
				OptimalMinBytes:  getEnvInt64("FLUSH_OPTIMAL_MIN_BYTES", 100_000),
				SufficientBytes:  getEnvInt64("FLUSH_SUFFICIENT_BYTES", 500_000),
				MaxBytes:         getEnvInt64("FLUSH_MAX_BYTES", 1_500_000),
				MinDuration:      getEnvDuration("FLUSH_MIN_DURATION", 10*time.Second),
				MinDurationBytes: getEnvInt64("FLUSH_MIN_DURATION_BYTES", 200_000),
				ForcedTimeout:    getEnvDuration("FLUSH_FORCED_TIMEOUT", 45*time.Second),
				ChunkCountFloor:  getEnvInt("FLUSH_CHUNK_COUNT_FLOOR", 500),
				ChunkCountBytes:  getEnvInt64("FLUSH_CHUNK_COUNT_BYTES", 300_000),
			},
		},
		ASR: ASRConfig{
			Backend:     getEnvString("ASR_BACKEND", "openai"),
			URL:         getEnvString("ASR_URL", "http://localhost:8000/v1"),
			APIKey:      getEnvString("ASR_API_KEY", ""),
			Model:       getEnvString("ASR_MODEL", "whisper-1"),
			ModelPath:   getEnvString("ASR_MODEL_PATH", ""),
			Language:    getEnvString("ASR_LANGUAGE", ""),
			Temperature: getEnvFloat32("ASR_TEMPERATURE", 0.0),
			Timeout:     getEnvDuration("ASR_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			DBPath: getEnvString("DB_PATH", "./data/lectern-hub.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		NATS: NATSConfig{
			URL:           getEnvString("NATS_URL", "nats://localhost:4222"),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Ingest.URL == "" {
		return fmt.Errorf("ingest URL must be provided")
	}

	if c.Engine.MaxChunkBytes <= 0 {
		return fmt.Errorf("max chunk bytes must be positive: %d", c.Engine.MaxChunkBytes)
	}

	if c.Engine.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive: %d", c.Engine.QueueCapacity)
	}

	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %v", c.Engine.PollInterval)
	}

	if c.Engine.IdleTimeout < c.Engine.PollInterval {
		return fmt.Errorf("idle timeout %v must not be shorter than poll interval %v",
			c.Engine.IdleTimeout, c.Engine.PollInterval)
	}

	f := c.Engine.Flush
	if f.SufficientBytes <= 0 || f.MaxBytes <= 0 {
		return fmt.Errorf("flush byte thresholds must be positive")
	}
	if f.MaxBytes < f.SufficientBytes {
		return fmt.Errorf("flush max bytes %d below sufficient bytes %d",
			f.MaxBytes, f.SufficientBytes)
	}

	switch c.ASR.Backend {
	case "openai", "whisper", "none":
	default:
		return fmt.Errorf("unknown ASR backend: %q", c.ASR.Backend)
	}

	if c.ASR.Backend == "openai" && c.ASR.URL == "" {
		return fmt.Errorf("ASR URL must be provided for the openai backend")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatValue)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
