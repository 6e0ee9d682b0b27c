// Package config holds the engine configuration surface: typed options,
// defaults, validation, and YAML file loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YuhIcey/Barren-Engine/internal/codec"
	"github.com/YuhIcey/Barren-Engine/internal/crypto"
)

// Defaults.
const (
	DefaultMTU                 = 1200
	DefaultFragmentSize        = 1024
	DefaultFragmentTimeoutMs   = 2000
	DefaultKeepAliveMs         = 1000
	DefaultConnectionTimeoutMs = 5000
	DefaultMaxRetries          = 5
	DefaultMaxConnections      = 64
	DefaultQueueCapacity       = 1024
	DefaultOrderedBufferCap    = 1024
)

// Config is the per-manager (and per-connection) option set. Durations are
// expressed in milliseconds to match the wire-level configuration surface.
type Config struct {
	MTU                 int    `yaml:"mtu"`
	FragmentSize        int    `yaml:"fragment_size"`
	FragmentTimeoutMs   int    `yaml:"fragment_timeout_ms"`
	KeepAliveMs         int    `yaml:"keep_alive_ms"`
	ConnectionTimeoutMs int    `yaml:"connection_timeout_ms"`
	MaxRetries          int    `yaml:"max_retries"`
	Compression         bool   `yaml:"compression"`
	CompressionAlgo     string `yaml:"compression_algorithm"`
	Encryption          bool   `yaml:"encryption"`
	EncryptionSuite     string `yaml:"encryption_suite"`
	BandwidthBps        int64  `yaml:"bandwidth_bps"`
	MaxConnections      int    `yaml:"max_connections"`
	QueueCapacity       int    `yaml:"queue_capacity"`
	OrderedBufferCap    int    `yaml:"ordered_buffer_cap"`

	// Key is the pre-shared AEAD master key, supplied programmatically and
	// never read from a config file.
	Key []byte `yaml:"-"`
}

// Default returns the engine defaults.
func Default() Config {
	return Config{
		MTU:                 DefaultMTU,
		FragmentSize:        DefaultFragmentSize,
		FragmentTimeoutMs:   DefaultFragmentTimeoutMs,
		KeepAliveMs:         DefaultKeepAliveMs,
		ConnectionTimeoutMs: DefaultConnectionTimeoutMs,
		MaxRetries:          DefaultMaxRetries,
		CompressionAlgo:     "lz4",
		EncryptionSuite:     "aes-256-gcm",
		MaxConnections:      DefaultMaxConnections,
		QueueCapacity:       DefaultQueueCapacity,
		OrderedBufferCap:    DefaultOrderedBufferCap,
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the option set. Configuration errors are surfaced
// synchronously and prevent a connection from entering Connecting.
func (c *Config) Validate() error {
	if c.MTU <= 0 {
		return fmt.Errorf("mtu must be positive, got %d", c.MTU)
	}
	if c.FragmentSize <= 0 || c.FragmentSize > c.MTU {
		return fmt.Errorf("fragment_size must be in 1..mtu (%d), got %d", c.MTU, c.FragmentSize)
	}
	if c.FragmentTimeoutMs <= 0 {
		return errors.New("fragment_timeout_ms must be positive")
	}
	if c.KeepAliveMs <= 0 {
		return errors.New("keep_alive_ms must be positive")
	}
	if c.ConnectionTimeoutMs <= 0 {
		return errors.New("connection_timeout_ms must be positive")
	}
	if c.MaxRetries <= 0 {
		return errors.New("max_retries must be positive")
	}
	if c.BandwidthBps < 0 {
		return errors.New("bandwidth_bps must not be negative")
	}
	if _, err := codec.ParseAlgorithm(c.CompressionAlgo); err != nil {
		return err
	}
	if _, err := ParseSuite(c.EncryptionSuite); err != nil {
		return err
	}
	if c.Encryption {
		if err := crypto.ValidateKey(c.Key); err != nil {
			return fmt.Errorf("encryption enabled: %w", err)
		}
	}
	return nil
}

// ParseSuite maps a config string to a cipher suite.
func ParseSuite(s string) (crypto.Suite, error) {
	switch s {
	case "", "aes-256-gcm":
		return crypto.AES256GCM, nil
	case "chacha20-poly1305":
		return crypto.ChaCha20Poly1305, nil
	}
	return crypto.AES256GCM, fmt.Errorf("unknown encryption suite %q", s)
}

// Algorithm returns the parsed compression algorithm. Validate first.
func (c *Config) Algorithm() codec.Algorithm {
	algo, _ := codec.ParseAlgorithm(c.CompressionAlgo)
	return algo
}

// Suite returns the parsed cipher suite. Validate first.
func (c *Config) Suite() crypto.Suite {
	suite, _ := ParseSuite(c.EncryptionSuite)
	return suite
}

// Duration accessors.

func (c *Config) FragmentTimeout() time.Duration {
	return time.Duration(c.FragmentTimeoutMs) * time.Millisecond
}

func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveMs) * time.Millisecond
}

func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMs) * time.Millisecond
}
