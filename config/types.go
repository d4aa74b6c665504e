// Package config loads golem connection settings from defaults, a YAML file,
// GOLEM_ environment variables and command line flags.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/leandroluk/golem/v2/core"
)

// Default configuration values.
const (
	DefaultLogLevel       = "info"
	DefaultSettleTimeout  = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	EnvPrefix             = "GOLEM_"
)

// Config is the root configuration.
type Config struct {
	Default       string                      `koanf:"default"`
	EncryptionKey string                      `koanf:"encryption_key"` // base64, 32 bytes
	LogLevel      string                      `koanf:"log_level"`
	Connections   map[string]ConnectionConfig `koanf:"connections"`
}

// ConnectionConfig describes one named connection.
type ConnectionConfig struct {
	Driver         string        `koanf:"driver"` // relational or document
	URI            string        `koanf:"uri"`
	Database       string        `koanf:"database"` // document connections only
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	Pool           PoolConfig    `koanf:"pool"`
}

// PoolConfig bounds the connection pool of one connection.
type PoolConfig struct {
	MaxConns      int32         `koanf:"max_conns"`
	MinConns      int32         `koanf:"min_conns"`
	MaxIdleTime   time.Duration `koanf:"max_idle_time"`
	MaxLifetime   time.Duration `koanf:"max_lifetime"`
	SettleTimeout time.Duration `koanf:"settle_timeout"`
}

// Names returns the connection names in sorted order.
func (c *Config) Names() []string {
	nameList := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		nameList = append(nameList, name)
	}
	sort.Strings(nameList)
	return nameList
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Connections) == 0 {
		return fmt.Errorf("%w: at least one connection is required", core.ErrInvalidArgument)
	}
	if c.Default != "" {
		if _, ok := c.Connections[c.Default]; !ok {
			return &core.Error{Op: "config", Connection: c.Default, Err: fmt.Errorf("%w: default connection is not configured", core.ErrConnectionNotFound)}
		}
	} else if len(c.Connections) > 1 {
		return fmt.Errorf("%w: default is required when more than one connection is configured", core.ErrInvalidArgument)
	}
	for _, name := range c.Names() {
		if err := c.Connections[name].Validate(); err != nil {
			return &core.Error{Op: "config", Connection: name, Err: err}
		}
	}
	if c.EncryptionKey != "" {
		if _, err := core.NewEncrypterFromBase64(c.EncryptionKey); err != nil {
			return &core.Error{Op: "config", Field: "encryption_key", Err: err}
		}
	}
	return nil
}

// Validate checks a single connection entry.
func (c ConnectionConfig) Validate() error {
	kind, err := core.ParseDriverKind(c.Driver)
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.URI) == "" {
		return fmt.Errorf("%w: uri is required", core.ErrInvalidArgument)
	}
	if c.Pool.MaxConns < 0 || c.Pool.MinConns < 0 {
		return fmt.Errorf("%w: pool sizes must not be negative", core.ErrInvalidArgument)
	}
	if c.Pool.MaxConns > 0 && c.Pool.MinConns > c.Pool.MaxConns {
		return fmt.Errorf("%w: min_conns exceeds max_conns", core.ErrInvalidArgument)
	}
	if kind == core.Document && c.Database == "" && !strings.HasPrefix(c.URI, "memory://") {
		return fmt.Errorf("%w: database is required for document connections", core.ErrInvalidArgument)
	}
	return nil
}
