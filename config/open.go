package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leandroluk/golem/v2/core"
	"github.com/leandroluk/golem/v2/driver/document"
	"github.com/leandroluk/golem/v2/driver/relational"
)

// Build constructs one unconnected connection per configured entry.
func Build(cfg *Config, logger *slog.Logger) ([]core.Connection, error) {
	connectionList := make([]core.Connection, 0, len(cfg.Connections))
	for _, name := range cfg.Names() {
		entry := cfg.Connections[name]
		kind, err := core.ParseDriverKind(entry.Driver)
		if err != nil {
			return nil, &core.Error{Op: "config", Connection: name, Err: err}
		}
		var conn core.Connection
		switch kind {
		case core.Relational:
			conn, err = relational.New(name, entry.URI, relational.Options{
				MaxConns:      entry.Pool.MaxConns,
				MinConns:      entry.Pool.MinConns,
				MaxIdleTime:   entry.Pool.MaxIdleTime,
				MaxLifetime:   entry.Pool.MaxLifetime,
				SettleTimeout: entry.Pool.SettleTimeout,
				Logger:        logger,
			})
		case core.Document:
			conn, err = document.New(name, entry.URI, document.Options{
				Database:       entry.Database,
				ConnectTimeout: entry.ConnectTimeout,
				SettleTimeout:  entry.Pool.SettleTimeout,
				Logger:         logger,
			})
		}
		if err != nil {
			return nil, err
		}
		connectionList = append(connectionList, conn)
	}
	return connectionList, nil
}

// Open validates the configuration, builds the registry and connects every
// connection. On failure every connection opened so far is closed again.
//
// Example:
//
//	cfg, _ := config.Load("golem.yaml", nil)
//	registry, err := config.Open(ctx, cfg, slog.Default())
//	engine := core.New(registry, config.EngineOptions(cfg, slog.Default())...)
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*core.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	connectionList, err := Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	registry, err := core.NewRegistry(cfg.Default, connectionList...)
	if err != nil {
		return nil, err
	}
	if err := registry.Connect(ctx); err != nil {
		return nil, errors.Join(err, registry.Close(context.WithoutCancel(ctx)))
	}
	return registry, nil
}

// EngineOptions returns the engine options implied by the configuration.
// Validate has already rejected a malformed encryption key.
func EngineOptions(cfg *Config, logger *slog.Logger) []core.EngineOption {
	optionList := []core.EngineOption{core.WithLogger(logger)}
	if cfg.EncryptionKey != "" {
		if encrypter, err := core.NewEncrypterFromBase64(cfg.EncryptionKey); err == nil {
			optionList = append(optionList, core.WithEncrypter(encrypter))
		}
	}
	return optionList
}

// ParseLevel converts a log level name into a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("%w: unknown log level %q", core.ErrInvalidArgument, name)
	}
	return level, nil
}
