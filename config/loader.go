package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// DefaultFileList is searched in order when no explicit file is given.
var DefaultFileList = []string{"golem.yaml", "golem.yml"}

// flagKeyList maps CLI flag names to config keys.
var flagKeyList = map[string]string{
	"connection":     "default",
	"encryption-key": "encryption_key",
	"log-level":      "log_level",
}

// Load loads configuration from defaults, file, environment variables and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
//
// Environment variables use the GOLEM_ prefix and "__" between levels:
//
//	GOLEM_CONNECTIONS__PRIMARY__URI=postgres://... -> connections.primary.uri
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"log_level": DefaultLogLevel,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. File
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeyList[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// envKey maps GOLEM_CONNECTIONS__PRIMARY__MAX_CONNS to connections.primary.max_conns.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func findConfigFile() string {
	for _, name := range DefaultFileList {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.Default == "" && len(cfg.Connections) == 1 {
		for name := range cfg.Connections {
			cfg.Default = name
		}
	}
	for name, conn := range cfg.Connections {
		if conn.ConnectTimeout == 0 {
			conn.ConnectTimeout = DefaultConnectTimeout
		}
		if conn.Pool.SettleTimeout == 0 {
			conn.Pool.SettleTimeout = DefaultSettleTimeout
		}
		cfg.Connections[name] = conn
	}
}
