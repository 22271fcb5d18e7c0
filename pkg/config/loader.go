package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "MYTHOS"

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"addr":       "server.address",
	"world":      "world.path",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// RegisterFlags declares the flags understood by Load on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file (default: ./config.yaml if present)")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("world", "", "path to the YAML world file; empty runs without persistence")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text or json")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.auth.cookieName", "session-token")
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.pingTimeout", "5s")
	v.SetDefault("transport.channelKind", "websocket")
	v.SetDefault("monitor.sweepInterval", "30s")
	v.SetDefault("monitor.tokenRevalidateInterval", "5m")
	v.SetDefault("monitor.validateInterval", "1m")
	v.SetDefault("monitor.probeConcurrency", 8)
	v.SetDefault("world.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from defaults, an optional YAML file, MYTHOS_*
// environment variables and, when fs is non-nil, command-line flags that were
// explicitly set. Later sources win.
func Load(logger *slog.Logger, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("config: server.connectionLimit.mode %q must be \"reject\" or \"cycle\"", c.Server.ConnectionLimit.Mode)
	}
	if c.Server.ConnectionLimit.MaxPerUser < 0 {
		return fmt.Errorf("config: server.connectionLimit.maxPerUser must not be negative")
	}
	if strings.TrimSpace(c.Server.Auth.JWTSecret) == "" {
		return fmt.Errorf("config: server.auth.jwtSecret must be set")
	}
	if strings.TrimSpace(c.Transport.ChannelKind) == "" {
		return fmt.Errorf("config: transport.channelKind must be set")
	}
	if c.Monitor.ProbeConcurrency <= 0 {
		c.Monitor.ProbeConcurrency = 1
	}
	return nil
}
