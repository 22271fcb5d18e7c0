package config

import "time"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	World     WorldConfig     `mapstructure:"world"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string                `mapstructure:"address"`
	Auth            AuthConfig            `mapstructure:"auth"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwtSecret"`
	CookieName string `mapstructure:"cookieName"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	PingTimeout time.Duration `mapstructure:"pingTimeout"`
	ChannelKind string        `mapstructure:"channelKind"`
}

// MonitorConfig drives the background health, credential and presence sweeps.
// A zero interval disables the corresponding sweep.
type MonitorConfig struct {
	SweepInterval           time.Duration `mapstructure:"sweepInterval"`
	TokenRevalidateInterval time.Duration `mapstructure:"tokenRevalidateInterval"`
	ValidateInterval        time.Duration `mapstructure:"validateInterval"`
	ProbeConcurrency        int           `mapstructure:"probeConcurrency"`
}

// WorldConfig points at the YAML world file. An empty path runs the server
// without a persistence collaborator.
type WorldConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
