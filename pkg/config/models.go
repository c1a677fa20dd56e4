package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Storage   StorageConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address string
	// Mode selects the auth policy: "production" requires a signed identify
	// credential, "development" synthesizes guest identities when it is absent.
	Mode            string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerClient int    `mapstructure:"maxPerClient"`
	Mode         string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type StorageConfig struct {
	// Path of the sqlite database holding presence snapshots, the achievement
	// catalog, and per-user unlocks. Empty disables persistence.
	Path string `mapstructure:"path"`
}
