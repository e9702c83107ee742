package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the custody server configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Identity IdentityConfig `mapstructure:"identity"`
	Intake   IntakeConfig   `mapstructure:"intake"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// EthereumConfig contains chain gateway settings.
// An empty RPCURL means chain integration is disabled; the service runs
// database-only and every chain write reports ChainUnavailable.
type EthereumConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	ContractAddress string        `mapstructure:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
}

// Enabled reports whether chain integration is configured.
func (c *EthereumConfig) Enabled() bool {
	return c.RPCURL != "" && c.ContractAddress != "" && c.PrivateKey != ""
}

// IdentityConfig contains settings for the user identity collaborator
// (the auth service) and the holder address cache.
type IdentityConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	FallbackAddress string        `mapstructure:"fallback_address"`
}

// IntakeConfig contains RabbitMQ settings for the equipment intake listener.
// An empty URI disables the listener.
type IntakeConfig struct {
	URI             string `mapstructure:"uri"`
	Exchange        string `mapstructure:"exchange"`
	Queue           string `mapstructure:"queue"`
	RoutingKey      string `mapstructure:"routing_key"`
	PublishExchange string `mapstructure:"publish_exchange"`
	PublishKey      string `mapstructure:"publish_key"`
}

// AuthConfig contains API authentication settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ShutdownConfig contains graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8082)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "custody")

	// Ethereum defaults
	viper.SetDefault("ethereum.chain_id", 1337)
	viper.SetDefault("ethereum.gas_limit", 300000)
	viper.SetDefault("ethereum.confirm_timeout", "90s")

	// Identity defaults
	viper.SetDefault("identity.request_timeout", "10s")
	viper.SetDefault("identity.cache_ttl", "30m")
	viper.SetDefault("identity.fallback_address", "0x0000000000000000000000000000000000000000")

	// Intake defaults (matching the warehouse service's declarations)
	viper.SetDefault("intake.exchange", "warehouse_exchange")
	viper.SetDefault("intake.queue", "equipment_created_queue")
	viper.SetDefault("intake.routing_key", "equipment.created")
	viper.SetDefault("intake.publish_exchange", "tracking_exchange")
	viper.SetDefault("intake.publish_key", "equipment.transferred")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")

	// Shutdown defaults
	viper.SetDefault("shutdown.timeout", "30s")
}

func validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if config.Identity.BaseURL == "" {
		return fmt.Errorf("identity.base_url is required")
	}
	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	// Chain integration is optional, but a partial configuration is a
	// deployment mistake rather than the disabled steady state.
	if config.Ethereum.RPCURL != "" {
		if config.Ethereum.ContractAddress == "" {
			return fmt.Errorf("ethereum.contract_address is required when ethereum.rpc_url is set")
		}
		if config.Ethereum.PrivateKey == "" {
			return fmt.Errorf("ethereum.private_key is required when ethereum.rpc_url is set")
		}
	}
	return nil
}
