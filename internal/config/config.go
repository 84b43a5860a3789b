// Package config loads the node configuration from YAML files, a .env file
// and RELAYEX_* environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment variable the node reads.
const EnvPrefix = "RELAYEX"

// Config is the complete node configuration.
type Config struct {
	Environment string         `mapstructure:"environment" validate:"required,oneof=development test staging production"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Ledger      LedgerConfig   `mapstructure:"ledger"`
	Registry    RegistryConfig `mapstructure:"registry"`
	Exchange    ExchangeConfig `mapstructure:"exchange"`
	Server      ServerConfig   `mapstructure:"server"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Events      EventsConfig   `mapstructure:"events"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Encoding string `mapstructure:"encoding" validate:"required,oneof=json console"`
}

type LedgerConfig struct {
	// Dir is the badger directory; empty runs in memory.
	Dir string `mapstructure:"dir"`
}

type RegistryConfig struct {
	Owner      string        `mapstructure:"owner" validate:"required,eth_addr"`
	GrantDelay time.Duration `mapstructure:"grant_delay" validate:"gte=0"`
}

type ExchangeConfig struct {
	ProtocolFeeBps       uint64 `mapstructure:"protocol_fee_bps" validate:"lte=10000"`
	ProtocolFeeRecipient string `mapstructure:"protocol_fee_recipient" validate:"omitempty,eth_addr"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic        string        `mapstructure:"topic" validate:"required_if=Enabled true"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
}

type EventsConfig struct {
	// Buffer is how many recent events the query API can serve.
	Buffer int `mapstructure:"buffer" validate:"min=1"`
}

type TracingConfig struct {
	// Exporter is empty (tracing off) or stdout.
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=stdout"`
}

// Addr is the listen address of the query API.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (r RegistryConfig) OwnerAddress() common.Address {
	return common.HexToAddress(r.Owner)
}

func (e ExchangeConfig) RecipientAddress() common.Address {
	if e.ProtocolFeeRecipient == "" {
		return common.Address{}
	}
	return common.HexToAddress(e.ProtocolFeeRecipient)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("ledger.dir", "")
	v.SetDefault("registry.owner", "")
	v.SetDefault("registry.grant_delay", 14*24*time.Hour)
	v.SetDefault("exchange.protocol_fee_bps", 500)
	v.SetDefault("exchange.protocol_fee_recipient", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "relayex.events")
	v.SetDefault("kafka.batch_timeout", 50*time.Millisecond)
	v.SetDefault("kafka.write_timeout", 10*time.Second)
	v.SetDefault("events.buffer", 1024)
	v.SetDefault("tracing.exporter", "")
}

// Load reads configuration from the given YAML files (missing files are
// skipped), a .env file in the working directory and the environment.
func Load(logger *zap.Logger, paths ...string) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Debug("Config file not found, skipping", zap.String("path", path))
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		logger.Info("Loaded configuration file", zap.String("path", path))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
