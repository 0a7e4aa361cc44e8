// Package config loads the three configuration surfaces of the scanner:
// the application config (viper), the rule set (JSON, caller-facing) and
// the wash-trading tuning block (YAML).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Detection DetectionConfig `mapstructure:"detection"`

	// Paths to the rule set and wash-trading tuning files.
	RulesPath       string `mapstructure:"rules_path"`
	WashTradingPath string `mapstructure:"wash_trading_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSEnabled  bool          `mapstructure:"cors_enabled"`
}

// DatabaseConfig selects the gorm driver and DSN.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig configures the denylist cache backend.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig configures event ingestion and alert publishing.
type KafkaConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	Brokers          []string `mapstructure:"brokers"`
	TransactionTopic string   `mapstructure:"transaction_topic"`
	AlertTopic       string   `mapstructure:"alert_topic"`
	ConsumerGroup    string   `mapstructure:"consumer_group"`
}

// EthereumConfig configures the chain poller.
type EthereumConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	RPCURL       string        `mapstructure:"rpc_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// OracleConfig configures the wallet-age explorer client.
type OracleConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	DefaultAgeHrs float64       `mapstructure:"default_age_hours"`
	BaseGasPrice  float64       `mapstructure:"base_gas_price_gwei"`
	PriceCacheTTL time.Duration `mapstructure:"price_cache_ttl"`
}

// AlertingConfig configures the alert manager.
type AlertingConfig struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
	QueueSize    int           `mapstructure:"queue_size"`
}

// DetectionConfig holds engine-wide detection settings.
type DetectionConfig struct {
	// AnomalyThreshold marks a transaction suspicious when its risk score
	// reaches this value even without a triggered rule.
	AnomalyThreshold float64 `mapstructure:"anomaly_threshold"`

	// FailOpen controls scoring-error policy. True (default) returns zero
	// risk on internal scorer failure; false returns ReviewScore instead so
	// failures surface for review.
	FailOpen    bool    `mapstructure:"fail_open"`
	ReviewScore float64 `mapstructure:"review_score"`

	// BatchConcurrency bounds fan-out during batch analysis.
	BatchConcurrency int `mapstructure:"batch_concurrency"`

	// ProviderTimeout bounds every external lookup on the detection path.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

// Load reads the application configuration from the given file (or, when
// path is empty, from config.yaml next to the binary), layering environment
// variables with the CHIMERA_ prefix on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("CHIMERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is not fatal: defaults plus environment carry a
		// functional single-node setup.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8084")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.cors_enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "chimerascan.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.transaction_topic", "chain.transactions")
	v.SetDefault("kafka.alert_topic", "fraud.alerts")
	v.SetDefault("kafka.consumer_group", "chimerascan")
	v.SetDefault("ethereum.enabled", false)
	v.SetDefault("ethereum.poll_interval", 12*time.Second)
	v.SetDefault("oracle.timeout", 5*time.Second)
	v.SetDefault("oracle.cache_ttl", time.Hour)
	v.SetDefault("oracle.default_age_hours", 168.0)
	v.SetDefault("oracle.base_gas_price_gwei", 25.0)
	v.SetDefault("oracle.price_cache_ttl", 5*time.Minute)
	v.SetDefault("alerting.dedupe_window", 10*time.Minute)
	v.SetDefault("alerting.queue_size", 1024)
	v.SetDefault("detection.anomaly_threshold", 0.5)
	v.SetDefault("detection.fail_open", true)
	v.SetDefault("detection.review_score", 0.7)
	v.SetDefault("detection.batch_concurrency", 8)
	v.SetDefault("detection.provider_timeout", 5*time.Second)
	v.SetDefault("rules_path", "config/rules.json")
	v.SetDefault("wash_trading_path", "config/wash_trading.yaml")
}
