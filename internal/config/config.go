package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Docintel DocintelConfig `yaml:"docintel" mapstructure:"docintel"`
	Blob     BlobConfig     `yaml:"blob" mapstructure:"blob"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the matching-record database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DocintelConfig holds document analysis service settings.
type DocintelConfig struct {
	Endpoint         string `yaml:"endpoint" mapstructure:"endpoint"`
	Key              string `yaml:"key" mapstructure:"key"`
	ModelID          string `yaml:"model_id" mapstructure:"model_id"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollTimeoutSecs  int    `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// BlobConfig configures object storage access.
type BlobConfig struct {
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	SignTTLMins int    `yaml:"sign_ttl_mins" mapstructure:"sign_ttl_mins"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency           int  `yaml:"concurrency" mapstructure:"concurrency"`
	ExtractionTimeoutSecs int  `yaml:"extraction_timeout_secs" mapstructure:"extraction_timeout_secs"`
	StorageTimeoutSecs    int  `yaml:"storage_timeout_secs" mapstructure:"storage_timeout_secs"`
	SplitDocuments        bool `yaml:"split_documents" mapstructure:"split_documents"`
}

// NotifyConfig holds completion webhook settings.
type NotifyConfig struct {
	WebhookURL      string `yaml:"webhook_url" mapstructure:"webhook_url"`
	SubscriptionKey string `yaml:"subscription_key" mapstructure:"subscription_key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PAYSLIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.extraction_timeout_secs", 120)
	v.SetDefault("batch.storage_timeout_secs", 30)
	v.SetDefault("batch.split_documents", true)
	v.SetDefault("docintel.model_id", "prebuilt-payslip")
	v.SetDefault("docintel.poll_interval_secs", 2)
	v.SetDefault("docintel.poll_timeout_secs", 180)
	v.SetDefault("blob.sign_ttl_mins", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
