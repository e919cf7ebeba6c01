package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "coin-trader"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string              `mapstructure:"env"`
	Log                     LogConfig           `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration       `mapstructure:"graceful_shutdown_timeout"`
	Exchange                ExchangeConfig      `mapstructure:"exchange"`
	PriceFeed               PriceFeedConfig     `mapstructure:"price_feed"`
	ControlAPI              ControlAPIConfig    `mapstructure:"control_api"`
	NatsJetstream           NatsJetstreamConfig `mapstructure:"nats_jetstream"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type ExchangeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	WSURL       string        `mapstructure:"ws_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type PriceFeedConfig struct {
	// Source is either "poll" or "websocket".
	Source        string        `mapstructure:"source"`
	Market        string        `mapstructure:"market"`
	QuoteCurrency string        `mapstructure:"quote_currency"`
	Interval      time.Duration `mapstructure:"interval"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
}

type ControlAPIConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type NatsJetstreamConfig struct {
	URL             string        `mapstructure:"url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", 10*time.Second)
	viper.SetDefault("exchange.base_url", "https://api.upbit.com")
	viper.SetDefault("exchange.ws_url", "wss://api.upbit.com/websocket/v1")
	viper.SetDefault("exchange.http_timeout", 10*time.Second)
	viper.SetDefault("price_feed.source", "poll")
	viper.SetDefault("price_feed.market", "KRW-BTC")
	viper.SetDefault("price_feed.quote_currency", "KRW")
	viper.SetDefault("price_feed.interval", time.Second)
	viper.SetDefault("price_feed.fetch_timeout", 5*time.Second)
	viper.SetDefault("control_api.addr", "127.0.0.1:8080")
}

func LoadConfig(configPath string) error {
	viper.Reset()
	setDefaults()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	err := viper.ReadInConfig()
	if err != nil {
		// defaults are enough when no explicit config was requested
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}
