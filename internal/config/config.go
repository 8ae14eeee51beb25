package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Auction AuctionConfig `mapstructure:"auction"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuctionConfig struct {
	// FlatListingFee is charged to create a blind auction, as a decimal string.
	FlatListingFee string        `mapstructure:"flat_listing_fee"`
	DefaultWindow  time.Duration `mapstructure:"default_window"`
	CloseInterval  time.Duration `mapstructure:"close_interval"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	viper.SetDefault("mysql.max_open_conns", 25)
	viper.SetDefault("mysql.max_idle_conns", 10)
	viper.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("gateway.base_url", "http://localhost:9090")
	viper.SetDefault("gateway.api_key", "")
	viper.SetDefault("gateway.timeout", 5*time.Second)
	viper.SetDefault("auction.flat_listing_fee", "4.99")
	viper.SetDefault("auction.default_window", 24*time.Hour)
	viper.SetDefault("auction.close_interval", 5*time.Minute)
	viper.SetDefault("admin.token", "")

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/auction-engine/")

	// Environment variable support
	viper.AutomaticEnv()

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("redis.address", "REDIS_ADDRESS")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("mysql.dsn", "MYSQL_DSN")
	viper.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	viper.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	viper.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.api_key", "GATEWAY_API_KEY")
	viper.BindEnv("gateway.timeout", "GATEWAY_TIMEOUT")
	viper.BindEnv("auction.flat_listing_fee", "AUCTION_FLAT_LISTING_FEE")
	viper.BindEnv("auction.default_window", "AUCTION_DEFAULT_WINDOW")
	viper.BindEnv("auction.close_interval", "AUCTION_CLOSE_INTERVAL")
	viper.BindEnv("admin.token", "ADMIN_TOKEN")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
