package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Seckill  SeckillConfig  `mapstructure:"seckill"`
	ID       IDConfig       `mapstructure:"id"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Admin    AdminConfig    `mapstructure:"admin"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	Mode                    string        `mapstructure:"mode"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver      string         `mapstructure:"driver"` // "postgres" | "sqlite"
	AutoMigrate bool           `mapstructure:"auto_migrate"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	SQLite      SQLiteConfig   `mapstructure:"sqlite"`
	Redis       RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DB              string        `mapstructure:"db"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SQLiteConfig is for local runs and tests. A memory DSN must use
// cache=shared for all connections to see one database.
type SQLiteConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type CacheConfig struct {
	Backend            string        `mapstructure:"backend"` // "redis" | "memory"
	Codec              string        `mapstructure:"codec"`   // "json" | "msgpack" | "cbor"
	NullTTL            time.Duration `mapstructure:"null_ttl"`
	ShopTTL            time.Duration `mapstructure:"shop_ttl"`
	HotShopTTL         time.Duration `mapstructure:"hot_shop_ttl"`
	VoucherTTL         time.Duration `mapstructure:"voucher_ttl"`
	WarmUpShops        int           `mapstructure:"warm_up_shops"`
	RebuildWorkers     int           `mapstructure:"rebuild_workers"`
	RebuildQueueSize   int           `mapstructure:"rebuild_queue_size"`
	RebuildTimeout     time.Duration `mapstructure:"rebuild_timeout"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	MutexRetryInterval time.Duration `mapstructure:"mutex_retry_interval"`
	MutexWait          time.Duration `mapstructure:"mutex_wait"`
}

type SeckillConfig struct {
	StreamName   string        `mapstructure:"stream_name"`
	GroupName    string        `mapstructure:"group_name"`
	ConsumerName string        `mapstructure:"consumer_name"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	AlertAfter   int           `mapstructure:"alert_after"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PendingIdle  time.Duration `mapstructure:"pending_idle"`
}

type IDConfig struct {
	EpochUnix  int64         `mapstructure:"epoch_unix"`
	CounterTTL time.Duration `mapstructure:"counter_ttl"`
}

type JWTConfig struct {
	SigningKey     string        `mapstructure:"signing_key"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type AdminConfig struct {
	UserIDs []int64 `mapstructure:"user_ids"`
}

type CORSConfig struct {
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults returns a Config that runs against local postgres and redis.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                    "0.0.0.0",
			Port:                    8081,
			Mode:                    "release",
			ReadTimeout:             10 * time.Second,
			WriteTimeout:            10 * time.Second,
			GracefulShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				DB:              "shophub",
				User:            "postgres",
				SSLMode:         "disable",
				MaxIdleConns:    10,
				MaxOpenConns:    50,
				ConnMaxLifetime: time.Hour,
			},
			SQLite: SQLiteConfig{
				DSN:          "file:shophub.db?cache=shared",
				MaxOpenConns: 1,
			},
			Redis: RedisConfig{
				Host:     "localhost",
				Port:     6379,
				PoolSize: 64,
			},
		},
		Cache: CacheConfig{
			Backend:            "redis",
			Codec:              "json",
			NullTTL:            2 * time.Minute,
			ShopTTL:            30 * time.Minute,
			HotShopTTL:         20 * time.Second,
			VoucherTTL:         10 * time.Minute,
			RebuildWorkers:     10,
			RebuildQueueSize:   1024,
			RebuildTimeout:     5 * time.Second,
			LockTTL:            10 * time.Second,
			MutexRetryInterval: 50 * time.Millisecond,
			MutexWait:          3 * time.Second,
		},
		Seckill: SeckillConfig{
			StreamName:   "stream.orders",
			GroupName:    "orderGroup",
			ConsumerName: "consumer-1",
			BlockTimeout: 2 * time.Second,
			LockTTL:      10 * time.Second,
			AlertAfter:   5,
			RetryBackoff: 20 * time.Millisecond,
			PendingIdle:  time.Minute,
		},
		ID: IDConfig{
			EpochUnix:  1640995200,
			CounterTTL: 48 * time.Hour,
		},
		JWT: JWTConfig{
			Issuer:         "shophub",
			AccessTokenTTL: 2 * time.Hour,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:         12 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config.yaml over Defaults and overlays environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment variable override: SECKILL_STREAM_NAME -> seckill.stream_name
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
