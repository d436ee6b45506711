package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultSecret = "dev-secret-change-me"

// 持久化后端类型，由 db.Open 识别。
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverPebble   = "pebble"
)

type Config struct {
	Port            string        `env:"APP_PORT"         envDefault:"3000"`
	Env             string        `env:"APP_ENV"          envDefault:"dev"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	StoreDriver     string        `env:"STORE_DRIVER"     envDefault:"file"`
	StorePath       string        `env:"STORE_PATH"       envDefault:"data.json"`
	DatabaseDSN     string        `env:"DATABASE_DSN"`
	SessionSecret   string        `env:"SESSION_SECRET"   envDefault:"dev-secret-change-me"`
	CookieSecure    bool          `env:"COOKIE_SECURE"    envDefault:"false"`
	LockDuration    time.Duration `env:"LOCK_DURATION"    envDefault:"8760h"`
	DisplayTimezone string        `env:"DISPLAY_TIMEZONE" envDefault:"Asia/Seoul"`
	RateLimitRPS    float64       `env:"RATE_LIMIT_RPS"   envDefault:"20"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"40"`
	PublicDir       string        `env:"PUBLIC_DIR"       envDefault:"public"`
	// TrustedProxies 为空时不信任任何转发头，客户端 IP 取自连接地址。
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// Load 从环境变量读取配置；.env 文件由调用方预先加载。
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate 检查配置的一致性，生产环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT must not be empty")
	}
	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseDSN == "" {
			return errors.New("DATABASE_DSN is required for the postgres store")
		}
	case DriverFile, DriverSQLite, DriverPebble:
		if cfg.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required for the %s store", cfg.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.LockDuration <= 0 {
		return errors.New("LOCK_DURATION must be positive")
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return errors.New("rate limit must be positive")
	}
	for _, p := range cfg.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("invalid TRUSTED_PROXIES entry %q", p)
			}
		}
	}
	if cfg.Env != "dev" && (cfg.SessionSecret == "" || cfg.SessionSecret == defaultSecret) {
		return errors.New("SESSION_SECRET must be set outside dev")
	}
	return nil
}
