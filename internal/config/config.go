package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "SIGRELAY"
	// DevJWTSecret is the default signing key; release mode refuses it.
	DevJWTSecret = "dev-secret-change-me"
)

type Config struct {
	Mode       string       `mapstructure:"mode"`
	LogLevel   string       `mapstructure:"log_level"`
	Host       string       `mapstructure:"host"`
	Port       int          `mapstructure:"port"`
	StaticPath string       `mapstructure:"static_path"`
	TLS        TLSConfig    `mapstructure:"tls"`
	WS         WSConfig     `mapstructure:"ws"`
	Auth       AuthConfig   `mapstructure:"auth"`
	Store      StoreConfig  `mapstructure:"store"`
	Limits     LimitsConfig `mapstructure:"limits"`
	CORS       CORSConfig   `mapstructure:"cors"`
	TURN       TURNConfig   `mapstructure:"turn"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type WSConfig struct {
	ReadLimit   int64         `mapstructure:"read_limit"`
	WriteWait   time.Duration `mapstructure:"write_wait"`
	PongWait    time.Duration `mapstructure:"pong_wait"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type StoreConfig struct {
	Driver     string         `mapstructure:"driver"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

type LimitsConfig struct {
	MaxConnectionsPerIP int           `mapstructure:"max_connections_per_ip"`
	MessagesPerMinute   int           `mapstructure:"messages_per_minute"`
	MaxAuthFailures     int           `mapstructure:"max_auth_failures"`
	AuthLockout         time.Duration `mapstructure:"auth_lockout"`
	HTTPRPS             float64       `mapstructure:"http_rps"`
	HTTPBurst           int           `mapstructure:"http_burst"`
}

type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

type TURNConfig struct {
	Secret   string        `mapstructure:"secret"`
	URLs     []string      `mapstructure:"urls"`
	TTL      time.Duration `mapstructure:"ttl"`
	STUNURLs []string      `mapstructure:"stun_urls"`
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) TLSEnabled() bool {
	return c.TLS.CertFile != "" && c.TLS.KeyFile != ""
}

func (c *Config) TURNEnabled() bool {
	return c.TURN.Secret != "" && len(c.TURN.URLs) > 0
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default), then applies
// SIGRELAY_* environment overrides. A .env file, if present, is loaded first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("module", "config").Err(err).Msg("failed to read .env")
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load without the .env step and with an explicit file name.
// A missing file is not an error; defaults and the environment still apply.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("addr", cfg.Addr()).
		Str("store", cfg.Store.Driver).
		Bool("tls", cfg.TLSEnabled()).
		Bool("turn", cfg.TURNEnabled()).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("static_path", "./web")

	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	v.SetDefault("ws.read_limit", 65536)
	v.SetDefault("ws.write_wait", "5s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ws.auth_timeout", "10s")

	v.SetDefault("auth.jwt_secret", DevJWTSecret)
	v.SetDefault("auth.token_ttl", "30m")
	v.SetDefault("auth.issuer", "sigrelay")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/users.db")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.name", "sigrelay")
	v.SetDefault("store.postgres.user", "sigrelay")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.sslmode", "prefer")
	v.SetDefault("store.postgres.max_conns", 4)

	v.SetDefault("limits.max_connections_per_ip", 5)
	v.SetDefault("limits.messages_per_minute", 60)
	v.SetDefault("limits.max_auth_failures", 5)
	v.SetDefault("limits.auth_lockout", "5m")
	v.SetDefault("limits.http_rps", 2.0)
	v.SetDefault("limits.http_burst", 20)

	v.SetDefault("cors.origins", []string{"*"})

	v.SetDefault("turn.secret", "")
	v.SetDefault("turn.urls", []string{})
	v.SetDefault("turn.ttl", "24h")
	v.SetDefault("turn.stun_urls", []string{"stun:stun.l.google.com:19302"})
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Mode == "release" && c.Auth.JWTSecret == DevJWTSecret {
		errs = append(errs, errors.New("auth.jwt_secret must be changed in release mode"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required"))
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.WS.SendBuffer <= 0 || c.WS.ReadLimit <= 0 {
		errs = append(errs, errors.New("ws.send_buffer and ws.read_limit must be positive"))
	}
	if c.WS.PingPeriod <= 0 || c.WS.PingPeriod >= c.WS.PongWait {
		errs = append(errs, errors.New("ws.ping_period must be positive and shorter than ws.pong_wait"))
	}
	if c.Limits.MaxConnectionsPerIP <= 0 || c.Limits.MessagesPerMinute <= 0 || c.Limits.MaxAuthFailures <= 0 {
		errs = append(errs, errors.New("limits must be positive"))
	}
	if c.Limits.HTTPRPS <= 0 || c.Limits.HTTPBurst <= 0 {
		errs = append(errs, errors.New("limits.http_rps and limits.http_burst must be positive"))
	}
	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" || c.TLS.CertFile == "" && c.TLS.KeyFile != "" {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	return errors.Join(errs...)
}
