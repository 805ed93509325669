package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the gate process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	SIP       SIPConfig
	Allowlist AllowlistConfig
	Cache     CacheConfig
	GPIO      GPIOConfig
	Store     StoreConfig
	Auth      AuthConfig
}

type AppConfig struct {
	Env  string
	Port int

	// LogLevel optionally overrides the env-derived default (debug, info, warn, error).
	LogLevel string
}

type SIPConfig struct {
	Server   string
	Port     int
	Username string
	Password string

	// Mode selects the SIP backend: "udp" runs a real user agent,
	// "mock" only accepts simulated calls via the control API.
	Mode string

	AnswerDelay    time.Duration
	HangupDelay    time.Duration
	RegisterExpiry time.Duration

	// MaxCalls caps concurrently handled inbound calls.
	MaxCalls int
}

type AllowlistConfig struct {
	URL        string
	AuthToken  string
	AuthHeader string
	HTTPMethod string

	// DataKey is the JSON object key carrying the pattern array.
	DataKey string

	RefreshInterval time.Duration
}

type CacheConfig struct {
	// Driver selects the last-good-copy store: file or redis.
	Driver string

	FilePath string

	RedisHost string
	RedisPort int

	// UseOnFailure loads the cached copy at startup when the initial fetch fails.
	UseOnFailure bool
}

type GPIOConfig struct {
	// Mode selects the pin driver: mock or sysfs.
	Mode string

	// Pin is the BCM pin number.
	Pin int

	ActiveDuration time.Duration
}

type StoreConfig struct {
	// Driver selects call/audit persistence: memory or postgres.
	Driver string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// DBSSLMode is kept explicit for production posture.
	// Accepts: disable, require, verify-ca, verify-full
	DBSSLMode string
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	AccessTokenTTL time.Duration

	// BootstrapSecret is exchanged for an admin token at /v1/auth/token.
	BootstrapSecret string
}

const (
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	SIPModeUDP  = "udp"
	SIPModeMock = "mock"

	GPIOModeMock  = "mock"
	GPIOModeSysfs = "sysfs"
)

func Load() (Config, error) {
	c := Config{}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = intEnv("APP_PORT", 8080)
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	c.SIP.Server = strings.TrimSpace(os.Getenv("SIP_SERVER"))
	c.SIP.Port = intEnv("SIP_PORT", 5060)
	c.SIP.Username = strings.TrimSpace(os.Getenv("SIP_USERNAME"))
	c.SIP.Password = os.Getenv("SIP_PASSWORD")
	c.SIP.Mode = strings.TrimSpace(os.Getenv("SIP_MODE"))
	c.SIP.AnswerDelay = durEnv("SIP_ANSWER_DELAY", time.Second)
	c.SIP.HangupDelay = durEnv("SIP_HANGUP_DELAY", 2*time.Second)
	c.SIP.RegisterExpiry = durEnv("SIP_REGISTER_EXPIRY", 2*time.Minute)
	c.SIP.MaxCalls = intEnv("SIP_MAX_CALLS", 4)

	c.Allowlist.URL = strings.TrimSpace(os.Getenv("ALLOWLIST_URL"))
	c.Allowlist.AuthToken = os.Getenv("ALLOWLIST_AUTH_TOKEN")
	c.Allowlist.AuthHeader = strings.TrimSpace(os.Getenv("ALLOWLIST_AUTH_HEADER"))
	c.Allowlist.HTTPMethod = strings.ToUpper(strings.TrimSpace(os.Getenv("ALLOWLIST_HTTP_METHOD")))
	c.Allowlist.DataKey = strings.TrimSpace(os.Getenv("ALLOWLIST_DATA_KEY"))
	c.Allowlist.RefreshInterval = durEnv("ALLOWLIST_REFRESH_INTERVAL", time.Hour)

	c.Cache.Driver = strings.TrimSpace(os.Getenv("CACHE_DRIVER"))
	c.Cache.FilePath = strings.TrimSpace(os.Getenv("CACHE_FILE"))
	c.Cache.RedisHost = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Cache.RedisPort = intEnv("REDIS_PORT", 6379)
	c.Cache.UseOnFailure = boolEnv("CACHE_USE_ON_FAILURE", true)

	c.GPIO.Mode = strings.TrimSpace(os.Getenv("GPIO_MODE"))
	c.GPIO.Pin = intEnv("GPIO_PIN", 17)
	c.GPIO.ActiveDuration = durEnv("GPIO_ACTIVE_DURATION", 5*time.Second)

	c.Store.Driver = strings.TrimSpace(os.Getenv("STORE_DRIVER"))
	c.Store.DBHost = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.Store.DBPort = intEnv("DB_PORT", 5432)
	c.Store.DBUser = strings.TrimSpace(os.Getenv("DB_USER"))
	c.Store.DBPassword = os.Getenv("DB_PASSWORD")
	c.Store.DBName = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.Store.DBSSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = durEnv("JWT_ACCESS_TTL", 15*time.Minute)
	c.Auth.BootstrapSecret = os.Getenv("AUTH_BOOTSTRAP_SECRET")

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.SIP.Mode == "" {
		c.SIP.Mode = SIPModeUDP
	}
	switch c.SIP.Mode {
	case SIPModeUDP:
		if c.SIP.Server == "" {
			errs = append(errs, errors.New("SIP_SERVER is required"))
		}
		if c.SIP.Username == "" {
			errs = append(errs, errors.New("SIP_USERNAME is required"))
		}
		if c.SIP.Password == "" {
			errs = append(errs, errors.New("SIP_PASSWORD is required"))
		}
	case SIPModeMock:
		// No registrar needed; calls arrive via the control API only.
	default:
		errs = append(errs, fmt.Errorf("SIP_MODE must be udp or mock, got %q", c.SIP.Mode))
	}
	if c.SIP.Port <= 0 || c.SIP.Port > 65535 {
		errs = append(errs, fmt.Errorf("SIP_PORT must be a valid port, got %d", c.SIP.Port))
	}
	if c.SIP.AnswerDelay < 0 || c.SIP.HangupDelay < 0 {
		errs = append(errs, errors.New("SIP delays must not be negative"))
	}
	if c.SIP.RegisterExpiry < 30*time.Second {
		errs = append(errs, fmt.Errorf("SIP_REGISTER_EXPIRY must be at least 30s, got %s", c.SIP.RegisterExpiry))
	}
	if c.SIP.MaxCalls <= 0 {
		errs = append(errs, fmt.Errorf("SIP_MAX_CALLS must be > 0, got %d", c.SIP.MaxCalls))
	}

	if c.Allowlist.URL == "" {
		errs = append(errs, errors.New("ALLOWLIST_URL is required"))
	}
	if c.Allowlist.AuthHeader == "" {
		c.Allowlist.AuthHeader = "api_token"
	}
	if c.Allowlist.HTTPMethod == "" {
		c.Allowlist.HTTPMethod = "POST"
	}
	if c.Allowlist.HTTPMethod != "GET" && c.Allowlist.HTTPMethod != "POST" {
		errs = append(errs, fmt.Errorf("ALLOWLIST_HTTP_METHOD must be GET or POST, got %q", c.Allowlist.HTTPMethod))
	}
	if c.Allowlist.DataKey == "" {
		c.Allowlist.DataKey = "data"
	}
	if c.Allowlist.RefreshInterval < time.Minute {
		errs = append(errs, fmt.Errorf("ALLOWLIST_REFRESH_INTERVAL must be at least 1m, got %s", c.Allowlist.RefreshInterval))
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = DriverFile
	}
	switch c.Cache.Driver {
	case DriverFile:
		if c.Cache.FilePath == "" {
			c.Cache.FilePath = "/var/lib/doorgate/allowlist.json"
		}
	case DriverRedis:
		if c.Cache.RedisHost == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when CACHE_DRIVER=redis"))
		}
		if c.Cache.RedisPort <= 0 || c.Cache.RedisPort > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Cache.RedisPort))
		}
	default:
		errs = append(errs, fmt.Errorf("CACHE_DRIVER must be file or redis, got %q", c.Cache.Driver))
	}

	if c.GPIO.Mode == "" {
		c.GPIO.Mode = GPIOModeMock
	}
	if c.GPIO.Mode != GPIOModeMock && c.GPIO.Mode != GPIOModeSysfs {
		errs = append(errs, fmt.Errorf("GPIO_MODE must be mock or sysfs, got %q", c.GPIO.Mode))
	}
	if c.GPIO.Pin < 0 {
		errs = append(errs, fmt.Errorf("GPIO_PIN must not be negative, got %d", c.GPIO.Pin))
	}
	if c.GPIO.ActiveDuration <= 0 {
		errs = append(errs, fmt.Errorf("GPIO_ACTIVE_DURATION must be > 0, got %s", c.GPIO.ActiveDuration))
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DBHost == "" {
			errs = append(errs, errors.New("DB_HOST is required when STORE_DRIVER=postgres"))
		}
		if c.Store.DBPort <= 0 || c.Store.DBPort > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.Store.DBPort))
		}
		if c.Store.DBUser == "" {
			errs = append(errs, errors.New("DB_USER is required when STORE_DRIVER=postgres"))
		}
		if c.Store.DBName == "" {
			errs = append(errs, errors.New("DB_NAME is required when STORE_DRIVER=postgres"))
		}
		if c.Store.DBSSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.Store.DBSSLMode = "disable"
			}
		}
		if c.Store.DBSSLMode != "" && !isValidSSLMode(c.Store.DBSSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.Store.DBSSLMode))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be memory or postgres, got %q", c.Store.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.BootstrapSecret == "" {
		errs = append(errs, errors.New("AUTH_BOOTSTRAP_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Cache.RedisHost, c.Cache.RedisPort)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Store.DBHost,
		c.Store.DBPort,
		c.Store.DBUser,
		c.Store.DBPassword,
		c.Store.DBName,
		c.Store.DBSSLMode,
	)
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func boolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
