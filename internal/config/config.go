package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tm-acme-shop/acme-ops-portal/internal/sso"
)

const (
	defaultJWTSecret     = "ops-portal-dev-secret"
	defaultAdminPassword = "admin123"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	SSO            SSOConfig
	Bootstrap      BootstrapConfig
	HealthCheck    HealthCheckConfig
	Features       FeatureFlags
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret         string
	AccessExpires  time.Duration
	RefreshExpires time.Duration
	Issuer         string
}

// SSOConfig carries the shared secret of the legacy PHP bridge. SysKey and
// Salt must match the peer byte for byte.
type SSOConfig struct {
	SysKey           string
	Salt             string
	SignMode         string
	DefaultUserAgent string
	// RedirectURL is where the browser lands after a successful syn_login.
	RedirectURL string
	// PeerURL is the peer's syn_login endpoint, used by the test endpoint.
	PeerURL string
}

// BootstrapConfig describes the administrator account created on first start
// when no account with that username exists.
type BootstrapConfig struct {
	AdminUsername string
	AdminPassword string
	AdminEmail    string
}

// HealthCheckConfig drives the poller that checks registered systems.
type HealthCheckConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	UserAgent   string
	Concurrency int
}

type FeatureFlags struct {
	// EnableSSO mounts the legacy SSO endpoints.
	EnableSSO bool

	// EnableSSOTestEndpoint exposes /api/sso/test-encrypt. Development only.
	EnableSSOTestEndpoint bool

	// EnableUserCache enables Redis caching for user lookups.
	EnableUserCache bool

	// EnableDebugMode enables debug logging and gin debug mode.
	EnableDebugMode bool

	// EnableHealthCheck starts the background poller for registered systems.
	EnableHealthCheck bool
}

func Load() *Config {
	return &Config{
		ServiceName:    getEnv("SERVICE_NAME", "ops-portal"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 3000),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "ops_portal"),
			User:         getEnv("DB_USER", "ops"),
			Password:     getEnv("DB_PASSWORD", ""),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvDuration("DB_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_TTL", 15*time.Minute),
		},
		JWT: JWTConfig{
			Secret:         getEnv("JWT_SECRET", defaultJWTSecret),
			AccessExpires:  getEnvDuration("JWT_ACCESS_EXPIRES_IN", 2*time.Hour),
			RefreshExpires: getEnvDuration("JWT_REFRESH_EXPIRES_IN", 7*24*time.Hour),
			Issuer:         getEnv("JWT_ISSUER", "ops-portal"),
		},
		SSO: SSOConfig{
			SysKey:           getEnv("SSO_SYS_KEY", ""),
			Salt:             getEnv("SSO_SALT", ""),
			SignMode:         getEnv("SSO_SIGN_MODE", "encoded"),
			DefaultUserAgent: getEnv("SSO_DEFAULT_USER_AGENT", "Mozilla/5.0"),
			RedirectURL:      getEnv("SSO_REDIRECT_URL", "/"),
			PeerURL:          getEnv("SSO_PEER_URL", "http://localhost/api.php"),
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
			AdminPassword: getEnv("ADMIN_PASSWORD", defaultAdminPassword),
			AdminEmail:    getEnv("ADMIN_EMAIL", "admin@opshub.local"),
		},
		HealthCheck: HealthCheckConfig{
			Interval:    getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			Timeout:     getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			UserAgent:   getEnv("HEALTH_CHECK_USER_AGENT", "OpsPortal-HealthChecker/1.0"),
			Concurrency: getEnvInt("HEALTH_CHECK_CONCURRENCY", 8),
		},
		Features: FeatureFlags{
			EnableSSO:             getEnvBool("ENABLE_SSO", true),
			EnableSSOTestEndpoint: getEnvBool("ENABLE_SSO_TEST_ENDPOINT", false),
			EnableUserCache:       getEnvBool("ENABLE_USER_CACHE", true),
			EnableDebugMode:       getEnvBool("ENABLE_DEBUG_MODE", false),
			EnableHealthCheck:     getEnvBool("ENABLE_HEALTH_CHECK", true),
		},
	}
}

// Validate reports configuration that must not reach a running server.
func (c *Config) Validate() error {
	var errs []error

	if c.Features.EnableSSO && c.SSO.SysKey == "" {
		errs = append(errs, errors.New("SSO_SYS_KEY is required when ENABLE_SSO is set"))
	}
	if _, ok := sso.ParseSignatureMode(c.SSO.SignMode); !ok {
		errs = append(errs, fmt.Errorf("SSO_SIGN_MODE must be encoded or plain, got %q", c.SSO.SignMode))
	}
	if c.JWT.AccessExpires <= 0 || c.JWT.RefreshExpires <= 0 {
		errs = append(errs, errors.New("JWT expirations must be positive"))
	}
	if c.Features.EnableHealthCheck && (c.HealthCheck.Interval <= 0 || c.HealthCheck.Timeout <= 0) {
		errs = append(errs, errors.New("HEALTH_CHECK_INTERVAL and HEALTH_CHECK_TIMEOUT must be positive"))
	}

	if c.IsProduction() {
		if c.JWT.Secret == defaultJWTSecret {
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		}
		if c.Database.Password == "" {
			errs = append(errs, errors.New("DB_PASSWORD must be set in production"))
		}
		if c.Bootstrap.AdminUsername != "" && c.Bootstrap.AdminPassword == defaultAdminPassword {
			errs = append(errs, errors.New("ADMIN_PASSWORD must be changed in production"))
		}
		if c.Features.EnableSSOTestEndpoint {
			errs = append(errs, errors.New("ENABLE_SSO_TEST_ENDPOINT must be off in production"))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90m") and the "7d" day suffix used by
// the old deployment's env files.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if n := len(value); n > 1 && value[n-1] == 'd' {
		if days, err := strconv.Atoi(value[:n-1]); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	return defaultValue
}
