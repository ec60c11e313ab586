package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Email providers
const (
	EmailProviderSES     = "ses"
	EmailProviderConsole = "console"
)

const minTokenSecretLength = 32

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	DynamoDB DynamoDBConfig
	Auth     AuthConfig
	Email    EmailConfig
	OAuth    OAuthConfig
}

type ServerConfig struct {
	Port               string
	Env                string
	LogLevel           string
	BaseURL            string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	RequestTimeout     time.Duration
	TrustedProxies     []string
	AllowedOrigins     []string // Browser origins allowed to call /account with credentials
	LoginRatePerMinute int
}

type StorageConfig struct {
	Backend       string
	CheckInterval time.Duration
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type DynamoDBConfig struct {
	Region          string
	Endpoint        string // Local DynamoDB or LocalStack
	UsersTable      string
	IdentitiesTable string
}

type AuthConfig struct {
	TokenSecret       string
	TokenMaxAge       time.Duration
	EmailCodeMaxAge   time.Duration
	EmailLinkMaxAge   time.Duration
	StateCookieMaxAge time.Duration
	SessionMaxAge     time.Duration
	CookieSecure      bool
	CookieDomain      string
	FailureDelay      time.Duration // Minimum time a rejected session check takes
	FailureJitter     time.Duration
}

type EmailConfig struct {
	Provider    string
	AWSRegion   string
	FromAddress string
}

type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
}

// Enabled reports whether the provider has credentials.
func (c OAuthProviderConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type OAuthConfig struct {
	Google OAuthProviderConfig
	GitHub OAuthProviderConfig
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	tokenSecret := getEnv("TOKEN_SECRET", "")
	if tokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")
	awsRegion := getEnv("AWS_REGION", "us-east-1")

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			Env:                env,
			LogLevel:           getEnv("LOG_LEVEL", "info"),
			BaseURL:            strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout:     getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			TrustedProxies:     getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins:     getEnvAsList("ALLOWED_ORIGINS"),
			LoginRatePerMinute: getEnvAsInt("LOGIN_RATE_PER_MINUTE", 10),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", BackendPostgres)),
			CheckInterval: getEnvAsDuration("STORAGE_CHECK_INTERVAL", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "tessera"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		DynamoDB: DynamoDBConfig{
			Region:          getEnv("DYNAMODB_REGION", awsRegion),
			Endpoint:        getEnv("DYNAMODB_ENDPOINT", ""),
			UsersTable:      getEnv("DYNAMODB_USERS_TABLE", "users"),
			IdentitiesTable: getEnv("DYNAMODB_IDENTITIES_TABLE", "identities"),
		},
		Auth: AuthConfig{
			TokenSecret:       tokenSecret,
			TokenMaxAge:       getEnvAsDuration("TOKEN_MAX_AGE", time.Hour),
			EmailCodeMaxAge:   getEnvAsDuration("EMAIL_CODE_MAX_AGE", time.Hour),
			EmailLinkMaxAge:   getEnvAsDuration("EMAIL_LINK_MAX_AGE", 10*time.Minute),
			StateCookieMaxAge: getEnvAsDuration("STATE_COOKIE_MAX_AGE", 15*time.Minute),
			SessionMaxAge:     time.Duration(getEnvAsInt("SESSION_MAXAGE_HOURS", 720)) * time.Hour,
			CookieSecure:      getEnvAsBool("COOKIE_SECURE", true),
			CookieDomain:      getEnv("COOKIE_DOMAIN", ""),
			FailureDelay:      getEnvAsDuration("AUTH_FAILURE_DELAY", 50*time.Millisecond),
			FailureJitter:     getEnvAsDuration("AUTH_FAILURE_JITTER", 25*time.Millisecond),
		},
		Email: EmailConfig{
			Provider:    strings.ToLower(getEnv("EMAIL_PROVIDER", defaultEmailProvider(env))),
			AWSRegion:   awsRegion,
			FromAddress: fromAddress(),
		},
		OAuth: OAuthConfig{
			Google: OAuthProviderConfig{
				ClientID:     getEnv("OAUTH_GOOGLE_CLIENT_ID", ""),
				ClientSecret: getEnv("OAUTH_GOOGLE_CLIENT_SECRET", ""),
			},
			GitHub: OAuthProviderConfig{
				ClientID:     getEnv("OAUTH_GITHUB_CLIENT_ID", ""),
				ClientSecret: getEnv("OAUTH_GITHUB_CLIENT_SECRET", ""),
			},
		},
	}

	if err := validateTokenSecret(tokenSecret); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case BackendDynamoDB:
		if c.DynamoDB.UsersTable == "" || c.DynamoDB.IdentitiesTable == "" {
			return fmt.Errorf("DYNAMODB_USERS_TABLE and DYNAMODB_IDENTITIES_TABLE are required")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q (got %q)", BackendPostgres, BackendDynamoDB, c.Storage.Backend)
	}

	switch c.Email.Provider {
	case EmailProviderSES:
		if c.Email.FromAddress == "" {
			return fmt.Errorf("MAIL_FROM or MAIL_FROM_DOMAIN is required for the ses email provider")
		}
	case EmailProviderConsole:
		if c.Server.Env == "production" {
			return fmt.Errorf("the console email provider cannot be used in production")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q (got %q)", EmailProviderSES, EmailProviderConsole, c.Email.Provider)
	}

	if c.Storage.CheckInterval <= 0 {
		return fmt.Errorf("STORAGE_CHECK_INTERVAL must be positive")
	}
	if c.Auth.EmailLinkMaxAge <= 0 {
		return fmt.Errorf("EMAIL_LINK_MAX_AGE must be positive")
	}
	if c.Auth.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAXAGE_HOURS must be positive")
	}
	if c.Server.Env == "production" && !c.Auth.CookieSecure {
		return fmt.Errorf("COOKIE_SECURE cannot be disabled in production")
	}

	return nil
}

// validateTokenSecret enforces minimum security standards for the token key
func validateTokenSecret(secret string) error {
	if len(secret) < minTokenSecretLength {
		return fmt.Errorf("TOKEN_SECRET must be at least %d characters (got %d)", minTokenSecretLength, len(secret))
	}

	// A long run of one character is as weak as a short secret
	if strings.Count(secret, secret[:1]) == len(secret) {
		return fmt.Errorf("TOKEN_SECRET cannot be a repeated character")
	}

	weakPrefixes := []string{"changeme", "secret", "password", "example", "default"}
	secretLower := strings.ToLower(secret)
	for _, weak := range weakPrefixes {
		if strings.HasPrefix(secretLower, weak) {
			return fmt.Errorf("TOKEN_SECRET cannot start with a common placeholder value")
		}
	}

	return nil
}

// RedirectURL is the OAuth callback registered with every provider.
func (c *ServerConfig) RedirectURL() string {
	return c.BaseURL + "/auth/callback"
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func defaultEmailProvider(env string) string {
	if env == "production" {
		return EmailProviderSES
	}
	return EmailProviderConsole
}

func fromAddress() string {
	if from := getEnv("MAIL_FROM", ""); from != "" {
		return from
	}
	if domain := getEnv("MAIL_FROM_DOMAIN", ""); domain != "" {
		return "login@" + domain
	}
	return ""
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
