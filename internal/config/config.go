package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vdavid/mailingest/internal/imap"
)

type Config struct {
	Environment string
	LogLevel    string

	IMAPServer   string
	IMAPUsername string
	IMAPPassword string
	IMAPUseTLS   bool

	Folder       string
	FetchLimit   int
	FetchTimeout time.Duration
	StrictMIME   bool

	// StoreEnabled turns on persisting fetched records to Postgres.
	StoreEnabled bool
	DBHost       string
	DBPort       string
	DBUsername   string
	DBPassword   string
	DBName       string
	DBSSLMode    string
	// DBMigrate applies pending schema migrations on connect.
	DBMigrate    bool

	Port string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILINGEST_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	fetchLimit, err := getIntOrDefault("MAILINGEST_FETCH_LIMIT", 50)
	if err != nil {
		return nil, err
	}
	timeoutSeconds, err := getIntOrDefault("MAILINGEST_FETCH_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment:  env,
		LogLevel:     getEnvOrDefault("MAILINGEST_LOG_LEVEL", "info"),
		IMAPServer:   os.Getenv("IMAP_SERVER"),
		IMAPUsername: os.Getenv("IMAP_USER"),
		IMAPPassword: os.Getenv("IMAP_PASSWORD"),
		IMAPUseTLS:   getBoolOrDefault("IMAP_USE_TLS", true),
		Folder:       getEnvOrDefault("MAILINGEST_FOLDER", "INBOX"),
		FetchLimit:   fetchLimit,
		FetchTimeout: time.Duration(timeoutSeconds) * time.Second,
		StrictMIME:   getBoolOrDefault("MAILINGEST_STRICT_MIME", false),
		StoreEnabled: getBoolOrDefault("MAILINGEST_STORE_ENABLED", false),
		DBHost:       getEnvOrDefault("MAILINGEST_DB_HOST", "localhost"),
		DBPort:       getEnvOrDefault("MAILINGEST_DB_PORT", "5432"),
		DBUsername:   getEnvOrDefault("MAILINGEST_DB_USER", "mailingest"),
		DBPassword:   os.Getenv("MAILINGEST_DB_PASSWORD"),
		DBName:       getEnvOrDefault("MAILINGEST_DB_NAME", "mailingest"),
		DBSSLMode:    getEnvOrDefault("MAILINGEST_DB_SSLMODE", "disable"),
		DBMigrate:    getBoolOrDefault("MAILINGEST_DB_MIGRATE", true),
		Port:         getEnvOrDefault("PORT", "8080"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.IMAPServer == "" {
		return fmt.Errorf("IMAP_SERVER is required")
	}

	if _, _, err := net.SplitHostPort(c.IMAPServer); err != nil {
		return fmt.Errorf("IMAP_SERVER must be host:port: %w", err)
	}

	if c.IMAPUsername == "" {
		return fmt.Errorf("IMAP_USER is required")
	}

	if c.IMAPPassword == "" {
		return fmt.Errorf("IMAP_PASSWORD is required")
	}

	if c.FetchLimit <= 0 {
		return fmt.Errorf("MAILINGEST_FETCH_LIMIT must be positive")
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("MAILINGEST_FETCH_TIMEOUT_SECONDS must be positive")
	}

	if c.StoreEnabled && c.DBPassword == "" {
		return fmt.Errorf("MAILINGEST_DB_PASSWORD is required when MAILINGEST_STORE_ENABLED is set")
	}

	return nil
}

// GetDatabaseURL returns the Postgres URL with credentials escaped.
func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// IMAPConnection returns the settings for dialing the IMAP server.
func (c *Config) IMAPConnection() imap.ConnectionConfig {
	return imap.ConnectionConfig{
		Server:   c.IMAPServer,
		Username: c.IMAPUsername,
		Password: c.IMAPPassword,
		UseTLS:   c.IMAPUseTLS,
	}
}

// FetchDefaults returns the fetch options every request starts from.
func (c *Config) FetchDefaults() imap.FetchOptions {
	return imap.FetchOptions{
		Folder:  c.Folder,
		Limit:   c.FetchLimit,
		Timeout: c.FetchTimeout,
		Mailbox: c.IMAPUsername,
		Strict:  c.StrictMIME,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
