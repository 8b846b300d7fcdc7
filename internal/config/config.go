package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Auth        AuthConfig     `yaml:"auth"`
	Storage     StorageConfig  `yaml:"storage"`
	Mail        MailConfig     `yaml:"mail"`
	Notify      NotifyConfig   `yaml:"notify"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port           int    `yaml:"port"`
	SiteURL        string `yaml:"siteURL"` // base of the signing links sent to signees
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"dbName"`
	SSLMode    string `yaml:"sslMode"`
	TestDBName string `yaml:"testDBName"` // Separate database for testing
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

// StorageConfig selects where originals and signed files are kept
type StorageConfig struct {
	Backend        string `yaml:"backend"` // "local" or "minio"
	LocalPath      string `yaml:"localPath"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
}

// MailConfig holds the SMTP settings and the fixed recipients
type MailConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	From      string `yaml:"from"`
	AdminMail string `yaml:"adminMail"` // receives completion notices
}

// NotifyConfig selects the transport handing messages to the mailer
type NotifyConfig struct {
	Transport     string `yaml:"transport"` // "smtp", "redis" or "amqp"
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisStream   string `yaml:"redisStream"`
	AMQPURL       string `yaml:"amqpURL"`
	AMQPExchange  string `yaml:"amqpExchange"`
	AMQPRouting   string `yaml:"amqpRoutingKey"`
}

// LoggingConfig holds the logger settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=5",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// LoadConfig loads the configuration. Values come from the YAML file named by
// CONFIG_PATH (if any), then environment variables (a .env file is loaded
// first), then defaults.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path := getEnv("CONFIG_PATH", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Environment = getEnv("APP_ENV", orDefault(cfg.Environment, "development"))

	cfg.Server.Port = getEnvAsInt("SERVER_PORT", orDefaultInt(cfg.Server.Port, 8080))
	cfg.Server.SiteURL = strings.TrimRight(getEnv("SITE_URL", orDefault(cfg.Server.SiteURL, "http://localhost:8080")), "/")
	cfg.Server.MaxUploadBytes = int64(getEnvAsInt("MAX_UPLOAD_BYTES", orDefaultInt(int(cfg.Server.MaxUploadBytes), 25<<20)))

	cfg.Database = LoadDatabaseConfig(cfg.Database)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", orDefault(cfg.Auth.JWTSecret, "your-secret-key-here"))

	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", orDefault(cfg.Storage.Backend, "local"))
	cfg.Storage.LocalPath = getEnv("STORAGE_PATH", orDefault(cfg.Storage.LocalPath, "data/documents"))
	cfg.Storage.MinioEndpoint = getEnv("MINIO_ENDPOINT", cfg.Storage.MinioEndpoint)
	cfg.Storage.MinioAccessKey = getEnv("MINIO_ACCESS_KEY", cfg.Storage.MinioAccessKey)
	cfg.Storage.MinioSecretKey = getEnv("MINIO_SECRET_KEY", cfg.Storage.MinioSecretKey)
	cfg.Storage.MinioBucket = getEnv("MINIO_BUCKET", orDefault(cfg.Storage.MinioBucket, "documents"))
	cfg.Storage.MinioUseSSL = getEnvAsBool("MINIO_USE_SSL", cfg.Storage.MinioUseSSL)

	cfg.Mail.Host = getEnv("EMAIL_HOST", orDefault(cfg.Mail.Host, "localhost"))
	cfg.Mail.Port = getEnvAsInt("EMAIL_PORT", orDefaultInt(cfg.Mail.Port, 25))
	cfg.Mail.Username = getEnv("EMAIL_HOST_USER", cfg.Mail.Username)
	cfg.Mail.Password = getEnv("EMAIL_HOST_PASSWORD", cfg.Mail.Password)
	cfg.Mail.From = getEnv("EMAIL_FROM", orDefault(cfg.Mail.From, cfg.Mail.Username))
	cfg.Mail.AdminMail = getEnv("EMAIL_ADMIN", cfg.Mail.AdminMail)

	cfg.Notify.Transport = getEnv("NOTIFY_TRANSPORT", orDefault(cfg.Notify.Transport, "smtp"))
	cfg.Notify.RedisAddr = getEnv("REDIS_ADDR", cfg.Notify.RedisAddr)
	cfg.Notify.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Notify.RedisPassword)
	cfg.Notify.RedisStream = getEnv("REDIS_MAIL_STREAM", orDefault(cfg.Notify.RedisStream, "countersign:mail"))
	cfg.Notify.AMQPURL = getEnv("AMQP_URL", cfg.Notify.AMQPURL)
	cfg.Notify.AMQPExchange = getEnv("AMQP_EXCHANGE", orDefault(cfg.Notify.AMQPExchange, "countersign.mail"))
	cfg.Notify.AMQPRouting = getEnv("AMQP_ROUTING_KEY", orDefault(cfg.Notify.AMQPRouting, "mail.outgoing"))

	cfg.Logging.Level = getEnv("LOG_LEVEL", orDefault(cfg.Logging.Level, "info"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabaseConfig applies DB_* environment overrides and defaults to base
func LoadDatabaseConfig(base DatabaseConfig) DatabaseConfig {
	db := base
	db.Host = getEnv("DB_HOST", orDefault(db.Host, "localhost"))
	db.Port = getEnvAsInt("DB_PORT", orDefaultInt(db.Port, 5432))
	db.Username = getEnv("DB_USERNAME", orDefault(db.Username, "postgres"))
	db.Password = getEnv("DB_PASSWORD", orDefault(db.Password, "password"))
	db.DBName = getEnv("DB_NAME", orDefault(db.DBName, "countersign"))
	db.SSLMode = getEnv("DB_SSLMODE", orDefault(db.SSLMode, "disable"))
	db.TestDBName = getEnv("TEST_DB_NAME", orDefault(db.TestDBName, "countersign_test"))
	return db
}

// Validate checks that the selected backends have what they need
func (c *Config) Validate() error {
	if c.Mail.AdminMail == "" {
		return errors.New("config: mail.adminMail is required (set in config file or EMAIL_ADMIN)")
	}
	if c.Mail.From == "" {
		return errors.New("config: mail.from is required (set in config file or EMAIL_FROM)")
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalPath == "" {
			return errors.New("config: storage.localPath is required for local storage")
		}
	case "minio":
		if c.Storage.MinioEndpoint == "" || c.Storage.MinioAccessKey == "" || c.Storage.MinioSecretKey == "" {
			return errors.New("config: minio endpoint and credentials are required for minio storage")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Notify.Transport {
	case "smtp":
		if c.Mail.Host == "" {
			return errors.New("config: mail.host is required for smtp transport")
		}
	case "redis":
		if c.Notify.RedisAddr == "" {
			return errors.New("config: notify.redisAddr is required for redis transport")
		}
	case "amqp":
		if c.Notify.AMQPURL == "" {
			return errors.New("config: notify.amqpURL is required for amqp transport")
		}
	default:
		return fmt.Errorf("config: unknown notify transport %q", c.Notify.Transport)
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func orDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func orDefaultInt(value, defaultValue int) int {
	if value == 0 {
		return defaultValue
	}
	return value
}
