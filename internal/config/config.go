package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"regapi/internal/repository"
)

// DatabaseConfig holds PostgreSQL connection and pool settings for the relational backend.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	ConnectTimeoutSec  int
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MongoConfig holds settings for the document backend.
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize int
}

// MinIOConfig holds object storage settings used by collection export.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an object storage endpoint is configured.
func (c MinIOConfig) Enabled() bool { return c.Endpoint != "" }

// StorageConfig selects the backend every entity is persisted to.
type StorageConfig struct {
	// Backend is one of the repository.Backend identifiers.
	Backend string
	// DataRoot is the root directory of the filesystem backend.
	DataRoot string
}

// AppConfig is populated from environment variables. Secrets have no defaults.
type AppConfig struct {
	Port     string
	LogLevel string
	Debug    bool
	Storage  StorageConfig
	Database DatabaseConfig
	Mongo    MongoConfig
	MinIO    MinIOConfig
}

// Load reads configuration from environment variables.
// Binaries import github.com/joho/godotenv/autoload, so a .env file is picked up when
// present; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Debug:    getEnvBool("APP_DEBUG", false),
		Storage: StorageConfig{
			Backend:  getEnv("STORAGE_BACKEND", string(repository.FileSystem)),
			DataRoot: getEnv("DATA_ROOT", "./data"),
		},
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			ConnectTimeoutSec:  getEnvInt("DB_CONNECT_TIMEOUT_SEC", 5),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		Mongo: MongoConfig{
			URI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:    getEnv("MONGO_DATABASE", "regapi"),
			MaxPoolSize: getEnvInt("MONGO_MAX_POOL_SIZE", 20),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
	}
}

// Validate checks that the settings the selected backend needs are present.
func (c *AppConfig) Validate() error {
	var errs []error
	backend, err := repository.ParseBackend(c.Storage.Backend)
	if err != nil {
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND: %w", err))
	}
	switch backend {
	case repository.Relational:
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("relational backend requires DB_HOST, DB_USER and DB_NAME"))
		}
	case repository.Document:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("document backend requires MONGO_URI and MONGO_DATABASE"))
		}
	case repository.FileSystem:
		if c.Storage.DataRoot == "" {
			errs = append(errs, errors.New("filesystem backend requires DATA_ROOT"))
		}
	}
	if c.MinIO.Enabled() && c.MinIO.Bucket == "" {
		errs = append(errs, errors.New("MINIO_ENDPOINT is set but MINIO_BUCKET is empty"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
