package config

import (
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Storage   Storage   `mapstructure:"storage"`
	Upload    Upload    `mapstructure:"upload"`
	Watermark Watermark `mapstructure:"watermark"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port"` // HTTP port to listen on
	BaseURL  string `mapstructure:"base_url"`  // public URL prefix for byte-served artifacts
}

// Storage configures the transient artifact store.
type Storage struct {
	Backend      string        `mapstructure:"backend"`       // "local" or "minio"
	BaseDir      string        `mapstructure:"base_dir"`      // root dir for the local backend
	CleanupDelay time.Duration `mapstructure:"cleanup_delay"` // lifetime of URL-served artifacts
	Minio        Minio         `mapstructure:"minio"`
}

// Minio holds connection parameters for the S3-compatible backend.
type Minio struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Upload bounds what a single request may carry.
type Upload struct {
	MaxFileSize  int64 `mapstructure:"max_file_size"`  // bytes, per file
	MaxBulkFiles int   `mapstructure:"max_bulk_files"` // files per bulk request
}

// Watermark configures text rendering.
type Watermark struct {
	FontPath string `mapstructure:"font_path"`
}

// mustBindEnv binds credential environment variables to Viper keys.
//
// It panics if any environment variable cannot be bound.
func mustBindEnv() {
	bindings := map[string]string{
		"storage.minio.endpoint":   "MINIO_ENDPOINT",
		"storage.minio.access_key": "MINIO_ACCESS_KEY",
		"storage.minio.secret_key": "MINIO_SECRET_KEY",
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			zlog.Logger.Panic().Err(err).Msgf("failed to bind env %s", env)
		}
	}
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	viper.SetDefault("storage.backend", "local")
	viper.SetDefault("storage.base_dir", "./data")
	viper.SetDefault("storage.cleanup_delay", time.Minute)
	viper.SetDefault("upload.max_file_size", 100<<20)
	viper.SetDefault("upload.max_bulk_files", 10)

	if err := viper.ReadInConfig(); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to read config")
	}

	mustBindEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msgf("failed to unmarshal config: %v", err)
	}

	return &cfg
}
