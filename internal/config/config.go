package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents process configuration loaded from environment variables.
// The api and worker binaries share one config; fields a process does not
// use are simply ignored by it.
type Config struct {
	HTTPPort string

	RedisAddr   string
	DatabaseURL string

	EngineBaseURL string
	PublicBaseURL string

	StorageProvider    string
	StorageLocalRoot   string
	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string
	GDriveFolder       string

	AuthEndpoint string
	AuthToken    string

	WorkerConcurrency int
	RenderTimeout     time.Duration
	TranscodeTimeout  time.Duration
	TranscodeBinary   string
	GIFQuality        int
	GIFFrameRate      int

	JobRetention     time.Duration
	ArchiveRetention time.Duration
	ShutdownTimeout  time.Duration
}

// Load loads configuration from .env files (if present) and the environment,
// applying defaults where sensible.
func Load() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		EngineBaseURL:      os.Getenv("ENGINE_HTTP_BASEURL"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		StorageProvider:    getEnv("STORAGE_PROVIDER", "localfs"),
		StorageLocalRoot:   getEnv("STORAGE_LOCAL_ROOT", "/data"),
		GDriveClientID:     os.Getenv("GDRIVE_CLIENT_ID"),
		GDriveClientSecret: os.Getenv("GDRIVE_CLIENT_SECRET"),
		GDriveRefreshToken: os.Getenv("GDRIVE_REFRESH_TOKEN"),
		GDriveFolder:       getEnv("GDRIVE_FOLDER", "loopcard"),
		AuthEndpoint:       os.Getenv("AUTH_ENDPOINT"),
		AuthToken:          os.Getenv("AUTH_TOKEN"),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		RenderTimeout:      getEnvDuration("RENDER_TIMEOUT", 3*time.Minute),
		TranscodeTimeout:   getEnvDuration("TRANSCODE_TIMEOUT", 2*time.Minute),
		TranscodeBinary:    getEnv("TRANSCODE_BINARY", "ffmpeg"),
		GIFQuality:         getEnvInt("GIF_QUALITY", 60),
		GIFFrameRate:       getEnvInt("GIF_FRAME_RATE", 15),
		JobRetention:       getEnvDuration("JOB_RETENTION", 24*time.Hour),
		ArchiveRetention:   getEnvDuration("ARCHIVE_RETENTION", 30*24*time.Hour),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
