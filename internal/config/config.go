package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig
	Supabase SupabaseConfig
	Backend  BackendConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	MinIO    MinIOConfig
	CORS     CORSConfig
	SMTP     SMTPConfig
	Firebase FirebaseConfig
	Data     DataConfig
}

type AppConfig struct {
	Env       string
	Port      string
	PublicURL string
	Version   string
	TimeZone  string
}

// Location returns the display time zone, UTC when TimeZone is unknown
func (a AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		log.Printf("⚠️  Unknown time zone %q, using UTC", a.TimeZone)
		return time.UTC
	}
	return loc
}

type SupabaseConfig struct {
	URL     string
	AnonKey string
	Timeout time.Duration
}

// BackendConfig selects where table operations are served from.
// "supabase" talks to PostgREST/Realtime, "postgres" talks to a self-hosted database.
type BackendConfig struct {
	Data string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the PostgreSQL connection string
func (d DBConfig) DSN() string {
	return "host=" + d.Host +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" port=" + d.Port +
		" sslmode=" + d.SSLMode +
		" TimeZone=UTC"
}

// URL returns the PostgreSQL connection URL (for golang-migrate)
func (d DBConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password +
		"@" + d.Host + ":" + d.Port +
		"/" + d.Name + "?sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	PublicURL string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type CORSConfig struct {
	Origins []string
	MaxAge  time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type FirebaseConfig struct {
	CredentialsFile string
}

// DataConfig holds query defaults shared by the page controllers
type DataConfig struct {
	DefaultLimit  int
	RetentionDays int
	RecentHours   int
}

// Load reads configuration from .env file and environment variables
func Load() *Config {
	// Load .env file (ignore error if not exists - e.g. in Docker)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading from environment variables")
	}

	return &Config{
		App: AppConfig{
			Env:       getEnv("APP_ENV", "development"),
			Port:      getEnv("APP_PORT", "8080"),
			PublicURL: strings.TrimRight(getEnv("APP_PUBLIC_URL", "http://localhost:5173"), "/"),
			Version:   getEnv("APP_VERSION", "1.1"),
			TimeZone:  getEnv("APP_TIMEZONE", "UTC"),
		},
		Supabase: SupabaseConfig{
			URL:     strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
			AnonKey: getEnv("SUPABASE_ANON_KEY", ""),
			Timeout: getDuration("SUPABASE_TIMEOUT", 15*time.Second),
		},
		Backend: BackendConfig{
			Data: getEnv("DATA_BACKEND", "supabase"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "ipi"),
			Password: getEnv("DB_PASSWORD", "ipi"),
			Name:     getEnv("DB_NAME", "ipi_monitor"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "default-secret"),
			Expiry: getDuration("JWT_EXPIRY", 24*time.Hour),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			PublicURL: getEnv("MINIO_PUBLIC_URL", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("MINIO_BUCKET", "ipi-exports"),
			UseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		},
		CORS: CORSConfig{
			Origins: getList("CORS_ORIGINS", "http://localhost:5173"),
			MaxAge:  getDuration("CORS_MAX_AGE", 12*time.Hour),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "mailpit"),
			Port:     getEnv("SMTP_PORT", "1025"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "alerts@ipi-monitor.local"),
			FromName: getEnv("SMTP_FROM_NAME", "IPI Monitor"),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Data: DataConfig{
			DefaultLimit:  getInt("DATA_DEFAULT_LIMIT", 100),
			RetentionDays: getInt("DATA_RETENTION_DAYS", 30),
			RecentHours:   getInt("DATA_RECENT_HOURS", 24),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getList splits a comma-separated value, dropping blanks
func getList(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return d
}
