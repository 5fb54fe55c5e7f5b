package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort    string
	AppMode    string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	JWTSecret  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Endpoint   string
	S3PublicBase string

	FirebaseCredentialsFile string

	ConsultationDuration time.Duration
	CleanupRetention     time.Duration
	ExpiryInterval       time.Duration
	WarningInterval      time.Duration
	WarningWindow        time.Duration

	AvailabilityTTL   time.Duration
	AvailabilitySweep time.Duration

	PushPreviewLength int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),
		AppMode:    getEnv("APP_MODE", "debug"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "telecare_chat"),
		DBPort:     getEnv("DB_PORT", "5432"),
		JWTSecret:  getEnv("JWT_SECRET", "change-me"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		S3Region:     getEnv("S3_REGION", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3PublicBase: getEnv("S3_PUBLIC_BASE", ""),

		FirebaseCredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),

		ConsultationDuration: getEnvAsDuration("CONSULTATION_DURATION", 30*time.Minute),
		CleanupRetention:     getEnvAsDuration("CLEANUP_RETENTION", 7*24*time.Hour),
		ExpiryInterval:       getEnvAsDuration("EXPIRY_INTERVAL", 60*time.Second),
		WarningInterval:      getEnvAsDuration("WARNING_INTERVAL", 30*time.Second),
		WarningWindow:        getEnvAsDuration("WARNING_WINDOW", 5*time.Minute),

		AvailabilityTTL:   getEnvAsDuration("AVAILABILITY_TTL", 60*time.Second),
		AvailabilitySweep: getEnvAsDuration("AVAILABILITY_SWEEP", 30*time.Second),

		PushPreviewLength: getEnvAsInt("PUSH_PREVIEW_LENGTH", 50),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
