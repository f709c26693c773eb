package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	API       APIConfig
	CORS      CORSConfig
	Materials MaterialsConfig
	WebRTC    WebRTCConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type APIConfig struct {
	RateLimitMessagesPerSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type MaterialsConfig struct {
	Dir           string
	MaxUploadSize int64
}

type WebRTCConfig struct {
	STUNServers []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		redisDB = 0
	}

	jwtExpiry, err := strconv.Atoi(getEnv("JWT_EXPIRY_HOURS", "168"))
	if err != nil {
		jwtExpiry = 168
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_MESSAGES_PER_SECOND", "10"))
	if err != nil {
		rateLimit = 10
	}

	maxUpload, err := strconv.ParseInt(getEnv("MATERIALS_MAX_UPLOAD_BYTES", "10485760"), 10, 64)
	if err != nil {
		maxUpload = 10 << 20
	}

	origins := strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",")
	stuns := strings.Split(getEnv("WEBRTC_STUN_SERVERS", "stun:stun.l.google.com:19302"), ",")

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "studyroom"),
			Password: getEnv("DB_PASSWORD", "studyroom_password"),
			DBName:   getEnv("DB_NAME", "studyroom_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-this-secret-key"),
			ExpiryHours: jwtExpiry,
		},
		API: APIConfig{
			RateLimitMessagesPerSec: rateLimit,
		},
		CORS: CORSConfig{
			AllowedOrigins: origins,
		},
		Materials: MaterialsConfig{
			Dir:           getEnv("MATERIALS_DIR", "./materials"),
			MaxUploadSize: maxUpload,
		},
		WebRTC: WebRTCConfig{
			STUNServers: stuns,
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "change-this-secret-key" && cfg.Server.Env == "production" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}

	return cfg, nil
}

// AgentConfig configures a headless session participant.
type AgentConfig struct {
	ServerURL   string
	Token       string
	SessionID   int64
	LogLevel    string
	STUNServers []string
}

// LoadAgent loads the agent configuration from environment variables.
func LoadAgent() (*AgentConfig, error) {
	_ = godotenv.Load()

	sessionID, err := strconv.ParseInt(getEnv("SESSION_ID", "0"), 10, 64)
	if err != nil || sessionID <= 0 {
		return nil, fmt.Errorf("SESSION_ID must be a positive integer")
	}

	token := os.Getenv("SESSION_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("SESSION_TOKEN must be set")
	}

	return &AgentConfig{
		ServerURL:   getEnv("SERVER_URL", "http://localhost:8080"),
		Token:       token,
		SessionID:   sessionID,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		STUNServers: strings.Split(getEnv("WEBRTC_STUN_SERVERS", "stun:stun.l.google.com:19302"), ","),
	}, nil
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
