package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config enumerates every recognized setting. Components receive this struct
// explicitly; nothing reads the environment after LoadConfig returns.
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Time zones. ReferenceTimezone is the zone all triggers are matched in.
	ReferenceTimezone string
	KoreaTimezone     string
	USTimezone        string

	// Trigger timing.
	TickInterval     time.Duration // scheduler poll cadence
	AlertLeadMinutes int           // premarket alert fires open - lead
	AnalysisDelayMin int           // analysis fires close + delay
	DataLeadMinutes  int           // KR data collection fires post-close - lead
	ModelRetryShort  time.Duration // first model-bootstrap retry delay
	ModelRetryLong   time.Duration // retry delay after repeated failure
	StrictScheduling bool          // fail loudly on scheduling inconsistencies

	// Postgres.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (KIS token cache + health probe).
	RedisHost string
	RedisPort string

	// MongoDB recommendation archive; empty disables it.
	MongoURI string

	// Local SQLite recommendation cache.
	CachePath string

	// Collaborator endpoints.
	MLServiceURL      string
	DiscordWebhookURL string
	KISBaseURL        string
	KISAppKey         string
	KISAppSecret      string
	MarketDataBaseURL string
	MarketDataAPIKey  string

	// Admin access to the manual-run API.
	JWTSecret         string
	AdminPasswordHash string
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables into an explicit Config.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using environment variables")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		ReferenceTimezone: getEnv("REFERENCE_TIMEZONE", "Asia/Seoul"),
		KoreaTimezone:     getEnv("KR_TIMEZONE", "Asia/Seoul"),
		USTimezone:        getEnv("US_TIMEZONE", "America/New_York"),

		TickInterval:     getEnvDuration("TICK_INTERVAL", time.Minute),
		AlertLeadMinutes: getEnvInt("ALERT_LEAD_MINUTES", 30),
		AnalysisDelayMin: getEnvInt("ANALYSIS_DELAY_MINUTES", 30),
		DataLeadMinutes:  getEnvInt("DATA_LEAD_MINUTES", 60),
		ModelRetryShort:  getEnvDuration("MODEL_RETRY_SHORT", 30*time.Minute),
		ModelRetryLong:   getEnvDuration("MODEL_RETRY_LONG", 2*time.Hour),
		StrictScheduling: getEnvBool("STRICT_SCHEDULING", false),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "global_scheduler"),

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		MongoURI:  getEnv("MONGODB_URI", ""),
		CachePath: getEnv("CACHE_PATH", "data/recommendations.db"),

		MLServiceURL:      getEnv("ML_SERVICE_URL", "http://localhost:8600"),
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		KISBaseURL:        getEnv("KIS_BASE_URL", "https://openapi.koreainvestment.com:9443"),
		KISAppKey:         getEnv("KIS_APP_KEY", ""),
		KISAppSecret:      getEnv("KIS_APP_SECRET", ""),
		MarketDataBaseURL: getEnv("MARKET_DATA_BASE_URL", "https://www.alphavantage.co"),
		MarketDataAPIKey:  getEnv("MARKET_DATA_API_KEY", ""),

		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
	}

	AppConfig = cfg
	return cfg, nil
}

// SetupLogger configures the process-wide zerolog output. Development gets a
// console writer, production stays on JSON.
func (c *Config) SetupLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	if c.Environment != "production" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	return logger
}

// InitDB initializes the Postgres connection. An unreachable database is not
// fatal here: the pool dials lazily, the bootstrap health step records the
// outage, and the scheduler keeps running degraded until Postgres returns.
func InitDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=prefer TimeZone=%s",
		AppConfig.DBHost,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBPort,
		AppConfig.ReferenceTimezone,
	)

	logLevel := gormlogger.Info
	if AppConfig.Environment == "production" {
		logLevel = gormlogger.Error
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(logLevel),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		log.Warn().Err(err).Msg("database unreachable at startup, continuing degraded")
	}

	DB = db
	return db, nil
}

// RedisAddr returns the host:port pair for the Redis client.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
