package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds the full application configuration
type Config struct {
	Port        string
	Environment string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	CallLogPath string
	MongoURI    string

	EbayAPIKey   string
	MetalsAPIKey string

	// Call budgets
	EbayDailyLimit     int
	MetalsMonthlyLimit int
	CallSpacing        time.Duration

	// Cache TTL per regime, in minutes
	CacheMarketHours int
	CacheOffHours    int
	CacheWeekend     int

	// Scheduler
	EnableAutoScan    bool
	ScanIntervalHours int

	// Upstream calls
	APITimeout       time.Duration
	APIRetryAttempts int

	// Scan inputs
	SearchTerms         []string
	MaxResultsPerSearch int

	// Market hours
	MarketTimezone string
	MarketOpen     string // "HH:MM"
	MarketClose    string // "HH:MM"

	// Metal classification, in priority order
	Metals        []string
	MetalKeywords map[string][]string
	MetalSymbols  map[string]string
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "metals_scanner"),

		CallLogPath: getEnv("CALL_LOG_PATH", "data/call_log.db"),
		MongoURI:    getEnv("MONGODB_URI", ""),

		EbayAPIKey:   getEnv("EBAY_API_KEY", ""),
		MetalsAPIKey: getEnv("METALS_API_KEY", ""),

		EbayDailyLimit:     getEnvInt("EBAY_DAILY_LIMIT", 5000),
		MetalsMonthlyLimit: getEnvInt("METALS_API_MONTHLY_LIMIT", 50),
		CallSpacing:        time.Duration(getEnvInt("MIN_CALL_SPACING_MS", 200)) * time.Millisecond,

		CacheMarketHours: getEnvInt("CACHE_MARKET_HOURS", 15),
		CacheOffHours:    getEnvInt("CACHE_OFF_HOURS", 60),
		CacheWeekend:     getEnvInt("CACHE_WEEKEND", 240),

		EnableAutoScan:    getEnvBool("ENABLE_AUTO_SCAN", true),
		ScanIntervalHours: getEnvInt("SCAN_INTERVAL_HOURS", 2),

		APITimeout:       time.Duration(getEnvInt("API_TIMEOUT", 10)) * time.Second,
		APIRetryAttempts: getEnvInt("API_RETRY_ATTEMPTS", 3),

		SearchTerms:         getEnvList("SEARCH_TERMS", "gold bullion,silver bullion,gold eagle,silver eagle"),
		MaxResultsPerSearch: getEnvInt("MAX_RESULTS_PER_SEARCH", 100),

		MarketTimezone: getEnv("MARKET_TIMEZONE", "America/New_York"),
		MarketOpen:     getEnv("MARKET_OPEN", "09:30"),
		MarketClose:    getEnv("MARKET_CLOSE", "16:00"),

		Metals: []string{"gold", "silver"},
		MetalKeywords: map[string][]string{
			"gold":   {"gold", "xau"},
			"silver": {"silver", "xag"},
		},
		MetalSymbols: map[string]string{
			"gold":   "XAU",
			"silver": "XAG",
		},
	}

	if kw := getEnv("METAL_KEYWORDS", ""); kw != "" {
		metals, table, err := parseKeywordTable(kw)
		if err != nil {
			return nil, fmt.Errorf("invalid METAL_KEYWORDS: %w", err)
		}
		config.Metals = metals
		config.MetalKeywords = table
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	AppConfig = config
	return config, nil
}

// validate rejects configurations the scanner cannot run with
func (c *Config) validate() error {
	if c.ScanIntervalHours < 1 || c.ScanIntervalHours > 24 {
		return fmt.Errorf("SCAN_INTERVAL_HOURS must be between 1 and 24, got %d", c.ScanIntervalHours)
	}
	if c.CacheMarketHours <= 0 || c.CacheOffHours <= 0 || c.CacheWeekend <= 0 {
		return fmt.Errorf("cache TTLs must be positive minutes")
	}
	if c.APIRetryAttempts < 0 {
		return fmt.Errorf("API_RETRY_ATTEMPTS must not be negative")
	}
	if _, err := time.LoadLocation(c.MarketTimezone); err != nil {
		return fmt.Errorf("invalid MARKET_TIMEZONE %q: %w", c.MarketTimezone, err)
	}
	for _, v := range []string{c.MarketOpen, c.MarketClose} {
		if _, _, err := ParseClock(v); err != nil {
			return fmt.Errorf("invalid market hour %q: %w", v, err)
		}
	}
	return nil
}

// ParseClock parses an "HH:MM" string into hour and minute components.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour, minute, nil
}

// parseKeywordTable parses "gold=gold|xau,silver=silver|xag" into an ordered
// metal list plus keyword table.
func parseKeywordTable(raw string) ([]string, map[string][]string, error) {
	metals := []string{}
	table := map[string][]string{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, kws, found := strings.Cut(entry, "=")
		if !found {
			return nil, nil, fmt.Errorf("entry %q missing '='", entry)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		var keywords []string
		for _, kw := range strings.Split(kws, "|") {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		if name == "" || len(keywords) == 0 {
			return nil, nil, fmt.Errorf("entry %q has no keywords", entry)
		}
		metals = append(metals, name)
		table[name] = keywords
	}
	if len(metals) == 0 {
		return nil, nil, fmt.Errorf("no metals configured")
	}
	return metals, table, nil
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(AppConfig.DBHost),
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=prefer TimeZone=UTC",
		AppConfig.DBHost,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBPort,
	)

	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Failed to get underlying database: %v", err)
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database ping failed: %v", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Invalid boolean for %s: %q, using default %t", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvList gets a comma-separated environment variable as a string slice
func getEnvList(key, defaultValue string) []string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
