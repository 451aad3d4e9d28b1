package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      App      `mapstructure:"app"`
	AI       AI       `mapstructure:"ai"`
	News     News     `mapstructure:"news"`
	Analysis Analysis `mapstructure:"analysis"`
	Alerts   Alerts   `mapstructure:"alerts"`
	Vector   Vector   `mapstructure:"vector"`
	Cache    Cache    `mapstructure:"cache"`
	Email    Email    `mapstructure:"email"`
	Logging  Logging  `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	LogLevel   string `mapstructure:"log_level"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// AI holds LLM configuration for the classifier and embedder
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	Timeout        string `mapstructure:"timeout"`
}

// News holds news source configuration
type News struct {
	APIKey    string   `mapstructure:"api_key"`
	BaseURL   string   `mapstructure:"base_url"`
	Queries   []string `mapstructure:"queries"`
	Watchlist []string `mapstructure:"watchlist"`
	PageSize  int      `mapstructure:"page_size"`
	Lookback  string   `mapstructure:"lookback"`
	RateLimit string   `mapstructure:"rate_limit"`
	Timeout   string   `mapstructure:"timeout"`
}

// Analysis holds sentiment analysis and cycle configuration
type Analysis struct {
	Interval            string  `mapstructure:"interval"`
	RetrievalTopK       int     `mapstructure:"retrieval_top_k"`
	RecencyWindow       string  `mapstructure:"recency_window"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	Workers             int     `mapstructure:"workers"`
	ArticleTimeout      string  `mapstructure:"article_timeout"`
	CycleTimeout        string  `mapstructure:"cycle_timeout"`
	MaxInputChars       int     `mapstructure:"max_input_chars"`
}

// Alerts holds desktop alert configuration
type Alerts struct {
	TopN                int     `mapstructure:"top_n"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// Vector holds vector store configuration
type Vector struct {
	DatabaseURL string `mapstructure:"database_url"`
	Dimensions  int    `mapstructure:"dimensions"`
}

// Cache holds cache store configuration
type Cache struct {
	Directory string `mapstructure:"directory"`
}

// Email holds email report configuration
type Email struct {
	SMTP        SMTPConfig `mapstructure:"smtp"`
	FromAddress string     `mapstructure:"from_address"`
	FromName    string     `mapstructure:"from_name"`
	ToAddress   string     `mapstructure:"to_address"`
	ReportTime  string     `mapstructure:"report_time"`
}

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".marketpulse")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".marketpulse-cache")

	// AI defaults
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.timeout", "30s")

	// News defaults
	viper.SetDefault("news.base_url", "https://newsapi.org/v2/everything")
	viper.SetDefault("news.queries", []string{
		"India finance",
		"Indian stock market",
		"SENSEX OR NIFTY",
		"BSE OR NSE",
		"India economy",
	})
	viper.SetDefault("news.watchlist", []string{
		"BSE", "NSE", "SENSEX", "NIFTY", "Indian stock market",
		"Mumbai stock exchange", "National stock exchange",
		"Indian rupee", "RBI", "Reserve Bank of India",
		"Tata", "Reliance", "Infosys", "TCS", "HDFC", "ICICI",
		"Adani", "ITC", "Bharti Airtel", "Asian Paints",
	})
	viper.SetDefault("news.page_size", 20)
	viper.SetDefault("news.lookback", "48h")
	viper.SetDefault("news.rate_limit", "1s")
	viper.SetDefault("news.timeout", "30s")

	// Analysis defaults
	viper.SetDefault("analysis.interval", "2h")
	viper.SetDefault("analysis.retrieval_top_k", 3)
	viper.SetDefault("analysis.recency_window", "336h") // 14 days
	viper.SetDefault("analysis.similarity_threshold", 0.7)
	viper.SetDefault("analysis.workers", 4)
	viper.SetDefault("analysis.article_timeout", "30s")
	viper.SetDefault("analysis.cycle_timeout", "10m")
	viper.SetDefault("analysis.max_input_chars", 4000)

	// Alert defaults
	viper.SetDefault("alerts.top_n", 3)
	viper.SetDefault("alerts.confidence_threshold", 0.7)

	// Vector store defaults
	viper.SetDefault("vector.dimensions", 768)

	// Cache defaults
	viper.SetDefault("cache.directory", ".marketpulse-cache")

	// Email defaults
	viper.SetDefault("email.smtp.port", 587)
	viper.SetDefault("email.smtp.tls_enabled", true)
	viper.SetDefault("email.from_name", "MarketPulse")
	viper.SetDefault("email.report_time", "18:00")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("news.api_key", []string{
		"NEWS_API_KEY",
		"NEWSAPI_KEY",
	})

	bindEnvKeys("vector.database_url", []string{
		"DATABASE_URL",
		"VECTOR_DATABASE_URL",
	})

	bindEnvKeys("email.smtp.host", []string{
		"SMTP_HOST",
		"EMAIL_SMTP_HOST",
	})

	bindEnvKeys("email.smtp.username", []string{
		"SMTP_USERNAME",
		"EMAIL_USER",
	})

	bindEnvKeys("email.smtp.password", []string{
		"SMTP_PASSWORD",
		"EMAIL_PASS",
	})

	bindEnvKeys("email.to_address", []string{
		"EMAIL_TO",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"MARKETPULSE_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.Cache.Directory != "" {
		config.Cache.Directory = expandPath(config.Cache.Directory)
	}
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}

	// Validate durations
	durations := map[string]string{
		"ai.gemini.timeout":       config.AI.Gemini.Timeout,
		"news.lookback":           config.News.Lookback,
		"news.rate_limit":         config.News.RateLimit,
		"news.timeout":            config.News.Timeout,
		"analysis.interval":       config.Analysis.Interval,
		"analysis.recency_window": config.Analysis.RecencyWindow,
		"analysis.article_timeout": config.Analysis.ArticleTimeout,
		"analysis.cycle_timeout":  config.Analysis.CycleTimeout,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	// Validate report time (HH:MM)
	if config.Email.ReportTime != "" {
		if _, err := time.Parse("15:04", config.Email.ReportTime); err != nil {
			return fmt.Errorf("invalid email.report_time %q: expected HH:MM", config.Email.ReportTime)
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	if config.News.APIKey == "" {
		errors = append(errors, "News API key is required. Set NEWS_API_KEY environment variable or news.api_key in config file.")
	}

	if config.AI.Gemini.APIKey == "" {
		errors = append(errors, "Gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file.\nGet your API key from: https://makersuite.google.com/app/apikey")
	}

	if len(config.News.Watchlist) == 0 {
		errors = append(errors, "Watchlist must contain at least one term. Set news.watchlist in config file.")
	}

	// Email is optional, but partial SMTP configuration is a mistake
	if config.Email.SMTP.Host != "" || config.Email.SMTP.Username != "" {
		if config.Email.SMTP.Host == "" {
			errors = append(errors, "SMTP host is required when email is configured")
		}
		if config.Email.SMTP.Username == "" {
			errors = append(errors, "SMTP username is required when email is configured")
		}
		if config.Email.SMTP.Password == "" {
			errors = append(errors, "SMTP password is required when email is configured")
		}
		if config.Email.ToAddress == "" {
			errors = append(errors, "Recipient address is required when email is configured. Set EMAIL_TO or email.to_address")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Convenience getters for commonly used configuration values
func GetApp() App           { return Get().App }
func GetAI() AI             { return Get().AI }
func GetNews() News         { return Get().News }
func GetAnalysis() Analysis { return Get().Analysis }
func GetAlerts() Alerts     { return Get().Alerts }
func GetVector() Vector     { return Get().Vector }
func GetCache() Cache       { return Get().Cache }
func GetEmail() Email       { return Get().Email }
func GetLogging() Logging   { return Get().Logging }

// Specific convenience getters for frequently accessed values
func GetGeminiAPIKey() string   { return Get().AI.Gemini.APIKey }
func GetGeminiModel() string    { return Get().AI.Gemini.Model }
func GetNewsAPIKey() string     { return Get().News.APIKey }
func GetWatchlist() []string    { return Get().News.Watchlist }
func GetCacheDirectory() string { return Get().Cache.Directory }
func IsDebugMode() bool         { return Get().App.Debug }

// EmailConfigured returns true when enough SMTP settings are present to send reports
func EmailConfigured() bool {
	e := Get().Email
	return e.SMTP.Host != "" && e.SMTP.Username != "" && e.ToAddress != ""
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
