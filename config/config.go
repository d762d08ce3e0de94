package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the econoquery agent.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Ranking RankingConfig `mapstructure:"ranking"`
	BEA     BEAConfig     `mapstructure:"bea"`
	Refresh RefreshConfig `mapstructure:"refresh"`
	Storage StorageConfig `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains reasoning/embedding provider configuration.
// Type selects the backend: openai (default) or ollama.
type LLMConfig struct {
	Type            string        `mapstructure:"type"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	SmallModel      string        `mapstructure:"small_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// RankingConfig tunes the candidate ranker.
type RankingConfig struct {
	TopN            int     `mapstructure:"top_n"`
	EmbeddingWeight float64 `mapstructure:"embedding_weight"`
	KeywordWeight   float64 `mapstructure:"keyword_weight"`
	Workers         int     `mapstructure:"workers"`
}

// BEAConfig contains settings for the BEA statistical data API.
type BEAConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RefreshConfig controls metadata cache refresh behaviour.
type RefreshConfig struct {
	Force    bool   `mapstructure:"force"`
	Schedule string `mapstructure:"schedule"` // cron expression, @daily, @hourly, or empty to disable
}

// StorageConfig contains cache and persistence settings.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains redis connection settings for the metadata cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig contains the optional ask-audit store settings.
// Audit persistence is disabled when URL is empty.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// LoadConfig reads configuration from file + ECONOQUERY_* env overrides.
// Panics on an unreadable or unparsable config file.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":10020")
	viper.SetDefault("llm.type", "openai")
	viper.SetDefault("llm.completion_model", "gpt-5")
	viper.SetDefault("llm.small_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.timeout", "30s")
	viper.SetDefault("ranking.top_n", 10)
	viper.SetDefault("ranking.embedding_weight", 0.6)
	viper.SetDefault("ranking.keyword_weight", 0.4)
	viper.SetDefault("ranking.workers", 8)
	viper.SetDefault("bea.base_url", "https://apps.bea.gov/api/data")
	viper.SetDefault("bea.timeout", "30s")
	viper.SetDefault("refresh.schedule", "")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", "6379")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ECONOQUERY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine: defaults + env cover every key.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Ranking = config.Ranking.Normalize()

	return &config
}

// Normalize clamps ranking weights to a valid combination. Weights must be
// non-negative and sum to something positive; otherwise defaults are restored.
func (r RankingConfig) Normalize() RankingConfig {
	if r.TopN <= 0 {
		r.TopN = 10
	}
	if r.Workers <= 0 {
		r.Workers = 8
	}
	if r.EmbeddingWeight < 0 || r.KeywordWeight < 0 || r.EmbeddingWeight+r.KeywordWeight <= 0 {
		r.EmbeddingWeight = 0.6
		r.KeywordWeight = 0.4
	}
	return r
}
