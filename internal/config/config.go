package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoEngines      = errors.New("at least one search engine must be enabled")
	ErrMissingAPIKey  = errors.New("GOOGLE_API_KEY is required when google is enabled")
	ErrMissingCSEID   = errors.New("GOOGLE_CSE_ID is required when google is enabled")
	ErrInvalidTieMode = errors.New("invalid TIE_BREAK: want priority_first or rank_first")
)

type Config struct {
	Research  ResearchConfig
	Governor  GovernorConfig
	Engines   map[string]EngineConfig
	Log       LogConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
}

type ResearchConfig struct {
	MaxResultsPerTerm int
	MaxTerms          int
	MaxSelectedLinks  int
	MaxContentLength  int // в рунах
	FetchTimeout      time.Duration
	SearchTimeout     time.Duration // дедлайн всей фазы поиска
	RequestTimeout    time.Duration // таймаут одного запроса к бэкенду
	EnableResolution  bool
	EnableParallel    bool
	SearchConcurrency int
	FetchConcurrency  int
	TieBreak          string
}

type GovernorConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	RatePerMinute  int // общий пейсер исходящих поисковых запросов
}

type EngineConfig struct {
	Enabled  bool
	Priority int // меньше = предпочтительнее
	APIKey   string
	CSEID    string
}

type LogConfig struct {
	Level string
}

type CacheConfig struct {
	TTL time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int // лимит выкачиваний на хост
}

// приоритеты по умолчанию повторяют порядок оригинального реестра движков
var engineDefaults = map[string]EngineConfig{
	"baidu":      {Enabled: true, Priority: 1},
	"bing":       {Enabled: true, Priority: 2},
	"duckduckgo": {Enabled: true, Priority: 3},
	"google":     {Enabled: false, Priority: 4}, // требует ключи
	"so360":      {Enabled: true, Priority: 5},
}

func Load() (*Config, error) {
	cfg := &Config{
		Research: ResearchConfig{
			MaxResultsPerTerm: getEnvIntOrDefault("MAX_SEARCH_RESULTS_PER_TERM", 8),
			MaxTerms:          getEnvIntOrDefault("MAX_TERMS_TO_SEARCH", 5),
			MaxSelectedLinks:  getEnvIntOrDefault("MAX_SELECTED_LINKS", 50),
			MaxContentLength:  getEnvIntOrDefault("MAX_CONTENT_LENGTH", 6000),
			FetchTimeout:      time.Duration(getEnvIntOrDefault("FETCH_TIMEOUT_SEC", 30)) * time.Second,
			SearchTimeout:     time.Duration(getEnvIntOrDefault("SEARCH_TIMEOUT_SEC", 60)) * time.Second,
			RequestTimeout:    time.Duration(getEnvIntOrDefault("SEARCH_REQUEST_TIMEOUT_SEC", 15)) * time.Second,
			EnableResolution:  getEnvBoolOrDefault("ENABLE_URL_RESOLUTION", true),
			EnableParallel:    getEnvBoolOrDefault("ENABLE_PARALLEL_PROCESSING", true),
			SearchConcurrency: getEnvIntOrDefault("SEARCH_CONCURRENCY", 8),
			FetchConcurrency:  getEnvIntOrDefault("FETCH_CONCURRENCY", 8),
			TieBreak:          getEnvOrDefault("TIE_BREAK", "priority_first"),
		},
		Governor: GovernorConfig{
			MaxAttempts:    getEnvIntOrDefault("GOVERNOR_MAX_ATTEMPTS", 3),
			BaseDelay:      time.Duration(getEnvIntOrDefault("GOVERNOR_BASE_DELAY_MS", 500)) * time.Millisecond,
			RateLimitDelay: time.Duration(getEnvIntOrDefault("GOVERNOR_RATE_DELAY_MS", 2000)) * time.Millisecond,
			RatePerMinute:  getEnvIntOrDefault("ENGINE_RATE_PER_MINUTE", 60),
		},
		Engines: loadEngines(),
		Log: LogConfig{
			Level: getEnvOrDefault("LOG_LEVEL", "info"),
		},
		Cache: CacheConfig{
			TTL: time.Duration(getEnvIntOrDefault("CACHE_TTL_SEC", 3600)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvIntOrDefault("RATE_LIMIT_PER_MINUTE", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEngines() map[string]EngineConfig {
	engines := make(map[string]EngineConfig, len(engineDefaults))
	for name, def := range engineDefaults {
		prefix := strings.ToUpper(name)
		ec := EngineConfig{
			Enabled:  getEnvBoolOrDefault(prefix+"_ENABLED", def.Enabled),
			Priority: getEnvIntOrDefault(prefix+"_PRIORITY", def.Priority),
		}
		if name == "google" {
			ec.APIKey = os.Getenv("GOOGLE_API_KEY")
			ec.CSEID = os.Getenv("GOOGLE_CSE_ID")
		}
		engines[name] = ec
	}
	return engines
}

func (c *Config) Validate() error {
	enabled := 0
	for name, ec := range c.Engines {
		if !ec.Enabled {
			continue
		}
		enabled++
		if name == "google" {
			if ec.APIKey == "" {
				return ErrMissingAPIKey
			}
			if ec.CSEID == "" {
				return ErrMissingCSEID
			}
		}
	}
	if enabled == 0 {
		return ErrNoEngines
	}

	switch c.Research.TieBreak {
	case "priority_first", "rank_first":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTieMode, c.Research.TieBreak)
	}

	return nil
}

// Priorities отдает карту имя->приоритет для включенных бэкендов.
func (c *Config) Priorities() map[string]int {
	out := make(map[string]int)
	for name, ec := range c.Engines {
		if ec.Enabled {
			out[name] = ec.Priority
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
