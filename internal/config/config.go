package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	AuthMode    string   `mapstructure:"AUTH_MODE"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Diagnostic session loop.
	ConfidenceThreshold float64       `mapstructure:"CONFIDENCE_THRESHOLD"`
	MaxQuestions        int           `mapstructure:"MAX_QUESTIONS"`
	MinInfoGain         float64       `mapstructure:"MIN_INFO_GAIN"`
	SessionIdleTimeout  time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`

	// Model lifecycle.
	ModelDir            string        `mapstructure:"MODEL_DIR"`
	KnowledgeFile       string        `mapstructure:"KNOWLEDGE_FILE"`
	TopKConditions      int           `mapstructure:"TOP_K_CONDITIONS"`
	RegressionTolerance float64       `mapstructure:"REGRESSION_TOLERANCE"`
	MinTrainingCases    int           `mapstructure:"MIN_TRAINING_CASES"`
	SyntheticSamples    int           `mapstructure:"SYNTHETIC_SAMPLES"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("CONFIDENCE_THRESHOLD", 0.75)
	v.SetDefault("MAX_QUESTIONS", 8)
	v.SetDefault("MIN_INFO_GAIN", 0.01)
	v.SetDefault("SESSION_IDLE_TIMEOUT", "30m")
	v.SetDefault("MODEL_DIR", "./models")
	v.SetDefault("KNOWLEDGE_FILE", "") // "" -> embedded knowledge base
	v.SetDefault("TOP_K_CONDITIONS", 3)
	v.SetDefault("REGRESSION_TOLERANCE", 0.02)
	v.SetDefault("MIN_TRAINING_CASES", 50)
	v.SetDefault("SYNTHETIC_SAMPLES", 5000)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"JWT_SECRET", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"CONFIDENCE_THRESHOLD", "MAX_QUESTIONS", "MIN_INFO_GAIN", "SESSION_IDLE_TIMEOUT",
		"MODEL_DIR", "KNOWLEDGE_FILE", "TOP_K_CONDITIONS", "REGRESSION_TOLERANCE",
		"MIN_TRAINING_CASES", "SYNTHETIC_SAMPLES",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active: all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - Otherwise       → "jwt" (HMAC-signed bearer tokens)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run. In non-development
// modes a JWT secret is required so that authentication is actually enforced,
// and the triage thresholds must be sane.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "jwt" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when AUTH_MODE is \"jwt\" (current ENV=%q). "+
			"Refusing to start without authentication configuration", c.Env)
	}

	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in (0, 1], got %v", c.ConfidenceThreshold)
	}
	if c.MaxQuestions < 1 {
		return fmt.Errorf("MAX_QUESTIONS must be at least 1, got %d", c.MaxQuestions)
	}
	if c.MinInfoGain < 0 {
		return fmt.Errorf("MIN_INFO_GAIN cannot be negative, got %v", c.MinInfoGain)
	}
	if c.RegressionTolerance < 0 {
		return fmt.Errorf("REGRESSION_TOLERANCE cannot be negative, got %v", c.RegressionTolerance)
	}
	if c.MinTrainingCases < 2 {
		return fmt.Errorf("MIN_TRAINING_CASES must be at least 2, got %d", c.MinTrainingCases)
	}
	if c.SyntheticSamples < c.MinTrainingCases {
		return fmt.Errorf("SYNTHETIC_SAMPLES (%d) must not be below MIN_TRAINING_CASES (%d)",
			c.SyntheticSamples, c.MinTrainingCases)
	}
	if c.ModelDir == "" {
		return fmt.Errorf("MODEL_DIR is required")
	}

	return nil
}
