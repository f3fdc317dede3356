package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	MLAPI     MLAPIConfig     `yaml:"mlapi" mapstructure:"mlapi"`
	Backend   BackendConfig   `yaml:"backend" mapstructure:"backend"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Questions QuestionsConfig `yaml:"questions" mapstructure:"questions"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// MLAPIConfig holds the ML analysis backend settings.
type MLAPIConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BackendConfig holds the application backend settings.
type BackendConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

// StoreConfig configures the local analysis cache database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// QuestionsConfig configures offline questionnaire loading.
type QuestionsConfig struct {
	FixturePath string `yaml:"fixture_path" mapstructure:"fixture_path"`
}

// ServerConfig configures the session API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STRATEGY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("mlapi.base_url", "http://localhost:8000")
	v.SetDefault("backend.base_url", "http://localhost:3001")
	v.SetDefault("backend.token", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "strategy.db")
	v.SetDefault("questions.fixture_path", "questions.yaml")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given mode requires. Modes map to commands:
// generate and regen call the ML backend, serve additionally binds a port,
// questions and status only read the application backend.
func (c *Config) Validate(mode string) error {
	var problems []string

	require := func(value, name string) {
		if value == "" {
			problems = append(problems, name+" is required")
		}
	}

	switch mode {
	case "generate", "regen":
		require(c.MLAPI.BaseURL, "mlapi.base_url")
		require(c.Backend.BaseURL, "backend.base_url")
	case "serve":
		require(c.MLAPI.BaseURL, "mlapi.base_url")
		require(c.Backend.BaseURL, "backend.base_url")
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.RateLimit <= 0 {
			problems = append(problems, "server.rate_limit must be > 0")
		}
		if c.Server.RateBurst <= 0 {
			problems = append(problems, "server.rate_burst must be > 0")
		}
	case "questions", "status":
		require(c.Backend.BaseURL, "backend.base_url")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
