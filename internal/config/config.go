package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration; Driver is "postgres" or "memory"
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// AuthConfig holds JWT verification settings; tokens are issued elsewhere
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// WorkflowConfig holds the timings of the background sweeps
type WorkflowConfig struct {
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	ReminderAge      time.Duration `mapstructure:"reminder_age"`
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	ArchiveAfter     time.Duration `mapstructure:"archive_after"` // 0 disables archiving
	DraftTTL         time.Duration `mapstructure:"draft_ttl"`
}

// IngestionConfig holds spreadsheet parsing knobs
type IngestionConfig struct {
	HeaderScanRows      int     `mapstructure:"header_scan_rows"`
	TokenMatchRatio     float64 `mapstructure:"token_match_ratio"`
	MismatchSampleLimit int     `mapstructure:"mismatch_sample_limit"`
	MaxUploadBytes      int64   `mapstructure:"max_upload_bytes"`
}

var globalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})

	v.SetDefault("workflow.sweep_interval", time.Minute)
	v.SetDefault("workflow.reminder_age", 4*time.Hour)
	v.SetDefault("workflow.reminder_interval", time.Hour)
	v.SetDefault("workflow.lock_timeout", 2*time.Minute)
	v.SetDefault("workflow.archive_after", 30*24*time.Hour)
	v.SetDefault("workflow.draft_ttl", 30*time.Minute)

	v.SetDefault("ingestion.header_scan_rows", 5)
	v.SetDefault("ingestion.token_match_ratio", 0.7)
	v.SetDefault("ingestion.mismatch_sample_limit", 5)
	v.SetDefault("ingestion.max_upload_bytes", 10<<20)
}

// Load reads configuration from configs/.env, the YAML file and DEBT_APPROVAL_* environment variables
func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load("configs/.env")

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DEBT_APPROVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !asNotFound(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

func asNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if cfg.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}

	w := cfg.Workflow
	for name, d := range map[string]time.Duration{
		"sweep_interval":    w.SweepInterval,
		"reminder_age":      w.ReminderAge,
		"reminder_interval": w.ReminderInterval,
		"lock_timeout":      w.LockTimeout,
		"draft_ttl":         w.DraftTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("workflow.%s must be positive", name)
		}
	}
	if w.ArchiveAfter < 0 {
		return fmt.Errorf("workflow.archive_after must not be negative")
	}

	in := cfg.Ingestion
	if in.HeaderScanRows <= 0 {
		return fmt.Errorf("ingestion.header_scan_rows must be positive")
	}
	if in.TokenMatchRatio <= 0 || in.TokenMatchRatio > 1 {
		return fmt.Errorf("ingestion.token_match_ratio must be in (0, 1], got %v", in.TokenMatchRatio)
	}
	if in.MismatchSampleLimit <= 0 {
		return fmt.Errorf("ingestion.mismatch_sample_limit must be positive")
	}
	return nil
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// SetGlobal sets the global configuration (for testing purposes)
func SetGlobal(cfg *Config) {
	globalConfig = cfg
}

// GetDSN returns the postgres connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// GetServerAddress returns the listen address
func (s *ServerConfig) GetServerAddress() string {
	return fmt.Sprintf(":%d", s.Port)
}
