package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name" validate:"required"`
	Env      string `mapstructure:"app_env" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`

	APIBaseURL         string        `mapstructure:"api_base_url" validate:"required,url"`
	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds" validate:"gte=0"`
	HTTPTimeout        time.Duration `mapstructure:"-"`
	DefaultPageSize    int           `mapstructure:"default_page_size" validate:"gt=0"`
	CategoriesPageSize int           `mapstructure:"categories_page_size" validate:"gt=0"`

	PublishersFile string `mapstructure:"publishers_file"`

	StorageType             string  `mapstructure:"storage_type" validate:"oneof=bbolt none disabled"`
	SnapshotPath            string  `mapstructure:"snapshot_path" validate:"required_if=StorageType bbolt"`
	ExportRequestsPerSecond float64 `mapstructure:"export_requests_per_second" validate:"gt=0"`

	MetricsTextfile string `mapstructure:"metrics_textfile"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "pharmacie-inventory")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("api_base_url", "https://pharmacie-backend-4f71.onrender.com/api")
	v.SetDefault("http_timeout_seconds", 0) // no client-side timeout
	v.SetDefault("default_page_size", 20)
	v.SetDefault("categories_page_size", 100)
	v.SetDefault("publishers_file", "")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("snapshot_path", "./data/snapshot.db")
	v.SetDefault("export_requests_per_second", 5)
	v.SetDefault("metrics_textfile", "")
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.StorageType = strings.ToLower(strings.TrimSpace(cfg.StorageType))
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.PublishersFile = strings.TrimSpace(cfg.PublishersFile)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second

	return &cfg, nil
}

// Validate checks field constraints and reports every violation at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
