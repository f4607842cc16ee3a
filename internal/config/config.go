package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"civiclens-service/internal/domain/report"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type DetectorConfig struct {
	URL         string
	WarmTimeout time.Duration
}

type GeocodeConfig struct {
	BaseURL   string
	UserAgent string
}

type IntakeConfig struct {
	ForbiddenScore   float64
	DuplicateRadiusM float64
	DefaultCategory  report.Category
	LocationTimeout  time.Duration
	TileURL          string
	TileZoom         int
}

type StorageConfig struct {
	UploadsDir string
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Detector    DetectorConfig
	Geocode     GeocodeConfig
	Intake      IntakeConfig
	Storage     StorageConfig
}

// Load reads configuration for the API service. Server-only keys (database,
// JWT secret) are required.
func Load() (*Config, error) {
	cfg := load()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient reads the same environment for client tooling, which has no
// database or auth secret.
func LoadClient() (*Config, error) {
	cfg := load()
	if _, ok := report.ParseCategory(string(cfg.Intake.DefaultCategory)); !ok {
		return nil, fmt.Errorf("INTAKE_DEFAULT_CATEGORY must be one of Waste, Water, Road")
	}
	return cfg, nil
}

func load() *Config {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Detector: DetectorConfig{
			URL:         v.GetString("DETECTOR_URL"),
			WarmTimeout: v.GetDuration("DETECTOR_WARM_TIMEOUT"),
		},
		Geocode: GeocodeConfig{
			BaseURL:   v.GetString("NOMINATIM_BASE_URL"),
			UserAgent: v.GetString("NOMINATIM_USER_AGENT"),
		},
		Intake: IntakeConfig{
			ForbiddenScore:   v.GetFloat64("INTAKE_FORBIDDEN_SCORE"),
			DuplicateRadiusM: v.GetFloat64("INTAKE_DUPLICATE_RADIUS_M"),
			DefaultCategory:  report.Category(v.GetString("INTAKE_DEFAULT_CATEGORY")),
			LocationTimeout:  v.GetDuration("INTAKE_LOCATION_TIMEOUT"),
			TileURL:          v.GetString("MAP_TILE_URL"),
			TileZoom:         v.GetInt("MAP_TILE_ZOOM"),
		},
		Storage: StorageConfig{
			UploadsDir: v.GetString("UPLOADS_DIR"),
		},
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Detector.WarmTimeout == 0 {
		cfg.Detector.WarmTimeout = 2 * time.Minute
	}
	if cfg.Geocode.BaseURL == "" {
		cfg.Geocode.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.Geocode.UserAgent == "" {
		cfg.Geocode.UserAgent = "CivicLens/1.0"
	}
	if cfg.Intake.ForbiddenScore == 0 {
		cfg.Intake.ForbiddenScore = 0.50
	}
	if cfg.Intake.DuplicateRadiusM == 0 {
		cfg.Intake.DuplicateRadiusM = 500
	}
	if cfg.Intake.DefaultCategory == "" {
		cfg.Intake.DefaultCategory = report.CategoryWaste
	}
	if cfg.Intake.LocationTimeout == 0 {
		cfg.Intake.LocationTimeout = 10 * time.Second
	}
	if cfg.Intake.TileURL == "" {
		cfg.Intake.TileURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	}
	if cfg.Intake.TileZoom == 0 {
		cfg.Intake.TileZoom = 19
	}
	if cfg.Storage.UploadsDir == "" {
		cfg.Storage.UploadsDir = "uploads"
	}

	return cfg
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if _, ok := report.ParseCategory(string(cfg.Intake.DefaultCategory)); !ok {
		return fmt.Errorf("INTAKE_DEFAULT_CATEGORY must be one of Waste, Water, Road")
	}
	return nil
}
