package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/tallyhq/tally/internal/matching"
	"github.com/tallyhq/tally/internal/transfer"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"Tally"`
		Port int    `envconfig:"PORT" default:"8080"`
	}

	DB struct {
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"tally"`
	}

	Server struct {
		Timeout time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
	}

	Auth struct {
		JWTSecret      string   `envconfig:"JWT_SECRET" required:"true"`
		AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	}

	Matching struct {
		WeightAmount          float64 `envconfig:"MATCH_WEIGHT_AMOUNT" default:"0.40"`
		WeightDate            float64 `envconfig:"MATCH_WEIGHT_DATE" default:"0.25"`
		WeightDescription     float64 `envconfig:"MATCH_WEIGHT_DESCRIPTION" default:"0.20"`
		WeightValidity        float64 `envconfig:"MATCH_WEIGHT_VALIDITY" default:"0.10"`
		WeightHistory         float64 `envconfig:"MATCH_WEIGHT_HISTORY" default:"0.05"`
		AutoAcceptThreshold   float64 `envconfig:"MATCH_AUTO_ACCEPT_THRESHOLD" default:"85"`
		ReviewThreshold       float64 `envconfig:"MATCH_REVIEW_THRESHOLD" default:"60"`
		DateWindowDays        int     `envconfig:"MATCH_DATE_WINDOW_DAYS" default:"7"`
		CrossPeriodWindowDays int     `envconfig:"MATCH_CROSS_PERIOD_WINDOW_DAYS" default:"30"`
		MaxCandidates         int     `envconfig:"MATCH_MAX_CANDIDATES" default:"50"`
		MaxGroupSize          int     `envconfig:"MATCH_MAX_GROUP_SIZE" default:"3"`
	}

	Transfer struct {
		WeightAmount      float64 `envconfig:"TRANSFER_WEIGHT_AMOUNT" default:"0.40"`
		WeightDescription float64 `envconfig:"TRANSFER_WEIGHT_DESCRIPTION" default:"0.30"`
		WeightDate        float64 `envconfig:"TRANSFER_WEIGHT_DATE" default:"0.20"`
		WeightHistory     float64 `envconfig:"TRANSFER_WEIGHT_HISTORY" default:"0.10"`
		AutoThreshold     float64 `envconfig:"TRANSFER_AUTO_THRESHOLD" default:"85"`
		ConfirmThreshold  float64 `envconfig:"TRANSFER_CONFIRM_THRESHOLD" default:"60"`
		GracePeriodDays   int     `envconfig:"TRANSFER_GRACE_PERIOD_DAYS" default:"7"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

// MatchingConfig builds the validated scoring configuration.
func (c *Config) MatchingConfig() (matching.Config, error) {
	cfg := matching.Config{
		WeightAmount:          c.Matching.WeightAmount,
		WeightDate:            c.Matching.WeightDate,
		WeightDescription:     c.Matching.WeightDescription,
		WeightValidity:        c.Matching.WeightValidity,
		WeightHistory:         c.Matching.WeightHistory,
		AutoAcceptThreshold:   c.Matching.AutoAcceptThreshold,
		ReviewThreshold:       c.Matching.ReviewThreshold,
		DateWindowDays:        c.Matching.DateWindowDays,
		CrossPeriodWindowDays: c.Matching.CrossPeriodWindowDays,
		MaxCandidates:         c.Matching.MaxCandidates,
		MaxGroupSize:          c.Matching.MaxGroupSize,
	}

	return cfg, cfg.Validate()
}

// TransferConfig builds the validated transfer classifier configuration.
func (c *Config) TransferConfig() (transfer.Config, error) {
	cfg := transfer.Config{
		WeightAmount:      c.Transfer.WeightAmount,
		WeightDescription: c.Transfer.WeightDescription,
		WeightDate:        c.Transfer.WeightDate,
		WeightHistory:     c.Transfer.WeightHistory,
		AutoThreshold:     c.Transfer.AutoThreshold,
		ConfirmThreshold:  c.Transfer.ConfirmThreshold,
		GracePeriodDays:   c.Transfer.GracePeriodDays,
	}

	return cfg, cfg.Validate()
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
