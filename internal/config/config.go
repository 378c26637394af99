// Package config loads the service settings from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fiat-reconciliation-backend/internal/models"
	"fiat-reconciliation-backend/internal/payout"
)

type Config struct {
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	HTTPAddr           string `mapstructure:"HTTP_ADDR"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	MatchWorkers       int    `mapstructure:"MATCH_WORKERS"`
	ProgressEvery      int    `mapstructure:"PROGRESS_EVERY"`

	QuorumRPCURL             string `mapstructure:"QUORUM_RPC_URL"`
	QuorumRPCUser            string `mapstructure:"QUORUM_RPC_USER"`
	QuorumRPCPassword        string `mapstructure:"QUORUM_RPC_PASSWORD"`
	QuorumFromAddress        string `mapstructure:"QUORUM_FROM_ADDRESS"`
	QuorumOperatorPrivateFor string `mapstructure:"QUORUM_OPERATOR_PRIVATE_FOR"`

	InboxDir          string `mapstructure:"INBOX_DIR"`
	ArchiveDir        string `mapstructure:"ARCHIVE_DIR"`
	InboxScanSchedule string `mapstructure:"INBOX_SCAN_SCHEDULE"`
}

var keys = []string{
	"DATABASE_URL",
	"HTTP_ADDR",
	"CORS_ALLOWED_ORIGINS",
	"LOG_LEVEL",
	"MATCH_WORKERS",
	"PROGRESS_EVERY",
	"QUORUM_RPC_URL",
	"QUORUM_RPC_USER",
	"QUORUM_RPC_PASSWORD",
	"QUORUM_FROM_ADDRESS",
	"QUORUM_OPERATOR_PRIVATE_FOR",
	"INBOX_DIR",
	"ARCHIVE_DIR",
	"INBOX_SCAN_SCHEDULE",
}

// LoadConfig reads configuration from environment variables. The .env file,
// if any, must be loaded before.
func LoadConfig() (*Config, error) {
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MATCH_WORKERS", 4)
	viper.SetDefault("PROGRESS_EVERY", 100)
	viper.SetDefault("INBOX_SCAN_SCHEDULE", "*/5 * * * *") // every 5 minutes
	viper.AutomaticEnv()

	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.QuorumRPCURL != "" && cfg.QuorumFromAddress == "" {
		return nil, fmt.Errorf("QUORUM_FROM_ADDRESS is required when QUORUM_RPC_URL is set")
	}
	if cfg.InboxDir != "" && cfg.ArchiveDir == "" {
		return nil, fmt.Errorf("ARCHIVE_DIR is required when INBOX_DIR is set")
	}
	if cfg.MatchWorkers < 0 {
		return nil, fmt.Errorf("MATCH_WORKERS must not be negative, got %d", cfg.MatchWorkers)
	}
	return &cfg, nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) Payout() payout.Config {
	return payout.Config{
		URL:                c.QuorumRPCURL,
		User:               c.QuorumRPCUser,
		Password:           c.QuorumRPCPassword,
		From:               c.QuorumFromAddress,
		OperatorPrivateFor: c.QuorumOperatorPrivateFor,
	}
}

// NewLogger returns a production logger, or a development one for
// LOG_LEVEL=debug.
func NewLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

// InitDB opens the database and migrates the schema.
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Invoice{},
		&models.BankTransaction{},
		&models.ReconciliationBatch{},
		&models.MatchAuditLog{},
		&models.Title{},
		&models.QuorumNode{},
		&models.Meta{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}
