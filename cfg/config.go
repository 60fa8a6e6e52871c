// Package cfg holds application-level configuration for the schema engine.
// The engine itself takes every dependency explicitly; this package only
// serves hosts that want file-driven wiring of the pool, logging and
// telemetry.
package cfg

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DatabaseConfiguration controls the PostgreSQL connection pool.
type DatabaseConfiguration struct {
	DSN                string `toml:"dsn"`
	PoolSize           int    `toml:"pool_size"`
	MaxIdleTimeSeconds int    `toml:"max_idle_time_seconds"`
	MaxLifetimeSeconds int    `toml:"max_lifetime_seconds"`
	StatementTimeoutMS int    `toml:"statement_timeout_ms"` // 0 = no timeout
}

// EngineConfiguration controls engine behavior.
type EngineConfiguration struct {
	// SnapshotCacheSize bounds the per-schema snapshot hash cache.
	SnapshotCacheSize int `toml:"snapshot_cache_size"`
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// TelemetryConfiguration for metrics exposure.
type TelemetryConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure.
type Configuration struct {
	Database  DatabaseConfiguration  `toml:"database"`
	Engine    EngineConfiguration    `toml:"engine"`
	Logging   LoggingConfiguration   `toml:"logging"`
	Telemetry TelemetryConfiguration `toml:"telemetry"`
}

// Default configuration
var Config = &Configuration{
	Database: DatabaseConfiguration{
		PoolSize:           4,
		MaxIdleTimeSeconds: 10,
		MaxLifetimeSeconds: 300,
		StatementTimeoutMS: 0,
	},
	Engine: EngineConfiguration{
		SnapshotCacheSize: 256,
	},
	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},
	Telemetry: TelemetryConfiguration{
		Enabled: false,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file, keeping defaults for absent keys.
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}
	return nil
}

// Validate checks configuration for errors.
func Validate() error {
	if Config.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if Config.Database.PoolSize < 1 {
		return fmt.Errorf("database pool size must be >= 1")
	}
	if Config.Database.MaxIdleTimeSeconds < 0 {
		return fmt.Errorf("database max idle time must be >= 0")
	}
	if Config.Database.MaxLifetimeSeconds < 0 {
		return fmt.Errorf("database max lifetime must be >= 0")
	}
	if Config.Database.StatementTimeoutMS < 0 {
		return fmt.Errorf("statement timeout must be >= 0")
	}
	if Config.Engine.SnapshotCacheSize < 1 {
		return fmt.Errorf("snapshot cache size must be >= 1")
	}
	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}
	if Config.Telemetry.Enabled && (Config.Telemetry.Port < 1 || Config.Telemetry.Port > 65535) {
		return fmt.Errorf("invalid telemetry port: %d", Config.Telemetry.Port)
	}
	return nil
}

// ConfigureLogging applies the logging configuration to the global logger.
func ConfigureLogging() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if Config.Logging.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if Config.Logging.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
