package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config lists the tunable parameters for the dashboard server.
type Config struct {
	HTTPPort         int           `env:"HTTP_PORT"         envDefault:"8080"`
	MQTTBindAddress  string        `env:"MQTT_BIND"         envDefault:":1883"`
	MetricsPort      int           `env:"METRICS_PORT"      envDefault:"9090"`
	DatabasePath     string        `env:"DATABASE_PATH"     envDefault:"data/printfleet.db"`
	LogLevel         string        `env:"LOG_LEVEL"         envDefault:"info"`
	APIKey           string        `env:"API_KEY"`
	LogLimit         int           `env:"LOG_LIMIT"         envDefault:"50"`
	LineUniverse     int           `env:"LINE_UNIVERSE"     envDefault:"15"`
	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"90s"`
	LivenessSchedule string        `env:"LIVENESS_SCHEDULE" envDefault:"@every 30s"`
	MDNSEnabled      bool          `env:"MDNS_ENABLED"      envDefault:"true"`
	WriteRate        float64       `env:"WRITE_RATE"        envDefault:"10"`
	WriteBurst       int           `env:"WRITE_BURST"       envDefault:"20"`
}

// Prefix is prepended to every variable name.
const Prefix = "PRINTFLEET_"

// DotEnvFile is read, when present, before the environment is parsed. Variables already set in the
// environment win.
const DotEnvFile = ".env"

// Load derives configuration values from environment variables, falling back to defaults.
func Load() (Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("%sHTTP_PORT %d out of range", Prefix, c.HTTPPort))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("%sMETRICS_PORT %d out of range", Prefix, c.MetricsPort))
	}
	if c.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("%sDATABASE_PATH is empty", Prefix))
	}
	if c.LogLimit <= 0 {
		errs = append(errs, fmt.Errorf("%sLOG_LIMIT must be positive", Prefix))
	}
	if c.LineUniverse < 1 || c.LineUniverse > 255 {
		errs = append(errs, fmt.Errorf("%sLINE_UNIVERSE %d out of range 1..255", Prefix, c.LineUniverse))
	}
	if c.HeartbeatTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%sHEARTBEAT_TIMEOUT must be positive", Prefix))
	}
	if c.WriteRate <= 0 || c.WriteBurst <= 0 {
		errs = append(errs, fmt.Errorf("%sWRITE_RATE and %sWRITE_BURST must be positive", Prefix, Prefix))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
