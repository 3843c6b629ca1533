// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"github.com/relabs-tech/safety_tracker/internal/acquisition"
	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/hazard"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "safetrack.env"

// EnvPrefix prefixes environment overrides, e.g. SAFETRACK_MQTT_BROKER.
const EnvPrefix = "SAFETRACK"

// Config holds all application configuration values. Keys in the file are
// the upper-case forms of the mapstructure tags.
type Config struct {
	// MQTT
	MQTTBroker          string `mapstructure:"mqtt_broker" validate:"required"`
	MQTTClientIDTracker string `mapstructure:"mqtt_client_id_tracker" validate:"required"`
	MQTTClientIDConsole string `mapstructure:"mqtt_client_id_console" validate:"required"`
	MQTTClientIDWeb     string `mapstructure:"mqtt_client_id_web" validate:"required"`

	// Topics
	TopicPosition  string `mapstructure:"topic_position" validate:"required"`
	TopicRanking   string `mapstructure:"topic_ranking" validate:"required"`
	TopicAdvisory  string `mapstructure:"topic_advisory" validate:"required"`
	TopicPrecision string `mapstructure:"topic_precision" validate:"required"`
	TopicHazards   string `mapstructure:"topic_hazards" validate:"required"`

	// GPS. GPS_SERIAL_PORT=mock selects the simulated sensor.
	GPSSerialPort string  `mapstructure:"gps_serial_port" validate:"required"`
	GPSBaudRate   int     `mapstructure:"gps_baud_rate" validate:"gt=0"`
	GPSUEREMeters float64 `mapstructure:"gps_uere_meters" validate:"gt=0"`
	HighPrecision bool    `mapstructure:"high_precision"`

	// Filter
	AccuracyThresholdMeters float64 `mapstructure:"accuracy_threshold_meters" validate:"gt=0"`
	MinFixIntervalMS        int     `mapstructure:"min_fix_interval_ms" validate:"gt=0"`

	// Acquisition timing, milliseconds. Only the max ages may be zero.
	BackoffBaseMS         int `mapstructure:"backoff_base_ms" validate:"gt=0"`
	BackoffMaxMS          int `mapstructure:"backoff_max_ms" validate:"gtefield=BackoffBaseMS"`
	MaxRetries            int `mapstructure:"max_retries" validate:"gt=0"`
	HighAccuracyTimeoutMS int `mapstructure:"high_accuracy_timeout_ms" validate:"gt=0"`
	HighAccuracyMaxAgeMS  int `mapstructure:"high_accuracy_max_age_ms" validate:"gte=0"`
	StandardTimeoutMS     int `mapstructure:"standard_timeout_ms" validate:"gt=0"`
	StandardMaxAgeMS      int `mapstructure:"standard_max_age_ms" validate:"gte=0"`
	NoFixTimeoutMS        int `mapstructure:"no_fix_timeout_ms" validate:"ne=0"` // negative disables

	// Ranking
	NearbyRadiusMeters    float64 `mapstructure:"nearby_radius_meters" validate:"gt=0"`
	NearbyMaxResults      int     `mapstructure:"nearby_max_results" validate:"gt=0"`
	ProximityRadiusMeters float64 `mapstructure:"proximity_radius_meters" validate:"gtefield=NearbyRadiusMeters"`
	ProximityMaxResults   int     `mapstructure:"proximity_max_results" validate:"gt=0"`

	HazardFile string `mapstructure:"hazard_file"`
	Timezone   string `mapstructure:"timezone"`

	// Web Server
	WebServerPort int `mapstructure:"web_server_port" validate:"gt=0,lte=65535"`
	MetricsPort   int `mapstructure:"metrics_port" validate:"gte=0,lte=65535"` // 0 disables

	// Redis. Empty address disables the last-fix store.
	RedisAddr         string `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisDB           int    `mapstructure:"redis_db" validate:"gte=0"`
	LastFixTTLSeconds int    `mapstructure:"last_fix_ttl_seconds" validate:"gte=0"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`
}

var defaults = map[string]interface{}{
	"mqtt_broker":            "tcp://localhost:1883",
	"mqtt_client_id_tracker": "safetrack-tracker",
	"mqtt_client_id_console": "safetrack-console",
	"mqtt_client_id_web":     "safetrack-web",

	"topic_position":  "safetrack/position",
	"topic_ranking":   "safetrack/ranking",
	"topic_advisory":  "safetrack/advisory",
	"topic_precision": "safetrack/precision",
	"topic_hazards":   "safetrack/hazards",

	"gps_serial_port": "/dev/serial0",
	"gps_baud_rate":   9600,
	"gps_uere_meters": gps.DefaultUERE,
	"high_precision":  true,

	"accuracy_threshold_meters": gps.DefaultAccuracyThreshold,
	"min_fix_interval_ms":       1000,

	"backoff_base_ms":          1000,
	"backoff_max_ms":           10000,
	"max_retries":              3,
	"high_accuracy_timeout_ms": 15000,
	"high_accuracy_max_age_ms": 10000,
	"standard_timeout_ms":      30000,
	"standard_max_age_ms":      60000,
	"no_fix_timeout_ms":        30000,

	"nearby_radius_meters":    1000.0,
	"nearby_max_results":      3,
	"proximity_radius_meters": 10000.0,
	"proximity_max_results":   5,

	"hazard_file": "",
	"timezone":    "",

	"web_server_port": 8080,
	"metrics_port":    9100,

	"redis_addr":           "",
	"redis_db":             0,
	"last_fix_ttl_seconds": 3600,

	"log_level":  "info",
	"log_format": "json",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Package-level singleton: InitGlobal sets it once, Get reads it.
var (
	globalConfig *Config
	globalErr    error
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the KEY=VALUE configuration file at configPath, applies
// SAFETRACK_* environment overrides and validates the result. An empty path
// looks for safetrack.env in the working directory and falls back to the
// defaults if there is none; an explicit path must exist.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(DefaultFile)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		missing := errors.Is(err, fs.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			missing = true
		}
		if !missing || configPath != "" {
			return nil, eris.Wrapf(err, "config: read %s", v.ConfigFileUsed())
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, eris.Wrap(err, "config: decode")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, eris.Wrap(err, "config: invalid")
	}
	return cfg, nil
}

// Simulated reports whether the mock sensor is selected.
func (c *Config) Simulated() bool {
	return c.GPSSerialPort == "mock"
}

// FilterConfig returns the fix filter settings.
func (c *Config) FilterConfig() gps.FilterConfig {
	return gps.FilterConfig{
		AccuracyThreshold: c.AccuracyThresholdMeters,
		MinInterval:       ms(c.MinFixIntervalMS),
	}
}

// AcquisitionPolicy returns the controller timings.
func (c *Config) AcquisitionPolicy() acquisition.Policy {
	return acquisition.Policy{
		HighAccuracy: gps.Options{
			EnableHighAccuracy: true,
			Timeout:            ms(c.HighAccuracyTimeoutMS),
			MaxAge:             ms(c.HighAccuracyMaxAgeMS),
		},
		Standard: gps.Options{
			Timeout: ms(c.StandardTimeoutMS),
			MaxAge:  ms(c.StandardMaxAgeMS),
		},
		BackoffBase:  ms(c.BackoffBaseMS),
		BackoffMax:   ms(c.BackoffMaxMS),
		MaxRetries:   c.MaxRetries,
		NoFixTimeout: ms(c.NoFixTimeoutMS),
	}
}

// RankingPolicy returns the ranker limits. Unset fields keep the ranker
// defaults.
func (c *Config) RankingPolicy() hazard.Policy {
	return hazard.Policy{
		NearbyRadius:        c.NearbyRadiusMeters,
		NearbyMaxResults:    c.NearbyMaxResults,
		ProximityRadius:     c.ProximityRadiusMeters,
		ProximityMaxResults: c.ProximityMaxResults,
	}
}

// LastFixTTL is how long the recorded fix lives in Redis.
func (c *Config) LastFixTTL() time.Duration {
	return time.Duration(c.LastFixTTLSeconds) * time.Second
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// InitGlobal initializes the global configuration. Only the first call
// loads; later calls return the first call's error.
func InitGlobal(configPath string) error {
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, globalErr = Load(configPath)
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalErr
}

// Get returns the global configuration instance, or nil before a successful
// InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
