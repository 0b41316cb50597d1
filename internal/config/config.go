// Package config loads service configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Travel struct {
		Endpoint   string  `yaml:"endpoint"` // OSRM-style routing API base URL; empty = straight-line
		SpeedKph   float64 `yaml:"speedKph"` // straight-line and fallback estimate speed
		TimeoutSec int     `yaml:"timeoutSec"`
		RateRPS    float64 `yaml:"rateRps"`
		RateBurst  int     `yaml:"rateBurst"`
	} `yaml:"travel"`

	Optimizer struct {
		MaxStops         int `yaml:"maxStops"`
		TwoOptIterations int `yaml:"twoOptIterations"`
	} `yaml:"optimizer"`

	Cache struct {
		RetentionHours int `yaml:"retentionHours"`
	} `yaml:"cache"`

	Workday struct {
		Start string `yaml:"start"` // "08:00"
		End   string `yaml:"end"`   // "17:00"
	} `yaml:"workday"`
}

// Load reads path (if non-empty and present), then applies env
// overrides and defaults. A missing file is not an error when path
// came from the default location.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TRAVEL_ENDPOINT"); v != "" {
		cfg.Travel.Endpoint = v
	}
	if v := os.Getenv("TRAVEL_SPEED_KPH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Travel.SpeedKph = f
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Travel.SpeedKph <= 0 {
		c.Travel.SpeedKph = 40
	}
	if c.Travel.TimeoutSec <= 0 {
		c.Travel.TimeoutSec = 3
	}
	if c.Travel.RateRPS <= 0 {
		c.Travel.RateRPS = 5
	}
	if c.Travel.RateBurst <= 0 {
		c.Travel.RateBurst = 10
	}
	if c.Optimizer.MaxStops <= 0 {
		c.Optimizer.MaxStops = 30
	}
	if c.Optimizer.TwoOptIterations <= 0 {
		c.Optimizer.TwoOptIterations = 25
	}
	if c.Cache.RetentionHours <= 0 {
		c.Cache.RetentionHours = 48
	}
	if c.Workday.Start == "" {
		c.Workday.Start = "08:00"
	}
	if c.Workday.End == "" {
		c.Workday.End = "17:00"
	}
}

// TravelTimeout returns the provider call timeout as a duration.
func (c *Config) TravelTimeout() time.Duration {
	return time.Duration(c.Travel.TimeoutSec) * time.Second
}

// CacheRetention returns the route cache retention window.
func (c *Config) CacheRetention() time.Duration {
	return time.Duration(c.Cache.RetentionHours) * time.Hour
}
