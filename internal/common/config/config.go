// Package config provides configuration management for Mission Control.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Mission Control.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus (unified/local mode).
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	QueueGroup    string `mapstructure:"queueGroup"`
	ServiceQueue  string `mapstructure:"serviceQueue"` // subject this service consumes
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AuthConfig holds service identity and token verification configuration.
type AuthConfig struct {
	ClientID      string `mapstructure:"clientId"`      // service id used to obtain a token
	ClientSecret  string `mapstructure:"clientSecret"`  // shared secret for the security service
	PublicKeyPath string `mapstructure:"publicKeyPath"` // optional PEM file for local verification
}

// CollaboratorsConfig holds the base URLs of every external collaborator.
type CollaboratorsConfig struct {
	TrafficManagerURL      string `mapstructure:"trafficManagerUrl"`
	LibrarianURL           string `mapstructure:"librarianUrl"`
	BrainURL               string `mapstructure:"brainUrl"`
	EngineerURL            string `mapstructure:"engineerUrl"`
	CapabilitiesManagerURL string `mapstructure:"capabilitiesManagerUrl"`
	PostOfficeURL          string `mapstructure:"postOfficeUrl"`
	SecurityManagerURL     string `mapstructure:"securityManagerUrl"`
	RequestTimeout         int    `mapstructure:"requestTimeout"` // per-call timeout in seconds
}

// TelemetryConfig holds the aggregation loop configuration.
type TelemetryConfig struct {
	Interval int `mapstructure:"interval"` // tick interval in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// RequestTimeoutDuration returns the collaborator call timeout as a time.Duration.
func (c *CollaboratorsConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// IntervalDuration returns the telemetry tick interval as a time.Duration.
func (t *TelemetryConfig) IntervalDuration() time.Duration {
	return time.Duration(t.Interval) * time.Second
}

// detectDefaultLogFormat returns "json" in Kubernetes or other production
// environments and "text" for terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("MISSIONCTL_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5030)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "missioncontrol")
	v.SetDefault("nats.queueGroup", "missioncontrol")
	v.SetDefault("nats.serviceQueue", "MissionControl")
	v.SetDefault("nats.maxReconnects", 10)

	// Auth defaults
	v.SetDefault("auth.clientId", "MissionControl")
	v.SetDefault("auth.clientSecret", "")
	v.SetDefault("auth.publicKeyPath", "")

	// Collaborator defaults (local development ports)
	v.SetDefault("collaborators.trafficManagerUrl", "http://localhost:5080")
	v.SetDefault("collaborators.librarianUrl", "http://localhost:5040")
	v.SetDefault("collaborators.brainUrl", "http://localhost:5070")
	v.SetDefault("collaborators.engineerUrl", "http://localhost:5050")
	v.SetDefault("collaborators.capabilitiesManagerUrl", "http://localhost:5060")
	v.SetDefault("collaborators.postOfficeUrl", "http://localhost:5020")
	v.SetDefault("collaborators.securityManagerUrl", "http://localhost:5010")
	v.SetDefault("collaborators.requestTimeout", 15)

	// Telemetry defaults
	v.SetDefault("telemetry.interval", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix MISSIONCTL_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/missionctl/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MISSIONCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so keys whose env var naming differs are bound explicitly.
	_ = v.BindEnv("auth.clientSecret", "CLIENT_SECRET", "MISSIONCTL_AUTH_CLIENT_SECRET")
	_ = v.BindEnv("auth.publicKeyPath", "MISSIONCTL_AUTH_PUBLIC_KEY_PATH")
	_ = v.BindEnv("collaborators.trafficManagerUrl", "TRAFFICMANAGER_URL", "MISSIONCTL_COLLABORATORS_TRAFFIC_MANAGER_URL")
	_ = v.BindEnv("collaborators.librarianUrl", "LIBRARIAN_URL", "MISSIONCTL_COLLABORATORS_LIBRARIAN_URL")
	_ = v.BindEnv("collaborators.brainUrl", "BRAIN_URL", "MISSIONCTL_COLLABORATORS_BRAIN_URL")
	_ = v.BindEnv("collaborators.engineerUrl", "ENGINEER_URL", "MISSIONCTL_COLLABORATORS_ENGINEER_URL")
	_ = v.BindEnv("collaborators.capabilitiesManagerUrl", "CAPABILITIESMANAGER_URL", "MISSIONCTL_COLLABORATORS_CAPABILITIES_MANAGER_URL")
	_ = v.BindEnv("collaborators.postOfficeUrl", "POSTOFFICE_URL", "MISSIONCTL_COLLABORATORS_POST_OFFICE_URL")
	_ = v.BindEnv("collaborators.securityManagerUrl", "SECURITYMANAGER_URL", "MISSIONCTL_COLLABORATORS_SECURITY_MANAGER_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/missionctl/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Telemetry.Interval <= 0 {
		errs = append(errs, "telemetry.interval must be positive")
	}
	if cfg.Collaborators.RequestTimeout <= 0 {
		errs = append(errs, "collaborators.requestTimeout must be positive")
	}
	if cfg.NATS.ServiceQueue == "" {
		errs = append(errs, "nats.serviceQueue is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
