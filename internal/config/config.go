package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment" validate:"required"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	ConfigFile    string `mapstructure:"-"`

	Log struct {
		Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
		Format string `mapstructure:"format" validate:"oneof=json text"`
	} `mapstructure:"log"`

	Storage struct {
		Driver string `mapstructure:"driver" validate:"oneof=postgres memory"`
	} `mapstructure:"storage"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		MaxConns int32  `mapstructure:"max_conns" validate:"min=1"`
	} `mapstructure:"db"`

	Server struct {
		Addr         string        `mapstructure:"addr" validate:"required"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"server"`

	Auth struct {
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`

	Schedule struct {
		DefaultDuration time.Duration `mapstructure:"default_duration" validate:"gt=0"`
		Anchor          string        `mapstructure:"anchor" validate:"oneof=sink project"`
	} `mapstructure:"schedule"`

	Automation struct {
		WebhookTimeout   time.Duration `mapstructure:"webhook_timeout" validate:"gt=0"`
		AgentURL         string        `mapstructure:"agent_url"`
		NotifyWebhookURL string        `mapstructure:"notify_webhook_url"`
		NotifyFormat     string        `mapstructure:"notify_format" validate:"oneof=slack custom"`
		NotifyTemplate   string        `mapstructure:"notify_template"`
	} `mapstructure:"automation"`

	Telemetry struct {
		ServiceName string `mapstructure:"service_name" validate:"required"`
	} `mapstructure:"telemetry"`
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "dev")
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// LoadConfig loads the configuration from a file and the environment.
// An empty path searches ./config.yaml and ./config/config.yaml; a missing
// file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("ACCUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	config.ConfigFile = v.ConfigFileUsed()

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "accute")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "accute")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("schedule.default_duration", 24*time.Hour)
	v.SetDefault("schedule.anchor", "sink")
	v.SetDefault("automation.webhook_timeout", 10*time.Second)
	v.SetDefault("automation.agent_url", "")
	v.SetDefault("automation.notify_webhook_url", "")
	v.SetDefault("automation.notify_format", "slack")
	v.SetDefault("automation.notify_template", "")
	v.SetDefault("telemetry.service_name", "accute-workflow-engine")
	// registered so AutomaticEnv can override them
	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "")
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	if cfg.Automation.NotifyFormat == "custom" && cfg.Automation.NotifyWebhookURL != "" && cfg.Automation.NotifyTemplate == "" {
		return errors.New("configuration validation failed:\n  - automation.notify_template is required when notify_format is custom")
	}
	return nil
}

// normalizeOktaIssuer strips surrounding whitespace and trailing slashes so
// the issuer can be pasted straight from the Okta admin console.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
