// Package config loads governor settings from an optional YAML file and
// the environment.
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins" validate:"dive,url"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type PolicyConfig struct {
	File  string `mapstructure:"file" validate:"required"`
	Watch bool   `mapstructure:"watch"`
}

type NotifierConfig struct {
	SlackWebhookURL string        `mapstructure:"slack_webhook_url" validate:"omitempty,url"`
	DashboardURL    string        `mapstructure:"dashboard_url" validate:"omitempty,url"`
	Workers         int           `mapstructure:"workers" validate:"min=1,max=64"`
	QueueSize       int           `mapstructure:"queue_size" validate:"min=1"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path" validate:"required_if=Enabled true"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             8000,
	"server.read_timeout":     30 * time.Second,
	"server.write_timeout":    30 * time.Second,
	"server.shutdown_timeout": 10 * time.Second,
	"server.cors_origins": []string{
		"http://localhost:5173",
		"http://localhost:3000",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:3000",
	},

	"policy.file":  "policies.yaml",
	"policy.watch": true,

	"notifier.slack_webhook_url": "",
	"notifier.dashboard_url":     "http://localhost:3000",
	"notifier.workers":           2,
	"notifier.queue_size":        100,
	"notifier.timeout":           10 * time.Second,

	"audit.enabled": false,
	"audit.db_path": "./db/audit.db",

	"log.level":  "info",
	"log.pretty": true,

	"tracing.enabled": false,
}

// envAliases are the unprefixed variable names older deployments use.
var envAliases = map[string]string{
	"notifier.slack_webhook_url": "SLACK_WEBHOOK_URL",
	"policy.file":                "POLICIES_FILE",
	"server.host":                "HOST",
	"server.port":                "PORT",
}

const envPrefix = "SUDOMODE"

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
}
