// Package config loads the process configuration of both functions.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/dratasich/lakebot-functions"
	"github.com/dratasich/lakebot-functions/notifier"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix of environment overrides, e.g. LAKEBOT_DEVICE_PASSWORD.
const EnvPrefix = "LAKEBOT"

type Config struct {
	// LogLevel for the zerolog logger (e.g., "debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"log_format"`

	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`

	// Device registry the robot commands go through.
	Device DeviceConfig `mapstructure:"device"`

	// Queue the battery alerts arrive on.
	Queue QueueConfig `mapstructure:"queue"`

	Email notifier.EmailConfig `mapstructure:"email"`

	// Robot simulator, used for local end-to-end runs.
	Robot RobotConfig `mapstructure:"robot"`
}

type DeviceConfig struct {
	mqtt.Config `mapstructure:",squash"`

	// TargetID is the registered id of the water purifier robot.
	TargetID string `mapstructure:"target_id"`
	// SessionTimeout bounds connecting and publishing one command.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

type QueueConfig struct {
	mqtt.Config `mapstructure:",squash"`

	Name  string `mapstructure:"name"`
	Group string `mapstructure:"group"`
	// DeadLetterTopic receives undecodable messages; empty drops them.
	DeadLetterTopic string `mapstructure:"dead_letter_topic"`
}

type RobotConfig struct {
	ReportInterval time.Duration `mapstructure:"report_interval"`

	// LowBattery is the level in percent below which alerts are queued.
	LowBattery int `mapstructure:"low_battery"`

	// Drain in percent per report interval.
	Drain int `mapstructure:"drain"`
}

// keys without a sensible default still need one registered so that
// AutomaticEnv picks them up on Unmarshal
var defaults = map[string]any{
	"log_level":  "info",
	"log_format": "json",
	"http.addr":  ":8080",

	"device.broker_url":      "",
	"device.username":        "",
	"device.password":        "",
	"device.client_id":       "lakebot-cmdhandler",
	"device.keep_alive":      60,
	"device.target_id":       "water-purifier-robot-01",
	"device.session_timeout": 10 * time.Second,

	"queue.broker_url":        "",
	"queue.username":          "",
	"queue.password":          "",
	"queue.client_id":         "lakebot-batteryalert",
	"queue.keep_alive":        60,
	"queue.name":              "robot-battery-alert-queue",
	"queue.group":             "battery-alert",
	"queue.dead_letter_topic": "",

	"email.host":      "smtp.sendgrid.net",
	"email.port":      587,
	"email.username":  "apikey",
	"email.api_key":   "",
	"email.sender":    "",
	"email.recipient": "",
	"email.no_verify": false,

	"robot.report_interval": time.Minute,
	"robot.low_battery":     20,
	"robot.drain":           1,
}

// flag name -> config key
var flagKeys = map[string]string{
	"log-level":        "log_level",
	"http-addr":        "http.addr",
	"device-broker":    "device.broker_url",
	"target-device-id": "device.target_id",
	"queue-broker":     "queue.broker_url",
	"queue-name":       "queue.name",
}

// Load reads defaults, then the optional YAML file given by --config, then
// LAKEBOT_* environment variables, then the remaining command line flags.
func Load(args []string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	flags := pflag.NewFlagSet("lakebot", pflag.ContinueOnError)
	configFile := flags.String("config", "", "Path to a YAML config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("http-addr", ":8080", "Listen address of the HTTP function host")
	flags.String("device-broker", "", "Device registry broker URL")
	flags.String("target-device-id", "water-purifier-robot-01", "Device id of the robot")
	flags.String("queue-broker", "", "Queue broker URL")
	flags.String("queue-name", "robot-battery-alert-queue", "Name of the battery alert queue")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, err
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", *configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// ValidateDispatcher checks what the command handler needs.
func (c *Config) ValidateDispatcher() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr cannot be empty"))
	}
	if c.Device.ServerURL == "" {
		errs = append(errs, errors.New("device.broker_url is required"))
	}
	if c.Device.TargetID == "" {
		errs = append(errs, errors.New("device.target_id is required"))
	}
	if c.Device.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid device.session_timeout %s", c.Device.SessionTimeout))
	}
	return errors.Join(errs...)
}

// ValidateNotifier checks what the battery alert consumer needs.
func (c *Config) ValidateNotifier() error {
	var errs []error
	if c.Queue.ServerURL == "" {
		errs = append(errs, errors.New("queue.broker_url is required"))
	}
	if c.Queue.Name == "" {
		errs = append(errs, errors.New("queue.name is required"))
	}
	if err := c.Email.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateRobot checks what the robot simulator needs.
func (c *Config) ValidateRobot() error {
	var errs []error
	if c.Device.ServerURL == "" {
		errs = append(errs, errors.New("device.broker_url is required"))
	}
	if c.Device.TargetID == "" {
		errs = append(errs, errors.New("device.target_id is required"))
	}
	if c.Queue.ServerURL == "" {
		errs = append(errs, errors.New("queue.broker_url is required"))
	}
	if c.Queue.Name == "" {
		errs = append(errs, errors.New("queue.name is required"))
	}
	if c.Robot.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid robot.report_interval %s", c.Robot.ReportInterval))
	}
	if c.Robot.LowBattery < 0 || c.Robot.LowBattery > 100 {
		errs = append(errs, fmt.Errorf("robot.low_battery must be within 0..100, got %d", c.Robot.LowBattery))
	}
	if c.Robot.Drain <= 0 {
		errs = append(errs, fmt.Errorf("robot.drain must be positive, got %d", c.Robot.Drain))
	}
	return errors.Join(errs...)
}
