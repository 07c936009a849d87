package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)

	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "water-purifier-robot-01", cfg.Device.TargetID)
	assert.Equal(t, "lakebot-cmdhandler", cfg.Device.ClientID)
	assert.Equal(t, uint16(60), cfg.Device.KeepAlive)
	assert.Equal(t, 10*time.Second, cfg.Device.SessionTimeout)
	assert.Equal(t, "robot-battery-alert-queue", cfg.Queue.Name)
	assert.Equal(t, "battery-alert", cfg.Queue.Group)
	assert.Equal(t, "", cfg.Queue.DeadLetterTopic)
	assert.Equal(t, "smtp.sendgrid.net", cfg.Email.Host)
	assert.Equal(t, 587, cfg.Email.Port)
	assert.Equal(t, "apikey", cfg.Email.Username)
}

func TestLoadEnvironment(t *testing.T) {
	// arrange
	t.Setenv("LAKEBOT_DEVICE_BROKER_URL", "mqtts://registry.example.com:8883")
	t.Setenv("LAKEBOT_DEVICE_PASSWORD", "s3cret")
	t.Setenv("LAKEBOT_DEVICE_SESSION_TIMEOUT", "3s")
	t.Setenv("LAKEBOT_QUEUE_KEEP_ALIVE", "30")
	t.Setenv("LAKEBOT_QUEUE_DEAD_LETTER_TOPIC", "robot-battery-alert-queue/deadletter")
	t.Setenv("LAKEBOT_EMAIL_API_KEY", "SG.key")

	// act
	cfg, err := Load(nil)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "mqtts://registry.example.com:8883", cfg.Device.ServerURL)
	assert.Equal(t, "s3cret", cfg.Device.Password)
	assert.Equal(t, 3*time.Second, cfg.Device.SessionTimeout)
	assert.Equal(t, uint16(30), cfg.Queue.KeepAlive)
	assert.Equal(t, "robot-battery-alert-queue/deadletter", cfg.Queue.DeadLetterTopic)
	assert.Equal(t, "SG.key", cfg.Email.APIKey)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	// arrange
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
log_level: debug
device:
  broker_url: mqtt://file-broker:1883
  target_id: robot-from-file
queue:
  broker_url: mqtt://file-queue:1883
email:
  sender: lake@example.com
  recipient: ops@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("LAKEBOT_DEVICE_TARGET_ID", "robot-from-env")
	t.Setenv("LAKEBOT_QUEUE_BROKER_URL", "mqtt://env-queue:1883")

	// act
	cfg, err := Load([]string{"--config", path, "--queue-broker", "mqtt://flag-queue:1883"})

	// assert
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "file overrides default")
	assert.Equal(t, "mqtt://file-broker:1883", cfg.Device.ServerURL)
	assert.Equal(t, "robot-from-env", cfg.Device.TargetID, "env overrides file")
	assert.Equal(t, "mqtt://flag-queue:1883", cfg.Queue.ServerURL, "flag overrides env")
	assert.Equal(t, "lake@example.com", cfg.Email.Sender)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})

	assert.Error(t, err)
}

func TestLoadUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--no-such-flag"})

	assert.Error(t, err)
}

func TestValidateDispatcher(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.ErrorContains(t, cfg.ValidateDispatcher(), "device.broker_url is required")

	cfg.Device.ServerURL = "mqtt://localhost:1883"
	assert.NoError(t, cfg.ValidateDispatcher())

	cfg.Device.SessionTimeout = 0
	assert.ErrorContains(t, cfg.ValidateDispatcher(), "session_timeout")
}

func TestValidateNotifier(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	err = cfg.ValidateNotifier()
	assert.ErrorContains(t, err, "queue.broker_url is required")
	assert.ErrorContains(t, err, "api key")

	cfg.Queue.ServerURL = "mqtt://localhost:1883"
	cfg.Email.APIKey = "SG.key"
	cfg.Email.Sender = "lake@example.com"
	cfg.Email.Recipient = "ops@example.com"
	assert.NoError(t, cfg.ValidateNotifier())
}

func TestValidateRobot(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Robot.ReportInterval)
	assert.Equal(t, 20, cfg.Robot.LowBattery)

	err = cfg.ValidateRobot()
	assert.ErrorContains(t, err, "device.broker_url is required")
	assert.ErrorContains(t, err, "queue.broker_url is required")

	cfg.Device.ServerURL = "mqtt://localhost:1883"
	cfg.Queue.ServerURL = "mqtt://localhost:1883"
	assert.NoError(t, cfg.ValidateRobot())

	cfg.Robot.LowBattery = 120
	assert.ErrorContains(t, cfg.ValidateRobot(), "robot.low_battery")
}

func TestSetupLogging(t *testing.T) {
	cfg := &Config{LogLevel: "warn", LogFormat: "json"}
	var buf bytes.Buffer
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logger, err := cfg.SetupLogging(&buf)
	require.NoError(t, err)
	logger.Info().Msg("hidden")
	logger.Warn().Str("device_id", "r1").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"device_id":"r1"`)
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestSetupLoggingInvalid(t *testing.T) {
	_, err := (&Config{LogLevel: "loud"}).SetupLogging(nil)
	assert.Error(t, err)

	_, err = (&Config{LogLevel: "info", LogFormat: "xml"}).SetupLogging(nil)
	assert.Error(t, err)
}
