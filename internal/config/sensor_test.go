package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &SensorConfig{}

	if cfg.GetRadarModel() != RadarMinew {
		t.Errorf("GetRadarModel() = %q, want %q", cfg.GetRadarModel(), RadarMinew)
	}
	if cfg.GetBaudRate() != 115200 {
		t.Errorf("GetBaudRate() = %d, want 115200", cfg.GetBaudRate())
	}
	if cfg.GetHistoryCapacity() != 800 {
		t.Errorf("GetHistoryCapacity() = %d, want 800", cfg.GetHistoryCapacity())
	}
	if cfg.GetCountValidity() != 5*time.Second {
		t.Errorf("GetCountValidity() = %v, want 5s", cfg.GetCountValidity())
	}
	if cfg.GetResetCooldown() != 60*time.Second {
		t.Errorf("GetResetCooldown() = %v, want 60s", cfg.GetResetCooldown())
	}
	if cfg.GetResetSettle() != time.Second {
		t.Errorf("GetResetSettle() = %v, want 1s", cfg.GetResetSettle())
	}
	if cfg.GetTickInterval() != 100*time.Millisecond {
		t.Errorf("GetTickInterval() = %v, want 100ms", cfg.GetTickInterval())
	}
	if cfg.GetReportInterval() != 60*time.Second {
		t.Errorf("GetReportInterval() = %v, want 60s", cfg.GetReportInterval())
	}
	if cfg.GetMotionTimeout() != 10*time.Second {
		t.Errorf("GetMotionTimeout() = %v, want 10s", cfg.GetMotionTimeout())
	}
	if cfg.GetPIRPollInterval() != time.Second {
		t.Errorf("GetPIRPollInterval() = %v, want 1s", cfg.GetPIRPollInterval())
	}
	if cfg.GetRFCOMMChannel() != 0 {
		t.Errorf("GetRFCOMMChannel() = %d, want 0", cfg.GetRFCOMMChannel())
	}
	if cfg.GetDBPath() != "sensor.db" {
		t.Errorf("GetDBPath() = %q, want sensor.db", cfg.GetDBPath())
	}
}

func TestLegacyRadarDefaults(t *testing.T) {
	model := RadarMicRadar
	cfg := &SensorConfig{RadarModel: &model}

	if !cfg.IsLegacyRadar() {
		t.Error("Expected legacy radar")
	}
	if cfg.GetBaudRate() != 9600 {
		t.Errorf("GetBaudRate() = %d, want 9600", cfg.GetBaudRate())
	}
	if cfg.GetHistoryCapacity() != 256 {
		t.Errorf("GetHistoryCapacity() = %d, want 256", cfg.GetHistoryCapacity())
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeConfig(t, "sensor.json", `{
  "sensor_id": "lobby-01",
  "radar_model": "minew",
  "baud_rate": 230400,
  "report_interval": "30s",
  "rfcomm_channel": 1,
  "mqtt_broker": "mqtt://broker:1883/site"
}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetSensorID() != "lobby-01" {
		t.Errorf("GetSensorID() = %q, want lobby-01", cfg.GetSensorID())
	}
	if cfg.GetBaudRate() != 230400 {
		t.Errorf("GetBaudRate() = %d, want 230400", cfg.GetBaudRate())
	}
	if cfg.GetReportInterval() != 30*time.Second {
		t.Errorf("GetReportInterval() = %v, want 30s", cfg.GetReportInterval())
	}
	if cfg.GetRFCOMMChannel() != 1 {
		t.Errorf("GetRFCOMMChannel() = %d, want 1", cfg.GetRFCOMMChannel())
	}
	if cfg.GetMQTTBroker() != "mqtt://broker:1883/site" {
		t.Errorf("GetMQTTBroker() = %q", cfg.GetMQTTBroker())
	}
	// unset fields keep their defaults
	if cfg.GetCountValidity() != 5*time.Second {
		t.Errorf("GetCountValidity() = %v, want 5s", cfg.GetCountValidity())
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "sensor.yaml", `
radar_model: micradar
serial_port: /dev/ttyAMA0
history_capacity: 128
count_validity: 2s
pir_gpio_path: /sys/class/gpio/gpio17/value
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.IsLegacyRadar() {
		t.Error("Expected micradar")
	}
	if cfg.GetSerialPort() != "/dev/ttyAMA0" {
		t.Errorf("GetSerialPort() = %q", cfg.GetSerialPort())
	}
	if cfg.GetHistoryCapacity() != 128 {
		t.Errorf("GetHistoryCapacity() = %d, want 128", cfg.GetHistoryCapacity())
	}
	if cfg.GetCountValidity() != 2*time.Second {
		t.Errorf("GetCountValidity() = %v, want 2s", cfg.GetCountValidity())
	}
	if cfg.GetPIRGPIOPath() != "/sys/class/gpio/gpio17/value" {
		t.Errorf("GetPIRGPIOPath() = %q", cfg.GetPIRGPIOPath())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"bad extension", "sensor.toml", `x = 1`, "extension"},
		{"bad json", "sensor.json", `{`, "failed to parse"},
		{"unknown radar", "sensor.json", `{"radar_model": "lidar"}`, "radar_model"},
		{"bad duration", "sensor.yml", `reset_cooldown: soon`, "reset_cooldown"},
		{"negative duration", "sensor.json", `{"tick_interval": "-1s"}`, "tick_interval"},
		{"zero capacity", "sensor.json", `{"history_capacity": 0}`, "history_capacity"},
		{"rfcomm range", "sensor.json", `{"rfcomm_channel": 31}`, "rfcomm_channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_TooLarge(t *testing.T) {
	path := writeConfig(t, "big.json", `{"sensor_id": "`+strings.Repeat("x", maxFileSize)+`"}`)
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected too large error, got %v", err)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDeriveSensorID(t *testing.T) {
	id := DeriveSensorID()
	if id == "" || len(id) > SensorIDLength {
		t.Errorf("DeriveSensorID() = %q, want 1..%d characters", id, SensorIDLength)
	}
	if (&SensorConfig{}).GetSensorID() != id {
		t.Error("Expected unset sensor_id to derive from the host")
	}
}
