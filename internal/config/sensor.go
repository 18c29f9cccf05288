// Package config loads the sensor configuration file. Every field is
// optional; the Get* accessors supply defaults for anything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"gopkg.in/yaml.v3"
)

// Radar models.
const (
	RadarMinew    = "minew"
	RadarMicRadar = "micradar"
)

// SensorIDLength is the width of a derived sensor id.
const SensorIDLength = 12

// machineIDApp keys the protected machine id so the raw id never leaves the
// host.
const machineIDApp = "occupancy.sensor"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// SensorConfig is the root configuration. Durations are strings such as
// "500ms" or "60s".
type SensorConfig struct {
	SensorID   *string `json:"sensor_id,omitempty" yaml:"sensor_id,omitempty"`
	SerialPort *string `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	RadarModel *string `json:"radar_model,omitempty" yaml:"radar_model,omitempty"`

	// Occupancy history
	HistoryCapacity *int    `json:"history_capacity,omitempty" yaml:"history_capacity,omitempty"`
	CountValidity   *string `json:"count_validity,omitempty" yaml:"count_validity,omitempty"`

	// Radar supervisor
	ResetCooldown *string `json:"reset_cooldown,omitempty" yaml:"reset_cooldown,omitempty"`
	ResetSettle   *string `json:"reset_settle,omitempty" yaml:"reset_settle,omitempty"`
	TickInterval  *string `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`

	// Reports and PIR
	ReportInterval  *string `json:"report_interval,omitempty" yaml:"report_interval,omitempty"`
	MotionTimeout   *string `json:"motion_timeout,omitempty" yaml:"motion_timeout,omitempty"`
	PIRGPIOPath     *string `json:"pir_gpio_path,omitempty" yaml:"pir_gpio_path,omitempty"`
	PIRPollInterval *string `json:"pir_poll_interval,omitempty" yaml:"pir_poll_interval,omitempty"`

	// Command channel
	ChannelListen *string `json:"channel_listen,omitempty" yaml:"channel_listen,omitempty"`
	RFCOMMChannel *int    `json:"rfcomm_channel,omitempty" yaml:"rfcomm_channel,omitempty"`

	// Outputs
	DBPath     *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	MQTTBroker *string `json:"mqtt_broker,omitempty" yaml:"mqtt_broker,omitempty"`
	MQTTTopic  *string `json:"mqtt_topic,omitempty" yaml:"mqtt_topic,omitempty"`
}

// LoadConfig loads a SensorConfig from a .json, .yaml or .yml file.
func LoadConfig(path string) (*SensorConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SensorConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SensorConfig) Validate() error {
	if c.RadarModel != nil && *c.RadarModel != RadarMinew && *c.RadarModel != RadarMicRadar {
		return fmt.Errorf("radar_model must be %q or %q, got %q", RadarMinew, RadarMicRadar, *c.RadarModel)
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.HistoryCapacity != nil && *c.HistoryCapacity <= 0 {
		return fmt.Errorf("history_capacity must be positive, got %d", *c.HistoryCapacity)
	}
	if c.RFCOMMChannel != nil && (*c.RFCOMMChannel < 1 || *c.RFCOMMChannel > 30) {
		return fmt.Errorf("rfcomm_channel must be between 1 and 30, got %d", *c.RFCOMMChannel)
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"count_validity", c.CountValidity},
		{"reset_cooldown", c.ResetCooldown},
		{"reset_settle", c.ResetSettle},
		{"tick_interval", c.TickInterval},
		{"report_interval", c.ReportInterval},
		{"motion_timeout", c.MotionTimeout},
		{"pir_poll_interval", c.PIRPollInterval},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, v)
		}
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetSensorID returns the configured id, else one derived from the host.
func (c *SensorConfig) GetSensorID() string {
	if id := getString(c.SensorID, ""); id != "" {
		return id
	}
	return DeriveSensorID()
}

// DeriveSensorID returns the first SensorIDLength characters of the host's
// protected machine id, or "unknown" when the host has none.
func DeriveSensorID() string {
	id, err := machineid.ProtectedID(machineIDApp)
	if err != nil {
		return "unknown"
	}
	if len(id) > SensorIDLength {
		id = id[:SensorIDLength]
	}
	return id
}

// GetRadarModel returns the radar model, minew by default.
func (c *SensorConfig) GetRadarModel() string { return getString(c.RadarModel, RadarMinew) }

// IsLegacyRadar reports whether the MicRadar protocol is configured.
func (c *SensorConfig) IsLegacyRadar() bool { return c.GetRadarModel() == RadarMicRadar }

func (c *SensorConfig) GetSerialPort() string { return getString(c.SerialPort, "/dev/ttyS0") }

// GetBaudRate returns the UART speed for the configured radar model.
func (c *SensorConfig) GetBaudRate() int {
	if c.BaudRate != nil {
		return *c.BaudRate
	}
	if c.IsLegacyRadar() {
		return 9600
	}
	return 115200
}

func (c *SensorConfig) GetHistoryCapacity() int {
	if c.HistoryCapacity != nil {
		return *c.HistoryCapacity
	}
	if c.IsLegacyRadar() {
		return 256
	}
	return 800
}

func (c *SensorConfig) GetCountValidity() time.Duration {
	return getDuration(c.CountValidity, 5*time.Second)
}

func (c *SensorConfig) GetResetCooldown() time.Duration {
	return getDuration(c.ResetCooldown, 60*time.Second)
}

func (c *SensorConfig) GetResetSettle() time.Duration {
	return getDuration(c.ResetSettle, time.Second)
}

func (c *SensorConfig) GetTickInterval() time.Duration {
	return getDuration(c.TickInterval, 100*time.Millisecond)
}

func (c *SensorConfig) GetReportInterval() time.Duration {
	return getDuration(c.ReportInterval, 60*time.Second)
}

func (c *SensorConfig) GetMotionTimeout() time.Duration {
	return getDuration(c.MotionTimeout, 10*time.Second)
}

// GetPIRGPIOPath returns the sysfs value file of the PIR input; empty means
// no PIR is fitted.
func (c *SensorConfig) GetPIRGPIOPath() string { return getString(c.PIRGPIOPath, "") }

func (c *SensorConfig) GetPIRPollInterval() time.Duration {
	return getDuration(c.PIRPollInterval, time.Second)
}

func (c *SensorConfig) GetChannelListen() string { return getString(c.ChannelListen, "") }

// GetRFCOMMChannel returns the Bluetooth SPP channel; 0 disables RFCOMM.
func (c *SensorConfig) GetRFCOMMChannel() int {
	if c.RFCOMMChannel == nil {
		return 0
	}
	return *c.RFCOMMChannel
}

func (c *SensorConfig) GetDBPath() string     { return getString(c.DBPath, "sensor.db") }
func (c *SensorConfig) GetMQTTBroker() string { return getString(c.MQTTBroker, "") }
func (c *SensorConfig) GetMQTTTopic() string  { return getString(c.MQTTTopic, "") }
