// Package config provides configuration structures and defaults for biogui
package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Device    DeviceConfig    `yaml:"device" mapstructure:"device"`       // Device interface settings
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"` // Data transport settings
	Streaming StreamingConfig `yaml:"streaming" mapstructure:"streaming"` // Acquisition/recording settings
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`       // Live streaming server settings
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`     // Session catalog settings
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`     // Logging configuration
}

// DeviceConfig selects the device interface and its options
type DeviceConfig struct {
	Interface string            `yaml:"interface" mapstructure:"interface"` // Registered interface name (biogap, esp32, gapwatch, ...)
	Options   map[string]string `yaml:"options" mapstructure:"options"`     // Interface-specific options (e.g. gain)
}

// TransportConfig selects and parameterizes the byte-stream transport
type TransportConfig struct {
	Type   string       `yaml:"type" mapstructure:"type"` // Transport type: "serial", "tcp", or "ble"
	Serial SerialConfig `yaml:"serial" mapstructure:"serial"`
	TCP    TCPConfig    `yaml:"tcp" mapstructure:"tcp"`
	BLE    BLEConfig    `yaml:"ble" mapstructure:"ble"`
}

// SerialConfig contains serial transport parameters
type SerialConfig struct {
	Port     string `yaml:"port" mapstructure:"port"`           // Serial port device path
	BaudRate int    `yaml:"baud_rate" mapstructure:"baud_rate"` // Serial communication baud rate
}

// TCPConfig contains TCP transport parameters
type TCPConfig struct {
	Port int `yaml:"port" mapstructure:"port"` // Listening port the device dials in to
}

// BLEConfig contains Bluetooth Low Energy transport parameters
type BLEConfig struct {
	Address               string        `yaml:"address" mapstructure:"address"`                               // Peripheral address (preferred over name)
	Name                  string        `yaml:"name" mapstructure:"name"`                                     // Advertised local name (used if address is empty)
	Service               string        `yaml:"service" mapstructure:"service"`                               // GATT service UUID
	DataCharacteristic    string        `yaml:"data_characteristic" mapstructure:"data_characteristic"`       // Notification characteristic UUID
	ControlCharacteristic string        `yaml:"control_characteristic" mapstructure:"control_characteristic"` // Command characteristic UUID (optional)
	ScanTimeout           time.Duration `yaml:"scan_timeout" mapstructure:"scan_timeout"`                     // Device discovery timeout
}

// StreamingConfig contains acquisition and recording parameters
type StreamingConfig struct {
	Duration   time.Duration `yaml:"duration" mapstructure:"duration"`       // Acquisition duration (0 = run until interrupted)
	OutputDir  string        `yaml:"output_dir" mapstructure:"output_dir"`   // Output directory for recordings
	FilePrefix string        `yaml:"file_prefix" mapstructure:"file_prefix"` // Prefix for recording filenames
	SessionID  string        `yaml:"session_id" mapstructure:"session_id"`   // Session identifier for filenames (default: derived)
	Record     bool          `yaml:"record" mapstructure:"record"`           // Write recordings to disk
}

// ServerConfig contains live streaming server parameters
type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`         // Enable the websocket streaming server
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"` // HTTP listen address
}

// CatalogConfig contains session catalog parameters
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // bbolt database path
}

// LoggingConfig contains logging configuration parameters
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"` // Log level (debug, info, warn, error)
}

// DefaultConfig returns a configuration with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Interface: "esp32",              // Simplest single-channel interface
			Options:   map[string]string{},  // No options by default
		},
		Transport: TransportConfig{
			Type: "serial", // Most common acquisition transport
			Serial: SerialConfig{
				Port:     "/dev/ttyUSB0", // Common USB adapter path
				BaudRate: 230400,         // Typical rate for EMG front ends
			},
			TCP: TCPConfig{
				Port: 3333, // Listening port for socket devices
			},
			BLE: BLEConfig{
				ScanTimeout: 30 * time.Second, // Device discovery timeout
			},
		},
		Streaming: StreamingConfig{
			Duration:   0,        // Run until interrupted
			OutputDir:  "./data", // Current directory data folder
			FilePrefix: "biogui", // File prefix for recordings
			SessionID:  "",       // Derived from interface and start time
			Record:     true,     // Recording enabled by default
		},
		Server: ServerConfig{
			Enabled:    false,   // Live streaming off by default
			ListenAddr: ":8081", // Websocket streaming address
		},
		Catalog: CatalogConfig{
			Path: "./data/biogui.db", // Session index database
		},
		Logging: LoggingConfig{
			Level: "info", // Info level logging
		},
	}
}

// Validate checks transport-dependent parameters before a session starts
func (c *Config) Validate() error {
	if c.Device.Interface == "" {
		return fmt.Errorf("device interface not specified")
	}

	switch c.Transport.Type {
	case "serial":
		if c.Transport.Serial.Port == "" {
			return fmt.Errorf("serial port not specified for serial transport")
		}
		if c.Transport.Serial.BaudRate <= 0 {
			return fmt.Errorf("invalid baud rate: %d", c.Transport.Serial.BaudRate)
		}
	case "tcp":
		if c.Transport.TCP.Port <= 0 || c.Transport.TCP.Port > 65535 {
			return fmt.Errorf("invalid TCP port: %d", c.Transport.TCP.Port)
		}
	case "ble":
		if c.Transport.BLE.Address == "" && c.Transport.BLE.Name == "" {
			return fmt.Errorf("BLE device address or name not specified")
		}
		if c.Transport.BLE.Service == "" {
			return fmt.Errorf("BLE service UUID not specified")
		}
		if c.Transport.BLE.DataCharacteristic == "" {
			return fmt.Errorf("BLE data characteristic UUID not specified")
		}
	default:
		return fmt.Errorf("invalid transport type: %s (must be 'serial', 'tcp', or 'ble')", c.Transport.Type)
	}

	if c.Streaming.Duration < 0 {
		return fmt.Errorf("invalid duration: %v", c.Streaming.Duration)
	}
	return nil
}
