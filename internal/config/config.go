// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Transport   TransportConfig   `mapstructure:"transport"`
	Poll        PollConfig        `mapstructure:"poll"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Export      ExportConfig      `mapstructure:"export"`
	Log         LogConfig         `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// TransportConfig selects and parameterizes the device channel
type TransportConfig struct {
	Type   string       `mapstructure:"type"`   // "serial" or "usb"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "serial"
	USB    USBConfig    `mapstructure:"usb"`    // Used if Type is "usb"
}

// SerialConfig defines native serial port settings
type SerialConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"` // N, E, O
	StopBits int    `mapstructure:"stop_bits"`
}

// USBConfig defines USB bulk-endpoint settings. Line parameters are
// pushed to the device over the control interface when NegotiateLine
// is set (CDC SET_LINE_CODING).
type USBConfig struct {
	VendorID  uint16 `mapstructure:"vendor_id"`
	ProductID uint16 `mapstructure:"product_id"`

	Configuration    int `mapstructure:"configuration"`
	Interface        int `mapstructure:"interface"`
	AltSetting       int `mapstructure:"alt_setting"`
	EndpointIn       int `mapstructure:"endpoint_in"`
	EndpointOut      int `mapstructure:"endpoint_out"`
	ControlInterface int `mapstructure:"control_interface"`

	NegotiateLine bool         `mapstructure:"negotiate_line"`
	Line          SerialConfig `mapstructure:"line"`
}

// PollConfig defines the acquisition schedule
type PollConfig struct {
	Period       time.Duration `mapstructure:"period"`        // Poll period
	Timeout      time.Duration `mapstructure:"timeout"`       // Per-exchange response timeout
	SlaveID      int           `mapstructure:"slave_id"`      // Modbus slave address
	StartAddress int           `mapstructure:"start_address"` // First input register
	Channels     int           `mapstructure:"channels"`      // Analog input channel count
}

// CalibrationConfig locates the persisted calibration set
type CalibrationConfig struct {
	File string `mapstructure:"file"` // JSON calibration file, optional
}

// ExportConfig defines durable export targets
type ExportConfig struct {
	File string `mapstructure:"file"` // TSV log file; empty disables recording at startup
	Live string `mapstructure:"live"` // mmap live sample file; empty disables
}

// LoadConfig loads configuration from file
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusdl/")
		v.AddConfigPath("$HOME/.modbusdl")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("transport.type", "serial")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to found config file: %w", err)
		}

		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	fixupSerial(&config.Transport.Serial)
	fixupSerial(&config.Transport.USB.Line)
	fixupPoll(&config.Poll)

	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.BaudRate == 0 {
		s.BaudRate = 38400
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
}

func fixupPoll(p *PollConfig) {
	if p.Period == 0 {
		p.Period = 200 * time.Millisecond
	}
	if p.Timeout == 0 {
		p.Timeout = 1000 * time.Millisecond
	}
	if p.SlaveID == 0 {
		p.SlaveID = 1
	}
	if p.Channels == 0 {
		p.Channels = 16
	}
}
