/*
battmon - INA226 battery state-of-charge monitor
Copyright (C) 2025, Edgevolt

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/edgevolt/battmon/ina226"
	"github.com/edgevolt/battmon/monitor"
)

const defaultConfigDir = "/etc/battmon"

// appConfig is everything from battmon.yaml: the monitor configuration plus
// the daemon's own wiring (bus names, update rate, outputs).
type appConfig struct {
	I2CBus     string
	I2CAddress uint16

	StateDir       string
	UpdateInterval time.Duration

	SerialPort string
	SerialBaud int

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	DBusEnabled bool

	Monitor monitor.Config
}

// socTableEntry is the YAML shape of one OCV curve breakpoint.
type socTableEntry struct {
	Voltage float64 `mapstructure:"voltage"`
	Percent float64 `mapstructure:"percent"`
}

func loadConfig(dir string) (*appConfig, error) {
	mdef := monitor.DefaultConfig()

	v := viper.New()
	v.SetConfigName("battmon")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")

	v.SetDefault("i2c.bus", "")
	v.SetDefault("i2c.address", ina226.DefaultAddress)
	v.SetDefault("state-dir", "/var/lib/battmon")
	v.SetDefault("update-interval-ms", 1000)
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "battmon/sample")
	v.SetDefault("mqtt.client-id", "battmon")
	v.SetDefault("dbus.enabled", true)

	v.SetDefault("battery.capacity-mah", mdef.CapacityMAh)
	v.SetDefault("battery.shunt-ohm", mdef.ShuntOhms)
	v.SetDefault("battery.max-current-amps", mdef.MaxCurrentA)
	v.SetDefault("battery.current-polarity", mdef.CurrentPolarity)
	v.SetDefault("battery.current-deadzone-ma", mdef.CurrentDeadzoneMA)
	v.SetDefault("battery.averaging", int(mdef.AveragingMode))
	v.SetDefault("storage.namespace", mdef.StorageNamespace)
	v.SetDefault("storage.key", mdef.StorageKey)
	v.SetDefault("storage.save-interval-ms", int(mdef.SaveIntervalMs))
	v.SetDefault("storage.min-save-delta-mah", mdef.MinSaveDeltaMAh)
	v.SetDefault("startup.samples", mdef.StartupSamples)
	v.SetDefault("startup.sample-delay-ms", int(mdef.StartupSampleDelay/time.Millisecond))
	v.SetDefault("full-charge.voltage-v", mdef.FullChargeVoltageV)
	v.SetDefault("full-charge.current-ma", mdef.FullChargeCurrentMA)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	mcfg := monitor.Config{
		CapacityMAh:         v.GetFloat64("battery.capacity-mah"),
		ShuntOhms:           v.GetFloat64("battery.shunt-ohm"),
		MaxCurrentA:         v.GetFloat64("battery.max-current-amps"),
		CurrentPolarity:     v.GetInt("battery.current-polarity"),
		CurrentDeadzoneMA:   v.GetFloat64("battery.current-deadzone-ma"),
		AveragingMode:       uint16(v.GetInt("battery.averaging")),
		StorageNamespace:    v.GetString("storage.namespace"),
		StorageKey:          v.GetString("storage.key"),
		SaveIntervalMs:      uint32(v.GetInt64("storage.save-interval-ms")),
		MinSaveDeltaMAh:     v.GetFloat64("storage.min-save-delta-mah"),
		StartupSamples:      v.GetInt("startup.samples"),
		StartupSampleDelay:  time.Duration(v.GetInt("startup.sample-delay-ms")) * time.Millisecond,
		FullChargeVoltageV:  v.GetFloat64("full-charge.voltage-v"),
		FullChargeCurrentMA: v.GetFloat64("full-charge.current-ma"),
	}

	if v.IsSet("battery.soc-table") {
		var entries []socTableEntry
		if err := v.UnmarshalKey("battery.soc-table", &entries); err != nil {
			return nil, fmt.Errorf("invalid soc table: %w", err)
		}
		for _, e := range entries {
			mcfg.SocTable = append(mcfg.SocTable, monitor.SocPoint{VoltageV: e.Voltage, Percent: e.Percent})
		}
	}

	if err := mcfg.Validate(); err != nil {
		return nil, err
	}

	return &appConfig{
		I2CBus:         v.GetString("i2c.bus"),
		I2CAddress:     uint16(v.GetInt("i2c.address")),
		StateDir:       v.GetString("state-dir"),
		UpdateInterval: time.Duration(v.GetInt("update-interval-ms")) * time.Millisecond,
		SerialPort:     v.GetString("serial.port"),
		SerialBaud:     v.GetInt("serial.baud"),
		MQTTBroker:     v.GetString("mqtt.broker"),
		MQTTTopic:      v.GetString("mqtt.topic"),
		MQTTClientID:   v.GetString("mqtt.client-id"),
		DBusEnabled:    v.GetBool("dbus.enabled"),
		Monitor:        mcfg,
	}, nil
}
