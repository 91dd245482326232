// Package ina226 is a driver for the Texas Instruments INA226 power monitor
// over I2C. It measures bus voltage and, through an external shunt resistor,
// current and power.
//
// Datasheet: https://www.ti.com/lit/gpn/ina226
package ina226

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

const (
	regConfiguration = 0x00
	regShuntVoltage  = 0x01
	regBusVoltage    = 0x02
	regPower         = 0x03
	regCurrent       = 0x04
	regCalibration   = 0x05
	regManufacturer  = 0xFE
	regDieID         = 0xFF

	manufacturerID = 0x5449 // "TI"
	dieID          = 0x2260

	configReset   = 0x8000
	configDefault = 0x4127

	busVoltageLSB   = 1.25e-3 // V
	shuntVoltageLSB = 2.5e-3  // mV

	// DefaultAddress is the INA226 slave address with A0 and A1 tied low.
	DefaultAddress = 0x40
)

// AveragingMode selects how many samples the chip averages per conversion.
type AveragingMode uint16

const (
	Avg1 AveragingMode = iota
	Avg4
	Avg16
	Avg64
	Avg128
	Avg256
	Avg512
	Avg1024
)

// Dev is a handle to an INA226 on an I2C bus. Call Init before any reading.
type Dev struct {
	dev          *i2c.Dev
	currentLSBmA float64
}

// New returns a handle to an INA226 at addr on bus. No I/O is performed.
func New(bus i2c.Bus, addr uint16) *Dev {
	return &Dev{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// Init verifies the chip identity and soft-resets it to a known state.
func (d *Dev) Init() error {
	id, err := d.readRegister(regManufacturer)
	if err != nil {
		return fmt.Errorf("reading manufacturer ID: %w", err)
	}
	if id != manufacturerID {
		return fmt.Errorf("unexpected manufacturer ID 0x%04X, want 0x%04X", id, manufacturerID)
	}
	id, err = d.readRegister(regDieID)
	if err != nil {
		return fmt.Errorf("reading die ID: %w", err)
	}
	if id != dieID {
		return fmt.Errorf("unexpected die ID 0x%04X, want 0x%04X", id, dieID)
	}
	if err := d.writeRegister(regConfiguration, configReset); err != nil {
		return fmt.Errorf("resetting: %w", err)
	}
	return d.writeRegister(regConfiguration, configDefault)
}

// SetCalibration programs the calibration register from the maximum expected
// current and the shunt resistance. Current readings are meaningless until
// this has been called.
func (d *Dev) SetCalibration(maxCurrentA, shuntOhms float64) error {
	if maxCurrentA <= 0 || shuntOhms <= 0 {
		return fmt.Errorf("invalid calibration: max current %f A, shunt %f ohm", maxCurrentA, shuntOhms)
	}
	currentLSB := maxCurrentA / 32768.0
	cal := 0.00512 / (currentLSB * shuntOhms)
	if cal > 0xFFFF {
		return fmt.Errorf("calibration value %.0f out of range, shunt too small for max current", cal)
	}
	if err := d.writeRegister(regCalibration, uint16(cal)); err != nil {
		return err
	}
	d.currentLSBmA = currentLSB * 1000.0
	return nil
}

// SetAveraging sets the number of samples averaged per conversion.
func (d *Dev) SetAveraging(mode AveragingMode) error {
	if mode > Avg1024 {
		return fmt.Errorf("invalid averaging mode %d", mode)
	}
	cfg, err := d.readRegister(regConfiguration)
	if err != nil {
		return err
	}
	cfg = (cfg &^ (0x7 << 9)) | (uint16(mode) << 9)
	return d.writeRegister(regConfiguration, cfg)
}

// BusVoltage returns the bus voltage in volts. LSB is 1.25 mV.
func (d *Dev) BusVoltage() (float64, error) {
	raw, err := d.readRegister(regBusVoltage)
	if err != nil {
		return 0, err
	}
	return float64(raw) * busVoltageLSB, nil
}

// ShuntVoltageMV returns the shunt voltage drop in millivolts. LSB is 2.5 uV.
func (d *Dev) ShuntVoltageMV() (float64, error) {
	raw, err := d.readRegister(regShuntVoltage)
	if err != nil {
		return 0, err
	}
	return float64(int16(raw)) * shuntVoltageLSB, nil
}

// CurrentMA returns the signed shunt current in milliamps.
func (d *Dev) CurrentMA() (float64, error) {
	raw, err := d.readRegister(regCurrent)
	if err != nil {
		return 0, err
	}
	return float64(int16(raw)) * d.currentLSBmA, nil
}

// PowerMW returns the power reported by the chip in milliwatts. The power
// LSB is fixed at 25 times the current LSB.
func (d *Dev) PowerMW() (float64, error) {
	raw, err := d.readRegister(regPower)
	if err != nil {
		return 0, err
	}
	return float64(raw) * d.currentLSBmA * 25.0, nil
}

func (d *Dev) readRegister(reg byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := d.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (d *Dev) writeRegister(reg byte, value uint16) error {
	return d.dev.Tx([]byte{reg, byte(value >> 8), byte(value)}, nil)
}
