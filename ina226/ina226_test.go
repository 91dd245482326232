package ina226

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestInit(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddress, W: []byte{regManufacturer}, R: []byte{0x54, 0x49}},
			{Addr: DefaultAddress, W: []byte{regDieID}, R: []byte{0x22, 0x60}},
			{Addr: DefaultAddress, W: []byte{regConfiguration, 0x80, 0x00}, R: nil},
			{Addr: DefaultAddress, W: []byte{regConfiguration, 0x41, 0x27}, R: nil},
		},
	}
	d := New(bus, DefaultAddress)
	assert.NoError(t, d.Init())
}

func TestInitWrongChip(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddress, W: []byte{regManufacturer}, R: []byte{0x12, 0x34}},
		},
		DontPanic: true,
	}
	d := New(bus, DefaultAddress)
	assert.Error(t, d.Init())
}

func TestCalibrationAndReadings(t *testing.T) {
	// 4 A max over a 20 mOhm shunt: current LSB = 4/32768 A, CAL = 2097.
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddress, W: []byte{regCalibration, 0x08, 0x31}, R: nil},
			{Addr: DefaultAddress, W: []byte{regBusVoltage}, R: []byte{0x27, 0x10}},
			{Addr: DefaultAddress, W: []byte{regShuntVoltage}, R: []byte{0x07, 0xD0}},
			{Addr: DefaultAddress, W: []byte{regCurrent}, R: []byte{0x03, 0xE8}},
			{Addr: DefaultAddress, W: []byte{regPower}, R: []byte{0x00, 0x64}},
		},
	}
	d := New(bus, DefaultAddress)
	require.NoError(t, d.SetCalibration(4.0, 0.02))

	v, err := d.BusVoltage()
	require.NoError(t, err)
	assert.InDelta(t, 12.5, v, 1e-9) // 10000 * 1.25 mV

	mv, err := d.ShuntVoltageMV()
	require.NoError(t, err)
	assert.InDelta(t, 5.0, mv, 1e-9) // 2000 * 2.5 uV

	ma, err := d.CurrentMA()
	require.NoError(t, err)
	assert.InDelta(t, 122.0703125, ma, 1e-6) // 1000 * current LSB

	mw, err := d.PowerMW()
	require.NoError(t, err)
	assert.InDelta(t, 305.17578125, mw, 1e-6) // 100 * 25 * current LSB
}

func TestNegativeCurrent(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddress, W: []byte{regCalibration, 0x08, 0x31}, R: nil},
			{Addr: DefaultAddress, W: []byte{regCurrent}, R: []byte{0xFC, 0x18}}, // -1000
		},
	}
	d := New(bus, DefaultAddress)
	require.NoError(t, d.SetCalibration(4.0, 0.02))

	ma, err := d.CurrentMA()
	require.NoError(t, err)
	assert.InDelta(t, -122.0703125, ma, 1e-6)
}

func TestSetAveraging(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddress, W: []byte{regConfiguration}, R: []byte{0x41, 0x27}},
			{Addr: DefaultAddress, W: []byte{regConfiguration, 0x45, 0x27}, R: nil},
		},
	}
	d := New(bus, DefaultAddress)
	assert.NoError(t, d.SetAveraging(Avg16))

	assert.Error(t, d.SetAveraging(AveragingMode(8)))
}

func TestCalibrationRejectsBadValues(t *testing.T) {
	d := New(&i2ctest.Playback{DontPanic: true}, DefaultAddress)

	assert.Error(t, d.SetCalibration(0, 0.02))
	assert.Error(t, d.SetCalibration(4, 0))
	// 10 uOhm shunt with 1 A max overflows the 16 bit calibration register.
	assert.Error(t, d.SetCalibration(1.0, 0.00001))
}
