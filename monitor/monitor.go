// Package monitor estimates battery state of charge from an INA226-class
// power sensor. A cold start is estimated from the open-circuit voltage,
// after which charge is tracked by coulomb counting, and the running state
// is persisted through a checksummed record so the estimate survives power
// cycles.
package monitor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/edgevolt/battmon/nvstate"
)

// Sensor is the power monitor the orchestrator reads each tick.
type Sensor interface {
	Init() error
	SetCalibration(maxCurrentA, shuntOhms float64) error
	SetAveraging(mode uint16) error
	BusVoltage() (float64, error)
	ShuntVoltageMV() (float64, error)
	CurrentMA() (float64, error)
	PowerMW() (float64, error)
}

// CommandSource supplies at most one command byte per update. Recognised
// commands are 'r'/'R' (re-estimate state from the current voltage) and
// 'c'/'C' (same, but clear the persisted state first). Other bytes are
// ignored.
type CommandSource interface {
	ReadCommand() (byte, bool)
}

// Sample is the latest published snapshot of the battery. It is overwritten
// wholesale on every update.
type Sample struct {
	BusVoltageV          float64 `json:"bus_voltage_v"`
	ShuntVoltageMV       float64 `json:"shunt_voltage_mv"`
	CurrentMA            float64 `json:"current_ma"`
	PowerMW              float64 `json:"power_mw"`
	CrossPowerMW         float64 `json:"cross_power_mw"`
	RemainingCapacityMAh float64 `json:"remaining_capacity_mah"`
	SocPercent           float64 `json:"soc_percent"`
}

// ErrNotReady is returned by Update when Begin has not succeeded yet.
var ErrNotReady = errors.New("monitor not initialised")

// Monitor owns all battery state. It is single-threaded: one caller drives
// Begin and then Update periodically; nothing here schedules itself.
type Monitor struct {
	cfg    Config
	sensor Sensor
	store  nvstate.Store
	log    func(line string)

	sample       Sample
	remainingMAh float64
	socPercent   float64

	ready        bool
	lastTimeMs   uint32
	lastSaveMs   uint32
	lastSavedMAh float64 // NaN until the first successful save
}

// New builds a monitor from a validated config. store may be nil when no
// persistence is wanted.
func New(cfg Config, sensor Sensor, store nvstate.Store) (*Monitor, error) {
	if sensor == nil {
		return nil, errors.New("nil sensor")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:          cfg,
		sensor:       sensor,
		store:        store,
		remainingMAh: cfg.CapacityMAh,
		socPercent:   100,
		lastSavedMAh: math.NaN(),
	}, nil
}

// SetLogger installs a sink for diagnostic lines. Each call receives one
// fully formatted line. A nil sink silences the monitor.
func (m *Monitor) SetLogger(fn func(line string)) {
	m.log = fn
}

// Begin initialises the sensor, estimates the starting state of charge from
// averaged startup voltage readings and, when available, overrides that
// estimate with the persisted state. A sensor failure here is fatal to the
// call; persistence failures are not.
func (m *Monitor) Begin(nowMs uint32) error {
	if err := m.sensor.Init(); err != nil {
		return fmt.Errorf("sensor init: %w", err)
	}
	if err := m.sensor.SetCalibration(m.cfg.MaxCurrentA, m.cfg.ShuntOhms); err != nil {
		return fmt.Errorf("sensor calibration: %w", err)
	}
	if err := m.sensor.SetAveraging(m.cfg.AveragingMode); err != nil {
		return fmt.Errorf("sensor averaging: %w", err)
	}

	samples := m.cfg.StartupSamples
	if samples < 1 {
		samples = 1
	}
	total := 0.0
	for i := 0; i < samples; i++ {
		v, err := m.sensor.BusVoltage()
		if err != nil {
			return fmt.Errorf("startup voltage sample: %w", err)
		}
		total += v
		if m.cfg.StartupSampleDelay > 0 && i < samples-1 {
			time.Sleep(m.cfg.StartupSampleDelay)
		}
	}
	startupVoltage := total / float64(samples)

	m.ResetStateFromVoltage(startupVoltage)

	if saved, ok := m.loadRemaining(); ok {
		m.setRemaining(saved)
		m.logf("loaded state: remaining=%.2f mAh (SoC %.3f%%)", m.remainingMAh, m.socPercent)
	} else if m.persistenceEnabled() {
		m.logf("no valid saved state, seeding from OCV estimate")
		if m.saveRemaining(m.remainingMAh) {
			m.logf("state seeded: remaining=%.2f mAh (SoC %.3f%%)", m.remainingMAh, m.socPercent)
		} else {
			m.logf("state seed failed")
		}
	}

	m.sample = Sample{
		BusVoltageV:          startupVoltage,
		ShuntVoltageMV:       math.NaN(),
		CurrentMA:            math.NaN(),
		PowerMW:              math.NaN(),
		CrossPowerMW:         math.NaN(),
		RemainingCapacityMAh: m.remainingMAh,
		SocPercent:           m.socPercent,
	}
	m.lastTimeMs = nowMs
	m.lastSaveMs = nowMs
	m.lastSavedMAh = m.remainingMAh
	m.ready = true
	return nil
}

// Update reads the sensor, handles at most one pending command, integrates
// the measured current over the elapsed time, detects full charge and saves
// the state when the throttle allows it. nowMs is a monotonic millisecond
// counter; wraparound is handled by modular subtraction.
//
// Only sensor read failures are returned. Persistence problems degrade to
// estimate-only operation with a log line.
func (m *Monitor) Update(nowMs uint32) error {
	if !m.ready {
		return ErrNotReady
	}

	busV, err := m.sensor.BusVoltage()
	if err != nil {
		return fmt.Errorf("reading bus voltage: %w", err)
	}
	shuntMV, err := m.sensor.ShuntVoltageMV()
	if err != nil {
		return fmt.Errorf("reading shunt voltage: %w", err)
	}
	rawCurrentMA, err := m.sensor.CurrentMA()
	if err != nil {
		return fmt.Errorf("reading current: %w", err)
	}
	powerMW, err := m.sensor.PowerMW()
	if err != nil {
		return fmt.Errorf("reading power: %w", err)
	}

	currentMA := float64(m.cfg.CurrentPolarity) * rawCurrentMA
	absCurrentMA := math.Abs(currentMA)
	effectiveCurrentMA := currentMA
	if absCurrentMA < m.cfg.CurrentDeadzoneMA {
		effectiveCurrentMA = 0
	}

	if m.cfg.Commands != nil {
		if cmd, ok := m.cfg.Commands.ReadCommand(); ok {
			switch cmd {
			case 'c', 'C':
				m.ClearPersistedState()
				m.ResetStateFromVoltage(busV)
				m.maybeSave(nowMs, true)
			case 'r', 'R':
				m.ResetStateFromVoltage(busV)
				m.maybeSave(nowMs, true)
			}
		}
	}

	elapsedMs := nowMs - m.lastTimeMs
	if elapsedMs > 0 {
		hours := float64(elapsedMs) / 3600000.0
		m.setRemaining(m.remainingMAh - effectiveCurrentMA*hours)
		m.lastTimeMs = nowMs
	}

	if busV > m.cfg.FullChargeVoltageV && absCurrentMA < m.cfg.FullChargeCurrentMA {
		m.setRemaining(m.cfg.CapacityMAh)
		m.logf("battery charged, SoC reset to 100%%")
		m.maybeSave(nowMs, true)
	}

	m.maybeSave(nowMs, false)

	m.sample = Sample{
		BusVoltageV:          busV,
		ShuntVoltageMV:       shuntMV,
		CurrentMA:            currentMA,
		PowerMW:              powerMW,
		CrossPowerMW:         busV * absCurrentMA,
		RemainingCapacityMAh: m.remainingMAh,
		SocPercent:           m.socPercent,
	}
	return nil
}

// Sample returns the last published snapshot without recomputing anything.
func (m *Monitor) Sample() Sample {
	return m.sample
}

// ResetStateFromVoltage re-derives the state of charge from a voltage via
// the OCV table, discarding the coulomb counter's accumulated state.
func (m *Monitor) ResetStateFromVoltage(voltage float64) {
	m.socPercent = socFromVoltage(m.cfg.socTable(), voltage)
	m.remainingMAh = m.socPercent / 100.0 * m.cfg.CapacityMAh
}

// ClearPersistedState erases the storage namespace. It is a no-op when
// persistence is disabled.
func (m *Monitor) ClearPersistedState() {
	if !m.persistenceEnabled() {
		return
	}
	h, err := m.store.Open(m.cfg.StorageNamespace, false)
	if err != nil {
		m.logf("storage: open for clear failed: %v", err)
		return
	}
	defer h.Close()
	if err := h.EraseAll(); err != nil {
		m.logf("storage: clear failed: %v", err)
		return
	}
	m.logf("storage: cleared battery state")
}

// setRemaining clamps and stores the remaining capacity and keeps the SOC
// percentage derived from it. There is no other source of truth for SOC.
func (m *Monitor) setRemaining(mah float64) {
	if mah < 0 {
		mah = 0
	}
	if mah > m.cfg.CapacityMAh {
		mah = m.cfg.CapacityMAh
	}
	m.remainingMAh = mah
	m.socPercent = mah / m.cfg.CapacityMAh * 100.0
}

func (m *Monitor) persistenceEnabled() bool {
	return m.store != nil && m.cfg.StorageNamespace != "" && m.cfg.StorageKey != ""
}

// maybeSave applies the write-throttling policy: a forced save always
// writes, otherwise the save interval must have passed and the value must
// have moved by at least the minimum delta since the last saved value.
func (m *Monitor) maybeSave(nowMs uint32, force bool) {
	if !m.persistenceEnabled() {
		return
	}
	if !force && nowMs-m.lastSaveMs < m.cfg.SaveIntervalMs {
		return
	}
	if !force && !math.IsNaN(m.lastSavedMAh) &&
		math.Abs(m.remainingMAh-m.lastSavedMAh) < m.cfg.MinSaveDeltaMAh {
		// Restart the interval clock so this is not re-evaluated every tick.
		m.lastSaveMs = nowMs
		return
	}

	if m.saveRemaining(m.remainingMAh) {
		m.lastSavedMAh = m.remainingMAh
		m.lastSaveMs = nowMs
		m.logf("state saved: remaining=%.2f mAh (SoC %.1f%%)", m.remainingMAh, m.socPercent)
	} else {
		// Advance the clock anyway so a persistently failing store is not
		// retried every tick.
		m.lastSaveMs = nowMs
		m.logf("state save failed")
	}
}

// loadRemaining reads and validates the persisted record. Any failure is
// logged with its cause and treated as if no record existed.
func (m *Monitor) loadRemaining() (float64, bool) {
	if !m.persistenceEnabled() {
		return 0, false
	}
	h, err := m.store.Open(m.cfg.StorageNamespace, true)
	if err != nil {
		m.logf("storage: open for load failed: %v", err)
		return 0, false
	}
	defer h.Close()

	size, present := h.Length(m.cfg.StorageKey)
	if !present {
		m.logf("storage: no saved state")
		return 0, false
	}
	if size != nvstate.RecordSize {
		m.logf("storage: size mismatch (expected=%d, stored=%d)", nvstate.RecordSize, size)
		return 0, false
	}

	buf := make([]byte, nvstate.RecordSize)
	n, err := h.Read(m.cfg.StorageKey, buf)
	if err != nil {
		m.logf("storage: read failed: %v", err)
		return 0, false
	}
	if n != nvstate.RecordSize {
		m.logf("storage: short read (expected=%d, read=%d)", nvstate.RecordSize, n)
		return 0, false
	}

	remaining, err := nvstate.DecodeRecord(buf, m.cfg.CapacityMAh)
	if err != nil {
		m.logf("storage: invalid state record: %v", err)
		return 0, false
	}
	return remaining, true
}

// saveRemaining writes the encoded record. The in-memory state stays
// authoritative whether or not the write succeeds.
func (m *Monitor) saveRemaining(remainingMAh float64) bool {
	if !m.persistenceEnabled() {
		return false
	}
	h, err := m.store.Open(m.cfg.StorageNamespace, false)
	if err != nil {
		m.logf("storage: open for save failed: %v", err)
		return false
	}
	defer h.Close()

	data := nvstate.EncodeRecord(remainingMAh, m.cfg.CapacityMAh)
	n, err := h.Write(m.cfg.StorageKey, data)
	if err != nil {
		m.logf("storage: write failed: %v", err)
		return false
	}
	if n != len(data) {
		m.logf("storage: short write (expected=%d, written=%d)", len(data), n)
		return false
	}
	return true
}

func (m *Monitor) logf(format string, args ...interface{}) {
	if m.log == nil {
		return
	}
	m.log(fmt.Sprintf(format, args...))
}
