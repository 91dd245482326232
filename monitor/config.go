package monitor

import (
	"fmt"
	"time"
)

// Config holds everything the monitor needs to know about the battery, the
// sensor wiring and the persistence policy. It is not modified after New.
type Config struct {
	// Battery and wiring.
	CapacityMAh       float64
	ShuntOhms         float64
	MaxCurrentA       float64
	CurrentPolarity   int     // +1 or -1, flips the sensor's sign convention
	CurrentDeadzoneMA float64 // readings below this magnitude count as zero
	AveragingMode     uint16  // passed through to the sensor

	// Optional custom OCV curve, voltage and percent strictly decreasing.
	// Fewer than 2 entries falls back to the built-in table.
	SocTable []SocPoint

	// Persistence. Empty namespace or key disables it entirely.
	StorageNamespace string
	StorageKey       string
	SaveIntervalMs   uint32
	MinSaveDeltaMAh  float64

	// Startup voltage averaging for the cold-start OCV estimate.
	StartupSamples     int
	StartupSampleDelay time.Duration

	// Full-charge detection: voltage above and current magnitude below.
	FullChargeVoltageV  float64
	FullChargeCurrentMA float64

	// Commands optionally supplies one command byte per update.
	Commands CommandSource
}

// DefaultConfig returns the configuration for a 3Ah 12V pack on a 20 mOhm
// shunt, saving state at most every 10 minutes.
func DefaultConfig() Config {
	return Config{
		CapacityMAh:         3000,
		ShuntOhms:           0.02,
		MaxCurrentA:         4,
		CurrentPolarity:     1,
		CurrentDeadzoneMA:   1,
		AveragingMode:       2, // 16 samples
		StorageNamespace:    "bat",
		StorageKey:          "state",
		SaveIntervalMs:      10 * 60 * 1000,
		MinSaveDeltaMAh:     1,
		StartupSamples:      5,
		StartupSampleDelay:  50 * time.Millisecond,
		FullChargeVoltageV:  12.5,
		FullChargeCurrentMA: 50,
	}
}

// Validate reports configuration that the monitor cannot work with. A custom
// OCV table that is not strictly decreasing is rejected here because lookup
// results over such a table are undefined.
func (c *Config) Validate() error {
	if c.CapacityMAh <= 0 {
		return fmt.Errorf("battery capacity must be positive, got %f mAh", c.CapacityMAh)
	}
	if c.ShuntOhms <= 0 {
		return fmt.Errorf("shunt resistance must be positive, got %f ohm", c.ShuntOhms)
	}
	if c.MaxCurrentA <= 0 {
		return fmt.Errorf("max current must be positive, got %f A", c.MaxCurrentA)
	}
	if c.CurrentPolarity != 1 && c.CurrentPolarity != -1 {
		return fmt.Errorf("current polarity must be +1 or -1, got %d", c.CurrentPolarity)
	}
	if c.CurrentDeadzoneMA < 0 {
		return fmt.Errorf("current deadzone must not be negative, got %f mA", c.CurrentDeadzoneMA)
	}
	if len(c.SocTable) >= 2 {
		for i := 1; i < len(c.SocTable); i++ {
			if c.SocTable[i].VoltageV >= c.SocTable[i-1].VoltageV {
				return fmt.Errorf("soc table voltages must be strictly decreasing, entry %d", i)
			}
			if c.SocTable[i].Percent >= c.SocTable[i-1].Percent {
				return fmt.Errorf("soc table percentages must be strictly decreasing, entry %d", i)
			}
		}
	}
	return nil
}
