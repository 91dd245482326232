package monitor

// SocPoint is one breakpoint of an open-circuit-voltage curve.
type SocPoint struct {
	VoltageV float64
	Percent  float64
}

// defaultSocTable is a generic 12V lead-acid resting voltage curve. It is
// used whenever no custom table is configured.
var defaultSocTable = []SocPoint{
	{12.60, 100},
	{12.30, 90},
	{12.00, 80},
	{11.70, 70},
	{11.40, 60},
	{11.10, 50},
	{10.80, 40},
	{10.50, 30},
	{10.20, 20},
	{9.60, 10},
	{9.00, 0},
}

// socTable returns the configured table when it is usable, otherwise the
// built-in default. A missing or too-short custom table falls back silently.
func (c *Config) socTable() []SocPoint {
	if len(c.SocTable) >= 2 {
		return c.SocTable
	}
	return defaultSocTable
}

// socFromVoltage maps a voltage to a state of charge percentage by linear
// interpolation between adjacent breakpoints, saturating at the table ends.
// The table must be strictly decreasing in voltage.
func socFromVoltage(table []SocPoint, voltage float64) float64 {
	if voltage >= table[0].VoltageV {
		return table[0].Percent
	}
	last := len(table) - 1
	if voltage <= table[last].VoltageV {
		return table[last].Percent
	}

	for i := 0; i < last; i++ {
		high := table[i]
		low := table[i+1]
		if voltage <= high.VoltageV && voltage > low.VoltageV {
			return low.Percent + (voltage-low.VoltageV)*(high.Percent-low.Percent)/(high.VoltageV-low.VoltageV)
		}
	}
	return table[last].Percent
}
