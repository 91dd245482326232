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
	"strings"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/edgevolt/battmon/ina226"
	"github.com/edgevolt/battmon/monitor"
	"github.com/edgevolt/battmon/nvstate"
)

const sampleLogEvery = 5 // log one sample out of this many updates

var version = "No version provided"

var log = logrus.New()

type argSpec struct {
	ConfigDir string `arg:"-c,--config" help:"configuration folder"`
	LogLevel  string `arg:"-l,--log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

func (argSpec) Version() string {
	return version
}

func procArgs() argSpec {
	args := argSpec{
		ConfigDir: defaultConfigDir,
	}
	arg.MustParse(&args)
	return args
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err.Error())
	}
}

func runMain() error {
	log.SetFormatter(new(customFormatter))
	args := procArgs()
	setLogLevel(args.LogLevel)

	log.Info("Running version: ", version)

	// Broker credentials may come from a .env file next to the binary.
	_ = godotenv.Load()

	conf, err := loadConfig(args.ConfigDir)
	if err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	bus, err := i2creg.Open(conf.I2CBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	sensor := ina226.New(bus, conf.I2CAddress)
	store := nvstate.NewFileStore(conf.StateDir)

	commands := newCommandQueue()
	mcfg := conf.Monitor
	mcfg.Commands = commands

	if conf.SerialPort != "" {
		if err := startSerialCommands(conf.SerialPort, conf.SerialBaud, commands); err != nil {
			log.Errorf("Serial command console unavailable: %v", err)
		} else {
			log.Info("Reading commands from ", conf.SerialPort)
		}
	}

	m, err := monitor.New(mcfg, &sensorAdapter{dev: sensor}, store)
	if err != nil {
		return err
	}
	m.SetLogger(func(line string) { log.Info(line) })

	start := time.Now()
	log.Info("Connecting to INA226.")
	if err := m.Begin(millis(start)); err != nil {
		return err
	}
	sample := m.Sample()
	log.Infof("Startup: %.2fV, SoC %.1f%% (%.1f mAh)",
		sample.BusVoltageV, sample.SocPercent, sample.RemainingCapacityMAh)

	var svc *service
	if conf.DBusEnabled {
		svc, err = startService(commands)
		if err != nil {
			return err
		}
		svc.updateSample(sample)
	}

	var publisher *samplePublisher
	if conf.MQTTBroker != "" {
		publisher = newSamplePublisher(conf.MQTTBroker, conf.MQTTClientID, conf.MQTTTopic)
	}

	logCounter := sampleLogEvery
	ticker := time.NewTicker(conf.UpdateInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := m.Update(millis(start)); err != nil {
			log.Errorf("Update failed: %v", err)
			continue
		}
		sample := m.Sample()

		if logCounter >= sampleLogEvery {
			log.Infof("%.2fV, %.1f mA, %.1f mW, SoC %.1f%% (%.1f mAh)",
				sample.BusVoltageV, sample.CurrentMA, sample.PowerMW,
				sample.SocPercent, sample.RemainingCapacityMAh)
			logCounter = 0
		}
		logCounter++

		if svc != nil {
			svc.updateSample(sample)
		}
		if publisher != nil {
			publisher.publish(sample)
		}
	}
	return nil
}

// millis converts the wall-clock time since start into the wrapping
// millisecond counter the monitor runs on.
func millis(start time.Time) uint32 {
	return uint32(time.Since(start).Milliseconds())
}

// sensorAdapter maps the monitor's averaging mode config value onto the
// driver's typed constant.
type sensorAdapter struct {
	dev *ina226.Dev
}

func (a *sensorAdapter) Init() error { return a.dev.Init() }

func (a *sensorAdapter) SetCalibration(maxCurrentA, shuntOhms float64) error {
	return a.dev.SetCalibration(maxCurrentA, shuntOhms)
}

func (a *sensorAdapter) SetAveraging(mode uint16) error {
	return a.dev.SetAveraging(ina226.AveragingMode(mode))
}

func (a *sensorAdapter) BusVoltage() (float64, error) { return a.dev.BusVoltage() }

func (a *sensorAdapter) ShuntVoltageMV() (float64, error) { return a.dev.ShuntVoltageMV() }

func (a *sensorAdapter) CurrentMA() (float64, error) { return a.dev.CurrentMA() }

func (a *sensorAdapter) PowerMW() (float64, error) { return a.dev.PowerMW() }
