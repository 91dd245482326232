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
	"encoding/json"
	"errors"
	"sync"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/edgevolt/battmon/monitor"
)

const (
	dbusName = "org.edgevolt.battmon"
	dbusPath = "/org/edgevolt/battmon"
)

// service exposes the latest sample and the reset/clear commands on the
// system bus. Commands go through the same queue as the serial console so
// the monitor stays single-threaded.
type service struct {
	mu       sync.Mutex
	sample   monitor.Sample
	commands *commandQueue
}

func startService(commands *commandQueue) (*service, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, errors.New("name already taken")
	}

	s := &service{commands: commands}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return s, nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

func (s *service) updateSample(sample monitor.Sample) {
	s.mu.Lock()
	s.sample = sample
	s.mu.Unlock()
}

// Sample returns the latest battery sample as JSON.
func (s *service) Sample() (string, *dbus.Error) {
	s.mu.Lock()
	sample := s.sample
	s.mu.Unlock()

	data, err := json.Marshal(sample)
	if err != nil {
		return "", makeDbusError(".SampleError", err)
	}
	return string(data), nil
}

// Reset re-estimates the state of charge from the current voltage on the
// next update.
func (s *service) Reset() *dbus.Error {
	log.Info("State reset requested over D-Bus.")
	s.commands.Push('r')
	return nil
}

// ClearState erases the persisted battery state and re-estimates from the
// current voltage on the next update.
func (s *service) ClearState() *dbus.Error {
	log.Info("Persisted state clear requested over D-Bus.")
	s.commands.Push('c')
	return nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}
