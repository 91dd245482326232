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
	"io"

	"github.com/tarm/serial"
)

// commandQueue funnels command bytes from the serial console and the D-Bus
// service to the monitor. The monitor drains at most one byte per update.
type commandQueue struct {
	ch chan byte
}

func newCommandQueue() *commandQueue {
	return &commandQueue{ch: make(chan byte, 16)}
}

// Push queues a command byte, dropping it if the queue is full.
func (q *commandQueue) Push(b byte) {
	select {
	case q.ch <- b:
	default:
	}
}

// ReadCommand implements monitor.CommandSource.
func (q *commandQueue) ReadCommand() (byte, bool) {
	select {
	case b := <-q.ch:
		return b, true
	default:
		return 0, false
	}
}

// startSerialCommands opens the command console port and feeds every byte
// it receives into the queue.
func startSerialCommands(port string, baud int, queue *commandQueue) error {
	s, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		return err
	}

	go func() {
		defer s.Close()
		buf := make([]byte, 1)
		for {
			n, err := s.Read(buf)
			if err != nil {
				if err != io.EOF {
					log.Errorf("Serial read failed: %v", err)
				}
				return
			}
			if n > 0 {
				queue.Push(buf[0])
			}
		}
	}()
	return nil
}
