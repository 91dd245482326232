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
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgevolt/battmon/monitor"
)

// samplePublisher pushes each sample to an MQTT topic as JSON. Connection
// management is left to the paho client; publishes while disconnected are
// dropped with a log line.
type samplePublisher struct {
	client mqtt.Client
	topic  string
}

func newSamplePublisher(broker, clientID, topic string) *samplePublisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetUsername(os.Getenv("MQTT_USERNAME"))
	opts.SetPassword(os.Getenv("MQTT_PASSWORD"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info("Connected to MQTT broker at ", broker)
	})

	client := mqtt.NewClient(opts)
	client.Connect()

	return &samplePublisher{client: client, topic: topic}
}

func (p *samplePublisher) publish(sample monitor.Sample) {
	if !p.client.IsConnected() {
		log.Debug("MQTT not connected, dropping sample")
		return
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		log.Errorf("Failed to marshal sample: %v", err)
		return
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Errorf("Failed to publish sample: %v", token.Error())
		}
	}()
}
