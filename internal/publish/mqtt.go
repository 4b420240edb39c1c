package publish

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the outbound event sink: fire-and-forget JSON publishes
// over a single long-lived MQTT connection.
type Publisher struct {
	client mqtt.Client
}

// Connect dials the broker and blocks until the connection is up or
// fails. The client reconnects on its own afterwards.
func Connect(brokerURL, clientID, username, password string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return &Publisher{client: client}, nil
}

// Publish sends one event at QoS 0. A failure is surfaced to the caller
// but never blocks subsequent publishes.
func (p *Publisher) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	token := p.client.Publish(topic, 0, false, body)
	token.Wait()
	return token.Error()
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
