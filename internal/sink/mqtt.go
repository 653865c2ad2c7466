package sink

import (
	"bytes"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttPublisher is the part of mqtt.Client the mirror uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTMirror copies published lines to an MQTT topic at QoS 0. It never
// waits for the broker.
type MQTTMirror struct {
	client mqttPublisher
	topic  string
	close  func()
}

// NewMQTTMirror connects to broker and returns a mirror publishing on topic.
func NewMQTTMirror(broker, clientID, topic string) (*MQTTMirror, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	log.Printf("mqtt mirror: connected to %s, topic %s", broker, topic)

	m := newMQTTMirror(client, topic)
	m.close = func() { client.Disconnect(250) }
	return m, nil
}

func newMQTTMirror(c mqttPublisher, topic string) *MQTTMirror {
	return &MQTTMirror{client: c, topic: topic}
}

func (m *MQTTMirror) Name() string { return "mqtt" }

// Publish hands the line to the client. Only errors the client reports
// immediately, such as not being connected, are returned.
func (m *MQTTMirror) Publish(line []byte) error {
	token := m.client.Publish(m.topic, 0, false, bytes.TrimRight(line, "\n"))
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}

func (m *MQTTMirror) Close() error {
	if m.close != nil {
		m.close()
	}
	return nil
}
