package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTTopicPrefix = "livestock"
	defaultMQTTQoS         = 1
	mqttPublishTimeout     = 5 * time.Second
)

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTChannel publishes pushes as JSON to "<prefix>/<farmId>/alerts".
type MQTTChannel struct {
	client mqttPublisher
	prefix string
	qos    byte
}

// DialMQTT connects to broker and returns a channel publishing under prefix.
func DialMQTT(broker, clientID, prefix string) (*MQTTChannel, mqtt.Client, error) {
	if broker == "" {
		return nil, nil, errors.New("mqtt channel: empty broker")
	}
	if clientID == "" {
		clientID = fmt.Sprintf("livestock-cloud-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetAutoReconnect(true).SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return NewMQTTChannel(client, prefix), client, nil
}

// NewMQTTChannel wraps a connected client.
func NewMQTTChannel(client mqttPublisher, prefix string) *MQTTChannel {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultMQTTTopicPrefix
	}
	return &MQTTChannel{client: client, prefix: prefix, qos: defaultMQTTQoS}
}

// Topic returns the alert topic of farmID.
func (m *MQTTChannel) Topic(farmID string) string {
	if farmID == "" {
		farmID = "unassigned"
	}
	return m.prefix + "/" + farmID + "/alerts"
}

// Push publishes the push and waits for the broker acknowledgement.
func (m *MQTTChannel) Push(ctx context.Context, push Push) error {
	if m == nil || m.client == nil {
		return errors.New("mqtt channel: nil client")
	}
	data, err := json.Marshal(push)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.Topic(push.FarmID), m.qos, false, data)

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !token.WaitTimeout(timeout) {
		return errors.New("mqtt channel: publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}
