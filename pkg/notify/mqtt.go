// Package notify mirrors audit events to an MQTT broker so external
// dashboards (e.g. Home Assistant) can follow relay activity. It is disabled
// unless a broker is configured.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/types"
)

// MQTT publishes audit entries to a broker. The zero value with no broker
// configured is a no-op publisher.
type MQTT struct {
	broker      string
	topicPrefix string
	username    string
	password    string
	client      mqtt.Client
}

// Configured sets up the MQTT publisher based on flags. The connection is
// only established when a broker address is given.
func Configured() *MQTT {
	broker := lflag.String("mqtt-broker", "", "MQTT broker address (host:port), empty disables publishing")
	prefix := lflag.String("mqtt-topic-prefix", "wattrelay", "MQTT topic prefix for audit events")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")

	m := &MQTT{}

	lflag.Do(func() {
		m.broker = *broker
		m.topicPrefix = *prefix
		m.username = *username
		m.password = *password

		if m.broker == "" {
			return
		}
		if err := m.connect(); err != nil {
			panic(fmt.Sprintf("mqtt connect failed: %v", err))
		}
	})

	return m
}

func (m *MQTT) connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", m.broker))
	opts.SetClientID("wattrelay")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if m.username != "" {
		opts.SetUsername(m.username)
	}
	if m.password != "" {
		opts.SetPassword(m.password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	m.client = client
	return nil
}

// Enabled reports whether a broker is configured.
func (m *MQTT) Enabled() bool {
	return m.client != nil
}

// Publish sends an audit entry to <prefix>/audit/<device|system>. Publishing
// is best-effort; a nil client silently drops the entry.
func (m *MQTT) Publish(ctx context.Context, e types.LogEntry) error {
	if m.client == nil {
		return nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	target := e.DeviceID
	if target == "" {
		target = "system"
	}
	topic := fmt.Sprintf("%s/audit/%s", m.topicPrefix, target)

	token := m.client.Publish(topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	log.Ctx(ctx).DebugContext(ctx, "published audit event", slog.String("topic", topic))
	return nil
}

// Close disconnects from the MQTT broker.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
