package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttConnectTimeout = 10 * time.Second

type mqttService struct {
	broker   string
	prefix   string
	clientID string

	mu     sync.Mutex
	client mqtt.Client
}

func newMQTTService(broker, prefix, clientID string) *mqttService {
	if clientID == "" {
		clientID = fmt.Sprintf("linesyncd-%d", time.Now().UnixNano())
	}
	return &mqttService{
		broker:   broker,
		prefix:   strings.TrimRight(prefix, "/"),
		clientID: clientID,
	}
}

type mqttDocument struct {
	Event     Event     `json:"event"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"ts"`
}

// topicFor returns <prefix>/<event>.
func (m *mqttService) topicFor(event Event) string {
	if m.prefix == "" {
		return string(event)
	}
	return m.prefix + "/" + string(event)
}

func encodeDocument(event Event, payload Payload, now time.Time) ([]byte, error) {
	doc := mqttDocument{Event: event, Payload: Payload{}, Timestamp: now.UTC()}
	for k, v := range payload {
		switch value := v.(type) {
		case error:
			doc.Payload[k] = value.Error()
		case time.Duration:
			doc.Payload[k] = value.Seconds()
		default:
			doc.Payload[k] = value
		}
	}
	return json.Marshal(doc)
}

func (m *mqttService) connect() (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnectionOpen() {
		return m.client, nil
	}
	opts := mqtt.NewClientOptions().
		AddBroker(m.broker).
		SetClientID(m.clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetOrderMatters(false)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	m.client = client
	return client, nil
}

func (m *mqttService) Publish(ctx context.Context, event Event, payload Payload) error {
	data, err := encodeDocument(event, payload, time.Now())
	if err != nil {
		return fmt.Errorf("encode mqtt payload: %w", err)
	}
	client, err := m.connect()
	if err != nil {
		return err
	}
	token := client.Publish(m.topicFor(event), 1, false, data)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker if a connection was made.
func (m *mqttService) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
}
