package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"linesync/internal/config"
)

const userAgent = "linesync/0.1"

// Event names a sync milestone.
type Event string

const (
	EventFlushCompleted      Event = "flush_completed"
	EventRecordFailed        Event = "record_failed"
	EventConnectivityChanged Event = "connectivity_changed"
	EventMutationFailed      Event = "mutation_failed"
	EventTest                Event = "test"
)

// Payload carries event fields. Keys are documented per event in format.go.
type Payload map[string]any

// Service publishes events to the configured sinks.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds the notifier set described by cfg.
func NewService(cfg *config.Config) Service {
	var sinks []Service
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sinks = append(sinks, &ntfyService{
			endpoint: topic,
			client:   &http.Client{Timeout: timeout},
		})
	}
	if broker := strings.TrimSpace(cfg.Notifications.MQTTBroker); broker != "" {
		sinks = append(sinks, newMQTTService(broker, cfg.Notifications.MQTTTopic, cfg.Notifications.MQTTClientID))
	}
	switch len(sinks) {
	case 0:
		return noopService{}
	case 1:
		return sinks[0]
	default:
		return fanout(sinks)
	}
}

type fanout []Service

func (f fanout) Publish(ctx context.Context, event Event, payload Payload) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := formatMessage(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Close releases any broker connection held by svc.
func Close(svc Service) {
	if closer, ok := svc.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (f fanout) Close() {
	for _, sink := range f {
		Close(sink)
	}
}

// NewNoop returns a Service that discards every event.
func NewNoop() Service {
	return noopService{}
}
