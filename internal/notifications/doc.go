// Package notifications delivers sync events via pluggable notifiers.
//
// ntfy publishes human-readable messages to the configured topic URL. MQTT
// publishes JSON documents under <mqtt_topic>/<event> for dashboards on the
// workshop network. When both are configured every event is sent to both;
// when neither is, a no-op service is returned so callers never branch on
// configuration.
package notifications
