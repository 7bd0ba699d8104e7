package pubsub

import (
	"fmt"
	"strings"
)

// Topic layout: homesec/<kind>/<username>/<deviceId>.
//
// init  - first report of a freshly provisioned device (pairing)
// data  - ongoing telemetry reports
// command - backend to device control messages
const topicPrefix = "homesec"

// Kind identifies the purpose of a device topic.
type Kind string

const (
	KindInit    Kind = "init"
	KindData    Kind = "data"
	KindCommand Kind = "command"
)

// Filters for subscribing to every account and device.
const (
	InitFilter = topicPrefix + "/init/+/+"
	DataFilter = topicPrefix + "/data/+/+"
)

func InitTopic(username, deviceID string) string {
	return fmt.Sprintf("%s/init/%s/%s", topicPrefix, username, deviceID)
}

func DataTopic(username, deviceID string) string {
	return fmt.Sprintf("%s/data/%s/%s", topicPrefix, username, deviceID)
}

func CommandTopic(username, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", topicPrefix, username, deviceID)
}

// ParseDeviceTopic splits a device topic into its kind, username and device
// id parts. Topics that do not follow the homesec layout yield an error.
func ParseDeviceTopic(topic string) (Kind, string, string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != topicPrefix {
		return "", "", "", fmt.Errorf("unrecognised topic: %q", topic)
	}
	kind := Kind(parts[1])
	switch kind {
	case KindInit, KindData, KindCommand:
	default:
		return "", "", "", fmt.Errorf("unrecognised topic kind: %q", parts[1])
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", "", fmt.Errorf("empty username or device id in topic: %q", topic)
	}
	return kind, parts[2], parts[3], nil
}

// Match reports whether topic matches filter using MQTT wildcard rules:
// '+' matches exactly one level, '#' matches any remainder.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
