package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicRoundTrip(t *testing.T) {
	topic := DataTopic("alice", "d-1")
	assert.Equal(t, "homesec/data/alice/d-1", topic)

	kind, user, device, err := ParseDeviceTopic(topic)
	require.NoError(t, err)
	assert.Equal(t, KindData, kind)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "d-1", device)
}

func TestParseDeviceTopic_Invalid(t *testing.T) {
	tests := []string{
		"homesec/data/alice",
		"homesec/bogus/alice/d-1",
		"other/data/alice/d-1",
		"homesec/data//d-1",
		"",
	}
	for _, topic := range tests {
		_, _, _, err := ParseDeviceTopic(topic)
		assert.Error(t, err, "topic %q", topic)
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"homesec/init/+/+", "homesec/init/alice/d-1", true},
		{"homesec/init/+/+", "homesec/data/alice/d-1", false},
		{"homesec/#", "homesec/command/alice/d-1", true},
		{"homesec/command/alice/d-1", "homesec/command/alice/d-1", true},
		{"homesec/init/+/+", "homesec/init/alice", false},
		{"homesec/init/+", "homesec/init/alice/d-1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
}
