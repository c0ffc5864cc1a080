package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/edgeflow.go/pkg/model"
)

func TestMatchTopic(t *testing.T) {
	for _, tc := range []struct {
		topic, pattern string
		match          bool
	}{
		{"dev1/meta", "dev1/meta", true},
		{"dev1/meta", "+/meta", true},
		{"dev1/stats", "+/meta", false},
		{"dev1/meta", "#", true},
		{"dev1/a/b", "dev1/#", true},
		{"dev2/a/b", "dev1/#", false},
		{"dev1/meta", "dev1/meta/x", false},
		{"dev1/meta/x", "dev1/meta", true}, // prefix semantics
	} {
		assert.Equal(t, tc.match, MatchTopic(tc.topic, tc.pattern),
			"topic %q pattern %q", tc.topic, tc.pattern)
	}
}

func TestParseBrokerURL(t *testing.T) {
	opts, prefix, err := ParseBrokerURL("mqtt://user:pw@broker:1883/edgeflow/?client-id=probe")
	require.NoError(t, err)
	assert.Equal(t, "edgeflow/", prefix)
	assert.Equal(t, "probe", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "pw", opts.Password)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp", opts.Servers[0].Scheme)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
}

func TestMetaDocument(t *testing.T) {
	meta := Meta{
		Kind:  "device",
		Link:  "serial:///dev/ttyACM0?baud=115200",
		Model: ModelInfoOf(model.Header{T: 10, F: 3, H: 2, Hidden: 4}),
	}
	payload, err := json.Marshal(&meta)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"kind": "device",
		"link": "serial:///dev/ttyACM0?baud=115200",
		"model": {"T": 10, "F": 3, "H": 2, "hidden": 4}
	}`, string(payload))
}
