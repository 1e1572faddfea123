package notify

import (
	"testing"

	"github.com/cuemby/coco/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSlackForwarderNoopWithoutToken(t *testing.T) {
	f := NewSlackForwarder(config.SlackConfig{})
	record := []byte(`{"component":"worker","message":"hello"}`)

	n, err := f.WriteLevel(zerolog.ErrorLevel, record)
	assert.NoError(t, err)
	assert.Equal(t, len(record), n)
}

func TestSlackForwarderIgnoresUnmatchedComponent(t *testing.T) {
	f := NewSlackForwarder(config.SlackConfig{
		Token: "xoxb-test",
		Rules: []config.SlackRule{
			{Logger: "worker", Channel: "#ops", Level: "ERROR"},
		},
	})

	record := []byte(`{"component":"frontend","message":"hello"}`)
	n, err := f.WriteLevel(zerolog.ErrorLevel, record)
	assert.NoError(t, err)
	assert.Equal(t, len(record), n)
}

func TestSlackForwarderIgnoresBelowThreshold(t *testing.T) {
	f := NewSlackForwarder(config.SlackConfig{
		Token: "xoxb-test",
		Rules: []config.SlackRule{
			{Logger: "worker", Channel: "#ops", Level: "ERROR"},
		},
	})

	record := []byte(`{"component":"worker","message":"hello"}`)
	n, err := f.WriteLevel(zerolog.InfoLevel, record)
	assert.NoError(t, err)
	assert.Equal(t, len(record), n)
}

func TestSlackForwarderMatchesRuleAtThreshold(t *testing.T) {
	f := NewSlackForwarder(config.SlackConfig{
		Token: "xoxb-test",
		Rules: []config.SlackRule{
			{Logger: "worker", Channel: "#ops", Level: "ERROR"},
		},
	})

	record := []byte(`{"component":"worker","message":"boom"}`)
	n, err := f.WriteLevel(zerolog.ErrorLevel, record)
	assert.NoError(t, err)
	assert.Equal(t, len(record), n)
}

func TestSlackForwarderWriteTreatsRecordAsLevelless(t *testing.T) {
	f := NewSlackForwarder(config.SlackConfig{})
	record := []byte(`not even json`)

	n, err := f.Write(record)
	assert.NoError(t, err)
	assert.Equal(t, len(record), n)
}

func TestSlackForwarderUnknownLevelDefaultsToInfo(t *testing.T) {
	f := NewSlackForwarder(config.SlackConfig{
		Token: "xoxb-test",
		Rules: []config.SlackRule{
			{Logger: "worker", Channel: "#ops", Level: "not-a-level"},
		},
	})
	assert.Equal(t, zerolog.InfoLevel, f.rules["worker"].minLevel)
}
