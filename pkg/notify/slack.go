package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/coco/pkg/config"
	"github.com/cuemby/coco/pkg/log"
	"github.com/rs/zerolog"
)

// SlackForwarder is a zerolog.LevelWriter that posts log records to a
// Slack channel when the record's component and level match a
// configured slack_rules entry. With no token configured it is a no-op
// writer, so attaching it unconditionally never changes behaviour.
type SlackForwarder struct {
	token  string
	client *http.Client
	rules  map[string]slackRule
	logger zerolog.Logger
}

type slackRule struct {
	channel  string
	minLevel zerolog.Level
}

// NewSlackForwarder builds a forwarder from the config's slack block.
// An empty token disables posting entirely.
func NewSlackForwarder(cfg config.SlackConfig) *SlackForwarder {
	f := &SlackForwarder{
		token:  cfg.Token,
		client: &http.Client{Timeout: 5 * time.Second},
		rules:  make(map[string]slackRule, len(cfg.Rules)),
		logger: log.WithComponent("notify"),
	}
	for _, r := range cfg.Rules {
		level, err := zerolog.ParseLevel(r.Level)
		if err != nil {
			level = zerolog.InfoLevel
		}
		f.rules[r.Logger] = slackRule{channel: r.Channel, minLevel: level}
	}
	return f
}

// Write satisfies io.Writer for zerolog.New; it passes the record to
// WriteLevel as zerolog.NoLevel, which clears every rule's level
// threshold, so only the token and the component rule decide whether it
// is forwarded.
func (f *SlackForwarder) Write(p []byte) (int, error) {
	return f.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel inspects the JSON log record for a "component" field and
// forwards it to Slack if a rule matches and the level clears the
// rule's threshold.
func (f *SlackForwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if f.token == "" || len(f.rules) == 0 {
		return len(p), nil
	}

	var record map[string]interface{}
	if err := json.Unmarshal(p, &record); err != nil {
		return len(p), nil
	}
	component, _ := record["component"].(string)
	rule, ok := f.rules[component]
	if !ok || level < rule.minLevel {
		return len(p), nil
	}
	msg, _ := record["message"].(string)

	go f.post(rule.channel, msg)
	return len(p), nil
}

func (f *SlackForwarder) post(channel, msg string) {
	payload, err := json.Marshal(map[string]string{"channel": channel, "text": msg})
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, "https://slack.com/api/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		f.logger.Warn().Err(err).Msg("failed building slack request")
		return
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", f.token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn().Err(err).Str("channel", channel).Msg("slack post failed")
		return
	}
	defer resp.Body.Close()
}
