// Package alert implements pipeline.AlertSink: delivery of REPORTING-stage
// rule matches to the outside world (spec.md §6.3, §6.4's alert_list).
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// Config holds the parameters needed to construct a SlackSink.
type Config struct {
	WebhookURL string
	Channel    string
}

// SlackSink delivers alert matches to a Slack incoming webhook. Nil-safe:
// every method is a no-op when the sink itself is nil, mirroring the
// teacher's pkg/slack.Service ("nil-safe: all methods are no-ops when
// service is nil"). The teacher's Service talks to the Slack Web API
// through the slack-go SDK; that SDK isn't a resolvable dependency here
// (imported by pkg/slack but absent from the corpus's go.mod), so this
// sink posts to an incoming webhook with net/http instead, the same
// fail-open delivery shape with a lighter transport.
type SlackSink struct {
	webhookURL string
	channel    string
	client     *http.Client
	logger     *slog.Logger
}

// NewSlackSink returns nil if cfg.WebhookURL is empty, the same
// "disabled by empty config" convention as NewService.
func NewSlackSink(cfg Config) *SlackSink {
	if cfg.WebhookURL == "" {
		return nil
	}
	return &SlackSink{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     slog.Default().With("component", "alert_sink"),
	}
}

type webhookPayload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Alert implements pipeline.AlertSink. Fail-open: delivery errors are
// logged, never returned, matching spec.md §4.6's "the core only owes
// at-least-once delivery per matching rule per op" — a failed best-effort
// POST does not block or retry the pipeline.
func (s *SlackSink) Alert(rule pipeline.AlertRule, id pipeline.EntryId, attrs pipeline.AttrSet) error {
	if s == nil {
		return nil
	}

	text := fmt.Sprintf("entryproc alert %q matched id=%d:%d path=%s", rule.Name, id.Seq, id.Oid, attrs.FullPath)
	body, err := json.Marshal(webhookPayload{Channel: s.channel, Text: text})
	if err != nil {
		s.logger.Error("marshal alert payload failed", "rule", rule.Name, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("build alert request failed", "rule", rule.Name, "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("deliver alert failed", "rule", rule.Name, "id_seq", id.Seq, "id_oid", id.Oid, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Error("alert webhook rejected", "rule", rule.Name, "status", resp.StatusCode)
	}
	return nil
}
