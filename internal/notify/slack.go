package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/rcwatch/rcwatch/internal/watch"
)

const (
	colorOK    = "00ff00"
	colorError = "ff0000"

	headerUpdate = "Configuration Inventory Update"
	headerError  = "Configuration Inventory Error"

	// mainFieldCount is how many leading attributes land in the first
	// section block; the remainder goes into a second one.
	mainFieldCount = 3
)

// Slack posts Block Kit messages to an incoming-webhook URL.
type Slack struct {
	webhookURL string
	client     *retryablehttp.Client
	logger     *zap.Logger
}

// NewSlack creates a Slack webhook notifier. The client retries transient
// transport failures a couple of times within the run; a still-failing
// delivery surfaces as watch.ErrNotifyUnavailable.
func NewSlack(webhookURL string, logger *zap.Logger) (*Slack, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 3 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil
	return &Slack{
		webhookURL: webhookURL,
		client:     client,
		logger:     logger,
	}, nil
}

// Notify posts one message listing every new record for the target.
func (s *Slack) Notify(ctx context.Context, delta watch.Delta) error {
	msg := message{
		Color: colorOK,
		Text:  summaryText(delta),
		Blocks: []block{
			headerBlock(headerUpdate),
			sectionText(fmt.Sprintf("*%s*", summaryText(delta))),
			sectionText(fmt.Sprintf("<%s|View inventory>", delta.Target.URL)),
		},
	}
	for _, rec := range delta.NewRecords {
		msg.Blocks = append(msg.Blocks, recordBlocks(rec)...)
	}
	if len(delta.RemovedKeys) > 0 {
		msg.Blocks = append(msg.Blocks,
			block{Type: "divider"},
			sectionText(fmt.Sprintf("*No longer listed:* %d configuration(s)", len(delta.RemovedKeys))),
		)
	}
	return s.post(ctx, msg)
}

// NotifyNoChanges posts the noisy-mode heartbeat.
func (s *Slack) NotifyNoChanges(ctx context.Context, target watch.Target) error {
	text := fmt.Sprintf("No changes for %s", target.Label())
	msg := message{
		Color: colorOK,
		Text:  text,
		Blocks: []block{
			headerBlock(headerUpdate),
			sectionText(fmt.Sprintf("*%s*", text)),
			sectionText(fmt.Sprintf("<%s|View inventory>", target.URL)),
		},
	}
	return s.post(ctx, msg)
}

// NotifyFailure posts a red message describing a broken check.
func (s *Slack) NotifyFailure(ctx context.Context, target watch.Target, cause error) error {
	text := fmt.Sprintf("Check failed for %s: %v", target.Label(), cause)
	msg := message{
		Color: colorError,
		Text:  text,
		Blocks: []block{
			headerBlock(headerError),
			sectionText(fmt.Sprintf("*%s*", text)),
		},
	}
	return s.post(ctx, msg)
}

func (s *Slack) post(ctx context.Context, msg message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post webhook: %v", watch.ErrNotifyUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: webhook status %d", watch.ErrNotifyUnavailable, resp.StatusCode)
	}
	if s.logger != nil {
		s.logger.Debug("slack message posted", zap.Int("blocks", len(msg.Blocks)))
	}
	return nil
}

// recordBlocks renders one record as a divider plus two field sections: the
// first three attributes, then the rest.
func recordBlocks(rec watch.Record) []block {
	fields := rec.DisplayFields()
	blocks := []block{{Type: "divider"}}

	main := block{Type: "section"}
	for _, f := range fields[:mainFieldCount] {
		main.Fields = append(main.Fields, fieldPair(f)...)
	}
	blocks = append(blocks, main)

	additional := block{Type: "section"}
	for _, f := range fields[mainFieldCount:] {
		additional.Fields = append(additional.Fields, fieldPair(f)...)
	}
	blocks = append(blocks, additional)
	return blocks
}

func fieldPair(f watch.Field) []textObject {
	value := f.Value
	if value == "" {
		value = "None"
	}
	return []textObject{
		{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*", f.Label)},
		{Type: "plain_text", Text: value},
	}
}

func headerBlock(text string) block {
	return block{Type: "header", Text: &textObject{Type: "plain_text", Text: text}}
}

func sectionText(text string) block {
	return block{Type: "section", Text: &textObject{Type: "mrkdwn", Text: text}}
}

type message struct {
	Color  string  `json:"color"`
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

type block struct {
	Type   string       `json:"type"`
	Text   *textObject  `json:"text,omitempty"`
	Fields []textObject `json:"fields,omitempty"`
}

type textObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
