package relay

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

type Config struct {
	// Endpoint is the URL messages are POSTed to.
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// request is the JSON body accepted by the relay.
type request struct {
	ID      string            `json:"id"`
	From    string            `json:"from"`
	To      []string          `json:"to,omitempty"`
	Cc      []string          `json:"cc,omitempty"`
	Bcc     []string          `json:"bcc,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Subject string            `json:"subject"`
	Text    string            `json:"text,omitempty"`
	HTML    string            `json:"html,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Transport hands messages to an HTTP mail relay.
type Transport struct {
	client   *resty.Client
	endpoint string
	log      *zap.Logger
}

var _ mailqueue.Transport = (*Transport)(nil)

func New(cfg Config, log *zap.Logger) (*Transport, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("relay endpoint is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Transport{client: client, endpoint: cfg.Endpoint, log: log}, nil
}

// Send succeeds only when the relay answers with a 2xx status.
func (t *Transport) Send(ctx context.Context, msg mailqueue.Message) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(toRequest(msg)).
		Post(t.endpoint)
	if err != nil {
		return fmt.Errorf("failed to post message %s to relay: %w", msg.ID, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("relay rejected message %s: status %d: %s", msg.ID, resp.StatusCode(), truncate(resp.String(), 256))
	}

	t.log.Debug("message accepted by relay",
		zap.String("record_id", msg.ID),
		zap.Int("status", resp.StatusCode()),
	)
	return nil
}

func toRequest(msg mailqueue.Message) request {
	r := request{
		ID:      msg.ID,
		From:    formatAddress(msg.From, 0),
		To:      lo.Map(msg.To, formatAddress),
		Cc:      lo.Map(msg.Cc, formatAddress),
		Bcc:     lo.Map(msg.Bcc, formatAddress),
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
		Headers: msg.Headers,
	}
	if msg.ReplyTo != nil {
		r.ReplyTo = formatAddress(*msg.ReplyTo, 0)
	}
	return r
}

// formatAddress renders bare addresses without angle brackets.
func formatAddress(a mail.Address, _ int) string {
	if a.Name == "" {
		return a.Address
	}
	return a.String()
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if lo.RuneLength(s) <= n {
		return s
	}
	return lo.Substring(s, 0, uint(n)) + "..."
}
