package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/mail"
	"net/textproto"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/logger"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Headers managed by the transport; payload headers with these names are ignored.
var reservedHeaders = map[string]struct{}{
	"From":         {},
	"To":           {},
	"Cc":           {},
	"Bcc":          {},
	"Reply-To":     {},
	"Subject":      {},
	"Date":         {},
	"Message-Id":   {},
	"Mime-Version": {},
	"Content-Type": {},
}

// Transport delivers messages to an SMTP relay.
type Transport struct {
	cfg    Config
	dialer *gomail.Dialer
	signer *signer
	log    *zap.Logger
	now    func() time.Time
}

var _ mailqueue.Transport = (*Transport)(nil)

func New(cfg Config, log *zap.Logger) (*Transport, error) {
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s, err := newSigner(cfg.DKIM)
	if err != nil {
		return nil, err
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL
	d.LocalName = cfg.LocalName
	if cfg.InsecureSkipVerify {
		log.Warn("smtp TLS certificate verification is disabled", zap.String("host", cfg.Host))
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host} // #nosec G402
	}

	return &Transport{
		cfg:    cfg,
		dialer: d,
		signer: s,
		log:    log,
		now:    time.Now,
	}, nil
}

// Send renders msg once and delivers it, retrying failures up to the end of
// DATA. Permanent SMTP rejections (5xx) are not retried. A connection lost
// while the final DATA reply is pending is retried too and may deliver the
// message twice.
func (t *Transport) Send(ctx context.Context, msg mailqueue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := t.render(msg)
	if err != nil {
		return fmt.Errorf("failed to render message %s: %w", msg.ID, err)
	}
	recipients := msg.Recipients()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialInterval
	b.MaxInterval = t.cfg.MaxInterval
	err = backoff.RetryNotify(
		func() error {
			return classify(t.deliver(msg.From.Address, recipients, data))
		},
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.cfg.RetryCount)), ctx),
		func(err error, next time.Duration) {
			logger.Get(ctx).Debug("smtp delivery failed, retrying",
				zap.Error(err),
				zap.Duration("retry-in", next),
			)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to deliver message %s: %w", msg.ID, err)
	}
	return nil
}

func (t *Transport) deliver(from string, recipients []string, data []byte) error {
	sc, err := t.dialer.Dial()
	if err != nil {
		return fmt.Errorf("failed to connect to %s:%d: %w", t.cfg.Host, t.cfg.Port, err)
	}
	if err := sc.Send(from, recipients, bytes.NewReader(data)); err != nil {
		_ = sc.Close()
		return err
	}
	// The server has accepted DATA at this point; a failed QUIT is not a
	// failed delivery.
	if err := sc.Close(); err != nil {
		t.log.Debug("smtp quit failed after delivery", zap.String("host", t.cfg.Host), zap.Error(err))
	}
	return nil
}

func (t *Transport) render(msg mailqueue.Message) ([]byte, error) {
	m := t.build(msg)
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return t.signer.sign(buf.Bytes(), msg.From.Address)
}

// build never writes a Bcc header; those recipients only appear in the envelope.
func (t *Transport) build(msg mailqueue.Message) *gomail.Message {
	m := gomail.NewMessage()
	for k, v := range msg.Headers {
		key := textproto.CanonicalMIMEHeaderKey(k)
		if _, ok := reservedHeaders[key]; ok {
			continue
		}
		m.SetHeader(key, v)
	}

	m.SetAddressHeader("From", msg.From.Address, msg.From.Name)
	if len(msg.To) > 0 {
		m.SetHeader("To", formatAddresses(m, msg.To)...)
	}
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", formatAddresses(m, msg.Cc)...)
	}
	if msg.ReplyTo != nil {
		m.SetAddressHeader("Reply-To", msg.ReplyTo.Address, msg.ReplyTo.Name)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetDateHeader("Date", t.now())
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", msg.ID, t.messageIDDomain(msg.From.Address)))

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}
	return m
}

func (t *Transport) messageIDDomain(from string) string {
	if t.cfg.MessageIDDomain != "" {
		return t.cfg.MessageIDDomain
	}
	if d := domainOf(from); d != "" {
		return d
	}
	return "localhost"
}

func formatAddresses(m *gomail.Message, addrs []mail.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, m.FormatAddress(a.Address, a.Name))
	}
	return out
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return backoff.Permanent(err)
	}
	return err
}
