package transport

import (
	"context"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"go.uber.org/zap"
)

// LogTransport writes messages to the log instead of delivering them.
type LogTransport struct {
	log *zap.Logger
}

var _ mailqueue.Transport = (*LogTransport)(nil)

func NewLogTransport(log *zap.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Send(ctx context.Context, msg mailqueue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.log.Info("message sent to log transport",
		zap.String("record_id", msg.ID),
		zap.String("from", msg.From.Address),
		zap.Strings("recipients", msg.Recipients()),
		zap.String("subject", msg.Subject),
	)
	return nil
}
