package infrastructure

import (
	"context"
	"strconv"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var _ saga.Publisher = (*NATSTransport)(nil)

// NATSConfig names the subjects a participant listens and replies on.
type NATSConfig struct {
	URL            string
	Name           string
	RequestSubject string
	ReplySubject   string
	// QueueGroup lets several instances of one participant share the
	// request subject.
	QueueGroup string
}

// NATSTransport carries saga messages over core NATS. Requests are read
// from a queue subscription and replies are published with the same
// headers the SNS publisher sets as message attributes.
type NATSTransport struct {
	conn   natsConn
	cfg    NATSConfig
	logger *zap.Logger
}

// natsConn is the part of a NATS connection the transport uses.
type natsConn interface {
	queueSubscribe(subject, queue string) (natsSubscription, error)
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

type natsSubscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

type natsConnection struct {
	*nats.Conn
}

func (c natsConnection) queueSubscribe(subject, queue string) (natsSubscription, error) {
	sub, err := c.QueueSubscribeSync(subject, queue)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// NewNATSTransport connects to cfg.URL and keeps reconnecting forever.
func NewNATSTransport(cfg NATSConfig, logger *zap.Logger) (*NATSTransport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS at %s", cfg.URL)
	}

	return newNATSTransport(natsConnection{conn}, cfg, logger), nil
}

func newNATSTransport(conn natsConn, cfg NATSConfig, logger *zap.Logger) *NATSTransport {
	return &NATSTransport{conn: conn, cfg: cfg, logger: logger}
}

func (cfg NATSConfig) validate() error {
	if cfg.RequestSubject == "" || cfg.ReplySubject == "" {
		return errors.New("nats request and reply subjects are required")
	}
	return nil
}

// Run feeds requests into in until ctx is cancelled.
func (t *NATSTransport) Run(ctx context.Context, in chan<- saga.Message) error {
	sub, err := t.conn.queueSubscribe(t.cfg.RequestSubject, t.cfg.QueueGroup)
	if err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", t.cfg.RequestSubject)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		raw, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to receive from NATS")
		}

		msg, err := saga.Decode(raw.Data)
		if err != nil {
			t.logger.Warn("dropping malformed saga message",
				zap.String("subject", raw.Subject),
				zap.Error(err),
			)
			continue
		}

		select {
		case in <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// Ack is a no-op: core NATS has nothing to settle once a message is read.
func (t *NATSTransport) Ack(context.Context, saga.Message) {}

// Publish sends replies and flushes so a returned nil means the server
// has them.
func (t *NATSTransport) Publish(ctx context.Context, msgs ...saga.Message) error {
	for _, msg := range msgs {
		if err := t.publish(t.cfg.ReplySubject, msg); err != nil {
			return err
		}
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return errors.Wrap(err, "failed to flush NATS connection")
	}
	return nil
}

// Requeue republishes msg on the request subject. It is the dispatcher's
// fault hook for this transport.
func (t *NATSTransport) Requeue(ctx context.Context, msg saga.Message, cause error) error {
	if err := t.publish(t.cfg.RequestSubject, msg); err != nil {
		return err
	}
	t.logger.Info("requeued saga message after fault",
		zap.String("transaction_id", msg.TransactionId.String()),
		zap.String("state", msg.State.String()),
		zap.NamedError("cause", cause),
	)
	return t.conn.FlushWithContext(ctx)
}

func (t *NATSTransport) publish(subject string, msg saga.Message) error {
	data, err := saga.Encode(msg)
	if err != nil {
		return err
	}

	out := nats.NewMsg(subject)
	out.Data = data
	out.Header.Set(AttributeTransactionID, msg.TransactionId.String())
	out.Header.Set(AttributeMessageType, msg.MessageType.String())
	out.Header.Set(AttributeState, msg.State.String())
	out.Header.Set("message_id", strconv.Itoa(msg.MessageId))

	if err := t.conn.PublishMsg(out); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", subject)
	}
	return nil
}

// Close drains the connection.
func (t *NATSTransport) Close() error {
	return t.conn.Drain()
}
