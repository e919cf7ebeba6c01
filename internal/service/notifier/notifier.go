package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/krobus00/coin-trader/internal/constant"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/krobus00/coin-trader/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Jetstream is the subset of nats.JetStreamContext the notifier uses.
type Jetstream interface {
	util.JetstreamPublisher
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

type Notifier struct {
	js Jetstream
}

type Publisher interface {
	entity.Publisher
	entity.EventPublisher
}

// NewNotifier returns a log-only notifier when js is nil.
func NewNotifier(js Jetstream) Publisher {
	return &Notifier{js: js}
}

func (n *Notifier) JetstreamEventInit(ctx context.Context) error {
	if n.js == nil {
		logrus.Info("jetstream disabled, events are logged only")
		return nil
	}

	streamConfig := &nats.StreamConfig{
		Name:      constant.CoinTraderStreamName,
		Subjects:  []string{constant.CoinTraderStreamSubjectAll},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	}

	stream, err := n.js.StreamInfo(constant.CoinTraderStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.CoinTraderStreamName)
		_, err = n.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.CoinTraderStreamName)
	_, err = n.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

// Publish JSON-encodes data onto subject. Without jetstream it only logs.
func (n *Notifier) Publish(ctx context.Context, subject string, data any) error {
	logger := logrus.WithField("subject", subject)
	if n.js == nil {
		logger.WithField("event", data).Debug("event")
		return nil
	}

	if err := util.PublishEvent(ctx, n.js, subject, data); err != nil {
		logger.WithError(err).Warn("failed to publish event")
		return err
	}

	return nil
}
