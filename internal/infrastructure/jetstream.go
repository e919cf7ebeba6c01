package infrastructure

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/krobus00/coin-trader/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	defaultNatsMaxRetries      = 10
	defaultNatsBackoffFactor   = 2.0
	defaultNatsMinJitter       = 100 * time.Millisecond
	defaultNatsMaxJitter       = 2 * time.Second
	defaultNatsConnectTimeout  = 5 * time.Second
	defaultNatsDrainTimeout    = 10 * time.Second
	defaultNatsPingInterval    = 30 * time.Second
	defaultNatsPingOutstanding = 3
	defaultJetStreamMaxWait    = 5 * time.Second
)

var ErrJetstreamDisabled = errors.New("nats jetstream url is not configured")

// Backoff is an exponential delay capped at Max with a random jitter window
// of Max-Min added on top.
type Backoff struct {
	Factor float64
	Min    time.Duration
	Max    time.Duration

	rng *rand.Rand
}

func NewBackoff(factor float64, min, max time.Duration) *Backoff {
	if factor < 1 {
		factor = defaultNatsBackoffFactor
	}
	if min <= 0 {
		min = defaultNatsMinJitter
	}
	if max <= 0 {
		max = defaultNatsMaxJitter
	}
	if max < min {
		max = min
	}

	return &Backoff{
		Factor: factor,
		Min:    min,
		Max:    max,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *Backoff) Delay(attempt int) time.Duration {
	backoff := float64(b.Min) * math.Pow(b.Factor, float64(attempt))
	if backoff > float64(b.Max) {
		backoff = float64(b.Max)
	}

	base := time.Duration(backoff)
	if b.Max <= b.Min {
		return base
	}

	jitter := time.Duration(b.rng.Int63n(int64(b.Max-b.Min) + 1))
	if base+jitter > b.Max {
		return b.Max
	}

	return base + jitter
}

// NewJetstream connects to NATS and returns a JetStream context. An empty URL
// returns ErrJetstreamDisabled so callers can fall back to log-only events.
func NewJetstream(cfg config.NatsJetstreamConfig) (*nats.Conn, nats.JetStreamContext, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, nil, ErrJetstreamDisabled
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultNatsMaxRetries
	}
	backoff := NewBackoff(cfg.ReconnectFactor, cfg.MinJitter, cfg.MaxJitter)

	nc, err := nats.Connect(url,
		nats.Name(config.ServiceName),
		nats.Timeout(defaultNatsConnectTimeout),
		nats.DrainTimeout(defaultNatsDrainTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxRetries),
		nats.PingInterval(defaultNatsPingInterval),
		nats.MaxPingsOutstanding(defaultNatsPingOutstanding),
		nats.CustomReconnectDelay(backoff.Delay),
		nats.DisconnectErrHandler(func(_ *nats.Conn, disErr error) {
			logrus.WithError(disErr).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logrus.WithField("url", conn.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			logrus.WithError(conn.LastError()).Warn("nats connection closed")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream(
		nats.PublishAsyncMaxPending(256),
		nats.MaxWait(defaultJetStreamMaxWait),
	)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"url":         url,
		"max_retries": maxRetries,
	}).Info("nats jetstream connection established")

	return nc, js, nil
}

func CloseJetstream(nc *nats.Conn) error {
	if nc == nil {
		return nil
	}

	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}

	nc.Close()
	return nil
}
