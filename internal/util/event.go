package util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// JetstreamPublisher is the publishing half of nats.JetStreamContext.
type JetstreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// ProcessWithTimeout runs callback with a deadline derived from ctx. The
// callback runs on the caller's goroutine so two calls never overlap.
func ProcessWithTimeout(ctx context.Context, timeout time.Duration, name string, callback func(ctx context.Context) error) error {
	if timeout <= 0 {
		return callback(ctx)
	}

	innerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := callback(innerCtx)
	if err != nil && errors.Is(innerCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("processing timeout for %s after %s: %w", name, timeout, err)
	}

	return err
}

func PublishEvent(ctx context.Context, js JetstreamPublisher, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = js.Publish(subject, payload, nats.Context(ctx))
	if err != nil {
		return err
	}

	return nil
}
