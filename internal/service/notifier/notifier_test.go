package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/krobus00/coin-trader/internal/constant"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJetstream struct {
	streams   map[string]*nats.StreamConfig
	added     int
	updated   int
	published map[string][][]byte
	infoErr   error
}

func newFakeJetstream() *fakeJetstream {
	return &fakeJetstream{streams: map[string]*nats.StreamConfig{}, published: map[string][][]byte{}}
}

func (f *fakeJetstream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	f.published[subj] = append(f.published[subj], data)
	return &nats.PubAck{Stream: constant.CoinTraderStreamName}, nil
}

func (f *fakeJetstream) StreamInfo(stream string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	cfg, ok := f.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJetstream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.added++
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJetstream) UpdateStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.updated++
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func TestNotifier_JetstreamEventInitCreatesThenUpdates(t *testing.T) {
	js := newFakeJetstream()
	notifier := NewNotifier(js)

	require.NoError(t, notifier.JetstreamEventInit(context.Background()))
	assert.Equal(t, 1, js.added)
	assert.Equal(t, []string{constant.CoinTraderStreamSubjectAll}, js.streams[constant.CoinTraderStreamName].Subjects)

	require.NoError(t, notifier.JetstreamEventInit(context.Background()))
	assert.Equal(t, 1, js.added)
	assert.Equal(t, 1, js.updated)
}

func TestNotifier_JetstreamEventInitPropagatesLookupError(t *testing.T) {
	js := newFakeJetstream()
	js.infoErr = errors.New("timeout")

	err := NewNotifier(js).JetstreamEventInit(context.Background())
	assert.EqualError(t, err, "timeout")
}

func TestNotifier_Publish(t *testing.T) {
	js := newFakeJetstream()
	notifier := NewNotifier(js)

	err := notifier.Publish(context.Background(), constant.CoinTraderStreamSubjectOrderPlaced, entity.OrderPlacedEvent{
		Market: "KRW-BTC",
		Side:   entity.OrderSideBid,
		Kind:   entity.OrderKindLimit,
		Volume: "0.01",
		Price:  "95000",
		Source: entity.OrderSourceManual,
	})
	require.NoError(t, err)

	messages := js.published[constant.CoinTraderStreamSubjectOrderPlaced]
	require.Len(t, messages, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(messages[0], &decoded))
	assert.Equal(t, "KRW-BTC", decoded["market"])
	assert.Equal(t, "95000", decoded["price"])
}

func TestNotifier_NilJetstreamIsLogOnly(t *testing.T) {
	notifier := NewNotifier(nil)
	assert.NoError(t, notifier.JetstreamEventInit(context.Background()))
	assert.NoError(t, notifier.Publish(context.Background(), constant.CoinTraderStreamSubjectOrderFailed, struct{}{}))
}
