package mq

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"planning-poker-backend/config"
	"planning-poker-backend/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type delivered struct {
	pin  string
	data []byte
}

type fakeDeliverer struct {
	mu  sync.Mutex
	got []delivered
}

func (d *fakeDeliverer) Deliver(pin string, data []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, delivered{pin: pin, data: data})
	return 1
}

func (d *fakeDeliverer) all() []delivered {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivered(nil), d.got...)
}

func TestRelay_RoundTripThroughBus(t *testing.T) {
	bus := NewLocalBus()
	local := &fakeDeliverer{}
	relay := NewRelay(bus, local, zap.NewNop())
	require.NoError(t, relay.Start(context.Background()))

	err := relay.Broadcast(context.Background(), "123456", model.EventVoteSubmitted, model.VoteSubmittedEvent{
		ParticipantID: 7, ParticipantName: "Alice", CardValue: "8",
	})
	require.NoError(t, err)

	got := local.all()
	require.Len(t, got, 1)
	assert.Equal(t, "123456", got[0].pin)

	var msg struct {
		Type    string                   `json:"type"`
		PIN     string                   `json:"pin"`
		Payload model.VoteSubmittedEvent `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(got[0].data, &msg))
	assert.Equal(t, model.EventVoteSubmitted, msg.Type)
	assert.Equal(t, "123456", msg.PIN)
	assert.Equal(t, "Alice", msg.Payload.ParticipantName)
}

func TestRelay_EveryInstanceReceives(t *testing.T) {
	bus := NewLocalBus()
	a, b := &fakeDeliverer{}, &fakeDeliverer{}
	relayA := NewRelay(bus, a, zap.NewNop())
	relayB := NewRelay(bus, b, zap.NewNop())
	require.NoError(t, relayA.Start(context.Background()))
	require.NoError(t, relayB.Start(context.Background()))

	for _, event := range []string{model.EventVotesRevealed, model.EventNewRoundStarted} {
		require.NoError(t, relayA.Broadcast(context.Background(), "654321", event, model.SessionEvent{PIN: "654321"}))
	}

	for _, d := range []*fakeDeliverer{a, b} {
		got := d.all()
		require.Len(t, got, 2)
		assert.Contains(t, string(got[0].data), model.EventVotesRevealed)
		assert.Contains(t, string(got[1].data), model.EventNewRoundStarted)
	}
}

func TestRelay_DropsMalformedEvents(t *testing.T) {
	bus := NewLocalBus()
	local := &fakeDeliverer{}
	require.NoError(t, NewRelay(bus, local, zap.NewNop()).Start(context.Background()))

	require.NoError(t, bus.Publish(context.Background(), "x", []byte("not json")))
	require.NoError(t, bus.Publish(context.Background(), "x", []byte(`{"type":"VotesRevealed"}`)))
	assert.Empty(t, local.all())
}

func TestLocalBus_Closed(t *testing.T) {
	bus := NewLocalBus()
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), "k", nil), ErrBusClosed)
	assert.ErrorIs(t, bus.Subscribe(context.Background(), func([]byte) {}), ErrBusClosed)
}

func TestNewBus(t *testing.T) {
	bus, err := NewBus(config.Config{BroadcastBackend: config.BackendLocal}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LocalBus{}, bus)

	_, err = NewBus(config.Config{BroadcastBackend: config.BackendRedis}, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewBus(config.Config{BroadcastBackend: "kafka"}, nil, zap.NewNop())
	assert.Error(t, err)
}
