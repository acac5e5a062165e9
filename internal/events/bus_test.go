package events_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantagedata/datamarket/internal/events"
	"github.com/vantagedata/datamarket/pkg/models"
)

func TestBusFanOut(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	t.Cleanup(func() { bus.Close() })

	first, cancelFirst := bus.Subscribe(4)
	t.Cleanup(cancelFirst)
	second, cancelSecond := bus.Subscribe(4)
	t.Cleanup(cancelSecond)

	ev := events.Purchased{ListingID: 7, Buyer: "0xabc", Amount: 100}
	require.NoError(t, bus.Publish(context.Background(), ev))

	for _, feed := range []<-chan events.Envelope{first, second} {
		env := <-feed
		assert.Equal(t, events.TypePurchased, env.Type)
		assert.False(t, env.Timestamp.IsZero())
		data, ok := env.Data.(events.Purchased)
		require.True(t, ok)
		assert.Equal(t, int64(7), data.ListingID)
	}
}

func TestBusDropsWhenSubscriberLags(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	t.Cleanup(func() { bus.Close() })

	feed, cancel := bus.Subscribe(1)
	t.Cleanup(cancel)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, events.ListingDeactivated{ListingID: 1}))
	// Buffer is full now; this one must be dropped, not block.
	require.NoError(t, bus.Publish(ctx, events.ListingDeactivated{ListingID: 2}))

	env := <-feed
	data := env.Data.(events.ListingDeactivated)
	assert.Equal(t, int64(1), data.ListingID)
	select {
	case extra := <-feed:
		t.Fatalf("unexpected buffered event %v", extra)
	default:
	}
}

func TestBusCancelAndClose(t *testing.T) {
	bus := events.NewBus(zap.NewNop())

	feed, cancel := bus.Subscribe(1)
	cancel()
	_, open := <-feed
	assert.False(t, open)

	remaining, _ := bus.Subscribe(1)
	require.NoError(t, bus.Close())
	_, open = <-remaining
	assert.False(t, open)

	// Subscribing after close yields a closed channel immediately.
	late, lateCancel := bus.Subscribe(1)
	lateCancel()
	_, open = <-late
	assert.False(t, open)

	assert.NoError(t, bus.Publish(context.Background(), events.PlatformFeeUpdated{NewRate: 3}))
}

func TestMultiPublisherFansOut(t *testing.T) {
	logger := zap.NewNop()
	first := events.NewBus(logger)
	second := events.NewBus(logger)

	firstFeed, _ := first.Subscribe(1)
	secondFeed, _ := second.Subscribe(1)

	multi := events.MultiPublisher{first, second}
	require.NoError(t, multi.Publish(context.Background(), events.PlatformFeeUpdated{OldRate: 5, NewRate: 10}))

	assert.Equal(t, events.TypePlatformFeeUpdated, (<-firstFeed).Type)
	assert.Equal(t, events.TypePlatformFeeUpdated, (<-secondFeed).Type)

	assert.NoError(t, multi.Close())
}

func TestEnvelopeEncoding(t *testing.T) {
	listing := models.Listing{ID: 3, Owner: "0xabc", Name: "Sensor Grid Readings", Active: true}
	ev := events.ListingRegistered{Listing: listing}
	assert.Equal(t, "3", ev.Key())

	env := events.Envelope{Type: ev.EventType(), Data: ev}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded struct {
		Type string `json:"type"`
		Data struct {
			Listing models.Listing `json:"listing"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, events.TypeListingRegistered, decoded.Type)
	assert.Equal(t, int64(3), decoded.Data.Listing.ID)
	assert.Equal(t, "Sensor Grid Readings", decoded.Data.Listing.Name)
}
