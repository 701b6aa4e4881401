//go:build integration

package natspub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/corazonn/natsclient"
	"github.com/c360/corazonn/ppg"
)

func TestIntegration_PublishAndLatestBucket(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	received := make(chan ppg.BeatEvent, 1)
	subscriber := tc.NewConnectedClient(t)
	require.NoError(t, subscriber.Subscribe(ctx, "corazonn.beat.>", func(_ context.Context, data []byte) {
		var ev ppg.BeatEvent
		if json.Unmarshal(data, &ev) == nil {
			received <- ev
		}
	}))
	require.NoError(t, subscriber.GetConnection().Flush())

	cfg := DefaultConfig()
	cfg.LatestBucket = "corazonn_latest"
	out, err := NewOutput(Deps{Config: cfg, Client: tc.Client})
	require.NoError(t, err)
	require.NoError(t, out.Start(ctx))
	defer out.Stop(time.Second)

	ev := ppg.BeatEvent{ChannelID: 1, DetectionUnixTime: 1700000000.25, BPM: 66, Intensity: 0.9}
	require.NoError(t, out.Publish(ctx, ev))

	select {
	case got := <-received:
		assert.Equal(t, ev, got)
	case <-time.After(5 * time.Second):
		t.Fatal("beat not received")
	}

	js, err := tc.Client.JetStream()
	require.NoError(t, err)
	kv, err := js.KeyValue(ctx, "corazonn_latest")
	require.NoError(t, err)
	entry, err := kv.Get(ctx, LatestKey(1))
	require.NoError(t, err)

	var latest ppg.BeatEvent
	require.NoError(t, json.Unmarshal(entry.Value(), &latest))
	assert.Equal(t, ev, latest)
}
