package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	require.True(t, srv.ReadyForConnections(3*time.Second), "nats not ready")
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type payload struct {
	Feed  string `json:"feed"`
	Count int    `json:"count"`
}

func TestCarrierInitialisesHeaders(t *testing.T) {
	msg := &nats.Msg{}
	c := carrier(msg)
	assert.Empty(t, c.Get("traceparent"))
	assert.Empty(t, c.Keys())

	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.NotNil(t, msg.Header)
}

func TestPublishSetsHeaders(t *testing.T) {
	nc := startTestNATS(t)
	sub, err := nc.SubscribeSync("feeds.raw")
	require.NoError(t, err)

	require.NoError(t, Publish(context.Background(), nc, "feeds.raw", "run-42", payload{Feed: "events"}))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "run-42", msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "application/json", msg.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"feed":"events","count":0}`, string(msg.Data))

	require.NoError(t, Publish(context.Background(), nc, "feeds.raw", "", payload{}))
	msg, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Empty(t, msg.Header.Get(nats.MsgIdHdr))
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	nc := startTestNATS(t)
	got := make(chan payload, 1)
	rejected := make(chan error, 1)

	sub, err := Subscribe(nc, "feeds.test",
		func(_ context.Context, p payload) { got <- p },
		func(_ *nats.Msg, err error) { rejected <- err })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, nc.Publish("feeds.test", []byte("not json")))
	require.NoError(t, Publish(context.Background(), nc, "feeds.test", "run-1", payload{Feed: "notices", Count: 3}))
	require.NoError(t, nc.Flush())

	select {
	case err := <-rejected:
		assert.ErrorContains(t, err, "decode feeds.test")
	case <-time.After(2 * time.Second):
		t.Fatal("malformed message was not rejected")
	}
	select {
	case p := <-got:
		assert.Equal(t, payload{Feed: "notices", Count: 3}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
