package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = &NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), TopicSaleCreated, SaleCreated{SaleID: "s1"}))
	assert.NoError(t, p.Close())
}

func TestNATSRoundTrip(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url)
	require.NoError(t, err)
	defer sub.Close()

	ch, cancel, err := sub.Subscribe("novapharm.session.>")
	require.NoError(t, err)
	defer cancel()

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(context.Background(), TopicSessionRevoked, SessionRevoked{SessionID: "tok-1", UserID: "u1", Reason: "sign_out"}))
	require.NoError(t, pub.conn.Flush())

	select {
	case raw := <-ch:
		var got SessionRevoked
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, SessionRevoked{SessionID: "tok-1", UserID: "u1", Reason: "sign_out"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for revocation event")
	}
}

func TestNATSCancelClosesChannel(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url)
	require.NoError(t, err)
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(TopicSaleCreated)
	require.NoError(t, err)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
}
