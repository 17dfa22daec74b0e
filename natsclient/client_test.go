package natsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldotlopez/vol2mqtt/errors"
)

// closedPortURL returns a nats URL on which nothing is listening
func closedPortURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "nats://" + addr
}

// Test basic client creation
func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.GetConnection())
	assert.Equal(t, 30*time.Second, client.pingInterval)
}

func TestNewClient_Options(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithName("vol2mqtt"),
		WithTimeout(3*time.Second),
		WithFlushTimeout(time.Second),
		WithCredentials("user", "pass"),
		WithDrainTimeout(time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, "vol2mqtt", client.clientName)
	assert.Equal(t, 3*time.Second, client.timeout)
	assert.Equal(t, time.Second, client.flushTimeout)
	assert.Equal(t, time.Second, client.drainTimeout)
	assert.Equal(t, "user", client.username)
	assert.NotEmpty(t, client.buildConnectionOptions())
}

func TestNewClient_TLSConfig(t *testing.T) {
	plain, err := NewClient("tls://localhost:4222")
	require.NoError(t, err)

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: "localhost"}
	secure, err := NewClient("tls://localhost:4222", WithTLSConfig(tlsCfg))
	require.NoError(t, err)

	assert.Same(t, tlsCfg, secure.tlsConfig)
	assert.Len(t, secure.buildConnectionOptions(), len(plain.buildConnectionOptions())+1)
}

func TestNewClient_Token(t *testing.T) {
	plain, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	client, err := NewClient("nats://localhost:4222", WithToken("s3cr3t"))
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", client.token)
	assert.Len(t, client.buildConnectionOptions(), len(plain.buildConnectionOptions())+1)
}

func TestNewClient_NeverReconnects(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var opts nats.Options
	for _, opt := range client.buildConnectionOptions() {
		require.NoError(t, opt(&opts))
	}
	assert.False(t, opts.AllowReconnect)
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithTimeout(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithFlushTimeout(-time.Second))
	require.Error(t, err)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusClosed, "closed"},
		{ConnectionStatus(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestClient_ConnectUnreachable(t *testing.T) {
	client, err := NewClient(closedPortURL(t), WithTimeout(time.Second))
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotConnected))
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestClient_ConnectCancelled(t *testing.T) {
	client, err := NewClient(closedPortURL(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Nil(t, client.GetConnection())
}

func TestClient_PublishWithoutConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = client.Publish(context.Background(), "subject", []byte("data"))
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	err = client.Subscribe(context.Background(), "subject", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	_, err = client.RTT()
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Equal(t, StatusClosed, client.Status())

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
}

func TestClient_GetStatusDisconnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	s := client.GetStatus()
	assert.Equal(t, StatusDisconnected, s.Status)
	assert.Equal(t, "nats://localhost:4222", s.URL)
	assert.Zero(t, s.OutMsgs)
}

func ExampleNewClient() {
	client, err := NewClient("nats://localhost:4222", WithName("vol2mqtt"))
	if err != nil {
		return
	}
	fmt.Println(client.URL())
	// Output: nats://localhost:4222
}
