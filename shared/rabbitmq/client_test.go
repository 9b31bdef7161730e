package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_NotConnected(t *testing.T) {
	c := &Client{config: &Config{ExchangeName: "wakeups"}, logger: discardLogger()}

	assert.False(t, c.IsConnected())

	err := c.Publish(context.Background(), []byte(`{}`), "application/json")
	assert.ErrorIs(t, err, ErrNotConnected)

	deliveries, err := c.Subscribe("indexer")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, deliveries)

	assert.NoError(t, c.Close())
}

func TestNewClient_ConnectionRefused(t *testing.T) {
	client, err := NewClient(&Config{
		Host:          "127.0.0.1",
		Port:          1,
		User:          "guest",
		Password:      "guest",
		VHost:         "/",
		ExchangeName:  "wakeups",
		RetryAttempts: 2,
		RetryInterval: 10 * time.Millisecond,
	}, discardLogger())

	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
