package canopy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMQTTOptions(t *testing.T) {
	_, err := NewMQTTOptions(MQTTConfig{})
	assert.True(t, errors.Is(err, ErrConfiguration), "missing broker: %v", err)

	opts, err := NewMQTTOptions(MQTTConfig{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPublishPrefix, opts.ClientID)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.True(t, opts.AutoReconnect)
	assert.Empty(t, opts.Username)

	opts, err = NewMQTTOptions(MQTTConfig{
		Broker:   "tcp://broker:1883",
		ClientID: "canopy-worker",
		Username: "user",
		Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "canopy-worker", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "secret", opts.Password)
}

func TestConnectMQTT(t *testing.T) {
	client := NewMockClient()
	require.NoError(t, ConnectMQTT(client))
	assert.True(t, client.IsConnected())

	failing := NewMockClient()
	failing.SetConnectError(errors.New("connection refused"))
	err := ConnectMQTT(failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, failing.IsConnected())
}

func TestMockClient_Disconnect(t *testing.T) {
	client := connectedMock()
	client.Disconnect(0)
	assert.False(t, client.IsConnected())

	token := client.Publish("t", 0, false, "payload")
	assert.Error(t, token.Error())
	assert.Empty(t, client.GetPublishedMessages())
}
