package canopy

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedMock() *MockClient {
	client := NewMockClient()
	client.SetConnected(true)
	return client
}

func publishedResult() *Result {
	return &Result{
		RunID:   "run-42",
		Raster:  "/data/ortho.tif",
		EPSG:    32633,
		Crowns:  testCrowns(),
		Summary: Summary{Tiles: 9, Final: 3, Rejected: Rejection{Degenerate: 1}},
	}
}

func TestNewPublisher(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	p := NewPublisher(nil, "")
	assert.Equal(t, DefaultPublishPrefix, p.Prefix())
	assert.Equal(t, byte(0), p.qos)
	assert.True(t, p.retain, "run summaries should be retained by default")

	t.Setenv("MQTT_PUBLISH_PREFIX", "forest")
	assert.Equal(t, "forest", NewPublisher(nil, "").Prefix())
	assert.Equal(t, "explicit", NewPublisher(nil, "explicit").Prefix())
}

func TestPublisher_PublishProgress(t *testing.T) {
	client := connectedMock()
	p := NewPublisher(client, "test")

	err := p.PublishProgress("run-1", TileProgress{TileID: 3, Done: 2, Total: 9, Detections: 5})
	require.NoError(t, err)

	msgs := client.MessagesOn("test/progress")
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Retain, "progress must not be retained")

	var got ProgressMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 3, got.TileID)
	assert.Equal(t, 2, got.Done)
	assert.Equal(t, 9, got.Total)
	assert.NotZero(t, got.Timestamp)
}

func TestPublisher_PublishResult(t *testing.T) {
	client := connectedMock()
	p := NewPublisher(client, "test")

	_, ok := p.LastRun()
	assert.False(t, ok)

	require.NoError(t, p.PublishResult(publishedResult()))

	for _, topic := range []string{"test/runs/run-42", "test/latest"} {
		msgs := client.MessagesOn(topic)
		require.Len(t, msgs, 1, topic)
		assert.True(t, msgs[0].Retain, topic)

		var got RunMessage
		require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
		assert.Equal(t, "run-42", got.RunID)
		assert.Equal(t, 3, got.Crowns)
		assert.Equal(t, 32633, got.EPSG)
		assert.Equal(t, 1, got.Summary.Rejected.Degenerate)
	}

	last, ok := p.LastRun()
	require.True(t, ok)
	assert.Equal(t, "run-42", last.RunID)
}

func TestPublisher_SettersAndQoS(t *testing.T) {
	client := connectedMock()
	p := NewPublisher(client, "test")
	p.SetQoS(1)
	p.SetQoS(5) // ignored
	p.SetRetain(false)

	require.NoError(t, p.PublishResult(publishedResult()))
	msgs := client.MessagesOn("test/latest")
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)
}

func TestPublisher_NotConnected(t *testing.T) {
	assert.Error(t, NewPublisher(nil, "test").PublishProgress("r", TileProgress{}))

	client := NewMockClient()
	p := NewPublisher(client, "test")
	assert.Error(t, p.PublishResult(publishedResult()))
	assert.Empty(t, client.GetPublishedMessages())

	// The summary is kept even when the broker is unreachable.
	_, ok := p.LastRun()
	assert.True(t, ok)
}

func TestPublisher_PublishError(t *testing.T) {
	client := connectedMock()
	client.SetPublishError(errors.New("broker full"))

	err := NewPublisher(client, "test").PublishProgress("r", TileProgress{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker full")
}
