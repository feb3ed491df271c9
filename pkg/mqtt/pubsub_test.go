package mqtt

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/evostrat/evostrat/es"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptionsWillOnlyForWorkers(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	// Control-plane clients pass an empty channel: an ungraceful master or
	// relay death must not publish a phantom worker-offline registration.
	opts, err := newClientOptions("tcp://localhost:1883", "master-1", "", logger)
	require.NoError(t, err)
	assert.False(t, opts.WillEnabled)

	opts, err = newClientOptions("tcp://localhost:1883", "w1", "evostrat", logger)
	require.NoError(t, err)
	require.True(t, opts.WillEnabled)
	assert.Equal(t, "channels/evostrat/messages/control/worker/alive", opts.WillTopic)

	var reg es.Registration
	require.NoError(t, json.Unmarshal(opts.WillPayload, &reg))
	assert.Equal(t, "w1", reg.WorkerID)
	assert.Equal(t, es.StatusOffline, reg.Status)
}
