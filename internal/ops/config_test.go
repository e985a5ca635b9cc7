package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAppliesDefaults(t *testing.T) {
	loaded, err := Resolve(FileConfig{Server: ServerConfig{URL: "wss://chat.example/websocket"}})
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, loaded.Server.ConnectTimeout)
	assert.Equal(t, 30*time.Second, loaded.Server.CallTimeout)
	assert.Equal(t, 30*time.Second, loaded.Server.PingInterval)
	assert.Equal(t, 500*time.Millisecond, loaded.Server.ReconnectBase)
	assert.Equal(t, 5, loaded.Server.MaxReconnectAttempts)
	assert.Equal(t, 1024, loaded.Server.QueueSize)
	assert.Equal(t, time.Second, loaded.Receipt.Debounce)
}

func TestResolveKeepsExplicitValues(t *testing.T) {
	loaded, err := Resolve(FileConfig{
		Server: ServerConfig{
			URL:                  "wss://chat.example/websocket",
			ConnectTimeoutMS:     1500,
			CallTimeoutMS:        2500,
			PingIntervalMS:       5000,
			ReconnectBaseMS:      250,
			MaxReconnectAttempts: 9,
			QueueSize:            64,
		},
		Receipt: ReceiptConfig{DebounceMS: 400},
		Rooms:   []string{"r1", "r2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, loaded.Server.ConnectTimeout)
	assert.Equal(t, 2500*time.Millisecond, loaded.Server.CallTimeout)
	assert.Equal(t, 5*time.Second, loaded.Server.PingInterval)
	assert.Equal(t, 250*time.Millisecond, loaded.Server.ReconnectBase)
	assert.Equal(t, 9, loaded.Server.MaxReconnectAttempts)
	assert.Equal(t, 64, loaded.Server.QueueSize)
	assert.Equal(t, 400*time.Millisecond, loaded.Receipt.Debounce)
	assert.Equal(t, []string{"r1", "r2"}, loaded.Rooms)
}

func TestResolveRejectsEmptyURL(t *testing.T) {
	_, err := Resolve(FileConfig{})
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"url": "wss://chat.example/websocket", "token": "tok", "principalId": "me"},
		"receipt": {"debounceMs": 200},
		"rooms": ["general"]
	}`), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", loaded.Server.Token)
	assert.Equal(t, "me", loaded.Server.PrincipalID)
	assert.Equal(t, 200*time.Millisecond, loaded.Receipt.Debounce)
	assert.Equal(t, []string{"general"}, loaded.Rooms)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
