package control_test

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-sock/api"
	"github.com/momentics/hioload-sock/control"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := control.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, control.BackendEpoll, cfg.Backend)
	assert.Equal(t, 128, cfg.MaxEvents)
	assert.Equal(t, 128, cfg.ListenBacklog)
	assert.Equal(t, 900, cfg.UDPSendBuffer)
}

func TestConfigStore_AppliesOverrides(t *testing.T) {
	cs := control.NewConfigStore()
	reloads := 0
	cs.OnReload(func() { reloads++ })

	cs.SetConfig(map[string]any{
		control.KeyBackend:          control.BackendPoll,
		control.KeyMaxEvents:        16,
		control.KeyStopPollInterval: 5 * time.Millisecond,
		control.KeyLogLevel:         "debug",
		"unrelated.key":             true,
	})
	assert.Equal(t, 1, reloads)

	cfg, err := cs.Config()
	require.NoError(t, err)
	assert.Equal(t, control.BackendPoll, cfg.Backend)
	assert.Equal(t, 16, cfg.MaxEvents)
	assert.Equal(t, 5*time.Millisecond, cfg.StopPollInterval)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)

	snap := cs.GetSnapshot()
	snap[control.KeyBackend] = "mutated"
	cfg, err = cs.Config()
	require.NoError(t, err)
	assert.Equal(t, control.BackendPoll, cfg.Backend, "snapshot must be a copy")
}

func TestConfig_RejectsBadValues(t *testing.T) {
	base := control.DefaultConfig()

	_, err := base.Apply(map[string]any{control.KeyBackend: "kqueue"})
	assert.ErrorIs(t, err, api.ErrNotSupported)

	_, err = base.Apply(map[string]any{control.KeyMaxEvents: "many"})
	assert.Error(t, err)

	_, err = base.Apply(map[string]any{control.KeyMaxEvents: 0})
	assert.Error(t, err)

	_, err = base.Apply(map[string]any{control.KeyLogLevel: "loud"})
	assert.Error(t, err)
}
