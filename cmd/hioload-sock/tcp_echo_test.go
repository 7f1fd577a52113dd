//go:build linux

package main

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-sock/addr"
	"github.com/momentics/hioload-sock/reactor"
	"github.com/momentics/hioload-sock/socket"
)

func TestEchoDelegate_EchoesAndCleansUp(t *testing.T) {
	r, err := reactor.New(&echoDelegate{bufSize: 64, log: logrus.WithField("test", t.Name())})
	require.NoError(t, err)
	defer r.Close()

	srv, err := socket.NewTCPServer(0, addr.IPv4)
	require.NoError(t, err)
	require.NoError(t, srv.Bind())
	require.NoError(t, srv.Listen(0))
	require.NoError(t, r.AddServer(srv))

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	client, err := socket.NewTCPClient(addr.Localhost(srv.Port(), addr.IPv4))
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect())
	require.NoError(t, client.Handle().SetOption(socket.RecvTimeout(2*time.Second)))

	for _, msg := range []string{"hello", "world"} {
		require.NoError(t, client.Write([]byte(msg)))
		got, err := client.Read(64)
		require.NoError(t, err)
		assert.Equal(t, msg, string(got))
	}

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return r.Len() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, r.Stop(true))
	assert.NoError(t, <-done)
	assert.True(t, srv.Handle().Closed())
}
