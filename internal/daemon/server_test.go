package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_Defaults(t *testing.T) {
	d := newTestDaemon(t, nil)

	assert.Equal(t, DefaultPort, d.server.opts.Port)
	assert.Equal(t, int64(defaultMaxRequestSize), d.server.opts.MaxRequestSize)
	assert.NotEmpty(t, d.server.instanceID)
}

func TestServer_InstanceIDsAreUnique(t *testing.T) {
	a := newTestDaemon(t, nil)
	b := newTestDaemon(t, nil)

	assert.NotEqual(t, a.server.instanceID, b.server.instanceID)
}

func TestServer_RunStopsOnContextCancel(t *testing.T) {
	d := newTestDaemon(t, nil)
	// Ephemeral port so concurrent test runs cannot collide.
	d.server.opts.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.server.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "cancellation is a clean shutdown, not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
