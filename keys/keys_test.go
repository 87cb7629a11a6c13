package keys

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPoll = 200 * time.Microsecond

func TestNewRequiresCallback(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNilCallback)
}

func TestReadsKeysFromTerminal(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	keys := make(chan byte, 16)
	r, err := New(func(k byte) { keys <- k },
		WithInput(slave), WithPollInterval(testPoll))
	require.NoError(t, err)
	require.NoError(t, r.Open())
	defer r.Close()

	_, err = master.Write([]byte("ab"))
	require.NoError(t, err)

	for _, want := range []byte("ab") {
		select {
		case got := <-keys:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for key %q", want)
		}
	}
}

func TestRawModeDeliversWithoutNewline(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	keys := make(chan byte, 1)
	r, err := New(func(k byte) { keys <- k },
		WithInput(slave), WithPollInterval(testPoll))
	require.NoError(t, err)
	require.NoError(t, r.Open())
	defer r.Close()

	// No trailing newline: canonical mode would hold this byte back.
	_, err = master.Write([]byte{'x'})
	require.NoError(t, err)

	select {
	case got := <-keys:
		assert.Equal(t, byte('x'), got)
	case <-time.After(time.Second):
		t.Fatal("key not delivered before line end")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	keys := make(chan byte, 16)
	r, err := New(func(k byte) { keys <- k },
		WithInput(slave), WithPollInterval(testPoll))
	require.NoError(t, err)
	require.NoError(t, r.Open())

	r.Close()
	r.Close() // idempotent

	_, err = master.Write([]byte{'z'})
	require.NoError(t, err)

	select {
	case k := <-keys:
		t.Fatalf("received key %q after Close", k)
	case <-time.After(20 * time.Millisecond):
	}
}
