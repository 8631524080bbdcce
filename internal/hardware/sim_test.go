package hardware

import (
	"testing"
	"time"

	"github.com/sebas/fxsgate/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimPollTimesOutEmpty(t *testing.T) {
	d := NewSimDevice(2)

	start := time.Now()
	res, err := d.Poll(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Events)
	assert.Empty(t, res.Media)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSimPollWakesOnEvent(t *testing.T) {
	d := NewSimDevice(1)

	go func() {
		time.Sleep(5 * time.Millisecond)
		d.PushDigit(0, '5')
	}()

	res, err := d.Poll(time.Second)
	require.NoError(t, err)
	assert.True(t, res.Events)

	ev, err := d.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, EventDigit, ev.Kind)
	assert.Equal(t, byte('5'), ev.Digit)

	ev, err = d.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, EventNone, ev.Kind, "drained queue yields None")
}

func TestSimPollReportsMediaPorts(t *testing.T) {
	d := NewSimDevice(3)
	d.PushMedia(2, []byte{1, 2, 3})

	res, err := d.Poll(time.Second)
	require.NoError(t, err)
	assert.False(t, res.Events)
	assert.Equal(t, []int{2}, res.Media)

	buf := make([]byte, media.TransportBufferLen)
	n, err := d.Sim(2).ReadPacket(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
}

func TestSimHookTracksPushes(t *testing.T) {
	d := NewSimDevice(1)

	h, err := d.Sim(0).HookStatus()
	require.NoError(t, err)
	assert.Equal(t, HookOn, h)

	d.PushHook(0, true)
	h, err = d.Sim(0).HookStatus()
	require.NoError(t, err)
	assert.Equal(t, HookOff, h)

	ev, err := d.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, EventHookOff, ev.Kind)
}

func TestSimCloseUnblocksPoll(t *testing.T) {
	d := NewSimDevice(1)

	done := make(chan error, 1)
	go func() {
		_, err := d.Poll(time.Minute)
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, d.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeviceClosed)
	case <-time.After(time.Second):
		t.Fatal("poll did not return after close")
	}
}
