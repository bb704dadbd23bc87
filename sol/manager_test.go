package sol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(&fakeSender{})

	assert.True(t, m.Enable)
	assert.True(t, m.ForceEncrypt)
	assert.True(t, m.ForceAuth)
	assert.EqualValues(t, 7, m.RetryCount)
	assert.EqualValues(t, 1, m.SendThreshold)
	assert.EqualValues(t, 1, m.Channel)
}

func TestStartPayloadInstanceRejectsDuplicate(t *testing.T) {
	m := NewManager(&fakeSender{})

	_, err := m.StartPayloadInstance(1, 100)
	require.NoError(t, err)

	_, err = m.StartPayloadInstance(1, 200)
	assert.Error(t, err, "a second start on the same instance must fail")
}

func TestStopPayloadInstanceClosesTimersAndSubscribers(t *testing.T) {
	m := NewManager(&fakeSender{})
	ctx, err := m.StartPayloadInstance(2, 100)
	require.NoError(t, err)
	require.NotNil(t, ctx.AccumulateTimerC())

	ch := m.Subscribe(2)
	m.StopPayloadInstance(2)

	assert.Nil(t, ctx.AccumulateTimerC(), "stopping the instance must stop its accumulate timer")
	assert.Nil(t, ctx.RetryTimerC(), "stopping the instance must stop its retry timer")

	_, ok := <-ch
	assert.False(t, ok, "stopping the instance must close its subscriber channels")

	_, ok = m.GetContext(2)
	assert.False(t, ok)
}

func TestWriteHostConsoleBroadcastsToSubscribers(t *testing.T) {
	m := NewManager(&fakeSender{})
	_, err := m.StartPayloadInstance(3, 100)
	require.NoError(t, err)

	ch := m.Subscribe(3)
	m.WriteHostConsole(3, []byte("hello"))

	select {
	case got := <-ch:
		assert.Equal(t, []byte("hello"), got)
	default:
		t.Fatal("expected broadcast data on subscriber channel")
	}
}
