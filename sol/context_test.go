package sol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTiming struct {
	accumulate time.Duration
	retry      time.Duration
}

func (f fakeTiming) AccumulateInterval() time.Duration { return f.accumulate }
func (f fakeTiming) RetryInterval() time.Duration      { return f.retry }

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) SendSOLPayload(sessionID uint32, instance uint8, payload []byte) error {
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func newTestContext() (*Context, *fakeSender, *ConsoleBuffer) {
	sender := &fakeSender{}
	buf := NewConsoleBuffer()
	t := fakeTiming{accumulate: time.Hour, retry: time.Hour}
	ctx := NewContext(1, 42, 3, 1, buf, sender, t)
	return ctx, sender, buf
}

func TestSequenceNumbersWrapAtMax(t *testing.T) {
	s := newSequenceNumbers()
	assert.Equal(t, uint8(1), s.get(true))
	assert.Equal(t, uint8(0), s.get(false))

	for i := uint8(1); i < maxSequenceNumber-1; i++ {
		s.incrementInbound()
	}
	assert.Equal(t, uint8(maxSequenceNumber-1), s.get(true))
	s.incrementInbound()
	assert.Equal(t, uint8(1), s.get(true), "sequence must wrap from 0x10 back to 1, never to 0")

	var last uint8
	for i := 0; i < int(maxSequenceNumber-1); i++ {
		last = s.incrementOutbound()
	}
	assert.Equal(t, uint8(maxSequenceNumber-1), last)
	last = s.incrementOutbound()
	assert.Equal(t, uint8(1), last)
}

func TestSendOutboundPayloadArmsRetryTimer(t *testing.T) {
	ctx, sender, buf := newTestContext()
	buf.Write([]byte("hello"))

	ok := ctx.SendOutboundPayload()
	require.True(t, ok)
	require.Len(t, sender.sent, 1)

	p, valid := ParsePayload(sender.sent[0])
	require.True(t, valid)
	assert.Equal(t, uint8(1), p.PacketSeqNum)
	assert.Equal(t, []byte("hello"), p.Data)
	assert.NotNil(t, ctx.RetryTimerC(), "sending an outbound payload must arm the retry timer")
}

func TestProcessInboundPayloadAckMatchErasesBuffer(t *testing.T) {
	ctx, _, buf := newTestContext()
	buf.Write([]byte("data"))
	ctx.SendOutboundPayload()
	require.Equal(t, 4, ctx.expectedCharCount)

	ctx.ProcessInboundPayload(0, 1, 4, false, nil, nil)

	assert.Equal(t, 0, buf.Size(), "matching ack+count must erase the acknowledged bytes")
	assert.Equal(t, ctx.maxRetryCount, ctx.retryCounter)
	assert.Nil(t, ctx.payloadCache)
}

func TestProcessInboundPayloadNackTriggersResend(t *testing.T) {
	ctx, sender, buf := newTestContext()
	buf.Write([]byte("data"))
	ctx.SendOutboundPayload()
	require.Len(t, sender.sent, 1)

	ctx.ProcessInboundPayload(0, 1, 0, true, nil, nil)

	assert.Len(t, sender.sent, 2, "a NACK must resend the cached payload")
	assert.Equal(t, 4, buf.Size(), "a NACK must not erase buffered bytes")
}

func TestProcessInboundPayloadOutOfSequenceDropped(t *testing.T) {
	ctx, sender, _ := newTestContext()
	ctx.seq.in = 3

	ctx.ProcessInboundPayload(1, 0, 0, false, []byte("x"), func([]byte) error { return nil })

	assert.Empty(t, sender.sent, "an out-of-sequence inbound packet must be dropped silently")
	assert.Equal(t, uint8(3), ctx.seq.in)
}

func TestProcessInboundPayloadWritesConsoleData(t *testing.T) {
	ctx, sender, _ := newTestContext()
	var written []byte
	writeConsole := func(b []byte) error {
		written = append(written, b...)
		return nil
	}

	ctx.ProcessInboundPayload(1, 0, 0, false, []byte("login:"), writeConsole)

	assert.Equal(t, []byte("login:"), written)
	assert.Equal(t, uint8(2), ctx.seq.in, "a matched inbound sequence must advance")
	require.Len(t, sender.sent, 1)
}

// TestRetryExhaustionDropsOutstandingBytes covers the S6 scenario: once the
// retry count is exhausted, the bytes the remote console never acknowledged
// are dropped from the console buffer and the accumulate timer resumes.
func TestRetryExhaustionDropsOutstandingBytes(t *testing.T) {
	ctx, sender, buf := newTestContext()
	buf.Write([]byte("data"))
	ctx.SendOutboundPayload()
	require.Equal(t, 4, ctx.expectedCharCount)

	for i := 0; i < int(ctx.maxRetryCount); i++ {
		ctx.HandleRetryTimer()
	}
	ctx.HandleRetryTimer()

	assert.Equal(t, 0, buf.Size(), "after retryCount expiries the outstanding bytes must be dropped")
	assert.Equal(t, ctx.maxRetryCount, ctx.retryCounter, "retry counter resets after exhaustion")
	assert.NotNil(t, ctx.AccumulateTimerC(), "accumulate timer must resume after retry exhaustion")
	assert.Nil(t, ctx.RetryTimerC())
	assert.True(t, len(sender.sent) >= int(ctx.maxRetryCount)+1)
}

func TestCloseDisablesBothTimers(t *testing.T) {
	ctx, _, buf := newTestContext()
	buf.Write([]byte("x"))
	ctx.SendOutboundPayload()
	require.NotNil(t, ctx.RetryTimerC())

	ctx.Close()

	assert.Nil(t, ctx.AccumulateTimerC())
	assert.Nil(t, ctx.RetryTimerC())
}
