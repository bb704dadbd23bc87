package sol

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Sender transmits one SOL payload to the remote console over the owning
// session, the Go stand-in for message::Handler::sendSOLPayload.
type Sender interface {
	SendSOLPayload(sessionID uint32, instance uint8, payload []byte) error
}

// timing is the subset of Manager's configuration a Context reads when
// (re)arming its timers — fetched fresh each time, matching the original's
// enableAccumulateTimer/enableRetryTimer pulling the interval from the
// Manager rather than caching it at construction.
type timing interface {
	AccumulateInterval() time.Duration
	RetryInterval() time.Duration
}

// Context is one active SOL payload instance: one per activated session,
// keyed by payload instance number. It owns the instance's sequence state,
// retry bookkeeping, and the two cooperative timers described in spec.md §5
// (this daemon being single-threaded, the timers are plain time.Timer
// objects whose channels the caller's event loop selects on, rather than
// callback-driven as in the original's boost::asio version). Mirrors
// sol::Context.
type Context struct {
	Instance  uint8
	SessionID uint32

	maxRetryCount uint8
	retryCounter  uint8
	sendThreshold uint8

	buffer *ConsoleBuffer
	sender Sender
	timing timing

	seq                sequenceNumbers
	expectedCharCount  int
	payloadCache       []byte

	accumulateTimer *time.Timer
	retryTimer      *time.Timer
}

// NewContext constructs a Context and starts its accumulate timer, mirroring
// Context::makeContext.
func NewContext(instance uint8, sessionID uint32, maxRetryCount, sendThreshold uint8, buffer *ConsoleBuffer, sender Sender, t timing) *Context {
	c := &Context{
		Instance:      instance,
		SessionID:     sessionID,
		maxRetryCount: maxRetryCount,
		retryCounter:  maxRetryCount,
		sendThreshold: sendThreshold,
		buffer:        buffer,
		sender:        sender,
		timing:        t,
		seq:           newSequenceNumbers(),
	}
	c.EnableAccumulateTimer(true)
	return c
}

// Close stops both timers, releasing the goroutine-free resources a Context
// holds. Call this on Deactivate Payload or session teardown (spec.md §4.5).
func (c *Context) Close() {
	c.EnableAccumulateTimer(false)
	c.EnableRetryTimer(false)
}

// AccumulateTimerC exposes the accumulate timer's channel for the daemon's
// single event-loop select, or nil if the timer is currently disabled.
func (c *Context) AccumulateTimerC() <-chan time.Time {
	if c.accumulateTimer == nil {
		return nil
	}
	return c.accumulateTimer.C
}

// RetryTimerC exposes the retry timer's channel for the event-loop select,
// or nil if the timer is currently disabled.
func (c *Context) RetryTimerC() <-chan time.Time {
	if c.retryTimer == nil {
		return nil
	}
	return c.retryTimer.C
}

func (c *Context) EnableAccumulateTimer(enable bool) {
	if c.accumulateTimer != nil {
		c.accumulateTimer.Stop()
		c.accumulateTimer = nil
	}
	if enable {
		c.accumulateTimer = time.NewTimer(c.timing.AccumulateInterval())
	}
}

func (c *Context) EnableRetryTimer(enable bool) {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if enable {
		c.retryTimer = time.NewTimer(c.timing.RetryInterval())
	}
}

// ProcessInboundPayload handles one SOL packet from the remote console:
// sequence/ack validation, retry-on-NACK-or-mismatch, buffer erase on
// acknowledged delivery, writing any carried data to the host console, and
// preparing the response packet. Mirrors Context::processInboundPayload
// exactly, including its branch order.
func (c *Context) ProcessInboundPayload(seqNum, ackSeqNum, count uint8, nack bool, data []byte, writeConsole func([]byte) error) {
	var respAckSeqNum uint8
	var acceptedCount uint8
	ack := false

	if seqNum != 0 && seqNum != c.seq.get(true) {
		log.Debug("sol: out of sequence packet, dropped")
		return
	}

	if ackSeqNum != 0 && ackSeqNum != c.seq.get(false) {
		log.Debug("sol: out of sequence ack, dropped")
		return
	}

	if nack || (count != uint8(c.expectedCharCount) && ackSeqNum != 0) {
		c.resendPayload(false)
		c.EnableRetryTimer(false)
		c.EnableRetryTimer(true)
		return
	} else if count == uint8(c.expectedCharCount) && ackSeqNum != 0 {
		c.buffer.Erase(int(count))
		c.EnableRetryTimer(false)
		c.retryCounter = c.maxRetryCount
		c.expectedCharCount = 0
		c.payloadCache = nil
	}

	if len(data) > 0 && seqNum != 0 {
		if writeConsole != nil {
			if err := writeConsole(data); err != nil {
				log.WithError(err).Warn("sol: writing to host console failed")
				ack = true
			} else {
				respAckSeqNum = seqNum
				acceptedCount = uint8(len(data))
			}
		}
	} else if len(data) == 0 && seqNum != 0 {
		respAckSeqNum = seqNum
	}

	if seqNum != 0 {
		c.seq.incrementInbound()
		c.prepareResponse(respAckSeqNum, acceptedCount, ack)
	} else {
		c.EnableAccumulateTimer(true)
	}
}

// prepareResponse sends either a bare ack (an earlier outbound packet is
// still awaiting its ack, or the console buffer is below the send
// threshold) or piggybacks up to
// MaxPayloadSize bytes of console data on the ack. Mirrors
// Context::prepareResponse.
func (c *Context) prepareResponse(ackSeqNum, count uint8, ack bool) {
	bufferSize := c.buffer.Size()

	if len(c.payloadCache) != 0 || bufferSize < int(c.sendThreshold) {
		c.EnableAccumulateTimer(true)
		out := Payload{PacketSeqNum: 0, PacketAckSeqNum: ackSeqNum, AcceptedCharCount: count, NACK: ack}
		c.sendPayload(out.Marshal())
		return
	}

	readSize := bufferSize
	if readSize > MaxPayloadSize {
		readSize = MaxPayloadSize
	}
	data := c.buffer.Read(readSize)

	out := Payload{
		PacketAckSeqNum:   ackSeqNum,
		AcceptedCharCount: count,
		NACK:              ack,
		PacketSeqNum:      c.seq.incrementOutbound(),
		Data:              data,
	}
	c.expectedCharCount = readSize
	c.payloadCache = out.Marshal()

	c.EnableRetryTimer(true)
	c.EnableAccumulateTimer(false)

	c.sendPayload(c.payloadCache)
}

// SendOutboundPayload reads pending console data and sends it as a new
// outbound SOL packet. Returns false if a send is already outstanding
// (payloadCache non-empty), in which case the accumulate timer is rearmed
// instead. Mirrors Context::sendOutboundPayload.
func (c *Context) SendOutboundPayload() bool {
	if len(c.payloadCache) != 0 {
		c.EnableAccumulateTimer(true)
		return false
	}

	bufferSize := c.buffer.Size()
	readSize := bufferSize
	if readSize > MaxPayloadSize {
		readSize = MaxPayloadSize
	}
	data := c.buffer.Read(readSize)

	out := Payload{PacketSeqNum: c.seq.incrementOutbound(), Data: data}
	c.expectedCharCount = readSize
	c.payloadCache = out.Marshal()

	c.EnableRetryTimer(true)
	c.EnableAccumulateTimer(false)

	c.sendPayload(c.payloadCache)
	return true
}

// resendPayload resends the cached outbound payload. When clear is true
// (retry count exhausted), the accepted bytes are dropped from the console
// buffer and the cache cleared — fixing a subtle bug in the original, where
// expectedCharCount was zeroed before being used to erase, so the buffer
// erase silently became a no-op; here the erase runs on the byte count
// that was actually outstanding (see DESIGN.md, Open Question Decisions).
func (c *Context) resendPayload(clear bool) {
	c.sendPayload(c.payloadCache)

	if clear {
		c.buffer.Erase(c.expectedCharCount)
		c.payloadCache = nil
		c.expectedCharCount = 0
	}
}

func (c *Context) sendPayload(out []byte) {
	if err := c.sender.SendSOLPayload(c.SessionID, c.Instance, out); err != nil {
		log.WithError(err).Warn("sol: send payload failed")
	}
}

// HandleAccumulateTimer fires when the accumulate timer expires: if there is
// pending console data, send it as a new outbound packet; otherwise rearm.
// Mirrors Context::charAccTimerHandler.
func (c *Context) HandleAccumulateTimer() {
	if c.buffer.Size() > 0 {
		if c.SendOutboundPayload() {
			return
		}
	}
	c.EnableAccumulateTimer(true)
}

// HandleRetryTimer fires when the retry timer expires: resend with retries
// remaining, or on exhaustion resend once more, drop the outstanding bytes,
// and fall back to the accumulate timer. Mirrors Context::retryTimerHandler.
func (c *Context) HandleRetryTimer() {
	if c.retryCounter > 0 {
		c.retryCounter--
		c.EnableRetryTimer(true)
		c.resendPayload(false)
		return
	}
	c.retryCounter = c.maxRetryCount
	c.resendPayload(true)
	c.EnableRetryTimer(false)
	c.EnableAccumulateTimer(true)
}
