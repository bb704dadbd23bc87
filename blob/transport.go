package blob

import (
	"fmt"
	"io"
	"net"
)

// Transport bitmask values, carried in the upper byte of the open() flags
// field (FirmwareFlags::UpdateFlags in the original). Exactly one must be
// set for an open() call to succeed.
const (
	TransportInband         uint16 = 1 << 8
	TransportMemoryBridgeA  uint16 = 1 << 9
	TransportMemoryBridgeB  uint16 = 1 << 10
	TransportTCPBridge      uint16 = 1 << 11
	transportMask           uint16 = 0xff00
)

// Transport moves bytes into the firmware handler from somewhere other than
// the IPMI message payload itself: a memory-mapped bridge window, or (here)
// a loopback TCP stream. Mirrors ipmi_flash::DataInterface.
type Transport interface {
	Open() bool
	Close() bool
	CopyFrom(length uint32) []byte
	WriteMeta(configuration []byte) bool
	ReadMeta() []byte
}

// inbandTransport is the no-op transport for the in-band case: the payload
// bytes travel directly in the IPMI write request, so there is nothing to
// bridge. Present so the transport table always has an entry for bit 8,
// matching the original's DataHandlerPack list always carrying one.
type inbandTransport struct{}

func (inbandTransport) Open() bool                  { return true }
func (inbandTransport) Close() bool                 { return true }
func (inbandTransport) CopyFrom(uint32) []byte       { return nil }
func (inbandTransport) WriteMeta([]byte) bool        { return false }
func (inbandTransport) ReadMeta() []byte              { return nil }

// memoryBridgeTransport stands in for the aspeed/nuvoton P2A or LPC
// memory-mapped bridges (lpc_aspeed.cpp, pci_handler.cpp in the original):
// the real IOCTL/mmap backing is out of scope, so this implements the same
// copyFrom/writeMeta contract against an in-process byte window, leaving a
// single seam (the window field) where a real bridge backend would plug in.
type memoryBridgeTransport struct {
	name   string
	window []byte
}

func newMemoryBridgeTransport(name string) *memoryBridgeTransport {
	return &memoryBridgeTransport{name: name}
}

func (t *memoryBridgeTransport) Open() bool  { return true }
func (t *memoryBridgeTransport) Close() bool { t.window = nil; return true }

func (t *memoryBridgeTransport) CopyFrom(length uint32) []byte {
	if int(length) > len(t.window) {
		length = uint32(len(t.window))
	}
	out := make([]byte, length)
	copy(out, t.window[:length])
	return out
}

func (t *memoryBridgeTransport) WriteMeta(configuration []byte) bool {
	t.window = append([]byte(nil), configuration...)
	return true
}

func (t *memoryBridgeTransport) ReadMeta() []byte {
	return append([]byte(nil), t.window...)
}

// tcpBridgeTransport opens a loopback TCP listener per upload and streams
// bytes from whatever connects to it. Unlike the memory-bridge stand-ins,
// this bridge really is reachable over the network, so it doubles as the
// integration-test seam for exercising the non-in-band write path.
type tcpBridgeTransport struct {
	listener net.Listener
	conn     net.Conn
	meta     []byte
}

func newTCPBridgeTransport() *tcpBridgeTransport {
	return &tcpBridgeTransport{}
}

func (t *tcpBridgeTransport) Open() bool {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return false
	}
	t.listener = l
	return true
}

func (t *tcpBridgeTransport) Close() bool {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	if t.listener != nil {
		t.listener.Close()
		t.listener = nil
	}
	return true
}

// Addr returns the bridge's listen address, so a caller can dial it to feed
// bytes for a subsequent CopyFrom. Out-of-band relative to the DataInterface
// contract, but needed since Go has no analog to handing out a raw fd.
func (t *tcpBridgeTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *tcpBridgeTransport) CopyFrom(length uint32) []byte {
	if t.conn == nil {
		if t.listener == nil {
			return nil
		}
		conn, err := t.listener.Accept()
		if err != nil {
			return nil
		}
		t.conn = conn
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return nil
	}
	return buf
}

func (t *tcpBridgeTransport) WriteMeta(configuration []byte) bool {
	t.meta = append([]byte(nil), configuration...)
	return true
}

func (t *tcpBridgeTransport) ReadMeta() []byte {
	return append([]byte(nil), t.meta...)
}

// DefaultTransports builds the standard transport table: in-band plus one
// memory-bridge stand-in per side (A/B, e.g. aspeed/nuvoton) plus the TCP
// bridge. Mirrors the original's DataHandlerPack list built in main.cpp.
// Exported for the cmd/ entrypoints that construct a Handler at startup.
func DefaultTransports() map[uint16]Transport {
	return map[uint16]Transport{
		TransportInband:        inbandTransport{},
		TransportMemoryBridgeA: newMemoryBridgeTransport("bridge-a"),
		TransportMemoryBridgeB: newMemoryBridgeTransport("bridge-b"),
		TransportTCPBridge:     newTCPBridgeTransport(),
	}
}

func selectTransport(transports map[uint16]Transport, flags uint16) (Transport, uint16, error) {
	bit := flags & transportMask
	switch bit {
	case 0:
		return nil, 0, fmt.Errorf("blob: no transport bit set")
	case TransportInband, TransportMemoryBridgeA, TransportMemoryBridgeB, TransportTCPBridge:
	default:
		return nil, 0, fmt.Errorf("blob: more than one transport bit set (0x%x)", bit)
	}
	t, ok := transports[bit]
	if !ok {
		return nil, 0, fmt.Errorf("blob: transport 0x%x not available", bit)
	}
	return t, bit, nil
}
