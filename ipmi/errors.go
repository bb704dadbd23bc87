package ipmi

import "errors"

// Error taxonomy for the binary codec layer. These never cross the RAKP or
// blob RPC boundary as Go errors — they are the leaf-level parse failures
// that higher layers translate into the closed status-code sets named in
// spec.md §7.
var (
	ErrShortPacket     = errors.New("ipmi: packet shorter than declared header/payload length")
	ErrBadRMCPVersion  = errors.New("ipmi: unexpected RMCP version")
	ErrBadRMCPClass    = errors.New("ipmi: unexpected RMCP class of message")
	ErrBadIntegrityPad = errors.New("ipmi: integrity pad length mismatch")
	ErrBadAuthCode     = errors.New("ipmi: AuthCode verification failed")
)
