package rakp

import "github.com/google/uuid"

// GUIDLength is the wire size of the BMC GUID field in RAKP2/RAKP4.
const GUIDLength = 16

// GUID is the 16 raw bytes identifying this BMC, echoed in RAKP2 and folded
// into the RAKP4 Integrity Check Value input. The original looks this up
// over D-Bus from the chassis object, falling back to a canned value when
// that object isn't populated (e.g. under QEMU) — both are out of scope
// here per spec.md §1 (no D-Bus object publishing), so this daemon
// generates one uuid at startup and holds it for its lifetime, which is
// the same "canned fallback" behavior minus the live D-Bus lookup.
type GUID [GUIDLength]byte

// NewGUID generates a fresh random GUID via google/uuid, used once at
// daemon startup.
func NewGUID() GUID {
	var g GUID
	copy(g[:], uuid.New()[:])
	return g
}
