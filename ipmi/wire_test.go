package ipmi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRMCPHeaderRoundTrip(t *testing.T) {
	h := DefaultRMCPHeader()
	parsed, err := ParseRMCPHeader(h.Marshal())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestParseRMCPHeaderRejectsBadVersion(t *testing.T) {
	b := DefaultRMCPHeader().Marshal()
	b[0] = 0x05
	_, err := ParseRMCPHeader(b)
	require.ErrorIs(t, err, ErrBadRMCPVersion)
}

func TestPayloadTypeByteRoundTrip(t *testing.T) {
	cases := []struct {
		pt            PayloadType
		encrypted     bool
		authenticated bool
	}{
		{PayloadIPMI, false, false},
		{PayloadSOL, true, true},
		{PayloadRAKP1, false, true},
	}
	for _, c := range cases {
		b := MakePayloadTypeByte(c.pt, c.encrypted, c.authenticated)
		pt, enc, auth := SplitPayloadTypeByte(b)
		require.Equal(t, c.pt, pt)
		require.Equal(t, c.encrypted, enc)
		require.Equal(t, c.authenticated, auth)
	}
}

func TestIPMI20SessionHeaderRoundTrip(t *testing.T) {
	h := IPMI20SessionHeader{
		AuthType:        AuthTypeRMCPPlus,
		PayloadTypeByte: MakePayloadTypeByte(PayloadSOL, true, true),
		SessionID:       0xDEADBEEF,
		SessionSeq:      42,
		PayloadLen:      4,
	}
	wire := append(h.Marshal(), []byte{1, 2, 3, 4}...)
	parsed, payload, err := ParseIPMI20SessionHeader(wire)
	require.NoError(t, err)
	require.Equal(t, h, parsed)
	require.Equal(t, []byte{1, 2, 3, 4}, payload)
}

func TestIPMI15SessionHeaderRoundTrip(t *testing.T) {
	h := IPMI15SessionHeader{AuthType: AuthTypeIPMI15, SessionSeq: 1, SessionID: 0, PayloadLen: 2}
	wire := append(h.Marshal(), []byte{0xAA, 0xBB}...)
	parsed, payload, err := ParseIPMI15SessionHeader(wire)
	require.NoError(t, err)
	require.Equal(t, h, parsed)
	require.Equal(t, []byte{0xAA, 0xBB}, payload)
}

func TestChecksum8(t *testing.T) {
	data := []byte{0x20, 0x18, 0xC8}
	sum := Checksum8(data)
	full := append(append([]byte{}, data...), sum)
	var total uint8
	for _, b := range full {
		total += b
	}
	require.Equal(t, uint8(0), total)
}
