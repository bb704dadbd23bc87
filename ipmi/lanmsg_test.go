package ipmi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildRequest(netFnLUN, rqSeqLUN, cmd uint8, data []byte) []byte {
	b := []byte{RequesterBMCAddress, netFnLUN, 0, ResponderBMCAddress, rqSeqLUN, cmd}
	b[2] = Checksum8(b[:2])
	b = append(b, data...)
	b = append(b, Checksum8(b[3:]))
	return b
}

func TestParseLANRequest(t *testing.T) {
	wire := buildRequest(NetFnAppRequest<<2, 1<<2, CmdCloseSession, []byte{0xAA, 0xBB})
	req, err := ParseLANRequest(wire)
	require.NoError(t, err)
	require.Equal(t, uint8(RequesterBMCAddress), req.RsAddr)
	require.Equal(t, uint8(NetFnAppRequest), req.NetFn())
	require.Equal(t, uint8(ResponderBMCAddress), req.RqAddr)
	require.Equal(t, uint8(CmdCloseSession), req.Cmd)
	require.Equal(t, []byte{0xAA, 0xBB}, req.Data)
}

func TestParseLANRequestRejectsBadChecksum(t *testing.T) {
	wire := buildRequest(NetFnAppRequest<<2, 0, CmdCloseSession, nil)
	wire[len(wire)-1] ^= 0xFF
	_, err := ParseLANRequest(wire)
	require.Error(t, err)
}

func TestBuildLANResponseRoundTrips(t *testing.T) {
	reqWire := buildRequest(NetFnAppRequest<<2, 3<<2, CmdSetSessionPrivilegeLevel, []byte{0x04})
	req, err := ParseLANRequest(reqWire)
	require.NoError(t, err)

	resp := BuildLANResponse(req, CCNormal, []byte{0x04})

	require.Equal(t, uint8(0), checksumOf(resp[:2])+resp[2])
	require.Equal(t, uint8(0), checksumOf(resp[3:len(resp)-1])+resp[len(resp)-1])

	respReq, err := ParseLANRequest(resp)
	require.NoError(t, err)
	require.Equal(t, req.RqAddr, respReq.RsAddr)
	require.Equal(t, req.NetFn()+1, respReq.NetFn())
	require.Equal(t, req.Cmd, respReq.Cmd)
	require.Equal(t, byte(CCNormal), respReq.Data[0])
}
