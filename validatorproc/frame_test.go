package validatorproc

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/coreshell/coretypes"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello validator")
	require.NoError(t, writeFrame(&buf, payload))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, nil))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // far beyond maxFrameSize

	_, err := readFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameRejectsTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x10}) // claims 16 bytes
	buf.Write([]byte{0x01, 0x02})             // only 2 present

	_, err := readFrame(&buf)
	require.Error(t, err)
}

func TestEncodeRequestAndDecodeEnvelope(t *testing.T) {
	req := CommitGenesisRequest{ChainID: "main"}
	raw, err := encodeRequest(KindCommitGenesis, &req)
	require.NoError(t, err)

	var env request
	require.NoError(t, rlp.DecodeBytes(raw, &env))
	require.Equal(t, KindCommitGenesis, env.Kind)

	var decoded CommitGenesisRequest
	require.NoError(t, rlp.DecodeBytes(env.Payload, &decoded))
	require.Equal(t, req, decoded)
}

func TestEncodeOkAndErrRoundTrip(t *testing.T) {
	store := ValidationStore{ContextHash: coretypes.ContextHash{0x1}, Fitness: [][]byte{{0x01}}}
	okRaw, err := encodeOk(&store)
	require.NoError(t, err)

	var okResp response
	require.NoError(t, rlp.DecodeBytes(okRaw, &okResp))
	require.True(t, okResp.Ok)

	var decodedStore ValidationStore
	require.NoError(t, rlp.DecodeBytes(okResp.Payload, &decodedStore))
	require.Equal(t, store, decodedStore)

	errRaw, err := encodeErr([]string{"boom"})
	require.NoError(t, err)
	var errResp response
	require.NoError(t, rlp.DecodeBytes(errRaw, &errResp))
	require.False(t, errResp.Ok)
	require.Equal(t, []string{"boom"}, errResp.Trace)
}
