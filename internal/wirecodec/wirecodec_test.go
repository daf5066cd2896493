package wirecodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTripsPrimitives(t *testing.T) {
	w := NewWriter()
	w.Byte(0x7f).Bool(true).Uint32(42).Uint64(1 << 40).Buffer([]byte("hello")).String("world")

	r := NewReader(w.Bytes())
	b, err := r.Byte()
	require.NoError(t, err)
	require.Equal(t, byte(0x7f), b)

	v, err := r.Bool()
	require.NoError(t, err)
	require.True(t, v)

	u32, err := r.Uint32()
	require.NoError(t, err)
	require.EqualValues(t, 42, u32)

	u64, err := r.Uint64()
	require.NoError(t, err)
	require.EqualValues(t, 1<<40, u64)

	buf, err := r.Buffer()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), buf)

	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "world", s)

	require.Zero(t, r.Remaining())
}

func TestReaderErrorsOnShortInput(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.Uint64()
	require.Error(t, err)

	r2 := NewReader([]byte{0x00, 0x00, 0x00, 0x05})
	_, err = r2.Buffer()
	require.Error(t, err)
}

func TestVectorRoundTrip(t *testing.T) {
	w := NewWriter()
	items := []uint32{1, 2, 3, 4}
	Vector(w, items, func(w *Writer, v uint32) { w.Uint32(v) })

	r := NewReader(w.Bytes())
	got, err := ReadVector(r, func(r *Reader) (uint32, error) { return r.Uint32() })
	require.NoError(t, err)
	require.Equal(t, items, got)
}

func TestRunnerRequestRoundTrip(t *testing.T) {
	req := RunnerRequest{FunctionKey: []byte("evm"), Param: []byte{0xde, 0xad, 0xbe, 0xef}, DryRun: true}
	got, err := DecodeRunnerRequest(EncodeRunnerRequest(req))
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestRunnerResponseRoundTripSuccess(t *testing.T) {
	resp := RunnerResponse{Updates: []Update{{Key: []byte("k1"), Value: []byte("v1")}, {Key: []byte("k2"), Value: nil}}}
	got, err := DecodeRunnerResponse(EncodeRunnerResponse(resp))
	require.NoError(t, err)
	require.Equal(t, byte(0), got.ErrorCode)
	require.Len(t, got.Updates, 2)
	require.Equal(t, resp.Updates[0], got.Updates[0])
}

func TestRunnerResponseRoundTripError(t *testing.T) {
	resp := RunnerResponse{ErrorCode: 3}
	got, err := DecodeRunnerResponse(EncodeRunnerResponse(resp))
	require.NoError(t, err)
	require.Equal(t, byte(3), got.ErrorCode)
	require.Empty(t, got.Updates)
}
