// Package wirecodec provides the buffer/serializer primitives shared by
// this runtime's binary wire formats (spec §6: "Serialization is a
// tag-byte discriminator followed by field-wise little-endian encoding
// of primitives, length-prefixed buffers and vectors, and pair/map
// encodings as nested length + elements"), plus a concrete encoder for
// the script-runner RPC framing that format describes ("a length-prefixed
// request message carrying {function_key, param, dry_run}; response is
// either the state-update map or an error code", spec §6). The
// script-runner itself is out of scope (spec §1); only its wire framing
// is implemented here, matching internal/locking/wire.go's hand-rolled
// style for the shard RPC wire format rather than a generic RPC
// framework (see SPEC_FULL.md for why no gRPC/protobuf dependency is used).
package wirecodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Writer accumulates a little-endian, length-prefixed wire encoding.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Byte appends a single raw byte.
func (w *Writer) Byte(b byte) *Writer {
	w.buf.WriteByte(b)
	return w
}

// Bool appends a one-byte boolean (1 for true, 0 for false).
func (w *Writer) Bool(v bool) *Writer {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
	return w
}

// Uint32 appends v little-endian.
func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
	return w
}

// Uint64 appends v little-endian.
func (w *Writer) Uint64(v uint64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
	return w
}

// Buffer appends b as a uint32 length prefix followed by its bytes.
func (w *Writer) Buffer(b []byte) *Writer {
	w.Uint32(uint32(len(b)))
	w.buf.Write(b)
	return w
}

// String appends s as a length-prefixed buffer of its bytes.
func (w *Writer) String(s string) *Writer { return w.Buffer([]byte(s)) }

// Vector appends a uint32 count followed by calling encodeElem for each
// element, matching the "pair/map encodings as nested length + elements"
// convention (spec §6).
func Vector[T any](w *Writer, elems []T, encodeElem func(*Writer, T)) {
	w.Uint32(uint32(len(elems)))
	for _, e := range elems {
		encodeElem(w, e)
	}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Reader consumes a Writer-produced encoding, erroring on short reads
// rather than panicking (this type decodes untrusted network input).
type Reader struct {
	b []byte
}

// NewReader wraps data for sequential decoding.
func NewReader(data []byte) *Reader { return &Reader{b: data} }

// Remaining reports how many undecoded bytes are left.
func (r *Reader) Remaining() int { return len(r.b) }

// Byte reads one raw byte.
func (r *Reader) Byte() (byte, error) {
	if len(r.b) < 1 {
		return 0, fmt.Errorf("wirecodec: short read for byte")
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v, nil
}

// Bool reads a one-byte boolean.
func (r *Reader) Bool() (bool, error) {
	v, err := r.Byte()
	return v != 0, err
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if len(r.b) < 4 {
		return 0, fmt.Errorf("wirecodec: short read for uint32")
	}
	v := binary.LittleEndian.Uint32(r.b[:4])
	r.b = r.b[4:]
	return v, nil
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	if len(r.b) < 8 {
		return 0, fmt.Errorf("wirecodec: short read for uint64")
	}
	v := binary.LittleEndian.Uint64(r.b[:8])
	r.b = r.b[8:]
	return v, nil
}

// Buffer reads a uint32-length-prefixed byte slice. The returned slice is
// a copy: it does not alias the Reader's backing array.
func (r *Reader) Buffer() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.b)) < n {
		return nil, fmt.Errorf("wirecodec: short read for buffer of %d bytes", n)
	}
	out := append([]byte(nil), r.b[:n]...)
	r.b = r.b[n:]
	return out, nil
}

// String reads a length-prefixed buffer as a string.
func (r *Reader) String() (string, error) {
	b, err := r.Buffer()
	return string(b), err
}

// ReadVector reads a uint32 count followed by count elements decoded by
// decodeElem.
func ReadVector[T any](r *Reader, decodeElem func(*Reader) (T, error)) ([]T, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := decodeElem(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Update is one key/value state update, used only by the script-runner
// RPC response framing below (the EVM side has its own locking.Update;
// this package stays independent of internal/locking to avoid a cycle).
type Update struct {
	Key   []byte
	Value []byte
}

// RunnerRequest is the decoded form of a script-runner RPC call (spec §6
// "a length-prefixed request message carrying {function_key, param,
// dry_run}").
type RunnerRequest struct {
	FunctionKey []byte
	Param       []byte
	DryRun      bool
}

// EncodeRunnerRequest serializes req per the script-runner wire framing.
func EncodeRunnerRequest(req RunnerRequest) []byte {
	w := NewWriter()
	w.Buffer(req.FunctionKey)
	w.Buffer(req.Param)
	w.Bool(req.DryRun)
	return w.Bytes()
}

// DecodeRunnerRequest parses a script-runner RPC request.
func DecodeRunnerRequest(data []byte) (RunnerRequest, error) {
	r := NewReader(data)
	fk, err := r.Buffer()
	if err != nil {
		return RunnerRequest{}, err
	}
	param, err := r.Buffer()
	if err != nil {
		return RunnerRequest{}, err
	}
	dryRun, err := r.Bool()
	if err != nil {
		return RunnerRequest{}, err
	}
	return RunnerRequest{FunctionKey: fk, Param: param, DryRun: dryRun}, nil
}

// RunnerResponse is the decoded form of a script-runner RPC reply:
// "response is either the state-update map or an error code" (spec §6).
// ErrorCode is 0 on success, with Updates populated; any nonzero code
// means the call failed and Updates is empty.
type RunnerResponse struct {
	ErrorCode byte
	Updates   []Update
}

func encodeUpdate(w *Writer, u Update) {
	w.Buffer(u.Key)
	w.Buffer(u.Value)
}

func decodeUpdate(r *Reader) (Update, error) {
	k, err := r.Buffer()
	if err != nil {
		return Update{}, err
	}
	v, err := r.Buffer()
	if err != nil {
		return Update{}, err
	}
	return Update{Key: k, Value: v}, nil
}

// EncodeRunnerResponse serializes resp per the script-runner wire framing.
func EncodeRunnerResponse(resp RunnerResponse) []byte {
	w := NewWriter()
	w.Byte(resp.ErrorCode)
	if resp.ErrorCode == 0 {
		Vector(w, resp.Updates, encodeUpdate)
	}
	return w.Bytes()
}

// DecodeRunnerResponse parses a script-runner RPC response.
func DecodeRunnerResponse(data []byte) (RunnerResponse, error) {
	r := NewReader(data)
	code, err := r.Byte()
	if err != nil {
		return RunnerResponse{}, err
	}
	if code != 0 {
		return RunnerResponse{ErrorCode: code}, nil
	}
	updates, err := ReadVector(r, decodeUpdate)
	if err != nil {
		return RunnerResponse{}, err
	}
	return RunnerResponse{Updates: updates}, nil
}
