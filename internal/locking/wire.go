package locking

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
)

// Wire serialization for shard RPC (spec §6): a tag-byte discriminator
// followed by field-wise little-endian encoding of primitives,
// length-prefixed buffers/vectors, and length-prefixed nested elements for
// pair/map encodings. This is a custom protocol, not a generic RPC
// framework (see SPEC_FULL.md's DOMAIN STACK note on why no gRPC/protobuf
// dependency is used here): the wire format itself *is* the spec.

// RequestTag discriminates the shard RPC request union.
type RequestTag byte

const (
	TagTryLock RequestTag = iota + 1
	TagPrepare
	TagCommit
	TagRollback
	TagGetTickets
)

// Request is the decoded form of one shard RPC call.
type Request struct {
	Tag      RequestTag
	Ticket   ticket.Number
	BrokerID string
	Key      []byte
	Mode     LockMode
	FirstLock bool
	Updates  []Update
}

// Response mirrors the taxonomy in spec §4.1: exactly one of Value (on
// success) or Err (on failure) is meaningful, except for GetTickets, which
// uses Tickets.
type Response struct {
	Value   []byte
	Err     error
	Tickets []TicketSnapshot
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putBuffer(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func putString(buf *bytes.Buffer, s string) { putBuffer(buf, []byte(s)) }

func putBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

type byteReader struct {
	b []byte
}

func (r *byteReader) uint64() (uint64, error) {
	if len(r.b) < 8 {
		return 0, fmt.Errorf("wire: short read for uint64")
	}
	v := binary.LittleEndian.Uint64(r.b[:8])
	r.b = r.b[8:]
	return v, nil
}

func (r *byteReader) uint32() (uint32, error) {
	if len(r.b) < 4 {
		return 0, fmt.Errorf("wire: short read for uint32")
	}
	v := binary.LittleEndian.Uint32(r.b[:4])
	r.b = r.b[4:]
	return v, nil
}

func (r *byteReader) byte() (byte, error) {
	if len(r.b) < 1 {
		return 0, fmt.Errorf("wire: short read for byte")
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v, nil
}

func (r *byteReader) bool() (bool, error) {
	v, err := r.byte()
	return v != 0, err
}

func (r *byteReader) buffer() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.b)) < n {
		return nil, fmt.Errorf("wire: short read for buffer of %d bytes", n)
	}
	out := append([]byte(nil), r.b[:n]...)
	r.b = r.b[n:]
	return out, nil
}

func (r *byteReader) string() (string, error) {
	b, err := r.buffer()
	return string(b), err
}

// EncodeRequest serializes req per the shard RPC wire format.
func EncodeRequest(req Request) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(req.Tag))
	switch req.Tag {
	case TagTryLock:
		putUint64(&buf, uint64(req.Ticket))
		putString(&buf, req.BrokerID)
		putBuffer(&buf, req.Key)
		buf.WriteByte(byte(req.Mode))
		putBool(&buf, req.FirstLock)
	case TagPrepare:
		putUint64(&buf, uint64(req.Ticket))
		putString(&buf, req.BrokerID)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(req.Updates)))
		buf.Write(lenBuf[:])
		for _, u := range req.Updates {
			putBuffer(&buf, u.Key)
			putBuffer(&buf, u.Value)
		}
	case TagCommit, TagRollback:
		putUint64(&buf, uint64(req.Ticket))
	case TagGetTickets:
		// no fields
	}
	return buf.Bytes()
}

// DecodeRequest parses a shard RPC request from the wire format.
func DecodeRequest(data []byte) (Request, error) {
	if len(data) == 0 {
		return Request{}, fmt.Errorf("wire: empty request")
	}
	tag := RequestTag(data[0])
	r := &byteReader{b: data[1:]}
	var req Request
	req.Tag = tag
	switch tag {
	case TagTryLock:
		t, err := r.uint64()
		if err != nil {
			return Request{}, err
		}
		req.Ticket = ticket.Number(t)
		broker, err := r.string()
		if err != nil {
			return Request{}, err
		}
		req.BrokerID = broker
		key, err := r.buffer()
		if err != nil {
			return Request{}, err
		}
		req.Key = key
		mode, err := r.byte()
		if err != nil {
			return Request{}, err
		}
		req.Mode = LockMode(mode)
		first, err := r.bool()
		if err != nil {
			return Request{}, err
		}
		req.FirstLock = first
	case TagPrepare:
		t, err := r.uint64()
		if err != nil {
			return Request{}, err
		}
		req.Ticket = ticket.Number(t)
		broker, err := r.string()
		if err != nil {
			return Request{}, err
		}
		req.BrokerID = broker
		n, err := r.uint32()
		if err != nil {
			return Request{}, err
		}
		updates := make([]Update, 0, n)
		for i := uint32(0); i < n; i++ {
			k, err := r.buffer()
			if err != nil {
				return Request{}, err
			}
			v, err := r.buffer()
			if err != nil {
				return Request{}, err
			}
			updates = append(updates, Update{Key: k, Value: v})
		}
		req.Updates = updates
	case TagCommit, TagRollback:
		t, err := r.uint64()
		if err != nil {
			return Request{}, err
		}
		req.Ticket = ticket.Number(t)
	case TagGetTickets:
		// no fields
	default:
		return Request{}, fmt.Errorf("wire: unknown request tag %d", tag)
	}
	return req, nil
}

// errCode/codeErr round-trip the taxonomy in errors.go across the wire as a
// single byte; 0 means "no error".
var errCodes = []error{nil, ErrWounded, ErrPrepared, ErrNotPrepared, ErrLockQueued, ErrLockHeld, ErrLockNotHeld, ErrStateUpdateWithReadLock, ErrUnknownTicket}

func errCode(err error) byte {
	for i, e := range errCodes {
		if e == err {
			return byte(i)
		}
	}
	if err != nil {
		return 0xff
	}
	return 0
}

func codeErr(b byte) error {
	if int(b) < len(errCodes) {
		return errCodes[b]
	}
	return fmt.Errorf("wire: unrecognized error code %d", b)
}

// EncodeResponse serializes resp for the request tag it answers.
func EncodeResponse(tag RequestTag, resp Response) []byte {
	var buf bytes.Buffer
	if tag == TagGetTickets {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(resp.Tickets)))
		buf.Write(lenBuf[:])
		for _, snap := range resp.Tickets {
			putUint64(&buf, uint64(snap.Ticket))
			buf.WriteByte(byte(snap.State))
		}
		return buf.Bytes()
	}
	buf.WriteByte(errCode(resp.Err))
	if resp.Err == nil {
		putBuffer(&buf, resp.Value)
	}
	return buf.Bytes()
}

// DecodeResponse parses resp for the request tag it answers.
func DecodeResponse(tag RequestTag, data []byte) (Response, error) {
	if tag == TagGetTickets {
		r := &byteReader{b: data}
		n, err := r.uint32()
		if err != nil {
			return Response{}, err
		}
		snaps := make([]TicketSnapshot, 0, n)
		for i := uint32(0); i < n; i++ {
			t, err := r.uint64()
			if err != nil {
				return Response{}, err
			}
			st, err := r.byte()
			if err != nil {
				return Response{}, err
			}
			snaps = append(snaps, TicketSnapshot{Ticket: ticket.Number(t), State: TicketState(st)})
		}
		return Response{Tickets: snaps}, nil
	}
	r := &byteReader{b: data}
	code, err := r.byte()
	if err != nil {
		return Response{}, err
	}
	if code != 0 {
		return Response{Err: codeErr(code)}, nil
	}
	val, err := r.buffer()
	if err != nil {
		return Response{}, err
	}
	return Response{Value: val}, nil
}
