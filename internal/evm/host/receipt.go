package host

import (
	"encoding/binary"
	"errors"
)

// EncodeReceipt serializes r for persistence under its transaction hash
// (spec §6 "receipts serialized as the receipt record"). Layout: status
// byte, gas_used uint64 LE, created flag + 20-byte address, output
// length-prefixed, log count then length-prefixed address/topics/data per
// log.
func EncodeReceipt(r Receipt) []byte {
	var out []byte
	out = append(out, byte(r.Status))
	var gasBuf [8]byte
	binary.LittleEndian.PutUint64(gasBuf[:], r.GasUsed)
	out = append(out, gasBuf[:]...)

	if r.CreatedAddress != nil {
		out = append(out, 1)
		out = append(out, r.CreatedAddress[:]...)
	} else {
		out = append(out, 0)
	}

	out = appendUint32Buffer(out, r.Output)
	out = appendUint32Buffer(out, r.RawTx)

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(r.Logs)))
	out = append(out, countBuf[:]...)
	for _, lg := range r.Logs {
		out = append(out, lg.Address[:]...)
		var topicsCount [4]byte
		binary.LittleEndian.PutUint32(topicsCount[:], uint32(len(lg.Topics)))
		out = append(out, topicsCount[:]...)
		for _, tp := range lg.Topics {
			out = append(out, tp[:]...)
		}
		out = appendUint32Buffer(out, lg.Data)
	}
	return out
}

func appendUint32Buffer(dst []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...)
}

// DecodeReceipt parses a serialized receipt produced by EncodeReceipt.
func DecodeReceipt(b []byte) (Receipt, error) {
	var r Receipt
	if len(b) < 1+8+1+4+4+4 {
		return r, errShortReceipt
	}
	r.Status = Status(b[0])
	r.GasUsed = binary.LittleEndian.Uint64(b[1:9])
	pos := 9
	if b[pos] == 1 {
		var addr [20]byte
		copy(addr[:], b[pos+1:pos+21])
		r.CreatedAddress = &addr
		pos += 21
	} else {
		pos++
	}

	outLen := binary.LittleEndian.Uint32(b[pos : pos+4])
	pos += 4
	r.Output = append([]byte(nil), b[pos:pos+int(outLen)]...)
	pos += int(outLen)

	rawTxLen := binary.LittleEndian.Uint32(b[pos : pos+4])
	pos += 4
	r.RawTx = append([]byte(nil), b[pos:pos+int(rawTxLen)]...)
	pos += int(rawTxLen)

	logCount := binary.LittleEndian.Uint32(b[pos : pos+4])
	pos += 4
	r.Logs = make([]LogEntry, 0, logCount)
	for i := uint32(0); i < logCount; i++ {
		var lg LogEntry
		copy(lg.Address[:], b[pos:pos+20])
		pos += 20
		topicCount := binary.LittleEndian.Uint32(b[pos : pos+4])
		pos += 4
		lg.Topics = make([][32]byte, topicCount)
		for j := uint32(0); j < topicCount; j++ {
			copy(lg.Topics[j][:], b[pos:pos+32])
			pos += 32
		}
		dataLen := binary.LittleEndian.Uint32(b[pos : pos+4])
		pos += 4
		lg.Data = append([]byte(nil), b[pos:pos+int(dataLen)]...)
		pos += int(dataLen)
		r.Logs = append(r.Logs, lg)
	}
	return r, nil
}

var errShortReceipt = errors.New("evm/host: receipt buffer too short")
