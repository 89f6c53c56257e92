package rcon

import (
	"encoding/binary"
)

// Frame types. AUTH_RESPONSE shares the value of EXEC_COMMAND on the
// wire; direction disambiguates.
const (
	TypeResponseValue int32 = 0
	TypeChatValue     int32 = 1
	TypeExecCommand   int32 = 2
	TypeAuthResponse  int32 = 2
	TypeAuth          int32 = 3
)

// Frame id sentinels.
const (
	IDMid        int16 = 1
	IDEnd        int16 = 2
	IDAuthFailed int16 = -1
)

const (
	// headerLen covers id, count and type, the fixed bytes between the
	// size field and the body.
	headerLen = 8
	// trailerLen is the two zero bytes closing every frame.
	trailerLen = 2
	// MaxBodyLen bounds the body of a single frame.
	MaxBodyLen = 4096
	// minWireLen is an empty-body frame on the wire.
	minWireLen = 4 + headerLen + trailerLen

	// brokenStubLen is the length of the malformed reply some server
	// builds emit; see IsBrokenStub.
	brokenStubLen = 21
)

// Frame is one decoded RCON frame.
type Frame struct {
	ID    int16
	Count uint16
	Type  int32
	Body  []byte
}

// Encode serializes a frame: little-endian size prefix counting
// everything after itself, id, count, type, body, two zero bytes.
func Encode(frameType int32, id int16, count uint16, body []byte) []byte {
	size := uint32(headerLen + len(body) + trailerLen)
	out := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(out[0:4], size)
	binary.LittleEndian.PutUint16(out[4:6], uint16(id))
	binary.LittleEndian.PutUint16(out[6:8], count)
	binary.LittleEndian.PutUint32(out[8:12], uint32(frameType))
	copy(out[12:], body)
	// trailing zeros already present from make
	return out
}

// EncodeCommand produces the two-frame write for one command: the body
// frame followed by an empty END frame with the same sequence.
func EncodeCommand(seq uint16, command string) []byte {
	head := Encode(TypeExecCommand, IDMid, seq, []byte(command))
	tail := Encode(TypeExecCommand, IDEnd, seq, nil)
	return append(head, tail...)
}

// EncodeAuth produces the single authentication frame.
func EncodeAuth(seq uint16, password string) []byte {
	return Encode(TypeAuth, IDEnd, seq, []byte(password))
}

// Decode attempts to read one frame from the head of buf without
// mutating it. On success it returns the frame and the number of bytes
// the caller should consume. An *IncompleteError means more bytes are
// needed; ErrMalformed and ErrSizeExceeded follow the recovery rules in
// the engine (skip one byte, resp. drop the frame).
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 4 {
		return Frame{}, 0, &IncompleteError{Need: 4 - len(buf)}
	}

	size := binary.LittleEndian.Uint32(buf[0:4])
	if size < headerLen+trailerLen {
		return Frame{}, 0, ErrMalformed
	}
	if size-headerLen-trailerLen > MaxBodyLen {
		return Frame{}, 0, ErrSizeExceeded
	}

	total := int(4 + size)
	if len(buf) < total {
		return Frame{}, 0, &IncompleteError{Need: total - len(buf)}
	}

	frame := Frame{
		ID:    int16(binary.LittleEndian.Uint16(buf[4:6])),
		Count: binary.LittleEndian.Uint16(buf[6:8]),
		Type:  int32(binary.LittleEndian.Uint32(buf[8:12])),
	}

	bodyLen := int(size) - headerLen - trailerLen
	if bodyLen > 0 {
		frame.Body = make([]byte, bodyLen)
		copy(frame.Body, buf[12:12+bodyLen])
	}

	if buf[total-2] != 0 || buf[total-1] != 0 {
		return Frame{}, 0, ErrMalformed
	}

	return frame, total, nil
}

// IsBrokenStub reports whether the head of buf is the 21-byte stub some
// server builds emit in place of a follow-up frame: a size field of 10
// and the byte pattern 00 00 00 01 00 00 00 00 at offsets 12..19. The
// caller skips BrokenStubLen bytes when it matches.
func IsBrokenStub(buf []byte) bool {
	if len(buf) < brokenStubLen {
		return false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != 10 {
		return false
	}
	pattern := [8]byte{0, 0, 0, 1, 0, 0, 0, 0}
	for i, b := range pattern {
		if buf[12+i] != b {
			return false
		}
	}
	return true
}

// BrokenStubLen is the number of bytes to discard when IsBrokenStub
// matches.
const BrokenStubLen = brokenStubLen
