package rcon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		frameType int32
		id        int16
		count     uint16
		body      string
	}{
		{"empty", TypeResponseValue, IDEnd, 1, ""},
		{"auth", TypeAuth, IDEnd, 1, "password"},
		{"command", TypeExecCommand, IDMid, 42, "ListPlayers"},
		{"authFailedID", TypeAuthResponse, IDAuthFailed, 7, ""},
		{"maxSeq", TypeResponseValue, IDMid, 65535, "tail"},
		{"largeBody", TypeResponseValue, IDMid, 3, string(bytes.Repeat([]byte("x"), MaxBodyLen))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := Encode(tc.frameType, tc.id, tc.count, []byte(tc.body))

			frame, consumed, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if consumed != len(wire) {
				t.Errorf("consumed = %d, want %d", consumed, len(wire))
			}
			if frame.Type != tc.frameType || frame.ID != tc.id || frame.Count != tc.count {
				t.Errorf("frame header = (%d, %d, %d), want (%d, %d, %d)",
					frame.Type, frame.ID, frame.Count, tc.frameType, tc.id, tc.count)
			}
			if got := string(frame.Body); got != tc.body {
				t.Errorf("body length = %d, want %d", len(got), len(tc.body))
			}
		})
	}
}

func TestDecodeConcatenatedFrames(t *testing.T) {
	frames := []Frame{
		{Type: TypeResponseValue, ID: IDMid, Count: 5, Body: []byte("part one\n")},
		{Type: TypeResponseValue, ID: IDMid, Count: 5, Body: []byte("part two\n")},
		{Type: TypeResponseValue, ID: IDEnd, Count: 5},
		{Type: TypeChatValue, ID: 0, Count: 0, Body: []byte("[ChatAll] [EOS: abc] name : hi")},
	}

	var buf []byte
	for _, f := range frames {
		buf = append(buf, Encode(f.Type, f.ID, f.Count, f.Body)...)
	}

	var got []Frame
	for len(buf) > 0 {
		frame, consumed, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got = append(got, frame)
		buf = buf[consumed:]
	}

	if diff := cmp.Diff(frames, got); diff != "" {
		t.Errorf("frame sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeIncompletePrefixes(t *testing.T) {
	wire := Encode(TypeExecCommand, IDMid, 9, []byte("ShowCurrentMap"))

	for n := 0; n < len(wire); n++ {
		_, _, err := Decode(wire[:n])
		var inc *IncompleteError
		if !errors.As(err, &inc) {
			t.Fatalf("prefix %d: err = %v, want IncompleteError", n, err)
		}
		if inc.Need < 1 {
			t.Errorf("prefix %d: need = %d, want >= 1", n, inc.Need)
		}
		if n+inc.Need > len(wire) {
			t.Errorf("prefix %d: need = %d overshoots frame end", n, inc.Need)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	tiny := make([]byte, 14)
	binary.LittleEndian.PutUint32(tiny[0:4], 3)
	if _, _, err := Decode(tiny); !errors.Is(err, ErrMalformed) {
		t.Errorf("undersized size field: err = %v, want ErrMalformed", err)
	}

	huge := make([]byte, 14)
	binary.LittleEndian.PutUint32(huge[0:4], 10+MaxBodyLen+1)
	if _, _, err := Decode(huge); !errors.Is(err, ErrSizeExceeded) {
		t.Errorf("oversized body: err = %v, want ErrSizeExceeded", err)
	}

	badTrailer := Encode(TypeResponseValue, IDEnd, 1, []byte("x"))
	badTrailer[len(badTrailer)-1] = 0xFF
	if _, _, err := Decode(badTrailer); !errors.Is(err, ErrMalformed) {
		t.Errorf("nonzero trailer: err = %v, want ErrMalformed", err)
	}
}

func brokenStub() []byte {
	stub := make([]byte, BrokenStubLen)
	binary.LittleEndian.PutUint32(stub[0:4], 10)
	copy(stub[12:20], []byte{0, 0, 0, 1, 0, 0, 0, 0})
	return stub
}

func TestBrokenStubDetection(t *testing.T) {
	stub := brokenStub()
	follow := Encode(TypeResponseValue, IDEnd, 3, []byte("OK"))
	buf := append(append([]byte{}, stub...), follow...)

	if !IsBrokenStub(buf) {
		t.Fatal("IsBrokenStub = false, want true")
	}

	buf = buf[BrokenStubLen:]
	frame, consumed, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode after skip: %v", err)
	}
	if consumed != len(follow) {
		t.Errorf("consumed = %d, want %d", consumed, len(follow))
	}
	if frame.Type != TypeResponseValue || frame.ID != IDEnd || string(frame.Body) != "OK" {
		t.Errorf("unexpected frame after stub: %+v", frame)
	}
}

func TestBrokenStubRejectsShortAndWellFormed(t *testing.T) {
	if IsBrokenStub(brokenStub()[:20]) {
		t.Error("short buffer matched stub probe")
	}

	// An ordinary empty frame followed by a normal frame must not match.
	buf := append(Encode(TypeResponseValue, IDEnd, 1, nil),
		Encode(TypeResponseValue, IDMid, 2, []byte("data"))...)
	if IsBrokenStub(buf) {
		t.Error("well-formed frames matched stub probe")
	}
}
