package wire

import (
	"bytes"
	"testing"

	"imgdht/internal/identifier"
)

func TestMsgRoundTrip(t *testing.T) {
	m := Msg{
		Type: JOIN | ATLOC,
		TTL:  DefaultTTL,
		Node: Descriptor{ID: 200, Port: 4000, IPv4: [4]byte{10, 0, 0, 1}},
	}
	buf := m.Marshal()
	if len(buf) != MsgLen {
		t.Fatalf("MsgLen = %d, want %d", len(buf), MsgLen)
	}
	got, err := UnmarshalMsg(buf)
	if err != nil {
		t.Fatalf("UnmarshalMsg: %v", err)
	}
	if got != m {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, m)
	}
	// byte-for-byte on re-marshal
	if !bytes.Equal(got.Marshal(), buf) {
		t.Errorf("re-marshal not byte-identical")
	}
}

func TestSrchRoundTrip(t *testing.T) {
	s := Srch{
		Msg: Msg{
			Type: QUERY,
			TTL:  10,
			Node: Descriptor{ID: 7, Port: 1234, IPv4: [4]byte{127, 0, 0, 1}},
		},
		ObjID: identifier.HashName("ShipatSea.tga"),
		Name:  "ShipatSea.tga",
	}
	buf, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(buf) != SrchLen {
		t.Fatalf("SrchLen = %d, want %d", len(buf), SrchLen)
	}
	got, err := UnmarshalSrch(buf)
	if err != nil {
		t.Fatalf("UnmarshalSrch: %v", err)
	}
	if got.Msg != s.Msg || got.ObjID != s.ObjID || got.Name != s.Name {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, s)
	}
	buf2, err := got.Marshal()
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if !bytes.Equal(buf, buf2) {
		t.Errorf("re-marshal not byte-identical")
	}
}

func TestSrchNameTooLong(t *testing.T) {
	long := make([]byte, MaxFName)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Srch{Name: string(long)}.Marshal()
	if err == nil {
		t.Fatalf("expected error for oversize name")
	}
}

func TestImageMetaRoundTrip(t *testing.T) {
	m := ImageMeta{Depth: 4, Width: 640, Height: 480, Format: FormatRGBA}
	buf := m.Marshal()
	if len(buf) != ImageMetaLen {
		t.Fatalf("ImageMetaLen = %d, want %d", len(buf), ImageMetaLen)
	}
	got, err := UnmarshalImageMeta(buf)
	if err != nil {
		t.Fatalf("UnmarshalImageMeta: %v", err)
	}
	if got != m {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestImageMetaNotFoundIsZeroDepth(t *testing.T) {
	if NotFound.Depth != 0 {
		t.Errorf("NotFound.Depth = %d, want 0", NotFound.Depth)
	}
}

func TestTypeStringMissBeforeBitmask(t *testing.T) {
	if MISS.String() != "MISS" {
		t.Errorf("MISS.String() = %q, want MISS (must not decompose to REPLY|REID)", MISS.String())
	}
}

func TestBadVersionRejected(t *testing.T) {
	m := Msg{Type: JOIN, TTL: 1, Node: Descriptor{ID: 1}}
	buf := m.Marshal()
	buf[0] = 99
	if _, err := UnmarshalMsg(buf); err != ErrBadVersion {
		t.Errorf("UnmarshalMsg with bad version = %v, want ErrBadVersion", err)
	}
}
