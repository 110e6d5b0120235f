package imagestore

import (
	"encoding/binary"
	"testing"

	"imgdht/internal/wire"
)

// encodeTGA builds a minimal uncompressed TGA image for test fixtures.
// pixels must already be in TGA's native BGR(A) channel order.
func encodeTGA(width, height, pixelDepth, alphaDepth int, greyscale bool, pixels []byte) []byte {
	imgType := byte(typeTrueColor)
	if greyscale {
		imgType = typeGreyscale
	}
	header := make([]byte, tgaHeaderLen)
	header[2] = imgType
	binary.LittleEndian.PutUint16(header[12:14], uint16(width))
	binary.LittleEndian.PutUint16(header[14:16], uint16(height))
	header[16] = byte(pixelDepth * 8)
	header[17] = byte(alphaDepth) | 0x20 // top-left origin
	return append(header, pixels...)
}

func TestDecodeTrueColorRGBA(t *testing.T) {
	// 2x1 image, BGRA order on the wire.
	pixels := []byte{
		0, 0, 255, 255, // red pixel -> B,G,R,A = 0,0,255,255
		255, 0, 0, 128, // blue pixel, half alpha
	}
	raw := encodeTGA(2, 1, 4, 8, false, pixels)
	meta, got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if meta.Width != 2 || meta.Height != 1 || meta.PixelDepth != 4 || meta.AlphaDepth != 8 || meta.Greyscale {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.Format() != wire.FormatRGBA {
		t.Errorf("Format() = %v, want RGBA", meta.Format())
	}
	rgb := ToRGBOrder(got, meta)
	want := []byte{255, 0, 0, 255, 0, 0, 255, 128}
	if string(rgb) != string(want) {
		t.Errorf("ToRGBOrder = %v, want %v", rgb, want)
	}
}

func TestDecodeGreyscaleNoAlpha(t *testing.T) {
	pixels := []byte{10, 20, 30}
	raw := encodeTGA(3, 1, 1, 0, true, pixels)
	meta, got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !meta.Greyscale || meta.Format() != wire.FormatLuminance {
		t.Errorf("meta = %+v, format = %v", meta, meta.Format())
	}
	if string(got) != string(pixels) {
		t.Errorf("pixels = %v, want %v", got, pixels)
	}
}

func TestDecodeRLERoundTrip(t *testing.T) {
	// One run-length packet of 3 identical pixels, then a raw packet of 2.
	pixelDepth := 3
	packets := []byte{
		0x82, 1, 2, 3, // header 0x80|2 -> count=3, pixel (1,2,3)
		0x01, 9, 9, 9, 4, 4, 4, // header 0x00|1 -> count=2 raw pixels
	}
	raw := make([]byte, tgaHeaderLen)
	raw[2] = typeRLETrueColor
	binary.LittleEndian.PutUint16(raw[12:14], 5)
	binary.LittleEndian.PutUint16(raw[14:16], 1)
	raw[16] = byte(pixelDepth * 8)
	raw[17] = 0x20
	raw = append(raw, packets...)

	meta, got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []byte{1, 2, 3, 1, 2, 3, 1, 2, 3, 9, 9, 9, 4, 4, 4}
	if string(got) != string(want) {
		t.Errorf("pixels = %v, want %v", got, want)
	}
	if meta.Width != 5 || meta.Height != 1 {
		t.Errorf("unexpected meta %+v", meta)
	}
}

func TestDecodeBottomLeftOriginFlips(t *testing.T) {
	// 1x2 image, bottom row first on the wire (origin bit clear).
	pixels := []byte{1, 1, 1, 2, 2, 2} // row0=bottom(1,1,1), row1=top(2,2,2)
	header := make([]byte, tgaHeaderLen)
	header[2] = typeTrueColor
	binary.LittleEndian.PutUint16(header[12:14], 1)
	binary.LittleEndian.PutUint16(header[14:16], 2)
	header[16] = 24
	header[17] = 0 // bottom-left origin
	raw := append(header, pixels...)

	_, got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []byte{2, 2, 2, 1, 1, 1} // top row first after flip
	if string(got) != string(want) {
		t.Errorf("pixels = %v, want %v", got, want)
	}
}
