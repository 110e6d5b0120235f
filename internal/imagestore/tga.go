// Package imagestore decodes the TGA image files the object index serves.
// Image decoding and pixel transport are explicitly out of scope for the
// DHT core (spec.md §1): this package is the "blob store indexed by
// filename" the core treats as an external collaborator, specified only
// by the (Meta, bytes) interface objectindex.Index consumes.
//
// Grounded on the original implementation's ltga.h/imgdb.cpp, which reads
// TGA files and exposes width/height/pixel-depth/alpha-depth/image-type
// to derive an OpenGL pixel format (imgdb::marshall_imsg). This package
// reimplements just enough of the TGA format — uncompressed and
// run-length-encoded, true-color and greyscale — to reproduce that same
// derivation without carrying a GUI toolkit dependency.
package imagestore

import (
	"encoding/binary"
	"fmt"
	"os"

	"imgdht/internal/wire"
)

// Meta describes a decoded image's shape, independent of wire encoding.
type Meta struct {
	Width      int
	Height     int
	PixelDepth int // bytes per pixel (1, 2, 3, or 4)
	AlphaDepth int // bits of alpha channel, 0 if none
	Greyscale  bool
}

// Format derives the wire pixel format for m, the same greyscale/alpha
// rule imgdb::marshall_imsg applies: greyscale images use LUMINANCE(_ALPHA),
// others RGB(A), gated on whether an alpha channel is present.
func (m Meta) Format() wire.PixelFormat {
	switch {
	case m.Greyscale && m.AlphaDepth > 0:
		return wire.FormatLuminanceAlpha
	case m.Greyscale:
		return wire.FormatLuminance
	case m.AlphaDepth > 0:
		return wire.FormatRGBA
	default:
		return wire.FormatRGB
	}
}

// imageType codes from the TGA spec that this decoder understands.
const (
	typeNoData      = 0
	typeColorMapped = 1
	typeTrueColor   = 2
	typeGreyscale   = 3
	typeRLEColorMap = 9
	typeRLETrueColor = 10
	typeRLEGrey     = 11
)

const tgaHeaderLen = 18

// Load reads and decodes the TGA file at path, returning its shape and its
// pixel bytes in top-to-bottom row order, channel order as stored
// (BGR/BGRA for true color, single channel for greyscale — callers that
// need RGB order convert via ToRGBOrder).
func Load(path string) (Meta, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, err
	}
	return Decode(raw)
}

// Decode parses a TGA file already read into memory.
func Decode(raw []byte) (Meta, []byte, error) {
	if len(raw) < tgaHeaderLen {
		return Meta{}, nil, fmt.Errorf("imagestore: file too short for a TGA header (%d bytes)", len(raw))
	}
	idLen := int(raw[0])
	imgType := raw[2]
	width := int(binary.LittleEndian.Uint16(raw[12:14]))
	height := int(binary.LittleEndian.Uint16(raw[14:16]))
	pixelBits := int(raw[16])
	descriptor := raw[17]

	if width <= 0 || height <= 0 {
		return Meta{}, nil, fmt.Errorf("imagestore: invalid dimensions %dx%d", width, height)
	}
	if pixelBits%8 != 0 || pixelBits == 0 {
		return Meta{}, nil, fmt.Errorf("imagestore: unsupported pixel depth %d bits", pixelBits)
	}
	pixelDepth := pixelBits / 8
	alphaDepth := int(descriptor & 0x0F)
	topLeft := descriptor&0x20 != 0

	greyscale := imgType == typeGreyscale || imgType == typeRLEGrey
	rle := imgType == typeRLETrueColor || imgType == typeRLEGrey || imgType == typeRLEColorMap

	cmapLen := int(binary.LittleEndian.Uint16(raw[5:7]))
	cmapEntryBytes := (int(raw[7]) + 7) / 8
	dataStart := tgaHeaderLen + idLen + cmapLen*cmapEntryBytes
	if dataStart > len(raw) {
		return Meta{}, nil, fmt.Errorf("imagestore: file too short for its ID and color-map fields")
	}
	data := raw[dataStart:]
	// Color-map tables are skipped; this decoder only serves true-color
	// and greyscale fixtures, which is everything the object index's test
	// manifests use.
	pixelCount := width * height
	wantBytes := pixelCount * pixelDepth

	var pixels []byte
	if rle {
		var err error
		pixels, err = decodeRLE(data, pixelDepth, wantBytes)
		if err != nil {
			return Meta{}, nil, err
		}
	} else {
		if len(data) < wantBytes {
			return Meta{}, nil, fmt.Errorf("imagestore: truncated pixel data: have %d, want %d", len(data), wantBytes)
		}
		pixels = append([]byte(nil), data[:wantBytes]...)
	}

	if !topLeft {
		pixels = flipRows(pixels, width, height, pixelDepth)
	}

	meta := Meta{
		Width:      width,
		Height:     height,
		PixelDepth: pixelDepth,
		AlphaDepth: alphaDepth,
		Greyscale:  greyscale,
	}
	return meta, pixels, nil
}

// decodeRLE expands TGA run-length-encoded pixel data. Each packet is one
// header byte (top bit set => run-length packet, else raw packet) followed
// by either one pixel (repeated count+1 times) or count+1 distinct pixels.
func decodeRLE(data []byte, pixelDepth, wantBytes int) ([]byte, error) {
	out := make([]byte, 0, wantBytes)
	i := 0
	for len(out) < wantBytes {
		if i >= len(data) {
			return nil, fmt.Errorf("imagestore: truncated RLE stream")
		}
		header := data[i]
		i++
		count := int(header&0x7F) + 1
		if header&0x80 != 0 {
			if i+pixelDepth > len(data) {
				return nil, fmt.Errorf("imagestore: truncated RLE run")
			}
			px := data[i : i+pixelDepth]
			i += pixelDepth
			for n := 0; n < count; n++ {
				out = append(out, px...)
			}
		} else {
			n := count * pixelDepth
			if i+n > len(data) {
				return nil, fmt.Errorf("imagestore: truncated RLE raw packet")
			}
			out = append(out, data[i:i+n]...)
			i += n
		}
	}
	return out[:wantBytes], nil
}

// flipRows reverses row order, converting a bottom-left-origin TGA image
// (the common case) into the top-to-bottom order callers expect.
func flipRows(pixels []byte, width, height, pixelDepth int) []byte {
	rowBytes := width * pixelDepth
	out := make([]byte, len(pixels))
	for row := 0; row < height; row++ {
		src := pixels[row*rowBytes : (row+1)*rowBytes]
		dstRow := height - 1 - row
		copy(out[dstRow*rowBytes:(dstRow+1)*rowBytes], src)
	}
	return out
}

// ToRGBOrder converts true-color pixel bytes stored in TGA's native BGR(A)
// channel order into RGB(A) order, matching the wire.PixelFormat this
// package derives. Greyscale data passes through unchanged (one channel,
// no ordering to fix).
func ToRGBOrder(pixels []byte, m Meta) []byte {
	if m.Greyscale || m.PixelDepth < 3 {
		return pixels
	}
	out := make([]byte, len(pixels))
	copy(out, pixels)
	for i := 0; i+2 < len(out); i += m.PixelDepth {
		out[i], out[i+2] = out[i+2], out[i]
	}
	return out
}
