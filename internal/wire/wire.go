// Package wire implements the fixed-layout binary messages exchanged
// between DHT nodes and between a client and the node it queries.
//
// Every Msg and Srch starts with the same 4-byte header (version, type,
// 2-byte TTL) described in spec.md §3 and §6; the image metadata packet
// has its own layout (see ImageMeta). The eight message types
// form a closed set; this package models them as one tagged struct per
// shape (Msg / Srch / ImageMeta) rather than runtime subtype dispatch,
// per spec.md §9 ("Dynamic message dispatch").
//
// Grounded on KoordeDHT/internal/domain for the "plain value, not a
// pointer graph" node-descriptor style, adapted to the raw on-wire byte
// layout spec.md §6 mandates (the teacher encodes over protobuf; this
// ring encodes its own fixed-size frames because the protocol is a
// byte-for-byte reimplementation of dhtn.h's structs).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"

	"imgdht/internal/identifier"
)

// Version is the single supported protocol version byte (NETIMG_VERS).
const Version = 1

// Type is the dispatch tag carried in every message header. The set is
// closed and bits are meaningful individually (ATLOC is OR-ed onto JOIN
// or QUERY) as well as by exact value (MISS aliases REPLY|REID bits, see
// spec.md §9 "Open question").
type Type byte

const (
	JOIN  Type = 0x01
	REID  Type = 0x02
	WLCM  Type = 0x04
	FIND  Type = 0x08
	QUERY Type = 0x10
	REPLY Type = 0x20
	MISS  Type = 0x22 // REPLY|REID sentinel: compare by exact equality first.
	REDRT Type = 0x40
	ATLOC Type = 0x80
)

// String renders a Type for logging. MISS is checked before the bitmask
// names since 0x22 would otherwise look like REPLY|REID.
func (t Type) String() string {
	switch t {
	case MISS:
		return "MISS"
	}
	var name string
	add := func(bit Type, s string) {
		if t&bit != 0 {
			if name != "" {
				name += "|"
			}
			name += s
		}
	}
	add(JOIN, "JOIN")
	add(REID, "REID")
	add(WLCM, "WLCM")
	add(FIND, "FIND")
	add(QUERY, "QUERY")
	add(REPLY, "REPLY")
	add(REDRT, "REDRT")
	add(ATLOC, "ATLOC")
	if name == "" {
		return fmt.Sprintf("Type(0x%02x)", byte(t))
	}
	return name
}

// DefaultTTL is the hop budget stamped on freshly originated JOIN and
// QUERY messages (spec.md §4.3.1, §4.3.7).
const DefaultTTL = 10

// MaxFName is the maximum length, including the trailing NUL, of a name
// carried in a Srch message (spec.md §6's name:256 field).
const MaxFName = 256

// Descriptor is a ring participant's address: ID plus IPv4 endpoint. It is
// always passed and stored by value — there is no pointer cycle between
// nodes, only network addressing (spec.md §9).
type Descriptor struct {
	ID   identifier.ID
	Port uint16  // host byte order in Go; wire encoding is network byte order
	IPv4 [4]byte
}

// Addr renders d's endpoint as a dialable "host:port" string.
func (d Descriptor) Addr() string {
	return net.JoinHostPort(net.IP(d.IPv4[:]).String(), strconv.Itoa(int(d.Port)))
}

const descriptorLen = 8 // rsvd:1, id:1, port:2, ipv4:4

// DescriptorLen is the encoded size of a Descriptor, exported for callers
// that marshal one on its own (e.g. the WLCM handler, which sends a Msg
// immediately followed by a bare Descriptor for the predecessor).
const DescriptorLen = descriptorLen

func (d Descriptor) marshal(buf []byte) {
	buf[0] = 0 // rsvd
	buf[1] = byte(d.ID)
	binary.BigEndian.PutUint16(buf[2:4], d.Port)
	copy(buf[4:8], d.IPv4[:])
}

// Marshal encodes d into its canonical 8-byte wire form.
func (d Descriptor) Marshal() []byte {
	buf := make([]byte, descriptorLen)
	d.marshal(buf)
	return buf
}

func unmarshalDescriptor(buf []byte) Descriptor {
	var d Descriptor
	d.ID = identifier.ID(buf[1])
	d.Port = binary.BigEndian.Uint16(buf[2:4])
	copy(d.IPv4[:], buf[4:8])
	return d
}

// UnmarshalDescriptor decodes a bare 8-byte Descriptor, as sent standalone
// after a WLCM's Msg header.
func UnmarshalDescriptor(buf []byte) (Descriptor, error) {
	if len(buf) < descriptorLen {
		return Descriptor{}, ErrShort
	}
	return unmarshalDescriptor(buf), nil
}

// Msg is the DHTMSG wire message: common header plus a trailing node
// descriptor. Used for JOIN, REID, WLCM, REDRT.
type Msg struct {
	Type Type
	TTL  uint16
	Node Descriptor
}

// MsgLen is the encoded size of a Msg (header 4 bytes + descriptor 8 bytes).
const MsgLen = 4 + descriptorLen

// Marshal encodes m into its canonical 12-byte wire form.
func (m Msg) Marshal() []byte {
	buf := make([]byte, MsgLen)
	buf[0] = Version
	buf[1] = byte(m.Type)
	binary.BigEndian.PutUint16(buf[2:4], m.TTL)
	m.Node.marshal(buf[4:12])
	return buf
}

// ErrBadVersion is returned when a header's version byte does not match
// Version. Per spec.md §7 this is a protocol violation, fatal to the
// connection (not the process).
var ErrBadVersion = errors.New("wire: bad version byte")

// ErrShort is returned when fewer than the required bytes were supplied.
var ErrShort = errors.New("wire: short buffer")

// UnmarshalMsg decodes a Msg from its 12-byte wire form.
func UnmarshalMsg(buf []byte) (Msg, error) {
	if len(buf) < MsgLen {
		return Msg{}, ErrShort
	}
	if buf[0] != Version {
		return Msg{}, ErrBadVersion
	}
	return Msg{
		Type: Type(buf[1]),
		TTL:  binary.BigEndian.Uint16(buf[2:4]),
		Node: unmarshalDescriptor(buf[4:12]),
	}, nil
}

// Srch is the DHTSRCH wire message: a Msg extended with an object ID and
// a fixed-length name buffer. Used for FIND, QUERY, REPLY, MISS.
type Srch struct {
	Msg   Msg
	ObjID identifier.ID
	Name  string // at most MaxFName-1 bytes; NUL-padded on the wire
}

// SrchLen is the encoded size of a Srch (Msg 12 bytes + objID 1 byte + name 256 bytes).
const SrchLen = MsgLen + 1 + MaxFName

// Marshal encodes s into its canonical 269-byte wire form.
func (s Srch) Marshal() ([]byte, error) {
	if len(s.Name) >= MaxFName {
		return nil, fmt.Errorf("wire: name %q exceeds %d bytes", s.Name, MaxFName-1)
	}
	buf := make([]byte, SrchLen)
	copy(buf[:MsgLen], s.Msg.Marshal())
	buf[MsgLen] = byte(s.ObjID)
	copy(buf[MsgLen+1:], s.Name)
	return buf, nil
}

// UnmarshalSrch decodes a Srch from its 269-byte wire form.
func UnmarshalSrch(buf []byte) (Srch, error) {
	if len(buf) < SrchLen {
		return Srch{}, ErrShort
	}
	m, err := UnmarshalMsg(buf[:MsgLen])
	if err != nil {
		return Srch{}, err
	}
	name := buf[MsgLen+1:]
	i := indexByte(name, 0)
	if i < 0 {
		return Srch{}, fmt.Errorf("wire: name field has no NUL terminator (exceeds %d bytes)", MaxFName-1)
	}
	name = name[:i]
	return Srch{
		Msg:   m,
		ObjID: identifier.ID(buf[MsgLen]),
		Name:  string(name),
	}, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// PixelFormat identifies the on-wire pixel layout of an image, derived
// from its greyscale/alpha characteristics (spec.md §4.2).
type PixelFormat uint16

const (
	FormatLuminance      PixelFormat = 1
	FormatLuminanceAlpha PixelFormat = 2
	FormatRGB            PixelFormat = 3
	FormatRGBA           PixelFormat = 4
)

// ImageMeta is the 9-byte metadata packet sent ahead of image bytes. A
// Depth of 0 means "not found" and no byte payload follows (spec.md
// §4.3.10).
type ImageMeta struct {
	Depth  uint8
	Width  uint16
	Height uint16
	Format PixelFormat
}

// ImageMetaLen is the encoded size of an ImageMeta (vers:1, sentinel:1, depth:1, width:2, height:2, format:2).
const ImageMetaLen = 9

// notFoundSentinel occupies the byte spec.md §6 calls "sentinel"; it is
// unused beyond distinguishing the packet from a Msg/Srch header, since
// Depth==0 already communicates "not found" unambiguously.
const notFoundSentinel = 0xFE

// Marshal encodes the metadata packet.
func (m ImageMeta) Marshal() []byte {
	buf := make([]byte, ImageMetaLen)
	buf[0] = Version
	buf[1] = notFoundSentinel
	buf[2] = m.Depth
	binary.BigEndian.PutUint16(buf[3:5], m.Width)
	binary.BigEndian.PutUint16(buf[5:7], m.Height)
	binary.BigEndian.PutUint16(buf[7:9], uint16(m.Format))
	return buf
}

// UnmarshalImageMeta decodes a metadata packet.
func UnmarshalImageMeta(buf []byte) (ImageMeta, error) {
	if len(buf) < ImageMetaLen {
		return ImageMeta{}, ErrShort
	}
	if buf[0] != Version {
		return ImageMeta{}, ErrBadVersion
	}
	return ImageMeta{
		Depth:  buf[2],
		Width:  binary.BigEndian.Uint16(buf[3:5]),
		Height: binary.BigEndian.Uint16(buf[5:7]),
		Format: PixelFormat(binary.BigEndian.Uint16(buf[7:9])),
	}, nil
}

// NotFound is the zero-depth ImageMeta sent when a query resolves to
// nothing: a successful lookup that found no object.
var NotFound = ImageMeta{}
