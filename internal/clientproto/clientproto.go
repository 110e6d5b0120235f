// Package clientproto implements the client half of a FIND exchange: dial
// a node, send a DHTSRCH FIND, and read back the image metadata packet
// plus (when found) its pixel bytes (spec.md §4.3.7, §6).
//
// Grounded on KoordeDHT/internal/client's "one function per RPC, returns
// (result, error)" shape, adapted from gRPC calls to raw socket I/O.
package clientproto

import (
	"fmt"
	"io"
	"net"
	"time"

	"imgdht/internal/identifier"
	"imgdht/internal/wire"
)

// DialTimeout bounds connection setup only, matching the node engine's own
// outbound dial timeout (spec.md §5's no-timeout rule applies to
// established connections, not to dialing one).
const DialTimeout = 5 * time.Second

// Result is a resolved FIND: metadata plus pixel bytes in RGB(A) order, or
// Found == false if the name was not resolved anywhere on the ring.
type Result struct {
	Meta  wire.ImageMeta
	Bytes []byte
	Found bool
}

// Find dials addr, sends a FIND for name, and reads back the response.
func Find(addr, name string) (Result, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return Result{}, fmt.Errorf("clientproto: dialing %s: %w", addr, err)
	}
	defer conn.Close()

	req := wire.Srch{
		Msg:   wire.Msg{Type: wire.FIND, TTL: wire.DefaultTTL},
		ObjID: identifier.HashName(name),
		Name:  name,
	}
	buf, err := req.Marshal()
	if err != nil {
		return Result{}, fmt.Errorf("clientproto: encoding FIND: %w", err)
	}
	if _, err := conn.Write(buf); err != nil {
		return Result{}, fmt.Errorf("clientproto: sending FIND: %w", err)
	}

	metaBuf := make([]byte, wire.ImageMetaLen)
	if _, err := io.ReadFull(conn, metaBuf); err != nil {
		return Result{}, fmt.Errorf("clientproto: reading image metadata: %w", err)
	}
	meta, err := wire.UnmarshalImageMeta(metaBuf)
	if err != nil {
		return Result{}, fmt.Errorf("clientproto: decoding image metadata: %w", err)
	}
	if meta.Depth == 0 {
		return Result{Meta: meta, Found: false}, nil
	}

	want := int(meta.Width) * int(meta.Height) * int(meta.Depth)
	pixels := make([]byte, want)
	if _, err := io.ReadFull(conn, pixels); err != nil {
		return Result{}, fmt.Errorf("clientproto: reading image bytes: %w", err)
	}
	return Result{Meta: meta, Bytes: pixels, Found: true}, nil
}
