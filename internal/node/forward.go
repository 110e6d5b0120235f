package node

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"imgdht/internal/identifier"
	"imgdht/internal/logger"
	"imgdht/internal/telemetry/querytrace"
	"imgdht/internal/wire"
)

// maxRedirects bounds how many REDRT retries a single forward() call will
// follow. spec.md's forward contract relies on TTL for its hop budget,
// but the documented TTL-double-decrement fix (§9) means a retry after
// REDRT does not consume any more TTL — so an adversarial or badly
// inconsistent ring could in principle bounce forever. This cap is a
// defensive addition beyond the letter of the spec, logged when hit.
const maxRedirects = 2 * F

// chooseHop picks the finger slot to route targetID through: fingers[0]
// if we believe our successor owns it (in which case ATLOC is set on the
// outgoing message so the successor knows to reply REDRT rather than
// forward further), otherwise the tightest finger whose fID precedes
// targetID (spec.md §4.3.4).
func (e *Engine) chooseHop(targetID identifier.ID) (idx int, atloc bool) {
	if identifier.InRange(targetID, e.self.ID, e.fingers[0].ID) {
		return 0, true
	}
	for i := F - 1; i >= 1; i-- {
		if identifier.InRange(e.fID[i], e.self.ID, targetID) {
			return i, false
		}
	}
	return 0, false
}

// forward routes a message toward targetID via the finger table,
// decrementing TTL exactly once regardless of how many REDRT retries
// follow (spec.md §9's fix for the source's documented double-decrement
// bug). encode re-renders the full wire payload for a given (possibly
// ATLOC-ORed) type using the one decremented TTL value.
func (e *Engine) forward(targetID identifier.ID, baseType wire.Type, ttl uint16, encode func(typ wire.Type, ttl uint16) []byte) error {
	ttl--
	if ttl == 0 {
		e.lgr.Debug("forward: ttl expired, dropping", logger.F("targetID", targetID))
		return nil
	}

	idx, atloc := e.chooseHop(targetID)
	for attempt := 0; ; attempt++ {
		if attempt >= maxRedirects {
			e.lgr.Warn("forward: giving up after repeated REDRT", logger.F("targetID", targetID))
			return nil
		}
		typ := baseType
		if atloc {
			typ |= wire.ATLOC
		}
		hop := e.fingers[idx]
		buf := encode(typ, ttl)

		_, endSpan := querytrace.StartForward(context.Background(), hop.ID)
		resp, err := dialSendRecvMsg(hop, buf)
		endSpan()
		if err != nil {
			return fmt.Errorf("node: forwarding to %v: %w", hop, err)
		}
		if resp == nil {
			return nil // peer closed without a reply: forward succeeded
		}
		if resp.Type != wire.REDRT {
			return fmt.Errorf("node: unexpected reply type %v during forward", resp.Type)
		}

		e.fingers[idx] = resp.Node
		e.fixup(idx)
		e.fixdn(idx)
		idx, atloc = e.chooseHop(targetID)
	}
}

// dialSendRecvMsg opens a TCP connection to hop, writes buf, and waits
// for at most one DHTMSG-sized reply on the same connection: nil,nil
// means the peer closed without replying (success); a non-nil Msg is
// necessarily a REDRT in this module's protocol (spec.md §4.3.4).
func dialSendRecvMsg(hop wire.Descriptor, buf []byte) (*wire.Msg, error) {
	conn, err := net.DialTimeout("tcp", hop.Addr(), 5*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if _, err := conn.Write(buf); err != nil {
		return nil, err
	}

	reply := make([]byte, wire.MsgLen)
	n, err := io.ReadFull(conn, reply)
	if err == io.EOF && n == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("short reply from %v: %w", hop, err)
	}
	m, err := wire.UnmarshalMsg(reply)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// dialAndSend opens a connection to d and lets fn write to it, closing
// the connection afterward regardless of fn's outcome.
func dialAndSend(d wire.Descriptor, fn func(net.Conn) error) error {
	conn, err := net.DialTimeout("tcp", d.Addr(), 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}
