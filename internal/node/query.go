package node

import (
	"context"
	"net"
	"time"

	"imgdht/internal/identifier"
	"imgdht/internal/logger"
	"imgdht/internal/objectindex"
	"imgdht/internal/telemetry/querytrace"
	"imgdht/internal/wire"
)

// mss and segments drive the segmented image transmission spec.md
// §4.3.10 calls for: chunks of max(size/segments, mss) bytes with a
// short pause between, so a receiver sees partial progress rather than
// one bulk write (grounded on dhtc.cpp's idle-callback reassembly,
// supplemented per SPEC_FULL.md).
const (
	mss      = 512
	segments = 4
)

// handleFind implements spec.md §4.3.7's client-facing half: the client
// socket conn becomes the pending search descriptor until a local hit,
// a local miss on a singleton ring, or (later) a REPLY/MISS arriving
// from the ring resolves it.
func (e *Engine) handleFind(conn net.Conn, s wire.Srch) {
	objID := identifier.HashName(s.Name)
	_, endSpan := querytrace.StartLocalFind(context.Background(), objID, s.Name)

	res, err := e.index.Lookup(s.Name)
	if err != nil {
		e.lgr.Error("local lookup failed", logger.F("name", s.Name), logger.F("err", err.Error()))
		e.respondNotFound(conn)
		conn.Close()
		endSpan("error")
		return
	}
	if res == objectindex.Found {
		e.respondFound(conn)
		conn.Close()
		endSpan("local-hit")
		return
	}
	if e.fingers[0].ID == e.self.ID {
		// Singleton ring: nowhere else to ask.
		e.respondNotFound(conn)
		conn.Close()
		endSpan("singleton-miss")
		return
	}

	if e.pendingSearch != nil {
		// At most one in-flight query per node (spec.md §5); a second
		// FIND while one is outstanding cannot be serviced concurrently.
		e.lgr.Warn("rejecting FIND: a query is already in flight", logger.F("name", s.Name))
		e.respondNotFound(conn)
		conn.Close()
		endSpan("busy")
		return
	}

	e.pendingSearch = conn
	e.pendingName = s.Name
	q := wire.Srch{Msg: wire.Msg{Type: wire.QUERY, Node: e.self}, ObjID: objID, Name: s.Name}
	if err := e.forwardQuery(q, wire.DefaultTTL); err != nil {
		e.lgr.Error("forwarding QUERY failed", logger.F("name", s.Name), logger.F("err", err.Error()))
		e.respondNotFound(conn)
		conn.Close()
		e.pendingSearch = nil
		e.pendingName = ""
		endSpan("forward-error")
		return
	}
	endSpan("forwarded")
}

// handleQuerySrch implements spec.md §4.3.7's ring-side half: s arrived
// from another node with originator s.Msg.Node.
func (e *Engine) handleQuerySrch(conn net.Conn, s wire.Srch) {
	res, err := e.index.Lookup(s.Name)
	if err != nil {
		e.lgr.Error("local lookup failed", logger.F("name", s.Name), logger.F("err", err.Error()))
	}
	switch {
	case res == objectindex.Found:
		conn.Close()
		e.replyToOriginator(s, wire.REPLY)
	case identifier.InRange(s.ObjID, e.pred.ID, e.self.ID):
		conn.Close()
		e.replyToOriginator(s, wire.MISS)
	case s.Msg.Type&wire.ATLOC != 0:
		e.replyRedrt(conn, e.pred)
		conn.Close()
	default:
		conn.Close()
		if err := e.forwardQuery(s, s.Msg.TTL); err != nil {
			e.lgr.Error("forwarding QUERY failed", logger.F("name", s.Name), logger.F("err", err.Error()))
		}
	}
}

// replyToOriginator sends a REPLY or MISS DHTSRCH back to the node that
// originated a QUERY (spec.md §4.3.7 steps 1-2).
func (e *Engine) replyToOriginator(s wire.Srch, typ wire.Type) {
	err := dialAndSend(s.Msg.Node, func(c net.Conn) error {
		buf, err := wire.Srch{Msg: wire.Msg{Type: typ, Node: e.self}, ObjID: s.ObjID, Name: s.Name}.Marshal()
		if err != nil {
			return err
		}
		_, err = c.Write(buf)
		return err
	})
	if err != nil {
		e.lgr.Warn("replying to query originator failed",
			logger.F("type", typ.String()), logger.F("name", s.Name), logger.F("err", err.Error()))
	}
}

// forwardQuery routes s onward via the finger table (spec.md §4.3.7 step
// 4, §4.3.4). The originator descriptor travels unchanged in every hop.
func (e *Engine) forwardQuery(s wire.Srch, ttl uint16) error {
	return e.forward(s.ObjID, wire.QUERY, ttl, func(typ wire.Type, ttl uint16) []byte {
		buf, err := wire.Srch{
			Msg:   wire.Msg{Type: typ, TTL: ttl, Node: s.Msg.Node},
			ObjID: s.ObjID,
			Name:  s.Name,
		}.Marshal()
		if err != nil {
			// s.Name was already validated by UnmarshalSrch on the way in.
			panic(err)
		}
		return buf
	})
}

// handleReplySrch and handleMissSrch implement spec.md §4.3.8: they
// resolve whichever FIND is currently pending on this node.
func (e *Engine) handleReplySrch(conn net.Conn, s wire.Srch) {
	conn.Close()
	e.resolvePending(s.Name, true)
}

func (e *Engine) handleMissSrch(conn net.Conn, s wire.Srch) {
	conn.Close()
	e.resolvePending(s.Name, false)
}

func (e *Engine) resolvePending(name string, found bool) {
	sd := e.pendingSearch
	if sd == nil {
		e.lgr.Warn("REPLY/MISS arrived with no pending search", logger.F("name", name))
		return
	}
	e.pendingSearch = nil
	e.pendingName = ""
	defer sd.Close()

	if !found {
		e.respondNotFound(sd)
		return
	}
	e.index.Insert(name)
	if res, err := e.index.Lookup(name); err != nil || res != objectindex.Found {
		e.lgr.Error("loading replied image failed", logger.F("name", name))
		e.respondNotFound(sd)
		return
	}
	e.respondFound(sd)
}

// respondNotFound writes a zero-depth metadata packet: "no such image".
func (e *Engine) respondNotFound(conn net.Conn) {
	if _, err := conn.Write(wire.NotFound.Marshal()); err != nil {
		e.lgr.Warn("writing not-found response failed", logger.F("err", err.Error()))
	}
}

// respondFound sends the most recently resolved image's metadata and
// bytes, segmented per spec.md §4.3.10.
func (e *Engine) respondFound(conn net.Conn) {
	meta, pixels, ok := e.index.FetchBytes()
	if !ok {
		e.respondNotFound(conn)
		return
	}
	if _, err := conn.Write(meta.Marshal()); err != nil {
		e.lgr.Warn("writing image metadata failed", logger.F("err", err.Error()))
		return
	}
	if err := sendSegmented(conn, pixels); err != nil {
		e.lgr.Warn("writing image bytes failed", logger.F("err", err.Error()))
	}
}

// sendSegmented writes data in max(len(data)/segments, mss)-byte chunks
// with a short pause between, to exercise a slow-transfer path instead
// of one bulk write.
func sendSegmented(conn net.Conn, data []byte) error {
	size := len(data)
	if size == 0 {
		return nil
	}
	chunk := size / segments
	if chunk < mss {
		chunk = mss
	}
	for off := 0; off < size; {
		end := off + chunk
		if end > size {
			end = size
		}
		if _, err := conn.Write(data[off:end]); err != nil {
			return err
		}
		off = end
		if off < size {
			time.Sleep(2 * time.Millisecond)
		}
	}
	return nil
}
