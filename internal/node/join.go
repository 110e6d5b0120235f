package node

import (
	"io"
	"net"

	"imgdht/internal/identifier"
	"imgdht/internal/logger"
	"imgdht/internal/wire"
)

// handleJoin implements spec.md §4.3.3. conn is the accepted socket
// carrying m, whose Node field is the joiner J.
func (e *Engine) handleJoin(conn net.Conn, m wire.Msg) {
	j := m.Node
	switch {
	case j.ID == e.self.ID || j.ID == e.pred.ID:
		conn.Close()
		e.sendReid(j)

	case identifier.InRange(j.ID, e.pred.ID, e.self.ID):
		conn.Close()
		e.welcome(j)

	case m.Type&wire.ATLOC != 0:
		e.replyRedrt(conn, e.pred)
		conn.Close()

	default:
		conn.Close()
		e.forwardJoin(j, m.TTL)
	}
}

// sendReid tells j its ID collided with ours or our predecessor's: it
// must rebind and retry (spec.md §4.3.3 step 1).
func (e *Engine) sendReid(j wire.Descriptor) {
	err := dialAndSend(j, func(c net.Conn) error {
		_, err := c.Write(wire.Msg{Type: wire.REID, Node: e.self}.Marshal())
		return err
	})
	if err != nil {
		e.lgr.Warn("sending REID failed", logger.FDescriptor("joiner", j), logger.F("err", err.Error()))
	}
}

// welcome splices j in as our new predecessor: tell j it has us as its
// successor and our old predecessor as its own predecessor, then update
// our own state (spec.md §4.3.3 step 2).
func (e *Engine) welcome(j wire.Descriptor) {
	oldPred := e.pred
	err := dialAndSend(j, func(c net.Conn) error {
		if _, err := c.Write(wire.Msg{Type: wire.WLCM, Node: e.self}.Marshal()); err != nil {
			return err
		}
		_, err := c.Write(oldPred.Marshal())
		return err
	})
	if err != nil {
		e.lgr.Warn("welcoming joiner failed", logger.FDescriptor("joiner", j), logger.F("err", err.Error()))
		return
	}

	e.pred = j
	if e.self.ID == e.fingers[0].ID {
		e.fingers[0] = j
		e.fixup(0)
	}
	e.fixdn(F) // predecessor changed: tightens fingers and reloads the index
	e.lgr.Info("welcomed new predecessor", logger.FDescriptor("pred", j))
}

// replyRedrt tells the sender it overshot: here is a better successor to
// retry through (spec.md §4.3.3 step 3, §4.3.7 step 3).
func (e *Engine) replyRedrt(conn net.Conn, suggestion wire.Descriptor) {
	if _, err := conn.Write(wire.Msg{Type: wire.REDRT, Node: suggestion}.Marshal()); err != nil {
		e.lgr.Warn("sending REDRT failed", logger.F("err", err.Error()))
	}
}

// forwardJoin routes a JOIN for joiner j onward via the finger table
// (spec.md §4.3.3 step 4, §4.3.4).
func (e *Engine) forwardJoin(j wire.Descriptor, ttl uint16) {
	err := e.forward(j.ID, wire.JOIN, ttl, func(typ wire.Type, ttl uint16) []byte {
		return wire.Msg{Type: typ, TTL: ttl, Node: j}.Marshal()
	})
	if err != nil {
		e.lgr.Warn("forwarding JOIN failed", logger.FDescriptor("joiner", j), logger.F("err", err.Error()))
	}
}

// handleWlcm implements spec.md §4.3.5: we've just been welcomed by our
// new successor.
func (e *Engine) handleWlcm(conn net.Conn, m wire.Msg) {
	defer conn.Close()

	e.fingers[0] = m.Node
	e.fixup(0)

	predBuf := make([]byte, wire.DescriptorLen)
	if _, err := io.ReadFull(conn, predBuf); err != nil {
		e.lgr.Error("reading predecessor after WLCM failed", logger.F("err", err.Error()))
		return
	}
	pred, err := wire.UnmarshalDescriptor(predBuf)
	if err != nil {
		e.lgr.Error("decoding predecessor after WLCM failed", logger.F("err", err.Error()))
		return
	}
	e.pred = pred
	e.fixdn(F)
	e.lgr.Info("welcomed into the ring", logger.FDescriptor("successor", m.Node), logger.FDescriptor("pred", pred))
}

// handleReid implements spec.md §4.3.6: our ID collided, so we rebind to
// a fresh port/ID and retry the join through the same known peer.
// Re-IDing without a known peer to rejoin through is a protocol
// invariant violation — it can only happen to a node that never sent a
// JOIN in the first place.
func (e *Engine) handleReid(conn net.Conn, m wire.Msg) {
	conn.Close()
	if e.knownPeer == "" {
		e.lgr.Error("received REID with no known peer to rejoin through; ignoring")
		return
	}
	if err := e.rebind(); err != nil {
		e.lgr.Error("rebind after REID failed", logger.F("err", err.Error()))
		return
	}
	e.lgr.Info("re-bound after ID collision", logger.FDescriptor("self", e.self))
	if err := e.sendJoin(e.knownPeer); err != nil {
		e.lgr.Error("resending JOIN after REID failed", logger.F("err", err.Error()))
	}
}

// sendJoin dials peerAddr and sends a JOIN for self with the default
// TTL, then closes — the eventual WLCM/REID arrives later as a fresh
// inbound connection to our own listener (spec.md §4.3.1).
func (e *Engine) sendJoin(peerAddr string) error {
	conn, err := net.DialTimeout("tcp", peerAddr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(wire.Msg{Type: wire.JOIN, TTL: wire.DefaultTTL, Node: e.self}.Marshal())
	return err
}
