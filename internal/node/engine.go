package node

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"imgdht/internal/logger"
	"imgdht/internal/wire"
)

// Run drives the single-threaded event loop: one accepted connection or
// one stdin byte at a time, each handler running to completion before the
// next event is read (spec.md §5). It returns when the operator quits
// (stdin 'q'/EOF) or the accept loop fails for a reason other than a
// REID-triggered rebind.
func (e *Engine) Run(stdin io.Reader) error {
	connCh := make(chan net.Conn)
	acceptErrCh := make(chan error, 1)
	go acceptLoop(e.listener, connCh, acceptErrCh)

	stdinCh := make(chan byte)
	stdinDone := make(chan struct{})
	go stdinLoop(stdin, stdinCh, stdinDone)

	for {
		select {
		case conn := <-connCh:
			e.handleConn(conn)

		case err := <-acceptErrCh:
			if e.rebinding {
				e.rebinding = false
				go acceptLoop(e.listener, connCh, acceptErrCh)
				continue
			}
			return fmt.Errorf("node: accept loop stopped: %w", err)

		case b := <-stdinCh:
			if !e.handleStdin(b) {
				return nil
			}

		case <-stdinDone:
			return nil
		}
	}
}

// acceptLoop feeds every connection accepted on ln to connCh until Accept
// fails, at which point it reports the failure once and exits. ln is
// captured at launch time so a concurrent rebind() swapping e.listener
// cannot race this goroutine.
func acceptLoop(ln net.Listener, connCh chan<- net.Conn, errCh chan<- error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}
}

// stdinLoop reads one byte at a time from r, closing done on EOF or any
// read error so Run can quit the same way an explicit 'q' does.
func stdinLoop(r io.Reader, out chan<- byte, done chan<- struct{}) {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			close(done)
			return
		}
		out <- b
	}
}

// handleConn reads one message's header, and for the shapes that carry
// more than a bare Descriptor, the rest of the message, then dispatches
// to the matching handler. Every case is an exact Type comparison — MISS
// (0x22) only matches its own case, never the REID or REPLY cases it
// could be confused with under a bitmask test (spec.md §9).
func (e *Engine) handleConn(conn net.Conn) {
	setLinger(conn)

	header := make([]byte, wire.MsgLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		e.lgr.Warn("reading message header failed", logger.F("err", err.Error()))
		conn.Close()
		return
	}
	m, err := wire.UnmarshalMsg(header)
	if err != nil {
		e.lgr.Warn("decoding message header failed", logger.F("err", err.Error()))
		conn.Close()
		return
	}

	switch m.Type {
	case wire.JOIN, wire.JOIN | wire.ATLOC:
		e.handleJoin(conn, m)
	case wire.WLCM:
		e.handleWlcm(conn, m)
	case wire.REID:
		e.handleReid(conn, m)
	case wire.FIND, wire.QUERY, wire.QUERY | wire.ATLOC, wire.REPLY, wire.MISS:
		e.handleSrch(conn, m, header)
	default:
		e.lgr.Warn("unrecognized message type, dropping connection", logger.F("type", m.Type.String()))
		conn.Close()
	}
}

// handleSrch reads the DHTSRCH suffix following an already-consumed
// header and dispatches FIND/QUERY/REPLY/MISS to their handlers.
func (e *Engine) handleSrch(conn net.Conn, m wire.Msg, header []byte) {
	rest := make([]byte, wire.SrchLen-wire.MsgLen)
	if _, err := io.ReadFull(conn, rest); err != nil {
		e.lgr.Warn("reading search message body failed", logger.F("err", err.Error()))
		conn.Close()
		return
	}
	buf := append(append([]byte{}, header...), rest...)
	s, err := wire.UnmarshalSrch(buf)
	if err != nil {
		e.lgr.Warn("decoding search message failed", logger.F("err", err.Error()))
		conn.Close()
		return
	}

	switch m.Type {
	case wire.FIND:
		e.handleFind(conn, s)
	case wire.QUERY, wire.QUERY | wire.ATLOC:
		e.handleQuerySrch(conn, s)
	case wire.REPLY:
		e.handleReplySrch(conn, s)
	case wire.MISS:
		e.handleMissSrch(conn, s)
	}
}

// handleStdin applies one operator command (spec.md §6): 'q'/'Q' quits,
// 'p'/'P' prints the finger table, everything else (including the
// newline after a command) is ignored.
func (e *Engine) handleStdin(b byte) bool {
	switch b {
	case 'q', 'Q':
		e.lgr.Info("quit requested")
		return false
	case 'p', 'P':
		e.printFingerTable()
	}
	return true
}

// printFingerTable renders self, predecessor and every finger entry for
// operator visibility (spec.md §8 scenario 2).
func (e *Engine) printFingerTable() {
	fmt.Printf("self: %s\n", descLine(e.self))
	fmt.Printf("pred: %s\n", descLine(e.pred))
	for i, f := range e.fingers {
		fmt.Printf("finger[%d] (fID=%3d): %s\n", i, e.fID[i], descLine(f))
	}
}

func descLine(d wire.Descriptor) string {
	return fmt.Sprintf("id=%3d addr=%s", d.ID, d.Addr())
}
