// Package node implements the ring participant: the engine's own
// identity, finger table, predecessor slot, local object index, and the
// single-threaded event loop that drives the join/welcome/re-ID/
// redirect/query/reply/miss protocol state machine (spec.md §4.3).
//
// Grounded on KoordeDHT/internal/node for the overall "engine owns
// routing state plus a storage reference" shape, but the routing and
// transport are a from-scratch rewrite: the teacher routes over gRPC
// with a goroutine-per-RPC server, while this ring is a raw-TCP,
// strictly single-threaded cooperative loop (spec.md §5, §9) — the two
// are different enough in kind that adapting the teacher's RPC-bound
// code in place would have produced worse, less idiomatic code than
// rewriting in the teacher's logging/construction idiom from the wire
// and objectindex packages up (see DESIGN.md).
package node

import (
	"fmt"
	"net"
	"os"

	"imgdht/internal/identifier"
	"imgdht/internal/logger"
	"imgdht/internal/objectindex"
	"imgdht/internal/wire"
)

// F is the finger table size (spec.md §3).
const F = 8

// Engine is one ring participant. It is only ever touched by its own
// Run goroutine once started — there is no external synchronization
// because the protocol assumes at most one in-flight query per node
// (spec.md §5).
type Engine struct {
	lgr logger.Logger

	bindHost    string
	imageFolder string
	knownPeer   string // addr:port to rejoin through after a REID; empty for the first node on the ring
	forcedID    *identifier.ID

	listener  net.Listener
	rebinding bool // true between rebind() closing the old listener and Run relaunching its accept loop
	index     *objectindex.Index

	self    wire.Descriptor
	pred    wire.Descriptor
	fingers [F]wire.Descriptor
	fID     [F]identifier.ID

	// pendingSearch is the client socket a FIND is still outstanding on;
	// nil when no query is in flight. Only ever one at a time (spec.md §5).
	pendingSearch net.Conn
	pendingName   string
}

// Self returns this node's own descriptor.
func (e *Engine) Self() wire.Descriptor { return e.self }

// Pred returns this node's current predecessor.
func (e *Engine) Pred() wire.Descriptor { return e.pred }

// Successor returns fingers[0], the immediate successor.
func (e *Engine) Successor() wire.Descriptor { return e.fingers[0] }

// Fingers returns a copy of the finger table.
func (e *Engine) Fingers() [F]wire.Descriptor { return e.fingers }

// New binds an ephemeral listening endpoint, derives this node's
// identity, and boots it either as the first node on the ring or by
// sending a JOIN through knownPeer (spec.md §4.3.1). Pass an empty
// knownPeer for first-on-ring.
func New(lgr logger.Logger, bindHost string, forcedID *identifier.ID, imageFolder, knownPeer string) (*Engine, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(bindHost, "0"))
	if err != nil {
		return nil, fmt.Errorf("node: binding listener: %w", err)
	}

	e := &Engine{
		lgr:         lgr,
		bindHost:    bindHost,
		imageFolder: imageFolder,
		knownPeer:   knownPeer,
		forcedID:    forcedID,
		listener:    ln,
	}
	if err := e.assignIdentity(); err != nil {
		ln.Close()
		return nil, err
	}
	e.index = objectindex.New(imageFolder, lgr.Named("objectindex"))

	if knownPeer == "" {
		e.pred = e.self
		for i := range e.fingers {
			e.fingers[i] = e.self
		}
		if err := e.index.Reload(e.self.ID, e.self.ID); err != nil {
			ln.Close()
			return nil, fmt.Errorf("node: initial reload: %w", err)
		}
		e.lgr.Info("booted as first node on the ring", logger.FDescriptor("self", e.self))
		return e, nil
	}

	for i := range e.fingers {
		e.fingers[i] = e.self
	}
	if err := e.sendJoin(knownPeer); err != nil {
		ln.Close()
		return nil, fmt.Errorf("node: sending initial JOIN: %w", err)
	}
	e.lgr.Info("sent JOIN, awaiting welcome", logger.FDescriptor("self", e.self), logger.F("knownPeer", knownPeer))
	return e, nil
}

// assignIdentity resolves the listener's bound port and this host's IPv4
// address, then derives self.ID: the operator-forced ID if one was
// given, otherwise the hash of the endpoint (spec.md §4.3.1).
func (e *Engine) assignIdentity() error {
	tcpAddr, ok := e.listener.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("node: listener address is not TCP: %v", e.listener.Addr())
	}
	ipv4, err := resolveIPv4(e.bindHost)
	if err != nil {
		return err
	}
	port := uint16(tcpAddr.Port)

	var id identifier.ID
	if e.forcedID != nil {
		id = *e.forcedID
	} else {
		id = identifier.HashEndpoint(port, ipv4)
	}
	e.self = wire.Descriptor{ID: id, Port: port, IPv4: ipv4}
	for i := range e.fID {
		e.fID[i] = identifier.Next(id, i)
	}
	return nil
}

// resolveIPv4 resolves host (a bind address, hostname, or empty string
// for "any interface") to the IPv4 address this node advertises to
// peers. An empty host resolves via the OS hostname, mirroring
// dhtn::setID's use of gethostname()+gethostbyname().
func resolveIPv4(host string) ([4]byte, error) {
	if host == "" || host == "0.0.0.0" {
		var err error
		host, err = os.Hostname()
		if err != nil {
			return [4]byte{}, fmt.Errorf("node: resolving local hostname: %w", err)
		}
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return [4]byte{}, fmt.Errorf("node: resolving %q: %w", host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			var out [4]byte
			copy(out[:], v4)
			return out, nil
		}
	}
	return [4]byte{}, fmt.Errorf("node: %q has no IPv4 address", host)
}

// rebind closes the current listener and binds a fresh ephemeral one,
// then re-derives self.ID from the new port (spec.md §4.3.6, REID
// handling). A forced ID is dropped on rebind: reusing the very ID that
// just collided would only collide again.
func (e *Engine) rebind() error {
	e.rebinding = true
	e.listener.Close()
	ln, err := net.Listen("tcp", net.JoinHostPort(e.bindHost, "0"))
	if err != nil {
		return fmt.Errorf("node: rebinding listener: %w", err)
	}
	e.listener = ln
	e.forcedID = nil
	return e.assignIdentity()
}
