package node

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"imgdht/internal/clientproto"
	"imgdht/internal/identifier"
	"imgdht/internal/logger"
)

// tinyTGA writes a minimal valid 1x1 true-color TGA file.
func tinyTGA(t *testing.T, dir, name string) {
	t.Helper()
	header := make([]byte, 18)
	header[2] = 2
	binary.LittleEndian.PutUint16(header[12:14], 1)
	binary.LittleEndian.PutUint16(header[14:16], 1)
	header[16] = 24
	header[17] = 0x20
	data := append(header, []byte{1, 2, 3}...)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeManifest(t *testing.T, dir string, names []string) {
	t.Helper()
	content := ""
	for _, n := range names {
		content += n + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "FILELIST.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// testNode bundles a running Engine with a way to stop it.
type testNode struct {
	e    *Engine
	stop func()
}

// startNode boots an Engine with a given forced ID and image folder, and
// starts its event loop in the background. knownPeer, when non-empty, must
// already be running — New's initial sendJoin is synchronous.
func startNode(t *testing.T, id identifier.ID, folder, knownPeer string) *testNode {
	t.Helper()
	e, err := New(logger.NopLogger{}, "127.0.0.1", &id, folder, knownPeer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stdinR, stdinW := io.Pipe()
	done := make(chan struct{})
	go func() {
		e.Run(stdinR)
		close(done)
	}()
	return &testNode{
		e: e,
		stop: func() {
			stdinW.Write([]byte("q"))
			stdinW.Close()
			<-done
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func emptyFolder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeManifest(t, dir, nil)
	return dir
}

// Scenario 1 (spec.md §8): singleton ring, local hit.
func TestSingletonRingLocalHit(t *testing.T) {
	dir := t.TempDir()
	tinyTGA(t, dir, "ShipatSea.tga")
	writeManifest(t, dir, []string{"ShipatSea.tga"})

	n := startNode(t, 100, dir, "")
	defer n.stop()

	if n.e.Pred().ID != n.e.Self().ID || n.e.Successor().ID != n.e.Self().ID {
		t.Fatalf("singleton node must be its own pred and successor: pred=%v succ=%v self=%v",
			n.e.Pred().ID, n.e.Successor().ID, n.e.Self().ID)
	}

	res, err := clientproto.Find(n.e.Self().Addr(), "ShipatSea.tga")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !res.Found {
		t.Fatalf("expected image to be found locally")
	}
	if res.Meta.Depth == 0 || len(res.Bytes) != int(res.Meta.Width)*int(res.Meta.Height)*int(res.Meta.Depth) {
		t.Fatalf("unexpected response: meta=%+v bytes=%d", res.Meta, len(res.Bytes))
	}
}

func TestSingletonRingMiss(t *testing.T) {
	n := startNode(t, 100, emptyFolder(t), "")
	defer n.stop()

	res, err := clientproto.Find(n.e.Self().Addr(), "nope.tga")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.Found {
		t.Fatalf("expected not-found on an empty singleton ring")
	}
}

// Scenario 2 (spec.md §8): two-node join.
func TestTwoNodeJoin(t *testing.T) {
	n1 := startNode(t, 100, emptyFolder(t), "")
	defer n1.stop()

	n2 := startNode(t, 200, emptyFolder(t), n1.e.Self().Addr())
	defer n2.stop()

	waitFor(t, 2*time.Second, func() bool {
		return n1.e.Pred().ID == 200 && n2.e.Pred().ID == 100
	})

	if n1.e.Pred().ID != 200 || n1.e.Successor().ID != 200 {
		t.Fatalf("N1: pred=%v succ=%v, want both 200", n1.e.Pred().ID, n1.e.Successor().ID)
	}
	if n2.e.Pred().ID != 100 || n2.e.Successor().ID != 100 {
		t.Fatalf("N2: pred=%v succ=%v, want both 100", n2.e.Pred().ID, n2.e.Successor().ID)
	}
}

// Scenario 3 (spec.md §8): ID collision triggers REID, the joiner rebinds
// to a fresh port and derives a different ID.
func TestIDCollisionTriggersReidAndRebind(t *testing.T) {
	n1 := startNode(t, 100, emptyFolder(t), "")
	defer n1.stop()

	n2 := startNode(t, 100, emptyFolder(t), n1.e.Self().Addr())
	defer n2.stop()

	waitFor(t, 2*time.Second, func() bool {
		return n1.e.Pred().ID != n1.e.Self().ID
	})

	if n2.e.Self().ID == 100 {
		t.Fatalf("N2 should have rebound to a non-colliding ID, still has 100")
	}
	if n1.e.Pred().ID != n2.e.Self().ID {
		t.Fatalf("N1.pred = %v, want N2's post-rebind ID %v", n1.e.Pred().ID, n2.e.Self().ID)
	}
}

// Scenario 4 (spec.md §8): overshoot recovery. Ring {50, 100, 200}, with
// N(50) holding a stale finger left over from when the ring was just
// {50, 200}: it still points directly at N(200) for everything. N(50)
// forwards a JOIN via that stale finger; N(200) (whose own pred is
// correctly 100 by now) finds the joiner's ID doesn't fall in its own
// arc, replies REDRT with N(100) as the suggested next hop, and N(50)
// updates fingers[0] and re-forwards, landing correctly on N(100).
//
// The joining ID here is 80, not spec.md's illustrative 120: under the
// arc (pred.ID, self.ID] ownership rule an ID of 120 is genuinely owned
// by N(200) (100 < 120 <= 200), so no real node would ever redirect it
// to N(100) — 80 is a value that keeps the same three-node
// ring and stale-finger setup while landing in N(100)'s actual arc
// (50, 100], so the REDRT-then-welcome outcome is reachable without
// fabricating an inconsistent ring. (Any ID in (50, 100] would take the
// same path; 80 is just one such value.)
func TestOvershootRecoveryViaStaleFinger(t *testing.T) {
	n1 := startNode(t, 50, emptyFolder(t), "")
	defer n1.stop()

	n3 := startNode(t, 200, emptyFolder(t), n1.e.Self().Addr())
	defer n3.stop()
	waitFor(t, 2*time.Second, func() bool {
		return n1.e.Pred().ID == 200 && n3.e.Pred().ID == 50
	})

	// N2 joins through N1, which forwards it on to N3 (N1's only finger
	// at this point). N3 is the sole owner of the (50, 200] arc and
	// welcomes N2 directly, updating N3's pred. N1 is never told: its
	// forward() call only reads an EOF back (conn.Close() before
	// welcome()), so its own finger table is left pointing at 200.
	n2 := startNode(t, 100, emptyFolder(t), n1.e.Self().Addr())
	defer n2.stop()
	waitFor(t, 2*time.Second, func() bool {
		return n3.e.Pred().ID == 100 && n2.e.Pred().ID == 50
	})

	if n1.e.Fingers()[0].ID != 200 {
		t.Fatalf("precondition: N1.fingers[0] = %v, want stale 200", n1.e.Fingers()[0].ID)
	}

	n4 := startNode(t, 80, emptyFolder(t), n1.e.Self().Addr())
	defer n4.stop()
	waitFor(t, 2*time.Second, func() bool {
		return n2.e.Pred().ID == 80
	})

	if n1.e.Fingers()[0].ID != 100 {
		t.Fatalf("N1.fingers[0] = %v, want corrected to 100 after REDRT", n1.e.Fingers()[0].ID)
	}
	if n4.e.Pred().ID != 50 {
		t.Fatalf("N4.pred = %v, want 50", n4.e.Pred().ID)
	}
}

// Remote hit: a two-node ring where the queried node's arc doesn't hold the
// image, and the query must be forwarded and answered via REPLY.
// After the first FIND succeeds, a second FIND for the same name is served
// out of the querying node's own cache with no further ring traffic needed.
// Both nodes share one image folder: a REPLY carries only the name, and the
// originator loads the bytes from its own folder.
func TestRemoteHitThenCachedLocally(t *testing.T) {
	imgDir := t.TempDir()
	tinyTGA(t, imgDir, "Remote.tga")
	writeManifest(t, imgDir, []string{"Remote.tga"})
	owner := identifier.HashName("Remote.tga")

	// Pick an ID clearly outside the owner's eventual arc so the query
	// must traverse the ring rather than resolve locally.
	queryingID := owner + 128

	n1 := startNode(t, owner, imgDir, "")
	defer n1.stop()

	n2 := startNode(t, queryingID, imgDir, n1.e.Self().Addr())
	defer n2.stop()

	waitFor(t, 2*time.Second, func() bool {
		return n1.e.Pred().ID == n2.e.Self().ID && n2.e.Pred().ID == n1.e.Self().ID
	})

	res, err := clientproto.Find(n2.e.Self().Addr(), "Remote.tga")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !res.Found {
		t.Fatalf("expected Remote.tga to resolve via the ring")
	}

	// Give the engine loop a beat to finish the REPLY-triggered Insert.
	waitFor(t, time.Second, func() bool { return n2.e.index.Len() > 0 })

	res2, err := clientproto.Find(n2.e.Self().Addr(), "Remote.tga")
	if err != nil {
		t.Fatalf("second Find: %v", err)
	}
	if !res2.Found {
		t.Fatalf("expected cached hit on second Find")
	}
}
