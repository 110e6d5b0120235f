// Package objectindex is a node's local view of the images it currently
// owns: a name -> (ID, digest) table bounded at Capacity entries, guarded
// by a Bloom filter so a lookup for a name nobody on this node has ever
// heard of costs one cheap bitmask test instead of a linear scan
// (spec.md §4.1, §4.2).
//
// Grounded on the original implementation's imgdb_db/imgdb_bloomfilter
// (imgdb.cpp), reshaped around this module's identifier.ID and the
// imagestore blob-store collaborator. Logging follows
// KoordeDHT/internal/storage's per-operation Debug calls.
package objectindex

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"imgdht/internal/identifier"
	"imgdht/internal/imagestore"
	"imgdht/internal/logger"
	"imgdht/internal/wire"
)

// Capacity is the maximum number of entries the local table holds at
// once (spec.md §4.1).
const Capacity = 1024

// ManifestFile is the name of the per-node image manifest, one filename
// per line, read from the image folder passed on the command line.
const ManifestFile = "FILELIST.txt"

// Result is the tri-state outcome of a Lookup.
type Result int

const (
	// Miss means the Bloom filter definitively ruled the name out; no
	// scan of the table was needed.
	Miss Result = iota
	// False means the Bloom filter said "maybe" but the table has no
	// matching entry — a Bloom false positive.
	False
	// Found means the name is present and its bytes were loaded.
	Found
)

func (r Result) String() string {
	switch r {
	case Miss:
		return "MISS"
	case False:
		return "FALSE"
	case Found:
		return "FOUND"
	default:
		return "UNKNOWN"
	}
}

// entry is one manifest or cache record. No two entries are de-duplicated
// against each other; Reload rebuilds the whole table, Insert only appends.
type entry struct {
	id     identifier.ID
	name   string
	digest [20]byte
}

// loaded caches the most recently found image's decoded form so FetchBytes
// doesn't need to re-decode after Lookup already did.
type loaded struct {
	name   string
	meta   imagestore.Meta
	pixels []byte
}

// Index is a node's local object table plus Bloom filter. It is only ever
// touched from the node engine's single goroutine (spec.md §2's
// cooperative, non-reentrant event loop), so it carries no mutex — the
// same reasoning KoordeDHT's Storage applies with sync.RWMutex does not
// hold here, because there is never more than one caller.
type Index struct {
	lgr    logger.Logger
	folder string

	arcLo, arcHi identifier.ID
	table        []entry
	bloom        bloomBits

	current *loaded
}

// New creates an index rooted at folder, holding no entries until Reload
// or Insert populates it.
func New(folder string, lgr logger.Logger) *Index {
	return &Index{lgr: lgr, folder: folder}
}

// Arc reports the half-open interval this index was last reloaded for.
func (ix *Index) Arc() (lo, hi identifier.ID) { return ix.arcLo, ix.arcHi }

// Len reports the current table size.
func (ix *Index) Len() int { return len(ix.table) }

// Reload rebuilds the table and Bloom filter from scratch, keeping only
// manifest entries whose ID falls in the half-open arc (lo, hi] this node
// now owns (spec.md §4.2 — called when a node boots as first on the ring,
// and whenever its predecessor changes: on WLCM receipt and after
// welcoming a joiner).
//
// A missing or unreadable manifest, or a filename longer than
// wire.MaxFName-1 bytes, is fatal: the manifest is the node's only
// record of what it's supposed to serve, so a corrupt one means the node
// cannot do its job. A manifest entry whose image file turns out not to
// exist on disk is likewise fatal — the manifest disagrees with the
// filesystem it describes. Running past Capacity entries is not fatal:
// the scan stops early and the overflow is only logged, since a node
// that serves a truncated slice of its arc is still useful.
func (ix *Index) Reload(lo, hi identifier.ID) error {
	f, err := os.Open(filepath.Join(ix.folder, ManifestFile))
	if err != nil {
		return fmt.Errorf("objectindex: opening manifest: %w", err)
	}
	defer f.Close()

	table := make([]entry, 0, Capacity)
	var bloom bloomBits
	overflowed := false

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := sc.Text()
		if name == "" {
			continue
		}
		if len(name) >= wire.MaxFName {
			return fmt.Errorf("objectindex: manifest name %q exceeds %d bytes", name, wire.MaxFName-1)
		}
		digest := identifier.Digest([]byte(name))
		id := identifier.FromDigest(digest)
		if !identifier.InRange(id, lo, hi) {
			continue
		}
		if len(table) >= Capacity {
			overflowed = true
			break
		}
		if _, err := os.Stat(filepath.Join(ix.folder, name)); err != nil {
			return fmt.Errorf("objectindex: manifest entry %q has no backing file: %w", name, err)
		}
		table = append(table, entry{id: id, name: name, digest: digest})
		bloom.set(digest)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("objectindex: reading manifest: %w", err)
	}

	ix.arcLo, ix.arcHi = lo, hi
	ix.table = table
	ix.bloom = bloom
	ix.current = nil

	if overflowed {
		ix.lgr.Warn("object table capacity reached during reload, remaining manifest entries dropped",
			logger.F("capacity", Capacity))
	}
	ix.lgr.Debug("object index reloaded",
		logger.F("arcLo", lo), logger.F("arcHi", hi), logger.F("count", len(table)))
	return nil
}

// Insert adds name (e.g. a result cached after a remote REPLY) to the
// table without consulting or changing the owned arc. As in Reload,
// overflow is not an error: it just drops the insert — a cache is allowed
// to be incomplete.
func (ix *Index) Insert(name string) {
	if len(ix.table) >= Capacity {
		ix.lgr.Warn("object table full, dropping cache insert", logger.F("name", name))
		return
	}
	digest := identifier.Digest([]byte(name))
	id := identifier.FromDigest(digest)
	ix.table = append(ix.table, entry{id: id, name: name, digest: digest})
	ix.bloom.set(digest)
}

// Lookup resolves name against the Bloom filter first, then — only on a
// possible hit — against the table. A Found result also decodes the
// image so FetchBytes can return it without touching the filesystem
// again.
func (ix *Index) Lookup(name string) (Result, error) {
	digest := identifier.Digest([]byte(name))
	if !ix.bloom.mayContain(digest) {
		ix.lgr.Debug("lookup missed the bloom filter", logger.F("name", name))
		return Miss, nil
	}
	for _, e := range ix.table {
		if e.name != name {
			continue
		}
		meta, pixels, err := imagestore.Load(filepath.Join(ix.folder, name))
		if err != nil {
			return False, fmt.Errorf("objectindex: loading %q: %w", name, err)
		}
		ix.current = &loaded{name: name, meta: meta, pixels: pixels}
		ix.lgr.Debug("lookup found", logger.F("name", name))
		return Found, nil
	}
	ix.lgr.Debug("lookup was a bloom false positive", logger.F("name", name))
	return False, nil
}

// FetchBytes returns the metadata and RGB-ordered pixel bytes of the
// image most recently resolved by a Found Lookup. ok is false if no
// image is currently loaded.
func (ix *Index) FetchBytes() (meta wire.ImageMeta, pixels []byte, ok bool) {
	if ix.current == nil {
		return wire.NotFound, nil, false
	}
	m := ix.current.meta
	return wire.ImageMeta{
		Depth:  uint8(m.PixelDepth),
		Width:  uint16(m.Width),
		Height: uint16(m.Height),
		Format: m.Format(),
	}, imagestore.ToRGBOrder(ix.current.pixels, m), true
}
