// Package appendtree is the per-series append tree described in
// SPEC_FULL.md §4.B: a level-0 in-memory write buffer that seals into
// leaf blocks, cascading into inner blocks that aggregate a fixed fan-out
// of child addresses. It is the generalization of the teacher's qtree,
// adapted to this core's narrower data model (a plain uint64 timestamp
// and float64 value, no statistical rollups) and to its own block store
// contract (internal/bstore) instead of the teacher's versioned,
// superblock-indexed on-disk format.
package appendtree

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/google/btree"
	logging "github.com/op/go-logging"
	"golang.org/x/net/context"

	"github.com/btrdb-io/columnstore/internal/bprovider"
	"github.com/btrdb-io/columnstore/internal/bstore"
	"github.com/btrdb-io/columnstore/internal/bte"
	"github.com/btrdb-io/columnstore/internal/configprovider"
	"github.com/btrdb-io/columnstore/internal/metrics"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("appendtree")
}

const btreeDegree = 32

// bytesPerSample is how many bytes a single (timestamp, value) pair costs
// in the level-0 buffer and in its serialized leaf block: 8 for the
// timestamp, 8 for the float64 value.
const bytesPerSample = 16

// bytesPerAddr is the serialized size of one child address in an inner
// block.
const bytesPerAddr = 8

// AppendResult is the outcome of a single Append call.
type AppendResult int

const (
	OK AppendResult = iota
	OKFlushNeeded
	FailBadValue
	FailBadID
	FailIO
)

func (r AppendResult) String() string {
	switch r {
	case OK:
		return "OK"
	case OKFlushNeeded:
		return "OK_FLUSH_NEEDED"
	case FailBadValue:
		return "FAIL_BAD_VALUE"
	case FailBadID:
		return "FAIL_BAD_ID"
	case FailIO:
		return "FAIL_IO"
	default:
		return "UNKNOWN"
	}
}

// Record is a single (timestamp, value) point, the tree's view of a
// sample stripped of its series id (the registry and row iterator layer
// attach that back on).
type Record struct {
	Timestamp uint64
	Value     float64
}

type sampleItem struct {
	ts  uint64
	val float64
}

func sampleLess(a, b sampleItem) bool {
	return a.ts < b.ts
}

// level holds either buffered samples (depth 0) or buffered child
// addresses (depth > 0) that have not yet been sealed into a block.
type level struct {
	depth       int
	buf         *btree.BTreeG[sampleItem] // used only at depth 0
	pendingAddr []bprovider.Address        // used only at depth > 0
}

func newLevel(depth int) *level {
	l := &level{depth: depth}
	if depth == 0 {
		l.buf = btree.NewG(btreeDegree, sampleLess)
	}
	return l
}

// Tree is one series' append tree.
type Tree struct {
	id  uint64
	bs  *bstore.BlockStore
	cfg configprovider.Configuration

	mu            sync.Mutex
	levels        []*level
	bufferedBytes int
	closed        bool
	finalRoots    []bprovider.Address
}

// New constructs an uninitialized tree; ForceInit (or the first Append)
// allocates its level-0 buffer.
func New(id uint64, bs *bstore.BlockStore, cfg configprovider.Configuration) *Tree {
	return &Tree{id: id, bs: bs, cfg: cfg}
}

// ForceInit ensures the level-0 buffer exists. Idempotent.
func (t *Tree) ForceInit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLevel0Locked()
}

func (t *Tree) ensureLevel0Locked() {
	if len(t.levels) == 0 {
		t.levels = append(t.levels, newLevel(0))
	}
}

// Append adds (ts, value) to the tree's level-0 buffer, sealing levels as
// capacity thresholds are crossed.
func (t *Tree) Append(ts uint64, value float64) AppendResult {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return FailBadValue
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLevel0Locked()

	if _, replaced := t.levels[0].buf.ReplaceOrInsert(sampleItem{ts: ts, val: value}); !replaced {
		t.bufferedBytes += bytesPerSample
	}

	flushed := false
	leafCapacity := t.leafCapacityBytesLocked()
	if t.bufferedBytes >= leafCapacity {
		if err := t.sealLocked(0); err != nil {
			// The sample is already in the in-memory buffer; per §4.B's
			// failure semantics it is not committed until a seal
			// succeeds, but we do not unwind it from the buffer either,
			// since a retried Append would merely re-insert the same
			// key. The caller retries the call and the next seal attempt
			// will pick up this sample again.
			metrics.AppendsTotal.WithLabelValues(FailIO.String()).Inc()
			return FailIO
		}
		flushed = true
	}

	if flushed {
		metrics.AppendsTotal.WithLabelValues(OKFlushNeeded.String()).Inc()
		metrics.FlushesTotal.Inc()
		return OKFlushNeeded
	}
	metrics.AppendsTotal.WithLabelValues(OK.String()).Inc()
	return OK
}

func (t *Tree) leafCapacityBytesLocked() int {
	points := t.cfg.CoalesceMaxPoints()
	if points <= 0 {
		points = 4096
	}
	return points * bytesPerSample
}

func (t *Tree) fanoutLocked() int {
	fanout := t.cfg.LeafFanout()
	if fanout <= 0 {
		fanout = 64
	}
	return fanout
}

// sealLocked seals levels[depth], cascading into its parent. Must be
// called with t.mu held.
func (t *Tree) sealLocked(depth int) bte.BTE {
	l := t.levels[depth]

	var payload []byte
	if depth == 0 {
		payload = encodeLeaf(l.buf)
	} else {
		payload = encodeInner(l.pendingAddr)
	}

	addr, err := t.bs.Append(payload)
	if err != nil {
		logger.Errorf("series %d: seal at depth %d failed: %v", t.id, depth, err)
		return err
	}

	if depth == 0 {
		l.buf = btree.NewG(btreeDegree, sampleLess)
		t.bufferedBytes = 0
	} else {
		l.pendingAddr = nil
	}

	if depth+1 >= len(t.levels) {
		t.levels = append(t.levels, newLevel(depth+1))
	}
	parent := t.levels[depth+1]
	parent.pendingAddr = append(parent.pendingAddr, addr)

	if len(parent.pendingAddr) >= t.fanoutLocked() {
		return t.sealLocked(depth + 1)
	}
	return nil
}

// GetRoots returns every currently un-parented address: a complete
// recovery set for everything sealed so far. A cascaded seal only
// subsumes the addresses it just consumed (its own level's pendingAddr,
// now reset) into the one new address it pushes upward; it says nothing
// about addresses sitting in other levels, so the full root set is the
// union of pendingAddr across every level above 0, not just the topmost
// one. Empty until the level-0 buffer has sealed at least once.
func (t *Tree) GetRoots() []bprovider.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootsLocked()
}

func (t *Tree) rootsLocked() []bprovider.Address {
	var rv []bprovider.Address
	for depth := 1; depth < len(t.levels); depth++ {
		rv = append(rv, t.levels[depth].pendingAddr...)
	}
	return rv
}

// Close seals the level-0 buffer and every non-empty level below the
// topmost one into its parent, and returns the final root set: the
// topmost level's pending addresses.
// Idempotent: the second and subsequent calls return the cached result of
// the first without re-sealing anything.
func (t *Tree) Close() ([]bprovider.Address, bte.BTE) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return t.finalRoots, nil
	}

	for depth := 0; depth < len(t.levels); depth++ {
		if depth > 0 && depth == len(t.levels)-1 {
			break
		}
		l := t.levels[depth]
		empty := false
		if depth == 0 {
			empty = l.buf == nil || l.buf.Len() == 0
		} else {
			empty = len(l.pendingAddr) == 0
		}
		if !empty {
			if err := t.sealLocked(depth); err != nil {
				return nil, err
			}
		}
	}
	t.closed = true
	t.finalRoots = t.rootsLocked()
	return t.finalRoots, nil
}

// UncommittedSize is the byte count of samples buffered at level 0 that
// have not yet been sealed into a block.
func (t *Tree) UncommittedSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bufferedBytes
}

// Search returns a channel of records, ascending over [begin, end) if
// begin <= end, or descending (reverse scan) over [end, begin] if
// begin > end — a reverse scan's begin is its inclusive high bound,
// matching the forward scan's convention of naming the scan's first
// returned timestamp first. It also returns an error channel carrying at
// most one error. Both channels are closed when the scan is done. The
// scan observes a snapshot of the tree's committed state (sealed blocks
// plus a cloned in-memory buffer) taken at call time; it holds no lock on
// the tree while running.
func (t *Tree) Search(ctx context.Context, begin, end uint64) (<-chan Record, <-chan bte.BTE) {
	rc := make(chan Record, 256)
	ec := make(chan bte.BTE, 1)

	descending := begin > end
	lo, hi := begin, end
	if descending {
		lo, hi = end, begin
	}
	// ascendHi is the exclusive upper bound passed to the btree's
	// AscendRange, which only ever accepts a half-open interval: for a
	// forward scan that is hi itself, since [begin, end) is already
	// half-open; for a reverse scan hi (== begin) is inclusive, so widen
	// by one.
	ascendHi := hi
	if descending && ascendHi < math.MaxUint64 {
		ascendHi++
	}

	t.mu.Lock()
	var bufSnapshot *btree.BTreeG[sampleItem]
	if len(t.levels) > 0 && t.levels[0].buf != nil {
		bufSnapshot = t.levels[0].buf.Clone()
	}
	leafFrontier, pendingLeafAddrs := t.frontierLocked()
	t.mu.Unlock()

	go func() {
		defer close(rc)
		defer close(ec)

		var all []sampleItem
		if bufSnapshot != nil {
			bufSnapshot.AscendRange(sampleItem{ts: lo}, sampleItem{ts: ascendHi}, func(item sampleItem) bool {
				all = append(all, item)
				return true
			})
		}

		for _, addr := range pendingLeafAddrs {
			recs, err := t.readLeaf(addr)
			if err != nil {
				ec <- err
				return
			}
			all = append(all, recs...)
		}
		for depth, addrs := range leafFrontier {
			for _, addr := range addrs {
				recs, err := t.descend(ctx, depth, addr)
				if err != nil {
					ec <- err
					return
				}
				all = append(all, recs...)
			}
		}

		filtered := all[:0]
		for _, s := range all {
			inRange := s.ts >= lo && s.ts < hi
			if descending {
				inRange = s.ts >= lo && s.ts <= hi
			}
			if inRange {
				filtered = append(filtered, s)
			}
		}
		sortSamples(filtered, descending)

		for _, s := range filtered {
			select {
			case <-ctx.Done():
				return
			case rc <- Record{Timestamp: s.ts, Value: s.val}:
			}
		}
	}()

	return rc, ec
}

// frontierLocked splits the tree's currently-open, not-yet-sealed
// addresses into: the level-1 pending addresses, which are themselves
// leaf (level-0) block addresses, and, for every level above that, the
// (depth, address) pairs of sealed blocks that must be descended to
// reach their leaves.
func (t *Tree) frontierLocked() (map[int][]bprovider.Address, []bprovider.Address) {
	frontier := make(map[int][]bprovider.Address)
	var pendingLeaf []bprovider.Address
	if len(t.levels) > 1 {
		pendingLeaf = append(pendingLeaf, t.levels[1].pendingAddr...)
	}
	for depth := 2; depth < len(t.levels); depth++ {
		frontier[depth-1] = append(frontier[depth-1], t.levels[depth].pendingAddr...)
	}
	return frontier, pendingLeaf
}

// descend reads the sealed inner block at addr (whose children live at
// depth-1) and recurses down to the leaf (depth 0) records it covers.
func (t *Tree) descend(ctx context.Context, depth int, addr bprovider.Address) ([]sampleItem, bte.BTE) {
	data, err := t.bs.Read(addr)
	if err != nil {
		return nil, err
	}
	children := decodeInner(data)
	if depth == 1 {
		var rv []sampleItem
		for _, c := range children {
			recs, err := t.readLeaf(c)
			if err != nil {
				return nil, err
			}
			rv = append(rv, recs...)
		}
		return rv, nil
	}
	var rv []sampleItem
	for _, c := range children {
		sub, err := t.descend(ctx, depth-1, c)
		if err != nil {
			return nil, err
		}
		rv = append(rv, sub...)
	}
	return rv, nil
}

func (t *Tree) readLeaf(addr bprovider.Address) ([]sampleItem, bte.BTE) {
	data, err := t.bs.Read(addr)
	if err != nil {
		return nil, err
	}
	return decodeLeaf(data), nil
}

func sortSamples(s []sampleItem, descending bool) {
	// Insertion sort is adequate here: leaf blocks are individually
	// bounded by CoalesceMaxPoints and a query typically spans a modest
	// number of them; this avoids pulling in sort.Slice's reflection
	// overhead for the common small-batch case.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0; j-- {
			less := s[j].ts < s[j-1].ts
			if descending {
				less = s[j].ts > s[j-1].ts
			}
			if !less {
				break
			}
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func encodeLeaf(buf *btree.BTreeG[sampleItem]) []byte {
	out := make([]byte, 0, buf.Len()*bytesPerSample)
	buf.Ascend(func(item sampleItem) bool {
		var b [bytesPerSample]byte
		binary.LittleEndian.PutUint64(b[0:8], item.ts)
		binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(item.val))
		out = append(out, b[:]...)
		return true
	})
	return out
}

func decodeLeaf(data []byte) []sampleItem {
	n := len(data) / bytesPerSample
	rv := make([]sampleItem, 0, n)
	for i := 0; i < n; i++ {
		off := i * bytesPerSample
		ts := binary.LittleEndian.Uint64(data[off : off+8])
		val := math.Float64frombits(binary.LittleEndian.Uint64(data[off+8 : off+16]))
		rv = append(rv, sampleItem{ts: ts, val: val})
	}
	return rv
}

func encodeInner(addrs []bprovider.Address) []byte {
	out := make([]byte, len(addrs)*bytesPerAddr)
	for i, a := range addrs {
		binary.LittleEndian.PutUint64(out[i*bytesPerAddr:], uint64(a))
	}
	return out
}

func decodeInner(data []byte) []bprovider.Address {
	n := len(data) / bytesPerAddr
	rv := make([]bprovider.Address, n)
	for i := 0; i < n; i++ {
		rv[i] = bprovider.Address(binary.LittleEndian.Uint64(data[i*bytesPerAddr:]))
	}
	return rv
}
