package columnstore

import (
	"sync"

	logging "github.com/op/go-logging"
	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"

	"github.com/btrdb-io/columnstore/internal/appendtree"
	"github.com/btrdb-io/columnstore/internal/bstore"
	"github.com/btrdb-io/columnstore/internal/bte"
	"github.com/btrdb-io/columnstore/internal/configprovider"
	"github.com/btrdb-io/columnstore/internal/metrics"
)

var lg *logging.Logger

func init() {
	lg = logging.MustGetLogger("columnstore")
}

// seriesHandle is shared-owned by the registry and by any number of
// writer session caches, following the design note that the registry
// guarantees the handle's lifetime outweighs any session's. Its mutex is
// the per-series write latch: the table lock only ever guards the
// registry's map, never a tree's own mutation.
type seriesHandle struct {
	id   ParamId
	mu   sync.Mutex
	tree *appendtree.Tree
}

func (h *seriesHandle) append(ts uint64, value float64) (AppendResult, []Address) {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := h.tree.Append(ts, value)
	var roots []Address
	if res == OKFlushNeeded {
		roots = h.tree.GetRoots()
	}
	return res, roots
}

func (h *seriesHandle) search(ctx context.Context, begin, end uint64) seriesStream {
	rc, ec := h.tree.Search(ctx, begin, end)
	return seriesStream{id: h.id, rc: rc, ec: ec}
}

// ColumnStore is the column store registry of SPEC_FULL.md §4.C: it owns
// one append tree per series, guarded by a single table lock that
// protects only the id→handle map, never a tree's own mutation.
type ColumnStore struct {
	cfg configprovider.Configuration
	bs  *bstore.BlockStore

	mu     sync.Mutex
	trees  map[ParamId]*seriesHandle
	closed bool
}

// NewColumnStore opens (or creates) the block store backend named by cfg
// and returns an empty registry over it.
func NewColumnStore(cfg configprovider.Configuration) (*ColumnStore, bte.BTE) {
	bs, err := bstore.NewBlockStore(cfg)
	if err != nil {
		return nil, err
	}
	return &ColumnStore{
		cfg:   cfg,
		bs:    bs,
		trees: make(map[ParamId]*seriesHandle, 128),
	}, nil
}

// CreateNewColumn creates and force-initializes a new append tree for id.
// Fails with BadArg if id already exists; the check-then-insert is atomic
// under the table lock.
func (cs *ColumnStore) CreateNewColumn(id ParamId) bte.BTE {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.trees[id]; ok {
		return bte.Errf(bte.BadArg, "series %d already exists", uint64(id))
	}
	tree := appendtree.New(uint64(id), cs.bs, cs.cfg)
	tree.ForceInit()
	cs.trees[id] = &seriesHandle{id: id, tree: tree}
	return nil
}

// write looks up id's handle under the table lock, releases the lock
// before mutating the tree (the handle's own mutex, not the table lock,
// serializes concurrent writers of the same series), and on success
// populates cache so the caller's next write for id bypasses the
// registry entirely.
func (cs *ColumnStore) write(sample Sample, rescueOut *[]Address, cache map[ParamId]*seriesHandle) AppendResult {
	cs.mu.Lock()
	h, ok := cs.trees[sample.SeriesID]
	cs.mu.Unlock()
	if !ok {
		metrics.AppendsTotal.WithLabelValues(FailBadID.String()).Inc()
		return FailBadID
	}

	res, roots := h.append(sample.Timestamp, sample.Value)
	if rescueOut != nil {
		*rescueOut = roots
	}
	if cache != nil && res != FailBadValue && res != FailBadID {
		cache[sample.SeriesID] = h
	}
	return res
}

// Query opens a range iterator per requested series under the table
// lock, releases the lock, and drives the resulting row iterator through
// the query driver. See SPEC_FULL.md §4.F.
func (cs *ColumnStore) Query(ctx context.Context, req ReshapeRequest, consumer Consumer) {
	cs.mu.Lock()
	streams := make([]seriesStream, 0, len(req.Select.IDs))
	for _, id := range req.Select.IDs {
		h, ok := cs.trees[id]
		if !ok {
			consumer.SetError(bte.NotFound)
			continue
		}
		streams = append(streams, h.search(ctx, req.Select.Begin, req.Select.End))
	}
	cs.mu.Unlock()

	runQuery(ctx, req, streams, consumer, cs.cfg.QueryBatchSize())
}

// UncommittedMemory sums uncommitted_size() across every owned tree.
func (cs *ColumnStore) UncommittedMemory() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	total := 0
	for _, h := range cs.trees {
		h.mu.Lock()
		total += h.tree.UncommittedSize()
		h.mu.Unlock()
	}
	metrics.UncommittedBytes.Set(float64(total))
	return total
}

// Close drains every owned tree concurrently (sealing a tree's remaining
// levels is pure I/O against independent logical addresses, so there is
// no reason to serialize it) and returns a map of the series that closed
// successfully to their final root addresses. A series missing from the
// returned map failed to close; its error was logged.
func (cs *ColumnStore) Close() map[ParamId][]Address {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return nil
	}
	cs.closed = true

	var mu sync.Mutex
	result := make(map[ParamId][]Address, len(cs.trees))

	g := new(errgroup.Group)
	for id, h := range cs.trees {
		id, h := id, h
		g.Go(func() error {
			h.mu.Lock()
			roots, err := h.tree.Close()
			h.mu.Unlock()
			if err != nil {
				lg.Errorf("close: series %d: %v", uint64(id), err)
				return nil
			}
			mu.Lock()
			result[id] = roots
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := cs.bs.Sync(); err != nil {
		lg.Errorf("close: block store sync: %v", err)
	}
	return result
}

// Session is the writer session of SPEC_FULL.md §4.D: a thread-local
// cache of series id → tree handle that bypasses the registry's table
// lock on repeat writes to the same series. Its cache never shrinks for
// the life of the session, since the registry never removes a tree.
type Session struct {
	store *ColumnStore
	cache map[ParamId]*seriesHandle
}

// NewSession opens a writer session against store.
func NewSession(store *ColumnStore) *Session {
	return &Session{store: store, cache: make(map[ParamId]*seriesHandle)}
}

// Write appends sample, going straight to the cached handle when id has
// been written before on this session, otherwise delegating to the
// registry and populating the cache on success.
func (s *Session) Write(sample Sample, rescueOut *[]Address) AppendResult {
	if sample.PayloadType != Float {
		return FailBadValue
	}
	if h, ok := s.cache[sample.SeriesID]; ok {
		res, roots := h.append(sample.Timestamp, sample.Value)
		if rescueOut != nil {
			*rescueOut = roots
		}
		return res
	}
	return s.store.write(sample, rescueOut, s.cache)
}

// Query simply forwards to the registry; sessions do not parallelize
// queries.
func (s *Session) Query(ctx context.Context, req ReshapeRequest, consumer Consumer) {
	s.store.Query(ctx, req, consumer)
}
