package columnstore

import (
	"github.com/btrdb-io/columnstore/internal/appendtree"
	"github.com/btrdb-io/columnstore/internal/bte"
)

// rowIterator is the row iterator layer of SPEC_FULL.md §4.E: modeled as
// a tagged variant over {chain, timeMerge} rather than open polymorphism,
// per the design note that the source only ever has one concrete variant
// plus an unimplemented one.
type rowIterator interface {
	// read writes up to len(dest) samples into dest and returns the
	// status and the number written. OK means dest was filled or a
	// partial batch was produced and the caller should call again;
	// NoData means every inner iterator has drained (n may be zero); any
	// other code is the first error encountered, with n already-produced
	// samples still valid.
	read(dest []Sample) (bte.Code, int)
}

type seriesStream struct {
	id ParamId
	rc <-chan appendtree.Record
	ec <-chan bte.BTE
}

// chainIterator implements order-by-series: consume streams in the
// supplied order, tagging every emitted record with its series id, and
// advance to the next stream only once the current one drains.
type chainIterator struct {
	streams []seriesStream
	idx     int
}

func newChainIterator(streams []seriesStream) *chainIterator {
	return &chainIterator{streams: streams}
}

func (c *chainIterator) read(dest []Sample) (bte.Code, int) {
	n := 0
	for n < len(dest) {
		if c.idx >= len(c.streams) {
			return bte.NoData, n
		}
		cur := c.streams[c.idx]
		rec, ok := <-cur.rc
		if !ok {
			if err := drainError(cur.ec); err != nil {
				return err.Code(), n
			}
			c.idx++
			continue
		}
		dest[n] = Sample{SeriesID: cur.id, Timestamp: rec.Timestamp, PayloadType: Float, Value: rec.Value}
		n++
	}
	return bte.OK, n
}

// drainError does a non-blocking check of a stream's error channel once
// its record channel has been observed closed. appendtree.Search defers
// close(ec) after close(rc), so ec is closed first, and any error was
// already sent on it (ec is buffered by one) by the time rc reads closed.
func drainError(ec <-chan bte.BTE) bte.BTE {
	select {
	case err, ok := <-ec:
		if ok {
			return err
		}
		return nil
	default:
		return nil
	}
}

// timeMergeIterator is the order-by-time variant. The source declares it
// unimplemented; every read reports NOT_IMPLEMENTED, and the query driver
// never actually constructs one (it rejects TIME ordering before building
// a row iterator at all). It exists so the tagged-variant shape is
// explicit in the type system rather than implied by a missing branch.
type timeMergeIterator struct{}

func (timeMergeIterator) read(dest []Sample) (bte.Code, int) {
	return bte.NotImplemented, 0
}
