package columnstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btrdb-io/columnstore/internal/appendtree"
	"github.com/btrdb-io/columnstore/internal/bte"
)

func closedStream(id ParamId, records ...appendtree.Record) seriesStream {
	rc := make(chan appendtree.Record, len(records))
	for _, r := range records {
		rc <- r
	}
	close(rc)
	ec := make(chan bte.BTE, 1)
	close(ec)
	return seriesStream{id: id, rc: rc, ec: ec}
}

func failingStream(id ParamId, err bte.BTE) seriesStream {
	rc := make(chan appendtree.Record)
	close(rc)
	ec := make(chan bte.BTE, 1)
	ec <- err
	close(ec)
	return seriesStream{id: id, rc: rc, ec: ec}
}

func TestChainIteratorTagsEachRecordWithItsSeries(t *testing.T) {
	streams := []seriesStream{
		closedStream(1, appendtree.Record{Timestamp: 1, Value: 10}, appendtree.Record{Timestamp: 2, Value: 20}),
		closedStream(2, appendtree.Record{Timestamp: 1, Value: 100}),
	}
	it := newChainIterator(streams)
	dest := make([]Sample, 16)

	status, n := it.read(dest)
	require.Equal(t, bte.NoData, status)
	require.Equal(t, 3, n)
	require.Equal(t, ParamId(1), dest[0].SeriesID)
	require.Equal(t, ParamId(1), dest[1].SeriesID)
	require.Equal(t, ParamId(2), dest[2].SeriesID)
}

func TestChainIteratorStopsAtDestCapacity(t *testing.T) {
	streams := []seriesStream{
		closedStream(1, appendtree.Record{Timestamp: 1}, appendtree.Record{Timestamp: 2}, appendtree.Record{Timestamp: 3}),
	}
	it := newChainIterator(streams)
	dest := make([]Sample, 2)

	status, n := it.read(dest)
	require.Equal(t, bte.OK, status)
	require.Equal(t, 2, n)

	status, n = it.read(dest)
	require.Equal(t, bte.NoData, status)
	require.Equal(t, 1, n)
}

func TestChainIteratorPropagatesStreamError(t *testing.T) {
	streams := []seriesStream{
		failingStream(1, bte.Err(bte.IO, "boom")),
	}
	it := newChainIterator(streams)
	dest := make([]Sample, 16)

	status, _ := it.read(dest)
	require.Equal(t, bte.IO, status)
}

func TestTimeMergeIteratorIsNotImplemented(t *testing.T) {
	var it timeMergeIterator
	status, n := it.read(make([]Sample, 4))
	require.Equal(t, bte.NotImplemented, status)
	require.Equal(t, 0, n)
}
