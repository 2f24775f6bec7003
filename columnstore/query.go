package columnstore

import (
	"time"

	logging "github.com/op/go-logging"
	"github.com/pborman/uuid"
	"golang.org/x/net/context"

	"github.com/btrdb-io/columnstore/internal/bte"
	"github.com/btrdb-io/columnstore/internal/metrics"
)

var qlog *logging.Logger

func init() {
	qlog = logging.MustGetLogger("query")
}

// runQuery is the query driver of SPEC_FULL.md §4.F. It is called with the
// table lock already released (the caller, ColumnStore.Query, opens the
// per-series range iterators under the lock and releases it before
// handing control here).
func runQuery(ctx context.Context, req ReshapeRequest, streams []seriesStream, consumer Consumer, batchSize int) {
	correlationID := uuid.NewRandom().String()
	qlog.Tracef("query %s: ids=%v begin=%d end=%d order_by=%v group_by=%v",
		correlationID, req.Select.IDs, req.Select.Begin, req.Select.End, req.OrderBy, req.GroupBy.Enabled)

	if req.OrderBy != OrderBySeries {
		qlog.Errorf("query %s: order_by=%v not implemented", correlationID, req.OrderBy)
		metrics.QueryErrorsTotal.WithLabelValues(bte.NotImplemented.String()).Inc()
		consumer.SetError(bte.NotImplemented)
		return
	}

	if batchSize <= 0 {
		batchSize = 4096
	}
	it := newChainIterator(streams)
	dest := make([]Sample, batchSize)

	start := time.Now()
	batches := 0
	delivered := 0
	defer func() {
		qlog.Debugf("query %s: %d batches, %d samples, %s", correlationID, batches, delivered, time.Since(start))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		status, n := it.read(dest)
		batches++
		metrics.QueryBatchesTotal.Inc()

		if status != bte.OK && status != bte.NoData {
			qlog.Errorf("query %s: %s", correlationID, status)
			metrics.QueryErrorsTotal.WithLabelValues(status.String()).Inc()
			consumer.SetError(status)
			return
		}

		for i := 0; i < n; i++ {
			sample := dest[i]
			if req.GroupBy.Enabled {
				if _, ok := req.GroupBy.TransientMap[sample.SeriesID]; !ok {
					qlog.Errorf("query %s: series %d not a group_by key", correlationID, sample.SeriesID)
					metrics.QueryErrorsTotal.WithLabelValues(bte.BadData.String()).Inc()
					consumer.SetError(bte.BadData)
					return
				}
				// Validated only: the actual group-by projection is the
				// consumer's responsibility, per §4.F and the open
				// question in §11 about whether this is an incomplete
				// code path or a deliberate split of responsibility.
				continue
			}
			if !consumer.Put(sample) {
				return
			}
			delivered++
			metrics.QuerySamplesTotal.Inc()
		}

		if status == bte.NoData {
			return
		}
	}
}
