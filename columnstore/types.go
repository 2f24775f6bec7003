// Package columnstore is the column-store facade: the registry that owns
// one append tree per series, the writer session that caches hot paths
// around it, and the row iterator / query driver that turn per-series
// range scans into a single ordered sample stream. It generalizes the
// teacher's Quasar (package btrdb) from a UUID-keyed, statistics-capable
// store to this core's narrower uint64-keyed, float-only data model.
package columnstore

import (
	"github.com/btrdb-io/columnstore/internal/appendtree"
	"github.com/btrdb-io/columnstore/internal/bprovider"
	"github.com/btrdb-io/columnstore/internal/bte"
)

// ParamId is the opaque series identifier assigned by the external
// name registry; the column store neither parses nor validates it beyond
// uniqueness within the registry.
type ParamId uint64

// PayloadType names the kind of value a Sample carries. This core only
// ever stores Float.
type PayloadType int

const Float PayloadType = 0

// Sample is a single (series, timestamp, payload type, value) point.
type Sample struct {
	SeriesID    ParamId
	Timestamp   uint64
	PayloadType PayloadType
	Value       float64
}

// AppendResult is re-exported from appendtree so callers never need to
// import it directly.
type AppendResult = appendtree.AppendResult

const (
	OK            = appendtree.OK
	OKFlushNeeded = appendtree.OKFlushNeeded
	FailBadValue  = appendtree.FailBadValue
	FailBadID     = appendtree.FailBadID
	FailIO        = appendtree.FailIO
)

// Address is re-exported from bprovider for rescue-point callers.
type Address = bprovider.Address

// OrderBy selects how a query composes its per-series scans.
type OrderBy int

const (
	OrderBySeries OrderBy = iota
	OrderByTime
)

// GroupBy is consulted only for validation in this core: the actual
// projection is performed by the consumer.
type GroupBy struct {
	Enabled      bool
	TransientMap map[ParamId]string
}

// Select names which series and time range a query covers.
type Select struct {
	IDs   []ParamId
	Begin uint64
	End   uint64
}

// ReshapeRequest is the query descriptor handed in from the (external)
// query parser.
type ReshapeRequest struct {
	Select  Select
	OrderBy OrderBy
	GroupBy GroupBy
}

// Consumer is the sink a query streams samples into.
type Consumer interface {
	// Put delivers one sample. Returning false is back-pressure: "stop, I
	// will not take more." No further samples are delivered afterward.
	Put(s Sample) bool

	// SetError reports a status for the query. NotFound is reported once
	// per missing id and does not end the query; any other code is
	// terminal, is reported at most once, and no Put calls follow it.
	SetError(code bte.Code)
}
