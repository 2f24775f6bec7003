package columnstore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"github.com/btrdb-io/columnstore/internal/bte"
)

type limitedConsumer struct {
	limit   int
	samples []Sample
	errCode bte.Code
	gotErr  bool
}

func (c *limitedConsumer) Put(s Sample) bool {
	if len(c.samples) >= c.limit {
		return false
	}
	c.samples = append(c.samples, s)
	return true
}

func (c *limitedConsumer) SetError(code bte.Code) {
	c.errCode = code
	c.gotErr = true
}

func TestConsumerBackPressureStopsDelivery(t *testing.T) {
	cs := newTestStore(t)
	require.Nil(t, cs.CreateNewColumn(1))
	sess := NewSession(cs)
	for i := uint64(0); i < 10; i++ {
		sess.Write(Sample{SeriesID: 1, Timestamp: i, PayloadType: Float, Value: float64(i)}, nil)
	}

	consumer := &limitedConsumer{limit: 3}
	req := ReshapeRequest{
		Select:  Select{IDs: []ParamId{1}, Begin: 0, End: 100},
		OrderBy: OrderBySeries,
	}
	cs.Query(context.Background(), req, consumer)

	require.False(t, consumer.gotErr)
	require.Len(t, consumer.samples, 3)
}
