package fileprovider

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/btrdb-io/columnstore/internal/bte"
)

func newTestProvider(t *testing.T) *FileStorageProvider {
	t.Helper()
	p := NewWithFs(afero.NewMemMapFs(), "/data")
	require.Nil(t, p.Initialize())
	return p
}

func TestAppendReadRoundTrip(t *testing.T) {
	p := newTestProvider(t)

	addr, err := p.Append([]byte("hello block"))
	require.Nil(t, err)

	got, err := p.Read(addr)
	require.Nil(t, err)
	require.Equal(t, []byte("hello block"), got)
}

func TestAppendAssignsDistinctAddresses(t *testing.T) {
	p := newTestProvider(t)

	a1, err := p.Append([]byte("one"))
	require.Nil(t, err)
	a2, err := p.Append([]byte("two"))
	require.Nil(t, err)
	require.NotEqual(t, a1, a2)

	v1, err := p.Read(a1)
	require.Nil(t, err)
	require.Equal(t, []byte("one"), v1)
	v2, err := p.Read(a2)
	require.Nil(t, err)
	require.Equal(t, []byte("two"), v2)
}

func TestReadUnknownAddress(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.Read(9999)
	require.NotNil(t, err)
	require.Equal(t, bte.NotFound, err.Code())
}

func TestReinitializeAdvancesTailPastExistingData(t *testing.T) {
	fs := afero.NewMemMapFs()
	p1 := NewWithFs(fs, "/data")
	require.Nil(t, p1.Initialize())
	_, err := p1.Append([]byte("persisted"))
	require.Nil(t, err)
	require.Nil(t, p1.Close())

	p2 := NewWithFs(fs, "/data")
	require.Nil(t, p2.Initialize())
	require.True(t, p2.tail > 0, "reopening must pick up the segment file's existing size")

	nextAddr, err := p2.Append([]byte("second"))
	require.Nil(t, err)
	got, err := p2.Read(nextAddr)
	require.Nil(t, err)
	require.Equal(t, []byte("second"), got)
}
