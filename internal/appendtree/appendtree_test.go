package appendtree

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"github.com/btrdb-io/columnstore/internal/bstore"
	"github.com/btrdb-io/columnstore/internal/configprovider"
	"github.com/btrdb-io/columnstore/internal/fileprovider"
)

type fixedConfig struct {
	configprovider.Configuration
	maxPoints int
	fanout    int
	batch     int
}

func (c *fixedConfig) CoalesceMaxPoints() int { return c.maxPoints }
func (c *fixedConfig) LeafFanout() int        { return c.fanout }
func (c *fixedConfig) QueryBatchSize() int    { return c.batch }

func newTestTree(t *testing.T, maxPoints, fanout int) *Tree {
	t.Helper()
	sp := fileprovider.NewWithFs(afero.NewMemMapFs(), "/data")
	require.Nil(t, sp.Initialize())
	bs := bstore.NewBlockStoreFromProvider(sp)
	cfg := &fixedConfig{maxPoints: maxPoints, fanout: fanout, batch: 4096}
	tree := New(1, bs, cfg)
	tree.ForceInit()
	return tree
}

func collect(t *testing.T, tree *Tree, begin, end uint64) []Record {
	t.Helper()
	rc, ec := tree.Search(context.Background(), begin, end)
	var out []Record
	for r := range rc {
		out = append(out, r)
	}
	if err, ok := <-ec; ok && err != nil {
		t.Fatalf("search error: %v", err)
	}
	return out
}

func TestAppendAndSearchRoundTrip(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	for i := uint64(0); i < 3; i++ {
		res := tree.Append(i, float64(i)*1.5)
		require.NotEqual(t, FailBadValue, res)
		require.NotEqual(t, FailIO, res)
	}

	got := collect(t, tree, 0, 10)
	require.Len(t, got, 3)
	for i, r := range got {
		require.Equal(t, uint64(i), r.Timestamp)
		require.Equal(t, float64(i)*1.5, r.Value)
	}
}

func TestAppendRejectsNaNAndInf(t *testing.T) {
	tree := newTestTree(t, 64, 64)
	require.Equal(t, FailBadValue, tree.Append(1, nanValue()))
	require.Equal(t, FailBadValue, tree.Append(2, infValue()))
}

func nanValue() float64 {
	var z float64
	return z / z
}

func infValue() float64 {
	return 1.0 / zero()
}

func zero() float64 {
	return 0
}

func TestSealCascadesAndRootsSubsumeChildren(t *testing.T) {
	// maxPoints=1 so every Append seals level 0 immediately; fanout=2 so
	// every second level-0 seal cascades into sealing level 1.
	tree := newTestTree(t, 1, 2)

	require.Nil(t, tree.GetRoots())

	r1 := tree.Append(1, 1)
	require.Equal(t, OKFlushNeeded, r1)
	roots1 := tree.GetRoots()
	require.Len(t, roots1, 1, "the first sealed leaf is reported as level 1's only pending address")

	r2 := tree.Append(2, 2)
	require.Equal(t, OKFlushNeeded, r2)
	roots2 := tree.GetRoots()
	require.Len(t, roots2, 1, "once level 1 itself seals, its single inner address subsumes both leaves")
	require.NotEqual(t, roots1[0], roots2[0], "subsumption replaces the old root with a new, higher-level one")

	// A third append seals a fresh leaf into level 1, which has not yet
	// cascaded again (fanout=2, only one pending address so far). The
	// rescue set must cover both this new, un-parented leaf and the
	// higher-level address left over from the first cascade: a recovery
	// that used only the topmost level would silently drop the new leaf.
	r3 := tree.Append(3, 3)
	require.Equal(t, OKFlushNeeded, r3)
	roots3 := tree.GetRoots()
	require.Len(t, roots3, 2, "the rescue set must union every level's pending addresses, not just the topmost")
	require.Contains(t, roots3, roots2[0], "the earlier cascade's root must still be covered")
}

func TestSearchDescendingReversesOrder(t *testing.T) {
	tree := newTestTree(t, 8, 8)
	for i := uint64(0); i < 5; i++ {
		tree.Append(i, float64(i))
	}
	got := collect(t, tree, 4, 0)
	require.Len(t, got, 5)
	for i, r := range got {
		require.Equal(t, uint64(4-i), r.Timestamp)
	}
}

func TestCloseIsIdempotentAndSealsRemainder(t *testing.T) {
	tree := newTestTree(t, 64, 64)
	tree.Append(1, 1)
	tree.Append(2, 2)
	require.Equal(t, 32, tree.UncommittedSize())

	roots1, err := tree.Close()
	require.Nil(t, err)
	require.NotEmpty(t, roots1)
	require.Equal(t, 0, tree.UncommittedSize())

	roots2, err := tree.Close()
	require.Nil(t, err)
	require.Equal(t, roots1, roots2)
}

func TestSearchFiltersToRequestedRange(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	for i := uint64(0); i < 10; i++ {
		tree.Append(i, float64(i))
	}
	got := collect(t, tree, 3, 6)
	require.Len(t, got, 3)
	for i, r := range got {
		require.Equal(t, uint64(3+i), r.Timestamp)
	}
}
