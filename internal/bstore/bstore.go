// Package bstore turns a raw bprovider.StorageProvider into the narrow
// read/append/sync surface the append tree actually uses, following the
// teacher's own split between bstore (the tree's view of storage) and the
// concrete provider underneath it.
package bstore

import (
	"github.com/btrdb-io/columnstore/internal/bprovider"
	"github.com/btrdb-io/columnstore/internal/bte"
	"github.com/btrdb-io/columnstore/internal/cephprovider"
	"github.com/btrdb-io/columnstore/internal/configprovider"
	"github.com/btrdb-io/columnstore/internal/fileprovider"
)

// Address is re-exported so callers never need to import bprovider
// directly.
type Address = bprovider.Address

// BlockStore is the append tree's handle onto physical storage.
type BlockStore struct {
	sp bprovider.StorageProvider
}

// NewBlockStore picks and initializes the backend named by cfg.
func NewBlockStore(cfg configprovider.Configuration) (*BlockStore, bte.BTE) {
	var sp bprovider.StorageProvider
	switch cfg.StorageBackend() {
	case configprovider.BackendCeph:
		sp = cephprovider.New(cfg)
	case configprovider.BackendFile, "":
		sp = fileprovider.New(cfg)
	default:
		return nil, bte.Errf(bte.BadArg, "unknown storage backend %q", cfg.StorageBackend())
	}
	if err := sp.Initialize(); err != nil {
		return nil, err
	}
	return &BlockStore{sp: sp}, nil
}

// NewBlockStoreFromProvider wraps an already-initialized provider, used by
// tests that want a fileprovider.NewWithFs(...) pointed at an in-memory afero
// filesystem without going through configprovider at all.
func NewBlockStoreFromProvider(sp bprovider.StorageProvider) *BlockStore {
	return &BlockStore{sp: sp}
}

// Read returns the bytes at addr.
func (bs *BlockStore) Read(addr Address) ([]byte, bte.BTE) {
	return bs.sp.Read(addr)
}

// Append seals data as a new block and returns its address.
func (bs *BlockStore) Append(data []byte) (Address, bte.BTE) {
	return bs.sp.Append(data)
}

// Sync blocks until every prior Append is durable.
func (bs *BlockStore) Sync() bte.BTE {
	return bs.sp.Sync()
}

// Close releases the underlying provider's resources.
func (bs *BlockStore) Close() bte.BTE {
	return bs.sp.Close()
}
