// Package bprovider defines the narrow contract a physical block store
// backend must satisfy so that internal/bstore, and in turn the append
// tree, can treat blocks as opaque. It intentionally says nothing about
// on-disk layout, compression or page allocation: those are a backend's
// own business.
package bprovider

import "github.com/btrdb-io/columnstore/internal/bte"

// Address is a logical address of a block, persistent across restarts and
// opaque to everything above this package.
type Address uint64

// StorageProvider is implemented by a concrete block store backend (Ceph,
// local file, ...). It is consumed by internal/bstore, never directly by
// the append tree.
type StorageProvider interface {
	// Initialize performs any handle-pool setup, connection, or allocator
	// bootstrap the backend needs before Read/Append can be called.
	Initialize() bte.BTE

	// Read returns the bytes previously written at addr. Returns NotFound
	// if addr was never appended, or Unavailable on an I/O error.
	Read(addr Address) ([]byte, bte.BTE)

	// Append writes data as a new block and returns its address. Append is
	// the only way to create a block; backends never support in-place
	// mutation of an already-returned address.
	Append(data []byte) (Address, bte.BTE)

	// Sync blocks until every Append that returned before this call is
	// durable.
	Sync() bte.BTE

	// Close releases handles and connections held by the backend.
	Close() bte.BTE
}
