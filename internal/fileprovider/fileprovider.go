// Package fileprovider is a bprovider.StorageProvider backed by a single
// append-only segment file plus an in-memory offset index. It exists so
// the append tree and registry can be exercised, in tests and in local
// development, without a Ceph cluster. It is written against afero so the
// same code path runs against an in-memory filesystem in tests and a real
// one in cmd/columnstored.
package fileprovider

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/btrdb-io/columnstore/internal/bprovider"
	"github.com/btrdb-io/columnstore/internal/bte"
	"github.com/btrdb-io/columnstore/internal/configprovider"
)

const segmentFile = "columnstore.segment"

// lengthPrefixSize is the size, in bytes, of the uint32 length prefix
// written before every block.
const lengthPrefixSize = 4

type record struct {
	offset int64
	length uint32
}

// FileStorageProvider implements bprovider.StorageProvider over a single
// growing file. Blocks are never rewritten in place, matching the
// append-only contract every backend must honor.
type FileStorageProvider struct {
	fs  afero.Fs
	dir string

	mu     sync.Mutex
	f      afero.File
	tail   int64
	nextID uint64
	index  map[bprovider.Address]record
}

// New returns a provider that will append into cfg.StorageFileDir() on the
// real OS filesystem. Call NewWithFs directly from tests that want an
// in-memory afero.Fs instead.
func New(cfg configprovider.Configuration) *FileStorageProvider {
	return NewWithFs(afero.NewOsFs(), cfg.StorageFileDir())
}

// NewWithFs lets tests supply afero.NewMemMapFs() so the same backend code
// is exercised without touching disk.
func NewWithFs(fs afero.Fs, dir string) *FileStorageProvider {
	return &FileStorageProvider{
		fs:     fs,
		dir:    dir,
		nextID: 1, // 0 is reserved as "no address"
		index:  make(map[bprovider.Address]record),
	}
}

func (p *FileStorageProvider) Initialize() bte.BTE {
	if err := p.fs.MkdirAll(p.dir, 0o755); err != nil {
		return bte.Errf(bte.Unavailable, "fileprovider: mkdir %s: %v", p.dir, err)
	}
	path := p.dir + "/" + segmentFile
	f, err := p.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return bte.Errf(bte.Unavailable, "fileprovider: open %s: %v", path, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.f = f
	info, err := f.Stat()
	if err != nil {
		return bte.Errf(bte.Unavailable, "fileprovider: stat %s: %v", path, err)
	}
	p.tail = info.Size()

	// Rebuild the offset index from the length prefixes already in the
	// segment; addresses are assigned in append order starting at 1.
	prefix := make([]byte, lengthPrefixSize)
	for off := int64(0); off+lengthPrefixSize <= p.tail; {
		if _, err := f.ReadAt(prefix, off); err != nil {
			return bte.Errf(bte.Unavailable, "fileprovider: scan %s: %v", path, err)
		}
		length := binary.LittleEndian.Uint32(prefix)
		p.index[bprovider.Address(p.nextID)] = record{offset: off, length: length}
		p.nextID++
		off += lengthPrefixSize + int64(length)
	}
	return nil
}

func (p *FileStorageProvider) Append(data []byte) (bprovider.Address, bte.BTE) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := make([]byte, lengthPrefixSize)
	binary.LittleEndian.PutUint32(prefix, uint32(len(data)))

	offset := p.tail
	if _, err := p.f.WriteAt(prefix, offset); err != nil {
		return 0, bte.Errf(bte.Unavailable, "fileprovider: write prefix: %v", err)
	}
	if _, err := p.f.WriteAt(data, offset+lengthPrefixSize); err != nil {
		return 0, bte.Errf(bte.Unavailable, "fileprovider: write block: %v", err)
	}
	p.tail = offset + lengthPrefixSize + int64(len(data))

	addr := bprovider.Address(p.nextID)
	p.nextID++
	p.index[addr] = record{offset: offset, length: uint32(len(data))}
	return addr, nil
}

func (p *FileStorageProvider) Read(addr bprovider.Address) ([]byte, bte.BTE) {
	p.mu.Lock()
	rec, ok := p.index[addr]
	f := p.f
	p.mu.Unlock()
	if !ok {
		return nil, bte.Errf(bte.NotFound, "fileprovider: no such address %d", addr)
	}
	buf := make([]byte, rec.length)
	n, err := f.ReadAt(buf, rec.offset+lengthPrefixSize)
	if err != nil || uint32(n) != rec.length {
		return nil, bte.Errf(bte.Unavailable, "fileprovider: short read for address %d: %v", addr, err)
	}
	return buf, nil
}

func (p *FileStorageProvider) Sync() bte.BTE {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.f.Sync(); err != nil {
		return bte.Errf(bte.Unavailable, "fileprovider: sync: %v", err)
	}
	return nil
}

func (p *FileStorageProvider) Close() bte.BTE {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.f.Close(); err != nil {
		return bte.Errf(bte.Unavailable, "fileprovider: close: %v", err)
	}
	return nil
}

var _ bprovider.StorageProvider = (*FileStorageProvider)(nil)
