package bstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btrdb-io/columnstore/internal/configprovider"
)

func TestNewBlockStoreRejectsUnknownBackend(t *testing.T) {
	_, err := NewBlockStore(unknownBackendConfig{})
	require.NotNil(t, err)
	require.Equal(t, "BAD_ARG: unknown storage backend \"bogus\"", err.Error())
}

type unknownBackendConfig struct {
	configprovider.Configuration
}

func (unknownBackendConfig) StorageBackend() configprovider.Backend { return "bogus" }

func TestNewBlockStoreOpensFileBackendAndRoundTrips(t *testing.T) {
	cfg := fileBackendConfig{dir: t.TempDir()}
	bs, err := NewBlockStore(cfg)
	require.Nil(t, err)
	defer bs.Close()

	addr, err := bs.Append([]byte("row"))
	require.Nil(t, err)
	got, err := bs.Read(addr)
	require.Nil(t, err)
	require.Equal(t, []byte("row"), got)
}

type fileBackendConfig struct {
	configprovider.Configuration
	dir string
}

func (c fileBackendConfig) StorageBackend() configprovider.Backend { return configprovider.BackendFile }
func (c fileBackendConfig) StorageFileDir() string                 { return c.dir }
