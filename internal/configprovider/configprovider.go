// Package configprovider mirrors the teacher's configprovider.Configuration
// interface, but loads it with viper instead of the teacher's bespoke flat
// file parser: the shape of the interface survives, the loader is the one
// the wider example pool reaches for.
package configprovider

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Backend selects which bprovider.StorageProvider implementation backs the
// column store's block store.
type Backend string

const (
	BackendFile Backend = "file"
	BackendCeph Backend = "ceph"
)

// Configuration is consumed by the registry, the append tree's flush
// policy, and the block store backends. Kept as an interface, as the
// teacher does, so tests can supply a fixed implementation without
// touching viper at all.
type Configuration interface {
	// CoalesceMaxPoints is the number of buffered samples that forces an
	// early flush of a tree's level-0 buffer, mirroring the teacher's
	// CoalesceMaxPoints.
	CoalesceMaxPoints() int

	// CoalesceMaxInterval is the configured coalescing interval, in
	// milliseconds. The append tree does not read it: there is no flush
	// timer, and a tree's level-0 buffer seals only when CoalesceMaxPoints
	// is reached or the tree is closed.
	CoalesceMaxInterval() int

	// LeafFanout is the number of child addresses an inner tree level
	// aggregates before sealing itself.
	LeafFanout() int

	// QueryBatchSize is the number of samples the query driver reads from
	// a row iterator per batch.
	QueryBatchSize() int

	// StorageBackend selects the bprovider.StorageProvider implementation.
	StorageBackend() Backend

	// StorageFileDir is the directory the file backend appends segment
	// files into.
	StorageFileDir() string

	// StorageCephConf is the path to the ceph.conf used to bootstrap a
	// RADOS connection.
	StorageCephConf() string

	// StorageCephDataPool is the RADOS pool blocks are stored in.
	StorageCephDataPool() string

	// MetricsListenAddr is the address the Prometheus /metrics endpoint is
	// served from by cmd/columnstored. Empty disables it.
	MetricsListenAddr() string
}

type viperConfig struct {
	v *viper.Viper
}

// Load reads configuration from the defaults below, from path (if
// non-empty), and from environment variables prefixed COLUMNSTORE_. Viper
// resolves each key by precedence: an environment variable overrides the
// file, and the file overrides the default.
func Load(path string) (Configuration, error) {
	v := viper.New()
	v.SetEnvPrefix("COLUMNSTORE")
	v.AutomaticEnv()

	v.SetDefault("coalesce.max_points", 4096)
	v.SetDefault("coalesce.max_interval_ms", int(30*time.Second/time.Millisecond))
	v.SetDefault("tree.leaf_fanout", 64)
	v.SetDefault("query.batch_size", 4096)
	v.SetDefault("storage.backend", string(BackendFile))
	v.SetDefault("storage.file_dir", "./data")
	v.SetDefault("storage.ceph_conf", "/etc/ceph/ceph.conf")
	v.SetDefault("storage.ceph_data_pool", "columnstore_data")
	v.SetDefault("metrics.listen_addr", ":9142")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("configprovider: reading %s: %w", path, err)
		}
	}
	return &viperConfig{v: v}, nil
}

// Default returns a Configuration populated entirely from defaults, useful
// for tests that don't care about any particular setting.
func Default() Configuration {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *viperConfig) CoalesceMaxPoints() int       { return c.v.GetInt("coalesce.max_points") }
func (c *viperConfig) CoalesceMaxInterval() int     { return c.v.GetInt("coalesce.max_interval_ms") }
func (c *viperConfig) LeafFanout() int              { return c.v.GetInt("tree.leaf_fanout") }
func (c *viperConfig) QueryBatchSize() int          { return c.v.GetInt("query.batch_size") }
func (c *viperConfig) StorageBackend() Backend      { return Backend(c.v.GetString("storage.backend")) }
func (c *viperConfig) StorageFileDir() string       { return c.v.GetString("storage.file_dir") }
func (c *viperConfig) StorageCephConf() string      { return c.v.GetString("storage.ceph_conf") }
func (c *viperConfig) StorageCephDataPool() string  { return c.v.GetString("storage.ceph_data_pool") }
func (c *viperConfig) MetricsListenAddr() string    { return c.v.GetString("metrics.listen_addr") }
