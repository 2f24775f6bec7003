package configprovider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchDocumentedValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, 4096, cfg.CoalesceMaxPoints())
	require.Equal(t, 30000, cfg.CoalesceMaxInterval())
	require.Equal(t, 64, cfg.LeafFanout())
	require.Equal(t, 4096, cfg.QueryBatchSize())
	require.Equal(t, BackendFile, cfg.StorageBackend())
	require.Equal(t, ":9142", cfg.MetricsListenAddr())
}

func TestEnvOverridesDefault(t *testing.T) {
	// viper's AutomaticEnv does not fold the key's dots into underscores
	// unless a replacer is registered, so the override's env var keeps the
	// dotted key shape.
	t.Setenv("COLUMNSTORE_TREE.LEAF_FANOUT", "128")
	cfg, err := Load("")
	require.Nil(t, err)
	require.Equal(t, 128, cfg.LeafFanout())
}

func TestLoadUnknownFilePathFails(t *testing.T) {
	_, err := Load("/nonexistent/columnstore.yaml")
	require.NotNil(t, err)
}
