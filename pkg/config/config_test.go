package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioimagelab/internal/models"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
processing:
  workers: 3
input:
  voxelSize: {x: 0.2, y: 0.2, z: 1.5}
  unit: um
output:
  database: ""
logging:
  format: json
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Processing.Workers)
	assert.Equal(t, 4096, cfg.Processing.CancelCheckInterval)
	assert.Equal(t, models.VoxelSize{X: 0.2, Y: 0.2, Z: 1.5}, cfg.Input.VoxelSize)
	assert.Empty(t, cfg.Output.Database)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "um", cfg.Calibration().Unit)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	for name, doc := range map[string]string{
		"zero workers":   "processing:\n  workers: 0\n",
		"negative voxel": "input:\n  voxelSize: {x: -1, y: 1, z: 1}\n",
		"bad yaml":       "processing: [",
	} {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
		_, err := LoadConfig(path)
		assert.Error(t, err, name)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cfg.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Input.Extensions, cfg.Input.Extensions)
}
