package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source_path: /tmp/chat.db
target_path: /tmp/messages.db
batch_size: 250
limit: 1000
watch_debounce: 5s
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/chat.db", cfg.GetSourcePath())
	assert.Equal(t, "/tmp/messages.db", cfg.TargetPath)
	assert.Equal(t, 250, cfg.GetBatchSize())
	assert.Equal(t, 1000, cfg.Limit)
	assert.Equal(t, 5*time.Second, cfg.GetWatchDebounce())
}

func TestLoadConfigRequiresTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source_path: /tmp/chat.db\n"), 0644))
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_path")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{TargetPath: "out.db"}
	assert.Equal(t, 500, cfg.GetBatchSize())
	assert.Equal(t, 2*time.Second, cfg.GetWatchDebounce())
	assert.NotEmpty(t, cfg.GetSourcePath())
}

func TestConfigRejectsNegatives(t *testing.T) {
	assert.Error(t, (&Config{TargetPath: "x", BatchSize: -1}).PostProcess())
	assert.Error(t, (&Config{TargetPath: "x", Limit: -1}).PostProcess())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
