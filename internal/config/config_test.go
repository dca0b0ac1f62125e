package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "", cfg.DataDir)
	assert.Equal(t, 30000, cfg.TimeoutMs)
	assert.Equal(t, 512, cfg.MemoryLimitMb)
	assert.Equal(t, 10000, cfg.RPCTimeoutMs)
	assert.Equal(t, 10, cfg.MaxConcurrent)
	assert.Equal(t, 3072, cfg.TotalMemoryCapMb)
	assert.True(t, cfg.IsolateForBasicRun)

	require.NotNil(t, cfg.Cache)
	assert.True(t, cfg.Cache.Enabled)

	require.NotNil(t, cfg.Capability)
	assert.Equal(t, "local", cfg.Capability.Org)
	assert.Equal(t, "default", cfg.Capability.Project)
}

func TestLoadFromFileEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFileParsesTOMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandboxrt.toml")
	contents := `
data_dir = "/var/lib/sandboxrt"
max_concurrent = 25
isolate_for_basic_run = false

[capability]
org = "acme"
project = "widgets"
hash_prefix_len = 6
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/sandboxrt", cfg.DataDir)
	assert.Equal(t, 25, cfg.MaxConcurrent)
	assert.False(t, cfg.IsolateForBasicRun)
	assert.Equal(t, "acme", cfg.Capability.Org)
	assert.Equal(t, "widgets", cfg.Capability.Project)
	assert.Equal(t, 6, cfg.Capability.HashPrefixLen)

	// Fields absent from the file keep their DefaultConfig() values.
	assert.Equal(t, 30000, cfg.TimeoutMs)
}

func TestLoadFromFileRejectsMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandboxrt.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromFileRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandboxrt.toml")
	require.NoError(t, os.WriteFile(path, []byte(`max_concurrent = 5000`), 0o644))

	cfg, err := LoadFromFile(path)
	assert.Nil(t, cfg)
	assert.Error(t, err)
}

func TestValidateAppliesDefaultsThenValidates(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30000, cfg.TimeoutMs)
	assert.Equal(t, 512, cfg.MemoryLimitMb)
	require.NotNil(t, cfg.Cache)
	require.NotNil(t, cfg.Security)
	require.NotNil(t, cfg.Capability)
	require.NotNil(t, cfg.Environment)
}

func TestValidateDetailedReportsOutOfRangeFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutMs = -5
	cfg.MaxConcurrent = 0
	cfg.Capability.HashPrefixLen = 2

	errs := cfg.ValidateDetailed()

	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}
	assert.True(t, fields["timeout_ms"])
	assert.True(t, fields["max_concurrent"])
	assert.True(t, fields["capability.hash_prefix_len"])
}
