package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 30, cfg.Reports.WindowDays)
	assert.Equal(t, 5, cfg.Reports.TopLimit)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
storage:
  driver: memory
reports:
  top_limit: 10
webhooks:
  - url: http://localhost:9000/hook
    events: [issue.completed]
    enabled: false
`))
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Reports.TopLimit)
	assert.Equal(t, 30, cfg.Reports.WindowDays)
	require.Len(t, cfg.Webhooks, 1)
	assert.False(t, cfg.Webhooks[0].IsEnabled())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":    "storage: {driver: postgres}",
		"base path": "server: {base_path: v0}",
		"window":    "reports: {window_days: 0}",
		"format":    "logging: {format: xml}",
		"hook url":  "webhooks: [{events: [issue.started]}]",
	}
	for name, doc := range cases {
		_, err := FromYAML([]byte(doc))
		assert.Errorf(t, err, name)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	opt, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, opt)

	require.NoError(t, os.WriteFile(Path(dir), []byte("telemetry: {enabled: true}\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Telemetry.Enabled)
}
