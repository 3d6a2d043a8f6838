package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
schema_agreement_timeout: 30s
statement_retries: 5
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.SchemaAgreementTimeout)
	assert.Equal(t, 5, cfg.StatementRetries)
	assert.Equal(t, DefaultConfig().SchemaPollInterval, cfg.SchemaPollInterval,
		"unset fields keep their defaults")
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "schema_poll_interval: ["))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "statement_retries: 0"))
		assert.Error(t, err)
		_, err = LoadConfig(writeConfig(t, "schema_poll_interval: -1s"))
		assert.Error(t, err)
	})
}
