package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranalysis/internal/config"
)

func TestResolveURLPrefersConfig(t *testing.T) {
	got, err := ResolveURL(config.DatabaseConfig{URL: "  postgres://u:p@db:5432/app  "})
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/app", got)
}

func TestReadEnvURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local settings\nREDIS_URL=redis://localhost:6379/2\nexport DATABASE_URL=\"postgres://u:p@localhost:5432/pr\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	got, err := readEnvURL(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost:5432/pr", got)
}

func TestReadEnvURLPrefixedKeyWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "DATABASE_URL=postgres://legacy\nPRANALYSIS_DATABASE__URL='postgres://current'\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	got, err := readEnvURL(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://current", got)
}

func TestReadEnvURLErrors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.env")
	require.NoError(t, os.WriteFile(empty, []byte("DATABASE_URL=\n"), 0o600))
	_, err := readEnvURL(empty)
	assert.ErrorContains(t, err, "DATABASE_URL is empty")

	missing := filepath.Join(dir, "missing.env")
	require.NoError(t, os.WriteFile(missing, []byte("OTHER=1\n"), 0o600))
	_, err = readEnvURL(missing)
	assert.ErrorContains(t, err, "not found")
}

func TestFindEnvFileWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("DATABASE_URL=x\n"), 0o600))

	got, err := findEnvFile(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".env"), got)
}

func TestConnect(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := Connect(context.Background(), config.DatabaseConfig{URL: url})
	require.NoError(t, err)
	defer pool.Close()
}
