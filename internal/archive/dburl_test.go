package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveDatabaseURLExplicitWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/db")

	url, err := ResolveDatabaseURL("postgres://explicit-host/db")
	require.NoError(t, err)
	assert.Equal(t, "postgres://explicit-host/db", url)
}

func TestResolveDatabaseURLFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "  postgres://env-host/db  ")

	url, err := ResolveDatabaseURL("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/db", url)
}

func TestReadDatabaseURLParsesEnvFile(t *testing.T) {
	path := writeEnvFile(t, t.TempDir(), `
# archive connection
SOME_OTHER=value
DATABASE_URL="postgres://file-host:5432/meetings?sslmode=disable"
`)

	url, err := readDatabaseURL(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file-host:5432/meetings?sslmode=disable", url)
}

func TestReadDatabaseURLMissingKey(t *testing.T) {
	path := writeEnvFile(t, t.TempDir(), "OTHER=1\n# DATABASE_URL=commented-out\n")

	_, err := readDatabaseURL(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadDatabaseURLEmptyValue(t *testing.T) {
	path := writeEnvFile(t, t.TempDir(), "DATABASE_URL=''\n")

	_, err := readDatabaseURL(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestFindEnvFileWalksUp(t *testing.T) {
	root := t.TempDir()
	writeEnvFile(t, root, "DATABASE_URL=postgres://walk-host/db\n")

	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	path, err := findEnvFile(deep)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".env"), path)
}
