package envtree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFindsEnvInParentDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("WEECORE_TEST_VAR=hello\n"), 0o644))

	sub := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	os.Unsetenv("WEECORE_TEST_VAR")
	require.NoError(t, Load(sub))
	defer os.Unsetenv("WEECORE_TEST_VAR")

	assert.Equal(t, "hello", os.Getenv("WEECORE_TEST_VAR"))
}

func TestLoadNoEnvFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Load(dir))
}
