package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCandidates_Order(t *testing.T) {
	list := DefaultCandidates("/srv/app", "/opt/microscore/bin")
	require.Len(t, list, 3)
	assert.Equal(t, filepath.Join("/srv/app", "Ml", DefaultArtifactName), list[0])
	assert.Equal(t, filepath.Join("/opt/microscore", "Ml", DefaultArtifactName), list[1])
	assert.Equal(t, filepath.Join("/srv/app", "ML", DefaultArtifactName), list[2])
}

func TestDefaultCandidates_Dedupe(t *testing.T) {
	// executable in <cwd>/bin resolves to the same project root as cwd
	list := DefaultCandidates("/srv/app", "/srv/app/bin")
	require.Len(t, list, 2)
	assert.Equal(t, filepath.Join("/srv/app", "Ml", DefaultArtifactName), list[0])
	assert.Equal(t, filepath.Join("/srv/app", "ML", DefaultArtifactName), list[1])
}

func TestDefaultCandidates_Empty(t *testing.T) {
	assert.Empty(t, DefaultCandidates("", ""))
	assert.Len(t, DefaultCandidates("", "/opt/x/bin"), 1)
}

func TestCandidatesFromEnv(t *testing.T) {
	list := CandidatesFromEnv()
	assert.NotEmpty(t, list)
	for _, p := range list {
		assert.Equal(t, DefaultArtifactName, filepath.Base(p))
	}
}

func TestLocate_FirstExisting(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a", DefaultArtifactName)
	second := filepath.Join(dir, "b", DefaultArtifactName)
	third := filepath.Join(dir, "c", DefaultArtifactName)

	require.NoError(t, os.MkdirAll(filepath.Dir(second), 0o755))
	require.NoError(t, os.WriteFile(second, []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Dir(third), 0o755))
	require.NoError(t, os.WriteFile(third, []byte("x"), 0o600))

	p, err := Locate([]string{first, second, third})
	require.NoError(t, err)
	assert.Equal(t, second, p)
}

func TestLocate_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	asDir := filepath.Join(dir, DefaultArtifactName)
	require.NoError(t, os.MkdirAll(asDir, 0o755))

	_, err := Locate([]string{asDir})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestLocate_NotFound(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "Ml", DefaultArtifactName),
		filepath.Join(dir, "ML", DefaultArtifactName),
	}
	_, err := Locate(paths)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelNotFound)
	for _, p := range paths {
		assert.Contains(t, err.Error(), p)
	}

	_, err = Locate(nil)
	assert.ErrorIs(t, err, ErrModelNotFound)
}
