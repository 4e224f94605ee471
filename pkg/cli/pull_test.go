package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mchmarny/microscore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPullModel_RejectsCorrupt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not a model\n"))
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "Ml", model.DefaultArtifactName)
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("previous"), 0o600))

	err := pullModel(context.Background(), srv.URL, target)
	assert.ErrorIs(t, err, model.ErrModelCorrupt)

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(b))
	assert.NoFileExists(t, target+".new")
}

func TestPullModel_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	target := filepath.Join(t.TempDir(), model.DefaultArtifactName)
	err := pullModel(context.Background(), srv.URL+"/missing", target)
	assert.Error(t, err)
	assert.NoFileExists(t, target)
}

var fixtureModel = filepath.Join("..", "model", "testdata", model.DefaultArtifactName)

func TestPullModel_Installs(t *testing.T) {
	want, err := os.ReadFile(fixtureModel)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(want)
	}))
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "Ml", model.DefaultArtifactName)
	require.NoError(t, pullModel(context.Background(), srv.URL+"/credit_scoring_lgbm.txt", target))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoFileExists(t, target+".new")

	m, err := model.LoadFirst(model.DefaultCandidates(dir, ""))
	require.NoError(t, err)
	assert.Equal(t, target, m.Path())
}
