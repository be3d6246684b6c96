package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "valid simple path", path: "build_arty/test.rpt", expected: true},
		{name: "valid top level", path: "report.json", expected: true},
		{name: "empty path", path: "", expected: false},
		{name: "path traversal", path: "build_arty/../../etc/passwd", expected: false},
		{name: "dot dot only", path: "..", expected: false},
		{name: "absolute path", path: "/etc/passwd", expected: false},
		{name: "trailing slash", path: "build_arty/", expected: false},
		{name: "double slash", path: "build_arty//test.rpt", expected: false},
		{name: "dot segment", path: "build_arty/./test.rpt", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isAllowedPath(tt.path))
		})
	}
}

func TestLocalFileServer(t *testing.T) {
	results := t.TempDir()
	build := t.TempDir()
	outDir := filepath.Join(build, "build_arty")

	require.NoError(t, os.WriteFile(filepath.Join(results, "report.json"), []byte(`{"ok":true}`), 0o644))
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "test.rpt"), []byte("Memtest OK\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(build, "configs.yml"), []byte("secret_access_key: hunter2\n"), 0o644))

	outside := filepath.Join(t.TempDir(), "secret.rpt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	srv := newLocalFileServer(logrus.New(), results)
	outputDirs := []string{outDir}

	req := func() *http.Request { return httptest.NewRequest(http.MethodGet, "/x", nil) }

	t.Run("serves from results dir", func(t *testing.T) {
		rec := httptest.NewRecorder()

		require.NoError(t, srv.ServeFile(rec, req(), "report.json", outputDirs))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `{"ok":true}`)
	})

	t.Run("serves from output dir", func(t *testing.T) {
		rec := httptest.NewRecorder()

		require.NoError(t, srv.ServeFile(rec, req(), "build_arty/test.rpt", outputDirs))
		assert.Equal(t, "Memtest OK\n", rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	})

	t.Run("build root is not served", func(t *testing.T) {
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req(), "configs.yml", outputDirs)
		require.Error(t, err)
		assert.NotContains(t, rec.Body.String(), "hunter2")
	})

	t.Run("unknown output dir", func(t *testing.T) {
		err := srv.ServeFile(httptest.NewRecorder(), req(), "build_arty/test.rpt", nil)
		require.Error(t, err)
	})

	t.Run("only build_ dirs are mounted", func(t *testing.T) {
		err := srv.ServeFile(httptest.NewRecorder(), req(), filepath.Base(build)+"/configs.yml", []string{build})
		require.Error(t, err)

		err = srv.ServePath(httptest.NewRecorder(), req(), filepath.Join(build, "configs.yml"), []string{build})
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		err := srv.ServeFile(httptest.NewRecorder(), req(), "nope.json", outputDirs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("directory is not served", func(t *testing.T) {
		require.Error(t, srv.ServeFile(httptest.NewRecorder(), req(), "build_arty", outputDirs))
	})

	t.Run("rejects traversal", func(t *testing.T) {
		err := srv.ServeFile(httptest.NewRecorder(), req(), "../../etc/passwd", outputDirs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})

	t.Run("recorded path inside output dir", func(t *testing.T) {
		rec := httptest.NewRecorder()

		require.NoError(t, srv.ServePath(rec, req(), filepath.Join(outDir, "test.rpt"), outputDirs))
		assert.Equal(t, "Memtest OK\n", rec.Body.String())
	})

	t.Run("recorded path outside roots", func(t *testing.T) {
		err := srv.ServePath(httptest.NewRecorder(), req(), outside, outputDirs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})
}
