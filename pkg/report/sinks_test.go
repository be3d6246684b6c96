package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failedRunSnapshot builds a snapshot with one passing and one failed
// configuration whose build log is on disk.
func failedRunSnapshot(t *testing.T, dir string) *Snapshot {
	t.Helper()

	store := newTestStore(t, "arty_vexriscv", "acorn_linux")
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, step := range []string{"setup", "gateware_build", "load", "test", "exit"} {
		require.NoError(t, store.SetStatus("arty_vexriscv", step, StatusSuccess))
	}

	require.NoError(t, store.SetTiming("arty_vexriscv", start, 75*time.Second))

	logPath := filepath.Join(dir, "build_acorn_linux", "gateware_build.rpt")
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte("synth ok\n\x1b[31mERROR: timing not met\x1b[0m\n"), 0o644))

	require.NoError(t, store.SetStatus("acorn_linux", "setup", StatusSuccess))
	require.NoError(t, store.SetStatus("acorn_linux", "gateware_build", StatusBuildError))
	require.NoError(t, store.SetLog("acorn_linux", "gateware_build", logPath))
	require.NoError(t, store.SetTiming("acorn_linux", start, 12*time.Second))

	return store.Snapshot()
}

func TestJSONSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap := failedRunSnapshot(t, dir)
	path := filepath.Join(dir, "report.json")

	require.NoError(t, NewJSONSink(path, nil).Write(context.Background(), snap))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"gateware_build": "BUILD_ERROR"`)

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap.Order, got.Order)
	assert.Equal(t, snap.Summary, got.Summary)
	assert.Equal(t, StatusBuildError, got.Configs["acorn_linux"].Steps["gateware_build"])
	assert.InDelta(t, 12.0, got.Configs["acorn_linux"].Duration, 1e-9)
}

func TestHTMLSink(t *testing.T) {
	dir := t.TempDir()
	snap := failedRunSnapshot(t, dir)
	path := filepath.Join(dir, "report.html")

	require.NoError(t, NewHTMLSink(path, "", nil).Write(context.Background(), snap))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	html := string(raw)
	assert.Contains(t, html, "<title>Hardware CI Report</title>")
	assert.Contains(t, html, `<td class="BUILD_ERROR"><a href="build_acorn_linux/gateware_build.rpt">BUILD_ERROR</a></td>`)
	assert.Contains(t, html, `<td class="NOT_RUN">NOT_RUN</td>`)
	assert.Contains(t, html, "ERROR: timing not met")
	assert.NotContains(t, html, "\x1b[31m")
	assert.Contains(t, html, "1m 27s", "total duration")
}

func TestMarkdown(t *testing.T) {
	dir := t.TempDir()
	snap := failedRunSnapshot(t, dir)

	md := GenerateMarkdown(snap, DefaultMaxMarkdownChars)

	assert.True(t, strings.HasPrefix(md, "# Hardware CI Run: run-1\n"))
	assert.Contains(t, md, "| Executed | 2 / 2 |")
	assert.Contains(t, md, "| acorn_linux | digilent_arty | ✅ SUCCESS | ❌ BUILD_ERROR |")
	assert.Contains(t, md, "### acorn_linux: gateware_build BUILD_ERROR")
	assert.Contains(t, md, "ERROR: timing not met")

	truncated := GenerateMarkdown(snap, 200)
	assert.Contains(t, truncated, "_1 more failures omitted._")
	assert.NotContains(t, truncated, "ERROR: timing not met")

	path := filepath.Join(dir, "summary.md")
	require.NoError(t, NewMarkdownSink(path, nil).Write(context.Background(), snap))
	assert.FileExists(t, path)
}

func TestTableSink(t *testing.T) {
	var out bytes.Buffer

	snap := failedRunSnapshot(t, t.TempDir())
	require.NoError(t, NewTableSink(&out).Write(context.Background(), snap))

	rendered := out.String()
	assert.Contains(t, rendered, "arty_vexriscv")
	assert.Contains(t, rendered, "BUILD_ERROR")
	// Footers are upper-cased by the table style.
	assert.Contains(t, strings.ToLower(rendered), "2/2 executed")
}

func TestLogTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.rpt")

	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("line\n")
	}

	sb.WriteString("\x1b[1mlast\x1b[0m\n")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	tail, err := LogTail(path, 3)
	require.NoError(t, err)
	assert.Equal(t, "line\nline\nlast", tail)

	_, err = LogTail(filepath.Join(t.TempDir(), "missing.rpt"), 3)
	require.Error(t, err)
}
