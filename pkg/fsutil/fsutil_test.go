package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    *Owner
		wantErr bool
	}{
		{name: "empty", value: "", want: nil},
		{name: "valid", value: "1000:1000", want: &Owner{UID: 1000, GID: 1000}},
		{name: "missing gid", value: "1000", wantErr: true},
		{name: "non numeric uid", value: "ci:1000", wantErr: true},
		{name: "non numeric gid", value: "1000:ci", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOwner(tt.value)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), nil))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestNilOwnerChownIsNoop(t *testing.T) {
	var owner *Owner

	assert.NotPanics(t, func() { owner.Chown(filepath.Join(t.TempDir(), "missing")) })
}
