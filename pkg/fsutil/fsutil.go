// Package fsutil creates result files and directories, optionally handing
// them to a fixed owner so reports written by a root-run bench stay readable
// by the CI user.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Owner is a numeric UID/GID pair.
type Owner struct {
	UID int
	GID int
}

// ParseOwner parses "UID:GID". An empty string yields a nil owner, which
// leaves ownership untouched.
func ParseOwner(value string) (*Owner, error) {
	if value == "" {
		return nil, nil
	}

	uidStr, gidStr, ok := strings.Cut(value, ":")
	if !ok {
		return nil, fmt.Errorf("invalid owner %q, expected UID:GID", value)
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UID %q: %w", uidStr, err)
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid GID %q: %w", gidStr, err)
	}

	return &Owner{UID: uid, GID: gid}, nil
}

// Chown applies the owner if set. Errors are ignored: ownership is a
// convenience, not a requirement for the run.
func (o *Owner) Chown(path string) {
	if o == nil {
		return
	}

	_ = os.Chown(path, o.UID, o.GID)
}

// MkdirAll creates a directory tree and sets ownership on the leaf.
func MkdirAll(path string, owner *Owner) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}

	owner.Chown(path)

	return nil
}

// Create creates or truncates a file and sets ownership.
func Create(path string, owner *Owner) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	owner.Chown(path)

	return f, nil
}

// WriteFileAtomic writes data to a temporary file in the target directory and
// renames it into place, so readers polling the file never see a partial
// write.
func WriteFileAtomic(path string, data []byte, owner *Owner) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("renaming into place: %w", err)
	}

	owner.Chown(path)

	return nil
}
