// Package upload copies run results to remote object storage.
package upload

import (
	"context"
	"strings"
)

// Filter selects which files under a directory are uploaded. The path is
// relative to the uploaded directory and uses forward slashes.
type Filter func(relPath string) bool

// Uploader uploads local result directories to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload uploads the files in localDir accepted by filter under
	// prefix + "/" + remoteName. A nil filter accepts every file.
	Upload(ctx context.Context, localDir, remoteName string, filter Filter) (int, error)

	// List returns the run names uploaded under the configured prefix.
	List(ctx context.Context) ([]string, error)
}

// LogsOnly accepts step logs.
func LogsOnly(relPath string) bool {
	return strings.HasSuffix(relPath, ".rpt")
}
