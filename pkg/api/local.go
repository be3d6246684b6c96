package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// outputDirPrefix is the base name prefix of every configuration output
// directory. Only such directories are ever mounted.
const outputDirPrefix = "build_"

// localFileServer serves the results directory and the build_<name> output
// directories of configurations. Nothing else under the build root is
// reachable, so the config file and history database stay private.
type localFileServer struct {
	log        logrus.FieldLogger
	resultsDir string
}

func newLocalFileServer(log logrus.FieldLogger, resultsDir string) *localFileServer {
	return &localFileServer{
		log:        log.WithField("component", "local-file-server"),
		resultsDir: absClean(resultsDir),
	}
}

// ServeFile serves filePath relative to the results directory, or relative
// to the parent of an output directory: "build_arty/test.rpt" resolves
// inside the output directory named build_arty.
func (l *localFileServer) ServeFile(w http.ResponseWriter, r *http.Request, filePath string, outputDirs []string) error {
	if !isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	if l.resultsDir != "" {
		full := filepath.Join(l.resultsDir, filepath.FromSlash(filePath))
		if contains(l.resultsDir, full) && isFile(full) {
			l.serve(w, r, full)

			return nil
		}
	}

	mount, rest, ok := strings.Cut(filePath, "/")
	if ok && rest != "" {
		for _, dir := range mountable(outputDirs) {
			if filepath.Base(dir) != mount {
				continue
			}

			full := filepath.Join(dir, filepath.FromSlash(rest))
			if contains(dir, full) && isFile(full) {
				l.serve(w, r, full)

				return nil
			}
		}
	}

	return fmt.Errorf("file %q not found", filePath)
}

// ServePath serves a path recorded in a report. It must resolve inside the
// results directory or one of the output directories.
func (l *localFileServer) ServePath(w http.ResponseWriter, r *http.Request, p string, outputDirs []string) error {
	full := absClean(p)

	roots := mountable(outputDirs)
	if l.resultsDir != "" {
		roots = append(roots, l.resultsDir)
	}

	for _, root := range roots {
		if !contains(root, full) {
			continue
		}

		if !isFile(full) {
			return fmt.Errorf("file %q not found", p)
		}

		l.serve(w, r, full)

		return nil
	}

	return fmt.Errorf("path %q is not allowed", p)
}

func (l *localFileServer) serve(w http.ResponseWriter, r *http.Request, full string) {
	if strings.HasSuffix(full, ".rpt") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}

	l.log.WithField("path", full).Debug("Serving file")

	http.ServeFile(w, r, full)
}

// mountable keeps the output directories named build_<name>, made absolute.
func mountable(dirs []string) []string {
	out := make([]string, 0, len(dirs))

	for _, d := range dirs {
		if d == "" {
			continue
		}

		d = absClean(d)
		if strings.HasPrefix(filepath.Base(d), outputDirPrefix) {
			out = append(out, d)
		}
	}

	return out
}

func absClean(p string) string {
	if p == "" {
		return ""
	}

	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}

	return filepath.Clean(p)
}

func contains(root, full string) bool {
	return full == root || strings.HasPrefix(full, root+string(filepath.Separator))
}

func isFile(p string) bool {
	info, err := os.Stat(p)

	return err == nil && !info.IsDir()
}

// isAllowedPath rejects empty, absolute, unclean, or traversal request paths.
func isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	if filepath.IsAbs(filePath) || strings.HasPrefix(filePath, "/") {
		return false
	}

	return path.Clean(filePath) == filePath
}
