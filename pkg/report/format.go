package report

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/docker/go-units"
)

// FormatDuration renders a duration as "2h 30m 15s", "10m 8s" or "45s".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}

// FormatSeconds renders a duration stored as seconds.
func FormatSeconds(s float64) string {
	return FormatDuration(time.Duration(s * float64(time.Second)))
}

// LogSize returns the human-readable size of a log file, or "" if it is
// missing.
func LogSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	return units.HumanSize(float64(info.Size()))
}

// LogTail returns the last maxLines lines of a log with ANSI escape codes
// removed.
func LogTail(path string, maxLines int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	lines := make([]string, 0, maxLines)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if len(lines) == maxLines {
			lines = lines[1:]
		}

		lines = append(lines, stripansi.Strip(scanner.Text()))
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	return strings.Join(lines, "\n"), nil
}
