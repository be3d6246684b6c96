package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"
	"time"

	"github.com/ethpandaops/hwci/pkg/fsutil"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var htmlTemplate = template.Must(
	template.New("report.html.tmpl").
		Funcs(template.FuncMap{"seconds": FormatSeconds}).
		ParseFS(templateFS, "templates/report.html.tmpl"),
)

// DefaultExcerptLines is how much of a failing step's log the HTML report
// inlines.
const DefaultExcerptLines = 40

// HTMLSink renders the snapshot as a single HTML page. Step cells link to
// their logs; failing configurations get the tail of the failing log inlined.
type HTMLSink struct {
	path         string
	title        string
	excerptLines int
	owner        *fsutil.Owner
}

var _ Sink = (*HTMLSink)(nil)

// NewHTMLSink creates an HTML sink writing to path.
func NewHTMLSink(path, title string, owner *fsutil.Owner) *HTMLSink {
	if title == "" {
		title = "Hardware CI Report"
	}

	return &HTMLSink{
		path:         path,
		title:        title,
		excerptLines: DefaultExcerptLines,
		owner:        owner,
	}
}

type htmlCell struct {
	Status Status
	Log    string
}

type htmlRow struct {
	Name       string
	Target     string
	Cells      []htmlCell
	Time       *time.Time
	Duration   float64
	FailedStep string
	Excerpt    string
}

type htmlData struct {
	Title string
	Snap  *Snapshot
	Rows  []htmlRow
}

// Name implements Sink.
func (s *HTMLSink) Name() string { return "html" }

// Write implements Sink.
func (s *HTMLSink) Write(_ context.Context, snap *Snapshot) error {
	data := htmlData{Title: s.title, Snap: snap}

	for _, row := range snap.Rows() {
		hr := htmlRow{
			Name:     row.Name,
			Target:   row.Entry.Target,
			Time:     row.Entry.Time,
			Duration: row.Entry.Duration,
		}

		for _, step := range snap.Steps {
			hr.Cells = append(hr.Cells, htmlCell{
				Status: row.Entry.Steps[step],
				Log:    s.relative(row.Entry.Logs[step]),
			})
		}

		if step, failed := row.Entry.Failed(snap.Steps); failed {
			hr.FailedStep = step

			if logPath := row.Entry.Logs[step]; logPath != "" {
				if tail, err := LogTail(logPath, s.excerptLines); err == nil {
					hr.Excerpt = tail
				}
			}
		}

		data.Rows = append(data.Rows, hr)
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("rendering html: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.path, buf.Bytes(), s.owner); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}

	return nil
}

// relative makes a log path relative to the report so links survive moving
// the results directory.
func (s *HTMLSink) relative(logPath string) string {
	if logPath == "" {
		return ""
	}

	base, err := filepath.Abs(filepath.Dir(s.path))
	if err != nil {
		return logPath
	}

	abs, err := filepath.Abs(logPath)
	if err != nil {
		return logPath
	}

	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return logPath
	}

	return filepath.ToSlash(rel)
}
