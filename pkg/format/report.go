package format

import (
	"fmt"
	"io"
	"sync"

	"github.com/flosch/pongo2/v6"
)

// FileReport is the lint result of one file.
type FileReport struct {
	Path   string
	Issues []string
}

// Report collects lint results in the order files were added. It is safe
// for concurrent use.
type Report struct {
	mu    sync.Mutex
	files []FileReport
	seen  map[string]bool
}

// Add records the issues of path. A path already recorded is ignored and
// Add returns false.
func (r *Report) Add(path string, issues []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[path] {
		return false
	}
	r.seen[path] = true
	r.files = append(r.files, FileReport{Path: path, Issues: issues})
	return true
}

// Files returns a copy of the recorded results.
func (r *Report) Files() []FileReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FileReport(nil), r.files...)
}

// IssueCount returns the total number of issues recorded.
func (r *Report) IssueCount() int {
	n := 0
	for _, f := range r.Files() {
		n += len(f.Issues)
	}
	return n
}

const reportSource = `{% autoescape off %}{% for f in files %}{% if f.Issues %}Issues found in {{ f.Path }}:
{% for issue in f.Issues %}  {{ issue }}
{% endfor %}{% else %}No issues found in {{ f.Path }}
{% endif %}{% endfor %}{% endautoescape %}`

var reportTemplate = pongo2.Must(pongo2.FromString(reportSource))

// WriteTo writes the report in the lint report text format.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	if err := reportTemplate.ExecuteWriter(pongo2.Context{"files": r.Files()}, cw); err != nil {
		return cw.n, fmt.Errorf("format: write report: %w", err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
