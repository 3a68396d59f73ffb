package format

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCommandFormatterIdentity(t *testing.T) {
	src := "{% if a %} x {% endif %}"
	got, err := CommandFormatter{}.Format(context.Background(), src)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if got != src {
		t.Errorf("Format() = %q, want %q", got, src)
	}
}

func TestCommandFormatter(t *testing.T) {
	f := CommandFormatter{Argv: []string{"tr", "a-z", "A-Z"}}
	got, err := f.Format(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if got != "HELLO" {
		t.Errorf("Format() = %q, want %q", got, "HELLO")
	}
}

func TestCommandFormatterFailure(t *testing.T) {
	f := CommandFormatter{Argv: []string{"sh", "-c", "echo broken >&2; exit 3"}}
	_, err := f.Format(context.Background(), "x")
	if err == nil {
		t.Fatal("Format: want error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not carry stderr", err)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.html.j2")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandLinter(t *testing.T) {
	path := writeFile(t, "a\n\nb\n")
	tests := []struct {
		name string
		argv []string
		want []string
	}{
		{"no linter", nil, nil},
		{"clean", []string{"true"}, nil},
		{"issues with exit status", []string{"sh", "-c", `cat "$0"; exit 1`}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CommandLinter{Argv: tt.argv}.Lint(context.Background(), path)
			if err != nil {
				t.Fatalf("Lint: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("issues mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommandLinterFailureWithoutOutput(t *testing.T) {
	l := CommandLinter{Argv: []string{"false"}}
	if _, err := l.Lint(context.Background(), writeFile(t, "")); err == nil {
		t.Fatal("Lint: want error")
	}
}

func TestCommandLinterTimeout(t *testing.T) {
	// The appended path becomes $0 of the shell script.
	l := CommandLinter{Argv: []string{"sh", "-c", "exec sleep 5"}, Timeout: 50 * time.Millisecond}
	_, err := l.Lint(context.Background(), "ignored")
	if err == nil {
		t.Fatal("Lint: want timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestReport(t *testing.T) {
	var r Report
	r.Add("out/a.html.j2", nil)
	r.Add("out/b.html.j2", []string{"H006 1:0 Img tag should have height and width attributes."})
	if r.Add("out/a.html.j2", []string{"ignored"}) {
		t.Error("Add of a recorded path: want false")
	}

	var b strings.Builder
	n, err := r.WriteTo(&b)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	want := "No issues found in out/a.html.j2\n" +
		"Issues found in out/b.html.j2:\n" +
		"  H006 1:0 Img tag should have height and width attributes.\n"
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if n != int64(len(want)) {
		t.Errorf("WriteTo() = %d bytes, want %d", n, len(want))
	}
	if got := r.IssueCount(); got != 1 {
		t.Errorf("IssueCount() = %d, want 1", got)
	}
}

func TestReportDoesNotEscape(t *testing.T) {
	var r Report
	r.Add("a&b.html.j2", []string{`<img src="x">`})
	var b strings.Builder
	if _, err := r.WriteTo(&b); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !strings.Contains(b.String(), `  <img src="x">`) || !strings.Contains(b.String(), "a&b.html.j2") {
		t.Errorf("report was escaped:\n%s", b.String())
	}
}
