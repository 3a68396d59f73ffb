package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/geneweb/templconv/pkg/ast"
	"github.com/google/go-cmp/cmp"
)

const dump = `[{"kind": "text", "text": "hi "}, {"kind": "var", "name": "x", "path": ["a", 0]}]`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func wantTree() ast.Tree {
	return ast.Tree{
		&ast.Text{Text: "hi "},
		&ast.Var{Name: "x", Path: []ast.Segment{ast.Field("a"), ast.Index(0)}},
	}
}

func TestJSONFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "welcome.txt")
	writeFile(t, src+".json", dump)

	tree, err := JSONFile{Suffix: ".json"}.Parse(context.Background(), src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(wantTree(), tree); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONFileErrors(t *testing.T) {
	dir := t.TempDir()
	p := JSONFile{Suffix: ".json"}

	_, err := p.Parse(context.Background(), filepath.Join(dir, "missing.txt"))
	var perr *ParseError
	if !errors.As(err, &perr) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing dump: got %v", err)
	}

	bad := filepath.Join(dir, "bad.txt")
	writeFile(t, bad+".json", `[{"kind": "if", "cond": null, "then": [], "else": []}]`)
	if _, err := p.Parse(context.Background(), bad); !errors.Is(err, ast.ErrMalformed) {
		t.Fatalf("malformed dump: got %v, want ErrMalformed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Parse(ctx, bad); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled: got %v", err)
	}
}

func TestCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "welcome.txt")
	writeFile(t, src, dump)

	tree, err := Command{Argv: []string{"sh", "-c", `cat "$0"`}}.Parse(context.Background(), src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(wantTree(), tree); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestCommandFailureKeepsStderr(t *testing.T) {
	c := Command{Argv: []string{"sh", "-c", `echo "syntax error line 3" >&2; exit 2`}}
	_, err := c.Parse(context.Background(), "x.txt")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("want ParseError, got %v", err)
	}
	if perr.Path != "x.txt" {
		t.Fatalf("path = %q", perr.Path)
	}
	if got := err.Error(); !strings.Contains(got, "syntax error line 3") {
		t.Fatalf("stderr lost: %q", got)
	}
	if _, err := (Command{}).Parse(context.Background(), "x.txt"); err == nil {
		t.Fatalf("empty command should fail")
	}
}

func TestCloseIgnoresPlainParsers(t *testing.T) {
	if err := Close(JSONFile{}); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
