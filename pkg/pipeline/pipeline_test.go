package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geneweb/templconv/pkg/ast"
	"github.com/geneweb/templconv/pkg/jinjagen"
	"github.com/geneweb/templconv/pkg/template"
	"github.com/google/go-cmp/cmp"
)

// fakeParser serves trees from memory, keyed by source path.
type fakeParser struct {
	mu    sync.Mutex
	trees map[string]ast.Tree
	calls []string
}

var errParse = errors.New("unknown tag 42")

func (f *fakeParser) Parse(ctx context.Context, path string) (ast.Tree, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	tree, ok := f.trees[path]
	if !ok {
		return nil, errParse
	}
	return tree, nil
}

type upperFormatter struct{}

func (upperFormatter) Format(_ context.Context, src string) (string, error) {
	return strings.ReplaceAll(src, "<hr>", "<HR>"), nil
}

type fakeLinter struct{}

func (fakeLinter) Lint(_ context.Context, path string) ([]string, error) {
	if strings.Contains(path, "broken") {
		return nil, errors.New("linter crashed")
	}
	if strings.HasSuffix(path, "a.html.j2") {
		return []string{"T001 1:0 whitespace"}, nil
	}
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func corpus() *fakeParser {
	return &fakeParser{trees: map[string]ast.Tree{
		"in/a.txt": {
			ast.FileInclude("b"),
			&ast.Var{Name: "user"},
			&ast.MacroApply{Macro: "m"},
			&ast.Text{Text: "<hr>"},
		},
		"in/b.txt": {
			&ast.Var{Name: "user"},
		},
		"in/sub/c.txt": {
			&ast.MacroDefinition{Name: "m", Defaults: ast.Tree{&ast.Text{Text: "x"}}},
		},
	}}
}

func sources(names ...string) []Source {
	out := make([]Source, len(names))
	for i, n := range names {
		out[i] = Source{Name: n, Path: "in/" + n + ".txt"}
	}
	return out
}

func newPipeline(t *testing.T, p *fakeParser, opts Options) (*Pipeline, string) {
	t.Helper()
	out := t.TempDir()
	rw, err := template.NewRewriter(template.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	opts.Parser = p
	opts.Rewriter = rw
	opts.OutputDir = out
	opts.Workers = 2
	opts.Logger = quietLogger()
	opts.GeneratorOptions = append(opts.GeneratorOptions,
		jinjagen.WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }),
		jinjagen.WithDiagnostics(io.Discard))
	return New(opts), out
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "sub/c.txt", "notes.md"} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := Discover(dir, ".txt")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []Source{
		{Name: "a", Path: filepath.Join(dir, "a.txt")},
		{Name: "b", Path: filepath.Join(dir, "b.txt")},
		{Name: "sub/c", Path: filepath.Join(dir, "sub", "c.txt")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "missing"), ".txt"); err == nil {
		t.Fatal("Discover: want error")
	}
}

func TestRun(t *testing.T) {
	p, out := newPipeline(t, corpus(), Options{Formatter: upperFormatter{}, Linter: fakeLinter{}})
	res, err := p.Run(context.Background(), sources("a", "b", "sub/c"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("Run failures: %v", err)
	}

	wantWritten := []string{
		filepath.Join(out, "a.html.j2"),
		filepath.Join(out, "b.html.j2"),
		filepath.Join(out, "sub", "c.html.j2"),
	}
	if diff := cmp.Diff(wantWritten, res.Written); diff != "" {
		t.Errorf("written mismatch (-want +got):\n%s", diff)
	}
	if len(res.Graphs) != 3 {
		t.Errorf("graphs = %v, want 3", res.Graphs)
	}

	a, err := os.ReadFile(filepath.Join(out, "a.html.j2"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Generated by templconv for template 'a'",
		"  - user (x1) [global]",
		"{% include 'b.html.j2' %}{{ user }}{{ m() }} <HR> ",
	} {
		if !strings.Contains(string(a), want) {
			t.Errorf("a.html.j2 missing %q:\n%s", want, a)
		}
	}

	dot, err := os.ReadFile(filepath.Join(out, "b.dot"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(dot), `"var_user" -> "tpl_b" [label="var"];`) {
		t.Errorf("b.dot misses the global variable edge:\n%s", dot)
	}
	if strings.Contains(string(dot), "peripheries=2") {
		t.Errorf("b is included by a and must not be a root:\n%s", dot)
	}

	if diff := cmp.Diff([]string{"a", "sub/c"}, res.Corpus.Roots()); diff != "" {
		t.Errorf("roots mismatch (-want +got):\n%s", diff)
	}
	if got := res.Lint.IssueCount(); got != 1 {
		t.Errorf("lint issues = %d, want 1", got)
	}
	if _, err := os.Stat(filepath.Join(out, "a.html.j2.tmp")); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	parser := corpus()
	parser.trees["in/bad.txt"] = ast.Tree{&ast.Conditional{Cond: nil}}
	parser.trees["in/deep.txt"] = ast.Tree{&ast.Text{Text: "ok"}}
	p, out := newPipeline(t, parser, Options{GeneratorOptions: []jinjagen.Option{jinjagen.WithMaxDepth(1)}})

	res, err := p.Run(context.Background(), sources("a", "missing", "bad", "deep"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := map[string]Stage{}
	for _, f := range res.Failures {
		got[f.Name] = f.Stage
	}
	want := map[string]Stage{
		"missing": StageParse,
		"bad":     StageProcess,
		"a":       StageGenerate,
		"deep":    StageGenerate,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(res.Err(), errParse) {
		t.Errorf("Err() = %v, want it to wrap the parser error", res.Err())
	}
	if !errors.Is(res.Err(), jinjagen.ErrDepthExceeded) {
		t.Errorf("Err() = %v, want it to wrap ErrDepthExceeded", res.Err())
	}
	if !errors.Is(res.Err(), ast.ErrMalformed) {
		t.Errorf("Err() = %v, want it to wrap ast.ErrMalformed", res.Err())
	}
	if len(res.Graphs) != 2 {
		t.Errorf("graphs = %v, want one per loaded template", res.Graphs)
	}
	if _, err := os.Stat(filepath.Join(out, "a.html.j2")); !os.IsNotExist(err) {
		t.Errorf("failed template was written: %v", err)
	}
}

func TestRunSyntaxErrorDoesNotAbortSiblings(t *testing.T) {
	parser := corpus()
	// A raw conditional inside an if tag is rejected by the checker.
	parser.trees["in/bad.txt"] = ast.Tree{&ast.Conditional{
		Cond: &ast.Conditional{Cond: &ast.Var{Name: "x"}, Then: ast.Tree{&ast.Var{Name: "y"}}},
		Then: ast.Tree{&ast.Text{Text: "t"}},
	}}
	p, _ := newPipeline(t, parser, Options{})
	res, err := p.Run(context.Background(), sources("bad", "b"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures = %v, want 1", res.Failures)
	}
	var gerr *jinjagen.GenerateError
	if !errors.As(res.Failures[0], &gerr) {
		t.Fatalf("failure = %v, want *jinjagen.GenerateError", res.Failures[0])
	}
	if len(res.Written) != 1 {
		t.Errorf("written = %v, want the sibling template", res.Written)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := newPipeline(t, corpus(), Options{})
	if _, err := p.Run(ctx, sources("a", "b")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestLintSkipsLinterFailures(t *testing.T) {
	p, _ := newPipeline(t, corpus(), Options{Linter: fakeLinter{}})
	report, err := p.Lint(context.Background(), []string{"out/a.html.j2", "out/broken.html.j2", "out/b.html.j2"})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	var paths []string
	for _, f := range report.Files() {
		paths = append(paths, f.Path)
	}
	if diff := cmp.Diff([]string{"out/a.html.j2", "out/b.html.j2"}, paths); diff != "" {
		t.Errorf("report paths mismatch (-want +got):\n%s", diff)
	}
}

func TestTemplateError(t *testing.T) {
	err := &TemplateError{Name: "a", Stage: StageWrite, Err: os.ErrPermission}
	if got, want := err.Error(), fmt.Sprintf("template a: write: %v", os.ErrPermission); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Error("TemplateError does not unwrap")
	}
}
