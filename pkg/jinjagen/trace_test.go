package jinjagen

import (
	"strings"
	"testing"

	"github.com/geneweb/templconv/pkg/ast"
)

func TestTracerMirrorsCalls(t *testing.T) {
	tree := ast.Tree{
		&ast.Text{Text: "a\nb"},
		&ast.BinaryOp{Op: "=", Left: path("x"), Right: &ast.IntLiteral{Digits: "1"}},
	}
	out, tr, err := New().Trace(tree)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	roots := tr.Roots()
	if len(roots) != 1 || roots[0].Label != "Tree" || roots[0].Rendered != out {
		t.Fatalf("root = %+v", roots)
	}
	root := roots[0]
	if root.Lines != 1 || len(root.Children) != 2 {
		t.Fatalf("root lines=%d children=%d", root.Lines, len(root.Children))
	}
	op := root.Children[1]
	if op.Label != "BinaryOp" || len(op.Children) != 2 || op.Children[0].Label != "Var" || op.Children[1].Label != "IntLiteral" {
		t.Fatalf("binary op entry = %+v", op)
	}
	if op.Rendered != "{{ x == 1 }}" || op.Children[0].Rendered != "x" {
		t.Fatalf("rendered = %q / %q", op.Rendered, op.Children[0].Rendered)
	}
}

func TestTracerShowWindow(t *testing.T) {
	tree := ast.Tree{&ast.Text{Text: "a\nb"}, path("x")}
	_, tr, err := New().Trace(tree)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	var b strings.Builder
	tr.Show(&b, 2, 1)
	out := b.String()
	for _, want := range []string{
		"trace from line 1 to 3:",
		"\n1         Tree(lines=1",
		"\n1           Text(lines=1",
		"\n2           Var(lines=0, text=\"{{ x }}\"",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace misses %q:\n%s", want, out)
		}
	}

	b.Reset()
	tr.Show(&b, 1, 0)
	if strings.Contains(b.String(), "Var(") || strings.Contains(b.String(), "Tree(") {
		t.Fatalf("entries outside the window shown:\n%s", b.String())
	}
}

func TestTracePreviewTruncates(t *testing.T) {
	long := strings.Repeat("é", 200)
	if got := []rune(preview(long)); len(got) != previewLen {
		t.Fatalf("preview length = %d", len(got))
	}
}
