package analyze

import (
	"strings"
	"testing"

	"github.com/geneweb/templconv/pkg/ast"
	"github.com/geneweb/templconv/pkg/jinjagen"
	"github.com/geneweb/templconv/pkg/template"
	"github.com/google/go-cmp/cmp"
)

var _ jinjagen.Classifier = (*Corpus)(nil)

func corpus() *Corpus {
	return Fold([]Summary{
		{Name: "A", Macros: []string{"M"}, Variables: []string{"x"}, Includes: []string{"B"}},
		{Name: "B", Macros: []string{"M"}, Variables: []string{"y"}},
		{Name: "C", Variables: []string{"y"}},
		{Name: "D", Macros: []string{"N"}},
	})
}

func TestFoldCounts(t *testing.T) {
	c := corpus()
	if diff := cmp.Diff(map[string]int{"M": 2, "N": 1}, c.MacroCounts); diff != "" {
		t.Errorf("macro counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"x": 1, "y": 2}, c.VarCounts); diff != "" {
		t.Errorf("var counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B", "C", "D"}, c.Templates); diff != "" {
		t.Errorf("templates mismatch (-want +got):\n%s", diff)
	}
}

func TestFoldCountsOncePerTemplate(t *testing.T) {
	c := Fold([]Summary{{Name: "A", Macros: []string{"M", "M"}, Includes: []string{"B", "B"}}})
	if got := c.MacroCounts["M"]; got != 1 {
		t.Errorf("MacroCounts[M] = %d, want 1", got)
	}
	if diff := cmp.Diff([]string{"B"}, c.IncludeEdges["A"]); diff != "" {
		t.Errorf("include edges mismatch (-want +got):\n%s", diff)
	}
}

func TestRoots(t *testing.T) {
	c := Fold([]Summary{
		{Name: "A", Includes: []string{"B"}},
		{Name: "B"},
		{Name: "C"},
	})
	if diff := cmp.Diff(map[string]bool{"B": true}, c.IncludedByAny); diff != "" {
		t.Errorf("included by any mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "C"}, c.Roots()); diff != "" {
		t.Errorf("roots mismatch (-want +got):\n%s", diff)
	}
	if c.IsRoot("B") {
		t.Error("B is included by A and must not be a root")
	}
}

func TestClassify(t *testing.T) {
	c := corpus()
	tests := []struct {
		name string
		want Classification
	}{
		{"A", Classification{GlobalMacros: []string{"M"}, LocalVariables: []string{"x"}}},
		{"B", Classification{GlobalMacros: []string{"M"}, GlobalVariables: []string{"y"}}},
		{"C", Classification{GlobalVariables: []string{"y"}}},
		{"D", Classification{LocalMacros: []string{"N"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := c.Summary(tt.name)
			if !ok {
				t.Fatalf("no summary for %s", tt.name)
			}
			if diff := cmp.Diff(tt.want, c.Classify(s)); diff != "" {
				t.Errorf("classification mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if !c.MacroGlobal("M") || c.MacroGlobal("N") {
		t.Error("MacroGlobal: want M global and N local")
	}
	if c.VariableGlobal("x") || !c.VariableGlobal("y") {
		t.Error("VariableGlobal: want x local and y global")
	}
}

func TestStats(t *testing.T) {
	want := Stats{Templates: 4, Macros: 2, Variables: 2, Included: 1, Roots: 3}
	if diff := cmp.Diff(want, corpus().Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize(t *testing.T) {
	u := template.New("A", "A.txt", ast.Tree{
		&ast.Var{Name: "user", Path: []ast.Segment{ast.Field("name")}},
		&ast.Var{Name: "user"},
		ast.FileInclude("hed"),
		ast.RawInclude("<hr>"),
		&ast.MacroDefinition{Name: "m", Defaults: ast.Tree{&ast.Var{Name: "count"}}},
	})
	if err := u.Process(nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := Summary{
		Name:      "A",
		Macros:    []string{"m"},
		Variables: []string{"count", "user"},
		Includes:  []string{"hed"},
	}
	if diff := cmp.Diff(want, Summarize(u)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestGraph(t *testing.T) {
	g, err := corpus().Graph("A")
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	wantEdges := []Edge{
		{From: "tpl_A", To: "inc_B", Label: "includes"},
		{From: "macro_M", To: "tpl_A", Label: "macro"},
		{From: "tpl_A", To: "var_x", Label: "var"},
	}
	if diff := cmp.Diff(wantEdges, g.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
	if _, err := corpus().Graph("missing"); err == nil {
		t.Error("Graph of an unknown template: want error")
	}
}

func TestWriteDOT(t *testing.T) {
	g, err := corpus().Graph("A")
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	got, err := DOT(g)
	if err != nil {
		t.Fatalf("DOT: %v", err)
	}
	want := `digraph "A" {
  rankdir=LR;
  node [fontname="Helvetica"];
  "tpl_A" [shape=box, peripheries=2, style=filled, fillcolor="#eef7ff", label="A"];
  "inc_B" [shape=oval, label="B"];
  "macro_M" [shape=hexagon, style=filled, fillcolor="#ffe0b2", label="M\n(global)"];
  "var_x" [shape=diamond, style=filled, fillcolor="#fff9c4", label="x\n(local)"];
  "tpl_A" -> "inc_B" [label="includes"];
  "macro_M" -> "tpl_A" [label="macro"];
  "tpl_A" -> "var_x" [label="var"];
}
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DOT mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteDOTIncludedTemplate(t *testing.T) {
	g, err := corpus().Graph("D")
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	got, err := DOT(g)
	if err != nil {
		t.Fatalf("DOT: %v", err)
	}
	for _, want := range []string{
		`"tpl_D" [shape=box, peripheries=2,`,
		`fillcolor="#e5ffe5", label="N\n(local)"`,
		`"tpl_D" -> "macro_N" [label="macro"];`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("DOT output missing %q:\n%s", want, got)
		}
	}

	g, err = corpus().Graph("B")
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	got, err = DOT(g)
	if err != nil {
		t.Fatalf("DOT: %v", err)
	}
	if !strings.Contains(got, `"tpl_B" [shape=box, style=filled,`) {
		t.Errorf("included template must have a single outline:\n%s", got)
	}
}

func TestDOTEscaping(t *testing.T) {
	c := Fold([]Summary{{Name: `we"ird\name`}})
	g, err := c.Graph(`we"ird\name`)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	got, err := DOT(g)
	if err != nil {
		t.Fatalf("DOT: %v", err)
	}
	if !strings.HasPrefix(got, `digraph "we\"ird\\name" {`) {
		t.Errorf("graph name not escaped:\n%s", got)
	}
	if !strings.Contains(got, `"tpl_we\"ird\\name"`) {
		t.Errorf("node id not escaped:\n%s", got)
	}
}
