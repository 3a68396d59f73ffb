package jinja2

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseTextAndOutput(t *testing.T) {
	doc, err := Parse("Hello {{ name }}!")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(doc.Nodes) != 3 {
		t.Fatalf("want 3 nodes, got %d", len(doc.Nodes))
	}
	if tn, ok := doc.Nodes[0].(*TextNode); !ok || tn.Text != "Hello " {
		t.Fatalf("node0 not Text('Hello '): %#v", doc.Nodes[0])
	}
	if on, ok := doc.Nodes[1].(*OutputNode); !ok || on.Expr != "name" {
		t.Fatalf("node1 not Output(name): %#v", doc.Nodes[1])
	}
	if tn, ok := doc.Nodes[2].(*TextNode); !ok || tn.Text != "!" {
		t.Fatalf("node2 not Text('!'): %#v", doc.Nodes[2])
	}
}

func TestIfElifElse(t *testing.T) {
	doc, err := Parse("{% if a %}A{% elif b %}B{% else %}C{% endif %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	n, ok := doc.Nodes[0].(*IfNode)
	if !ok || n.Cond != "a" || len(n.Elifs) != 1 || n.Elifs[0].Cond != "b" || len(n.Else) != 1 {
		t.Fatalf("unexpected if node: %#v", doc.Nodes[0])
	}
}

func TestForElse(t *testing.T) {
	doc, err := Parse("{% for x in range(1, n + 1) if x %}-{{ x }}{% else %}empty{% endfor %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	n, ok := doc.Nodes[0].(*ForNode)
	if !ok || n.Target != "x" || n.Iterable != "range(1, n + 1)" || n.Filter != "x" || len(n.Else) != 1 {
		t.Fatalf("unexpected for node: %#v", doc.Nodes[0])
	}
}

func TestMacroAndWith(t *testing.T) {
	src := `{% macro link(href, label="", n=1) %}<a href="{{ href }}">{{ label }}</a>{% endmacro %}` +
		`{% with %}{% set v = "x" + y %}{{ link(v, label=_('home')|capitalize) }}{% endwith %}`
	doc, err := Parse(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	m, ok := doc.Nodes[0].(*MacroNode)
	if !ok || m.Name != "link" || len(m.Params) != 3 || m.Params[1].Default != `""` {
		t.Fatalf("unexpected macro node: %#v", doc.Nodes[0])
	}
	w, ok := doc.Nodes[1].(*WithNode)
	if !ok || len(w.Body) != 2 {
		t.Fatalf("unexpected with node: %#v", doc.Nodes[1])
	}
	if s, ok := w.Body[0].(*SetNode); !ok || s.Name != "v" || s.Expr != `"x" + y` {
		t.Fatalf("unexpected set node: %#v", w.Body[0])
	}
}

func TestRawAndComments(t *testing.T) {
	doc, err := Parse("A{# comment #}B{% raw %} {{ not_parsed }} {% endraw %}C")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(doc.Nodes) != 4 {
		t.Fatalf("want 4 nodes, got %d: %s", len(doc.Nodes), Pretty(doc))
	}
	if r, ok := doc.Nodes[2].(*RawNode); !ok || r.Text != " {{ not_parsed }} " {
		t.Fatalf("raw content not literal: %#v", doc.Nodes[2])
	}
}

func TestRawDefusedDelimiters(t *testing.T) {
	src := " a {% raw %}{%{% endraw %} b {% raw %}}}{% endraw %} {% raw %}{{{% endraw %} {% raw %}%}{% endraw %} "
	doc, err := Parse(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	var raws []string
	_ = Walk(VisitorFunc(func(n Node) error {
		if r, ok := n.(*RawNode); ok {
			raws = append(raws, r.Text)
		}
		return nil
	}), doc)
	if got := strings.Join(raws, ","); got != "{%,}},{{,%}" {
		t.Fatalf("raw blocks = %q", got)
	}
}

func TestExpressions(t *testing.T) {
	valid := []string{
		`{{ x.a[3].b }}`,
		`{{ _('it\'s', variant='f')|capitalize }}`,
		`{{ ("a") if (c) else ("b") }}`,
		`{{ a and not b }}`,
		`{{ a // b }}{{ a / b }}{{ "x" in y }}{{ a not in b }}`,
		`{{ url_for("static", path="images/logo.png") }}`,
		`{{ {'a': [1, 2,], 'b': {'c': (1, 2)}} }}`,
		`{{ x is defined }}{{ x is not divisibleby 3 }}`,
		`{{ items[1:2] }}{{ -x ** 2 }}{{ "a" ~ "b" }}`,
		`{{ f(*args, **kw) }}`,
		`{{ f(1, k=2, *args, j=3, **kw) }}`,
		`{{ "}}" }}{% if "%}" %}{% endif %}`,
		"{{- x -}}{%- if y -%}{%- endif -%}",
		`{% include 'hed.html.j2' %}{% include "x" ignore missing with context %}`,
		`{% set a, b = 1, 2 %}{% set ns.x = 1 %}{% set body %}t{% endset %}`,
		`{% extends "base" %}{% block content scoped %}x{% endblock content %}`,
	}
	for _, src := range valid {
		t.Run(src, func(t *testing.T) {
			if err := Check(src); err != nil {
				t.Fatalf("Check(%q) = %v", src, err)
			}
		})
	}
}

func TestSyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"unterminated output", "a\nb {{ x", 2, "unexpected end of template"},
		{"missing endif", "{% if a %}\nx\n", 3, "'endif'"},
		{"unknown tag", "x\n\n{% frobnicate %}", 3, "unknown tag 'frobnicate'"},
		{"stray endfor", "{% if a %}{% endfor %}{% endif %}", 1, "unknown tag 'endfor'"},
		{"dangling operator", "\n{{ a + }}", 2, "expected an expression"},
		{"two operands", "{{ a b }}", 1, "expected end of print statement"},
		{"unbalanced paren", "{{ f(a }}", 1, "expected"},
		{"mismatched bracket", "{{ f(a] }}", 1, "unexpected ']'"},
		{"unterminated string", "{{ 'abc }}", 1, "unterminated string"},
		{"empty output", "{{ }}", 1, "expected an expression"},
		{"unterminated comment", "\n\n{# x", 3, "missing end of comment"},
		{"unterminated raw", "{% raw %}{{", 1, "missing end of raw"},
		{"conditional in if", "{% if (a) if (b) %}{% endif %}", 1, "expected end of statement block"},
		{"duplicate macro param", "{% macro m(a, a) %}{% endmacro %}", 1, "duplicate argument"},
		{"default order", "{% macro m(a=1, b) %}{% endmacro %}", 1, "non-default argument"},
		{"positional after keyword", "{{ f(k=1, 2) }}", 1, "invalid argument syntax"},
		{"positional after star", "{{ f(*a, 2) }}", 1, "invalid argument syntax"},
		{"star after double star", "{{ f(**kw, *a) }}", 1, "invalid argument syntax"},
		{"keyword after double star", "\n{{ x|f(**kw, k=1) }}", 2, "invalid argument syntax"},
		{"endblock name", "{% block a %}{% endblock b %}", 1, "does not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.src)
			var serr *SyntaxError
			if !errors.As(err, &serr) {
				t.Fatalf("Check(%q) = %v, want SyntaxError", tt.src, err)
			}
			if serr.Line != tt.line {
				t.Errorf("line = %d, want %d (%v)", serr.Line, tt.line, serr)
			}
			if !strings.Contains(serr.Msg, tt.msg) {
				t.Errorf("msg = %q, want it to contain %q", serr.Msg, tt.msg)
			}
		})
	}
}

func TestPretty(t *testing.T) {
	doc, err := Parse("A{{ x }}B{% macro m(a) %}{% endmacro %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	s := Pretty(doc)
	if !strings.Contains(s, "Document") || !strings.Contains(s, "Output(") || !strings.Contains(s, "Macro(m a)") {
		t.Fatalf("pretty printer missing expected content:\n%s", s)
	}
}

func TestIncludes(t *testing.T) {
	doc, err := Parse(`{% include 'hed.html.j2' %}{% if a %}{% include "x" ignore missing %}{% endif %}{% macro m() %}{% include v ~ '.j2' %}{% endmacro %}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := []string{`'hed.html.j2'`, `"x"`, `v ~ '.j2'`}
	if diff := cmp.Diff(want, Includes(doc)); diff != "" {
		t.Errorf("includes mismatch (-want +got):\n%s", diff)
	}
}
