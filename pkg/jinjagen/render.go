package jinjagen

import (
	"fmt"
	"strings"

	"github.com/geneweb/templconv/pkg/ast"
)

type renderFunc func(r *renderer, n ast.Node, mode Mode) (string, error)

// renderers is indexed by node kind. init refuses to start with a kind left
// unhandled.
var renderers [ast.KindCount]renderFunc

func init() {
	renderers = [ast.KindCount]renderFunc{
		ast.KindText:            renderText,
		ast.KindVar:             renderVar,
		ast.KindTranslation:     renderTranslation,
		ast.KindSizeSpec:        renderSizeSpec,
		ast.KindConditional:     renderConditional,
		ast.KindForEach:         escapedOnly(renderForEach),
		ast.KindCountedLoop:     escapedOnly(renderCountedLoop),
		ast.KindMacroDefinition: escapedOnly(renderMacroDefinition),
		ast.KindMacroApply:      renderMacroApply,
		ast.KindLocalBinding:    escapedOnly(renderLocalBinding),
		ast.KindUnaryOp:         renderUnaryOp,
		ast.KindBinaryOp:        renderBinaryOp,
		ast.KindIntLiteral:      renderIntLiteral,
		ast.KindInclude:         escapedOnly(renderInclude),
		ast.KindURLReference:    renderURLReference,
	}
	for k, fn := range renderers {
		if fn == nil {
			panic(fmt.Sprintf("jinjagen: no renderer for node kind %s", ast.Kind(k)))
		}
	}
}

// opRemap maps legacy operators to Jinja2 ones. Other operators pass
// through unchanged.
var opRemap = map[string]string{
	"=":         "==",
	"^":         "and not",
	"is_substr": "in",
	"/":         "//",
	"/.":        "/",
}

func mapOp(op string) string {
	if m, ok := opRemap[op]; ok {
		return m
	}
	return op
}

// escapeText wraps every maximal run of delimiter characters ('{', '%', '#'
// and '}') that holds a delimiter token in a raw block, so no delimiter
// survives and no brace left outside a block can join one.
func escapeText(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		j := i
		brace := isBraceChar(s[i])
		for j < len(s) && isBraceChar(s[j]) == brace {
			j++
		}
		run := s[i:j]
		if brace && hasDelimiter(run) {
			b.WriteString("{% raw %}" + run + "{% endraw %}")
		} else {
			b.WriteString(run)
		}
		i = j
	}
	return b.String()
}

func isBraceChar(c byte) bool { return c == '{' || c == '%' || c == '#' || c == '}' }

func hasDelimiter(s string) bool {
	for _, d := range []string{"{%", "{{", "{#", "%}", "}}", "#}"} {
		if strings.Contains(s, d) {
			return true
		}
	}
	return false
}

// renderer is the state of one top-level render: the trace and the
// recursion depth.
type renderer struct {
	gen    *Generator
	tracer *Tracer
	depth  int
}

func (g *Generator) newRenderer() *renderer {
	return &renderer{gen: g, tracer: NewTracer()}
}

func (r *renderer) enter() error {
	r.depth++
	if r.gen.maxDepth > 0 && r.depth > r.gen.maxDepth {
		return fmt.Errorf("%w: limit %d", ErrDepthExceeded, r.gen.maxDepth)
	}
	return nil
}

func checkMode(mode Mode) error {
	if mode != Escaped && mode != Raw {
		return fmt.Errorf("%w: unknown mode %s", ErrModeViolation, mode)
	}
	return nil
}

func (r *renderer) node(n ast.Node, mode Mode) (out string, err error) {
	if err := checkMode(mode); err != nil {
		return "", err
	}
	if n == nil {
		return "", fmt.Errorf("%w: null node", ast.ErrMalformed)
	}
	defer func() { r.depth-- }()
	if err := r.enter(); err != nil {
		return "", err
	}
	entry := r.tracer.Enter(n.Kind().String())
	defer func() { r.tracer.Exit(entry, out) }()

	k := n.Kind()
	if k < 0 || k >= ast.KindCount {
		return "", fmt.Errorf("%w: unknown node kind %s", ast.ErrMalformed, k)
	}
	return renderers[k](r, n, mode)
}

// tree renders children in order, drops empty renders and joins the rest:
// without separator in escaped mode, with the concatenation operator in raw
// mode.
func (r *renderer) tree(t ast.Tree, mode Mode) (out string, err error) {
	if err := checkMode(mode); err != nil {
		return "", err
	}
	defer func() { r.depth-- }()
	if err := r.enter(); err != nil {
		return "", err
	}
	entry := r.tracer.Enter("Tree")
	defer func() { r.tracer.Exit(entry, out) }()

	parts := make([]string, 0, len(t))
	for _, n := range t {
		s, err := r.node(n, mode)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	sep := ""
	if mode == Raw {
		sep = "+"
	}
	return strings.Join(parts, sep), nil
}

// operand renders n in raw mode, substituting an empty string literal for an
// empty render.
func (r *renderer) operand(n ast.Node) (string, error) {
	s, err := r.node(n, Raw)
	if s == "" && err == nil {
		s = `""`
	}
	return s, err
}

func escapedOnly(fn renderFunc) renderFunc {
	return func(r *renderer, n ast.Node, mode Mode) (string, error) {
		if mode != Escaped {
			return "", fmt.Errorf("%w: %s cannot render in %s mode", ErrModeViolation, n.Kind(), mode)
		}
		return fn(r, n, mode)
	}
}

func output(expr string, mode Mode) string {
	if mode == Escaped {
		return "{{ " + expr + " }}"
	}
	return expr
}

// quote returns s as a Jinja2 string literal delimited by q.
func quote(s string, q byte) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, string(q), `\`+string(q))
	return string(q) + s + string(q)
}

func renderText(r *renderer, n ast.Node, mode Mode) (string, error) {
	t := n.(*ast.Text)
	if t.Text == "" {
		return "", nil
	}
	if mode == Raw {
		return quote(t.Text, '"'), nil
	}
	return " " + escapeText(t.Text) + " ", nil
}

func renderVar(r *renderer, n ast.Node, mode Mode) (string, error) {
	return output(n.(*ast.Var).FormattedPath(), mode), nil
}

func renderTranslation(r *renderer, n ast.Node, mode Mode) (string, error) {
	t := n.(*ast.Translation)
	var b strings.Builder
	b.WriteString("_(")
	b.WriteString(quote(t.Key, '\''))
	if t.Variant != "" {
		b.WriteString(", variant=")
		b.WriteString(quote(t.Variant, '\''))
	}
	b.WriteString(")")
	if t.Capitalize {
		b.WriteString("|capitalize")
	}
	return output(b.String(), mode), nil
}

func renderSizeSpec(r *renderer, n ast.Node, mode Mode) (string, error) {
	return n.(*ast.SizeSpec).Size, nil
}

func renderConditional(r *renderer, n ast.Node, mode Mode) (string, error) {
	c := n.(*ast.Conditional)
	cond, err := r.node(c.Cond, Raw)
	if err != nil {
		return "", err
	}
	then, err := r.tree(c.Then, mode)
	if err != nil {
		return "", err
	}
	var els string
	if len(c.Else) > 0 {
		if els, err = r.tree(c.Else, mode); err != nil {
			return "", err
		}
	}

	if mode == Raw {
		out := "(" + then + ") if (" + cond + ")"
		if len(c.Else) > 0 {
			out += " else (" + els + ")"
		}
		return out, nil
	}
	out := "{% if " + cond + " %}" + then
	if len(c.Else) > 0 {
		out += "{% else %}" + els
	}
	return out + "{% endif %}", nil
}

func renderForEach(r *renderer, n ast.Node, mode Mode) (string, error) {
	return "{# foreach not implemented yet #}", nil
}

func renderCountedLoop(r *renderer, n ast.Node, mode Mode) (string, error) {
	l := n.(*ast.CountedLoop)
	start, err := r.node(l.Start, Raw)
	if err != nil {
		return "", err
	}
	end, err := r.node(l.End, Raw)
	if err != nil {
		return "", err
	}
	body, err := r.tree(l.Body, Escaped)
	if err != nil {
		return "", err
	}
	return "{% for " + l.Var + " in range(" + start + ", " + end + ") %}" + body + "{% endfor %}", nil
}

func renderMacroDefinition(r *renderer, n ast.Node, mode Mode) (string, error) {
	d := n.(*ast.MacroDefinition)
	params := make([]string, len(d.Params))
	for i, p := range d.Params {
		if p.Default == nil {
			params[i] = p.Name
			continue
		}
		def, err := r.node(p.Default, Raw)
		if err != nil {
			return "", err
		}
		params[i] = p.Name + "=" + def
	}
	body, err := r.tree(d.Defaults, Escaped)
	if err != nil {
		return "", err
	}
	cont, err := r.tree(d.Continuation, Escaped)
	if err != nil {
		return "", err
	}
	return "{% macro " + d.Name + "(" + strings.Join(params, ", ") + ") %}" + body + "{% endmacro %}" + cont, nil
}

func renderMacroApply(r *renderer, n ast.Node, mode Mode) (string, error) {
	a := n.(*ast.MacroApply)
	args := make([]string, 0, len(a.Args))
	for _, arg := range a.Args {
		v, err := r.tree(arg.Value, Raw)
		if err != nil {
			return "", err
		}
		if v == "" {
			continue
		}
		if arg.Key != "" {
			v = arg.Key + "=" + v
		}
		args = append(args, v)
	}
	return output(a.Macro+"("+strings.Join(args, ", ")+")", mode), nil
}

func renderLocalBinding(r *renderer, n ast.Node, mode Mode) (string, error) {
	b := n.(*ast.LocalBinding)
	value, err := r.tree(b.Value, Raw)
	if err != nil {
		return "", err
	}
	if value == "" {
		value = `""`
	}
	body, err := r.tree(b.Body, Escaped)
	if err != nil {
		return "", err
	}
	return "{% with %}{% set " + b.Var + " = " + value + " %}" + body + "{% endwith %}", nil
}

func renderUnaryOp(r *renderer, n ast.Node, mode Mode) (string, error) {
	o := n.(*ast.UnaryOp)
	a, err := r.operand(o.Operand)
	if err != nil {
		return "", err
	}
	return output(mapOp(o.Op)+" "+a, mode), nil
}

func renderBinaryOp(r *renderer, n ast.Node, mode Mode) (string, error) {
	o := n.(*ast.BinaryOp)
	a, err := r.operand(o.Left)
	if err != nil {
		return "", err
	}
	b, err := r.operand(o.Right)
	if err != nil {
		return "", err
	}
	return output(a+" "+mapOp(o.Op)+" "+b, mode), nil
}

func renderIntLiteral(r *renderer, n ast.Node, mode Mode) (string, error) {
	return output(n.(*ast.IntLiteral).Digits, mode), nil
}

func renderInclude(r *renderer, n ast.Node, mode Mode) (string, error) {
	inc := n.(*ast.Include)
	if inc.IsRaw {
		return inc.Raw, nil
	}
	return "{% include '" + inc.File + r.gen.includeSuffix + "' %}", nil
}

func renderURLReference(r *renderer, n ast.Node, mode Mode) (string, error) {
	u := n.(*ast.URLReference)
	return output("url_for("+quote(u.Base, '"')+", path="+quote(u.Path, '"')+")", mode), nil
}
