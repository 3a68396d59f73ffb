// Package jinjagen renders legacy template trees as Jinja2 source.
//
// Every render call runs in one of two modes. Escaped mode produces
// standalone template syntax: text, {{ }} outputs and {% %} statements.
// Raw mode produces a bare expression usable inside another expression.
// Node kinds that only exist as statements reject raw mode with
// ErrModeViolation.
package jinjagen

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/geneweb/templconv/pkg/ast"
	"github.com/geneweb/templconv/pkg/jinja2"
	"github.com/geneweb/templconv/pkg/template"
)

var (
	// ErrModeViolation reports a node rendered in a mode it does not
	// support. It always points at a generator defect.
	ErrModeViolation = errors.New("jinjagen: render mode violation")
	// ErrDepthExceeded reports a tree nested deeper than the configured
	// limit.
	ErrDepthExceeded = errors.New("jinjagen: render depth exceeded")
)

// Mode selects the emission grammar of a render call.
type Mode int

const (
	Escaped Mode = iota
	Raw
)

func (m Mode) String() string {
	switch m {
	case Escaped:
		return "escaped"
	case Raw:
		return "raw"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// DefaultMaxDepth bounds the render recursion.
const DefaultMaxDepth = 3000

// GenerateError reports generated output that the Jinja2 syntax checker
// rejected. Line is relative to the rendered body.
type GenerateError struct {
	Template string
	Line     int
	Err      error
}

func (e *GenerateError) Error() string {
	return fmt.Sprintf("jinjagen: template %s: generated syntax error at body line %d: %v", e.Template, e.Line, e.Err)
}

func (e *GenerateError) Unwrap() error { return e.Err }

// Classifier tells whether a macro or variable name is shared by several
// templates of the corpus.
type Classifier interface {
	MacroGlobal(name string) bool
	VariableGlobal(name string) bool
}

// Generator renders template units. It holds configuration only and is
// safe for concurrent use.
type Generator struct {
	classifier    Classifier
	now           func() time.Time
	maxDepth      int
	diagnostics   io.Writer
	includeSuffix string
	traceWindow   int
	contextLines  int
}

// Option configures a Generator.
type Option func(*Generator)

// WithClassifier annotates the header's macros and variables as local or
// global.
func WithClassifier(c Classifier) Option {
	return func(g *Generator) { g.classifier = c }
}

// WithClock sets the time source of the header timestamp.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithMaxDepth sets the render recursion limit.
func WithMaxDepth(n int) Option {
	return func(g *Generator) { g.maxDepth = n }
}

// WithDiagnostics sets where syntax error context and traces are written.
func WithDiagnostics(w io.Writer) Option {
	return func(g *Generator) { g.diagnostics = w }
}

// WithIncludeSuffix sets the suffix appended to file include paths, the
// extension of the generated files.
func WithIncludeSuffix(suffix string) Option {
	return func(g *Generator) { g.includeSuffix = suffix }
}

// WithTraceWindow sets how many lines around a syntax error the trace
// shows.
func WithTraceWindow(n int) Option {
	return func(g *Generator) { g.traceWindow = n }
}

// WithContextLines sets how many body lines around a syntax error are
// printed.
func WithContextLines(n int) Option {
	return func(g *Generator) { g.contextLines = n }
}

// New returns a Generator with the given options applied over the
// defaults.
func New(opts ...Option) *Generator {
	g := &Generator{
		now:           time.Now,
		maxDepth:      DefaultMaxDepth,
		diagnostics:   os.Stderr,
		includeSuffix: ".html.j2",
		traceWindow:   1,
		contextLines:  5,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Render returns the header comment followed by the escaped render of the
// unit's tree. The output is checked with the Jinja2 syntax checker; on
// failure the failing region and its trace are written to the diagnostics
// writer and a *GenerateError is returned.
func (g *Generator) Render(u *template.Unit) (string, error) {
	r := g.newRenderer()
	body, err := r.tree(u.Tree, Escaped)
	if err != nil {
		return "", fmt.Errorf("jinjagen: template %s: %w", u.Name, err)
	}
	header := g.Header(u)
	out := header + body

	if err := jinja2.Check(out); err != nil {
		var serr *jinja2.SyntaxError
		if !errors.As(err, &serr) {
			return "", fmt.Errorf("jinjagen: template %s: %w", u.Name, err)
		}
		line := serr.Line - strings.Count(header, "\n")
		if line >= 1 {
			g.diagnose(body, line, r.tracer)
		}
		return "", &GenerateError{Template: u.Name, Line: line, Err: err}
	}
	return out, nil
}

// RenderTree renders tree in mode without header or validation.
func (g *Generator) RenderTree(tree ast.Tree, mode Mode) (string, error) {
	return g.newRenderer().tree(tree, mode)
}

// RenderNode renders a single node in mode without header or validation.
func (g *Generator) RenderNode(n ast.Node, mode Mode) (string, error) {
	return g.newRenderer().node(n, mode)
}

// Trace renders tree in escaped mode and returns the call tree recorded
// while doing so.
func (g *Generator) Trace(tree ast.Tree) (string, *Tracer, error) {
	r := g.newRenderer()
	out, err := r.tree(tree, Escaped)
	return out, r.tracer, err
}

// diagnose writes the body lines around line and the matching trace window
// in one Write, so reports of concurrent renders do not interleave.
func (g *Generator) diagnose(body string, line int, tracer *Tracer) {
	if g.diagnostics == nil {
		return
	}
	var b strings.Builder
	lines := strings.Split(body, "\n")
	from := max(0, line-g.contextLines)
	to := min(len(lines), line+g.contextLines)
	fmt.Fprintf(&b, "Jinja2 syntax error context (lines %d to %d):\n", from+1, to)
	for i := from; i < to; i++ {
		pointer := "   "
		if i+1 == line {
			pointer = ">> "
		}
		fmt.Fprintf(&b, "%s%4d: %s\n", pointer, i+1, lines[i])
	}
	tracer.Show(&b, line, g.traceWindow)
	b.WriteString("\n")
	io.WriteString(g.diagnostics, b.String())
}
