package analyze

import (
	"fmt"
	"io"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// Node is one vertex of a dependency graph.
type Node struct {
	ID          string
	Label       string
	Note        string // second label line, shown in parentheses
	Shape       string
	Peripheries int
	Fill        string
}

// Edge is a labelled arc between two node IDs.
type Edge struct {
	From  string
	To    string
	Label string
}

// Graph is the dependency graph of one template.
type Graph struct {
	Name  string
	Nodes []Node
	Edges []Edge
}

const (
	fillTemplate     = "#eef7ff"
	fillLocalMacro   = "#e5ffe5"
	fillGlobalMacro  = "#ffe0b2"
	fillLocalVar     = "#fff9c4"
	fillGlobalVar    = "#ffe082"
	edgeIncludes     = "includes"
	edgeMacro        = "macro"
	edgeVar          = "var"
	scopeLocal       = "local"
	scopeGlobal      = "global"
	templateIDPrefix = "tpl_"
)

// Graph builds the dependency graph of the named template. Edges to global
// macros and variables point at the template.
func (c *Corpus) Graph(name string) (*Graph, error) {
	s, ok := c.summaries[name]
	if !ok {
		return nil, fmt.Errorf("analyze: unknown template %q", name)
	}
	g := &Graph{Name: name}
	tpl := Node{ID: templateIDPrefix + name, Label: name, Shape: "box", Fill: fillTemplate}
	if c.IsRoot(name) {
		tpl.Peripheries = 2
	}
	g.Nodes = append(g.Nodes, tpl)

	for _, child := range c.IncludeEdges[name] {
		id := "inc_" + child
		g.Nodes = append(g.Nodes, Node{ID: id, Label: child, Shape: "oval"})
		g.Edges = append(g.Edges, Edge{From: tpl.ID, To: id, Label: edgeIncludes})
	}

	cl := c.Classify(s)
	g.addScoped("macro_", "hexagon", edgeMacro, tpl.ID, cl.LocalMacros, scopeLocal, fillLocalMacro)
	g.addScoped("macro_", "hexagon", edgeMacro, tpl.ID, cl.GlobalMacros, scopeGlobal, fillGlobalMacro)
	g.addScoped("var_", "diamond", edgeVar, tpl.ID, cl.LocalVariables, scopeLocal, fillLocalVar)
	g.addScoped("var_", "diamond", edgeVar, tpl.ID, cl.GlobalVariables, scopeGlobal, fillGlobalVar)
	return g, nil
}

func (g *Graph) addScoped(prefix, shape, label, tplID string, names []string, scope, fill string) {
	for _, n := range names {
		id := prefix + n
		g.Nodes = append(g.Nodes, Node{ID: id, Label: n, Note: scope, Shape: shape, Fill: fill})
		e := Edge{From: tplID, To: id, Label: label}
		if scope == scopeGlobal {
			e.From, e.To = id, tplID
		}
		g.Edges = append(g.Edges, e)
	}
}

// dotEscape escapes s for use inside a double-quoted DOT string.
func dotEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func filterDotEscape(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsSafeValue(dotEscape(in.String())), nil
}

const dotSource = `{% autoescape off %}digraph "{{ graph.Name|dotescape }}" {
  rankdir=LR;
  node [fontname="Helvetica"];
{% for n in graph.Nodes %}  "{{ n.ID|dotescape }}" [shape={{ n.Shape }}{% if n.Peripheries %}, peripheries={{ n.Peripheries }}{% endif %}{% if n.Fill %}, style=filled, fillcolor="{{ n.Fill }}"{% endif %}, label="{{ n.Label|dotescape }}{% if n.Note %}\n({{ n.Note }}){% endif %}"];
{% endfor %}{% for e in graph.Edges %}  "{{ e.From|dotescape }}" -> "{{ e.To|dotescape }}" [label="{{ e.Label }}"];
{% endfor %}}
{% endautoescape %}`

var dotTemplate *pongo2.Template

func init() {
	if !pongo2.FilterExists("dotescape") {
		_ = pongo2.RegisterFilter("dotescape", filterDotEscape)
	}
	dotTemplate = pongo2.Must(pongo2.FromString(dotSource))
}

// WriteDOT writes g in Graphviz DOT syntax.
func WriteDOT(w io.Writer, g *Graph) error {
	if err := dotTemplate.ExecuteWriter(pongo2.Context{"graph": g}, w); err != nil {
		return fmt.Errorf("analyze: render graph %s: %w", g.Name, err)
	}
	return nil
}

// DOT returns g in Graphviz DOT syntax.
func DOT(g *Graph) (string, error) {
	var b strings.Builder
	if err := WriteDOT(&b, g); err != nil {
		return "", err
	}
	return b.String(), nil
}
