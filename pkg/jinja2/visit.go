package jinja2

import (
	"bytes"
	"fmt"
)

type Visitor interface {
	Visit(n Node) error
}

func Walk(v Visitor, n Node) error {
	if err := v.Visit(n); err != nil {
		return err
	}
	walkAll := func(nodes []Node) error {
		for _, c := range nodes {
			if err := Walk(v, c); err != nil {
				return err
			}
		}
		return nil
	}
	switch t := n.(type) {
	case *Document:
		return walkAll(t.Nodes)
	case *IfNode:
		if err := walkAll(t.Then); err != nil {
			return err
		}
		for _, e := range t.Elifs {
			if err := walkAll(e.Body); err != nil {
				return err
			}
		}
		return walkAll(t.Else)
	case *ForNode:
		if err := walkAll(t.Body); err != nil {
			return err
		}
		return walkAll(t.Else)
	case *SetNode:
		return walkAll(t.Body)
	case *WithNode:
		return walkAll(t.Body)
	case *MacroNode:
		return walkAll(t.Body)
	case *BlockNode:
		return walkAll(t.Body)
	}
	return nil
}

// Includes returns the template expressions of every include statement of
// doc, in source order.
func Includes(doc *Document) []string {
	var out []string
	_ = Walk(VisitorFunc(func(n Node) error {
		if inc, ok := n.(*IncludeNode); ok {
			out = append(out, inc.Template)
		}
		return nil
	}), doc)
	return out
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(n Node) error

func (f VisitorFunc) Visit(n Node) error { return f(n) }

// Pretty returns a line-oriented string representation of the AST.
func Pretty(doc *Document) string {
	var buf bytes.Buffer
	ppNode(&buf, 0, doc)
	return buf.String()
}

func ppNode(buf *bytes.Buffer, indent int, n Node) {
	ind := func() {
		for i := 0; i < indent; i++ {
			buf.WriteByte(' ')
		}
	}
	children := func(nodes []Node) {
		for _, c := range nodes {
			ppNode(buf, indent+2, c)
		}
	}
	switch t := n.(type) {
	case *Document:
		ind()
		buf.WriteString("Document\n")
		children(t.Nodes)
	case *TextNode:
		ind()
		fmt.Fprintf(buf, "Text(%q)\n", t.Text)
	case *OutputNode:
		ind()
		fmt.Fprintf(buf, "Output(%q)\n", t.Expr)
	case *SetNode:
		ind()
		if t.Body != nil {
			fmt.Fprintf(buf, "SetBlock(%s)\n", t.Name)
			children(t.Body)
			return
		}
		fmt.Fprintf(buf, "Set(%s = %q)\n", t.Name, t.Expr)
	case *IfNode:
		ind()
		fmt.Fprintf(buf, "If(%q)\n", t.Cond)
		children(t.Then)
		for _, e := range t.Elifs {
			ind()
			fmt.Fprintf(buf, "Elif(%q)\n", e.Cond)
			children(e.Body)
		}
		if len(t.Else) > 0 {
			ind()
			buf.WriteString("Else\n")
			children(t.Else)
		}
	case *ForNode:
		ind()
		fmt.Fprintf(buf, "For(%s in %q)\n", t.Target, t.Iterable)
		children(t.Body)
		if len(t.Else) > 0 {
			ind()
			buf.WriteString("Else\n")
			children(t.Else)
		}
	case *WithNode:
		ind()
		buf.WriteString("With\n")
		for _, a := range t.Assignments {
			ind()
			fmt.Fprintf(buf, "  Set(%s = %q)\n", a.Name, a.Expr)
		}
		children(t.Body)
	case *MacroNode:
		ind()
		fmt.Fprintf(buf, "Macro(%s", t.Name)
		for _, p := range t.Params {
			if p.Default != "" {
				fmt.Fprintf(buf, " %s=%q", p.Name, p.Default)
				continue
			}
			fmt.Fprintf(buf, " %s", p.Name)
		}
		buf.WriteString(")\n")
		children(t.Body)
	case *RawNode:
		ind()
		fmt.Fprintf(buf, "Raw(%q)\n", t.Text)
	case *BlockNode:
		ind()
		fmt.Fprintf(buf, "Block(%s)\n", t.Name)
		children(t.Body)
	case *ExtendsNode:
		ind()
		fmt.Fprintf(buf, "Extends(%q)\n", t.Template)
	case *IncludeNode:
		ind()
		fmt.Fprintf(buf, "Include(%q)\n", t.Template)
	}
}
