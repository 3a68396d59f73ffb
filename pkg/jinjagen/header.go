package jinjagen

import (
	"strconv"
	"strings"
	"time"

	"github.com/geneweb/templconv/pkg/template"
)

// Header returns the comment placed before a unit's body. It lists the
// macros, includes and variables the unit uses, sorted by name.
func (g *Generator) Header(u *template.Unit) string {
	var b strings.Builder
	b.WriteString("{# \n")
	b.WriteString("  Generated by templconv for template '" + commentSafe(u.Name) + "'\n")
	b.WriteString("    at " + g.now().Format(time.RFC3339) + "\n")

	var macros []string
	for _, name := range u.MacroNames() {
		m := u.Macros[name]
		macros = append(macros, name+"("+strings.Join(m.Params, ", ")+")"+g.scope(g.macroGlobal, name))
	}
	section(&b, "Used macros", macros)

	var includes []string
	for _, key := range u.IncludeKeys() {
		if u.Includes[key].Raw {
			includes = append(includes, "raw include")
			continue
		}
		includes = append(includes, key)
	}
	section(&b, "Used includes", includes)

	var vars []string
	for _, name := range u.VariableNames() {
		v := u.Variables[name]
		suffix := g.scope(g.variableGlobal, name)
		for _, path := range v.SortedPaths() {
			vars = append(vars, path+" (x"+strconv.Itoa(v.Occurrences(path))+")"+suffix)
		}
	}
	section(&b, "Used variables", vars)

	b.WriteString("#}\n\n")
	return b.String()
}

func section(b *strings.Builder, title string, items []string) {
	b.WriteString("\n  " + title + ":\n")
	if len(items) == 0 {
		b.WriteString("  None\n")
		return
	}
	for _, it := range items {
		b.WriteString("  - " + commentSafe(it) + "\n")
	}
}

// commentSafe breaks up comment terminators so s cannot end the header early.
func commentSafe(s string) string {
	return strings.ReplaceAll(s, "#}", "# }")
}

func (g *Generator) macroGlobal(name string) bool { return g.classifier.MacroGlobal(name) }

func (g *Generator) variableGlobal(name string) bool { return g.classifier.VariableGlobal(name) }

// scope returns the " [local]" or " [global]" annotation, or nothing
// without a classifier.
func (g *Generator) scope(global func(string) bool, name string) string {
	if g.classifier == nil {
		return ""
	}
	if global(name) {
		return " [global]"
	}
	return " [local]"
}
