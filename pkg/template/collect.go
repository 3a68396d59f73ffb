package template

import "github.com/geneweb/templconv/pkg/ast"

// Collect walks u.Tree once and fills the macro, include and variable maps.
func Collect(u *Unit) {
	ast.Walk(u.Tree, func(n ast.Node) {
		switch t := n.(type) {
		case *ast.MacroDefinition:
			addMacro(u.Macros, t)
		case *ast.Include:
			addInclude(u.Includes, t)
		case *ast.Var:
			addVariable(u.Variables, t)
		}
	})
}

// addMacro keeps the first definition of a name.
func addMacro(macros map[string]*Macro, def *ast.MacroDefinition) {
	if _, ok := macros[def.Name]; ok {
		return
	}
	params := make([]string, len(def.Params))
	for i, p := range def.Params {
		params[i] = p.Name
	}
	macros[def.Name] = &Macro{Name: def.Name, Params: params, Definition: def}
}

func addInclude(includes map[string]*Include, inc *ast.Include) {
	entry := &Include{Raw: inc.IsRaw}
	if !inc.IsRaw {
		entry.Path = inc.File
	}
	if existing, ok := includes[entry.Key()]; ok {
		existing.Occurrences = append(existing.Occurrences, inc)
		return
	}
	entry.Occurrences = []*ast.Include{inc}
	includes[entry.Key()] = entry
}

func addVariable(vars map[string]*Variable, v *ast.Var) {
	path := v.FormattedPath()
	existing, ok := vars[v.Name]
	if !ok {
		vars[v.Name] = &Variable{Name: v.Name, Paths: map[string][]*ast.Var{path: {v}}}
		return
	}
	existing.Paths[path] = append(existing.Paths[path], v)
}
