// Package template holds one legacy template together with the maps derived
// from it: the macros it defines, the files it includes and the variables it
// reads.
package template

import (
	"fmt"
	"sort"

	"github.com/geneweb/templconv/pkg/ast"
)

// RawIncludeKey groups every raw include of a unit in Includes.
const RawIncludeKey = "<raw>"

// Macro is a macro defined by a unit. Only the first definition of a name is
// kept.
type Macro struct {
	Name       string
	Params     []string
	Definition *ast.MacroDefinition
}

// Include groups the include nodes sharing one key.
type Include struct {
	Path        string // empty for raw includes
	Raw         bool
	Occurrences []*ast.Include
}

// Key returns the map key of i.
func (i *Include) Key() string {
	if i.Raw {
		return RawIncludeKey
	}
	return i.Path
}

// Variable groups the references to one base variable name by their
// formatted path.
type Variable struct {
	Name  string
	Paths map[string][]*ast.Var
}

// Occurrences returns how many references a path has.
func (v *Variable) Occurrences(path string) int {
	return len(v.Paths[path])
}

// SortedPaths returns the formatted paths of v in lexical order.
func (v *Variable) SortedPaths() []string {
	return sortedKeys(v.Paths)
}

// Unit is one template: its identity, its tree and the derived maps.
type Unit struct {
	Name       string
	SourcePath string
	OutputPath string
	GraphPath  string

	Tree ast.Tree
	// Nodes holds every node slot of Tree in pre-order. Writing through a
	// slot edits Tree.
	Nodes []*ast.Node

	Macros    map[string]*Macro
	Includes  map[string]*Include
	Variables map[string]*Variable
}

// New creates a unit owning tree. Process must run before the unit is read.
func New(name, sourcePath string, tree ast.Tree) *Unit {
	return &Unit{
		Name:       name,
		SourcePath: sourcePath,
		Tree:       tree,
		Macros:     make(map[string]*Macro),
		Includes:   make(map[string]*Include),
		Variables:  make(map[string]*Variable),
	}
}

// Process validates the tree, applies the rewriter and collects the maps.
// After it returns the unit is treated as read-only.
func (u *Unit) Process(rw *Rewriter) error {
	if err := ast.Check(u.Tree); err != nil {
		return fmt.Errorf("template %s: %w", u.Name, err)
	}
	u.Nodes = ast.Slots(u.Tree)
	if rw != nil {
		rw.Apply(u.Nodes)
	}
	Collect(u)
	return nil
}

// Stats summarises a processed unit.
type Stats struct {
	Nodes     int
	Macros    int
	Includes  int
	Variables int
}

// Stats returns the sizes of u's derived maps.
func (u *Unit) Stats() Stats {
	return Stats{
		Nodes:     len(u.Nodes),
		Macros:    len(u.Macros),
		Includes:  len(u.Includes),
		Variables: len(u.Variables),
	}
}

// MacroNames returns the names of the macros u defines, sorted.
func (u *Unit) MacroNames() []string { return sortedKeys(u.Macros) }

// IncludeKeys returns the include keys of u, sorted.
func (u *Unit) IncludeKeys() []string { return sortedKeys(u.Includes) }

// VariableNames returns the base variable names u reads, sorted.
func (u *Unit) VariableNames() []string { return sortedKeys(u.Variables) }

// FileIncludes returns the paths of the templates u includes, sorted. Raw
// includes are not part of the include graph.
func (u *Unit) FileIncludes() []string {
	var out []string
	for key, inc := range u.Includes {
		if !inc.Raw {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
