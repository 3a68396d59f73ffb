// Package analyze aggregates the dependency maps of a whole template corpus.
//
// Analysis runs in two phases. Summarize turns each processed unit into an
// immutable Summary; it may run concurrently for different units. Fold then
// combines every Summary into a Corpus, which is read-only afterwards and
// safe to share between goroutines.
package analyze

import (
	"sort"

	"github.com/geneweb/templconv/pkg/template"
)

// Summary is what the corpus needs to know about one template.
type Summary struct {
	Name      string
	Macros    []string // defined macro names, sorted
	Variables []string // base variable names, sorted
	Includes  []string // file include targets, sorted
}

// Summarize captures the sorted dependency names of a processed unit.
func Summarize(u *template.Unit) Summary {
	return Summary{
		Name:      u.Name,
		Macros:    u.MacroNames(),
		Variables: u.VariableNames(),
		Includes:  u.FileIncludes(),
	}
}

// Corpus holds the aggregates of a set of templates.
type Corpus struct {
	// Templates lists template names in fold order.
	Templates []string
	// MacroCounts counts, per macro name, the templates that use it.
	MacroCounts map[string]int
	// VarCounts counts, per base variable name, the templates that read it.
	VarCounts map[string]int
	// IncludeEdges maps a template to the templates it includes.
	IncludeEdges map[string][]string
	// IncludedByAny holds every template included by another one.
	IncludedByAny map[string]bool

	summaries map[string]Summary
}

// Fold combines summaries into a Corpus. A name is counted once per
// template however often that template references it.
func Fold(summaries []Summary) *Corpus {
	c := &Corpus{
		Templates:     make([]string, 0, len(summaries)),
		MacroCounts:   make(map[string]int),
		VarCounts:     make(map[string]int),
		IncludeEdges:  make(map[string][]string),
		IncludedByAny: make(map[string]bool),
		summaries:     make(map[string]Summary, len(summaries)),
	}
	for _, s := range summaries {
		c.Templates = append(c.Templates, s.Name)
		c.summaries[s.Name] = s
		for _, m := range dedupe(s.Macros) {
			c.MacroCounts[m]++
		}
		for _, v := range dedupe(s.Variables) {
			c.VarCounts[v]++
		}
		children := dedupe(s.Includes)
		c.IncludeEdges[s.Name] = children
		for _, child := range children {
			c.IncludedByAny[child] = true
		}
	}
	return c
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Summary returns the summary folded under name.
func (c *Corpus) Summary(name string) (Summary, bool) {
	s, ok := c.summaries[name]
	return s, ok
}

// IsRoot reports whether no template of the corpus includes name.
func (c *Corpus) IsRoot(name string) bool {
	return !c.IncludedByAny[name]
}

// Roots returns the templates no other template includes, sorted.
func (c *Corpus) Roots() []string {
	var roots []string
	for _, name := range c.Templates {
		if c.IsRoot(name) {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	return roots
}

// MacroGlobal reports whether more than one template uses the macro.
func (c *Corpus) MacroGlobal(name string) bool { return c.MacroCounts[name] > 1 }

// VariableGlobal reports whether more than one template reads the variable.
func (c *Corpus) VariableGlobal(name string) bool { return c.VarCounts[name] > 1 }

// Classification splits the macros and variables of one template by scope.
type Classification struct {
	LocalMacros     []string
	GlobalMacros    []string
	LocalVariables  []string
	GlobalVariables []string
}

// Classify splits the names of s into local and global ones.
func (c *Corpus) Classify(s Summary) Classification {
	var cl Classification
	for _, m := range dedupe(s.Macros) {
		if c.MacroGlobal(m) {
			cl.GlobalMacros = append(cl.GlobalMacros, m)
		} else {
			cl.LocalMacros = append(cl.LocalMacros, m)
		}
	}
	for _, v := range dedupe(s.Variables) {
		if c.VariableGlobal(v) {
			cl.GlobalVariables = append(cl.GlobalVariables, v)
		} else {
			cl.LocalVariables = append(cl.LocalVariables, v)
		}
	}
	return cl
}

// Stats are the corpus totals printed after a conversion.
type Stats struct {
	Templates int
	Macros    int
	Variables int
	Included  int
	Roots     int
}

func (c *Corpus) Stats() Stats {
	return Stats{
		Templates: len(c.Templates),
		Macros:    len(c.MacroCounts),
		Variables: len(c.VarCounts),
		Included:  len(c.IncludedByAny),
		Roots:     len(c.Roots()),
	}
}
