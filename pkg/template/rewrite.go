package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/geneweb/templconv/pkg/ast"
)

// URLPrefix maps a prefix variable to a URL helper category and a path
// prefix.
type URLPrefix struct {
	Category string `yaml:"category"`
	Prefix   string `yaml:"prefix"`
}

// Rules configures the rewriter.
type Rules struct {
	// PrefixVar names the variable replaced by the text "/". Empty disables
	// the substitution.
	PrefixVar string `yaml:"prefix_var"`
	// URLPrefixes maps variable names to their URL helper arguments.
	URLPrefixes map[string]URLPrefix `yaml:"url_prefixes"`
	// AssetExtensions lists the file extensions, without dot, that make a
	// path an asset reference.
	AssetExtensions []string `yaml:"asset_extensions"`
}

// DefaultRules returns the rules used for the geneweb template corpus.
func DefaultRules() Rules {
	return Rules{
		PrefixVar: "prefix",
		URLPrefixes: map[string]URLPrefix{
			"images_prefix": {Category: "static", Prefix: "images/"},
			"etc_prefix":    {Category: "static", Prefix: ""},
		},
		AssetExtensions: []string{
			"png", "jpg", "jpeg", "gif", "css", "js", "svg",
			"woff", "woff2", "ttf", "eot",
		},
	}
}

var assetPath = regexp.MustCompile(`^[a-zA-Z0-9._/\-]+`)

// Rewriter applies the structural rules to a flattened tree. It is safe for
// concurrent use.
type Rewriter struct {
	rules    Rules
	assetExt *regexp.Regexp
}

// NewRewriter compiles rules.
func NewRewriter(rules Rules) (*Rewriter, error) {
	rw := &Rewriter{rules: rules}
	if len(rules.AssetExtensions) == 0 {
		return rw, nil
	}
	alts := make([]string, len(rules.AssetExtensions))
	for i, ext := range rules.AssetExtensions {
		if ext == "" {
			return nil, fmt.Errorf("template: empty asset extension")
		}
		alts[i] = `\.` + regexp.QuoteMeta(ext)
	}
	re, err := regexp.Compile(`(?:` + strings.Join(alts, "|") + `)$`)
	if err != nil {
		return nil, fmt.Errorf("template: asset extensions: %w", err)
	}
	rw.assetExt = re
	return rw, nil
}

// Apply runs prefix substitution and then URL folding over the pre-order node
// slots, each in one left-to-right pass. It returns the number of rewrites.
func (rw *Rewriter) Apply(nodes []*ast.Node) int {
	return rw.substitutePrefix(nodes) + rw.foldURLs(nodes)
}

func (rw *Rewriter) substitutePrefix(nodes []*ast.Node) int {
	if rw.rules.PrefixVar == "" {
		return 0
	}
	var n int
	for _, slot := range nodes {
		if v, ok := (*slot).(*ast.Var); ok && v.Name == rw.rules.PrefixVar {
			*slot = &ast.Text{Text: "/"}
			n++
		}
	}
	return n
}

func (rw *Rewriter) foldURLs(nodes []*ast.Node) int {
	if rw.assetExt == nil {
		return 0
	}
	var n int
	for i := 0; i+1 < len(nodes); i++ {
		v, ok := (*nodes[i]).(*ast.Var)
		if !ok {
			continue
		}
		mapping, ok := rw.rules.URLPrefixes[v.Name]
		if !ok {
			continue
		}
		next, ok := (*nodes[i+1]).(*ast.Text)
		if !ok {
			continue
		}
		path := assetPath.FindString(next.Text)
		if path == "" || !rw.assetExt.MatchString(path) {
			continue
		}
		next.Text = next.Text[len(path):]
		*nodes[i] = &ast.URLReference{Base: mapping.Category, Path: mapping.Prefix + path}
		n++
	}
	return n
}
