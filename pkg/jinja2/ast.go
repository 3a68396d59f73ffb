package jinja2

// Node is any AST node in a parsed Jinja2 template.
type Node interface {
	node()
}

// Document is the root node produced by Parse.
type Document struct {
	Nodes []Node
}

func (*Document) node() {}

// TextNode represents literal text between tags.
type TextNode struct {
	Text string
}

func (*TextNode) node() {}

// OutputNode represents a variable/output expression: {{ expr }}
type OutputNode struct {
	Expr string
}

func (*OutputNode) node() {}

// SetNode represents an assignment: {% set name = expr %}, or the block
// form {% set name %}...{% endset %} which fills Body instead of Expr.
type SetNode struct {
	Name string
	Expr string
	Body []Node
}

func (*SetNode) node() {}

// IfNode represents an if/elif/else block.
type IfNode struct {
	Cond  string
	Then  []Node
	Elifs []ElifBranch
	Else  []Node
}

func (*IfNode) node() {}

// ElifBranch is a single elif condition with its body.
type ElifBranch struct {
	Cond string
	Body []Node
}

// ForNode represents a for loop: {% for target in iterable [if filter] %}
type ForNode struct {
	Target   string
	Iterable string
	Filter   string
	Body     []Node
	Else     []Node
}

func (*ForNode) node() {}

// RawNode represents a raw block where delimiters are not parsed.
// It is produced by: {% raw %}...{% endraw %}
type RawNode struct {
	Text string
}

func (*RawNode) node() {}

// BlockNode represents a named block for template inheritance.
type BlockNode struct {
	Name string
	Body []Node
}

func (*BlockNode) node() {}

// ExtendsNode declares that this template extends a parent template.
// Template is the expression naming it.
type ExtendsNode struct {
	Template string
}

func (*ExtendsNode) node() {}

// IncludeNode includes another template. Template is the expression naming
// it, usually a quoted string.
type IncludeNode struct {
	Template string
}

func (*IncludeNode) node() {}

// MacroNode defines a macro: {% macro name(params) %}...{% endmacro %}
type MacroNode struct {
	Name   string
	Params []MacroParam
	Body   []Node
}

func (*MacroNode) node() {}

// MacroParam is one macro parameter. Default is empty when it has none.
type MacroParam struct {
	Name    string
	Default string
}

// WithNode opens a scope: {% with [name = expr, ...] %}...{% endwith %}
type WithNode struct {
	Assignments []SetNode
	Body        []Node
}

func (*WithNode) node() {}
