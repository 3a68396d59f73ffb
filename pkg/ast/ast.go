package ast

import (
	"strconv"
	"strings"
)

// Kind identifies the active payload of a Node.
type Kind int

const (
	KindText Kind = iota
	KindVar
	KindTranslation
	KindSizeSpec
	KindConditional
	KindForEach
	KindCountedLoop
	KindMacroDefinition
	KindMacroApply
	KindLocalBinding
	KindUnaryOp
	KindBinaryOp
	KindIntLiteral
	KindInclude
	KindURLReference

	// KindCount is the number of node kinds. Tables indexed by Kind are
	// sized with it.
	KindCount
)

var kindNames = [KindCount]string{
	KindText:            "Text",
	KindVar:             "Var",
	KindTranslation:     "Translation",
	KindSizeSpec:        "SizeSpec",
	KindConditional:     "Conditional",
	KindForEach:         "ForEachPlaceholder",
	KindCountedLoop:     "CountedLoop",
	KindMacroDefinition: "MacroDefinition",
	KindMacroApply:      "MacroApply",
	KindLocalBinding:    "LocalBinding",
	KindUnaryOp:         "UnaryOp",
	KindBinaryOp:        "BinaryOp",
	KindIntLiteral:      "IntLiteral",
	KindInclude:         "Include",
	KindURLReference:    "UrlReference",
}

func (k Kind) String() string {
	if k < 0 || k >= KindCount {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// Node is one element of a legacy template tree. Exactly one concrete type
// implements it per Kind.
type Node interface {
	Kind() Kind
}

// Tree is an ordered sequence of nodes; order is emission order.
type Tree []Node

// Text is literal template text.
type Text struct {
	Text string
}

// Segment is one step of a variable path: either a field name or an index.
type Segment struct {
	Field   string
	Index   int
	IsIndex bool
}

// Field returns a string path segment.
func Field(name string) Segment { return Segment{Field: name} }

// Index returns an integer path segment.
func Index(i int) Segment { return Segment{Index: i, IsIndex: true} }

// Var is a variable reference with an optional access path.
type Var struct {
	Name string
	Path []Segment
}

// Translation is a lookup into the translation catalog.
type Translation struct {
	Key        string
	Variant    string
	Capitalize bool
}

// SizeSpec is a width/height literal emitted verbatim.
type SizeSpec struct {
	Size string
}

// Conditional is an if/else construct.
type Conditional struct {
	Cond Node
	Then Tree
	Else Tree
}

// ForEach is the foreach construct; the upstream parser does not carry its
// payload yet.
type ForEach struct{}

// CountedLoop iterates Var over the integer range [Start, End).
type CountedLoop struct {
	Var   string
	Start Node
	End   Node
	Body  Tree
}

// Param is a macro parameter with an optional default value.
type Param struct {
	Name    string
	Default Node // nil when the parameter has no default
}

// MacroDefinition defines a macro. Defaults holds the macro body as emitted by
// the legacy parser and Continuation the rest of the template that follows it.
type MacroDefinition struct {
	Name         string
	Params       []Param
	Defaults     Tree
	Continuation Tree
}

// Arg is one macro application argument. Key is empty for positional args.
type Arg struct {
	Key   string
	Value Tree
}

// MacroApply calls a macro.
type MacroApply struct {
	Macro string
	Args  []Arg
}

// LocalBinding binds Var to Value while rendering Body.
type LocalBinding struct {
	Var   string
	Value Tree
	Body  Tree
}

// UnaryOp applies Op to Operand.
type UnaryOp struct {
	Op      string
	Operand Node
}

// BinaryOp applies Op to Left and Right.
type BinaryOp struct {
	Op    string
	Left  Node
	Right Node
}

// IntLiteral is an integer kept as its digit string.
type IntLiteral struct {
	Digits string
}

// Include pulls in another template (File set) or raw text (Raw set).
type Include struct {
	File  string
	Raw   string
	IsRaw bool
}

// FileInclude returns an Include referencing another template by path.
func FileInclude(path string) *Include { return &Include{File: path} }

// RawInclude returns an Include injecting text verbatim.
func RawInclude(text string) *Include { return &Include{Raw: text, IsRaw: true} }

// URLReference is synthesised by the rewriter for static asset paths.
type URLReference struct {
	Base string
	Path string
}

func (*Text) Kind() Kind            { return KindText }
func (*Var) Kind() Kind             { return KindVar }
func (*Translation) Kind() Kind     { return KindTranslation }
func (*SizeSpec) Kind() Kind        { return KindSizeSpec }
func (*Conditional) Kind() Kind     { return KindConditional }
func (*ForEach) Kind() Kind         { return KindForEach }
func (*CountedLoop) Kind() Kind     { return KindCountedLoop }
func (*MacroDefinition) Kind() Kind { return KindMacroDefinition }
func (*MacroApply) Kind() Kind      { return KindMacroApply }
func (*LocalBinding) Kind() Kind    { return KindLocalBinding }
func (*UnaryOp) Kind() Kind         { return KindUnaryOp }
func (*BinaryOp) Kind() Kind        { return KindBinaryOp }
func (*IntLiteral) Kind() Kind      { return KindIntLiteral }
func (*Include) Kind() Kind         { return KindInclude }
func (*URLReference) Kind() Kind    { return KindURLReference }

// FormatPath returns the canonical path string for a variable: the base name
// followed by ".field" or "[n]" for each segment. The collector keys and the
// generated references both use it.
func FormatPath(name string, path []Segment) string {
	var b strings.Builder
	b.WriteString(name)
	for _, seg := range path {
		if seg.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
			continue
		}
		b.WriteByte('.')
		b.WriteString(seg.Field)
	}
	return b.String()
}

// FormattedPath returns the canonical path string of v.
func (v *Var) FormattedPath() string {
	return FormatPath(v.Name, v.Path)
}

// ParseSegment converts a raw path segment to a Segment. Segments made only of
// ASCII digits become indexes.
func ParseSegment(raw string) Segment {
	if raw == "" {
		return Field(raw)
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return Field(raw)
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Field(raw)
	}
	return Index(n)
}
