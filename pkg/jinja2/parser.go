package jinja2

import (
	"fmt"
	"sort"
	"strings"
)

// SyntaxError reports a template the Jinja2 grammar rejects.
type SyntaxError struct {
	Line int // 1-based
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse parses a Jinja2 template string into a Document AST.
// It recognizes text, output expressions, comments and the statements
// if/elif/else, for/else, set, with, macro, include, extends, block and
// raw. Expressions are checked against the Jinja2 expression grammar and
// kept as their source text. Errors are *SyntaxError.
func Parse(src string) (*Document, error) {
	l := newLexer(src)
	toks, err := l.tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{l: l, toks: toks}
	nodes, _, err := p.parseNodes(nil)
	if err != nil {
		return nil, err
	}
	return &Document{Nodes: nodes}, nil
}

// Check reports whether src is a syntactically valid template.
func Check(src string) error {
	_, err := Parse(src)
	return err
}

type parser struct {
	l    *lexer
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return p.l.errorf(p.peek().pos, format, args...)
}

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.val == op
}

func (p *parser) isName(name string) bool {
	t := p.peek()
	return t.kind == tokName && t.val == name
}

func (p *parser) skipOp(op string) bool {
	if p.isOp(op) {
		p.i++
		return true
	}
	return false
}

func (p *parser) skipName(name string) bool {
	if p.isName(name) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	if !p.skipOp(op) {
		return p.errorf("expected '%s', got %s", op, p.peek().describe())
	}
	return nil
}

func (p *parser) expectName() (string, error) {
	t := p.peek()
	if t.kind != tokName {
		return "", p.errorf("expected name, got %s", t.describe())
	}
	p.i++
	return t.val, nil
}

func (p *parser) expectKind(kind tokenKind) error {
	if t := p.peek(); t.kind != kind {
		return p.errorf("expected %s, got %s", kind, t.describe())
	}
	p.i++
	return nil
}

// span returns the source text of the tokens consumed since index start.
func (p *parser) span(start int) string {
	if p.i <= start {
		return ""
	}
	return p.l.src[p.toks[start].pos:p.toks[p.i-1].end]
}

// parseNodes parses until an ending statement with a name in `until` is
// encountered, and returns that name with the parser positioned right after
// it. With an empty `until` it parses to EOF.
func (p *parser) parseNodes(until map[string]bool) (nodes []Node, endTag string, err error) {
	for {
		tok := p.next()
		switch tok.kind {
		case tokEOF:
			if len(until) > 0 {
				return nil, "", p.errorf("unexpected end of template, expected %s", tagList(until))
			}
			return nodes, "", nil
		case tokText:
			nodes = append(nodes, &TextNode{Text: tok.val})
		case tokRaw:
			nodes = append(nodes, &RawNode{Text: tok.val})
		case tokVarBegin:
			start := p.i
			if err := p.parseTuple(true); err != nil {
				return nil, "", err
			}
			expr := p.span(start)
			if err := p.expectKind(tokVarEnd); err != nil {
				return nil, "", err
			}
			nodes = append(nodes, &OutputNode{Expr: expr})
		case tokBlockBegin:
			if p.peek().kind != tokName {
				return nil, "", p.errorf("tag name expected")
			}
			name := p.next().val
			if until[name] {
				return nodes, name, nil
			}
			n, err := p.parseStatement(name, until)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)
		default:
			return nil, "", p.l.errorf(tok.pos, "unexpected %s", tok.describe())
		}
	}
}

func tagList(until map[string]bool) string {
	names := make([]string, 0, len(until))
	for n := range until {
		names = append(names, "'"+n+"'")
	}
	sort.Strings(names)
	return strings.Join(names, " or ")
}

func (p *parser) parseStatement(name string, until map[string]bool) (Node, error) {
	switch name {
	case "if":
		return p.parseIf()
	case "for":
		return p.parseFor()
	case "set":
		return p.parseSet()
	case "with":
		return p.parseWith()
	case "macro":
		return p.parseMacro()
	case "include":
		return p.parseInclude()
	case "extends":
		return p.parseExtends()
	case "block":
		return p.parseBlock()
	}
	p.i--
	if len(until) > 0 {
		return nil, p.errorf("encountered unknown tag '%s', expected %s", name, tagList(until))
	}
	return nil, p.errorf("encountered unknown tag '%s'", name)
}

// parseBody parses nodes until one of the end tags and returns which one
// closed the body. The block end after the tag is left to the caller.
func (p *parser) parseBody(end ...string) ([]Node, string, error) {
	until := make(map[string]bool, len(end))
	for _, e := range end {
		until[e] = true
	}
	return p.parseNodes(until)
}

func (p *parser) parseIf() (*IfNode, error) {
	cond, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	n := &IfNode{Cond: cond}
	body, endTag, err := p.parseBody("elif", "else", "endif")
	if err != nil {
		return nil, err
	}
	n.Then = body
	for endTag == "elif" {
		branch := ElifBranch{}
		if branch.Cond, err = p.parseCondition(); err != nil {
			return nil, err
		}
		if branch.Body, endTag, err = p.parseBody("elif", "else", "endif"); err != nil {
			return nil, err
		}
		n.Elifs = append(n.Elifs, branch)
	}
	if endTag == "else" {
		if err := p.expectKind(tokBlockEnd); err != nil {
			return nil, err
		}
		if n.Else, _, err = p.parseBody("endif"); err != nil {
			return nil, err
		}
	}
	return n, p.expectKind(tokBlockEnd)
}

// parseCondition parses the expression of an if or elif tag and its block
// end.
func (p *parser) parseCondition() (string, error) {
	start := p.i
	if err := p.parseTuple(false); err != nil {
		return "", err
	}
	cond := p.span(start)
	return cond, p.expectKind(tokBlockEnd)
}

func (p *parser) parseFor() (*ForNode, error) {
	start := p.i
	if err := p.parseAssignTarget(); err != nil {
		return nil, err
	}
	n := &ForNode{Target: p.span(start)}
	if !p.skipName("in") {
		return nil, p.errorf("expected 'in', got %s", p.peek().describe())
	}
	start = p.i
	if err := p.parseTuple(false); err != nil {
		return nil, err
	}
	n.Iterable = p.span(start)
	if p.skipName("if") {
		start = p.i
		if err := p.parseExpression(true); err != nil {
			return nil, err
		}
		n.Filter = p.span(start)
	}
	p.skipName("recursive")
	if err := p.expectKind(tokBlockEnd); err != nil {
		return nil, err
	}
	body, endTag, err := p.parseBody("else", "endfor")
	if err != nil {
		return nil, err
	}
	n.Body = body
	if endTag == "else" {
		if err := p.expectKind(tokBlockEnd); err != nil {
			return nil, err
		}
		if n.Else, _, err = p.parseBody("endfor"); err != nil {
			return nil, err
		}
	}
	return n, p.expectKind(tokBlockEnd)
}

func (p *parser) parseSet() (*SetNode, error) {
	start := p.i
	if err := p.parseAssignTarget(); err != nil {
		return nil, err
	}
	n := &SetNode{Name: p.span(start)}
	if p.skipOp("=") {
		start = p.i
		if err := p.parseTuple(true); err != nil {
			return nil, err
		}
		n.Expr = p.span(start)
		return n, p.expectKind(tokBlockEnd)
	}
	if err := p.parseFilters(); err != nil {
		return nil, err
	}
	if err := p.expectKind(tokBlockEnd); err != nil {
		return nil, err
	}
	body, _, err := p.parseBody("endset")
	if err != nil {
		return nil, err
	}
	n.Body = body
	return n, p.expectKind(tokBlockEnd)
}

func (p *parser) parseWith() (*WithNode, error) {
	n := &WithNode{}
	for p.peek().kind != tokBlockEnd {
		if len(n.Assignments) > 0 {
			if err := p.expectOp(","); err != nil {
				return nil, err
			}
		}
		start := p.i
		if err := p.parseAssignTarget(); err != nil {
			return nil, err
		}
		set := SetNode{Name: p.span(start)}
		if err := p.expectOp("="); err != nil {
			return nil, err
		}
		start = p.i
		if err := p.parseExpression(true); err != nil {
			return nil, err
		}
		set.Expr = p.span(start)
		n.Assignments = append(n.Assignments, set)
	}
	p.i++
	body, _, err := p.parseBody("endwith")
	if err != nil {
		return nil, err
	}
	n.Body = body
	return n, p.expectKind(tokBlockEnd)
}

func (p *parser) parseMacro() (*MacroNode, error) {
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	n := &MacroNode{Name: name}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for !p.isOp(")") {
		if len(n.Params) > 0 {
			if err := p.expectOp(","); err != nil {
				return nil, err
			}
			if p.isOp(")") {
				break
			}
		}
		param := MacroParam{}
		if param.Name, err = p.expectName(); err != nil {
			return nil, err
		}
		if seen[param.Name] {
			p.i--
			return nil, p.errorf("duplicate argument '%s' in macro '%s'", param.Name, name)
		}
		seen[param.Name] = true
		if p.skipOp("=") {
			start := p.i
			if err := p.parseExpression(true); err != nil {
				return nil, err
			}
			param.Default = p.span(start)
		} else if len(n.Params) > 0 && n.Params[len(n.Params)-1].Default != "" {
			p.i--
			return nil, p.errorf("non-default argument '%s' follows default argument", param.Name)
		}
		n.Params = append(n.Params, param)
	}
	p.i++
	if err := p.expectKind(tokBlockEnd); err != nil {
		return nil, err
	}
	body, _, err := p.parseBody("endmacro")
	if err != nil {
		return nil, err
	}
	n.Body = body
	return n, p.expectKind(tokBlockEnd)
}

func (p *parser) parseInclude() (*IncludeNode, error) {
	start := p.i
	if err := p.parseExpression(true); err != nil {
		return nil, err
	}
	n := &IncludeNode{Template: p.span(start)}
	if p.isName("ignore") && p.peekAt(1).kind == tokName && p.peekAt(1).val == "missing" {
		p.i += 2
	}
	if (p.isName("with") || p.isName("without")) && p.peekAt(1).kind == tokName && p.peekAt(1).val == "context" {
		p.i += 2
	}
	return n, p.expectKind(tokBlockEnd)
}

func (p *parser) parseExtends() (*ExtendsNode, error) {
	start := p.i
	if err := p.parseExpression(true); err != nil {
		return nil, err
	}
	return &ExtendsNode{Template: p.span(start)}, p.expectKind(tokBlockEnd)
}

func (p *parser) parseBlock() (*BlockNode, error) {
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	p.skipName("scoped")
	p.skipName("required")
	if err := p.expectKind(tokBlockEnd); err != nil {
		return nil, err
	}
	body, _, err := p.parseBody("endblock")
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokName {
		if endName := p.next().val; endName != name {
			p.i--
			return nil, p.errorf("endblock name '%s' does not match block name '%s'", endName, name)
		}
	}
	return &BlockNode{Name: name, Body: body}, p.expectKind(tokBlockEnd)
}
