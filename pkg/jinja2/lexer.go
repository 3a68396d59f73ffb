package jinja2

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// The lexer scans template source into one token stream: text, raw block
// content, the delimiters of {{ }} and {% %} tags, and the expression tokens
// found inside those tags. Comments {# #} are dropped.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokText
	tokRaw
	tokVarBegin   // {{ or {{-
	tokVarEnd     // }} or -}}
	tokBlockBegin // {% or {%-
	tokBlockEnd   // %} or -%}
	tokName
	tokInt
	tokFloat
	tokString
	tokOp
)

var tokenNames = map[tokenKind]string{
	tokEOF:        "end of template",
	tokText:       "template data",
	tokRaw:        "raw data",
	tokVarBegin:   "begin of print statement",
	tokVarEnd:     "end of print statement",
	tokBlockBegin: "begin of statement block",
	tokBlockEnd:   "end of statement block",
	tokName:       "name",
	tokInt:        "integer",
	tokFloat:      "float",
	tokString:     "string",
	tokOp:         "operator",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	val  string
	pos  int // byte offset in source
	end  int
}

// describe renders a token for error messages.
func (t token) describe() string {
	switch t.kind {
	case tokName, tokOp:
		return fmt.Sprintf("'%s'", t.val)
	case tokInt, tokFloat, tokString:
		return fmt.Sprintf("%s %s", t.kind, t.val)
	default:
		return t.kind.String()
	}
}

var (
	rawBegin = regexp.MustCompile(`^\{%[-+]?\s*raw\s*[-+]?%\}`)
	rawEnd   = regexp.MustCompile(`\{%[-+]?\s*endraw\s*[-+]?%\}`)
)

// Operators, longest first so that "//" wins over "/".
var operators = []string{
	"//", "**", "==", "!=", "<=", ">=",
	"+", "-", "*", "/", "%", "~", "<", ">", "=",
	".", ":", "|", ",", ";", "(", ")", "[", "]", "{", "}",
}

var closing = map[string]string{"(": ")", "[": "]", "{": "}"}

type lexer struct {
	src   string
	i     int
	n     int
	lines []int // byte offset of every line start
	toks  []token
}

func newLexer(src string) *lexer {
	l := &lexer{src: src, n: len(src), lines: []int{0}}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			l.lines = append(l.lines, i+1)
		}
	}
	return l
}

// line returns the 1-based line holding byte offset pos.
func (l *lexer) line(pos int) int {
	return sort.Search(len(l.lines), func(i int) bool { return l.lines[i] > pos })
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return &SyntaxError{Line: l.line(pos), Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) emit(kind tokenKind, start, end int) {
	l.toks = append(l.toks, token{kind: kind, val: l.src[start:end], pos: start, end: end})
}

func (l *lexer) match(s string) bool {
	if strings.HasPrefix(l.src[l.i:], s) {
		l.i += len(s)
		return true
	}
	return false
}

// tokenize scans the whole source. The last token is always tokEOF.
func (l *lexer) tokenize() ([]token, error) {
	for l.i < l.n {
		if err := l.scanOutside(); err != nil {
			return nil, err
		}
	}
	l.toks = append(l.toks, token{kind: tokEOF, pos: l.n, end: l.n})
	return l.toks, nil
}

// scanOutside emits the text up to the next opening delimiter and then
// handles that delimiter.
func (l *lexer) scanOutside() error {
	start := l.i
	next := l.nextDelimiter(start)
	if next > start {
		l.emit(tokText, start, next)
	}
	l.i = next
	if l.i >= l.n {
		return nil
	}
	switch l.src[l.i : l.i+2] {
	case "{#":
		return l.skipComment()
	case "{%":
		if loc := rawBegin.FindStringIndex(l.src[l.i:]); loc != nil {
			return l.scanRaw(l.i + loc[1])
		}
		l.i += 2
		l.match("-")
		l.emit(tokBlockBegin, next, l.i)
		return l.scanInside(tokBlockEnd)
	default:
		l.i += 2
		l.match("-")
		l.emit(tokVarBegin, next, l.i)
		return l.scanInside(tokVarEnd)
	}
}

// nextDelimiter returns the offset of the next "{{", "{%" or "{#" at or
// after from, or the end of input.
func (l *lexer) nextDelimiter(from int) int {
	for i := from; i+1 < l.n; i++ {
		if l.src[i] != '{' {
			continue
		}
		switch l.src[i+1] {
		case '{', '%', '#':
			return i
		}
	}
	return l.n
}

func (l *lexer) skipComment() error {
	start := l.i
	end := strings.Index(l.src[start+2:], "#}")
	if end < 0 {
		return l.errorf(start, "missing end of comment tag")
	}
	l.i = start + 2 + end + 2
	return nil
}

// scanRaw emits everything up to the matching endraw tag literally.
func (l *lexer) scanRaw(contentStart int) error {
	loc := rawEnd.FindStringIndex(l.src[contentStart:])
	if loc == nil {
		return l.errorf(l.i, "missing end of raw directive")
	}
	l.emit(tokRaw, contentStart, contentStart+loc[0])
	l.i = contentStart + loc[1]
	return nil
}

// scanInside tokenizes the expression part of a tag until its closing
// delimiter. The delimiter only closes the tag outside brackets.
func (l *lexer) scanInside(closeKind tokenKind) error {
	closeDelim := "}}"
	if closeKind == tokBlockEnd {
		closeDelim = "%}"
	}
	var stack []string
	for {
		for l.i < l.n && isSpace(l.src[l.i]) {
			l.i++
		}
		if l.i >= l.n {
			return l.errorf(l.n, "unexpected end of template, expected %s", closeKind)
		}
		start := l.i
		if len(stack) == 0 && (l.match("-"+closeDelim) || l.match(closeDelim)) {
			l.emit(closeKind, start, l.i)
			return nil
		}
		c := l.src[l.i]
		switch {
		case c == '"' || c == '\'':
			if err := l.scanString(c); err != nil {
				return err
			}
			l.emit(tokString, start, l.i)
		case isDigit(c):
			l.scanNumber()
		case isNameStart(c):
			for l.i < l.n && isNameChar(l.src[l.i]) {
				l.i++
			}
			l.emit(tokName, start, l.i)
		default:
			op := l.scanOperator()
			if op == "" {
				return l.errorf(start, "unexpected char %q", c)
			}
			if want, ok := closing[op]; ok {
				stack = append(stack, want)
			} else if op == ")" || op == "]" || op == "}" {
				if len(stack) == 0 {
					return l.errorf(start, "unexpected '%s'", op)
				}
				if want := stack[len(stack)-1]; want != op {
					return l.errorf(start, "unexpected '%s', expected '%s'", op, want)
				}
				stack = stack[:len(stack)-1]
			}
			l.emit(tokOp, start, l.i)
		}
	}
}

// scanString consumes a quoted string literal with backslash escapes.
func (l *lexer) scanString(quote byte) error {
	start := l.i
	l.i++
	for l.i < l.n {
		switch l.src[l.i] {
		case '\\':
			l.i += 2
		case quote:
			l.i++
			return nil
		default:
			l.i++
		}
	}
	return l.errorf(start, "unterminated string")
}

func (l *lexer) scanNumber() {
	start := l.i
	for l.i < l.n && (isDigit(l.src[l.i]) || l.src[l.i] == '_') {
		l.i++
	}
	kind := tokInt
	if l.i+1 < l.n && l.src[l.i] == '.' && isDigit(l.src[l.i+1]) {
		kind = tokFloat
		l.i++
		for l.i < l.n && (isDigit(l.src[l.i]) || l.src[l.i] == '_') {
			l.i++
		}
	}
	l.emit(kind, start, l.i)
}

func (l *lexer) scanOperator() string {
	for _, op := range operators {
		if l.match(op) {
			return op
		}
	}
	return ""
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isNameChar(b byte) bool { return isNameStart(b) || isDigit(b) }
