package jinja2

// Expression grammar, lowest precedence first:
//
//	condexpr := or ["if" or ["else" condexpr]]
//	or       := and {"or" and}
//	and      := not {"and" not}
//	not      := "not" not | compare
//	compare  := math1 {cmpop math1}
//	math1    := concat {("+" | "-") concat}
//	concat   := math2 {"~" math2}
//	math2    := pow {("*" | "/" | "//" | "%") pow}
//	pow      := unary {"**" unary}
//	unary    := ("-" | "+") unary | primary postfix filters
//
// The parser only validates; callers keep the source text of what it
// consumed.

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

func (p *parser) parseTuple(withCond bool) error {
	for n := 0; ; n++ {
		if n > 0 {
			if !p.skipOp(",") || p.tupleEnd() {
				return nil
			}
		}
		if err := p.parseExpression(withCond); err != nil {
			return err
		}
	}
}

func (p *parser) tupleEnd() bool {
	t := p.peek()
	switch t.kind {
	case tokVarEnd, tokBlockEnd, tokEOF:
		return true
	case tokOp:
		return t.val == ")"
	case tokName:
		return t.val == "in" || t.val == "recursive"
	}
	return false
}

// parseAssignTarget accepts a name, a namespace attribute or a tuple of
// those.
func (p *parser) parseAssignTarget() error {
	for n := 0; ; n++ {
		if n > 0 && !p.skipOp(",") {
			return nil
		}
		if p.skipOp("(") {
			if err := p.parseAssignTarget(); err != nil {
				return err
			}
			if err := p.expectOp(")"); err != nil {
				return err
			}
			continue
		}
		if _, err := p.expectName(); err != nil {
			return err
		}
		if p.skipOp(".") {
			if _, err := p.expectName(); err != nil {
				return err
			}
		}
	}
}

func (p *parser) parseExpression(withCond bool) error {
	if withCond {
		return p.parseCondExpr()
	}
	return p.parseOr()
}

func (p *parser) parseCondExpr() error {
	if err := p.parseOr(); err != nil {
		return err
	}
	for p.skipName("if") {
		if err := p.parseOr(); err != nil {
			return err
		}
		if p.skipName("else") {
			return p.parseCondExpr()
		}
	}
	return nil
}

func (p *parser) parseOr() error {
	if err := p.parseAnd(); err != nil {
		return err
	}
	for p.skipName("or") {
		if err := p.parseAnd(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseAnd() error {
	if err := p.parseNot(); err != nil {
		return err
	}
	for p.skipName("and") {
		if err := p.parseNot(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseNot() error {
	if p.skipName("not") {
		return p.parseNot()
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() error {
	if err := p.parseMath1(); err != nil {
		return err
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokOp && compareOps[t.val]:
			p.i++
		case p.isName("in"):
			p.i++
		case p.isName("not") && p.peekAt(1).kind == tokName && p.peekAt(1).val == "in":
			p.i += 2
		default:
			return nil
		}
		if err := p.parseMath1(); err != nil {
			return err
		}
	}
}

// parseBinary parses operand {op operand} for one precedence level.
func (p *parser) parseBinary(operand func() error, ops ...string) error {
	if err := operand(); err != nil {
		return err
	}
	for {
		matched := false
		for _, op := range ops {
			if p.skipOp(op) {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		if err := operand(); err != nil {
			return err
		}
	}
}

func (p *parser) parseMath1() error {
	return p.parseBinary(p.parseConcat, "+", "-")
}

func (p *parser) parseConcat() error {
	return p.parseBinary(p.parseMath2, "~")
}

func (p *parser) parseMath2() error {
	return p.parseBinary(p.parsePow, "*", "/", "//", "%")
}

func (p *parser) parsePow() error {
	return p.parseBinary(func() error { return p.parseUnary(true) }, "**")
}

func (p *parser) parseUnary(withFilter bool) error {
	if p.skipOp("-") || p.skipOp("+") {
		if err := p.parseUnary(false); err != nil {
			return err
		}
	} else {
		if err := p.parsePrimary(); err != nil {
			return err
		}
		if err := p.parsePostfix(); err != nil {
			return err
		}
	}
	if withFilter {
		return p.parseFilters()
	}
	return nil
}

func (p *parser) parsePrimary() error {
	t := p.peek()
	switch t.kind {
	case tokName, tokInt, tokFloat:
		p.i++
		return nil
	case tokString:
		for p.peek().kind == tokString {
			p.i++
		}
		return nil
	case tokOp:
		switch t.val {
		case "(":
			p.i++
			if p.skipOp(")") {
				return nil
			}
			if err := p.parseTuple(true); err != nil {
				return err
			}
			return p.expectOp(")")
		case "[":
			p.i++
			return p.parseList("]", func() error { return p.parseExpression(true) })
		case "{":
			p.i++
			return p.parseList("}", func() error {
				if err := p.parseExpression(true); err != nil {
					return err
				}
				if err := p.expectOp(":"); err != nil {
					return err
				}
				return p.parseExpression(true)
			})
		}
	}
	return p.errorf("expected an expression, got %s", t.describe())
}

// parseList parses comma separated items up to closer. A trailing comma is
// allowed.
func (p *parser) parseList(closer string, item func() error) error {
	for n := 0; !p.isOp(closer); n++ {
		if n > 0 {
			if err := p.expectOp(","); err != nil {
				return err
			}
			if p.isOp(closer) {
				break
			}
		}
		if err := item(); err != nil {
			return err
		}
	}
	p.i++
	return nil
}

func (p *parser) parsePostfix() error {
	for {
		switch {
		case p.skipOp("."):
			if t := p.peek(); t.kind != tokName && t.kind != tokInt {
				return p.errorf("expected name or number after '.', got %s", t.describe())
			}
			p.i++
		case p.skipOp("["):
			if err := p.parseList("]", p.parseSubscript); err != nil {
				return err
			}
		case p.isOp("("):
			if err := p.parseCallArgs(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// parseSubscript parses an index or a slice [a:b:c].
func (p *parser) parseSubscript() error {
	bound := func() error {
		if p.isOp(":") || p.isOp("]") || p.isOp(",") {
			return nil
		}
		return p.parseExpression(true)
	}
	if err := bound(); err != nil {
		return err
	}
	for i := 0; i < 2 && p.skipOp(":"); i++ {
		if err := bound(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseCallArgs() error {
	if err := p.expectOp("("); err != nil {
		return err
	}
	// Positional arguments come first, then keywords and *args, then
	// **kwargs.
	var kwargs, dynArgs, dynKwargs bool
	invalid := func() error { return p.errorf("invalid argument syntax") }
	return p.parseList(")", func() error {
		switch {
		case p.skipOp("**"):
			if dynKwargs {
				return invalid()
			}
			dynKwargs = true
		case p.skipOp("*"):
			if dynArgs || dynKwargs {
				return invalid()
			}
			dynArgs = true
		case p.peek().kind == tokName && p.peekAt(1).kind == tokOp && p.peekAt(1).val == "=":
			if dynKwargs {
				return invalid()
			}
			kwargs = true
			p.i += 2
		default:
			if kwargs || dynArgs || dynKwargs {
				return invalid()
			}
		}
		return p.parseExpression(true)
	})
}

// parseFilters parses any chain of "|filter(args)" and "is [not] test".
func (p *parser) parseFilters() error {
	for {
		switch {
		case p.skipOp("|"):
			if err := p.parseDottedName(); err != nil {
				return err
			}
			if p.isOp("(") {
				if err := p.parseCallArgs(); err != nil {
					return err
				}
			}
		case p.skipName("is"):
			p.skipName("not")
			if err := p.parseDottedName(); err != nil {
				return err
			}
			if p.isOp("(") {
				if err := p.parseCallArgs(); err != nil {
					return err
				}
			} else if p.startsTestArg() {
				if err := p.parsePrimary(); err != nil {
					return err
				}
				if err := p.parsePostfix(); err != nil {
					return err
				}
			}
		case p.isOp("("):
			if err := p.parseCallArgs(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *parser) parseDottedName() error {
	if _, err := p.expectName(); err != nil {
		return err
	}
	for p.skipOp(".") {
		if _, err := p.expectName(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) startsTestArg() bool {
	t := p.peek()
	switch t.kind {
	case tokName:
		switch t.val {
		case "else", "or", "and", "if", "in", "not", "is":
			return false
		}
		return true
	case tokString, tokInt, tokFloat:
		return true
	case tokOp:
		return t.val == "[" || t.val == "{"
	}
	return false
}
