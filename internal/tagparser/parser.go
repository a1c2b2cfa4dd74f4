package tagparser

import (
	"fmt"

	"github.com/funvibe/typetag/internal/typesystem"
)

// ParseError reports a syntax error in a tag descriptor.
type ParseError struct {
	Input  string
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: column %d: %s", e.Input, e.Column, e.Msg)
}

// Parser reads the render syntax of tags:
//
//	tag      := lambda | inter
//	lambda   := ("λ" | "\") [ident {"," ident}] ("→" | "->") tag
//	inter    := refined {"&" refined}
//	refined  := primary {"{" [decl {";" decl}] "}"}
//	primary  := ("(" tag ")" | named) {"::" named}
//	named    := ident ["[" [param {"," param}] "]"] ["|<" tag ".." tag ">"]
//	param    := ["+" | "-"] tag
//	decl     := "def" ident "(" [tag {"," tag}] ")" ":" tag | "type" ident ":" tag
type Parser struct {
	l      *Lexer
	input  string
	errors []*ParseError

	curToken  Token
	peekToken Token
}

func New(input string) *Parser {
	p := &Parser{l: NewLexer(input), input: input}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse reads one tag and validates it.
func Parse(input string) (typesystem.Tag, error) {
	return ParseWithArities(input, nil)
}

// ParseWithArities reads one tag and validates it against declared arities.
func ParseWithArities(input string, arities typesystem.Arities) (typesystem.Tag, error) {
	p := New(input)
	t := p.ParseTag()
	if err := p.Err(); err != nil {
		return nil, err
	}
	if err := typesystem.Validate(t, arities); err != nil {
		return nil, fmt.Errorf("parse %q: %w", input, err)
	}
	return t, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(input string) typesystem.Tag {
	t, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTag reads a whole tag; trailing input is an error.
func (p *Parser) ParseTag() typesystem.Tag {
	t := p.parseTag()
	if p.ok() && !p.peekTokenIs(EOF) {
		p.errorf(p.peekToken, "unexpected %s after tag", describe(p.peekToken))
	}
	return t
}

// Err returns the first recorded error.
func (p *Parser) Err() error {
	if len(p.errors) == 0 {
		return nil
	}
	return p.errors[0]
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf(p.peekToken, "expected %s, got %s", t, describe(p.peekToken))
	return false
}

func (p *Parser) ok() bool { return len(p.errors) == 0 }

func (p *Parser) errorf(at Token, format string, args ...interface{}) {
	p.errors = append(p.errors, &ParseError{Input: p.input, Column: at.Column, Msg: fmt.Sprintf(format, args...)})
}

func describe(tok Token) string {
	switch tok.Type {
	case EOF:
		return "end of input"
	case IDENT, ILLEGAL:
		return fmt.Sprintf("%q", tok.Literal)
	default:
		return tok.Type.String()
	}
}

func (p *Parser) parseTag() typesystem.Tag {
	if p.curTokenIs(LAMBDA) {
		return p.parseLambda()
	}
	return p.parseIntersection()
}

func (p *Parser) parseLambda() typesystem.Tag {
	p.nextToken() // consume λ
	var params []typesystem.LambdaParameter
	if !p.curTokenIs(ARROW) {
		for {
			if !p.curTokenIs(IDENT) {
				p.errorf(p.curToken, "expected lambda parameter, got %s", describe(p.curToken))
				return nil
			}
			params = append(params, typesystem.LambdaParameter{Name: p.curToken.Literal})
			p.nextToken()
			if p.curTokenIs(COMMA) {
				p.nextToken()
				continue
			}
			break
		}
	}
	if !p.curTokenIs(ARROW) {
		p.errorf(p.curToken, "expected → after lambda parameters, got %s", describe(p.curToken))
		return nil
	}
	p.nextToken() // consume →
	body := p.parseTag()
	if !p.ok() {
		return nil
	}
	return typesystem.Lambda{Params: params, Body: body}
}

func (p *Parser) parseIntersection() typesystem.Tag {
	first := p.parseRefined()
	if !p.ok() || !p.peekTokenIs(AMP) {
		return first
	}
	var members []typesystem.AppliedNamedReference
	add := func(t typesystem.Tag) bool {
		switch m := t.(type) {
		case typesystem.IntersectionReference:
			members = append(members, m.Members...)
		case typesystem.AppliedNamedReference:
			members = append(members, m)
		default:
			p.errorf(p.curToken, "intersection member %s is not a named reference", t)
			return false
		}
		return true
	}
	if !add(first) {
		return nil
	}
	for p.peekTokenIs(AMP) {
		p.nextToken() // consume &
		p.nextToken()
		m := p.parseRefined()
		if !p.ok() || !add(m) {
			return nil
		}
	}
	return typesystem.IntersectionReference{Members: members}
}

func (p *Parser) parseRefined() typesystem.Tag {
	t := p.parsePrimary()
	for p.ok() && p.peekTokenIs(LBRACE) {
		base, ok := t.(typesystem.AppliedReference)
		if !ok {
			p.errorf(p.peekToken, "cannot refine %s", t)
			return nil
		}
		p.nextToken() // cur is {
		decls := p.parseDecls()
		if !p.ok() {
			return nil
		}
		t = typesystem.Refinement{Base: base, Decls: decls}
	}
	return t
}

func (p *Parser) parseDecls() []typesystem.RefinementDecl {
	decls := []typesystem.RefinementDecl{}
	p.nextToken() // consume {
	if p.curTokenIs(RBRACE) {
		return decls
	}
	for {
		d := p.parseDecl()
		if !p.ok() {
			return nil
		}
		decls = append(decls, d)
		p.nextToken()
		switch {
		case p.curTokenIs(SEMI):
			p.nextToken()
			if p.curTokenIs(RBRACE) {
				return decls
			}
		case p.curTokenIs(RBRACE):
			return decls
		default:
			p.errorf(p.curToken, "expected ; or }, got %s", describe(p.curToken))
			return nil
		}
	}
}

func (p *Parser) parseDecl() typesystem.RefinementDecl {
	if !p.curTokenIs(IDENT) || (p.curToken.Literal != "def" && p.curToken.Literal != "type") {
		p.errorf(p.curToken, "expected def or type, got %s", describe(p.curToken))
		return nil
	}
	keyword := p.curToken.Literal
	if !p.expectPeek(IDENT) {
		return nil
	}
	name := p.curToken.Literal

	if keyword == "type" {
		if !p.expectPeek(COLON) {
			return nil
		}
		p.nextToken()
		bound := p.parseTag()
		if !p.ok() {
			return nil
		}
		return typesystem.TypeMember{Name: name, Bound: bound}
	}

	if !p.expectPeek(LPAREN) {
		return nil
	}
	var inputs []typesystem.Tag
	if p.peekTokenIs(RPAREN) {
		p.nextToken()
	} else {
		for {
			p.nextToken()
			in := p.parseTag()
			if !p.ok() {
				return nil
			}
			inputs = append(inputs, in)
			if p.peekTokenIs(COMMA) {
				p.nextToken()
				continue
			}
			if !p.expectPeek(RPAREN) {
				return nil
			}
			break
		}
	}
	if !p.expectPeek(COLON) {
		return nil
	}
	p.nextToken()
	out := p.parseTag()
	if !p.ok() {
		return nil
	}
	return typesystem.Signature{Name: name, Inputs: inputs, Output: out}
}

func (p *Parser) parsePrimary() typesystem.Tag {
	var t typesystem.Tag
	switch p.curToken.Type {
	case LPAREN:
		p.nextToken() // consume (
		t = p.parseTag()
		if !p.ok() || !p.expectPeek(RPAREN) {
			return nil
		}
	case IDENT:
		t = p.parseNamed(nil)
	default:
		p.errorf(p.curToken, "unexpected %s", describe(p.curToken))
		return nil
	}

	for p.ok() && p.peekTokenIs(SCOPE) {
		prefix, ok := t.(typesystem.AppliedReference)
		if !ok {
			p.errorf(p.peekToken, "%s cannot qualify a type", t)
			return nil
		}
		p.nextToken() // cur is ::
		if !p.expectPeek(IDENT) {
			return nil
		}
		t = p.parseNamed(prefix)
	}
	if !p.ok() {
		return nil
	}
	return t
}

func (p *Parser) parseNamed(prefix typesystem.AppliedReference) typesystem.Tag {
	name := p.curToken.Literal
	if p.peekTokenIs(LBRACKET) {
		p.nextToken() // cur is [
		params := p.parseParams()
		if !p.ok() {
			return nil
		}
		return typesystem.FullReference{Name: name, Params: params, Prefix: prefix}
	}

	ref := typesystem.NameReference{Name: name, Prefix: prefix}
	if p.peekTokenIs(BOUNDS) {
		p.nextToken() // cur is |<
		p.nextToken()
		bottom := p.parseTag()
		if !p.ok() || !p.expectPeek(DOTDOT) {
			return nil
		}
		p.nextToken()
		top := p.parseTag()
		if !p.ok() || !p.expectPeek(GT) {
			return nil
		}
		ref.Bounds = typesystem.Defined(bottom, top)
	}
	return ref
}

func (p *Parser) parseParams() []typesystem.TypeParam {
	params := []typesystem.TypeParam{}
	if p.peekTokenIs(RBRACKET) {
		p.nextToken()
		return params
	}
	for {
		p.nextToken()
		variance := typesystem.Invariant
		switch p.curToken.Type {
		case PLUS:
			variance = typesystem.Covariant
			p.nextToken()
		case MINUS:
			variance = typesystem.Contravariant
			p.nextToken()
		}
		arg := p.parseTag()
		if !p.ok() {
			return nil
		}
		params = append(params, typesystem.TypeParam{Arg: arg, Variance: variance})
		if p.peekTokenIs(COMMA) {
			p.nextToken()
			continue
		}
		if !p.expectPeek(RBRACKET) {
			return nil
		}
		return params
	}
}
