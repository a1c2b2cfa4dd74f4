package tagparser

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

type TokenType int

const (
	ILLEGAL TokenType = iota
	EOF
	IDENT
	LAMBDA   // λ or \
	ARROW    // → or ->
	COMMA    // ,
	LBRACKET // [
	RBRACKET // ]
	LPAREN   // (
	RPAREN   // )
	LBRACE   // {
	RBRACE   // }
	AMP      // &
	PLUS     // +
	MINUS    // -
	COLON    // :
	SCOPE    // ::
	SEMI     // ;
	BOUNDS   // |<
	DOTDOT   // ..
	GT       // >
)

var tokenNames = map[TokenType]string{
	ILLEGAL: "ILLEGAL", EOF: "EOF", IDENT: "identifier", LAMBDA: "λ", ARROW: "→",
	COMMA: ",", LBRACKET: "[", RBRACKET: "]", LPAREN: "(", RPAREN: ")",
	LBRACE: "{", RBRACE: "}", AMP: "&", PLUS: "+", MINUS: "-", COLON: ":",
	SCOPE: "::", SEMI: ";", BOUNDS: "|<", DOTDOT: "..", GT: ">",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

type Token struct {
	Type    TokenType
	Literal string
	Column  int
}

type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           rune // current char under examination
	column       int
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	l.position = l.readPosition
	if l.readPosition >= len(l.input) {
		l.ch = 0
		l.readPosition++
	} else {
		r, w := utf8.DecodeRuneInString(l.input[l.readPosition:])
		l.ch = r
		l.readPosition += w
	}
	l.column++
}

func (l *Lexer) peekChar() rune {
	if l.readPosition >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPosition:])
	return r
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	col := l.column
	single := func(t TokenType) Token {
		tok := Token{Type: t, Literal: string(l.ch), Column: col}
		l.readChar()
		return tok
	}
	double := func(t TokenType) Token {
		lit := string(l.ch) + string(l.peekChar())
		l.readChar()
		l.readChar()
		return Token{Type: t, Literal: lit, Column: col}
	}

	switch l.ch {
	case 0:
		return Token{Type: EOF, Column: col}
	case '→':
		return single(ARROW)
	case '\\':
		return single(LAMBDA)
	case 'λ':
		if !isIdentChar(l.peekChar()) {
			return single(LAMBDA)
		}
	case '-':
		if l.peekChar() == '>' {
			return double(ARROW)
		}
		return single(MINUS)
	case ',':
		return single(COMMA)
	case '[':
		return single(LBRACKET)
	case ']':
		return single(RBRACKET)
	case '(':
		return single(LPAREN)
	case ')':
		return single(RPAREN)
	case '{':
		return single(LBRACE)
	case '}':
		return single(RBRACE)
	case '&':
		return single(AMP)
	case '+':
		return single(PLUS)
	case ';':
		return single(SEMI)
	case '>':
		return single(GT)
	case ':':
		if l.peekChar() == ':' {
			return double(SCOPE)
		}
		return single(COLON)
	case '|':
		if l.peekChar() == '<' {
			return double(BOUNDS)
		}
		return single(ILLEGAL)
	case '.':
		if l.peekChar() == '.' {
			return double(DOTDOT)
		}
		return single(ILLEGAL)
	}

	if isIdentStart(l.ch) {
		return Token{Type: IDENT, Literal: l.readIdentifier(), Column: col}
	}
	return single(ILLEGAL)
}

func isIdentStart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '$' || ch == '%'
}

func isIdentChar(ch rune) bool {
	return isIdentStart(ch)
}

// readIdentifier consumes a qualified name. Dots, slashes and hyphens are
// part of the name only between identifier characters, so "a.b/c-d.E" is
// one name while "A..B" splits at the range marker.
func (l *Lexer) readIdentifier() string {
	start := l.position
	for {
		switch {
		case isIdentChar(l.ch):
			l.readChar()
		case (l.ch == '.' || l.ch == '/' || l.ch == '-') && isIdentChar(l.peekChar()):
			l.readChar()
		default:
			return l.input[start:l.position]
		}
	}
}
