package algebra

import (
	"fmt"
	"strconv"
)

type tokenKind uint8

const (
	tokenNumber tokenKind = iota
	tokenIdent
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenCaret
	tokenLParen
	tokenRParen
	tokenEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits a formula into tokens. Only the operators the index catalog
// emits are recognized.
func lex(formula string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(formula) {
		c := formula[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(formula) && (formula[i] >= '0' && formula[i] <= '9' || formula[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: formula[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < len(formula) && isIdentPart(formula[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: formula[start:i], pos: start})
		default:
			kind, ok := operatorKinds[c]
			if !ok {
				return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			tokens = append(tokens, token{kind: kind, text: string(c), pos: i})
			i++
		}
	}
	return append(tokens, token{kind: tokenEOF, pos: len(formula)}), nil
}

var operatorKinds = map[byte]tokenKind{
	'+': tokenPlus,
	'-': tokenMinus,
	'*': tokenStar,
	'/': tokenSlash,
	'^': tokenCaret,
	'(': tokenLParen,
	')': tokenRParen,
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

type parser struct {
	tokens   []token
	pos      int
	mapping  map[string]int
	maxBands int
}

// parse compiles a formula into an evaluation tree. Band symbols are resolved
// through mapping and checked against the input's band count up front, so the
// per-pixel walk never fails.
func parse(formula string, mapping map[string]int, bandCount int) (node, error) {
	tokens, err := lex(formula)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, mapping: mapping, maxBands: bandCount}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", tok.text, tok.pos)
	}
	return root, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

// parseExpr handles + and -, the lowest precedence, left associative.
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokenPlus, tokenMinus:
			op := p.next().kind
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

// parseTerm handles * and /.
func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokenStar, tokenSlash:
			op := p.next().kind
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

// parseUnary handles a leading minus, which binds looser than power so that
// -x^2 means -(x^2).
func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokenMinus {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negateNode{operand: operand}, nil
	}
	return p.parsePower()
}

// parsePower handles ^, right associative.
func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokenCaret {
		p.next()
		exponent, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: tokenCaret, left: base, right: exponent}, nil
	}
	return base, nil
}

// parsePrimary handles numbers, band symbols and parenthesized expressions.
func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokenNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", tok.text, tok.pos)
		}
		return numberNode{value: value}, nil
	case tokenIdent:
		band, ok := p.mapping[tok.text]
		if !ok {
			return nil, fmt.Errorf("unknown band symbol %q at offset %d", tok.text, tok.pos)
		}
		if band < 1 || band > p.maxBands {
			return nil, fmt.Errorf("band symbol %q maps to band %d, input raster has %d bands", tok.text, band, p.maxBands)
		}
		return bandNode{band: band - 1}, nil
	case tokenLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, fmt.Errorf("missing closing parenthesis at offset %d", closing.pos)
		}
		return inner, nil
	case tokenEOF:
		return nil, fmt.Errorf("formula ends unexpectedly at offset %d", tok.pos)
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", tok.text, tok.pos)
	}
}
