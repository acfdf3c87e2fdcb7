package cypher

import (
	"fmt"
	"strconv"
)

// Parser converts a token stream into an AST. Parameter references ($name)
// are substituted from the params map at parse time, so values never reach
// the evaluator by concatenation.
type Parser struct {
	tokens []Token
	pos    int
	params map[string]string
}

// Parse tokenizes and parses a Cypher query string into an AST.
func Parse(input string, params map[string]string) (*Query, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, fmt.Errorf("lex: %w", err)
	}
	p := &Parser{tokens: tokens, params: params}
	return p.parseQuery()
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	t := p.peek()
	p.pos++
	return t
}

func (p *Parser) expect(typ TokenType) (Token, error) {
	t := p.advance()
	if t.Type != typ {
		return t, fmt.Errorf("expected token %d, got %d (%q) at pos %d", typ, t.Type, t.Value, t.Pos)
	}
	return t, nil
}

// resolveParam looks up a parameter reference.
func (p *Parser) resolveParam(tok Token) (string, error) {
	if p.params == nil {
		return "", fmt.Errorf("unbound parameter $%s at pos %d", tok.Value, tok.Pos)
	}
	v, ok := p.params[tok.Value]
	if !ok {
		return "", fmt.Errorf("unbound parameter $%s at pos %d", tok.Value, tok.Pos)
	}
	return v, nil
}

func (p *Parser) parseQuery() (*Query, error) {
	q := &Query{}

	if p.peek().Type != TokMatch {
		return nil, fmt.Errorf("expected MATCH at pos %d, got %q", p.peek().Pos, p.peek().Value)
	}
	m, err := p.parseMatch()
	if err != nil {
		return nil, err
	}
	q.Match = m

	if p.peek().Type == TokWhere {
		w, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		q.Where = w
	}

	if p.peek().Type == TokReturn {
		r, err := p.parseReturn()
		if err != nil {
			return nil, err
		}
		q.Return = r
	}

	if p.peek().Type != TokEOF {
		return nil, fmt.Errorf("unexpected trailing input %q at pos %d", p.peek().Value, p.peek().Pos)
	}
	return q, nil
}

func (p *Parser) parseMatch() (*MatchClause, error) {
	if _, err := p.expect(TokMatch); err != nil {
		return nil, err
	}
	pat, err := p.parsePattern()
	if err != nil {
		return nil, fmt.Errorf("match pattern: %w", err)
	}
	return &MatchClause{Pattern: pat}, nil
}

func (p *Parser) parsePattern() (*Pattern, error) {
	pat := &Pattern{}

	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	pat.Elements = append(pat.Elements, node)

	for p.isRelStart() {
		rel, nextNode, err := p.parseRelAndNode()
		if err != nil {
			return nil, err
		}
		pat.Elements = append(pat.Elements, rel, nextNode)
	}

	return pat, nil
}

// isRelStart checks whether the next tokens begin a relationship pattern:
// -[...]-> or <-[...]- or -[...]-
func (p *Parser) isRelStart() bool {
	t := p.peek()
	return t.Type == TokDash || t.Type == TokLT
}

func (p *Parser) parseRelAndNode() (*RelPattern, *NodePattern, error) {
	rel := &RelPattern{MinHops: 1, MaxHops: 1}

	leadingArrow := false
	if p.peek().Type == TokLT {
		leadingArrow = true
		p.advance()
	}

	if _, err := p.expect(TokDash); err != nil {
		return nil, nil, fmt.Errorf("expected '-' in relationship: %w", err)
	}

	if p.peek().Type == TokLBracket {
		if err := p.parseRelBracket(rel); err != nil {
			return nil, nil, err
		}
	}

	if _, err := p.expect(TokDash); err != nil {
		return nil, nil, fmt.Errorf("expected '-' after relationship: %w", err)
	}

	trailingArrow := false
	if p.peek().Type == TokGT {
		trailingArrow = true
		p.advance()
	}

	switch {
	case !leadingArrow && trailingArrow:
		rel.Direction = "outbound"
	case leadingArrow && !trailingArrow:
		rel.Direction = "inbound"
	default:
		rel.Direction = "any"
	}

	node, err := p.parseNodePattern()
	if err != nil {
		return nil, nil, err
	}

	return rel, node, nil
}

func (p *Parser) parseRelBracket(rel *RelPattern) error {
	p.advance() // consume [

	if p.peek().Type == TokIdent {
		rel.Variable = p.advance().Value
	}

	if p.peek().Type == TokColon {
		p.advance()
		kinds, err := p.parseRelKinds()
		if err != nil {
			return err
		}
		rel.Kinds = kinds
	}

	if p.peek().Type == TokStar {
		p.advance()
		if err := p.parseHopRange(rel); err != nil {
			return err
		}
	}

	if _, err := p.expect(TokRBracket); err != nil {
		return fmt.Errorf("expected ']' to close relationship: %w", err)
	}

	return nil
}

func (p *Parser) parseRelKinds() ([]string, error) {
	var kinds []string
	t := p.advance()
	if t.Type != TokIdent {
		return nil, fmt.Errorf("expected relationship kind name, got %q at pos %d", t.Value, t.Pos)
	}
	kinds = append(kinds, t.Value)

	for p.peek().Type == TokPipe {
		p.advance()
		t = p.advance()
		if t.Type != TokIdent {
			return nil, fmt.Errorf("expected relationship kind after '|', got %q at pos %d", t.Value, t.Pos)
		}
		kinds = append(kinds, t.Value)
	}
	return kinds, nil
}

func (p *Parser) parseHopRange(rel *RelPattern) error {
	// *1..3, *..3, *1.., *3, or bare * (unbounded)
	if p.peek().Type == TokNumber {
		n, _ := strconv.Atoi(p.advance().Value)
		if p.peek().Type == TokDotDot {
			rel.MinHops = n
			p.advance()
			if p.peek().Type == TokNumber {
				m, _ := strconv.Atoi(p.advance().Value)
				rel.MaxHops = m
			} else {
				rel.MaxHops = 0
			}
		} else {
			rel.MinHops = 1
			rel.MaxHops = n
		}
	} else if p.peek().Type == TokDotDot {
		p.advance()
		rel.MinHops = 1
		if p.peek().Type == TokNumber {
			m, _ := strconv.Atoi(p.advance().Value)
			rel.MaxHops = m
		} else {
			rel.MaxHops = 0
		}
	} else {
		rel.MinHops = 1
		rel.MaxHops = 0
	}

	return nil
}

func (p *Parser) parseNodePattern() (*NodePattern, error) {
	if _, err := p.expect(TokLParen); err != nil {
		return nil, fmt.Errorf("expected '(' for node pattern: %w", err)
	}

	node := &NodePattern{}

	if p.peek().Type == TokIdent {
		node.Variable = p.advance().Value
	}

	if p.peek().Type == TokColon {
		p.advance()
		t := p.advance()
		if t.Type != TokIdent {
			return nil, fmt.Errorf("expected kind label after ':', got %q at pos %d", t.Value, t.Pos)
		}
		node.Kind = t.Value
	}

	if p.peek().Type == TokLBrace {
		props, err := p.parseInlineProps()
		if err != nil {
			return nil, err
		}
		node.Props = props
	}

	if _, err := p.expect(TokRParen); err != nil {
		return nil, fmt.Errorf("expected ')' to close node pattern: %w", err)
	}

	return node, nil
}

func (p *Parser) parseInlineProps() (map[string]string, error) {
	p.advance() // consume {
	props := make(map[string]string)

	for p.peek().Type != TokRBrace {
		if len(props) > 0 {
			if _, err := p.expect(TokComma); err != nil {
				return nil, fmt.Errorf("expected ',' between properties: %w", err)
			}
		}

		keyTok := p.advance()
		if keyTok.Type != TokIdent {
			return nil, fmt.Errorf("expected property key, got %q at pos %d", keyTok.Value, keyTok.Pos)
		}

		if _, err := p.expect(TokColon); err != nil {
			return nil, fmt.Errorf("expected ':' after property key: %w", err)
		}

		valTok := p.advance()
		switch valTok.Type {
		case TokString, TokNumber:
			props[keyTok.Value] = valTok.Value
		case TokParam:
			v, err := p.resolveParam(valTok)
			if err != nil {
				return nil, err
			}
			props[keyTok.Value] = v
		default:
			return nil, fmt.Errorf("expected value for property %q, got %q at pos %d", keyTok.Value, valTok.Value, valTok.Pos)
		}
	}

	p.advance() // consume }
	return props, nil
}

func (p *Parser) parseWhere() (*WhereClause, error) {
	p.advance() // consume WHERE
	w := &WhereClause{Operator: "AND"}

	cond, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	w.Conditions = append(w.Conditions, cond)

	for p.peek().Type == TokAnd || p.peek().Type == TokOr {
		op := p.advance()
		if op.Type == TokOr {
			w.Operator = "OR"
		}
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		w.Conditions = append(w.Conditions, cond)
	}

	return w, nil
}

func (p *Parser) parseCondition() (Condition, error) {
	c := Condition{}

	varTok := p.advance()
	if varTok.Type != TokIdent {
		return c, fmt.Errorf("expected variable name in condition, got %q at pos %d", varTok.Value, varTok.Pos)
	}
	c.Variable = varTok.Value

	if _, err := p.expect(TokDot); err != nil {
		return c, fmt.Errorf("expected '.' after variable in condition: %w", err)
	}

	propTok := p.advance()
	if propTok.Type != TokIdent {
		return c, fmt.Errorf("expected property name in condition, got %q at pos %d", propTok.Value, propTok.Pos)
	}
	c.Property = propTok.Value

	op := p.peek()
	switch op.Type {
	case TokEQ:
		c.Operator = "="
		p.advance()
	case TokRegex:
		c.Operator = "=~"
		p.advance()
	case TokGT:
		c.Operator = ">"
		p.advance()
	case TokLT:
		c.Operator = "<"
		p.advance()
	case TokGTE:
		c.Operator = ">="
		p.advance()
	case TokLTE:
		c.Operator = "<="
		p.advance()
	case TokContains:
		c.Operator = "CONTAINS"
		p.advance()
	case TokStarts:
		p.advance()
		if p.peek().Type != TokWith {
			return c, fmt.Errorf("expected WITH after STARTS at pos %d", p.peek().Pos)
		}
		p.advance()
		c.Operator = "STARTS WITH"
	default:
		return c, fmt.Errorf("expected comparison operator, got %q at pos %d", op.Value, op.Pos)
	}

	valTok := p.advance()
	switch valTok.Type {
	case TokString, TokNumber:
		c.Value = valTok.Value
	case TokParam:
		v, err := p.resolveParam(valTok)
		if err != nil {
			return c, err
		}
		c.Value = v
	default:
		return c, fmt.Errorf("expected value in condition, got %q at pos %d", valTok.Value, valTok.Pos)
	}

	return c, nil
}

func (p *Parser) parseReturn() (*ReturnClause, error) {
	p.advance() // consume RETURN
	r := &ReturnClause{OrderDir: "ASC"}

	if p.peek().Type == TokDistinct {
		r.Distinct = true
		p.advance()
	}

	item, err := p.parseReturnItem()
	if err != nil {
		return nil, err
	}
	r.Items = append(r.Items, item)

	for p.peek().Type == TokComma {
		p.advance()
		item, err := p.parseReturnItem()
		if err != nil {
			return nil, err
		}
		r.Items = append(r.Items, item)
	}

	if p.peek().Type == TokOrder {
		p.advance()
		if _, err := p.expect(TokBy); err != nil {
			return nil, fmt.Errorf("expected BY after ORDER: %w", err)
		}
		orderTok := p.advance()
		if orderTok.Type != TokIdent {
			return nil, fmt.Errorf("expected field name for ORDER BY, got %q", orderTok.Value)
		}
		orderField := orderTok.Value
		if p.peek().Type == TokDot {
			p.advance()
			propTok := p.advance()
			orderField = orderField + "." + propTok.Value
		}
		r.OrderBy = orderField

		if p.peek().Type == TokAsc {
			r.OrderDir = "ASC"
			p.advance()
		} else if p.peek().Type == TokDesc {
			r.OrderDir = "DESC"
			p.advance()
		}
	}

	if p.peek().Type == TokLimit {
		p.advance()
		numTok := p.advance()
		if numTok.Type != TokNumber {
			return nil, fmt.Errorf("expected number after LIMIT, got %q", numTok.Value)
		}
		n, _ := strconv.Atoi(numTok.Value)
		r.Limit = n
	}

	return r, nil
}

func (p *Parser) parseReturnItem() (ReturnItem, error) {
	item := ReturnItem{}

	if p.peek().Type == TokCount {
		p.advance()
		item.Func = "COUNT"
		if _, err := p.expect(TokLParen); err != nil {
			return item, fmt.Errorf("expected '(' after COUNT: %w", err)
		}
		varTok := p.advance()
		if varTok.Type != TokIdent {
			return item, fmt.Errorf("expected variable in COUNT(), got %q", varTok.Value)
		}
		item.Variable = varTok.Value
		if _, err := p.expect(TokRParen); err != nil {
			return item, fmt.Errorf("expected ')' after COUNT variable: %w", err)
		}
	} else {
		varTok := p.advance()
		if varTok.Type != TokIdent {
			return item, fmt.Errorf("expected variable in RETURN item, got %q at pos %d", varTok.Value, varTok.Pos)
		}
		item.Variable = varTok.Value

		if p.peek().Type == TokDot {
			p.advance()
			propTok := p.advance()
			if propTok.Type != TokIdent {
				return item, fmt.Errorf("expected property after '.', got %q", propTok.Value)
			}
			item.Property = propTok.Value
		}
	}

	if p.peek().Type == TokAs {
		p.advance()
		aliasTok := p.advance()
		if aliasTok.Type != TokIdent {
			return item, fmt.Errorf("expected alias after AS, got %q", aliasTok.Value)
		}
		item.Alias = aliasTok.Value
	}

	return item, nil
}
